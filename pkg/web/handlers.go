// Package web provides the HTTP API for ingesting entity events, running manual
// workflows and reading the execution audit trail.
package web

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/dukex/crmflow/pkg/actions"
	"github.com/dukex/crmflow/pkg/eventbus"
	"github.com/dukex/crmflow/pkg/events"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *actions.Registry
	publisher   eventbus.EventPublisher
	validator   *validator.Validate
	now         func() time.Time
}

func NewAPIHandlers(
	logger *slog.Logger,
	persistence persistence.Persistence,
	registry *actions.Registry,
	publisher eventbus.EventPublisher,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		logger:      logger.With("module", "api_handlers"),
		persistence: persistence,
		registry:    registry,
		publisher:   publisher,
		validator:   validator,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Register mounts every route on app.
func (h *APIHandlers) Register(app *fiber.App) {
	app.Post("/events", h.IngestEvent)
	app.Get("/actions", h.ListActions)
	app.Get("/health", h.HealthCheck)

	w := app.Group("/workflows")
	w.Post("/:id/run", h.RunWorkflow)
	w.Get("/:id/executions", h.WorkflowExecutions)

	e := app.Group("/executions")
	e.Get("/", h.ListExecutions)
	e.Get("/:id", h.GetExecution)
	e.Delete("/:id", h.DeleteExecution)

	app.Get("/entities/:type/:id/executions", h.EntityExecutions)
}

// IngestEvent accepts an entity event from the CRUD layer and publishes it for dispatch.
func (h *APIHandlers) IngestEvent(c fiber.Ctx) error {
	var event models.EntityEvent
	if err := c.Bind().JSON(&event); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = h.now()
	}

	if err := h.validator.Struct(event); err != nil {
		return badRequest(c, err.Error())
	}

	return h.publish(c, event)
}

// RunWorkflow triggers a manual workflow against one entity.
func (h *APIHandlers) RunWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var req RunWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	definition, err := h.persistence.DefinitionRepository().DefinitionByID(c.Context(), id)
	if err != nil {
		return handleStoreError(c, err)
	}

	if definition.TriggerType != models.TriggerManual {
		return conflict(c, "workflow is not manually triggered")
	}

	if !definition.Active {
		return conflict(c, "workflow is not active")
	}

	entityType := req.EntityType
	if entityType == "" {
		entityType = definition.EntityType
	}

	if entityType != definition.EntityType {
		return badRequest(c, "entity type does not match the workflow")
	}

	event := models.EntityEvent{
		TenantID:      definition.TenantID,
		EntityType:    entityType,
		EntityID:      req.EntityID,
		TriggerType:   models.TriggerManual,
		WorkflowID:    definition.ID,
		FieldSnapshot: req.FieldSnapshot,
		OccurredAt:    h.now(),
	}

	return h.publish(c, event)
}

func (h *APIHandlers) publish(c fiber.Ctx, event models.EntityEvent) error {
	changed := events.NewEntityChanged(event)

	err := h.publisher.Publish(c.Context(), event.EntityID, changed)
	if err != nil {
		h.logger.ErrorContext(c.Context(), "Failed to publish entity event",
			"event_id", changed.Event.ID,
			"tenant_id", event.TenantID,
			"error", err)

		return unavailable(c, err)
	}

	h.logger.InfoContext(c.Context(), "Accepted entity event",
		"event_id", changed.Event.ID,
		"tenant_id", event.TenantID,
		"entity_type", event.EntityType,
		"trigger_type", event.TriggerType)

	return c.Status(fiber.StatusAccepted).JSON(AcceptedResponse{EventID: changed.Event.ID, Status: "accepted"})
}

func (h *APIHandlers) ListExecutions(c fiber.Ctx) error {
	query := ListExecutionsQuery{
		TenantID: c.Query("tenant_id"),
		Status:   models.ExecutionStatus(c.Query("status")),
	}

	if err := h.validator.Struct(query); err != nil {
		return badRequest(c, err.Error())
	}

	executions, err := h.persistence.ExecutionRepository().ExecutionsByTenantStatus(c.Context(), query.TenantID, query.Status)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(newExecutionList(executions))
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	id := c.Params("id")

	executions := h.persistence.ExecutionRepository()

	execution, err := executions.ExecutionByID(c.Context(), id)
	if err != nil {
		return handleStoreError(c, err)
	}

	steps, err := executions.StepExecutions(c.Context(), id)
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.JSON(ExecutionDetail{WorkflowExecution: execution, Steps: steps})
}

// DeleteExecution soft deletes an execution; its audit rows stay in the store.
func (h *APIHandlers) DeleteExecution(c fiber.Ctx) error {
	err := h.persistence.ExecutionRepository().SoftDeleteExecution(c.Context(), c.Params("id"), h.now())
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) EntityExecutions(c fiber.Ctx) error {
	executions, err := h.persistence.ExecutionRepository().ExecutionsByEntity(c.Context(), c.Params("id"), c.Params("type"))
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(newExecutionList(executions))
}

func (h *APIHandlers) WorkflowExecutions(c fiber.Ctx) error {
	status := models.ExecutionStatus(c.Query("status"))
	if err := h.validator.Var(status, "required,oneof=pending running completed partially_completed failed"); err != nil {
		return badRequest(c, "Invalid status: "+err.Error())
	}

	executions, err := h.persistence.ExecutionRepository().ExecutionsByWorkflowStatus(c.Context(), c.Params("id"), status)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(newExecutionList(executions))
}

func (h *APIHandlers) ListActions(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"actions": h.registry.Descriptors()})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	message := "crmflow API is healthy"
	httpStatus := http.StatusOK
	repository := "ok"

	err := h.persistence.HealthCheck(c.Context())
	if err != nil {
		status = "unhealthy"
		message = "crmflow API is unhealthy"
		httpStatus = http.StatusServiceUnavailable
		repository = err.Error()
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repository,
			"actions":    len(h.registry.Descriptors()),
		},
		"timestamp": h.now(),
	})
}
