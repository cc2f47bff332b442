// Package actions is the capability registry the orchestrator invokes step actions through.
// Each action type owns a JSON schema its configuration is validated against before the
// action is built.
package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

var (
	// ErrActionNotRegistered is returned for an action type with no factory.
	ErrActionNotRegistered = errors.New("action type not registered")
	// ErrInvalidConfig is returned when a step configuration does not satisfy its schema.
	ErrInvalidConfig = errors.New("invalid action configuration")
)

// Executor is the outbound action capability. Invocation is at-least-once, so
// implementations de-duplicate on invocation.IdempotencyKey or are naturally idempotent.
type Executor interface {
	Execute(ctx context.Context, invocation models.ActionInvocation) (*models.ActionResult, error)
}

// Action performs one configured effect.
type Action interface {
	Execute(ctx context.Context, invocation models.ActionInvocation) (*models.ActionResult, error)
}

// Factory builds actions of one type.
type Factory interface {
	Type() models.ActionType
	Name() string
	Description() string
	Schema() map[string]any
	Create(config map[string]any) (Action, error)
}

// Descriptor describes a registered action type.
type Descriptor struct {
	Type        models.ActionType `json:"type"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Schema      map[string]any    `json:"schema"`
}

type entry struct {
	factory Factory
	schema  *gojsonschema.Schema
}

// Registry resolves action types to factories. It implements Executor.
type Registry struct {
	logger  *slog.Logger
	mu      sync.RWMutex
	entries map[models.ActionType]entry
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:  logger.With("module", "action_registry"),
		entries: make(map[models.ActionType]entry),
	}
}

// Register adds factory, replacing any factory of the same type. It fails if the
// factory's schema does not compile.
func (r *Registry) Register(factory Factory) error {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(factory.Schema()))
	if err != nil {
		return fmt.Errorf("invalid schema for action %s: %w", factory.Type(), err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[factory.Type()] = entry{factory: factory, schema: schema}

	return nil
}

// Descriptors lists the registered action types sorted by type.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	descriptors := make([]Descriptor, 0, len(r.entries))
	for _, e := range r.entries {
		descriptors = append(descriptors, Descriptor{
			Type:        e.factory.Type(),
			Name:        e.factory.Name(),
			Description: e.factory.Description(),
			Schema:      e.factory.Schema(),
		})
	}

	slices.SortFunc(descriptors, func(a, b Descriptor) int {
		return strings.Compare(string(a.Type), string(b.Type))
	})

	return descriptors
}

// Validate checks config against the schema of actionType.
func (r *Registry) Validate(actionType models.ActionType, config map[string]any) error {
	e, err := r.lookup(actionType)
	if err != nil {
		return err
	}

	return validate(e.schema, actionType, config)
}

// Execute validates the invocation's configuration, builds the action and runs it.
// Configuration and lookup problems are returned as errors; the action's own
// failure is either an error or an unsuccessful result.
func (r *Registry) Execute(ctx context.Context, invocation models.ActionInvocation) (*models.ActionResult, error) {
	e, err := r.lookup(invocation.ActionType)
	if err != nil {
		return nil, err
	}

	err = validate(e.schema, invocation.ActionType, invocation.Config)
	if err != nil {
		return nil, err
	}

	action, err := e.factory.Create(invocation.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to create action %s: %w", invocation.ActionType, err)
	}

	r.logger.DebugContext(ctx, "Executing action",
		"action_type", invocation.ActionType,
		"execution_id", invocation.ExecutionID,
		"step_id", invocation.StepID,
		"attempt", invocation.Attempt)

	return action.Execute(ctx, invocation)
}

func (r *Registry) lookup(actionType models.ActionType) (entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[actionType]
	if !ok {
		return entry{}, fmt.Errorf("action type '%s': %w", actionType, ErrActionNotRegistered)
	}

	return e, nil
}

func validate(schema *gojsonschema.Schema, actionType models.ActionType, config map[string]any) error {
	if config == nil {
		config = map[string]any{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(config))
	if err != nil {
		return fmt.Errorf("failed to validate %s configuration: %w", actionType, err)
	}

	if !result.Valid() {
		messages := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			messages = append(messages, desc.String())
		}

		return fmt.Errorf("%w for %s: %s", ErrInvalidConfig, actionType, strings.Join(messages, "; "))
	}

	return nil
}
