// Package trigger selects the workflow definitions an entity event starts.
package trigger

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/dukex/crmflow/pkg/conditions"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
)

// ErrTargetRequired is returned for manual and scheduled events without a workflow id.
var ErrTargetRequired = errors.New("trigger requires a target workflow id")

// Matcher reads definitions and evaluates their trigger conditions. It never writes.
type Matcher struct {
	definitions persistence.DefinitionRepository
	evaluator   *conditions.Evaluator
	logger      *slog.Logger
}

func NewMatcher(logger *slog.Logger, definitions persistence.DefinitionRepository, evaluator *conditions.Evaluator) *Matcher {
	return &Matcher{
		definitions: definitions,
		evaluator:   evaluator,
		logger:      logger.With("module", "trigger_matcher"),
	}
}

// Match returns the definitions event starts, ordered by execution order then id.
func (m *Matcher) Match(ctx context.Context, event models.EntityEvent) ([]*models.WorkflowDefinition, error) {
	candidates, err := m.candidates(ctx, event)
	if err != nil {
		return nil, err
	}

	matches := make([]*models.WorkflowDefinition, 0, len(candidates))

	for _, definition := range candidates {
		if !m.accepts(ctx, definition, event) {
			continue
		}

		matches = append(matches, definition)
	}

	slices.SortStableFunc(matches, func(a, b *models.WorkflowDefinition) int {
		if c := cmp.Compare(a.ExecutionOrder, b.ExecutionOrder); c != 0 {
			return c
		}

		return cmp.Compare(a.ID, b.ID)
	})

	m.logger.DebugContext(ctx, "Completed trigger matching",
		"tenant_id", event.TenantID,
		"entity_type", event.EntityType,
		"trigger_type", event.TriggerType,
		"candidates", len(candidates),
		"matches_found", len(matches))

	return matches, nil
}

func (m *Matcher) candidates(ctx context.Context, event models.EntityEvent) ([]*models.WorkflowDefinition, error) {
	if event.WorkflowID == "" {
		if event.TriggerType.Targeted() {
			return nil, fmt.Errorf("%s event for %s %s: %w", event.TriggerType, event.EntityType, event.EntityID, ErrTargetRequired)
		}

		definitions, err := m.definitions.ActiveDefinitions(ctx, event.TenantID, event.EntityType, event.TriggerType)
		if err != nil {
			return nil, fmt.Errorf("failed to load definitions: %w", err)
		}

		return definitions, nil
	}

	definition, err := m.definitions.DefinitionByID(ctx, event.WorkflowID)
	if err != nil {
		if persistence.IsDefinitionNotFound(err) {
			m.logger.WarnContext(ctx, "Targeted workflow not found", "workflow_id", event.WorkflowID)

			return nil, nil
		}

		return nil, fmt.Errorf("failed to load workflow %s: %w", event.WorkflowID, err)
	}

	return []*models.WorkflowDefinition{definition}, nil
}

// accepts re-checks the trigger key on every candidate so stores that over-select stay correct.
func (m *Matcher) accepts(ctx context.Context, definition *models.WorkflowDefinition, event models.EntityEvent) bool {
	if !definition.Active || definition.DeletedAt != nil {
		return false
	}

	if definition.TenantID != event.TenantID || definition.EntityType != event.EntityType {
		return false
	}

	// Only manual definitions can be run by hand.
	if definition.TriggerType != event.TriggerType {
		return false
	}

	if event.TriggerType == models.TriggerOnFieldChange && !definition.Watches(event.ChangedFields) {
		return false
	}

	return m.evaluator.Evaluate(ctx, definition.TriggerConditions, event.FieldSnapshot)
}
