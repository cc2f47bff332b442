package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
)

// DefinitionRepository handles workflow definition file operations.
type DefinitionRepository struct {
	root string
	mu   *sync.Mutex
}

func (dr *DefinitionRepository) dir() string {
	return filepath.Join(dr.root, "definitions")
}

// SaveDefinition writes a definition file. Definitions are normally authored outside the
// engine; this exists for seeding and tests.
func (dr *DefinitionRepository) SaveDefinition(_ context.Context, definition *models.WorkflowDefinition) error {
	err := validateID(definition.ID)
	if err != nil {
		return err
	}

	dr.mu.Lock()
	defer dr.mu.Unlock()

	return dr.write(definition)
}

func (dr *DefinitionRepository) write(definition *models.WorkflowDefinition) error {
	err := os.MkdirAll(dr.dir(), 0750)
	if err != nil {
		return fmt.Errorf("failed to create definitions directory: %w", err)
	}

	for i := range definition.Steps {
		definition.Steps[i].WorkflowID = definition.ID
	}

	data, err := json.MarshalIndent(definition, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal definition %s: %w", definition.ID, err)
	}

	err = os.WriteFile(filepath.Join(dr.dir(), definition.ID+".json"), data, 0600)
	if err != nil {
		return fmt.Errorf("failed to write definition %s: %w", definition.ID, err)
	}

	return nil
}

func (dr *DefinitionRepository) DefinitionByID(_ context.Context, id string) (*models.WorkflowDefinition, error) {
	err := validateID(id)
	if err != nil {
		return nil, err
	}

	return dr.read(id)
}

func (dr *DefinitionRepository) read(id string) (*models.WorkflowDefinition, error) {
	data, err := os.ReadFile(filepath.Join(dr.dir(), id+".json"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, persistence.NewDefinitionError("DefinitionByID", id, persistence.ErrDefinitionNotFound)
		}

		return nil, fmt.Errorf("failed to read definition %s: %w", id, err)
	}

	var definition models.WorkflowDefinition

	err = json.Unmarshal(data, &definition)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal definition %s: %w", id, err)
	}

	if definition.DeletedAt != nil {
		return nil, persistence.NewDefinitionError("DefinitionByID", id, persistence.ErrDefinitionNotFound)
	}

	return &definition, nil
}

func (dr *DefinitionRepository) all() ([]*models.WorkflowDefinition, error) {
	files, err := fs.Glob(os.DirFS(dr.dir()), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list definition files: %w", err)
	}

	definitions := make([]*models.WorkflowDefinition, 0, len(files))

	for _, name := range files {
		definition, err := dr.read(strings.TrimSuffix(name, ".json"))
		if err != nil {
			if persistence.IsDefinitionNotFound(err) {
				continue
			}

			return nil, err
		}

		definitions = append(definitions, definition)
	}

	return definitions, nil
}

func (dr *DefinitionRepository) ActiveDefinitions(_ context.Context, tenantID, entityType string, triggerType models.TriggerType) ([]*models.WorkflowDefinition, error) {
	definitions, err := dr.all()
	if err != nil {
		return nil, err
	}

	matching := make([]*models.WorkflowDefinition, 0)

	for _, definition := range definitions {
		if definition.Active &&
			definition.TenantID == tenantID &&
			definition.EntityType == entityType &&
			definition.TriggerType == triggerType {
			matching = append(matching, definition)
		}
	}

	return matching, nil
}

func (dr *DefinitionRepository) ScheduledDefinitions(_ context.Context) ([]*models.WorkflowDefinition, error) {
	definitions, err := dr.all()
	if err != nil {
		return nil, err
	}

	scheduled := make([]*models.WorkflowDefinition, 0)

	for _, definition := range definitions {
		if definition.Active && definition.TriggerType == models.TriggerScheduled {
			scheduled = append(scheduled, definition)
		}
	}

	return scheduled, nil
}

func (dr *DefinitionRepository) RecordExecution(_ context.Context, definition *models.WorkflowDefinition, at time.Time) error {
	dr.mu.Lock()
	defer dr.mu.Unlock()

	stored, err := dr.read(definition.ID)
	if err != nil {
		return err
	}

	if stored.Version != definition.Version {
		return persistence.NewDefinitionError("RecordExecution", definition.ID, persistence.ErrVersionConflict)
	}

	executedAt := at.UTC()
	stored.ExecutionCount++
	stored.LastExecutedAt = &executedAt
	stored.Version++

	err = dr.write(stored)
	if err != nil {
		return err
	}

	definition.ExecutionCount = stored.ExecutionCount
	definition.LastExecutedAt = stored.LastExecutedAt
	definition.Version = stored.Version

	return nil
}

// validateID validates that an identifier is safe for file operations.
func validateID(id string) error {
	if id == "" {
		return errors.New("identifier cannot be empty")
	}

	if strings.Contains(id, "..") || strings.ContainsAny(id, `/\`) {
		return errors.New("identifier contains invalid characters")
	}

	return nil
}
