// Package file provides file-based persistence for workflow definitions and executions,
// intended for development and tests.
package file

import (
	"context"
	"os"
	"strings"
	"sync"

	"github.com/dukex/crmflow/pkg/persistence"
)

// Persistence implements the persistence.Persistence interface using the file system.
//
// Layout: <root>/definitions/<id>.json and <root>/executions/<id>.json. Writes are
// serialized within the process; the store is not meant to be shared between processes.
type Persistence struct {
	root           string
	mu             *sync.Mutex
	definitionRepo *DefinitionRepository
	executionRepo  *ExecutionRepository
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)
	mu := &sync.Mutex{}

	return &Persistence{
		root:           cleanRoot,
		mu:             mu,
		definitionRepo: &DefinitionRepository{root: cleanRoot, mu: mu},
		executionRepo:  &ExecutionRepository{root: cleanRoot, mu: mu},
	}
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) DefinitionRepository() persistence.DefinitionRepository {
	return fp.definitionRepo
}

func (fp *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return fp.executionRepo
}

// Definitions exposes the concrete definition repository, which also supports writes.
func (fp *Persistence) Definitions() *DefinitionRepository {
	return fp.definitionRepo
}
