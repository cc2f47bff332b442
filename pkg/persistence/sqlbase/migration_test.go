package sqlbase

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMigrationManager_PendingVersions(t *testing.T) {
	manager := NewMigrationManager(slog.Default(), nil, map[int]string{
		3:  "SELECT 3",
		1:  "SELECT 1",
		2:  "SELECT 2",
		10: "SELECT 10",
	})

	assert.Equal(t, []int{1, 2, 3, 10}, manager.PendingVersions(0))
	assert.Equal(t, []int{3, 10}, manager.PendingVersions(2))
	assert.Empty(t, manager.PendingVersions(10))
	assert.Equal(t, 10, manager.LatestVersion())
}

func TestMigrationManager_LatestVersionEmpty(t *testing.T) {
	manager := NewMigrationManager(slog.Default(), nil, nil)

	assert.Equal(t, 0, manager.LatestVersion())
	assert.Empty(t, manager.PendingVersions(0))
}
