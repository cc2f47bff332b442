package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntityChanged_AssignsEventID(t *testing.T) {
	event := NewEntityChanged(models.EntityEvent{TenantID: "t1", EntityType: "Lead", EntityID: "lead-1"})

	assert.Equal(t, EntityChangedEvent, event.GetType())
	assert.Equal(t, "t1", event.TenantID)
	assert.Equal(t, event.ID, event.Event.ID)

	event = NewEntityChanged(models.EntityEvent{ID: "evt-1", TenantID: "t1"})
	assert.Equal(t, "evt-1", event.Event.ID)
	assert.NotEqual(t, "evt-1", event.ID)
}

func TestExecutionReady_JSONSerialization(t *testing.T) {
	original := NewExecutionReady(&models.WorkflowExecution{ID: "exec-1", WorkflowID: "wf-1", TenantID: "t1"}, 20)

	data, err := json.Marshal(original)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"execution.ready"`)
	assert.Contains(t, string(data), `"step_order":20`)

	var decoded ExecutionReady
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, original.ExecutionID, decoded.ExecutionID)
	assert.Equal(t, original.WorkflowID, decoded.WorkflowID)
	assert.Equal(t, 20, decoded.StepOrder)
}

func TestNewExecutionFinished(t *testing.T) {
	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	completed := started.Add(90 * time.Second)

	finished := NewExecutionFinished(&models.WorkflowExecution{
		ID:             "exec-1",
		WorkflowID:     "wf-1",
		TenantID:       "t1",
		EntityID:       "deal-7",
		EntityType:     "Deal",
		Status:         models.ExecutionPartiallyCompleted,
		TotalSteps:     3,
		CompletedSteps: 2,
		FailedSteps:    1,
		StartedAt:      &started,
		CompletedAt:    &completed,
	})

	assert.Equal(t, ExecutionFinishedEvent, finished.GetType())
	assert.Equal(t, models.ExecutionPartiallyCompleted, finished.Status)
	assert.Equal(t, 2, finished.CompletedSteps)
	assert.Equal(t, 1, finished.FailedSteps)
	assert.Equal(t, 90*time.Second, finished.Duration)
}
