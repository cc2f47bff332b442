package schedule

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dukex/crmflow/pkg/mocks"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	events []models.EntityEvent
	err    error
}

func (r *recorder) emit(_ context.Context, event models.EntityEvent) error {
	if r.err != nil {
		return r.err
	}

	r.events = append(r.events, event)

	return nil
}

func newPlanner(repo *mocks.MockDefinitionRepository, rec *recorder, now *time.Time) *Planner {
	planner := NewPlanner(slog.New(slog.NewTextHandler(io.Discard, nil)), repo, rec.emit)
	planner.now = func() time.Time { return *now }

	return planner
}

func hourly(id string) *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		ID:          id,
		TenantID:    "t1",
		EntityType:  "Deal",
		TriggerType: models.TriggerScheduled,
		Schedule:    "0 * * * *",
		Active:      true,
	}
}

func TestParse(t *testing.T) {
	_, err := Parse("*/15 9-17 * * 1-5")
	require.NoError(t, err)

	_, err = Parse("0 0 * * * *")
	assert.Error(t, err, "six-field expressions are rejected")

	_, err = Parse("whenever")
	assert.Error(t, err)
}

func TestPlanner_EmitsWhenDue(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 9, 30, 0, 0, time.UTC)

	repo := &mocks.MockDefinitionRepository{}
	repo.On("ScheduledDefinitions", mock.Anything).Return([]*models.WorkflowDefinition{hourly("wf-digest")}, nil)

	rec := &recorder{}
	planner := newPlanner(repo, rec, &now)

	emitted, err := planner.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, emitted, "first sight only plans")

	due, ok := planner.NextDue("wf-digest")
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC), due)

	now = now.Add(29 * time.Minute)
	emitted, err = planner.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, emitted)

	now = now.Add(2 * time.Minute)
	emitted, err = planner.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, emitted)

	require.Len(t, rec.events, 1)
	event := rec.events[0]
	assert.Equal(t, models.TriggerScheduled, event.TriggerType)
	assert.Equal(t, "wf-digest", event.WorkflowID)
	assert.Equal(t, "t1", event.TenantID)
	assert.Equal(t, "Deal", event.EntityType)
	assert.Equal(t, due, event.OccurredAt)
	assert.Equal(t, scheduledEvent(hourly("wf-digest"), due).ID, event.ID)

	due, _ = planner.NextDue("wf-digest")
	assert.Equal(t, time.Date(2026, 6, 1, 11, 0, 0, 0, time.UTC), due)
}

func TestPlanner_RetriesFailedEmit(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 9, 30, 0, 0, time.UTC)

	repo := &mocks.MockDefinitionRepository{}
	repo.On("ScheduledDefinitions", mock.Anything).Return([]*models.WorkflowDefinition{hourly("wf-digest")}, nil)

	rec := &recorder{}
	planner := newPlanner(repo, rec, &now)

	_, err := planner.Tick(ctx)
	require.NoError(t, err)

	now = now.Add(time.Hour)
	rec.err = errors.New("broker unavailable")

	emitted, err := planner.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, emitted)

	rec.err = nil

	emitted, err = planner.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, emitted)
	assert.Equal(t, time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC), rec.events[0].OccurredAt)
}

func TestPlanner_FollowsDefinitionChanges(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 9, 30, 0, 0, time.UTC)

	invalid := hourly("wf-broken")
	invalid.Schedule = "every day"

	repo := &mocks.MockDefinitionRepository{}
	repo.On("ScheduledDefinitions", mock.Anything).Return([]*models.WorkflowDefinition{hourly("wf-digest"), invalid}, nil).Once()

	planner := newPlanner(repo, &recorder{}, &now)

	_, err := planner.Tick(ctx)
	require.NoError(t, err)

	_, ok := planner.NextDue("wf-broken")
	assert.False(t, ok)

	daily := hourly("wf-digest")
	daily.Schedule = "0 8 * * *"
	repo.On("ScheduledDefinitions", mock.Anything).Return([]*models.WorkflowDefinition{daily}, nil).Once()

	_, err = planner.Tick(ctx)
	require.NoError(t, err)

	due, ok := planner.NextDue("wf-digest")
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 6, 2, 8, 0, 0, 0, time.UTC), due)

	repo.On("ScheduledDefinitions", mock.Anything).Return([]*models.WorkflowDefinition{}, nil).Once()

	_, err = planner.Tick(ctx)
	require.NoError(t, err)

	_, ok = planner.NextDue("wf-digest")
	assert.False(t, ok, "deactivated definitions are forgotten")
}

func TestPlanner_StoreError(t *testing.T) {
	now := time.Now()

	repo := &mocks.MockDefinitionRepository{}
	repo.On("ScheduledDefinitions", mock.Anything).Return(nil, errors.New("db down"))

	_, err := newPlanner(repo, &recorder{}, &now).Tick(context.Background())
	assert.Error(t, err)
}
