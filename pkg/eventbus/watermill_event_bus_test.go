package eventbus

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/crmflow/pkg/channels/gochannel"
	"github.com/dukex/crmflow/pkg/events"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) *WatermillEventBus {
	t.Helper()

	pub, sub, err := gochannel.CreateChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := NewWatermillEventBus(slog.New(slog.NewTextHandler(io.Discard, nil)), pub, sub)
	t.Cleanup(func() { _ = bus.Close() })

	return bus
}

func TestWatermillEventBus_DeliversTypedEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newTestBus(t)
	received := make(chan *events.ExecutionReady, 1)

	require.NoError(t, bus.Handle(events.ExecutionReadyEvent, func(_ context.Context, event any) error {
		received <- event.(*events.ExecutionReady)

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	execution := &models.WorkflowExecution{ID: "exec-1", WorkflowID: "wf-1", TenantID: "t1"}
	require.NoError(t, bus.Publish(ctx, execution.ID, events.NewExecutionReady(execution, 10)))

	select {
	case ready := <-received:
		assert.Equal(t, "exec-1", ready.ExecutionID)
		assert.Equal(t, 10, ready.StepOrder)
		assert.Equal(t, "t1", ready.TenantID)
	case <-time.After(5 * time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestWatermillEventBus_RedeliversOnHandlerError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newTestBus(t)

	var calls atomic.Int32

	done := make(chan struct{})

	require.NoError(t, bus.Handle(events.EntityChangedEvent, func(_ context.Context, event any) error {
		if calls.Add(1) == 1 {
			return assert.AnError
		}

		close(done)

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	changed := events.NewEntityChanged(models.EntityEvent{TenantID: "t1", EntityType: "Lead", EntityID: "lead-1"})
	require.NoError(t, bus.Publish(ctx, "lead-1", changed))

	select {
	case <-done:
		assert.Equal(t, int32(2), calls.Load())
	case <-time.After(5 * time.Second):
		t.Fatal("event was not redelivered")
	}
}

func TestWatermillEventBus_SkipsUnhandledTypes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newTestBus(t)
	finished := make(chan struct{})

	require.NoError(t, bus.Handle(events.ExecutionFinishedEvent, func(context.Context, any) error {
		close(finished)

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	execution := &models.WorkflowExecution{ID: "exec-1", TenantID: "t1", Status: models.ExecutionCompleted}
	require.NoError(t, bus.Publish(ctx, execution.ID, events.NewExecutionReady(execution, 1)))
	require.NoError(t, bus.Publish(ctx, execution.ID, events.NewExecutionFinished(execution)))

	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("unhandled event blocked the subscription")
	}
}

func TestDecode(t *testing.T) {
	event, err := decode(events.ExecutionFinishedEvent, []byte(`{"execution_id":"exec-1","status":"failed"}`))
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionFailed, event.(*events.ExecutionFinished).Status)

	_, err = decode("mystery", []byte(`{}`))
	assert.ErrorIs(t, err, ErrUnknownEventType)

	_, err = decode(events.ExecutionReadyEvent, []byte(`{`))
	assert.Error(t, err)
}
