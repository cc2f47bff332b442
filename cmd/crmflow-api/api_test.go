package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/dukex/crmflow/pkg/actions"
	logaction "github.com/dukex/crmflow/pkg/actions/log"
	"github.com/dukex/crmflow/pkg/eventbus"
	"github.com/dukex/crmflow/pkg/events"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence/file"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestApp(t *testing.T) (*fiber.App, *eventbus.WatermillEventBus) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	registry := actions.NewRegistry(logger)
	require.NoError(t, registry.Register(logaction.NewActionFactory(logger)))

	pubSub := gochannel.NewGoChannel(gochannel.Config{Persistent: true}, watermill.NopLogger{})
	bus := eventbus.NewWatermillEventBus(logger, pubSub, pubSub)
	t.Cleanup(func() { _ = bus.Close() })

	return NewAPI(logger, file.NewPersistence(t.TempDir()), registry, bus).App(), bus
}

func get(t *testing.T, app *fiber.App, path string) (int, string) {
	t.Helper()

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, string(body)
}

func TestAPI_RootAndProbes(t *testing.T) {
	app, _ := setupTestApp(t)

	status, body := get(t, app, "/")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "crmflow API", body)

	status, body = get(t, app, "/livez")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "OK", body)

	status, _ = get(t, app, "/health")
	assert.Equal(t, http.StatusOK, status)
}

func TestAPI_IngestedEventsReachTheBus(t *testing.T) {
	app, bus := setupTestApp(t)

	received := make(chan *events.EntityChanged, 1)
	require.NoError(t, bus.Handle(events.EntityChangedEvent, func(_ context.Context, event any) error {
		received <- event.(*events.EntityChanged)

		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, bus.Subscribe(ctx))

	req := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(`{
		"id": "evt-42",
		"tenant_id": "t1",
		"entity_type": "Contact",
		"entity_id": "contact-3",
		"trigger_type": "on_field_change",
		"field_snapshot": {"email": "ada@example.com"},
		"changed_fields": ["email"]
	}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	select {
	case changed := <-received:
		assert.Equal(t, "evt-42", changed.Event.ID)
		assert.Equal(t, models.TriggerOnFieldChange, changed.Event.TriggerType)
		assert.Equal(t, []string{"email"}, changed.Event.ChangedFields)
	case <-time.After(5 * time.Second):
		t.Fatal("event was not published")
	}
}

func TestAPI_ListActions(t *testing.T) {
	app, _ := setupTestApp(t)

	status, body := get(t, app, "/actions")
	require.Equal(t, http.StatusOK, status)

	var listed struct {
		Actions []actions.Descriptor `json:"actions"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &listed))
	require.Len(t, listed.Actions, 1)
	assert.Equal(t, models.ActionLog, listed.Actions[0].Type)
}
