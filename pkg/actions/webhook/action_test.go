package webhook_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dukex/crmflow/pkg/actions"
	"github.com/dukex/crmflow/pkg/actions/webhook"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistry(t *testing.T) *actions.Registry {
	t.Helper()

	registry := actions.NewRegistry(slog.New(slog.DiscardHandler))
	require.NoError(t, registry.Register(webhook.NewActionFactory(nil)))

	return registry
}

func invocation(url string, config map[string]any) models.ActionInvocation {
	config["url"] = url

	return models.ActionInvocation{
		ExecutionID: "exec-1",
		StepID:      "s2",
		TenantID:    "tenant-1",
		Attempt:     1,
		ActionType:  models.ActionWebhook,
		Config:      config,
		Context:     models.FieldMap{"id": "lead-1", "status": "Qualified"},
	}
}

func TestWebhookAction_PostsFields(t *testing.T) {
	var (
		gotPath   string
		gotKey    string
		gotHeader string
		gotBody   map[string]any
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get(webhook.IdempotencyHeader)
		gotHeader = r.Header.Get("X-Tenant")

		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	result, err := newRegistry(t).Execute(context.Background(), invocation(server.URL+"/leads/{{ .fields.id }}", map[string]any{
		"headers": map[string]any{"X-Tenant": "{{ .execution.tenant_id }}"},
	}))
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, http.StatusOK, result.OutputData["status_code"])
	assert.Equal(t, map[string]any{"ok": true}, result.OutputData["body"])

	assert.Equal(t, "/leads/lead-1", gotPath)
	assert.Equal(t, "exec-1:s2", gotKey)
	assert.Equal(t, "tenant-1", gotHeader)
	assert.Equal(t, "Qualified", gotBody["status"])
}

func TestWebhookAction_ServerErrorIsUnsuccessful(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer server.Close()

	result, err := newRegistry(t).Execute(context.Background(), invocation(server.URL, map[string]any{"method": "put", "body": `{"status":"{{ .fields.status }}"}`}))
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.ErrorMessage, "502")
	assert.Equal(t, "upstream down", result.OutputData["body"])
}

func TestWebhookAction_Timeout(t *testing.T) {
	release := make(chan struct{})

	server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	start := time.Now()

	_, err := newRegistry(t).Execute(context.Background(), invocation(server.URL, map[string]any{"timeout_seconds": 0.05}))
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestWebhookAction_InvalidConfig(t *testing.T) {
	_, err := newRegistry(t).Execute(context.Background(), models.ActionInvocation{
		ActionType: models.ActionWebhook,
		Config:     map[string]any{"method": "POST"},
	})
	assert.ErrorIs(t, err, actions.ErrInvalidConfig)
}
