// Package callback forwards CRM business actions to the host application over HTTP.
// The host receives the invocation as JSON at <base>/<action_type> and answers with an
// action result.
package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dukex/crmflow/pkg/actions"
	"github.com/dukex/crmflow/pkg/actions/webhook"
	"github.com/dukex/crmflow/pkg/models"
)

// ErrUnknownActionType is returned by NewActionFactory for a type without a schema.
var ErrUnknownActionType = errors.New("no callback schema for action type")

// ActionFactory builds forwarding actions for one action type.
type ActionFactory struct {
	actionType models.ActionType
	baseURL    string
	client     *http.Client
}

func NewActionFactory(actionType models.ActionType, baseURL string, client *http.Client) (*ActionFactory, error) {
	if _, ok := schemas[actionType]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownActionType, actionType)
	}

	if client == nil {
		client = &http.Client{}
	}

	return &ActionFactory{
		actionType: actionType,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		client:     client,
	}, nil
}

// RegisterAll registers a forwarding factory for every type in Types.
func RegisterAll(registry *actions.Registry, baseURL string, client *http.Client) error {
	for _, actionType := range Types() {
		factory, err := NewActionFactory(actionType, baseURL, client)
		if err != nil {
			return err
		}

		err = registry.Register(factory)
		if err != nil {
			return err
		}
	}

	return nil
}

func (f *ActionFactory) Type() models.ActionType {
	return f.actionType
}

func (f *ActionFactory) Name() string {
	words := strings.Split(string(f.actionType), "_")
	for i, word := range words {
		if word != "" {
			words[i] = strings.ToUpper(word[:1]) + word[1:]
		}
	}

	return strings.Join(words, " ")
}

func (f *ActionFactory) Description() string {
	return descriptions[f.actionType]
}

func (f *ActionFactory) Schema() map[string]any {
	return schemas[f.actionType]
}

func (f *ActionFactory) Create(_ map[string]any) (actions.Action, error) {
	return &Action{url: f.baseURL + "/" + string(f.actionType), client: f.client}, nil
}

// Action posts one invocation to the host.
type Action struct {
	url    string
	client *http.Client
}

func (a *Action) Execute(ctx context.Context, invocation models.ActionInvocation) (*models.ActionResult, error) {
	payload, err := json.Marshal(invocation)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal invocation: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(webhook.IdempotencyHeader, invocation.IdempotencyKey())

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("callback request failed: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read callback response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &models.ActionResult{
			Success:      false,
			ErrorMessage: fmt.Sprintf("callback returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))),
		}, nil
	}

	var result models.ActionResult

	err = json.Unmarshal(raw, &result)
	if err != nil {
		return nil, fmt.Errorf("failed to decode callback result: %w", err)
	}

	return &result, nil
}
