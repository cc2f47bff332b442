package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/template"
)

// IdempotencyHeader carries the execution and step identity so receivers can drop
// duplicate deliveries.
const IdempotencyHeader = "Idempotency-Key"

const maxResponseBody = 1 << 20

// ErrWebhookStatus is wrapped into the result message for non-2xx responses.
var ErrWebhookStatus = errors.New("webhook returned non-success status")

// Action performs one HTTP request per invocation.
type Action struct {
	client  *http.Client
	URL     string
	Method  string
	Headers map[string]string
	Body    string
	Timeout time.Duration
}

// Execute sends the request. Transport failures are errors; a non-2xx response is an
// unsuccessful result so the retry policy applies in both cases.
func (a *Action) Execute(ctx context.Context, invocation models.ActionInvocation) (*models.ActionResult, error) {
	req, err := a.buildRequest(ctx, invocation)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, a.Timeout)
	defer cancel()

	resp, err := a.client.Do(req.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	output := map[string]any{
		"status_code": resp.StatusCode,
		"body":        decodeBody(raw),
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &models.ActionResult{
			Success:      false,
			OutputData:   output,
			ErrorMessage: fmt.Sprintf("%s: %d", ErrWebhookStatus, resp.StatusCode),
		}, nil
	}

	return &models.ActionResult{Success: true, OutputData: output}, nil
}

func (a *Action) buildRequest(ctx context.Context, invocation models.ActionInvocation) (*http.Request, error) {
	data := template.Data(invocation)

	url, err := template.RenderString(a.URL, data)
	if err != nil {
		return nil, fmt.Errorf("failed to render url: %w", err)
	}

	var body io.Reader

	if a.Method != http.MethodGet && a.Method != http.MethodDelete {
		payload, err := a.renderBody(invocation, data)
		if err != nil {
			return nil, err
		}

		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, a.Method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	req.Header.Set(IdempotencyHeader, invocation.IdempotencyKey())

	for key, value := range a.Headers {
		rendered, err := template.RenderString(value, data)
		if err != nil {
			return nil, fmt.Errorf("failed to render header %s: %w", key, err)
		}

		req.Header.Set(key, rendered)
	}

	return req, nil
}

func (a *Action) renderBody(invocation models.ActionInvocation, data map[string]any) ([]byte, error) {
	if a.Body == "" {
		payload, err := json.Marshal(invocation.Context)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}

		return payload, nil
	}

	rendered, err := template.RenderString(a.Body, data)
	if err != nil {
		return nil, fmt.Errorf("failed to render body: %w", err)
	}

	return []byte(rendered), nil
}

func decodeBody(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}

	var decoded any

	err := json.Unmarshal(raw, &decoded)
	if err != nil {
		return string(raw)
	}

	return decoded
}
