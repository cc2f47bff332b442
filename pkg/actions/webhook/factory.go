// Package webhook provides the webhook action, which calls an external HTTP endpoint.
package webhook

import (
	"net/http"
	"strings"
	"time"

	"github.com/dukex/crmflow/pkg/actions"
	"github.com/dukex/crmflow/pkg/models"
)

const defaultTimeoutSeconds = 30

// ActionFactory is the factory for creating webhook actions.
type ActionFactory struct {
	client *http.Client
}

// NewActionFactory creates a factory. A nil client uses a client without a global timeout;
// each action applies its own.
func NewActionFactory(client *http.Client) *ActionFactory {
	if client == nil {
		client = &http.Client{}
	}

	return &ActionFactory{client: client}
}

func (*ActionFactory) Type() models.ActionType {
	return models.ActionWebhook
}

func (*ActionFactory) Name() string {
	return "Webhook"
}

func (*ActionFactory) Description() string {
	return "Sends an HTTP request to an external endpoint. URL, headers and body are templates over the entity fields."
}

// Create creates a webhook action from a configuration already validated against Schema.
func (f *ActionFactory) Create(config map[string]any) (actions.Action, error) {
	url, _ := config["url"].(string)
	method, _ := config["method"].(string)
	body, _ := config["body"].(string)

	if method == "" {
		method = http.MethodPost
	}

	headers := make(map[string]string)

	if headersMap, ok := config["headers"].(map[string]any); ok {
		for k, v := range headersMap {
			if strVal, ok := v.(string); ok {
				headers[k] = strVal
			}
		}
	}

	timeout := defaultTimeoutSeconds * time.Second
	if seconds, ok := toFloat(config["timeout_seconds"]); ok && seconds > 0 {
		timeout = time.Duration(seconds * float64(time.Second))
	}

	return &Action{
		client:  f.client,
		URL:     url,
		Method:  strings.ToUpper(method),
		Headers: headers,
		Body:    body,
		Timeout: timeout,
	}, nil
}

// Schema returns the JSON schema for the action configuration.
func (*ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "Endpoint URL.",
				"examples":    []string{"https://hooks.example.com/leads/{{.fields.id}}"},
			},
			"method": map[string]any{
				"type":    "string",
				"default": "POST",
				"enum":    []string{"GET", "POST", "PUT", "PATCH", "DELETE", "get", "post", "put", "patch", "delete"},
			},
			"headers": map[string]any{
				"type":                 "object",
				"additionalProperties": map[string]any{"type": "string"},
			},
			"body": map[string]any{
				"type":        "string",
				"description": "Request body. Defaults to the JSON encoded entity fields.",
			},
			"timeout_seconds": map[string]any{
				"type":    "number",
				"minimum": 0,
			},
		},
		"required": []string{"url"},
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
