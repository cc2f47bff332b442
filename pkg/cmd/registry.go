package cmd

import (
	"log/slog"
	"net/http"

	"github.com/dukex/crmflow/pkg/actions"
	"github.com/dukex/crmflow/pkg/actions/callback"
	logaction "github.com/dukex/crmflow/pkg/actions/log"
	"github.com/dukex/crmflow/pkg/actions/webhook"
)

// NewRegistry registers the native actions. With a callback URL the CRM business
// actions are forwarded to the host application.
func NewRegistry(logger *slog.Logger, callbackURL string) (*actions.Registry, error) {
	registry := actions.NewRegistry(logger)
	client := &http.Client{}

	err := registry.Register(logaction.NewActionFactory(logger))
	if err != nil {
		return nil, err
	}

	err = registry.Register(webhook.NewActionFactory(client))
	if err != nil {
		return nil, err
	}

	if callbackURL != "" {
		err = callback.RegisterAll(registry, callbackURL, client)
		if err != nil {
			return nil, err
		}
	}

	return registry, nil
}
