package actions_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/dukex/crmflow/pkg/actions"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoFactory struct {
	schema map[string]any
}

func (echoFactory) Type() models.ActionType { return "echo" }
func (echoFactory) Name() string { return "Echo" }
func (echoFactory) Description() string { return "Echoes its configuration." }

func (f echoFactory) Schema() map[string]any { return f.schema }

func (echoFactory) Create(config map[string]any) (actions.Action, error) {
	return echoAction{config: config}, nil
}

type echoAction struct {
	config map[string]any
}

func (a echoAction) Execute(_ context.Context, _ models.ActionInvocation) (*models.ActionResult, error) {
	return &models.ActionResult{Success: true, OutputData: a.config}, nil
}

func TestRegistry_Execute(t *testing.T) {
	registry := actions.NewRegistry(slog.New(slog.DiscardHandler))
	require.NoError(t, registry.Register(echoFactory{schema: map[string]any{"type": "object"}}))

	result, err := registry.Execute(context.Background(), models.ActionInvocation{
		ActionType: "echo",
		Config:     map[string]any{"greeting": "hello"},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", result.OutputData["greeting"])

	_, err = registry.Execute(context.Background(), models.ActionInvocation{ActionType: models.ActionWebhook})
	assert.ErrorIs(t, err, actions.ErrActionNotRegistered)
}

func TestRegistry_RejectsBrokenSchema(t *testing.T) {
	registry := actions.NewRegistry(slog.New(slog.DiscardHandler))

	err := registry.Register(echoFactory{schema: map[string]any{"type": 12}})
	assert.Error(t, err)
	assert.Empty(t, registry.Descriptors())
}

func TestRegistry_Descriptors(t *testing.T) {
	registry := actions.NewRegistry(slog.New(slog.DiscardHandler))
	require.NoError(t, registry.Register(echoFactory{schema: map[string]any{"type": "object"}}))

	descriptors := registry.Descriptors()
	require.Len(t, descriptors, 1)
	assert.Equal(t, models.ActionType("echo"), descriptors[0].Type)
	assert.Equal(t, "Echo", descriptors[0].Name)
}
