package template

import (
	"testing"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender_SimpleExpression(t *testing.T) {
	data := map[string]any{
		"name":  "John",
		"age":   30,
		"isNew": true,
	}

	result, err := Render("{{ .name }}", data)
	require.NoError(t, err)
	assert.Equal(t, "John", result)

	result, err = Render("{{ .isNew }}", data)
	require.NoError(t, err)
	assert.Equal(t, true, result)

	// Numbers always come back as float64.
	result, err = Render("{{ .age }}", data)
	require.NoError(t, err)
	assert.Equal(t, 30.0, result)
}

func TestRender_JSONOutput(t *testing.T) {
	data := map[string]any{
		"user":   map[string]any{"name": "Alice"},
		"orders": []any{1, 2},
	}

	result, err := Render(`{"user_name": "{{ .user.name }}", "total_orders": {{ len .orders }}}`, data)
	require.NoError(t, err)

	resultMap, ok := result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Alice", resultMap["user_name"])
	assert.Equal(t, 2.0, resultMap["total_orders"])
}

func TestRenderString_WithInvocation(t *testing.T) {
	invocation := models.ActionInvocation{
		ExecutionID: "exec-1",
		StepID:      "s1",
		TenantID:    "tenant-1",
		Attempt:     2,
		Context:     models.FieldMap{"first_name": "Ana", "status": "New"},
	}

	result, err := RenderString("Lead {{ .fields.first_name }} is {{ .fields.status }} ({{ .execution.id }}#{{ .execution.attempt }})", Data(invocation))
	require.NoError(t, err)
	assert.Equal(t, "Lead Ana is New (exec-1#2)", result)

	result, err = RenderString("{{ json .fields.status }}", Data(invocation))
	require.NoError(t, err)
	assert.Equal(t, `"New"`, result)
}

func TestRenderString_Plain(t *testing.T) {
	result, err := RenderString("no templating here", nil)
	require.NoError(t, err)
	assert.Equal(t, "no templating here", result)
}

func TestRenderString_ParseError(t *testing.T) {
	_, err := RenderString("{{ .fields.name ", map[string]any{})
	assert.Error(t, err)
}
