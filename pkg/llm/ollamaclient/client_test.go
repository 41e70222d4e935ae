package ollamaclient

import (
	"testing"

	"github.com/ollama/ollama/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reasonrt/pkg/llm"
	"reasonrt/pkg/tools"
)

func TestBuildToolsMapsSchema(t *testing.T) {
	defs := []tools.ToolDefinition{{
		Name:        "calculator",
		Description: "Evaluates arithmetic expressions",
		InputSchema: tools.InputSchema{
			Type: "object",
			Properties: map[string]tools.Property{
				"expression": {Type: "string", Description: "the expression"},
				"mode":       {Type: "string", Enum: []string{"strict", "lax"}},
			},
			Required: []string{"expression"},
		},
	}}

	built := buildTools(defs)
	require.Len(t, built, 1)
	fn := built[0].Function
	assert.Equal(t, "calculator", fn.Name)
	assert.Equal(t, []string{"expression"}, fn.Parameters.Required)

	expr, ok := fn.Parameters.Properties.Get("expression")
	require.True(t, ok)
	assert.Equal(t, api.PropertyType{"string"}, expr.Type)
	assert.Equal(t, "the expression", expr.Description)

	mode, ok := fn.Parameters.Properties.Get("mode")
	require.True(t, ok)
	assert.Equal(t, []any{"strict", "lax"}, mode.Enum)
}

func TestBuildMessagesCarriesToolExchange(t *testing.T) {
	msgs := buildMessages([]llm.Message{
		{Role: llm.RoleAssistant, Content: "checking", ToolCalls: []llm.ToolCall{{
			ID:         "call-1",
			Name:       "calculator",
			Parameters: map[string]any{"expression": "2+2"},
		}}},
		{Role: llm.RoleTool, Content: "4", ToolCallID: "call-1", ToolName: "calculator"},
	})
	require.Len(t, msgs, 2)

	require.Len(t, msgs[0].ToolCalls, 1)
	call := msgs[0].ToolCalls[0]
	assert.Equal(t, "call-1", call.ID)
	assert.Equal(t, "calculator", call.Function.Name)
	assert.Equal(t, map[string]any{"expression": "2+2"}, call.Function.Arguments.ToMap())

	assert.Equal(t, "tool", msgs[1].Role)
	assert.Equal(t, "call-1", msgs[1].ToolCallID)
}
