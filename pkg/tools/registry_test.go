package tools

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoTool() Definition {
	return Definition{
		Name:        "echo",
		Description: "Echo tool",
		Parameters: []Parameter{
			{Name: "message", Type: "string", Description: "Message to echo", Required: true},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			message, _ := args["message"].(string)
			return message, nil
		},
	}
}

func TestRegistry_Register(t *testing.T) {
	reg := NewRegistry()

	err := reg.Register(echoTool())
	assert.NoError(t, err)

	tool := reg.Get("echo")
	require.NotNil(t, tool)
	assert.Equal(t, "echo", tool.Name)
}

func TestRegistry_Register_InvalidDefinition(t *testing.T) {
	reg := NewRegistry()

	handler := func(ctx context.Context, args map[string]interface{}) (string, error) { return "", nil }

	tests := []struct {
		name string
		def  Definition
	}{
		{
			name: "empty name",
			def:  Definition{Description: "Test", Handler: handler},
		},
		{
			name: "empty description",
			def:  Definition{Name: "test", Handler: handler},
		},
		{
			name: "nil handler",
			def:  Definition{Name: "test", Description: "Test"},
		},
		{
			name: "bad parameter type",
			def: Definition{
				Name:        "test",
				Description: "Test",
				Parameters:  []Parameter{{Name: "x", Type: "uuid", Description: "X"}},
				Handler:     handler,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := reg.Register(tt.def)
			assert.Error(t, err)
		})
	}
}

func TestRegistry_Register_OverwriteKeepsPosition(t *testing.T) {
	reg := NewRegistry()

	first := echoTool()
	require.NoError(t, reg.Register(first))
	require.NoError(t, reg.Register(Definition{
		Name:        "second",
		Description: "Second tool",
		Handler:     func(ctx context.Context, args map[string]interface{}) (string, error) { return "2", nil },
	}))

	replacement := echoTool()
	replacement.Description = "Replaced echo tool"
	require.NoError(t, reg.Register(replacement))

	assert.Equal(t, []string{"echo", "second"}, reg.Names())
	assert.Equal(t, "Replaced echo tool", reg.Get("echo").Description)
}

func TestRegistry_Schemas(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(echoTool()))
	require.NoError(t, reg.Register(Definition{
		Name:        "second",
		Description: "Second tool",
		Handler:     func(ctx context.Context, args map[string]interface{}) (string, error) { return "2", nil },
	}))
	require.NoError(t, reg.Register(Definition{
		Name:        "third",
		Description: "Third tool",
		Handler:     func(ctx context.Context, args map[string]interface{}) (string, error) { return "3", nil },
	}))

	t.Run("no names yields full catalogue in order", func(t *testing.T) {
		schemas := reg.Schemas()
		require.Len(t, schemas, 3)
		assert.Equal(t, "echo", schemas[0].Name)
		assert.Equal(t, "second", schemas[1].Name)
		assert.Equal(t, "third", schemas[2].Name)
	})

	t.Run("subset keeps catalogue order and drops unknowns", func(t *testing.T) {
		schemas := reg.Schemas("third", "ghost", "echo")
		require.Len(t, schemas, 2)
		assert.Equal(t, "echo", schemas[0].Name)
		assert.Equal(t, "third", schemas[1].Name)
	})

	t.Run("parameters render as a JSON schema object", func(t *testing.T) {
		schema := reg.Schemas("echo")[0]
		assert.Equal(t, "object", schema.Parameters["type"])

		properties := schema.Parameters["properties"].(map[string]interface{})
		message := properties["message"].(map[string]interface{})
		assert.Equal(t, "string", message["type"])

		assert.Equal(t, []string{"message"}, schema.Parameters["required"])
	})
}

func TestRegistry_Dispatch_Success(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(echoTool()))

	result := reg.Dispatch(context.Background(), "echo", map[string]interface{}{
		"message": "Hello, World!",
	})

	assert.Equal(t, "Hello, World!", result)
}

func TestRegistry_Dispatch_EmptyResultReadsAsSuccess(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(Definition{
		Name:        "noop",
		Description: "Does nothing",
		Handler:     func(ctx context.Context, args map[string]interface{}) (string, error) { return "", nil },
	}))

	assert.Equal(t, "Success", reg.Dispatch(context.Background(), "noop", nil))
}

func TestRegistry_Dispatch_NotFound(t *testing.T) {
	reg := NewRegistry()

	result := reg.Dispatch(context.Background(), "nonexistent", map[string]interface{}{})

	assert.Equal(t, "Error: Tool 'nonexistent' not found", result)
}

func TestRegistry_Dispatch_HandlerError(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(Definition{
		Name:        "failing",
		Description: "Always fails",
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			return "", errors.New("database connection lost")
		},
	}))

	result := reg.Dispatch(context.Background(), "failing", nil)

	assert.Equal(t, "Error: database connection lost", result)
}

func TestRegistry_Dispatch_InvalidArgs(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(echoTool()))

	t.Run("missing required argument", func(t *testing.T) {
		result := reg.Dispatch(context.Background(), "echo", map[string]interface{}{})
		assert.Contains(t, result, "Error: invalid arguments for 'echo'")
	})

	t.Run("wrong argument type", func(t *testing.T) {
		result := reg.Dispatch(context.Background(), "echo", map[string]interface{}{"message": 42})
		assert.Contains(t, result, "Error: invalid arguments for 'echo'")
	})

	t.Run("unexpected argument", func(t *testing.T) {
		result := reg.Dispatch(context.Background(), "echo", map[string]interface{}{
			"message": "hi",
			"extra":   true,
		})
		assert.Contains(t, result, "Error: invalid arguments for 'echo'")
	})
}

func TestRegistry_Dispatch_RecoversPanic(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(Definition{
		Name:        "panicky",
		Description: "Panics on call",
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			panic("unexpected state")
		},
	}))

	result := reg.Dispatch(context.Background(), "panicky", nil)

	assert.Contains(t, result, "Error: tool panicked")
	assert.Contains(t, result, "unexpected state")
}

func TestRegistry_Dispatch_TruncatesLongOutput(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(Definition{
		Name:        "verbose",
		Description: "Returns a very long string",
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			return strings.Repeat("x", 20*1024), nil
		},
	}))

	result := reg.Dispatch(context.Background(), "verbose", nil)

	assert.True(t, strings.HasSuffix(result, "... [output truncated]"))
	assert.Less(t, len(result), 11*1024)
}
