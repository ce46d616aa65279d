package tools

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchUnknownTool(t *testing.T) {
	d := NewDispatcher(NewInMemoryRegistry())

	result := d.Dispatch(context.Background(), Call{ID: "call_1", Name: "get_todos", Arguments: "{}"})
	assert.Equal(t, map[string]interface{}{"error": "Tool 'get_todos' not found"}, result)
}

func TestDispatchHappyPath(t *testing.T) {
	r := NewInMemoryRegistry()
	def, err := NewToolFromFunc("add_todo", "", func(in addTodoInput) map[string]interface{} {
		return map[string]interface{}{"status": "success", "text": in.Text}
	})
	require.NoError(t, err)
	require.NoError(t, r.Register(def))

	d := NewDispatcher(r)
	result := d.Dispatch(context.Background(), Call{ID: "call_1", Name: "add_todo", Arguments: `{"text":"buy milk"}`})
	assert.Equal(t, map[string]interface{}{"status": "success", "text": "buy milk"}, result)
}

func TestDispatchToolError(t *testing.T) {
	r := NewInMemoryRegistry()
	def, err := NewToolFromFunc("boom", "", func(in addTodoInput) (string, error) {
		return "", errors.New("storage offline")
	})
	require.NoError(t, err)
	require.NoError(t, r.Register(def))

	d := NewDispatcher(r)
	result := d.Dispatch(context.Background(), Call{Name: "boom", Arguments: `{"text":"x"}`})
	m, ok := result.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Tool execution error: storage offline", m["error"])
}

func TestDispatchRecoversFromPanic(t *testing.T) {
	r := NewInMemoryRegistry()
	def, err := NewToolFromFunc("panicky", "", func(in addTodoInput) string {
		panic("nil map write")
	})
	require.NoError(t, err)
	require.NoError(t, r.Register(def))

	d := NewDispatcher(r)
	result := d.Dispatch(context.Background(), Call{Name: "panicky", Arguments: `{"text":"x"}`})
	m, ok := result.(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, m["error"], "Tool execution error")
	assert.Contains(t, m["error"], "nil map write")
}

func TestDispatchValidatesArguments(t *testing.T) {
	r := NewInMemoryRegistry()
	def, err := NewToolFromFunc("add_todo", "", func(in addTodoInput) string { return in.Text })
	require.NoError(t, err)
	require.NoError(t, r.Register(def))

	d := NewDispatcher(r)
	result := d.Dispatch(context.Background(), Call{Name: "add_todo", Arguments: `{"text":42}`})
	m, ok := result.(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, m["error"], "Tool execution error")

	// empty arguments default to an empty object, which is missing the
	// required "text" field
	result = d.Dispatch(context.Background(), Call{Name: "add_todo"})
	m, ok = result.(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, m["error"], "Tool execution error")
}
