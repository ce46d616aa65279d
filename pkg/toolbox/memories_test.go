package toolbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/mangiafuoco/pkg/store"
	"github.com/go-go-golems/mangiafuoco/pkg/tools"
)

func memoryDispatcher(t *testing.T) (*tools.Dispatcher, *store.MemoryStore) {
	t.Helper()
	memories := newMemoryStore(t)
	registry := tools.NewInMemoryRegistry()
	require.NoError(t, Register(registry, []string{"memories"}, Options{Memories: memories}))
	return tools.NewDispatcher(registry), memories
}

func TestSaveAndGetMemories(t *testing.T) {
	d, _ := memoryDispatcher(t)

	result := dispatch(t, d, "save_memory", `{"text":"prefers short answers"}`)
	m := result.(map[string]any)
	assert.Equal(t, "success", m["status"])
	assert.Equal(t, "1", m["id"])

	result = dispatch(t, d, "get_memories", "{}")
	m = result.(map[string]any)
	require.Equal(t, "success", m["status"])
	memories := m["memories"].([]store.Memory)
	require.Len(t, memories, 1)
	assert.Equal(t, "prefers short answers", memories[0].Text)
}

func TestSaveMemoryRequiresText(t *testing.T) {
	d, _ := memoryDispatcher(t)

	result := dispatch(t, d, "save_memory", `{}`)
	m := result.(map[string]any)
	errMsg, ok := m["error"].(string)
	require.True(t, ok)
	assert.Contains(t, errMsg, "Tool execution error")
}

func TestUpdateMemoryNotFound(t *testing.T) {
	d, _ := memoryDispatcher(t)

	result := dispatch(t, d, "update_memory", `{"id":"7","text":"x"}`)
	m := result.(map[string]any)
	assert.Equal(t, "error", m["status"])
	assert.Equal(t, "Memory not found", m["message"])
}

func TestDeleteMemoriesPerIDResults(t *testing.T) {
	d, memories := memoryDispatcher(t)
	_, err := memories.Add("a")
	require.NoError(t, err)
	_, err = memories.Add("b")
	require.NoError(t, err)

	result := dispatch(t, d, "delete_memories", `{"ids":["2","5"]}`)
	results := result.([]map[string]any)
	require.Len(t, results, 2)
	assert.Equal(t, "success", results[0]["status"])
	assert.Equal(t, "error", results[1]["status"])
	assert.Equal(t, "Memory not found", results[1]["message"])

	assert.Equal(t, []string{"a"}, memories.Texts())
}
