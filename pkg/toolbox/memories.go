package toolbox

import (
	"github.com/pkg/errors"

	"github.com/go-go-golems/mangiafuoco/pkg/store"
	"github.com/go-go-golems/mangiafuoco/pkg/tools"
)

// MemoryTools exposes a MemoryStore to the model.
type MemoryTools struct {
	memories *store.MemoryStore
}

func NewMemoryTools(memories *store.MemoryStore) *MemoryTools {
	return &MemoryTools{memories: memories}
}

func (m *MemoryTools) Definitions() ([]*tools.Definition, error) {
	getMemories, err := tools.NewToolFromFunc("get_memories",
		"Retrieve all stored memories about the user (id, date, time, text).",
		m.getMemories)
	if err != nil {
		return nil, err
	}
	saveMemory, err := tools.NewToolFromFunc("save_memory",
		"Store a new memory about the user. One short fact per entry.",
		m.saveMemory)
	if err != nil {
		return nil, err
	}
	updateMemory, err := tools.NewToolFromFunc("update_memory",
		"Rewrite the text of an existing memory by id.",
		m.updateMemory)
	if err != nil {
		return nil, err
	}
	deleteMemories, err := tools.NewToolFromFunc("delete_memories",
		"Remove memories by id. Permanently deletes the specified entries. Returns one result per id.",
		m.deleteMemories)
	if err != nil {
		return nil, err
	}
	return []*tools.Definition{getMemories, saveMemory, updateMemory, deleteMemories}, nil
}

func (m *MemoryTools) getMemories() map[string]any {
	return map[string]any{"status": "success", "memories": m.memories.List()}
}

type saveMemoryInput struct {
	Text string `json:"text" jsonschema:"required,description=The fact to remember. Keep it short, one fact per entry."`
}

func (m *MemoryTools) saveMemory(in saveMemoryInput) map[string]any {
	memory, err := m.memories.Add(in.Text)
	if err != nil {
		return errorResult(err.Error())
	}
	return map[string]any{"status": "success", "id": memory.ID, "memory": memory}
}

type updateMemoryInput struct {
	ID   string `json:"id" jsonschema:"required,description=The memory id to update."`
	Text string `json:"text" jsonschema:"required,description=The new text."`
}

func (m *MemoryTools) updateMemory(in updateMemoryInput) map[string]any {
	memory, err := m.memories.Update(in.ID, in.Text)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return map[string]any{"status": "error", "id": in.ID, "message": "Memory not found"}
		}
		return map[string]any{"status": "error", "id": in.ID, "message": err.Error()}
	}
	return map[string]any{"status": "success", "id": in.ID, "memory": memory}
}

type deleteMemoriesInput struct {
	IDs []string `json:"ids" jsonschema:"required,description=List of memory ids to delete."`
}

func (m *MemoryTools) deleteMemories(in deleteMemoriesInput) []map[string]any {
	deleted, err := m.memories.Delete(in.IDs)
	if err != nil {
		results := make([]map[string]any, 0, len(in.IDs))
		for _, id := range in.IDs {
			results = append(results, map[string]any{"status": "error", "id": id, "message": err.Error()})
		}
		return results
	}

	found := make(map[string]struct{}, len(deleted))
	for _, id := range deleted {
		found[id] = struct{}{}
	}
	results := make([]map[string]any, 0, len(in.IDs))
	for _, id := range in.IDs {
		if _, ok := found[id]; ok {
			results = append(results, map[string]any{"status": "success", "id": id})
		} else {
			results = append(results, map[string]any{"status": "error", "id": id, "message": "Memory not found"})
		}
	}
	return results
}
