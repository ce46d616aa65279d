package toolbox

import (
	"github.com/pkg/errors"

	"github.com/go-go-golems/mangiafuoco/pkg/store"
	"github.com/go-go-golems/mangiafuoco/pkg/tools"
)

// TodoTools exposes a TodoStore to the model. Results follow the
// {"status": "success"/"error", ...} convention so the model can act on
// failures instead of the run aborting.
type TodoTools struct {
	todos *store.TodoStore
}

func NewTodoTools(todos *store.TodoStore) *TodoTools {
	return &TodoTools{todos: todos}
}

func (t *TodoTools) Definitions() ([]*tools.Definition, error) {
	getTodos, err := tools.NewToolFromFunc("get_todos",
		"Retrieve the current ordered to-do items (id, date, time, text, status). ALWAYS call before creating new todos or modifying existing ones.",
		t.getTodos)
	if err != nil {
		return nil, err
	}
	addTodo, err := tools.NewToolFromFunc("add_todo",
		"Add a single atomic to-do item. ALWAYS call get_todos first to avoid duplicates.",
		t.addTodo)
	if err != nil {
		return nil, err
	}
	updateTodo, err := tools.NewToolFromFunc("update_todo",
		"Update a to-do item by id. Can change the text, the status, or both.",
		t.updateTodo)
	if err != nil {
		return nil, err
	}
	deleteTodos, err := tools.NewToolFromFunc("delete_todos",
		"Delete to-do items by their ids. Returns one result per id.",
		t.deleteTodos)
	if err != nil {
		return nil, err
	}
	return []*tools.Definition{getTodos, addTodo, updateTodo, deleteTodos}, nil
}

func (t *TodoTools) getTodos() map[string]any {
	return map[string]any{"status": "success", "todos": t.todos.List()}
}

type addTodoInput struct {
	Text   string `json:"text" jsonschema:"required,description=The to-do text. One atomic item."`
	Status string `json:"status,omitempty" jsonschema:"description=Initial status,default=new,enum=new,enum=done"`
}

func (t *TodoTools) addTodo(in addTodoInput) map[string]any {
	todo, err := t.todos.Add(in.Text, in.Status)
	if err != nil {
		return errorResult(err.Error())
	}
	return map[string]any{"status": "success", "id": todo.ID, "todo": todo}
}

type updateTodoInput struct {
	ID     string `json:"id" jsonschema:"required,description=The to-do id to update."`
	Text   string `json:"text,omitempty" jsonschema:"description=New text (omit to keep current)."`
	Status string `json:"status,omitempty" jsonschema:"description=New status (omit to keep current),enum=new,enum=done"`
}

func (t *TodoTools) updateTodo(in updateTodoInput) map[string]any {
	todo, err := t.todos.Update(in.ID, in.Text, in.Status)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return map[string]any{"status": "error", "id": in.ID, "message": "Todo not found"}
		}
		return map[string]any{"status": "error", "id": in.ID, "message": err.Error()}
	}
	return map[string]any{"status": "success", "id": in.ID, "todo": todo}
}

type deleteTodosInput struct {
	IDs []string `json:"ids" jsonschema:"required,description=List of to-do ids to delete."`
}

func (t *TodoTools) deleteTodos(in deleteTodosInput) []map[string]any {
	deleted, err := t.todos.Delete(in.IDs)
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
			results = append(results, map[string]any{"status": "error", "id": id, "message": "Todo not found"})
		}
	}
	return results
}
