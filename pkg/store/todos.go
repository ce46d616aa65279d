package store

import (
	"encoding/json"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ErrNotFound marks lookups of record ids that are not in a store.
var ErrNotFound = errors.New("not found")

const (
	StatusNew  = "new"
	StatusDone = "done"
)

// Todo is one to-do item. Ids are sequential strings and are renumbered
// when items are deleted, so the model always sees a dense 1..N listing.
type Todo struct {
	ID     string `json:"id"`
	Date   string `json:"date"`
	Time   string `json:"time"`
	Text   string `json:"text"`
	Status string `json:"status"`
}

// TodoStore keeps to-do items in a plain JSON file.
type TodoStore struct {
	mu    sync.RWMutex
	path  string
	todos []Todo
}

func NewTodoStore(path string) (*TodoStore, error) {
	if path == "" {
		return nil, errors.New("todo store path is required")
	}
	s := &TodoStore{path: path}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, errors.Wrapf(err, "could not read todo file %s", path)
	}
	if err := json.Unmarshal(b, &s.todos); err != nil {
		return nil, errors.Wrapf(err, "could not parse todo file %s", path)
	}
	return s, nil
}

func (s *TodoStore) persistLocked() error {
	b, err := json.MarshalIndent(s.todos, "", "  ")
	if err != nil {
		return errors.Wrap(err, "could not marshal todos")
	}
	return writeFileAtomic(s.path, b)
}

// List returns all items in insertion order.
func (s *TodoStore) List() []Todo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Todo(nil), s.todos...)
}

// Add appends a new item stamped with the current date and time. An empty
// status defaults to "new".
func (s *TodoStore) Add(text, status string) (Todo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if status == "" {
		status = StatusNew
	}
	now := time.Now()
	todo := Todo{
		ID:     strconv.Itoa(len(s.todos) + 1),
		Date:   now.Format("2006-01-02"),
		Time:   now.Format("15:04"),
		Text:   text,
		Status: status,
	}
	s.todos = append(s.todos, todo)
	if err := s.persistLocked(); err != nil {
		return Todo{}, err
	}
	return todo, nil
}

// Update rewrites the text and/or status of the item with the given id.
// Empty arguments leave the corresponding field unchanged; at least one
// must be set.
func (s *TodoStore) Update(id, text, status string) (Todo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if text == "" && status == "" {
		return Todo{}, errors.New("no updates provided")
	}
	for i := range s.todos {
		if s.todos[i].ID != id {
			continue
		}
		if text != "" {
			s.todos[i].Text = text
		}
		if status != "" {
			s.todos[i].Status = status
		}
		if err := s.persistLocked(); err != nil {
			return Todo{}, err
		}
		return s.todos[i], nil
	}
	return Todo{}, errors.Wrapf(ErrNotFound, "todo %s", id)
}

// Delete removes the items with the given ids, renumbers the remainder,
// and returns the ids that were actually present.
func (s *TodoStore) Delete(ids []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	present := make(map[string]struct{}, len(s.todos))
	for _, t := range s.todos {
		present[t.ID] = struct{}{}
	}
	drop := make(map[string]struct{}, len(ids))
	var deleted []string
	for _, id := range ids {
		if _, ok := present[id]; !ok {
			continue
		}
		if _, dup := drop[id]; dup {
			continue
		}
		drop[id] = struct{}{}
		deleted = append(deleted, id)
	}

	kept := make([]Todo, 0, len(s.todos))
	for _, t := range s.todos {
		if _, ok := drop[t.ID]; ok {
			continue
		}
		kept = append(kept, t)
	}
	for i := range kept {
		kept[i].ID = strconv.Itoa(i + 1)
	}
	s.todos = kept
	if err := s.persistLocked(); err != nil {
		return nil, err
	}
	return deleted, nil
}

func (s *TodoStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.todos = nil
	return s.persistLocked()
}

