package store

import (
	"encoding/json"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Memory is one remembered fact about the user. Ids follow the same
// sequential, renumbered-on-delete scheme as todos.
type Memory struct {
	ID   string `json:"id"`
	Date string `json:"date"`
	Time string `json:"time"`
	Text string `json:"text"`
}

// MemoryStore keeps remembered facts in a codec-wrapped JSON file, so it
// can be encrypted at rest while todos stay a plain file.
type MemoryStore struct {
	mu       sync.RWMutex
	path     string
	codec    Codec
	memories []Memory
}

func NewMemoryStore(path string, codec Codec) (*MemoryStore, error) {
	if path == "" {
		return nil, errors.New("memory store path is required")
	}
	if codec == nil {
		codec = PlainCodec{}
	}
	s := &MemoryStore{path: path, codec: codec}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, errors.Wrapf(err, "could not read memory file %s", path)
	}
	plaintext, err := codec.Decode(b)
	if err != nil {
		return nil, errors.Wrapf(err, "could not decode memory file %s", path)
	}
	if err := json.Unmarshal(plaintext, &s.memories); err != nil {
		return nil, errors.Wrapf(err, "could not parse memory file %s", path)
	}
	return s, nil
}

func (s *MemoryStore) persistLocked() error {
	plaintext, err := json.Marshal(s.memories)
	if err != nil {
		return errors.Wrap(err, "could not marshal memories")
	}
	b, err := s.codec.Encode(plaintext)
	if err != nil {
		return err
	}
	return writeFileAtomic(s.path, b)
}

// List returns all memories in insertion order.
func (s *MemoryStore) List() []Memory {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Memory(nil), s.memories...)
}

// Texts returns just the remembered facts, for the system prompt.
func (s *MemoryStore) Texts() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	texts := make([]string, 0, len(s.memories))
	for _, m := range s.memories {
		texts = append(texts, m.Text)
	}
	return texts
}

// Add appends a new memory stamped with the current date and time.
func (s *MemoryStore) Add(text string) (Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	memory := Memory{
		ID:   strconv.Itoa(len(s.memories) + 1),
		Date: now.Format("2006-01-02"),
		Time: now.Format("15:04"),
		Text: text,
	}
	s.memories = append(s.memories, memory)
	if err := s.persistLocked(); err != nil {
		return Memory{}, err
	}
	return memory, nil
}

// Update rewrites the text of the memory with the given id.
func (s *MemoryStore) Update(id, text string) (Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.memories {
		if s.memories[i].ID != id {
			continue
		}
		s.memories[i].Text = text
		if err := s.persistLocked(); err != nil {
			return Memory{}, err
		}
		return s.memories[i], nil
	}
	return Memory{}, errors.Wrapf(ErrNotFound, "memory %s", id)
}

// Delete removes the memories with the given ids, renumbers the
// remainder, and returns the ids that were actually present.
func (s *MemoryStore) Delete(ids []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	present := make(map[string]struct{}, len(s.memories))
	for _, m := range s.memories {
		present[m.ID] = struct{}{}
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

	kept := make([]Memory, 0, len(s.memories))
	for _, m := range s.memories {
		if _, ok := drop[m.ID]; ok {
			continue
		}
		kept = append(kept, m)
	}
	for i := range kept {
		kept[i].ID = strconv.Itoa(i + 1)
	}
	s.memories = kept
	if err := s.persistLocked(); err != nil {
		return nil, err
	}
	return deleted, nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memories = nil
	return s.persistLocked()
}
