package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/huandu/go-clone"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/mangiafuoco/pkg/history"
)

// HistoryStore persists transcript entries between runs. Implementations
// are called at run boundaries only, never from inside the run loop.
type HistoryStore interface {
	Append(entries []history.Entry) ([]string, error)
	Load() ([]history.Entry, error)
	Delete(ids []string) (int, error)
	Clear() error
	SearchText(query string) ([]history.Entry, error)
}

// Stats summarizes a stored transcript.
type Stats struct {
	TotalEntries int                  `json:"total_entries"`
	TotalBytes   int                  `json:"total_size_bytes"`
	KindCounts   map[history.Kind]int `json:"kind_counts"`
}

// FileHistoryStore keeps the transcript as one JSON array of entry
// envelopes, run through a codec on the way to disk. Produced images are
// kept in a plain-JSON sibling file regardless of the transcript codec.
type FileHistoryStore struct {
	mu         sync.RWMutex
	path       string
	imagesPath string
	codec      Codec
	entries    []history.Entry
	images     []history.Image
}

var _ HistoryStore = (*FileHistoryStore)(nil)

// NewFileHistoryStore loads the transcript at path. A missing file is an
// empty transcript; a file the codec cannot decode is an error, so a
// lost or rotated key can never silently wipe a transcript on the next
// append.
func NewFileHistoryStore(path string, codec Codec) (*FileHistoryStore, error) {
	if path == "" {
		return nil, errors.New("history store path is required")
	}
	if codec == nil {
		codec = PlainCodec{}
	}
	s := &FileHistoryStore{
		path:       path,
		imagesPath: filepath.Join(filepath.Dir(path), "generated_images.json"),
		codec:      codec,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileHistoryStore) load() error {
	b, err := os.ReadFile(s.path)
	if err == nil {
		plaintext, err := s.codec.Decode(b)
		if err != nil {
			return errors.Wrapf(err, "could not decode history file %s", s.path)
		}
		if err := json.Unmarshal(plaintext, &s.entries); err != nil {
			return errors.Wrapf(err, "could not parse history file %s", s.path)
		}
	} else if !os.IsNotExist(err) {
		return errors.Wrapf(err, "could not read history file %s", s.path)
	}

	ib, err := os.ReadFile(s.imagesPath)
	if err != nil {
		return nil
	}
	if err := json.Unmarshal(ib, &s.images); err != nil {
		// derived data, safe to start over
		log.Warn().Str("path", s.imagesPath).Err(err).Msg("discarding unreadable images file")
		s.images = nil
	}
	return nil
}

func (s *FileHistoryStore) persistLocked() error {
	plaintext, err := json.Marshal(s.entries)
	if err != nil {
		return errors.Wrap(err, "could not marshal history entries")
	}
	b, err := s.codec.Encode(plaintext)
	if err != nil {
		return err
	}
	return writeFileAtomic(s.path, b)
}

// Append stores the given entries and returns their ids. Entries without
// an id get a fresh envelope around their content.
func (s *FileHistoryStore) Append(entries []history.Entry) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.ID == "" {
			e = history.Wrap(e.Content)
		}
		s.entries = append(s.entries, e)
		ids = append(ids, e.ID)
	}
	if err := s.persistLocked(); err != nil {
		return nil, err
	}
	return ids, nil
}

// Load returns a deep copy of all stored entries, oldest first.
func (s *FileHistoryStore) Load() ([]history.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneEntries(s.entries), nil
}

// Delete removes the entries with the given ids and reports how many were
// actually present.
func (s *FileHistoryStore) Delete(ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	kept := make([]history.Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if _, ok := drop[e.ID]; ok {
			continue
		}
		kept = append(kept, e)
	}
	deleted := len(s.entries) - len(kept)
	if deleted == 0 {
		return 0, nil
	}
	s.entries = kept
	if err := s.persistLocked(); err != nil {
		return 0, err
	}
	return deleted, nil
}

func (s *FileHistoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	return s.persistLocked()
}

// SearchText returns the entries whose content matches the query,
// case-insensitively, anywhere in the JSON-encoded item (message text,
// tool arguments, tool output). A blank query matches nothing.
func (s *FileHistoryStore) SearchText(query string) ([]history.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil, nil
	}
	var matched []history.Entry
	for _, e := range s.entries {
		b, err := json.Marshal(e.Content)
		if err != nil {
			continue
		}
		if strings.Contains(strings.ToLower(string(b)), q) {
			matched = append(matched, e)
		}
	}
	return cloneEntries(matched), nil
}

func (s *FileHistoryStore) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{KindCounts: map[history.Kind]int{}}
	for _, e := range s.entries {
		stats.TotalEntries++
		stats.TotalBytes += e.Size
		stats.KindCounts[e.Kind]++
	}
	return stats
}

// AppendImages stores produced images alongside the transcript.
func (s *FileHistoryStore) AppendImages(images []history.Image) error {
	if len(images) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.images = append(s.images, images...)
	b, err := json.MarshalIndent(s.images, "", "  ")
	if err != nil {
		return errors.Wrap(err, "could not marshal images")
	}
	return writeFileAtomic(s.imagesPath, b)
}

func (s *FileHistoryStore) Images() []history.Image {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]history.Image, len(s.images))
	copy(out, s.images)
	return out
}

func cloneEntries(entries []history.Entry) []history.Entry {
	if len(entries) == 0 {
		return []history.Entry{}
	}
	return clone.Clone(entries).([]history.Entry)
}

func writeFileAtomic(path string, b []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "could not create %s", filepath.Dir(path))
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, b, 0o600); err != nil {
		return errors.Wrapf(err, "could not write %s", tmpPath)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return errors.Wrapf(err, "could not replace %s", path)
	}
	return nil
}
