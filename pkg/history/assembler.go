package history

import (
	"github.com/huandu/go-clone"
)

// Assembler accumulates the ordered transcript of one run. It is purely
// in-memory and append-only; persistence happens elsewhere, at run
// boundaries.
type Assembler struct {
	entries []Entry
	images  []Image
}

func NewAssembler() *Assembler {
	return &Assembler{}
}

// Seed records the single turn-1 user-message entry.
func (a *Assembler) Seed(message string, attachments []Attachment) Entry {
	e := NewUserEntry(message, attachments)
	a.entries = append(a.entries, e)
	return e
}

// Append adds an already wrapped entry.
func (a *Assembler) Append(e Entry) {
	a.entries = append(a.entries, e)
}

// AppendContent wraps a provider-native item and appends it.
func (a *Assembler) AppendContent(content map[string]any) Entry {
	e := Wrap(content)
	a.entries = append(a.entries, e)
	return e
}

func (a *Assembler) AddImage(img Image) {
	a.images = append(a.images, img)
}

func (a *Assembler) Len() int {
	return len(a.entries)
}

// Entries returns a deep copy of the transcript so far, so callers cannot
// mutate the assembled history through the returned maps.
func (a *Assembler) Entries() []Entry {
	if a.entries == nil {
		return []Entry{}
	}
	return clone.Clone(a.entries).([]Entry)
}

func (a *Assembler) Images() []Image {
	if a.images == nil {
		return []Image{}
	}
	out := make([]Image, len(a.images))
	copy(out, a.images)
	return out
}

// Items returns the provider-native content items in order, for building
// the next backend request.
func (a *Assembler) Items() []map[string]any {
	return Unwrap(a.entries)
}
