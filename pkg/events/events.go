package events

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/go-go-golems/mangiafuoco/pkg/history"
)

// Kind identifies one InternalEvent variant. The set is closed: producers
// go through the constructors below and consumers type-switch on the
// concrete event structs, so an unknown kind cannot enter the system.
type Kind string

const (
	KindReasoningStarted Kind = "reasoning-started"
	KindReasoningDelta   Kind = "reasoning-delta"
	KindReasoningDone    Kind = "reasoning-done"
	KindTextStarted      Kind = "text-started"
	KindTextDelta        Kind = "text-delta"
	KindTextDone         Kind = "text-done"
	KindToolCall         Kind = "tool-call-completed"
	KindImageStarted     Kind = "image-generation-started"
	KindImagePartial     Kind = "image-generation-partial"
	KindImageDone        Kind = "image-generation-done"
	KindTurnCompleted    Kind = "turn-completed"
	KindRunDone          Kind = "run-done"
	KindError            Kind = "error"
)

// Meta travels with every event emitted during a run.
type Meta struct {
	ID        uuid.UUID `json:"id"`
	RunID     string    `json:"run_id,omitempty"`
	AgentName string    `json:"agent_name"`
	Turn      int       `json:"turn,omitempty"`
}

func (m Meta) MarshalZerologObject(e *zerolog.Event) {
	e.Str("id", m.ID.String())
	if m.RunID != "" {
		e.Str("run_id", m.RunID)
	}
	e.Str("agent_name", m.AgentName)
	if m.Turn > 0 {
		e.Int("turn", m.Turn)
	}
}

// Event is one unit of agent output, produced continuously during a run
// and consumed immediately by the transport.
type Event interface {
	Kind() Kind
	Meta() Meta
	// Content returns the kind-specific payload as the transport artifact
	// map. Keys match the json tags of the concrete event struct so that
	// MarshalWire/UnmarshalWire round-trip.
	Content() map[string]any
}

// EventImpl carries the fields common to all events. Concrete event types
// embed it.
type EventImpl struct {
	Kind_ Kind `json:"kind"`
	Meta_ Meta `json:"meta"`
}

func (e *EventImpl) Kind() Kind { return e.Kind_ }
func (e *EventImpl) Meta() Meta { return e.Meta_ }

func (e *EventImpl) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("kind", string(e.Kind_)).Object("meta", e.Meta_)
}

func newEventImpl(kind Kind, meta Meta) EventImpl {
	if meta.ID == uuid.Nil {
		meta.ID = uuid.New()
	}
	return EventImpl{Kind_: kind, Meta_: meta}
}

// Usage is the per-turn token accounting bundled into a turn-completed
// event.
type Usage struct {
	Turn            int `json:"turn"`
	InputTokens     int `json:"input_tokens"`
	CachedTokens    int `json:"cached_tokens"`
	OutputTokens    int `json:"output_tokens"`
	ReasoningTokens int `json:"reasoning_tokens"`
	TotalTokens     int `json:"total_tokens"`
}

func (u Usage) MarshalZerologObject(e *zerolog.Event) {
	e.Int("turn", u.Turn).
		Int("input_tokens", u.InputTokens).
		Int("cached_tokens", u.CachedTokens).
		Int("output_tokens", u.OutputTokens).
		Int("reasoning_tokens", u.ReasoningTokens).
		Int("total_tokens", u.TotalTokens)
}

// ToolCall is a completed tool request extracted from the backend stream.
// Arguments is the raw JSON-encoded argument string as the backend sent it.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type EventReasoningStarted struct {
	EventImpl
}

func NewReasoningStartedEvent(meta Meta) *EventReasoningStarted {
	return &EventReasoningStarted{EventImpl: newEventImpl(KindReasoningStarted, meta)}
}

func (e *EventReasoningStarted) Content() map[string]any { return map[string]any{} }

type EventReasoningDelta struct {
	EventImpl
	Delta string `json:"delta"`
}

func NewReasoningDeltaEvent(meta Meta, delta string) *EventReasoningDelta {
	return &EventReasoningDelta{EventImpl: newEventImpl(KindReasoningDelta, meta), Delta: delta}
}

func (e *EventReasoningDelta) Content() map[string]any { return map[string]any{"delta": e.Delta} }

type EventReasoningDone struct {
	EventImpl
	Text string `json:"text"`
}

func NewReasoningDoneEvent(meta Meta, text string) *EventReasoningDone {
	return &EventReasoningDone{EventImpl: newEventImpl(KindReasoningDone, meta), Text: text}
}

func (e *EventReasoningDone) Content() map[string]any { return map[string]any{"text": e.Text} }

type EventTextStarted struct {
	EventImpl
}

func NewTextStartedEvent(meta Meta) *EventTextStarted {
	return &EventTextStarted{EventImpl: newEventImpl(KindTextStarted, meta)}
}

func (e *EventTextStarted) Content() map[string]any { return map[string]any{} }

type EventTextDelta struct {
	EventImpl
	Delta string `json:"delta"`
}

func NewTextDeltaEvent(meta Meta, delta string) *EventTextDelta {
	return &EventTextDelta{EventImpl: newEventImpl(KindTextDelta, meta), Delta: delta}
}

func (e *EventTextDelta) Content() map[string]any { return map[string]any{"delta": e.Delta} }

type EventTextDone struct {
	EventImpl
	Text string `json:"text"`
}

func NewTextDoneEvent(meta Meta, text string) *EventTextDone {
	return &EventTextDone{EventImpl: newEventImpl(KindTextDone, meta), Text: text}
}

func (e *EventTextDone) Content() map[string]any { return map[string]any{"text": e.Text} }

type EventToolCall struct {
	EventImpl
	ToolCall ToolCall `json:"tool_call"`
}

func NewToolCallEvent(meta Meta, call ToolCall) *EventToolCall {
	return &EventToolCall{EventImpl: newEventImpl(KindToolCall, meta), ToolCall: call}
}

func (e *EventToolCall) Content() map[string]any {
	return map[string]any{"tool_call": e.ToolCall}
}

type EventImageStarted struct {
	EventImpl
	ItemID string `json:"item_id,omitempty"`
}

func NewImageStartedEvent(meta Meta, itemID string) *EventImageStarted {
	return &EventImageStarted{EventImpl: newEventImpl(KindImageStarted, meta), ItemID: itemID}
}

func (e *EventImageStarted) Content() map[string]any {
	m := map[string]any{}
	if e.ItemID != "" {
		m["item_id"] = e.ItemID
	}
	return m
}

type EventImagePartial struct {
	EventImpl
	ItemID string `json:"item_id,omitempty"`
	Index  int    `json:"index"`
	B64    string `json:"b64,omitempty"`
}

func NewImagePartialEvent(meta Meta, itemID string, index int, b64 string) *EventImagePartial {
	return &EventImagePartial{
		EventImpl: newEventImpl(KindImagePartial, meta),
		ItemID:    itemID,
		Index:     index,
		B64:       b64,
	}
}

func (e *EventImagePartial) Content() map[string]any {
	m := map[string]any{"index": e.Index}
	if e.ItemID != "" {
		m["item_id"] = e.ItemID
	}
	if e.B64 != "" {
		m["b64"] = e.B64
	}
	return m
}

type EventImageDone struct {
	EventImpl
	ItemID string `json:"item_id,omitempty"`
}

func NewImageDoneEvent(meta Meta, itemID string) *EventImageDone {
	return &EventImageDone{EventImpl: newEventImpl(KindImageDone, meta), ItemID: itemID}
}

func (e *EventImageDone) Content() map[string]any {
	m := map[string]any{}
	if e.ItemID != "" {
		m["item_id"] = e.ItemID
	}
	return m
}

type EventTurnCompleted struct {
	EventImpl
	Usage Usage `json:"usage"`
}

func NewTurnCompletedEvent(meta Meta, usage Usage) *EventTurnCompleted {
	return &EventTurnCompleted{EventImpl: newEventImpl(KindTurnCompleted, meta), Usage: usage}
}

func (e *EventTurnCompleted) Content() map[string]any {
	return map[string]any{"usage": e.Usage}
}

// EventRunDone is the single terminal event of every run. Its content
// always carries the final message, the run duration, the transcript
// assembled during the run, any produced images, and whether the run was
// stopped by the caller.
type EventRunDone struct {
	EventImpl
	Message         string          `json:"message"`
	DurationSeconds float64         `json:"duration_seconds"`
	History         []history.Entry `json:"history"`
	ProducedImages  []history.Image `json:"produced_images"`
	Stopped         bool            `json:"stopped"`
}

func NewRunDoneEvent(
	meta Meta,
	message string,
	duration float64,
	entries []history.Entry,
	images []history.Image,
	stopped bool,
) *EventRunDone {
	if entries == nil {
		entries = []history.Entry{}
	}
	if images == nil {
		images = []history.Image{}
	}
	return &EventRunDone{
		EventImpl:       newEventImpl(KindRunDone, meta),
		Message:         message,
		DurationSeconds: duration,
		History:         entries,
		ProducedImages:  images,
		Stopped:         stopped,
	}
}

func (e *EventRunDone) Content() map[string]any {
	return map[string]any{
		"message":          e.Message,
		"duration_seconds": e.DurationSeconds,
		"history":          e.History,
		"produced_images":  e.ProducedImages,
		"stopped":          e.Stopped,
	}
}

type EventError struct {
	EventImpl
	ErrorString string `json:"error_string"`
}

func NewErrorEvent(meta Meta, err error) *EventError {
	return &EventError{EventImpl: newEventImpl(KindError, meta), ErrorString: err.Error()}
}

func (e *EventError) Content() map[string]any { return map[string]any{"error_string": e.ErrorString} }

var (
	_ Event = (*EventReasoningStarted)(nil)
	_ Event = (*EventReasoningDelta)(nil)
	_ Event = (*EventReasoningDone)(nil)
	_ Event = (*EventTextStarted)(nil)
	_ Event = (*EventTextDelta)(nil)
	_ Event = (*EventTextDone)(nil)
	_ Event = (*EventToolCall)(nil)
	_ Event = (*EventImageStarted)(nil)
	_ Event = (*EventImagePartial)(nil)
	_ Event = (*EventImageDone)(nil)
	_ Event = (*EventTurnCompleted)(nil)
	_ Event = (*EventRunDone)(nil)
	_ Event = (*EventError)(nil)
)
