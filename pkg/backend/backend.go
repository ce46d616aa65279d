package backend

import (
	"context"

	"github.com/invopop/jsonschema"
)

// ToolSpec advertises one tool to the backend. Parameters travel verbatim;
// the backend sees exactly the schema the tool registered.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  *jsonschema.Schema
}

// ReasoningControls tune reasoning-capable models.
type ReasoningControls struct {
	Effort  string
	Summary string
}

// TurnControls are the per-request knobs forwarded on every turn.
type TurnControls struct {
	Model           string
	Temperature     *float64
	TopP            *float64
	MaxOutputTokens *int
	ToolChoice      string
	Reasoning       *ReasoningControls
	TextVerbosity   string
	Include         []string
	Store           bool
	Stream          bool
	PromptCacheKey  string
}

// Request is one turn submitted to the backend: system instructions, the
// provider-native input items (prior context plus the transcript assembled
// so far), the advertised tools, and the turn controls.
type Request struct {
	Instructions string
	Input        []map[string]any
	Tools        []ToolSpec
	Controls     TurnControls
}

// StreamEvent is one provider event. Type discriminates; Payload holds the
// kind-specific fields as the provider sent them. Consumers must ignore
// types they do not recognize.
type StreamEvent struct {
	Type    string
	Payload map[string]any
}

// Str returns a string field of the payload, or "" when absent.
func (e *StreamEvent) Str(key string) string {
	if e.Payload == nil {
		return ""
	}
	s, _ := e.Payload[key].(string)
	return s
}

// Delta returns the payload's delta field.
func (e *StreamEvent) Delta() string { return e.Str("delta") }

// Text returns the payload's text field.
func (e *StreamEvent) Text() string { return e.Str("text") }

// Item returns the payload's item object, or nil.
func (e *StreamEvent) Item() map[string]any {
	if e.Payload == nil {
		return nil
	}
	m, _ := e.Payload["item"].(map[string]any)
	return m
}

// Response returns the payload's response envelope, or nil.
func (e *StreamEvent) Response() map[string]any {
	if e.Payload == nil {
		return nil
	}
	m, _ := e.Payload["response"].(map[string]any)
	return m
}

// Stream yields the provider events of one turn, in emission order. Next
// returns io.EOF once the turn's stream is drained; any other error means
// the turn failed.
type Stream interface {
	Next() (*StreamEvent, error)
	Close() error
}

// Backend is the generative-model client a run submits turns to.
type Backend interface {
	Submit(ctx context.Context, req *Request) (Stream, error)
}

// Provider event types the translator understands. The set is open on the
// wire: backends may emit others and consumers skip them.
const (
	TypeReasoningSummaryPartAdded = "response.reasoning_summary_part.added"
	TypeReasoningSummaryTextDelta = "response.reasoning_summary_text.delta"
	TypeReasoningSummaryTextDone  = "response.reasoning_summary_text.done"
	TypeContentPartAdded          = "response.content_part.added"
	TypeOutputTextDelta           = "response.output_text.delta"
	TypeOutputTextDone            = "response.output_text.done"
	TypeOutputItemDone            = "response.output_item.done"
	TypeImageGenerating           = "response.image_generation_call.generating"
	TypeImagePartial              = "response.image_generation_call.partial_image"
	TypeImageCompleted            = "response.image_generation_call.completed"
	TypeCompleted                 = "response.completed"
)
