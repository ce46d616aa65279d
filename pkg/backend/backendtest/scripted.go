package backendtest

import (
	"context"
	"io"
	"sync"

	"github.com/pkg/errors"

	"github.com/go-go-golems/mangiafuoco/pkg/backend"
	"github.com/go-go-golems/mangiafuoco/pkg/history"
)

// Turn is one scripted backend response: the stream events to play back,
// and an optional error to return once they are drained (instead of EOF).
type Turn struct {
	Events []backend.StreamEvent
	Err    error
}

// ScriptedBackend plays back canned turns in order and records every
// request it receives, so tests can assert on both sides of the contract.
type ScriptedBackend struct {
	mu        sync.Mutex
	turns     []Turn
	next      int
	SubmitErr error

	Requests []*backend.Request
}

func NewScriptedBackend(turns ...Turn) *ScriptedBackend {
	return &ScriptedBackend{turns: turns}
}

var _ backend.Backend = (*ScriptedBackend)(nil)

func (b *ScriptedBackend) Submit(_ context.Context, req *backend.Request) (backend.Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.Requests = append(b.Requests, req)
	if b.SubmitErr != nil {
		return nil, b.SubmitErr
	}
	if b.next >= len(b.turns) {
		return nil, errors.Errorf("scripted backend exhausted after %d turns", len(b.turns))
	}
	turn := b.turns[b.next]
	b.next++
	return &scriptedStream{events: turn.Events, err: turn.Err}, nil
}

// RequestCount returns how many times Submit was called.
func (b *ScriptedBackend) RequestCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.Requests)
}

type scriptedStream struct {
	events []backend.StreamEvent
	pos    int
	err    error
}

var _ backend.Stream = (*scriptedStream)(nil)

func (s *scriptedStream) Next() (*backend.StreamEvent, error) {
	if s.pos >= len(s.events) {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	ev := s.events[s.pos]
	s.pos++
	return &ev, nil
}

func (s *scriptedStream) Close() error {
	return nil
}

// DefaultUsage is the token accounting attached to scripted turns.
var DefaultUsage = map[string]any{
	"input_tokens":          10,
	"input_tokens_details":  map[string]any{"cached_tokens": 2},
	"output_tokens":         5,
	"output_tokens_details": map[string]any{"reasoning_tokens": 1},
	"total_tokens":          15,
}

func messageItem(text string) map[string]any {
	return map[string]any{
		history.KeyType: history.TypeMessage,
		history.KeyRole: history.RoleAssistant,
		history.KeyContent: []any{
			map[string]any{
				history.KeyType: history.PartOutputText,
				history.KeyText: text,
			},
		},
	}
}

func functionCallItem(callID, name, args string) map[string]any {
	return map[string]any{
		history.KeyType:      history.TypeFunctionCall,
		history.KeyID:        "fc_" + callID,
		history.KeyCallID:    callID,
		history.KeyName:      name,
		history.KeyArguments: args,
	}
}

func completed(output ...map[string]any) backend.StreamEvent {
	items := make([]any, 0, len(output))
	for _, item := range output {
		items = append(items, item)
	}
	return backend.StreamEvent{
		Type: backend.TypeCompleted,
		Payload: map[string]any{
			"type": backend.TypeCompleted,
			"response": map[string]any{
				"output": items,
				"usage":  DefaultUsage,
			},
		},
	}
}

// TextTurn scripts an assistant turn that streams text and calls no tools.
func TextTurn(text string) Turn {
	return Turn{Events: []backend.StreamEvent{
		{Type: backend.TypeContentPartAdded, Payload: map[string]any{"type": backend.TypeContentPartAdded}},
		{Type: backend.TypeOutputTextDelta, Payload: map[string]any{"type": backend.TypeOutputTextDelta, "delta": text}},
		{Type: backend.TypeOutputTextDone, Payload: map[string]any{"type": backend.TypeOutputTextDone, "text": text}},
		completed(messageItem(text)),
	}}
}

// ToolCallTurn scripts an assistant turn that only calls a tool.
func ToolCallTurn(callID, name, args string) Turn {
	item := functionCallItem(callID, name, args)
	return Turn{Events: []backend.StreamEvent{
		{Type: backend.TypeOutputItemDone, Payload: map[string]any{"type": backend.TypeOutputItemDone, "item": item}},
		completed(item),
	}}
}

// TextAndToolCallTurn scripts a turn where the assistant both answers and
// calls a tool.
func TextAndToolCallTurn(text, callID, name, args string) Turn {
	item := functionCallItem(callID, name, args)
	return Turn{Events: []backend.StreamEvent{
		{Type: backend.TypeContentPartAdded, Payload: map[string]any{"type": backend.TypeContentPartAdded}},
		{Type: backend.TypeOutputTextDelta, Payload: map[string]any{"type": backend.TypeOutputTextDelta, "delta": text}},
		{Type: backend.TypeOutputTextDone, Payload: map[string]any{"type": backend.TypeOutputTextDone, "text": text}},
		{Type: backend.TypeOutputItemDone, Payload: map[string]any{"type": backend.TypeOutputItemDone, "item": item}},
		completed(messageItem(text), item),
	}}
}

// ReasoningTurn scripts a turn that streams a reasoning summary before the
// final text.
func ReasoningTurn(summary, text string) Turn {
	reasoningItem := map[string]any{
		history.KeyType:   history.TypeReasoning,
		history.KeyID:     "rs_1",
		history.KeyStatus: "completed",
		history.KeySummary: []any{
			map[string]any{"type": "summary_text", "text": summary},
		},
	}
	return Turn{Events: []backend.StreamEvent{
		{Type: backend.TypeReasoningSummaryPartAdded, Payload: map[string]any{"type": backend.TypeReasoningSummaryPartAdded}},
		{Type: backend.TypeReasoningSummaryTextDelta, Payload: map[string]any{"type": backend.TypeReasoningSummaryTextDelta, "delta": summary}},
		{Type: backend.TypeReasoningSummaryTextDone, Payload: map[string]any{"type": backend.TypeReasoningSummaryTextDone, "text": summary}},
		{Type: backend.TypeContentPartAdded, Payload: map[string]any{"type": backend.TypeContentPartAdded}},
		{Type: backend.TypeOutputTextDelta, Payload: map[string]any{"type": backend.TypeOutputTextDelta, "delta": text}},
		{Type: backend.TypeOutputTextDone, Payload: map[string]any{"type": backend.TypeOutputTextDone, "text": text}},
		completed(reasoningItem, messageItem(text)),
	}}
}
