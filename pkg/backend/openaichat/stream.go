package openaichat

import (
	"io"

	"github.com/pkg/errors"
	go_openai "github.com/sashabaranov/go-openai"

	"github.com/go-go-golems/mangiafuoco/pkg/backend"
	"github.com/go-go-golems/mangiafuoco/pkg/history"
)

// toolCallMerger folds streamed tool-call fragments into whole calls.
// Chunks carry an index and partial name/argument strings; fragments with
// the same index belong to the same call.
type toolCallMerger struct {
	calls map[int]go_openai.ToolCall
	order []int
}

func newToolCallMerger() *toolCallMerger {
	return &toolCallMerger{
		calls: make(map[int]go_openai.ToolCall),
	}
}

func (tcm *toolCallMerger) AddToolCalls(toolCalls []go_openai.ToolCall) {
	for _, call := range toolCalls {
		index := 0
		if call.Index != nil {
			index = *call.Index
		}
		if existing, found := tcm.calls[index]; found {
			existing.Function.Name += call.Function.Name
			existing.Function.Arguments += call.Function.Arguments
			if existing.ID == "" {
				existing.ID = call.ID
			}
			tcm.calls[index] = existing
		} else {
			tcm.calls[index] = call
			tcm.order = append(tcm.order, index)
		}
	}
}

func (tcm *toolCallMerger) GetToolCalls() []go_openai.ToolCall {
	result := make([]go_openai.ToolCall, 0, len(tcm.order))
	for _, index := range tcm.order {
		result = append(result, tcm.calls[index])
	}
	return result
}

// chatStream re-shapes chat completion chunks into the Responses event
// vocabulary. Text deltas map one to one; tool-call fragments are merged
// and surfaced as output_item.done events once the provider stream ends,
// followed by a synthesized response.completed event.
type chatStream struct {
	stream  *go_openai.ChatCompletionStream
	merger  *toolCallMerger
	pending []*backend.StreamEvent
	message string
	started bool
	usage   *go_openai.Usage
	done    bool
}

func newChatStream(stream *go_openai.ChatCompletionStream) *chatStream {
	return &chatStream{
		stream: stream,
		merger: newToolCallMerger(),
	}
}

var _ backend.Stream = (*chatStream)(nil)

func (s *chatStream) Next() (*backend.StreamEvent, error) {
	for {
		if len(s.pending) > 0 {
			ev := s.pending[0]
			s.pending = s.pending[1:]
			return ev, nil
		}
		if s.done {
			return nil, io.EOF
		}

		chunk, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			s.done = true
			s.finalize()
			continue
		}
		if err != nil {
			return nil, errors.Wrap(err, "error receiving chat completion chunk")
		}

		if chunk.Usage != nil {
			s.usage = chunk.Usage
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta

		if len(delta.ToolCalls) > 0 {
			s.merger.AddToolCalls(delta.ToolCalls)
		}
		if delta.Content == "" {
			continue
		}

		if !s.started {
			s.started = true
			s.pending = append(s.pending, &backend.StreamEvent{
				Type:    backend.TypeContentPartAdded,
				Payload: map[string]any{"type": backend.TypeContentPartAdded},
			})
		}
		s.message += delta.Content
		s.pending = append(s.pending, &backend.StreamEvent{
			Type: backend.TypeOutputTextDelta,
			Payload: map[string]any{
				"type":  backend.TypeOutputTextDelta,
				"delta": delta.Content,
			},
		})
	}
}

func (s *chatStream) finalize() {
	if s.started {
		s.pending = append(s.pending, &backend.StreamEvent{
			Type: backend.TypeOutputTextDone,
			Payload: map[string]any{
				"type": backend.TypeOutputTextDone,
				"text": s.message,
			},
		})
	}

	var output []any
	if s.message != "" {
		output = append(output, map[string]any{
			history.KeyType: history.TypeMessage,
			history.KeyRole: history.RoleAssistant,
			history.KeyContent: []any{
				map[string]any{
					history.KeyType: history.PartOutputText,
					history.KeyText: s.message,
				},
			},
		})
	}

	for i, call := range s.merger.GetToolCalls() {
		item := map[string]any{
			history.KeyType:      history.TypeFunctionCall,
			history.KeyID:        syntheticItemID(i, call.ID),
			history.KeyCallID:    call.ID,
			history.KeyName:      call.Function.Name,
			history.KeyArguments: call.Function.Arguments,
		}
		output = append(output, item)
		s.pending = append(s.pending, &backend.StreamEvent{
			Type: backend.TypeOutputItemDone,
			Payload: map[string]any{
				"type": backend.TypeOutputItemDone,
				"item": item,
			},
		})
	}

	s.pending = append(s.pending, &backend.StreamEvent{
		Type: backend.TypeCompleted,
		Payload: map[string]any{
			"type": backend.TypeCompleted,
			"response": map[string]any{
				"output": output,
				"usage":  usageMap(s.usage),
			},
		},
	})
}

func usageMap(usage *go_openai.Usage) map[string]any {
	if usage == nil {
		return map[string]any{}
	}
	m := map[string]any{
		"input_tokens":  usage.PromptTokens,
		"output_tokens": usage.CompletionTokens,
		"total_tokens":  usage.TotalTokens,
	}
	if usage.PromptTokensDetails != nil {
		m["input_tokens_details"] = map[string]any{
			"cached_tokens": usage.PromptTokensDetails.CachedTokens,
		}
	}
	if usage.CompletionTokensDetails != nil {
		m["output_tokens_details"] = map[string]any{
			"reasoning_tokens": usage.CompletionTokensDetails.ReasoningTokens,
		}
	}
	return m
}

func (s *chatStream) Close() error {
	s.done = true
	return s.stream.Close()
}
