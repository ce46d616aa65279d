package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/huandu/go-clone"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/mangiafuoco/pkg/backend"
	"github.com/go-go-golems/mangiafuoco/pkg/events"
	"github.com/go-go-golems/mangiafuoco/pkg/history"
	"github.com/go-go-golems/mangiafuoco/pkg/tools"
)

// consumeStream pulls provider events for one turn and re-emits them in
// the internal vocabulary. A stop request abandons the stream between
// pulls; the loop's stop check then finishes the run.
func (r *run) consumeStream(ctx context.Context, stream backend.Stream) error {
	partialImages := map[string]string{}

	for {
		if r.agent.stopRequested.Load() {
			return nil
		}

		ev, err := stream.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		if err := r.translate(ctx, ev, partialImages); err != nil {
			return err
		}
	}
}

// translate maps one provider event onto internal events. Event types we
// don't know are ignored so new provider features never break a run.
func (r *run) translate(ctx context.Context, ev *backend.StreamEvent, partialImages map[string]string) error {
	switch ev.Type {
	case backend.TypeReasoningSummaryPartAdded:
		return r.emit(ctx, events.NewReasoningStartedEvent(r.meta()))

	case backend.TypeReasoningSummaryTextDelta:
		return r.emit(ctx, events.NewReasoningDeltaEvent(r.meta(), ev.Delta()))

	case backend.TypeReasoningSummaryTextDone:
		return r.emit(ctx, events.NewReasoningDoneEvent(r.meta(), ev.Text()))

	case backend.TypeContentPartAdded:
		return r.emit(ctx, events.NewTextStartedEvent(r.meta()))

	case backend.TypeOutputTextDelta:
		return r.emit(ctx, events.NewTextDeltaEvent(r.meta(), ev.Delta()))

	case backend.TypeOutputTextDone:
		return r.emit(ctx, events.NewTextDoneEvent(r.meta(), ev.Text()))

	case backend.TypeOutputItemDone:
		item := ev.Item()
		if item == nil {
			return nil
		}
		typ, _ := item[history.KeyType].(string)
		if typ != history.TypeFunctionCall && typ != history.TypeCustomToolCall {
			return nil
		}
		callID, _ := item[history.KeyCallID].(string)
		name, _ := item[history.KeyName].(string)
		args, _ := item[history.KeyArguments].(string)
		return r.emit(ctx, events.NewToolCallEvent(r.meta(), events.ToolCall{
			ID:        callID,
			Name:      name,
			Arguments: args,
		}))

	case backend.TypeImageGenerating:
		return r.emit(ctx, events.NewImageStartedEvent(r.meta(), ev.Str("item_id")))

	case backend.TypeImagePartial:
		itemID := ev.Str("item_id")
		b64 := ev.Str("partial_image_b64")
		if b64 != "" {
			partialImages[itemID] = b64
		}
		return r.emit(ctx, events.NewImagePartialEvent(r.meta(), itemID, toInt(ev.Payload["partial_image_index"]), b64))

	case backend.TypeImageCompleted:
		itemID := ev.Str("item_id")
		if b64, ok := partialImages[itemID]; ok {
			r.assembler.AddImage(history.Image{
				ItemID:    itemID,
				B64:       b64,
				MediaType: "image/png",
			})
			delete(partialImages, itemID)
		}
		return r.emit(ctx, events.NewImageDoneEvent(r.meta(), itemID))

	case backend.TypeCompleted:
		return r.handleCompleted(ctx, ev.Response())

	default:
		log.Trace().Str("type", ev.Type).Msg("ignoring unknown provider event")
		return nil
	}
}

// handleCompleted finishes the turn: it parses token usage, walks the
// response's output items — dispatching function calls and appending
// transcript entries — and then emits the turn-completed event.
func (r *run) handleCompleted(ctx context.Context, response map[string]any) error {
	if response == nil {
		return nil
	}

	if u, ok := response["usage"].(map[string]any); ok {
		r.usage = &events.Usage{
			Turn:            r.turn,
			InputTokens:     toInt(u["input_tokens"]),
			CachedTokens:    nestedInt(u, "input_tokens_details", "cached_tokens"),
			OutputTokens:    toInt(u["output_tokens"]),
			ReasoningTokens: nestedInt(u, "output_tokens_details", "reasoning_tokens"),
			TotalTokens:     toInt(u["total_tokens"]),
		}
	}

	output, _ := response["output"].([]any)
	for _, raw := range output {
		item, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		switch item[history.KeyType] {
		case history.TypeFunctionCall:
			r.toolCallSeen = true
			r.dispatchFunctionCall(ctx, item)

		case history.TypeReasoning:
			// the provider rejects resubmitted reasoning items that
			// still carry a status field
			copied := clone.Clone(item).(map[string]any)
			delete(copied, history.KeyStatus)
			r.assembler.AppendContent(copied)

		case history.TypeMessage:
			r.assembler.AppendContent(item)
		}
	}

	if r.usage != nil {
		return r.emit(ctx, events.NewTurnCompletedEvent(r.meta(), *r.usage))
	}
	return nil
}

func (r *run) dispatchFunctionCall(ctx context.Context, item map[string]any) {
	callID, _ := item[history.KeyCallID].(string)
	name, _ := item[history.KeyName].(string)
	args, _ := item[history.KeyArguments].(string)

	result := r.agent.dispatcher.Dispatch(ctx, tools.Call{
		ID:        callID,
		Name:      name,
		Arguments: args,
	})

	r.assembler.AppendContent(item)
	r.assembler.AppendContent(map[string]any{
		history.KeyType:   history.TypeFunctionCallOutput,
		history.KeyCallID: callID,
		history.KeyOutput: marshalToolResult(result),
	})
}

func marshalToolResult(result interface{}) string {
	b, err := json.Marshal(result)
	if err != nil {
		log.Warn().Err(err).Msg("tool result is not serializable")
		fallback, _ := json.Marshal(map[string]string{
			"error": fmt.Sprintf("Tool result not serializable: %s", err.Error()),
		})
		return string(fallback)
	}
	return string(b)
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0
		}
		return int(i)
	default:
		return 0
	}
}

func nestedInt(m map[string]any, key, sub string) int {
	details, ok := m[key].(map[string]any)
	if !ok {
		return 0
	}
	return toInt(details[sub])
}
