package openaichat

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	go_openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/mangiafuoco/pkg/backend"
	"github.com/go-go-golems/mangiafuoco/pkg/history"
)

const toolCallChunks = `data: {"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"Let me check."}}]}

data: {"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"get_","arguments":""}}]}}]}

data: {"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"name":"todos","arguments":"{}"}}]}}]}

data: {"id":"c1","object":"chat.completion.chunk","choices":[],"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}

data: [DONE]

`

func newChatServer(t *testing.T, sse string, capture *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		if capture != nil {
			b, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			require.NoError(t, json.Unmarshal(b, capture))
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(sse))
	}))
}

func drain(t *testing.T, stream backend.Stream) []*backend.StreamEvent {
	t.Helper()
	var evs []*backend.StreamEvent
	for {
		ev, err := stream.Next()
		if err == io.EOF {
			return evs
		}
		require.NoError(t, err)
		evs = append(evs, ev)
	}
}

func TestSubmitSynthesizesResponsesEvents(t *testing.T) {
	var captured map[string]any
	srv := newChatServer(t, toolCallChunks, &captured)
	defer srv.Close()

	e := New("test-key", WithBaseURL(srv.URL+"/v1"))
	stream, err := e.Submit(context.Background(), &backend.Request{
		Instructions: "be helpful",
		Input: []map[string]any{
			{"role": "user", "content": []map[string]any{{"type": "input_text", "text": "what's pending?"}}},
		},
		Tools: []backend.ToolSpec{
			{Name: "get_todos", Description: "List todos"},
		},
		Controls: backend.TurnControls{Model: "gpt-4o", ToolChoice: "auto"},
	})
	require.NoError(t, err)
	defer func() { _ = stream.Close() }()

	evs := drain(t, stream)
	var types []string
	for _, ev := range evs {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{
		backend.TypeContentPartAdded,
		backend.TypeOutputTextDelta,
		backend.TypeOutputTextDone,
		backend.TypeOutputItemDone,
		backend.TypeCompleted,
	}, types)

	item := evs[3].Item()
	require.NotNil(t, item)
	assert.Equal(t, history.TypeFunctionCall, item[history.KeyType])
	assert.Equal(t, "call_1", item[history.KeyCallID])
	assert.Equal(t, "get_todos", item[history.KeyName])
	assert.Equal(t, "{}", item[history.KeyArguments])

	response := evs[4].Response()
	require.NotNil(t, response)
	usage, ok := response["usage"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 10, usage["input_tokens"])
	assert.Equal(t, 5, usage["output_tokens"])

	// system message carries the instructions, tools are advertised
	messages, ok := captured["messages"].([]any)
	require.True(t, ok)
	first := messages[0].(map[string]any)
	assert.Equal(t, "system", first["role"])
	assert.Equal(t, "be helpful", first["content"])
	tools, ok := captured["tools"].([]any)
	require.True(t, ok)
	require.Len(t, tools, 1)
}

func TestItemToMessageMapping(t *testing.T) {
	tests := []struct {
		name     string
		item     map[string]any
		wantRole string
		wantSkip bool
		check    func(t *testing.T, msg go_openai.ChatCompletionMessage)
	}{
		{
			name: "user text parts",
			item: map[string]any{
				"role": "user",
				"content": []map[string]any{
					{"type": "input_text", "text": "hello"},
				},
			},
			wantRole: "user",
			check: func(t *testing.T, msg go_openai.ChatCompletionMessage) {
				assert.Equal(t, "hello", msg.Content)
			},
		},
		{
			name: "user text with image",
			item: map[string]any{
				"role": "user",
				"content": []map[string]any{
					{"type": "input_text", "text": "describe this"},
					{"type": "input_image", "image_url": "data:image/png;base64,aGk="},
				},
			},
			wantRole: "user",
			check: func(t *testing.T, msg go_openai.ChatCompletionMessage) {
				require.Len(t, msg.MultiContent, 2)
				assert.Equal(t, go_openai.ChatMessagePartTypeText, msg.MultiContent[0].Type)
				assert.Equal(t, go_openai.ChatMessagePartTypeImageURL, msg.MultiContent[1].Type)
				assert.Equal(t, "data:image/png;base64,aGk=", msg.MultiContent[1].ImageURL.URL)
			},
		},
		{
			name: "function call",
			item: map[string]any{
				"type":      "function_call",
				"call_id":   "call_9",
				"name":      "add_todo",
				"arguments": `{"text":"buy milk"}`,
			},
			wantRole: "assistant",
			check: func(t *testing.T, msg go_openai.ChatCompletionMessage) {
				require.Len(t, msg.ToolCalls, 1)
				assert.Equal(t, "call_9", msg.ToolCalls[0].ID)
				assert.Equal(t, "add_todo", msg.ToolCalls[0].Function.Name)
			},
		},
		{
			name: "function call output",
			item: map[string]any{
				"type":    "function_call_output",
				"call_id": "call_9",
				"output":  `{"status":"success"}`,
			},
			wantRole: "tool",
			check: func(t *testing.T, msg go_openai.ChatCompletionMessage) {
				assert.Equal(t, "call_9", msg.ToolCallID)
				assert.Equal(t, `{"status":"success"}`, msg.Content)
			},
		},
		{
			name:     "reasoning items are dropped",
			item:     map[string]any{"type": "reasoning", "summary": []any{}},
			wantSkip: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, ok, err := itemToMessage(tt.item)
			require.NoError(t, err)
			if tt.wantSkip {
				assert.False(t, ok)
				return
			}
			require.True(t, ok)
			assert.Equal(t, tt.wantRole, msg.Role)
			if tt.check != nil {
				tt.check(t, msg)
			}
		})
	}
}

func TestToolCallMergerJoinsFragments(t *testing.T) {
	merger := newToolCallMerger()
	idx0, idx1 := 0, 1
	merger.AddToolCalls([]go_openai.ToolCall{
		{Index: &idx0, ID: "call_a", Function: go_openai.FunctionCall{Name: "get_", Arguments: `{"a`}},
	})
	merger.AddToolCalls([]go_openai.ToolCall{
		{Index: &idx1, ID: "call_b", Function: go_openai.FunctionCall{Name: "add_todo", Arguments: "{}"}},
	})
	merger.AddToolCalls([]go_openai.ToolCall{
		{Index: &idx0, Function: go_openai.FunctionCall{Name: "todos", Arguments: `":1}`}},
	})

	calls := merger.GetToolCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, "call_a", calls[0].ID)
	assert.Equal(t, "get_todos", calls[0].Function.Name)
	assert.Equal(t, `{"a":1}`, calls[0].Function.Arguments)
	assert.Equal(t, "call_b", calls[1].ID)
}
