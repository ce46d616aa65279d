package responses

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/mangiafuoco/pkg/backend"
)

const sampleSSE = `event: response.created
data: {"type":"response.created"}

event: response.output_text.delta
data: {"type":"response.output_text.delta","delta":"Hello"}

event: response.output_text.delta
data: {"type":"response.output_text.delta","delta":" world"}

event: response.output_text.done
data: {"type":"response.output_text.done","text":"Hello world"}

event: response.completed
data: {"type":"response.completed","response":{"output":[{"type":"message","role":"assistant","content":[{"type":"output_text","text":"Hello world"}]}],"usage":{"input_tokens":12,"input_tokens_details":{"cached_tokens":2},"output_tokens":3,"output_tokens_details":{"reasoning_tokens":1},"total_tokens":15}}}

`

func newTestServer(t *testing.T, sse string, capture *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/responses", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		if capture != nil {
			b, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			require.NoError(t, json.Unmarshal(b, capture))
		}

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(sse))
	}))
}

func TestSubmitStreamsEvents(t *testing.T) {
	var captured map[string]any
	srv := newTestServer(t, sampleSSE, &captured)
	defer srv.Close()

	e := New("test-key", WithBaseURL(srv.URL))
	temp := 1.0
	stream, err := e.Submit(context.Background(), &backend.Request{
		Instructions: "be brief",
		Input: []map[string]any{
			{"role": "user", "content": []map[string]any{{"type": "input_text", "text": "hi"}}},
		},
		Controls: backend.TurnControls{
			Model:          "gpt-5",
			Temperature:    &temp,
			ToolChoice:     "auto",
			Store:          false,
			PromptCacheKey: "user-1",
			Reasoning:      &backend.ReasoningControls{Effort: "medium", Summary: "auto"},
			TextVerbosity:  "low",
			Include:        []string{"reasoning.encrypted_content"},
		},
	})
	require.NoError(t, err)
	defer func() { _ = stream.Close() }()

	var types []string
	var deltas string
	for {
		ev, err := stream.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		types = append(types, ev.Type)
		if ev.Type == backend.TypeOutputTextDelta {
			deltas += ev.Delta()
		}
	}

	assert.Equal(t, []string{
		"response.created",
		backend.TypeOutputTextDelta,
		backend.TypeOutputTextDelta,
		backend.TypeOutputTextDone,
		backend.TypeCompleted,
	}, types)
	assert.Equal(t, "Hello world", deltas)

	// request body carries the turn controls
	assert.Equal(t, "gpt-5", captured["model"])
	assert.Equal(t, "be brief", captured["instructions"])
	assert.Equal(t, "user-1", captured["prompt_cache_key"])
	assert.Equal(t, true, captured["stream"])
	assert.Equal(t, false, captured["store"])
	reasoning, ok := captured["reasoning"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "medium", reasoning["effort"])
	assert.Equal(t, []any{"reasoning.encrypted_content"}, captured["include"])
}

func TestSubmitOmitsReasoningForNonGpt5Models(t *testing.T) {
	var captured map[string]any
	srv := newTestServer(t, sampleSSE, &captured)
	defer srv.Close()

	e := New("test-key", WithBaseURL(srv.URL))
	stream, err := e.Submit(context.Background(), &backend.Request{
		Controls: backend.TurnControls{
			Model:     "gpt-4o",
			Reasoning: &backend.ReasoningControls{Effort: "medium", Summary: "auto"},
			Include:   []string{"reasoning.encrypted_content"},
		},
	})
	require.NoError(t, err)
	_ = stream.Close()

	_, hasReasoning := captured["reasoning"]
	assert.False(t, hasReasoning)
	_, hasInclude := captured["include"]
	assert.False(t, hasInclude)
}

func TestSubmitHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key"}}`))
	}))
	defer srv.Close()

	e := New("test-key", WithBaseURL(srv.URL))
	_, err := e.Submit(context.Background(), &backend.Request{
		Controls: backend.TurnControls{Model: "gpt-5"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=401")
}

func TestStreamErrorEvent(t *testing.T) {
	sse := "event: error\ndata: {\"type\":\"error\",\"message\":\"rate limited\"}\n\n"
	srv := newTestServer(t, sse, nil)
	defer srv.Close()

	e := New("test-key", WithBaseURL(srv.URL))
	stream, err := e.Submit(context.Background(), &backend.Request{
		Controls: backend.TurnControls{Model: "gpt-5"},
	})
	require.NoError(t, err)
	defer func() { _ = stream.Close() }()

	_, err = stream.Next()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestSubmitRequiresAPIKey(t *testing.T) {
	e := New("")
	_, err := e.Submit(context.Background(), &backend.Request{
		Controls: backend.TurnControls{Model: "gpt-5"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no API key")
}

func TestToolAdvertisement(t *testing.T) {
	var captured map[string]any
	srv := newTestServer(t, sampleSSE, &captured)
	defer srv.Close()

	e := New("test-key", WithBaseURL(srv.URL))
	stream, err := e.Submit(context.Background(), &backend.Request{
		Tools: []backend.ToolSpec{
			{Name: "get_todos", Description: "List todos"},
		},
		Controls: backend.TurnControls{Model: "gpt-5"},
	})
	require.NoError(t, err)
	_ = stream.Close()

	tools, ok := captured["tools"].([]any)
	require.True(t, ok)
	require.Len(t, tools, 1)
	tool := tools[0].(map[string]any)
	assert.Equal(t, "function", tool["type"])
	assert.Equal(t, "get_todos", tool["name"])
	assert.Equal(t, "List todos", tool["description"])
}
