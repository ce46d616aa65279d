package agent

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/mangiafuoco/pkg/backend"
	"github.com/go-go-golems/mangiafuoco/pkg/backend/backendtest"
	"github.com/go-go-golems/mangiafuoco/pkg/events"
	"github.com/go-go-golems/mangiafuoco/pkg/history"
	"github.com/go-go-golems/mangiafuoco/pkg/tools"
)

func collect(t *testing.T, ch <-chan events.Event) []events.Event {
	t.Helper()
	var evs []events.Event
	for ev := range ch {
		evs = append(evs, ev)
	}
	return evs
}

func kinds(evs []events.Event) []events.Kind {
	var ks []events.Kind
	for _, ev := range evs {
		ks = append(ks, ev.Kind())
	}
	return ks
}

func lastDone(t *testing.T, evs []events.Event) *events.EventRunDone {
	t.Helper()
	require.NotEmpty(t, evs)
	done, ok := evs[len(evs)-1].(*events.EventRunDone)
	require.True(t, ok, "last event should be run-done, got %s", evs[len(evs)-1].Kind())
	return done
}

func registryWith(t *testing.T, name string, fn interface{}) tools.Registry {
	t.Helper()
	r := tools.NewInMemoryRegistry()
	def, err := tools.NewToolFromFunc(name, "test tool", fn)
	require.NoError(t, err)
	require.NoError(t, r.Register(def))
	return r
}

type todoArgs struct {
	Text string `json:"text,omitempty"`
}

func TestRunNoInput(t *testing.T) {
	b := backendtest.NewScriptedBackend()
	a := New(WithBackend(b))

	ch, err := a.Run(context.Background(), RunRequest{})
	require.NoError(t, err)
	evs := collect(t, ch)

	require.Len(t, evs, 1)
	done := lastDone(t, evs)
	assert.Equal(t, "No user input provided.", done.Message)
	assert.False(t, done.Stopped)
	assert.Empty(t, done.History)
	assert.Equal(t, 0, b.RequestCount())
}

func TestRunNoBackend(t *testing.T) {
	a := New()

	ch, err := a.Run(context.Background(), RunRequest{Message: "hi"})
	require.NoError(t, err)
	evs := collect(t, ch)

	done := lastDone(t, evs)
	assert.Equal(t, "No API client configured. Please set API key.", done.Message)
}

func TestRunSingleTextTurn(t *testing.T) {
	b := backendtest.NewScriptedBackend(backendtest.TextTurn("Hello!"))
	a := New(WithName("Atlas"), WithBackend(b))

	ch, err := a.Run(context.Background(), RunRequest{Message: "hi"})
	require.NoError(t, err)
	evs := collect(t, ch)

	assert.Equal(t, []events.Kind{
		events.KindTextStarted,
		events.KindTextDelta,
		events.KindTextDone,
		events.KindTurnCompleted,
		events.KindRunDone,
	}, kinds(evs))

	done := lastDone(t, evs)
	assert.Equal(t, "Agent run completed.", done.Message)
	assert.False(t, done.Stopped)
	assert.GreaterOrEqual(t, done.DurationSeconds, 0.0)

	// one turn of text means exactly one backend request
	assert.Equal(t, 1, b.RequestCount())

	// history holds the seeded user entry and the assistant message
	require.Len(t, done.History, 2)
	assert.Equal(t, history.KindUserMessage, done.History[0].Kind)
	assert.Equal(t, history.KindAssistantMessage, done.History[1].Kind)
	assert.Equal(t, "Hello!", history.ItemText(done.History[1].Content))

	// every event carries the agent name and run id
	for _, ev := range evs {
		assert.Equal(t, "Atlas", ev.Meta().AgentName)
		assert.Equal(t, done.Meta().RunID, ev.Meta().RunID)
	}
}

func TestRunToolCallLoop(t *testing.T) {
	calls := 0
	registry := registryWith(t, "get_todos", func(in todoArgs) map[string]interface{} {
		calls++
		return map[string]interface{}{"status": "success", "todos": []string{"buy milk", "water plants"}}
	})

	b := backendtest.NewScriptedBackend(
		backendtest.ToolCallTurn("call_1", "get_todos", "{}"),
		backendtest.TextTurn("You have 2 todos."),
	)
	a := New(WithBackend(b), WithRegistry(registry))

	ch, err := a.Run(context.Background(), RunRequest{Message: "what's pending?"})
	require.NoError(t, err)
	evs := collect(t, ch)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 2, b.RequestCount())

	done := lastDone(t, evs)
	assert.Equal(t, "Agent run completed.", done.Message)

	// user, function_call, function_call_output, assistant message
	require.Len(t, done.History, 4)
	assert.Equal(t, history.KindToolCall, done.History[1].Kind)
	assert.Equal(t, history.KindToolResult, done.History[2].Kind)
	assert.Equal(t, history.KindAssistantMessage, done.History[3].Kind)

	output, _ := done.History[2].Content[history.KeyOutput].(string)
	var result map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(output), &result))
	assert.Equal(t, "success", result["status"])

	// the second request replays the tool exchange to the backend
	secondInput := b.Requests[1].Input
	require.Len(t, secondInput, 4)
	assert.Equal(t, history.TypeFunctionCall, secondInput[1][history.KeyType])
	assert.Equal(t, history.TypeFunctionCallOutput, secondInput[2][history.KeyType])

	// a tool-call event was surfaced mid-stream
	var sawToolCall bool
	for _, ev := range evs {
		if tc, ok := ev.(*events.EventToolCall); ok {
			sawToolCall = true
			assert.Equal(t, "get_todos", tc.ToolCall.Name)
			assert.Equal(t, "call_1", tc.ToolCall.ID)
		}
	}
	assert.True(t, sawToolCall)
}

func TestRunToolNotFound(t *testing.T) {
	b := backendtest.NewScriptedBackend(
		backendtest.ToolCallTurn("call_1", "get_todos", "{}"),
		backendtest.TextTurn("I could not list your todos."),
	)
	a := New(WithBackend(b))

	ch, err := a.Run(context.Background(), RunRequest{Message: "what's pending?"})
	require.NoError(t, err)
	evs := collect(t, ch)

	// the failed call still produces a tool result and the run continues
	done := lastDone(t, evs)
	assert.Equal(t, "Agent run completed.", done.Message)
	assert.Equal(t, 2, b.RequestCount())

	output, _ := done.History[2].Content[history.KeyOutput].(string)
	var result map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(output), &result))
	assert.Equal(t, "Tool 'get_todos' not found", result["error"])
}

func TestRunMaxTurnsExceeded(t *testing.T) {
	registry := registryWith(t, "get_todos", func(in todoArgs) map[string]interface{} {
		return map[string]interface{}{"status": "success"}
	})
	b := backendtest.NewScriptedBackend(
		backendtest.ToolCallTurn("call_1", "get_todos", "{}"),
		backendtest.ToolCallTurn("call_2", "get_todos", "{}"),
		backendtest.ToolCallTurn("call_3", "get_todos", "{}"),
	)
	a := New(WithBackend(b), WithRegistry(registry), WithMaxTurns(2))

	ch, err := a.Run(context.Background(), RunRequest{Message: "loop forever"})
	require.NoError(t, err)
	evs := collect(t, ch)

	done := lastDone(t, evs)
	assert.Equal(t, "Max turns exceeded (2).", done.Message)
	assert.Equal(t, 2, b.RequestCount())
}

func TestRunMaxTurnsOverride(t *testing.T) {
	calls := 0
	registry := registryWith(t, "get_todos", func(in todoArgs) map[string]interface{} {
		calls++
		return map[string]interface{}{"status": "success"}
	})
	b := backendtest.NewScriptedBackend(
		backendtest.ToolCallTurn("call_1", "get_todos", "{}"),
	)
	a := New(WithBackend(b), WithRegistry(registry), WithMaxTurns(10))

	ch, err := a.Run(context.Background(), RunRequest{Message: "loop", MaxTurns: 1})
	require.NoError(t, err)
	evs := collect(t, ch)

	done := lastDone(t, evs)
	assert.Equal(t, "Max turns exceeded (1).", done.Message)
	assert.Equal(t, 1, b.RequestCount())

	// turn 1 still dispatched its tool before the ceiling cut the run off
	assert.Equal(t, 1, calls)
	require.Len(t, done.History, 3)
	assert.Equal(t, history.KindToolCall, done.History[1].Kind)
	assert.Equal(t, history.KindToolResult, done.History[2].Kind)
}

func TestRunTextAndToolCallContinues(t *testing.T) {
	registry := registryWith(t, "get_todos", func(in todoArgs) map[string]interface{} {
		return map[string]interface{}{"status": "success"}
	})
	b := backendtest.NewScriptedBackend(
		backendtest.TextAndToolCallTurn("Checking your list.", "call_1", "get_todos", "{}"),
		backendtest.TextTurn("All done."),
	)
	a := New(WithBackend(b), WithRegistry(registry))

	ch, err := a.Run(context.Background(), RunRequest{Message: "check my list"})
	require.NoError(t, err)
	evs := collect(t, ch)

	// answering and calling a tool in the same turn keeps the run going
	done := lastDone(t, evs)
	assert.Equal(t, "Agent run completed.", done.Message)
	assert.Equal(t, 2, b.RequestCount())

	// message item, then tool exchange, then the final answer
	require.Len(t, done.History, 5)
	assert.Equal(t, history.KindAssistantMessage, done.History[1].Kind)
	assert.Equal(t, history.KindToolCall, done.History[2].Kind)
}

func TestRunSubmitError(t *testing.T) {
	b := backendtest.NewScriptedBackend()
	b.SubmitErr = errors.New("connection refused")
	a := New(WithBackend(b))

	ch, err := a.Run(context.Background(), RunRequest{Message: "hi"})
	require.NoError(t, err)
	evs := collect(t, ch)

	require.Len(t, evs, 2)
	errEvent, ok := evs[0].(*events.EventError)
	require.True(t, ok)
	assert.Contains(t, errEvent.ErrorString, "connection refused")

	done := lastDone(t, evs)
	assert.Equal(t, "Error: connection refused", done.Message)
}

func TestRunMidStreamError(t *testing.T) {
	turn := backendtest.TextTurn("partial answ")
	turn.Events = turn.Events[:2]
	turn.Err = errors.New("stream reset")

	b := backendtest.NewScriptedBackend(turn)
	a := New(WithBackend(b))

	ch, err := a.Run(context.Background(), RunRequest{Message: "hi"})
	require.NoError(t, err)
	evs := collect(t, ch)

	done := lastDone(t, evs)
	assert.Equal(t, "Error: stream reset", done.Message)
	assert.Contains(t, kinds(evs), events.KindError)
}

func TestRunStopFromTool(t *testing.T) {
	b := backendtest.NewScriptedBackend(
		backendtest.ToolCallTurn("call_1", "halt", "{}"),
		backendtest.TextTurn("never reached"),
	)
	a := New(WithBackend(b))
	registry := registryWith(t, "halt", func(in todoArgs) map[string]interface{} {
		a.Stop()
		a.Stop() // stopping twice is a no-op
		return map[string]interface{}{"status": "success"}
	})
	a.registry = registry
	a.dispatcher = tools.NewDispatcher(registry)

	ch, err := a.Run(context.Background(), RunRequest{Message: "please stop"})
	require.NoError(t, err)
	evs := collect(t, ch)

	done := lastDone(t, evs)
	assert.Equal(t, "Agent stopped by user request.", done.Message)
	assert.True(t, done.Stopped)
	assert.Equal(t, 1, b.RequestCount())
}

// stopperBackend stops the agent after the stream delivers its first
// event, so the rest of the turn is abandoned mid-stream.
type stopperBackend struct {
	inner backend.Backend
	agent *Agent
}

func (sb *stopperBackend) Submit(ctx context.Context, req *backend.Request) (backend.Stream, error) {
	stream, err := sb.inner.Submit(ctx, req)
	if err != nil {
		return nil, err
	}
	return &stopperStream{inner: stream, agent: sb.agent}, nil
}

type stopperStream struct {
	inner backend.Stream
	agent *Agent
	n     int
}

func (ss *stopperStream) Next() (*backend.StreamEvent, error) {
	ev, err := ss.inner.Next()
	ss.n++
	if ss.n == 1 {
		ss.agent.Stop()
	}
	return ev, err
}

func (ss *stopperStream) Close() error {
	return ss.inner.Close()
}

func TestRunStopMidStream(t *testing.T) {
	inner := backendtest.NewScriptedBackend(backendtest.TextTurn("a long answer"))
	a := New()
	a.backend = &stopperBackend{inner: inner, agent: a}

	ch, err := a.Run(context.Background(), RunRequest{Message: "hi"})
	require.NoError(t, err)
	evs := collect(t, ch)

	done := lastDone(t, evs)
	assert.True(t, done.Stopped)
	assert.Equal(t, "Agent stopped by user request.", done.Message)

	// only the first stream event got through; the turn-completed event
	// from the abandoned stream never fired
	assert.NotContains(t, kinds(evs), events.KindTurnCompleted)
	assert.Equal(t, 1, inner.RequestCount())
}

func TestRunStopBeforeRunDoesNotCarryOver(t *testing.T) {
	b := backendtest.NewScriptedBackend(backendtest.TextTurn("Hello!"))
	a := New(WithBackend(b))

	a.Stop()
	ch, err := a.Run(context.Background(), RunRequest{Message: "hi"})
	require.NoError(t, err)
	evs := collect(t, ch)

	done := lastDone(t, evs)
	assert.Equal(t, "Agent run completed.", done.Message)
	assert.False(t, done.Stopped)
}

func TestRunStopBeforeFirstEventConsumed(t *testing.T) {
	b := backendtest.NewScriptedBackend(backendtest.TextTurn("a long answer"))
	a := New(WithBackend(b))

	ch, err := a.Run(context.Background(), RunRequest{Message: "hi"})
	require.NoError(t, err)
	a.Stop()
	evs := collect(t, ch)

	done := lastDone(t, evs)
	assert.True(t, done.Stopped)
	assert.Equal(t, "Agent stopped by user request.", done.Message)

	// whether the stop lands before or after the turn-1 submit, the
	// transcript holds at most the seeded user entry
	assert.LessOrEqual(t, len(done.History), 1)
	if len(done.History) == 1 {
		assert.Equal(t, history.KindUserMessage, done.History[0].Kind)
	}

	dones := 0
	for _, ev := range evs {
		if ev.Kind() == events.KindRunDone {
			dones++
		}
	}
	assert.Equal(t, 1, dones)
}

func TestRunPriorHistoryIsSentButNotReturned(t *testing.T) {
	prior := []history.Entry{
		history.NewUserEntry("earlier question", nil),
	}

	b := backendtest.NewScriptedBackend(backendtest.TextTurn("Following up."))
	a := New(WithBackend(b))

	ch, err := a.Run(context.Background(), RunRequest{Message: "follow up", Prior: prior})
	require.NoError(t, err)
	evs := collect(t, ch)

	req := b.Requests[0]
	require.Len(t, req.Input, 2)
	assert.Equal(t, "earlier question", history.ItemText(req.Input[0]))
	assert.Equal(t, "follow up", history.ItemText(req.Input[1]))

	done := lastDone(t, evs)
	require.Len(t, done.History, 2)
	assert.Equal(t, "follow up", history.ItemText(done.History[0].Content))
}

func TestRunRequestCarriesConfiguration(t *testing.T) {
	registry := registryWith(t, "get_todos", func(in todoArgs) map[string]interface{} {
		return map[string]interface{}{"status": "success"}
	})
	temp := 1.0
	controls := backend.TurnControls{
		Model:          "gpt-5",
		Temperature:    &temp,
		ToolChoice:     "auto",
		Stream:         true,
		PromptCacheKey: "user-1",
	}

	b := backendtest.NewScriptedBackend(backendtest.TextTurn("ok"))
	a := New(
		WithBackend(b),
		WithRegistry(registry),
		WithControls(controls),
		WithInstructions("You are Atlas."),
	)

	ch, err := a.Run(context.Background(), RunRequest{Message: "hi"})
	require.NoError(t, err)
	collect(t, ch)

	req := b.Requests[0]
	assert.Equal(t, "You are Atlas.", req.Instructions)
	assert.Equal(t, controls, req.Controls)
	require.Len(t, req.Tools, 1)
	assert.Equal(t, "get_todos", req.Tools[0].Name)
}

func TestRunUsageAccounting(t *testing.T) {
	b := backendtest.NewScriptedBackend(backendtest.TextTurn("hi"))
	a := New(WithBackend(b))

	ch, err := a.Run(context.Background(), RunRequest{Message: "hello"})
	require.NoError(t, err)
	evs := collect(t, ch)

	var usage *events.Usage
	for _, ev := range evs {
		if tc, ok := ev.(*events.EventTurnCompleted); ok {
			usage = &tc.Usage
		}
	}
	require.NotNil(t, usage)
	assert.Equal(t, 1, usage.Turn)
	assert.Equal(t, 10, usage.InputTokens)
	assert.Equal(t, 2, usage.CachedTokens)
	assert.Equal(t, 5, usage.OutputTokens)
	assert.Equal(t, 1, usage.ReasoningTokens)
	assert.Equal(t, 15, usage.TotalTokens)
}

func TestRunReasoningTurnStripsStatus(t *testing.T) {
	b := backendtest.NewScriptedBackend(backendtest.ReasoningTurn("thinking about todos", "Here you go."))
	a := New(WithBackend(b))

	ch, err := a.Run(context.Background(), RunRequest{Message: "hi"})
	require.NoError(t, err)
	evs := collect(t, ch)

	ks := kinds(evs)
	assert.Contains(t, ks, events.KindReasoningStarted)
	assert.Contains(t, ks, events.KindReasoningDelta)
	assert.Contains(t, ks, events.KindReasoningDone)

	done := lastDone(t, evs)
	require.Len(t, done.History, 3)
	assert.Equal(t, history.KindReasoningNote, done.History[1].Kind)
	_, hasStatus := done.History[1].Content[history.KeyStatus]
	assert.False(t, hasStatus)
}

func TestRunRejectsConcurrentRuns(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	a := New()
	a.backend = &gatedBackend{
		inner:   backendtest.NewScriptedBackend(backendtest.TextTurn("ok")),
		started: started,
		release: release,
	}

	ch, err := a.Run(context.Background(), RunRequest{Message: "hi"})
	require.NoError(t, err)

	<-started
	_, err = a.Run(context.Background(), RunRequest{Message: "again"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")

	close(release)
	collect(t, ch)

	// after the first run finished, a new run is accepted
	a.backend = backendtest.NewScriptedBackend(backendtest.TextTurn("ok"))
	ch, err = a.Run(context.Background(), RunRequest{Message: "hi"})
	require.NoError(t, err)
	collect(t, ch)
}

type gatedBackend struct {
	inner   backend.Backend
	started chan struct{}
	release chan struct{}
	once    bool
}

func (gb *gatedBackend) Submit(ctx context.Context, req *backend.Request) (backend.Stream, error) {
	if !gb.once {
		gb.once = true
		close(gb.started)
	}
	select {
	case <-gb.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return gb.inner.Submit(ctx, req)
}

type recordingSink struct {
	events []events.Event
}

func (rs *recordingSink) PublishEvent(e events.Event) error {
	rs.events = append(rs.events, e)
	return nil
}

func TestRunMirrorsEventsToSinks(t *testing.T) {
	sink := &recordingSink{}
	b := backendtest.NewScriptedBackend(backendtest.TextTurn("hi"))
	a := New(WithBackend(b), WithSink(sink))

	ch, err := a.Run(context.Background(), RunRequest{Message: "hello"})
	require.NoError(t, err)
	evs := collect(t, ch)

	require.Len(t, sink.events, len(evs))
	for i, ev := range evs {
		assert.Equal(t, ev.Kind(), sink.events[i].Kind())
	}
}
