package agent

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/mangiafuoco/pkg/backend"
	"github.com/go-go-golems/mangiafuoco/pkg/events"
	"github.com/go-go-golems/mangiafuoco/pkg/history"
	"github.com/go-go-golems/mangiafuoco/pkg/tools"
)

const DefaultMaxTurns = 32

// Agent drives the turn loop: it submits requests to a backend, translates
// the provider stream into internal events, dispatches tool calls, and
// keeps the per-run transcript. One Agent runs one conversation at a time.
type Agent struct {
	name         string
	backend      backend.Backend
	registry     tools.Registry
	dispatcher   *tools.Dispatcher
	controls     backend.TurnControls
	instructions string
	maxTurns     int
	sinks        []events.Sink

	stopRequested atomic.Bool

	mu      sync.Mutex
	running bool
}

type Option func(*Agent)

func WithName(name string) Option {
	return func(a *Agent) {
		a.name = name
	}
}

func WithBackend(b backend.Backend) Option {
	return func(a *Agent) {
		a.backend = b
	}
}

func WithRegistry(r tools.Registry) Option {
	return func(a *Agent) {
		a.registry = r
	}
}

func WithDispatcher(d *tools.Dispatcher) Option {
	return func(a *Agent) {
		a.dispatcher = d
	}
}

func WithControls(c backend.TurnControls) Option {
	return func(a *Agent) {
		a.controls = c
	}
}

func WithInstructions(instructions string) Option {
	return func(a *Agent) {
		a.instructions = instructions
	}
}

func WithMaxTurns(n int) Option {
	return func(a *Agent) {
		a.maxTurns = n
	}
}

// WithSink mirrors every run event into a sink, in addition to the run's
// event channel.
func WithSink(sink events.Sink) Option {
	return func(a *Agent) {
		a.sinks = append(a.sinks, sink)
	}
}

func New(options ...Option) *Agent {
	a := &Agent{
		name:     "Atlas",
		maxTurns: DefaultMaxTurns,
	}
	for _, opt := range options {
		opt(a)
	}
	if a.registry == nil {
		a.registry = tools.NewInMemoryRegistry()
	}
	if a.dispatcher == nil {
		a.dispatcher = tools.NewDispatcher(a.registry)
	}
	return a
}

func (a *Agent) Name() string {
	return a.name
}

func (a *Agent) Registry() tools.Registry {
	return a.registry
}

// Stop requests that the current run halt. It only sets a flag: the run
// notices it at the next loop or stream boundary and finishes with a
// stopped done event. Safe to call at any time, from any goroutine, any
// number of times.
func (a *Agent) Stop() {
	a.stopRequested.Store(true)
}

// RunRequest describes one agent run.
type RunRequest struct {
	// Message is the user's text. A run with no message and no
	// attachments terminates immediately.
	Message string
	// Attachments are files and images rendered into the turn-1 user
	// entry.
	Attachments []history.Attachment
	// Prior is an existing transcript to resume from. Its items are sent
	// to the backend before this run's entries but are not repeated in
	// the done event's history.
	Prior []history.Entry
	// MaxTurns overrides the agent's turn ceiling when > 0.
	MaxTurns int
}

// Run starts a run and returns its event stream. The channel is
// unbuffered and closed after the terminal run-done event. Only one run
// may be active per agent.
func (a *Agent) Run(ctx context.Context, req RunRequest) (<-chan events.Event, error) {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return nil, errors.New("agent is already running")
	}
	a.running = true
	a.mu.Unlock()

	// a stop requested before this run started does not carry over; a
	// stop arriving any time after this point is honored
	a.stopRequested.Store(false)

	log.Debug().
		Str("agent", a.name).
		Int("attachments", len(req.Attachments)).
		Int("prior_entries", len(req.Prior)).
		Msg("starting agent run")

	out := make(chan events.Event)
	go func() {
		defer close(out)
		defer func() {
			a.mu.Lock()
			a.running = false
			a.mu.Unlock()
		}()
		newRun(a, req, out).loop(ctx)
	}()
	return out, nil
}
