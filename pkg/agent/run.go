package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/lithammer/shortuuid/v3"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/mangiafuoco/pkg/backend"
	"github.com/go-go-golems/mangiafuoco/pkg/events"
	"github.com/go-go-golems/mangiafuoco/pkg/history"
)

// run holds the state of one agent run: the turn counter, the transcript
// built during this run, and the tool-call flag that decides whether the
// loop continues.
type run struct {
	agent     *Agent
	req       RunRequest
	out       chan<- events.Event
	assembler *history.Assembler

	id           string
	start        time.Time
	turn         int
	maxTurns     int
	toolCallSeen bool
	usage        *events.Usage
}

func newRun(a *Agent, req RunRequest, out chan<- events.Event) *run {
	maxTurns := a.maxTurns
	if req.MaxTurns > 0 {
		maxTurns = req.MaxTurns
	}
	return &run{
		agent:     a,
		req:       req,
		out:       out,
		assembler: history.NewAssembler(),
		id:        shortuuid.New(),
		start:     time.Now(),
		turn:      1,
		maxTurns:  maxTurns,
	}
}

func (r *run) meta() events.Meta {
	return events.Meta{
		RunID:     r.id,
		AgentName: r.agent.name,
		Turn:      r.turn,
	}
}

// emit mirrors the event into the agent's sinks, then delivers it on the
// run channel. Delivery suspends the run until the consumer takes the
// event or the context ends.
func (r *run) emit(ctx context.Context, e events.Event) error {
	for _, sink := range r.agent.sinks {
		if err := sink.PublishEvent(e); err != nil {
			log.Warn().Err(err).Str("kind", string(e.Kind())).Msg("failed to publish event to sink")
		}
	}
	select {
	case r.out <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *run) done(ctx context.Context, message string, stopped bool) {
	ev := events.NewRunDoneEvent(
		r.meta(),
		message,
		time.Since(r.start).Seconds(),
		r.assembler.Entries(),
		r.assembler.Images(),
		stopped,
	)
	if err := r.emit(ctx, ev); err != nil {
		log.Debug().Err(err).Msg("run finished but done event was not delivered")
	}
}

func (r *run) loop(ctx context.Context) {
	if r.req.Message == "" && len(r.req.Attachments) == 0 {
		r.done(ctx, "No user input provided.", false)
		return
	}
	if r.agent.backend == nil {
		r.done(ctx, "No API client configured. Please set API key.", false)
		return
	}

	for {
		if r.agent.stopRequested.Load() {
			r.done(ctx, "Agent stopped by user request.", true)
			return
		}
		if r.turn > r.maxTurns {
			r.done(ctx, fmt.Sprintf("Max turns exceeded (%d).", r.maxTurns), false)
			return
		}
		if r.turn > 1 && !r.toolCallSeen {
			r.done(ctx, "Agent run completed.", false)
			return
		}

		if r.turn == 1 {
			r.assembler.Seed(r.req.Message, r.req.Attachments)
		}
		r.toolCallSeen = false

		log.Debug().Int("turn", r.turn).Str("run_id", r.id).Msg("processing turn")
		if err := r.processTurn(ctx); err != nil {
			log.Error().Err(err).Int("turn", r.turn).Msg("turn failed")
			if emitErr := r.emit(ctx, events.NewErrorEvent(r.meta(), err)); emitErr != nil {
				return
			}
			r.done(ctx, fmt.Sprintf("Error: %s", err.Error()), false)
			return
		}

		r.turn++
	}
}

func (r *run) processTurn(ctx context.Context) error {
	stream, err := r.agent.backend.Submit(ctx, r.buildRequest())
	if err != nil {
		return err
	}
	defer func() {
		if err := stream.Close(); err != nil {
			log.Debug().Err(err).Msg("failed to close backend stream")
		}
	}()
	return r.consumeStream(ctx, stream)
}

func (r *run) buildRequest() *backend.Request {
	input := history.Unwrap(r.req.Prior)
	input = append(input, r.assembler.Items()...)

	var specs []backend.ToolSpec
	for _, def := range r.agent.registry.List() {
		specs = append(specs, backend.ToolSpec{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  def.Parameters,
		})
	}

	return &backend.Request{
		Instructions: r.agent.instructions,
		Input:        input,
		Tools:        specs,
		Controls:     r.agent.controls,
	}
}
