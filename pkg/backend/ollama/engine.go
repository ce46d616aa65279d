package ollama

import (
	"context"
	"io"
	"net/http"
	"net/url"

	"github.com/jmorganca/ollama/api"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/mangiafuoco/pkg/backend"
	"github.com/go-go-golems/mangiafuoco/pkg/history"
)

// Engine runs turns against a local ollama server. Tool calls are not
// supported by this client; tool specs in the request are ignored and the
// model can only answer with text.
type Engine struct {
	client *api.Client
}

type Option func(*config)

type config struct {
	client *api.Client
	host   string
}

func WithClient(client *api.Client) Option {
	return func(c *config) {
		c.client = client
	}
}

// WithHost points the engine at a specific ollama server instead of the
// OLLAMA_HOST environment default.
func WithHost(host string) Option {
	return func(c *config) {
		c.host = host
	}
}

func New(options ...Option) (*Engine, error) {
	cfg := &config{}
	for _, opt := range options {
		opt(cfg)
	}

	if cfg.client != nil {
		return &Engine{client: cfg.client}, nil
	}
	if cfg.host != "" {
		u, err := url.Parse(cfg.host)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid ollama host %q", cfg.host)
		}
		return &Engine{client: api.NewClient(u, http.DefaultClient)}, nil
	}

	client, err := api.ClientFromEnvironment()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create ollama client")
	}
	return &Engine{client: client}, nil
}

var _ backend.Backend = (*Engine)(nil)

func (e *Engine) Submit(ctx context.Context, req *backend.Request) (backend.Stream, error) {
	controls := req.Controls
	if controls.Model == "" {
		return nil, errors.New("no model configured")
	}
	if len(req.Tools) > 0 {
		log.Debug().Int("tools", len(req.Tools)).Msg("ollama backend ignores tool specs")
	}

	messages := []api.Message{}
	if req.Instructions != "" {
		messages = append(messages, api.Message{
			Role:    history.RoleSystem,
			Content: req.Instructions,
		})
	}
	for _, item := range req.Input {
		typ, _ := item[history.KeyType].(string)
		role, _ := item[history.KeyRole].(string)
		if typ != "" && typ != history.TypeMessage {
			// tool-call plumbing and reasoning items have no ollama
			// representation
			continue
		}
		text := history.ItemText(item)
		if text == "" {
			continue
		}
		if role == "" {
			role = history.RoleUser
		}
		messages = append(messages, api.Message{Role: role, Content: text})
	}

	opts := map[string]interface{}{}
	if controls.Temperature != nil {
		opts["temperature"] = *controls.Temperature
	}
	if controls.TopP != nil {
		opts["top_p"] = *controls.TopP
	}
	if controls.MaxOutputTokens != nil {
		opts["num_predict"] = *controls.MaxOutputTokens
	}

	stream := true
	chatReq := &api.ChatRequest{
		Model:    controls.Model,
		Messages: messages,
		Stream:   &stream,
		Options:  opts,
	}

	cancellableCtx, cancel := context.WithCancel(ctx)
	s := &ollamaStream{
		results: make(chan streamResult),
		cancel:  cancel,
	}

	go func() {
		defer close(s.results)

		started := false
		message := ""

		err := e.client.Chat(cancellableCtx, chatReq, func(resp api.ChatResponse) error {
			if resp.Done {
				if started {
					if !s.send(cancellableCtx, &backend.StreamEvent{
						Type: backend.TypeOutputTextDone,
						Payload: map[string]any{
							"type": backend.TypeOutputTextDone,
							"text": message,
						},
					}) {
						return cancellableCtx.Err()
					}
				}
				if !s.send(cancellableCtx, completedEvent(message, resp)) {
					return cancellableCtx.Err()
				}
				return nil
			}

			delta := resp.Message.Content
			if delta == "" {
				return nil
			}
			if !started {
				started = true
				if !s.send(cancellableCtx, &backend.StreamEvent{
					Type:    backend.TypeContentPartAdded,
					Payload: map[string]any{"type": backend.TypeContentPartAdded},
				}) {
					return cancellableCtx.Err()
				}
			}
			message += delta
			if !s.send(cancellableCtx, &backend.StreamEvent{
				Type: backend.TypeOutputTextDelta,
				Payload: map[string]any{
					"type":  backend.TypeOutputTextDelta,
					"delta": delta,
				},
			}) {
				return cancellableCtx.Err()
			}
			return nil
		})

		if err != nil {
			select {
			case s.results <- streamResult{err: errors.Wrap(err, "ollama chat failed")}:
			case <-cancellableCtx.Done():
			}
		}
	}()

	return s, nil
}

func completedEvent(message string, resp api.ChatResponse) *backend.StreamEvent {
	var output []any
	if message != "" {
		output = append(output, map[string]any{
			history.KeyType: history.TypeMessage,
			history.KeyRole: history.RoleAssistant,
			history.KeyContent: []any{
				map[string]any{
					history.KeyType: history.PartOutputText,
					history.KeyText: message,
				},
			},
		})
	}
	return &backend.StreamEvent{
		Type: backend.TypeCompleted,
		Payload: map[string]any{
			"type": backend.TypeCompleted,
			"response": map[string]any{
				"output": output,
				"usage": map[string]any{
					"input_tokens":  resp.PromptEvalCount,
					"output_tokens": resp.EvalCount,
					"total_tokens":  resp.PromptEvalCount + resp.EvalCount,
				},
			},
		},
	}
}

type streamResult struct {
	event *backend.StreamEvent
	err   error
}

// ollamaStream bridges the callback-driven ollama client into the pull
// Stream contract.
type ollamaStream struct {
	results chan streamResult
	cancel  context.CancelFunc
}

var _ backend.Stream = (*ollamaStream)(nil)

func (s *ollamaStream) send(ctx context.Context, ev *backend.StreamEvent) bool {
	select {
	case s.results <- streamResult{event: ev}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *ollamaStream) Next() (*backend.StreamEvent, error) {
	res, ok := <-s.results
	if !ok {
		return nil, io.EOF
	}
	if res.err != nil {
		return nil, res.err
	}
	return res.event, nil
}

func (s *ollamaStream) Close() error {
	s.cancel()
	return nil
}
