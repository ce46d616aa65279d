package responses

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/mangiafuoco/pkg/backend"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Engine talks to the OpenAI Responses API over SSE and exposes each turn
// as a backend.Stream.
type Engine struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

type Option func(*Engine)

func WithBaseURL(baseURL string) Option {
	return func(e *Engine) {
		if baseURL != "" {
			e.baseURL = baseURL
		}
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(e *Engine) {
		e.httpClient = client
	}
}

func New(apiKey string, options ...Option) *Engine {
	e := &Engine{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: http.DefaultClient,
	}
	for _, o := range options {
		o(e)
	}
	return e
}

func (e *Engine) Submit(ctx context.Context, req *backend.Request) (backend.Stream, error) {
	if e.apiKey == "" {
		return nil, errors.New("no API key configured")
	}

	body, err := buildRequestBody(req)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal responses request")
	}

	url := strings.TrimRight(e.baseURL, "/") + "/responses"
	log.Debug().
		Str("url", url).
		Str("model", body.Model).
		Int("input_items", len(body.Input)).
		Int("tools", len(body.Tools)).
		Msg("Responses: sending request")

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(b)))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "responses api request failed")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var m map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&m)
		_ = resp.Body.Close()
		log.Debug().Interface("error_body", m).Int("status", resp.StatusCode).Msg("Responses: HTTP error")
		return nil, errors.Errorf("responses api error: status=%d body=%v", resp.StatusCode, m)
	}

	return &sseStream{
		body:   resp.Body,
		reader: bufio.NewReader(resp.Body),
	}, nil
}

// requestBody is the JSON document posted to /v1/responses.
type requestBody struct {
	Model             string           `json:"model"`
	Instructions      string           `json:"instructions,omitempty"`
	Input             []map[string]any `json:"input"`
	Tools             []map[string]any `json:"tools,omitempty"`
	ToolChoice        string           `json:"tool_choice,omitempty"`
	Temperature       *float64         `json:"temperature,omitempty"`
	TopP              *float64         `json:"top_p,omitempty"`
	MaxOutputTokens   *int             `json:"max_output_tokens,omitempty"`
	Store             bool             `json:"store"`
	Stream            bool             `json:"stream"`
	PromptCacheKey    string           `json:"prompt_cache_key,omitempty"`
	Reasoning         map[string]any   `json:"reasoning,omitempty"`
	Text              map[string]any   `json:"text,omitempty"`
	Include           []string         `json:"include,omitempty"`
	ParallelToolCalls *bool            `json:"parallel_tool_calls,omitempty"`
}

func buildRequestBody(req *backend.Request) (*requestBody, error) {
	c := req.Controls
	if c.Model == "" {
		return nil, errors.New("no model configured")
	}

	input := req.Input
	if input == nil {
		input = []map[string]any{}
	}

	body := &requestBody{
		Model:          c.Model,
		Instructions:   req.Instructions,
		Input:          input,
		ToolChoice:     c.ToolChoice,
		Temperature:    c.Temperature,
		TopP:           c.TopP,
		Store:          c.Store,
		Stream:         true,
		PromptCacheKey: c.PromptCacheKey,
	}
	if c.MaxOutputTokens != nil {
		body.MaxOutputTokens = c.MaxOutputTokens
	}

	for _, t := range req.Tools {
		body.Tools = append(body.Tools, map[string]any{
			"type":        "function",
			"name":        t.Name,
			"description": t.Description,
			"parameters":  t.Parameters,
		})
	}

	// Reasoning, verbosity, and include knobs only apply to gpt-5 family
	// models; other models reject them.
	if strings.HasPrefix(c.Model, "gpt-5") {
		if c.Reasoning != nil {
			body.Reasoning = map[string]any{
				"effort":  c.Reasoning.Effort,
				"summary": c.Reasoning.Summary,
			}
		}
		if c.TextVerbosity != "" {
			body.Text = map[string]any{"verbosity": c.TextVerbosity}
		}
		if len(c.Include) > 0 {
			body.Include = c.Include
		}
	}

	return body, nil
}

var _ backend.Backend = (*Engine)(nil)
