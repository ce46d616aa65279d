package openaichat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	go_openai "github.com/sashabaranov/go-openai"

	"github.com/go-go-golems/mangiafuoco/pkg/backend"
	"github.com/go-go-golems/mangiafuoco/pkg/history"
)

// Engine runs turns against the Chat Completions API. It exists for
// gateways and proxies that don't speak the Responses API; the stream it
// returns is translated into Responses-shaped events so the agent loop
// never has to know which wire protocol served the turn.
type Engine struct {
	apiKey string
	client *go_openai.Client
}

type Option func(*config)

type config struct {
	baseURL    string
	httpClient *http.Client
}

// WithBaseURL points the engine at an OpenAI-compatible gateway.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(c *config) {
		c.httpClient = client
	}
}

func New(apiKey string, options ...Option) *Engine {
	cfg := &config{}
	for _, opt := range options {
		opt(cfg)
	}

	clientCfg := go_openai.DefaultConfig(apiKey)
	if cfg.baseURL != "" {
		clientCfg.BaseURL = cfg.baseURL
	}
	if cfg.httpClient != nil {
		clientCfg.HTTPClient = cfg.httpClient
	}

	return &Engine{
		apiKey: apiKey,
		client: go_openai.NewClientWithConfig(clientCfg),
	}
}

var _ backend.Backend = (*Engine)(nil)

func (e *Engine) Submit(ctx context.Context, req *backend.Request) (backend.Stream, error) {
	if e.apiKey == "" {
		return nil, errors.New("no API key configured")
	}

	chatReq, err := e.buildRequest(req)
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("model", chatReq.Model).
		Int("messages", len(chatReq.Messages)).
		Int("tools", len(chatReq.Tools)).
		Msg("submitting chat completions request")

	stream, err := e.client.CreateChatCompletionStream(ctx, *chatReq)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create chat completion stream")
	}

	return newChatStream(stream), nil
}

func (e *Engine) buildRequest(req *backend.Request) (*go_openai.ChatCompletionRequest, error) {
	controls := req.Controls
	if controls.Model == "" {
		return nil, errors.New("no model configured")
	}

	var msgs []go_openai.ChatCompletionMessage
	if req.Instructions != "" {
		msgs = append(msgs, go_openai.ChatCompletionMessage{
			Role:    go_openai.ChatMessageRoleSystem,
			Content: req.Instructions,
		})
	}

	for _, item := range req.Input {
		msg, ok, err := itemToMessage(item)
		if err != nil {
			return nil, err
		}
		if ok {
			msgs = append(msgs, msg)
		}
	}

	chatReq := &go_openai.ChatCompletionRequest{
		Model:    controls.Model,
		Messages: msgs,
		Stream:   true,
		StreamOptions: &go_openai.StreamOptions{
			IncludeUsage: true,
		},
		// chat completions has no prompt_cache_key; user is the closest
		// equivalent for cache affinity
		User: controls.PromptCacheKey,
	}
	if controls.Temperature != nil {
		chatReq.Temperature = float32(*controls.Temperature)
	}
	if controls.TopP != nil {
		chatReq.TopP = float32(*controls.TopP)
	}
	if controls.MaxOutputTokens != nil {
		chatReq.MaxCompletionTokens = *controls.MaxOutputTokens
	}

	for _, spec := range req.Tools {
		def := &go_openai.FunctionDefinition{
			Name:        spec.Name,
			Description: spec.Description,
		}
		if spec.Parameters != nil {
			def.Parameters = spec.Parameters
		}
		chatReq.Tools = append(chatReq.Tools, go_openai.Tool{
			Type:     go_openai.ToolTypeFunction,
			Function: def,
		})
	}
	if len(chatReq.Tools) > 0 && controls.ToolChoice != "" {
		chatReq.ToolChoice = controls.ToolChoice
	}

	return chatReq, nil
}

// itemToMessage converts one Responses-style input item into a chat
// message. Reasoning items are skipped; only the Responses API
// understands them.
func itemToMessage(item map[string]any) (go_openai.ChatCompletionMessage, bool, error) {
	typ, _ := item[history.KeyType].(string)
	role, _ := item[history.KeyRole].(string)
	if typ == "" && role != "" {
		typ = history.TypeMessage
	}

	switch typ {
	case history.TypeMessage:
		return messageItemToMessage(item, role)

	case history.TypeFunctionCall, history.TypeCustomToolCall:
		callID, _ := item[history.KeyCallID].(string)
		name, _ := item[history.KeyName].(string)
		args, _ := item[history.KeyArguments].(string)
		if args == "" {
			args = "{}"
		}
		return go_openai.ChatCompletionMessage{
			Role: go_openai.ChatMessageRoleAssistant,
			ToolCalls: []go_openai.ToolCall{
				{
					ID:   callID,
					Type: go_openai.ToolTypeFunction,
					Function: go_openai.FunctionCall{
						Name:      name,
						Arguments: args,
					},
				},
			},
		}, true, nil

	case history.TypeFunctionCallOutput:
		callID, _ := item[history.KeyCallID].(string)
		output, _ := item[history.KeyOutput].(string)
		return go_openai.ChatCompletionMessage{
			Role:       go_openai.ChatMessageRoleTool,
			Content:    output,
			ToolCallID: callID,
		}, true, nil

	case history.TypeReasoning:
		return go_openai.ChatCompletionMessage{}, false, nil

	default:
		log.Debug().Str("type", typ).Msg("chat request: skipping unsupported item type")
		return go_openai.ChatCompletionMessage{}, false, nil
	}
}

func messageItemToMessage(item map[string]any, role string) (go_openai.ChatCompletionMessage, bool, error) {
	if role == "" {
		role = history.RoleUser
	}

	parts := contentParts(item)
	if parts == nil {
		text := history.ItemText(item)
		if strings.TrimSpace(text) == "" {
			return go_openai.ChatCompletionMessage{}, false, nil
		}
		return go_openai.ChatCompletionMessage{Role: role, Content: text}, true, nil
	}

	var multi []go_openai.ChatMessagePart
	hasImage := false
	for _, part := range parts {
		partType, _ := part[history.KeyType].(string)
		switch partType {
		case history.PartInputText, history.PartOutputText:
			text, _ := part[history.KeyText].(string)
			multi = append(multi, go_openai.ChatMessagePart{
				Type: go_openai.ChatMessagePartTypeText,
				Text: text,
			})
		case history.PartInputImage:
			url, _ := part[history.KeyImageURL].(string)
			if url == "" {
				continue
			}
			hasImage = true
			multi = append(multi, go_openai.ChatMessagePart{
				Type: go_openai.ChatMessagePartTypeImageURL,
				ImageURL: &go_openai.ChatMessageImageURL{
					URL:    url,
					Detail: go_openai.ImageURLDetailAuto,
				},
			})
		default:
			b, err := json.Marshal(part)
			if err != nil {
				return go_openai.ChatCompletionMessage{}, false, errors.Wrap(err, "failed to marshal content part")
			}
			multi = append(multi, go_openai.ChatMessagePart{
				Type: go_openai.ChatMessagePartTypeText,
				Text: string(b),
			})
		}
	}
	if len(multi) == 0 {
		return go_openai.ChatCompletionMessage{}, false, nil
	}

	// MultiContent is only needed when images are present; collapse
	// text-only messages back to plain content
	if !hasImage {
		var texts []string
		for _, p := range multi {
			if p.Text != "" {
				texts = append(texts, p.Text)
			}
		}
		text := strings.Join(texts, "\n")
		if strings.TrimSpace(text) == "" {
			return go_openai.ChatCompletionMessage{}, false, nil
		}
		return go_openai.ChatCompletionMessage{Role: role, Content: text}, true, nil
	}

	return go_openai.ChatCompletionMessage{Role: role, MultiContent: multi}, true, nil
}

func contentParts(item map[string]any) []map[string]any {
	switch content := item[history.KeyContent].(type) {
	case []map[string]any:
		return content
	case []any:
		var parts []map[string]any
		for _, p := range content {
			if m, ok := p.(map[string]any); ok {
				parts = append(parts, m)
			}
		}
		return parts
	default:
		return nil
	}
}

// syntheticItemID gives merged tool calls a Responses-style item id so
// downstream history entries look the same regardless of which engine
// produced them.
func syntheticItemID(index int, callID string) string {
	if callID != "" {
		return fmt.Sprintf("fc_%s", callID)
	}
	return fmt.Sprintf("fc_%d", index)
}
