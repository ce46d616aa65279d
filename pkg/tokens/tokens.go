// Package tokens estimates token counts locally with the tiktoken
// encodings, so transcript budgeting never needs an API round trip.
package tokens

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
	"github.com/tiktoken-go/tokenizer"

	"github.com/go-go-golems/mangiafuoco/pkg/history"
)

// EncodingForModel maps a model name to its tiktoken encoding. The
// tokenizer's own model table lags behind model releases, so this covers
// the newer chat families by prefix and falls back the way the legacy
// completion models do.
func EncodingForModel(model string) tokenizer.Encoding {
	switch {
	case strings.HasPrefix(model, "gpt-"),
		strings.HasPrefix(model, "o1"),
		strings.HasPrefix(model, "o3"),
		strings.HasPrefix(model, "o4"),
		strings.HasPrefix(model, "chatgpt"),
		strings.HasPrefix(model, "text-embedding"):
		return tokenizer.Cl100kBase
	case strings.HasPrefix(model, "text-davinci-002"),
		strings.HasPrefix(model, "text-davinci-003"),
		strings.HasPrefix(model, "code-"):
		return tokenizer.P50kBase
	default:
		return tokenizer.R50kBase
	}
}

// Counter counts tokens for a single model's encoding.
type Counter struct {
	model string
	codec tokenizer.Codec
}

// NewCounter builds a counter for the given model. Models the tokenizer
// does not know about use the encoding of their family instead.
func NewCounter(model string) (*Counter, error) {
	codec, err := tokenizer.ForModel(tokenizer.Model(model))
	if err != nil {
		encoding := EncodingForModel(model)
		codec, err = tokenizer.Get(encoding)
		if err != nil {
			return nil, errors.Wrapf(err, "could not load encoding %s for model %s", encoding, model)
		}
	}

	return &Counter{model: model, codec: codec}, nil
}

// Model returns the model name the counter was built for.
func (c *Counter) Model() string {
	return c.model
}

// Encoding returns the name of the encoding in use.
func (c *Counter) Encoding() string {
	return c.codec.GetName()
}

// Count returns the number of tokens the encoding splits text into.
func (c *Counter) Count(text string) (int, error) {
	ids, _, err := c.codec.Encode(text)
	if err != nil {
		return 0, errors.Wrap(err, "could not encode text")
	}

	return len(ids), nil
}

// CountEntries sums the token counts of the JSON-encoded transcript
// entries. It estimates the prompt footprint of a stored conversation;
// the provider's chat template adds a few framing tokens on top.
func (c *Counter) CountEntries(entries []history.Entry) (int, error) {
	total := 0
	for _, entry := range entries {
		raw, err := json.Marshal(entry.Content)
		if err != nil {
			return 0, errors.Wrapf(err, "could not marshal entry %s", entry.ID)
		}

		count, err := c.Count(string(raw))
		if err != nil {
			return 0, err
		}
		total += count
	}

	return total, nil
}
