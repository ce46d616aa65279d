package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
)

// Call is one tool invocation requested by the model.
type Call struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Dispatcher resolves tool calls against a registry and executes them.
// Dispatch never returns an error: failures become result values so the
// model can see what went wrong and the run keeps going.
type Dispatcher struct {
	registry Registry
}

func NewDispatcher(registry Registry) *Dispatcher {
	return &Dispatcher{registry: registry}
}

// Dispatch executes one call and returns its result. Unknown tools,
// invalid arguments, errors, and panics all come back as {"error": ...}
// maps.
func (d *Dispatcher) Dispatch(ctx context.Context, call Call) (result interface{}) {
	log.Debug().
		Str("call_id", call.ID).
		Str("name", call.Name).
		Int("args_len", len(call.Arguments)).
		Msg("dispatching tool call")

	def, err := d.registry.Get(call.Name)
	if err != nil {
		log.Warn().Str("name", call.Name).Msg("tool call for unknown tool")
		return map[string]interface{}{
			"error": fmt.Sprintf("Tool '%s' not found", call.Name),
		}
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("name", call.Name).Interface("panic", r).Msg("tool execution panicked")
			result = map[string]interface{}{
				"error": fmt.Sprintf("Tool execution error: %v", r),
			}
		}
	}()

	args := call.Arguments
	if args == "" {
		args = "{}"
	}
	if err := validateArguments(def, args); err != nil {
		log.Warn().Err(err).Str("name", call.Name).Msg("tool arguments failed validation")
		return map[string]interface{}{
			"error": fmt.Sprintf("Tool execution error: %s", err.Error()),
		}
	}

	value, err := def.Invoke(ctx, []byte(args))
	if err != nil {
		log.Error().Err(err).Str("name", call.Name).Msg("tool execution failed")
		return map[string]interface{}{
			"error": fmt.Sprintf("Tool execution error: %s", err.Error()),
		}
	}
	return value
}

func validateArguments(def *Definition, args string) error {
	if def.Parameters == nil {
		return nil
	}
	schemaJSON, err := json.Marshal(def.Parameters)
	if err != nil {
		return fmt.Errorf("failed to marshal parameter schema: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaJSON),
		gojsonschema.NewStringLoader(args),
	)
	if err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	if !result.Valid() {
		msg := "invalid arguments"
		for _, desc := range result.Errors() {
			msg = fmt.Sprintf("%s: %s", msg, desc.String())
		}
		return fmt.Errorf("%s", msg)
	}
	return nil
}
