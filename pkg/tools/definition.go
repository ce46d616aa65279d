package tools

import (
	"context"
	"encoding/json"
	"reflect"
	"runtime"
	"strings"

	"github.com/iancoleman/strcase"
	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// Definition describes one callable tool: the schema advertised to the
// model and the Go function that backs it.
type Definition struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Parameters  *jsonschema.Schema `json:"parameters"`

	fn        reflect.Value
	fnType    reflect.Type
	inputType reflect.Type // nil when the function takes no JSON input
	takesCtx  bool
}

// NewToolFromFunc builds a Definition from a plain Go function. Supported
// signatures are
//
//	func(Input) Result
//	func(Input) (Result, error)
//	func(ctx context.Context, Input) (Result, error)
//
// plus the inputless variants of each. The parameter schema is reflected
// from the Input struct; when name is empty it is derived from the
// function name in snake_case.
func NewToolFromFunc(name, description string, fn interface{}) (*Definition, error) {
	fnType := reflect.TypeOf(fn)
	if fnType == nil || fnType.Kind() != reflect.Func {
		return nil, errors.New("provided value is not a function")
	}

	if fnType.NumOut() == 0 || fnType.NumOut() > 2 {
		return nil, errors.New("function must return (result) or (result, error)")
	}
	if fnType.NumOut() == 2 && !fnType.Out(1).Implements(errorType) {
		return nil, errors.New("second return value must be an error")
	}

	takesCtx := false
	var inputType reflect.Type
	switch fnType.NumIn() {
	case 0:
	case 1:
		if fnType.In(0) == contextType {
			takesCtx = true
		} else {
			inputType = fnType.In(0)
		}
	case 2:
		if fnType.In(0) != contextType {
			return nil, errors.New("two-arg tool function must be (context.Context, Input)")
		}
		takesCtx = true
		inputType = fnType.In(1)
	default:
		return nil, errors.Errorf("function takes %d parameters, at most (context.Context, Input) is supported", fnType.NumIn())
	}

	if name == "" {
		name = deriveName(fn)
	}

	return &Definition{
		Name:        name,
		Description: description,
		Parameters:  schemaForInput(inputType),
		fn:          reflect.ValueOf(fn),
		fnType:      fnType,
		inputType:   inputType,
		takesCtx:    takesCtx,
	}, nil
}

// Invoke runs the tool function against raw JSON arguments.
func (d *Definition) Invoke(ctx context.Context, args []byte) (interface{}, error) {
	var in []reflect.Value
	if d.takesCtx {
		in = append(in, reflect.ValueOf(ctx))
	}
	if d.inputType != nil {
		if len(args) == 0 {
			args = []byte("{}")
		}
		input := reflect.New(d.inputType)
		if err := json.Unmarshal(args, input.Interface()); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal arguments")
		}
		in = append(in, input.Elem())
	}

	out := d.fn.Call(in)
	result := out[0].Interface()
	if len(out) == 2 {
		if errValue := out[1].Interface(); errValue != nil {
			return result, errValue.(error)
		}
	}
	return result, nil
}

func schemaForInput(inputType reflect.Type) *jsonschema.Schema {
	if inputType == nil {
		return &jsonschema.Schema{Type: "object"}
	}

	reflector := jsonschema.Reflector{
		// expand definitions inline instead of using $refs
		DoNotReference: true,
	}
	schema := reflector.Reflect(reflect.New(inputType).Elem().Interface())
	if schema.Type == "" && schema.Ref == "" {
		schema.Type = "object"
	}
	return schema
}

// deriveName turns a function symbol like "pkg.AddTodo" or a bound method
// "(*Manager).AddTodo-fm" into "add_todo".
func deriveName(fn interface{}) string {
	full := runtime.FuncForPC(reflect.ValueOf(fn).Pointer()).Name()
	name := full[strings.LastIndex(full, ".")+1:]
	name = strings.TrimSuffix(name, "-fm")
	return strcase.ToSnake(name)
}
