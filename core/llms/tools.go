package llms

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/invopop/jsonschema"
)

// ParameterBase is a single named tool parameter as presented in catalogs.
type ParameterBase struct {
	Type        string
	Description string
	Enum        []string
}

// Tool is a named capability the model may request. The input schema shown to
// the model is either derived from the typed parameter struct of the executor
// or passed through verbatim when the tool is declared remotely.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]ParameterBase
	InputSchema any

	execute func(arguments string) (string, error)
}

// NewTool builds a tool whose executor receives its arguments decoded into T.
func NewTool[T any](name, description string, parameters map[string]ParameterBase, execute func(T) (string, error)) Tool {
	reflector := jsonschema.Reflector{DoNotReference: true}
	schema := reflector.ReflectFromType(reflect.TypeOf(*new(T)))

	return Tool{
		Name:        name,
		Description: description,
		Parameters:  parameters,
		InputSchema: schema,
		execute: func(arguments string) (string, error) {
			var decoded T
			if arguments != "" {
				if err := json.Unmarshal([]byte(arguments), &decoded); err != nil {
					return "", fmt.Errorf("failed to decode arguments for tool %q: %w", name, err)
				}
			}
			return execute(decoded)
		},
	}
}

// NewRawTool builds a tool whose input schema is already a JSON document,
// as declared by a remote tool server. The executor receives the model's
// arguments undecoded.
func NewRawTool(name, description string, inputSchema json.RawMessage, execute func(arguments string) (string, error)) Tool {
	return Tool{
		Name:        name,
		Description: description,
		InputSchema: inputSchema,
		execute:     execute,
	}
}

func (t Tool) Execute(arguments string) (string, error) {
	if t.execute == nil {
		return "", fmt.Errorf("tool %q has no executor", t.Name)
	}
	return t.execute(arguments)
}
