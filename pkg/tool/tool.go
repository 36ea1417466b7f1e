package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/sameehj/execbridge/pkg/types"
	validator "github.com/santhosh-tekuri/jsonschema/v6"
)

// Definition is what a client sees of a tool.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema"`
}

// Tool is a registered operation. Arguments are checked against the schema
// reflected from the handler's parameter type before the handler runs.
type Tool struct {
	def    Definition
	schema *validator.Schema
	call   func(ctx context.Context, args json.RawMessage) (any, error)
}

func (t *Tool) Definition() Definition {
	return t.def
}

var reflector = &jsonschema.Reflector{
	Anonymous:      true,
	DoNotReference: true,
	ExpandedStruct: true,
}

// New builds a tool whose arguments decode into P.
func New[P any](name, description string, fn func(ctx context.Context, params P) (any, error)) (*Tool, error) {
	raw, err := json.Marshal(reflector.Reflect(new(P)))
	if err != nil {
		return nil, fmt.Errorf("reflect schema for %s: %w", name, err)
	}
	var inputSchema map[string]any
	if err := json.Unmarshal(raw, &inputSchema); err != nil {
		return nil, fmt.Errorf("decode schema for %s: %w", name, err)
	}
	// Clients reject tools without properties.
	if _, ok := inputSchema["properties"]; !ok {
		inputSchema["properties"] = map[string]any{}
	}

	doc, err := validator.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse schema for %s: %w", name, err)
	}
	url := "https://execbridge.local/tools/" + name + ".json"
	c := validator.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema for %s: %w", name, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema for %s: %w", name, err)
	}

	return &Tool{
		def:    Definition{Name: name, Description: description, InputSchema: inputSchema},
		schema: compiled,
		call: func(ctx context.Context, args json.RawMessage) (any, error) {
			var params P
			if err := json.Unmarshal(args, &params); err != nil {
				return nil, types.Malformed(name, "decode arguments: %v", err)
			}
			return fn(ctx, params)
		},
	}, nil
}

// validate checks args against the tool schema. Empty arguments count as an
// empty object.
func (t *Tool) validate(args json.RawMessage) (json.RawMessage, error) {
	if len(bytes.TrimSpace(args)) == 0 || bytes.Equal(bytes.TrimSpace(args), []byte("null")) {
		args = json.RawMessage("{}")
	}
	inst, err := validator.UnmarshalJSON(bytes.NewReader(args))
	if err != nil {
		return nil, err
	}
	if err := t.schema.Validate(inst); err != nil {
		return nil, err
	}
	return args, nil
}
