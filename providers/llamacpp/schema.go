package llamacpp

import (
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/mozilla-ai/langextract-llamacpp/inference"
)

// Name under which the schema is sent in response_format.json_schema.name.
const schemaName = "schema"

var errEmptySchema = stderrors.New("schema definition is empty")

// Ensure Schema implements the required interfaces.
var _ inference.Schema = (*Schema)(nil)

// Schema constrains llama.cpp output to a JSON schema. llama-server converts
// the schema to a GBNF grammar, so generation can only produce matching JSON.
type Schema struct {
	definition map[string]any
}

// NewSchema creates a Schema from a JSON schema document.
func NewSchema(definition map[string]any) (*Schema, error) {
	if len(definition) == 0 {
		return nil, errEmptySchema
	}
	if _, err := json.Marshal(definition); err != nil {
		return nil, fmt.Errorf("schema definition is not JSON serializable: %w", err)
	}
	return &Schema{definition: cloneDefinition(definition)}, nil
}

// SchemaFromJSON parses a JSON schema document.
func SchemaFromJSON(data []byte) (*Schema, error) {
	var definition map[string]any
	if err := json.Unmarshal(data, &definition); err != nil {
		return nil, fmt.Errorf("parsing schema: %w", err)
	}
	return NewSchema(definition)
}

// Definition returns a copy of the JSON schema document.
func (s *Schema) Definition() map[string]any {
	if s == nil {
		return nil
	}
	return cloneDefinition(s.definition)
}

// ToProviderConfig returns the schema and enables structured output.
func (s *Schema) ToProviderConfig() map[string]any {
	if s == nil {
		return map[string]any{
			inference.ConfigKeyResponseSchema:   nil,
			inference.ConfigKeyStructuredOutput: false,
		}
	}
	return map[string]any{
		inference.ConfigKeyResponseSchema:   s.Definition(),
		inference.ConfigKeyStructuredOutput: true,
	}
}

// cloneDefinition deep-copies the maps and []any slices of a JSON document.
// Other values are shared.
func cloneDefinition(definition map[string]any) map[string]any {
	if definition == nil {
		return nil
	}
	out := make(map[string]any, len(definition))
	for k, v := range definition {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		return cloneDefinition(v)
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// newInferenceSchema adapts NewSchema to inference.SchemaFactory.
func newInferenceSchema(definition map[string]any) (inference.Schema, error) {
	s, err := NewSchema(definition)
	if err != nil {
		return nil, err
	}
	return s, nil
}
