package client

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/joseph-ayodele/steps-tracker/constants"
)

// BuildExtractionJSONSchema returns the JSON-Schema the extraction response must satisfy.
func BuildExtractionJSONSchema() map[string]any {
	props := map[string]any{
		"steps":      map[string]any{"type": "integer", "minimum": 0},
		"date":       map[string]any{"type": "string", "pattern": `^\d{4}-\d{2}-\d{2}$`},
		"distance":   map[string]any{"type": "number", "minimum": 0},
		"calories":   map[string]any{"type": "number", "minimum": 0},
		"confidence": map[string]any{"type": "string", "enum": constants.ConfidenceValues()},
		"notes":      map[string]any{"type": "string"},
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   []string{"confidence"},
	}
}

// ValidateJSONAgainstSchema validates "data" against "schemaMap".
func ValidateJSONAgainstSchema(schemaMap map[string]any, data []byte) error {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}
