package calcserver

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

var submitResponseSchema = map[string]any{
	"type": "object",
	"additionalProperties": map[string]any{
		"type": []any{"string", "integer"},
	},
}

var statusResponseSchema = map[string]any{
	"type":     "object",
	"required": []any{"status"},
	"properties": map[string]any{
		"status": map[string]any{"type": "string"},
		"layer_ids": map[string]any{
			"type":  []any{"array", "null"},
			"items": map[string]any{"type": []any{"string", "integer"}},
		},
	},
}

// validate checks a decoded response body against a schema.
func validate(schema map[string]any, body any) error {
	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(body))
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	if !result.Valid() {
		errs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			errs = append(errs, desc.String())
		}

		return fmt.Errorf("unexpected response: %s", strings.Join(errs, "; "))
	}

	return nil
}
