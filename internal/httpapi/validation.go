// Package httpapi exposes the retrieval/caching core over HTTP: search,
// query expansion, context window management, and checkpoints (spec §5,
// grounded on apps/rest-api/internal/api and apps/edge-mcp/internal/validation).
package httpapi

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// ValidationError names the field and reason a request body failed
// validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error in field %q: %s", e.Field, e.Message)
}

// searchRequestSchema bounds the /search request body. Only query is
// required; every other knob falls back to its configured default.
var searchRequestSchema = map[string]interface{}{
	"type":     "object",
	"required": []interface{}{"query"},
	"properties": map[string]interface{}{
		"query":      map[string]interface{}{"type": "string", "minLength": 1},
		"namespace":  map[string]interface{}{"type": "string"},
		"method":     map[string]interface{}{"type": "string", "enum": []interface{}{"dense", "sparse", "fuzzy", "ilike", "hybrid", "hybrid_rpc"}},
		"top_k":      map[string]interface{}{"type": "integer", "minimum": 1},
		"use_rerank": map[string]interface{}{"type": "boolean"},
	},
}

var expandRequestSchema = map[string]interface{}{
	"type":     "object",
	"required": []interface{}{"query"},
	"properties": map[string]interface{}{
		"query":    map[string]interface{}{"type": "string", "minLength": 1},
		"strategy": map[string]interface{}{"type": "string"},
		"count":    map[string]interface{}{"type": "integer", "minimum": 1},
	},
}

var addMessageRequestSchema = map[string]interface{}{
	"type":     "object",
	"required": []interface{}{"role", "content"},
	"properties": map[string]interface{}{
		"role":         map[string]interface{}{"type": "string", "enum": []interface{}{"user", "assistant", "system"}},
		"content":      map[string]interface{}{"type": "string", "minLength": 1},
		"is_protected": map[string]interface{}{"type": "boolean"},
	},
}

// validateAgainstSchema checks raw JSON body against a JSON schema, returning
// a ValidationError describing the first failure.
func validateAgainstSchema(schema map[string]interface{}, body []byte) error {
	var probe interface{}
	if err := json.Unmarshal(body, &probe); err != nil {
		return &ValidationError{Field: "body", Message: fmt.Sprintf("invalid JSON: %v", err)}
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewBytesLoader(body))
	if err != nil {
		return &ValidationError{Field: "body", Message: fmt.Sprintf("schema validation error: %v", err)}
	}
	if !result.Valid() {
		first := result.Errors()[0]
		return &ValidationError{Field: first.Field(), Message: first.Description()}
	}
	return nil
}
