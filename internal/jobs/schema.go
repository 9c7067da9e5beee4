package jobs

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// FileSchema is the JSON schema a jobs document must satisfy before it is decoded.
const FileSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["jobs"],
  "additionalProperties": false,
  "properties": {
    "jobs": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "command"],
        "additionalProperties": false,
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "command": {
            "type": "array",
            "minItems": 1,
            "items": {"type": "string"}
          },
          "dir": {"type": "string"},
          "env": {
            "type": "object",
            "additionalProperties": {"type": "string"}
          },
          "timeout_ms": {"type": "integer", "minimum": 0},
          "schedule": {"type": "string"}
        }
      }
    }
  }
}`

var schemaLoader = gojsonschema.NewStringLoader(FileSchema)

// validateSchema checks a decoded YAML document against FileSchema.
func validateSchema(doc interface{}) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("invalid jobs file: %s", strings.Join(msgs, "; "))
}
