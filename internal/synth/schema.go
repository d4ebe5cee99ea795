package synth

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

const modelsSchemaJSON = `{
  "type": "array",
  "items": {
    "type": "object",
    "required": ["name"],
    "properties": {
      "name": {"type": "string", "minLength": 1},
      "language": {"type": ["array", "null"], "items": {"type": "string"}},
      "models": {"type": ["array", "null"], "items": {"type": "string"}}
    }
  }
}`

const envelopeSchemaJSON = `{
  "type": "object",
  "required": ["status"],
  "properties": {
    "request_id": {"type": ["string", "null"]},
    "status": {"type": "string", "enum": ["queued", "processing", "completed"]},
    "position": {"type": ["number", "null"]}
  }
}`

var (
	modelsSchema   = mustSchema(modelsSchemaJSON)
	envelopeSchema = mustSchema(envelopeSchemaJSON)
)

// mustSchema compiles a built-in schema; a failure is a programming error.
func mustSchema(source string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(source))
	if err != nil {
		panic(fmt.Sprintf("compile schema: %v", err))
	}
	return schema
}

// validateJSON checks a response body against a schema.
func validateJSON(schema *gojsonschema.Schema, body []byte) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return &ProtocolError{Message: fmt.Sprintf("invalid json: %v", err), Body: truncate(string(body))}
	}

	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return &ProtocolError{Message: fmt.Sprintf("validation failed: %v", problems), Body: truncate(string(body))}
	}
	return nil
}
