package signal

import (
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// intakeSchema validates raw signal payloads before they are decoded. The
// shape mirrors what the upstream parser emits; strictness here keeps junk
// out of the execution path with a useful error instead of a zero-valued
// struct.
const intakeSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["symbol", "direction", "entries", "stop_loss"],
  "properties": {
    "symbol": {"type": "string", "minLength": 1},
    "direction": {"type": "string", "enum": ["BUY", "SELL", "buy", "sell"]},
    "direction2": {"type": "string", "enum": ["BUY", "SELL", "buy", "sell"]},
    "entries": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["kind"],
        "properties": {
          "kind": {"type": "string", "enum": ["MARKET", "LIMIT", "STOP", "market", "limit", "stop"]},
          "price": {"type": "number", "minimum": 0}
        }
      }
    },
    "targets": {"type": "array", "items": {"type": "number", "exclusiveMinimum": 0}},
    "stop_loss": {"type": "number", "exclusiveMinimum": 0},
    "group_id": {"type": "string"}
  }
}`

var compiledSchema = jsonschema.MustCompileString("signal.json", intakeSchema)

// ValidatePayload runs the JSON schema over an already-decoded generic
// payload (as produced by json.Unmarshal into any).
func ValidatePayload(doc any) error {
	return compiledSchema.Validate(doc)
}

// SchemaError flattens a jsonschema validation error into a single line
// suitable for API responses and logs.
func SchemaError(err error) string {
	if err == nil {
		return ""
	}
	if ve, ok := err.(*jsonschema.ValidationError); ok {
		leaf := ve
		for len(leaf.Causes) > 0 {
			leaf = leaf.Causes[0]
		}
		loc := strings.TrimPrefix(leaf.InstanceLocation, "/")
		if loc == "" {
			return leaf.Message
		}
		return loc + ": " + leaf.Message
	}
	return err.Error()
}
