package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// executePlanBodySchema is the shape every /execute_plan request body
// must satisfy before it is even unmarshaled into daemon.Step values:
// a JSON object with a "plan" array of RUN/STOP step objects. This
// catches malformed requests (wrong types, missing fields) with a
// precise error message before validate.Plan ever runs its own
// semantic (catalog-aware) checks.
const executePlanBodySchema = `{
  "type": "object",
  "required": ["plan"],
  "properties": {
    "plan": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["type"],
        "properties": {
          "type": {"type": "string", "enum": ["RUN", "STOP"]},
          "target": {"type": "string"},
          "token": {"type": "string"},
          "args": {"type": "array"},
          "duration_ms": {"type": "number"}
        }
      }
    }
  }
}`

// executePlanSchema wraps a compiled jsonschema.Schema for request-body
// validation.
type executePlanSchema struct {
	schema *jsonschema.Schema
}

func mustCompileExecutePlanSchema() *executePlanSchema {
	var doc interface{}
	if err := json.Unmarshal([]byte(executePlanBodySchema), &doc); err != nil {
		panic(fmt.Sprintf("bridge: invalid embedded execute_plan schema: %v", err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("execute_plan.json", doc); err != nil {
		panic(fmt.Sprintf("bridge: failed to register execute_plan schema: %v", err))
	}
	schema, err := c.Compile("execute_plan.json")
	if err != nil {
		panic(fmt.Sprintf("bridge: failed to compile execute_plan schema: %v", err))
	}
	return &executePlanSchema{schema: schema}
}

// validate checks raw JSON bytes against the compiled schema.
func (s *executePlanSchema) validate(raw []byte) error {
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return s.schema.Validate(doc)
}
