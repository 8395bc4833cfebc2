package runtime

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/northcloud/jobforge/internal/domain"
)

// Validator checks a task's input and output against its declared JSON
// Schemas (§4.2: "Input is validated against task.input_schema before
// invoking the script. Output is validated against task.output_schema
// after.").
type Validator struct{}

// ValidateInput returns a non-retriable domain.Error on schema mismatch,
// per §4.1.3's "validation errors are non-retriable" invariant.
func (Validator) ValidateInput(schema domain.JSONDoc, input []byte) *domain.Error {
	return validateAgainst(schema, input, domain.KindSchemaValidationInput)
}

func (Validator) ValidateOutput(schema domain.JSONDoc, output []byte) *domain.Error {
	return validateAgainst(schema, output, domain.KindSchemaValidationOutput)
}

func validateAgainst(schemaDoc domain.JSONDoc, payload []byte, kind domain.ErrorKind) *domain.Error {
	if len(schemaDoc) == 0 {
		return nil
	}

	compiler := jsonschema.NewCompiler()
	const schemaResource = "task-schema.json"
	if err := compiler.AddResource(schemaResource, bytes.NewReader(schemaDoc)); err != nil {
		return domain.NewError(domain.KindConfigError, "compile task schema", err)
	}
	schema, err := compiler.Compile(schemaResource)
	if err != nil {
		return domain.NewError(domain.KindConfigError, "compile task schema", err)
	}

	var doc interface{}
	if len(payload) == 0 {
		payload = []byte("null")
	}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return domain.NewError(kind, "payload is not valid JSON", err)
	}

	if err := schema.Validate(doc); err != nil {
		return domain.NewError(kind, fmt.Sprintf("schema validation failed: %v", err), err)
	}
	return nil
}
