package runtime_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/northcloud/jobforge/internal/domain"
	"github.com/northcloud/jobforge/internal/runtime"
)

func TestValidator_ValidateInput_SchemaMismatch(t *testing.T) {
	schema := domain.JSONDoc(`{"type":"object","required":["name"],"properties":{"name":{"type":"string"}}}`)
	var v runtime.Validator

	derr := v.ValidateInput(schema, []byte(`{}`))
	require.NotNil(t, derr)
	require.Equal(t, domain.KindSchemaValidationInput, derr.Kind)
}

func TestValidator_ValidateInput_Valid(t *testing.T) {
	schema := domain.JSONDoc(`{"type":"object","required":["name"],"properties":{"name":{"type":"string"}}}`)
	var v runtime.Validator

	derr := v.ValidateInput(schema, []byte(`{"name":"demo"}`))
	require.Nil(t, derr)
}

func TestValidator_ValidateOutput_SchemaMismatch(t *testing.T) {
	schema := domain.JSONDoc(`{"type":"number"}`)
	var v runtime.Validator

	derr := v.ValidateOutput(schema, []byte(`"not a number"`))
	require.NotNil(t, derr)
	require.Equal(t, domain.KindSchemaValidationOutput, derr.Kind)
}

func TestValidator_NoSchema_Passes(t *testing.T) {
	var v runtime.Validator
	require.Nil(t, v.ValidateInput(nil, []byte(`{}`)))
}
