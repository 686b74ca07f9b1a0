package validation

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// paymentEventSchema constrains webhook payloads from the payment provider
// before any field is trusted.
const paymentEventSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["id", "type", "data"],
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"type": {"type": "string", "minLength": 1},
		"data": {
			"type": "object",
			"required": ["order_id", "user_id", "email"],
			"properties": {
				"order_id": {"type": "string", "minLength": 1},
				"user_id": {"type": "string", "minLength": 1},
				"email": {"type": "string", "format": "email"},
				"order_number": {"type": "string"},
				"amount_cents": {"type": "integer", "minimum": 0},
				"credits": {"type": "integer", "minimum": 0}
			}
		}
	}
}`

// SchemaValidator handles JSON schema validation for inbound payloads
type SchemaValidator struct {
	schemas map[string]*gojsonschema.Schema
}

func NewSchemaValidator() (*SchemaValidator, error) {
	sv := &SchemaValidator{
		schemas: make(map[string]*gojsonschema.Schema),
	}

	sources := map[string]string{
		"payment-event": paymentEventSchema,
	}

	for name, source := range sources {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(source))
		if err != nil {
			return nil, fmt.Errorf("failed to compile schema %s: %w", name, err)
		}
		sv.schemas[name] = schema
	}

	return sv, nil
}

// ValidatePaymentEvent validates a raw webhook body against the payment
// event schema.
func (sv *SchemaValidator) ValidatePaymentEvent(body []byte) *ValidationResult {
	return sv.validate("payment-event", body)
}

func (sv *SchemaValidator) validate(schemaName string, body []byte) *ValidationResult {
	schema, exists := sv.schemas[schemaName]
	if !exists {
		return &ValidationResult{
			Valid: false,
			Errors: []ValidationError{{
				Field:   "schema",
				Message: fmt.Sprintf("Schema '%s' not found", schemaName),
			}},
		}
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return &ValidationResult{
			Valid: false,
			Errors: []ValidationError{{
				Field:   "body",
				Message: fmt.Sprintf("Validation error: %v", err),
			}},
		}
	}

	validationResult := &ValidationResult{Valid: result.Valid()}
	for _, err := range result.Errors() {
		validationResult.Errors = append(validationResult.Errors, ValidationError{
			Field:   err.Field(),
			Message: err.Description(),
		})
	}

	return validationResult
}

type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (ve ValidationError) Error() string {
	return fmt.Sprintf("validation error in field '%s': %s", ve.Field, ve.Message)
}
