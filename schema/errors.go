package schema

import (
	"fmt"
	"strings"
)

// ValidationError describes a single schema violation.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Value   any    `json:"value,omitempty"`
}

func (ve ValidationError) Error() string {
	return fmt.Sprintf("validation error in field '%s': %s", ve.Field, ve.Message)
}

// ValidationFailedError aggregates all violations found in one envelope.
type ValidationFailedError struct {
	Errors []ValidationError
}

func (e *ValidationFailedError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	msgs := make([]string, 0, len(e.Errors))
	for _, ve := range e.Errors {
		msgs = append(msgs, ve.Error())
	}
	return fmt.Sprintf("validation failed with %d errors: %s", len(e.Errors), strings.Join(msgs, "; "))
}

// SchemaNotRegisteredError is returned when an envelope names an event with no
// registered payload schema. Such envelopes are always invalid.
type SchemaNotRegisteredError struct {
	Event string
}

func (e *SchemaNotRegisteredError) Error() string {
	return fmt.Sprintf("schema not registered for event '%s'", e.Event)
}
