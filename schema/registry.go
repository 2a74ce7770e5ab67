package schema

import (
	"fmt"
	"sort"
	"time"

	json "github.com/goccy/go-json"

	"github.com/Johannson17/tolling-service-bus/contracts"
)

// PropertyDef defines validation rules for a single payload property.
type PropertyDef struct {
	Type       string                  `json:"type"`
	Nullable   bool                    `json:"nullable,omitempty"`
	Format     string                  `json:"format,omitempty"`
	Items      *PropertyDef            `json:"items,omitempty"`
	Properties map[string]*PropertyDef `json:"properties,omitempty"`
	Required   []string                `json:"required,omitempty"`
}

// EventSchema defines the payload contract for one event type. Closed schemas
// reject properties that are not declared.
type EventSchema struct {
	Required   []string                `json:"required"`
	Properties map[string]*PropertyDef `json:"properties"`
	Open       bool                    `json:"open,omitempty"`
}

// Registry validates envelopes against the fixed envelope schema and the
// per-event payload schemas. Immutable after construction.
type Registry struct {
	events map[string]*EventSchema
}

// NewRegistry builds the registry with the standard event table.
func NewRegistry() *Registry {
	return &Registry{events: eventSchemas()}
}

// Events lists all registered event names, sorted.
func (r *Registry) Events() []string {
	names := make([]string, 0, len(r.events))
	for name := range r.events {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Schema returns the payload schema registered for an event.
func (r *Registry) Schema(event string) (*EventSchema, error) {
	s, ok := r.events[event]
	if !ok {
		return nil, &SchemaNotRegisteredError{Event: event}
	}
	return s, nil
}

// envelope top-level fields; anything else is rejected
var envelopeFields = map[string]bool{
	"event":   true,
	"version": true,
	"data":    true,
	"meta":    true,
}

var metaFields = map[string]bool{
	"occurred_at":    true,
	"producer":       true,
	"correlation_id": true,
	"causation_id":   true,
}

// Validate checks a raw message against the envelope schema and the payload
// schema registered for its event, returning the typed envelope on success.
// An envelope with an unregistered event is always invalid.
func (r *Registry) Validate(raw []byte) (*contracts.Envelope, error) {
	var top map[string]any
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, &ValidationFailedError{Errors: []ValidationError{{
			Field:   "envelope",
			Message: fmt.Sprintf("body is not a JSON object: %v", err),
			Code:    "MALFORMED_JSON",
		}}}
	}

	result := &validationResult{}
	r.validateEnvelopeShape(top, result)
	if len(result.errors) > 0 {
		return nil, &ValidationFailedError{Errors: result.errors}
	}

	event := top["event"].(string)
	eventSchema, ok := r.events[event]
	if !ok {
		return nil, &SchemaNotRegisteredError{Event: event}
	}

	data := top["data"].(map[string]any)
	r.validateObject("data", data, eventSchema.Required, eventSchema.Properties, !eventSchema.Open, result)
	if len(result.errors) > 0 {
		return nil, &ValidationFailedError{Errors: result.errors}
	}

	return decodeEnvelope(raw, top)
}

type validationResult struct {
	errors []ValidationError
}

func (vr *validationResult) add(field, message, code string, value any) {
	vr.errors = append(vr.errors, ValidationError{Field: field, Message: message, Code: code, Value: value})
}

// validateEnvelopeShape enforces the fixed envelope schema: required fields,
// field types, the closed top level, and the meta block (which is open apart
// from its declared fields).
func (r *Registry) validateEnvelopeShape(top map[string]any, result *validationResult) {
	for _, field := range []string{"event", "version", "data", "meta"} {
		if _, ok := top[field]; !ok {
			result.add(field, "required field is missing", "REQUIRED_FIELD_MISSING", nil)
		}
	}
	for field := range top {
		if !envelopeFields[field] {
			result.add(field, "undeclared envelope field", "UNDECLARED_FIELD", nil)
		}
	}
	if len(result.errors) > 0 {
		return
	}

	if _, ok := top["event"].(string); !ok {
		result.add("event", fmt.Sprintf("expected type string, got %T", top["event"]), "TYPE_MISMATCH", top["event"])
	}
	if _, ok := top["version"].(string); !ok {
		result.add("version", fmt.Sprintf("expected type string, got %T", top["version"]), "TYPE_MISMATCH", top["version"])
	}
	if _, ok := top["data"].(map[string]any); !ok {
		result.add("data", fmt.Sprintf("expected type object, got %T", top["data"]), "TYPE_MISMATCH", nil)
	}

	meta, ok := top["meta"].(map[string]any)
	if !ok {
		result.add("meta", fmt.Sprintf("expected type object, got %T", top["meta"]), "TYPE_MISMATCH", nil)
		return
	}
	for _, field := range []string{"occurred_at", "producer"} {
		if _, present := meta[field]; !present {
			result.add("meta."+field, "required field is missing", "REQUIRED_FIELD_MISSING", nil)
		}
	}
	if occurredAt, present := meta["occurred_at"]; present {
		str, isStr := occurredAt.(string)
		if !isStr {
			result.add("meta.occurred_at", fmt.Sprintf("expected type string, got %T", occurredAt), "TYPE_MISMATCH", occurredAt)
		} else if _, err := time.Parse(time.RFC3339, str); err != nil {
			result.add("meta.occurred_at", "invalid date-time format (expected ISO 8601)", "FORMAT_VIOLATION", str)
		}
	}
	for _, field := range []string{"producer", "correlation_id", "causation_id"} {
		if value, present := meta[field]; present {
			if _, isStr := value.(string); !isStr {
				result.add("meta."+field, fmt.Sprintf("expected type string, got %T", value), "TYPE_MISMATCH", value)
			}
		}
	}
}

// validateObject validates a JSON object against required fields and property
// definitions. Closed objects reject undeclared properties.
func (r *Registry) validateObject(fieldPath string, data map[string]any, required []string, properties map[string]*PropertyDef, closed bool, result *validationResult) {
	for _, req := range required {
		if _, exists := data[req]; !exists {
			result.add(buildFieldPath(fieldPath, req), "required field is missing", "REQUIRED_FIELD_MISSING", nil)
		}
	}

	for fieldName, value := range data {
		currentPath := buildFieldPath(fieldPath, fieldName)
		propDef, declared := properties[fieldName]
		if !declared {
			if closed {
				result.add(currentPath, "undeclared field on closed schema", "UNDECLARED_FIELD", nil)
			}
			continue
		}
		r.validateProperty(currentPath, value, propDef, result)
	}
}

// validateProperty validates a single value against its definition.
func (r *Registry) validateProperty(fieldPath string, value any, propDef *PropertyDef, result *validationResult) {
	if value == nil {
		if !propDef.Nullable {
			result.add(fieldPath, "value must not be null", "NULL_VIOLATION", nil)
		}
		return
	}

	if propDef.Type != "" && !validateType(value, propDef.Type) {
		result.add(fieldPath, fmt.Sprintf("expected type %s, got %T", propDef.Type, value), "TYPE_MISMATCH", value)
		return
	}

	if str, ok := value.(string); ok && propDef.Format != "" {
		r.validateFormat(fieldPath, str, propDef.Format, result)
	}

	if arr, ok := value.([]any); ok && propDef.Items != nil {
		for i, item := range arr {
			r.validateProperty(fmt.Sprintf("%s[%d]", fieldPath, i), item, propDef.Items, result)
		}
	}

	// Nested objects follow JSON-Schema defaults: only declared properties
	// are checked, extras pass.
	if obj, ok := value.(map[string]any); ok && propDef.Properties != nil {
		r.validateObject(fieldPath, obj, propDef.Required, propDef.Properties, false, result)
	}
}

func validateType(value any, expectedType string) bool {
	switch expectedType {
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		switch value.(type) {
		case float64, int, int64:
			return true
		}
		return false
	case "integer":
		if f, ok := value.(float64); ok {
			return f == float64(int64(f))
		}
		_, ok := value.(int)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	default:
		return true
	}
}

func (r *Registry) validateFormat(fieldPath, value, format string, result *validationResult) {
	switch format {
	case "date-time":
		if _, err := time.Parse(time.RFC3339, value); err != nil {
			result.add(fieldPath, "invalid date-time format (expected ISO 8601)", "FORMAT_VIOLATION", value)
		}
	case "date":
		if _, err := time.Parse("2006-01-02", value); err != nil {
			result.add(fieldPath, "invalid date format (expected YYYY-MM-DD)", "FORMAT_VIOLATION", value)
		}
	}
}

func buildFieldPath(parent, field string) string {
	if parent == "" {
		return field
	}
	return parent + "." + field
}

// decodeEnvelope builds the typed envelope from an already-validated body,
// preserving undeclared meta fields in Meta.Extra.
func decodeEnvelope(raw []byte, top map[string]any) (*contracts.Envelope, error) {
	var env contracts.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	meta := top["meta"].(map[string]any)
	for k, v := range meta {
		if metaFields[k] {
			continue
		}
		if env.Meta.Extra == nil {
			env.Meta.Extra = make(map[string]any)
		}
		env.Meta.Extra[k] = v
	}
	return &env, nil
}
