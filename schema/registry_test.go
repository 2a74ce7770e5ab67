package schema

import (
	"fmt"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envelopeJSON(event string, data map[string]any) []byte {
	raw, err := json.Marshal(map[string]any{
		"event":   event,
		"version": "1.0",
		"data":    data,
		"meta": map[string]any{
			"occurred_at": "2025-01-01T00:00:00Z",
			"producer":    "m3",
		},
	})
	if err != nil {
		panic(err)
	}
	return raw
}

func validTransit() map[string]any {
	return map[string]any{
		"transit_id":   "t-100",
		"toll_id":      "toll-1",
		"toll_name":    "North Plaza",
		"lane":         "3",
		"vehicle_id":   "v-9",
		"vehicle_type": "truck",
		"timestamp":    "2025-01-01T00:00:00Z",
	}
}

func TestNewRegistry(t *testing.T) {
	t.Run("NewRegistry loads the standard event table", func(t *testing.T) {
		r := NewRegistry()

		events := r.Events()
		assert.Len(t, events, 13)
		assert.Contains(t, events, "transit.recorded")
		assert.Contains(t, events, "audit.logged")
		assert.IsIncreasing(t, events)
	})

	t.Run("Schema returns the registered payload schema", func(t *testing.T) {
		r := NewRegistry()

		s, err := r.Schema("payment.recorded")
		require.NoError(t, err)
		assert.Contains(t, s.Required, "amount")
	})

	t.Run("Schema fails for unknown events", func(t *testing.T) {
		r := NewRegistry()

		_, err := r.Schema("nope.event")
		var notRegistered *SchemaNotRegisteredError
		require.ErrorAs(t, err, &notRegistered)
		assert.Equal(t, "nope.event", notRegistered.Event)
	})
}

func TestValidateEnvelopeShape(t *testing.T) {
	r := NewRegistry()

	t.Run("valid envelope passes and decodes", func(t *testing.T) {
		env, err := r.Validate(envelopeJSON("transit.recorded", validTransit()))

		require.NoError(t, err)
		assert.Equal(t, "transit.recorded", env.Event)
		assert.Equal(t, "1.0", env.Version)
		assert.Equal(t, "m3", env.Meta.Producer)
	})

	t.Run("missing required envelope field fails", func(t *testing.T) {
		raw := []byte(`{"event":"transit.recorded","version":"1.0","data":{}}`)

		_, err := r.Validate(raw)

		var failed *ValidationFailedError
		require.ErrorAs(t, err, &failed)
		assert.Equal(t, "meta", failed.Errors[0].Field)
		assert.Equal(t, "REQUIRED_FIELD_MISSING", failed.Errors[0].Code)
	})

	t.Run("undeclared envelope top-level field fails", func(t *testing.T) {
		raw, _ := json.Marshal(map[string]any{
			"event":   "transit.recorded",
			"version": "1.0",
			"data":    validTransit(),
			"meta":    map[string]any{"occurred_at": "2025-01-01T00:00:00Z", "producer": "m3"},
			"extra":   true,
		})

		_, err := r.Validate(raw)

		var failed *ValidationFailedError
		require.ErrorAs(t, err, &failed)
		assert.Equal(t, "UNDECLARED_FIELD", failed.Errors[0].Code)
	})

	t.Run("malformed occurred_at fails", func(t *testing.T) {
		raw, _ := json.Marshal(map[string]any{
			"event":   "transit.recorded",
			"version": "1.0",
			"data":    validTransit(),
			"meta":    map[string]any{"occurred_at": "not-a-time", "producer": "m3"},
		})

		_, err := r.Validate(raw)

		var failed *ValidationFailedError
		require.ErrorAs(t, err, &failed)
		assert.Equal(t, "meta.occurred_at", failed.Errors[0].Field)
		assert.Equal(t, "FORMAT_VIOLATION", failed.Errors[0].Code)
	})

	t.Run("meta keeps undeclared fields as extras", func(t *testing.T) {
		raw, _ := json.Marshal(map[string]any{
			"event":   "transit.recorded",
			"version": "1.0",
			"data":    validTransit(),
			"meta": map[string]any{
				"occurred_at": "2025-01-01T00:00:00Z",
				"producer":    "m3",
				"trace_id":    "abc123",
			},
		})

		env, err := r.Validate(raw)

		require.NoError(t, err)
		assert.Equal(t, "abc123", env.Meta.Extra["trace_id"])
	})

	t.Run("non-object body fails without panicking", func(t *testing.T) {
		_, err := r.Validate([]byte(`[1,2,3]`))

		var failed *ValidationFailedError
		require.ErrorAs(t, err, &failed)
		assert.Equal(t, "MALFORMED_JSON", failed.Errors[0].Code)
	})
}

func TestValidatePayload(t *testing.T) {
	r := NewRegistry()

	t.Run("unregistered event always fails", func(t *testing.T) {
		_, err := r.Validate(envelopeJSON("unknown.event", map[string]any{"anything": 1}))

		var notRegistered *SchemaNotRegisteredError
		require.ErrorAs(t, err, &notRegistered)
		assert.Equal(t, "unknown.event", notRegistered.Event)
	})

	t.Run("missing required payload field fails", func(t *testing.T) {
		data := validTransit()
		delete(data, "vehicle_id")

		_, err := r.Validate(envelopeJSON("transit.recorded", data))

		var failed *ValidationFailedError
		require.ErrorAs(t, err, &failed)
		assert.Equal(t, "data.vehicle_id", failed.Errors[0].Field)
	})

	t.Run("wrong field type fails", func(t *testing.T) {
		data := map[string]any{
			"payment_id":     "p-1",
			"toll_id":        "toll-1",
			"toll_name":      "North Plaza",
			"cashier_id":     "c-1",
			"timestamp":      "2025-01-01T00:00:00Z",
			"payment_method": "cash",
			"amount":         "twelve", // must be numeric
			"reason":         "toll",
		}

		_, err := r.Validate(envelopeJSON("payment.recorded", data))

		var failed *ValidationFailedError
		require.ErrorAs(t, err, &failed)
		assert.Equal(t, "data.amount", failed.Errors[0].Field)
		assert.Equal(t, "TYPE_MISMATCH", failed.Errors[0].Code)
	})

	t.Run("undeclared field on closed schema fails", func(t *testing.T) {
		data := validTransit()
		data["smuggled"] = true

		_, err := r.Validate(envelopeJSON("transit.recorded", data))

		var failed *ValidationFailedError
		require.ErrorAs(t, err, &failed)
		assert.Equal(t, "data.smuggled", failed.Errors[0].Field)
		assert.Equal(t, "UNDECLARED_FIELD", failed.Errors[0].Code)
	})

	t.Run("open schemas accept extension fields", func(t *testing.T) {
		data := map[string]any{
			"customer_id": "c-7",
			"name":        "ACME Logistics",
			"is_active":   true,
			"loyalty":     "gold", // extension, allowed on open schemas
		}

		_, err := r.Validate(envelopeJSON("customer.upserted", data))

		assert.NoError(t, err)
	})

	t.Run("integer field rejects fractional numbers", func(t *testing.T) {
		data := map[string]any{
			"toll_id":      "toll-1",
			"toll_name":    "North Plaza",
			"open_lanes":   2.5,
			"closed_lanes": 1,
			"timestamp":    "2025-01-01T00:00:00Z",
		}

		_, err := r.Validate(envelopeJSON("toll.status.updated", data))

		var failed *ValidationFailedError
		require.ErrorAs(t, err, &failed)
		assert.Equal(t, "data.open_lanes", failed.Errors[0].Field)
	})

	t.Run("nullable fields accept null", func(t *testing.T) {
		data := map[string]any{
			"fine_id":         "f-1",
			"vehicle_id":      "v-1",
			"timestamp":       "2025-01-01T00:00:00Z",
			"amount":          150.0,
			"infraction_type": "evasion",
			"state":           "open",
			"transit_id":      nil,
		}

		_, err := r.Validate(envelopeJSON("fine.issued", data))

		assert.NoError(t, err)
	})

	t.Run("non-nullable fields reject null", func(t *testing.T) {
		data := validTransit()
		data["lane"] = nil

		_, err := r.Validate(envelopeJSON("transit.recorded", data))

		var failed *ValidationFailedError
		require.ErrorAs(t, err, &failed)
		assert.Equal(t, "NULL_VIOLATION", failed.Errors[0].Code)
	})

	t.Run("nested alert items are validated", func(t *testing.T) {
		data := map[string]any{
			"toll_id":      "toll-1",
			"toll_name":    "North Plaza",
			"open_lanes":   2,
			"closed_lanes": 1,
			"timestamp":    "2025-01-01T00:00:00Z",
			"alerts": []any{
				map[string]any{"type": "queue", "lane": "2", "time": "2025-01-01T00:05:00Z"},
				map[string]any{"type": "accident"}, // missing time
			},
		}

		_, err := r.Validate(envelopeJSON("toll.status.updated", data))

		var failed *ValidationFailedError
		require.ErrorAs(t, err, &failed)
		assert.Equal(t, "data.alerts[1].time", failed.Errors[0].Field)
	})

	t.Run("date format is checked on rate validity bounds", func(t *testing.T) {
		data := map[string]any{
			"rate_id":       "r-1",
			"category_id":   "cat-1",
			"peak_price":    10.5,
			"offpeak_price": 8.0,
			"valid_from":    "2025-01-01",
			"valid_to":      "01/02/2025",
		}

		_, err := r.Validate(envelopeJSON("rate.updated", data))

		var failed *ValidationFailedError
		require.ErrorAs(t, err, &failed)
		assert.Equal(t, "data.valid_to", failed.Errors[0].Field)
	})
}

func TestValidateIsPure(t *testing.T) {
	t.Run("concurrent validation is safe", func(t *testing.T) {
		r := NewRegistry()
		done := make(chan struct{})
		for i := 0; i < 16; i++ {
			go func(i int) {
				defer func() { done <- struct{}{} }()
				for j := 0; j < 100; j++ {
					data := validTransit()
					data["transit_id"] = fmt.Sprintf("t-%d-%d", i, j)
					_, err := r.Validate(envelopeJSON("transit.recorded", data))
					assert.NoError(t, err)
				}
			}(i)
		}
		for i := 0; i < 16; i++ {
			<-done
		}
	})
}
