package contracts

import (
	"time"

	json "github.com/goccy/go-json"
)

// Envelope wraps every message published to the bus. It is immutable once
// constructed: callers build one, publish it once, and discard it.
type Envelope struct {
	Event   string          `json:"event"`
	Version string          `json:"version"`
	Data    json.RawMessage `json:"data"`
	Meta    Meta            `json:"meta"`
}

// Meta carries traceability information for an envelope.
type Meta struct {
	OccurredAt    string         `json:"occurred_at"`
	Producer      string         `json:"producer"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	CausationID   string         `json:"causation_id,omitempty"`
	Extra         map[string]any `json:"-"`
}

// OccurredTime parses the occurred_at timestamp. The zero time is returned
// when the field does not hold a valid RFC 3339 value.
func (m Meta) OccurredTime() time.Time {
	t, err := time.Parse(time.RFC3339, m.OccurredAt)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Marshal renders the envelope to its canonical wire form.
func (e *Envelope) Marshal() ([]byte, error) {
	type alias Envelope
	body, err := json.Marshal((*alias)(e))
	if err != nil {
		return nil, err
	}
	if len(e.Meta.Extra) == 0 {
		return body, nil
	}

	// Fold extra meta fields back in; the meta object is open by contract.
	var top map[string]json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil {
		return nil, err
	}
	var meta map[string]any
	if err := json.Unmarshal(top["meta"], &meta); err != nil {
		return nil, err
	}
	for k, v := range e.Meta.Extra {
		if _, reserved := meta[k]; !reserved {
			meta[k] = v
		}
	}
	rawMeta, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}
	top["meta"] = rawMeta
	return json.Marshal(top)
}
