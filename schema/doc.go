// Package schema holds the envelope schema and one payload schema per event
// type, and validates raw messages against them before they may enter the bus.
//
// The registry is a fixed table built at construction time and never mutated,
// so any number of concurrent callers may validate without locking. Validation
// is pure: no I/O, no shared state.
//
// Payload schemas are closed (undeclared properties are rejected) except for
// the shared-master events customer.upserted and vehicle.upserted, which allow
// caller-defined extension fields.
package schema
