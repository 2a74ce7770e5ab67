// Package contracts provides the core types exchanged between bus participants:
//   - Envelope: the validated wrapper {event, version, data, meta} carried by every message
//   - PublishOutcome: the definitive result of a single publish attempt
//
// The envelope layout is a versioned contract shared with every module on the
// bus; changes must stay backward compatible (new optional fields, new event
// names) so producers built against older snapshots keep working.
package contracts
