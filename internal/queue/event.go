// Package queue defines message payloads exchanged over the message broker.
package queue

import "encoding/json"

// AuditEvent is published after an audit entry has been stored.  It lets
// downstream consumers follow reservation changes without querying the
// primary database.
type AuditEvent struct {
    EventID    string          `json:"event_id"`
    AuditID    uint64          `json:"audit_id"`
    Action     string          `json:"action"`
    Detail     json.RawMessage `json:"detail"`
    RecordedAt string          `json:"recorded_at"`
}
