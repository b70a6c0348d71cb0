package model

import (
    "encoding/json"
    "time"
)

// AuditAction names the kind of mutation an audit entry records.
type AuditAction string

const (
    AuditCreate AuditAction = "CREATE"
    AuditUpdate AuditAction = "UPDATE"
    AuditDelete AuditAction = "DELETE"
)

// Valid reports whether a is one of the known actions.
func (a AuditAction) Valid() bool {
    switch a {
    case AuditCreate, AuditUpdate, AuditDelete:
        return true
    }
    return false
}

// AuditLogEntry is an append-only record of a single reservation
// mutation.  Entries are never updated or removed.
//
// Fields:
//  ID     – monotonic identifier.
//  Time   – when the entry was written (UTC).
//  Action – CREATE, UPDATE or DELETE.
//  Detail – JSON snapshot of the reservation after the mutation, or
//           {"id": N} for deletes.
type AuditLogEntry struct {
    ID     uint64          `json:"id"`     // audit_log.id
    Time   time.Time       `json:"time"`   // audit_log.created_at
    Action AuditAction     `json:"action"` // audit_log.action
    Detail json.RawMessage `json:"detail"` // audit_log.detail
}

// DeletedDetail is the detail payload recorded for deletes.
type DeletedDetail struct {
    ID uint64 `json:"id"`
}
