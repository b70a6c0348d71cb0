// Package repository defines the persistence layer for reservations and
// their audit trail.  Three stores implement the Store interface: MySQL,
// MongoDB and an in-memory store used for tests and local runs.  The
// sentinel errors below let higher layers such as the service and the
// handlers tell failure scenarios apart without knowing the backend.
package repository

import "errors"

// ErrReservationNotFound is returned when no reservation has the
// requested ID.  Handlers should translate this into an HTTP 404
// response.
var ErrReservationNotFound = errors.New("reservation not found")

// ErrInvalidAuditEntry is returned when an audit entry has an unknown
// action or an empty detail payload.
var ErrInvalidAuditEntry = errors.New("invalid audit entry")
