package repository

import (
	"context"

	"github.com/iliyamo/field-reservation/internal/model"
)

// ReservationReader serves read-only queries outside of a transaction.
type ReservationReader interface {
	// List returns all reservations, or only those on date when it is
	// non-empty, ordered by date, start time and ID.
	List(ctx context.Context, date string) ([]model.Reservation, error)
	GetByID(ctx context.Context, id uint64) (*model.Reservation, error)
}

// ReservationTx is the unit of work handed to Store.WithinTx.  Reads made
// through it see a snapshot that stays consistent with the writes that
// follow: ListByDateForUpdate blocks concurrent writers on the same date
// until the transaction ends.
type ReservationTx interface {
	ListByDateForUpdate(ctx context.Context, date string) ([]model.Reservation, error)
	GetByIDForUpdate(ctx context.Context, id uint64) (*model.Reservation, error)
	// Insert assigns ID, CreatedAt and UpdatedAt on r.
	Insert(ctx context.Context, r *model.Reservation) error
	// Update replaces every mutable column of the row with r.ID and sets
	// r.UpdatedAt.
	Update(ctx context.Context, r *model.Reservation) error
	Delete(ctx context.Context, id uint64) error
}

// TxFunc runs inside a store transaction.  Returning an error rolls the
// transaction back.
type TxFunc func(ctx context.Context, tx ReservationTx) error

// AuditStore appends and lists audit entries.
type AuditStore interface {
	// AppendAudit assigns e.ID and persists e.  e.Time must be set.
	AppendAudit(ctx context.Context, e *model.AuditLogEntry) error
	// ListAudit returns every entry, newest first.
	ListAudit(ctx context.Context) ([]model.AuditLogEntry, error)
}

// Store is the persistence contract the reservation service depends on.
type Store interface {
	ReservationReader
	AuditStore
	WithinTx(ctx context.Context, fn TxFunc) error
}

func validAuditEntry(e *model.AuditLogEntry) bool {
	return e != nil && e.Action.Valid() && len(e.Detail) > 0
}
