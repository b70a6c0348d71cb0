package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/field-reservation/internal/model"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-process Store for tests and local runs.  A single
// mutex serialises every transaction, and writes are staged on a copy
// that only replaces the live state when the transaction function
// succeeds.
type MemoryStore struct {
	mu           sync.Mutex
	nextID       uint64
	reservations map[uint64]model.Reservation

	auditMu     sync.Mutex
	nextAuditID uint64
	audit       []model.AuditLogEntry

	now func() time.Time
}

// NewMemoryStore returns an empty store whose IDs start at 1.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID:       1,
		nextAuditID:  1,
		reservations: make(map[uint64]model.Reservation),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) List(ctx context.Context, date string) ([]model.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return listSorted(s.reservations, date), nil
}

func (s *MemoryStore) GetByID(ctx context.Context, id uint64) (*model.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[id]
	if !ok {
		return nil, ErrReservationNotFound
	}
	out := r.Clone()
	return &out, nil
}

// WithinTx holds the store lock for the whole of fn.
func (s *MemoryStore) WithinTx(ctx context.Context, fn TxFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := &memoryTx{
		nextID:       s.nextID,
		reservations: make(map[uint64]model.Reservation, len(s.reservations)),
		now:          s.now,
	}
	for id, r := range s.reservations {
		staged.reservations[id] = r
	}
	if err := fn(ctx, staged); err != nil {
		return err
	}
	s.nextID = staged.nextID
	s.reservations = staged.reservations
	return nil
}

func (s *MemoryStore) AppendAudit(ctx context.Context, e *model.AuditLogEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !validAuditEntry(e) {
		return ErrInvalidAuditEntry
	}
	s.auditMu.Lock()
	defer s.auditMu.Unlock()
	e.ID = s.nextAuditID
	s.nextAuditID++
	stored := *e
	stored.Detail = append([]byte(nil), e.Detail...)
	s.audit = append(s.audit, stored)
	return nil
}

func (s *MemoryStore) ListAudit(ctx context.Context) ([]model.AuditLogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.auditMu.Lock()
	defer s.auditMu.Unlock()
	out := make([]model.AuditLogEntry, 0, len(s.audit))
	for i := len(s.audit) - 1; i >= 0; i-- {
		out = append(out, s.audit[i])
	}
	return out, nil
}

type memoryTx struct {
	nextID       uint64
	reservations map[uint64]model.Reservation
	now          func() time.Time
}

func (t *memoryTx) ListByDateForUpdate(_ context.Context, date string) ([]model.Reservation, error) {
	return listSorted(t.reservations, date), nil
}

func (t *memoryTx) GetByIDForUpdate(_ context.Context, id uint64) (*model.Reservation, error) {
	r, ok := t.reservations[id]
	if !ok {
		return nil, ErrReservationNotFound
	}
	out := r.Clone()
	return &out, nil
}

func (t *memoryTx) Insert(_ context.Context, r *model.Reservation) error {
	now := t.now()
	r.ID = t.nextID
	t.nextID++
	r.CreatedAt = now
	r.UpdatedAt = now
	t.reservations[r.ID] = r.Clone()
	return nil
}

func (t *memoryTx) Update(_ context.Context, r *model.Reservation) error {
	cur, ok := t.reservations[r.ID]
	if !ok {
		return ErrReservationNotFound
	}
	r.CreatedAt = cur.CreatedAt
	r.UpdatedAt = t.now()
	t.reservations[r.ID] = r.Clone()
	return nil
}

func (t *memoryTx) Delete(_ context.Context, id uint64) error {
	if _, ok := t.reservations[id]; !ok {
		return ErrReservationNotFound
	}
	delete(t.reservations, id)
	return nil
}

func listSorted(all map[uint64]model.Reservation, date string) []model.Reservation {
	out := make([]model.Reservation, 0, len(all))
	for _, r := range all {
		if date != "" && r.Date != date {
			continue
		}
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		if out[i].Start != out[j].Start {
			return out[i].Start < out[j].Start
		}
		return out[i].ID < out[j].ID
	})
	return out
}
