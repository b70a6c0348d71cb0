// Package service holds the reservation use cases: validation, the
// transactional conflict check and write, and the audit hand-off.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/iliyamo/field-reservation/internal/audit"
	"github.com/iliyamo/field-reservation/internal/model"
	"github.com/iliyamo/field-reservation/internal/repository"
	"github.com/iliyamo/field-reservation/internal/schedule"
)

// AuditRecorder records a committed mutation.
type AuditRecorder interface {
	Record(ctx context.Context, action model.AuditAction, detail any) *model.AuditLogEntry
}

// CreateInput is the body of a create request.
type CreateInput struct {
	Date   string   `json:"date"`
	Start  string   `json:"start"`
	End    string   `json:"end"`
	Fields []string `json:"fields"`
	Group  string   `json:"group"`
}

// UpdateInput is a partial update.  Nil members keep the stored value.
type UpdateInput struct {
	Date   *string   `json:"date"`
	Start  *string   `json:"start"`
	End    *string   `json:"end"`
	Fields *[]string `json:"fields"`
	Group  *string   `json:"group"`
}

// ReservationService implements the reservation operations on top of a
// repository.Store.
type ReservationService struct {
	store    repository.Store
	recorder AuditRecorder
	validate *validator.Validate
}

// New returns a service backed by store.  A nil recorder records audit
// entries into store with the default retry policy.
func New(store repository.Store, recorder AuditRecorder) *ReservationService {
	if recorder == nil {
		recorder = audit.NewRecorder(store)
	}
	return &ReservationService{store: store, recorder: recorder, validate: newValidator()}
}

// List returns every reservation, or those on date when it is non-empty.
func (s *ReservationService) List(ctx context.Context, date string) ([]model.Reservation, error) {
	if date != "" {
		if err := s.checkDate(date); err != nil {
			return nil, err
		}
	}
	out, err := s.store.List(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	return out, nil
}

// Get returns the reservation with id.
func (s *ReservationService) Get(ctx context.Context, id uint64) (*model.Reservation, error) {
	r, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrReservationNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get reservation %d: %w", id, err)
	}
	return r, nil
}

// Create validates in, checks it against the reservations already on its
// date and stores it.  The returned reservation carries its new ID.
func (s *ReservationService) Create(ctx context.Context, in CreateInput) (*model.Reservation, error) {
	checked, err := s.check(reservationInput(in))
	if err != nil {
		return nil, err
	}
	r := model.Reservation{
		Date:   checked.Date,
		Start:  checked.Start,
		End:    checked.End,
		Fields: checked.Fields,
		Group:  checked.Group,
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context, tx repository.ReservationTx) error {
		existing, err := tx.ListByDateForUpdate(ctx, r.Date)
		if err != nil {
			return fmt.Errorf("load reservations on %s: %w", r.Date, err)
		}
		if err := admit(r, existing, 0); err != nil {
			return err
		}
		return tx.Insert(ctx, &r)
	})
	if err != nil {
		return nil, wrapTxErr("create reservation", err)
	}

	s.recorder.Record(ctx, model.AuditCreate, r)
	return &r, nil
}

// Update applies patch to the reservation with id.  The merged record is
// validated and checked for conflicts again, ignoring the reservation's own
// current window.
func (s *ReservationService) Update(ctx context.Context, id uint64, patch UpdateInput) (*model.Reservation, error) {
	var updated model.Reservation
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.ReservationTx) error {
		cur, err := tx.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		checked, err := s.check(merge(*cur, patch))
		if err != nil {
			return err
		}
		updated = *cur
		updated.Date = checked.Date
		updated.Start = checked.Start
		updated.End = checked.End
		updated.Fields = checked.Fields
		updated.Group = checked.Group

		existing, err := tx.ListByDateForUpdate(ctx, updated.Date)
		if err != nil {
			return fmt.Errorf("load reservations on %s: %w", updated.Date, err)
		}
		if err := admit(updated, existing, id); err != nil {
			return err
		}
		return tx.Update(ctx, &updated)
	})
	if err != nil {
		return nil, wrapTxErr(fmt.Sprintf("update reservation %d", id), err)
	}

	s.recorder.Record(ctx, model.AuditUpdate, updated)
	return &updated, nil
}

// Delete removes the reservation with id.
func (s *ReservationService) Delete(ctx context.Context, id uint64) error {
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.ReservationTx) error {
		return tx.Delete(ctx, id)
	})
	if err != nil {
		return wrapTxErr(fmt.Sprintf("delete reservation %d", id), err)
	}

	s.recorder.Record(ctx, model.AuditDelete, model.DeletedDetail{ID: id})
	return nil
}

// ListAudit returns the audit trail, newest first.
func (s *ReservationService) ListAudit(ctx context.Context) ([]model.AuditLogEntry, error) {
	out, err := s.store.ListAudit(ctx)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	return out, nil
}

func merge(cur model.Reservation, p UpdateInput) reservationInput {
	in := reservationInput{
		Date:   cur.Date,
		Start:  cur.Start,
		End:    cur.End,
		Fields: cur.Fields,
		Group:  cur.Group,
	}
	if p.Date != nil {
		in.Date = *p.Date
	}
	if p.Start != nil {
		in.Start = *p.Start
	}
	if p.End != nil {
		in.End = *p.End
	}
	if p.Fields != nil {
		in.Fields = *p.Fields
	}
	if p.Group != nil {
		in.Group = *p.Group
	}
	return in
}

func admit(r model.Reservation, existing []model.Reservation, excludeID uint64) error {
	res, err := schedule.CheckConflict(r, existing, excludeID)
	if err != nil {
		return fmt.Errorf("check conflict: %w", err)
	}
	if !res.Admitted {
		return &ConflictError{Field: res.Field, Conflicting: *res.Conflicting}
	}
	return nil
}

// wrapTxErr passes domain errors through untouched and wraps store errors.
func wrapTxErr(op string, err error) error {
	if IsValidation(err) || IsConflict(err) {
		return err
	}
	if errors.Is(err, repository.ErrReservationNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}
