package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/field-reservation/internal/model"
)

// ReservationRepo provides CRUD operations for reservations and the
// fields they occupy.  Each reservation row lives in the reservations
// table; its fields are stored in reservation_fields with a position
// column so that the order given by the client is preserved.  All
// timestamps are stored in UTC.
type ReservationRepo struct {
	db *sql.DB
}

// NewReservationRepo returns a new ReservationRepo bound to the given database.
func NewReservationRepo(db *sql.DB) *ReservationRepo { return &ReservationRepo{db: db} }

// DB exposes the underlying sql.DB so callers can begin transactions
// spanning this repository and the audit repository.
func (r *ReservationRepo) DB() *sql.DB { return r.db }

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const reservationColumns = `id, date, start_time, end_time, group_name, created_at, updated_at`

// List returns all reservations, or only those on the given date when it
// is non-empty.  Results are ordered by date, start time and ID.  An
// empty result is returned as an empty, non-nil slice.
func (r *ReservationRepo) List(ctx context.Context, date string) ([]model.Reservation, error) {
	q := `SELECT ` + reservationColumns + ` FROM reservations`
	var args []any
	if date != "" {
		q += ` WHERE date = ?`
		args = append(args, date)
	}
	q += ` ORDER BY date, start_time, id`
	return r.query(ctx, r.db, q, args...)
}

// GetByID returns a single reservation.  It returns
// ErrReservationNotFound when no row matches.
func (r *ReservationRepo) GetByID(ctx context.Context, id uint64) (*model.Reservation, error) {
	return r.getOne(ctx, r.db, `SELECT `+reservationColumns+` FROM reservations WHERE id = ?`, id)
}

// ListByDateForUpdateTx returns every reservation on date and takes row
// locks on them (and the gap around the date index) until tx ends.  This
// keeps two concurrent writers from admitting overlapping reservations on
// the same date.
func (r *ReservationRepo) ListByDateForUpdateTx(ctx context.Context, tx *sql.Tx, date string) ([]model.Reservation, error) {
	const q = `SELECT ` + reservationColumns + ` FROM reservations WHERE date = ? ORDER BY start_time, id FOR UPDATE`
	return r.query(ctx, tx, q, date)
}

// GetByIDForUpdateTx loads and locks a single reservation within tx.
func (r *ReservationRepo) GetByIDForUpdateTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.Reservation, error) {
	return r.getOne(ctx, tx, `SELECT `+reservationColumns+` FROM reservations WHERE id = ? FOR UPDATE`, id)
}

// CreateTx inserts a new reservation and its fields within the scope of
// an existing transaction.  It populates the generated ID and the
// timestamps on the provided record.  The caller must commit or rollback
// the transaction.
func (r *ReservationRepo) CreateTx(ctx context.Context, tx *sql.Tx, res *model.Reservation) error {
	now := time.Now().UTC().Truncate(time.Microsecond)
	const q = `INSERT INTO reservations (date, start_time, end_time, group_name, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`
	result, err := tx.ExecContext(ctx, q, res.Date, res.Start, res.End, res.Group, now, now)
	if err != nil {
		return fmt.Errorf("insert reservation: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert reservation: %w", err)
	}
	res.ID = uint64(id)
	res.CreatedAt = now
	res.UpdatedAt = now
	return r.createFieldsBulkTx(ctx, tx, res.ID, res.Fields)
}

// UpdateTx overwrites date, times, group and fields of an existing
// reservation.  The caller is expected to have locked the row with
// GetByIDForUpdateTx; a missing row yields ErrReservationNotFound.
func (r *ReservationRepo) UpdateTx(ctx context.Context, tx *sql.Tx, res *model.Reservation) error {
	now := time.Now().UTC().Truncate(time.Microsecond)
	const q = `UPDATE reservations SET date = ?, start_time = ?, end_time = ?, group_name = ?, updated_at = ? WHERE id = ?`
	if _, err := tx.ExecContext(ctx, q, res.Date, res.Start, res.End, res.Group, now, res.ID); err != nil {
		return fmt.Errorf("update reservation %d: %w", res.ID, err)
	}
	// RowsAffected is 0 for identical values under MySQL, so existence is
	// checked separately.
	var one int
	if err := tx.QueryRowContext(ctx, `SELECT 1 FROM reservations WHERE id = ?`, res.ID).Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrReservationNotFound
		}
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM reservation_fields WHERE reservation_id = ?`, res.ID); err != nil {
		return fmt.Errorf("clear fields of reservation %d: %w", res.ID, err)
	}
	res.UpdatedAt = now
	return r.createFieldsBulkTx(ctx, tx, res.ID, res.Fields)
}

// DeleteTx removes a reservation and its fields.  It returns
// ErrReservationNotFound when the reservation does not exist.
func (r *ReservationRepo) DeleteTx(ctx context.Context, tx *sql.Tx, id uint64) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM reservation_fields WHERE reservation_id = ?`, id); err != nil {
		return fmt.Errorf("delete fields of reservation %d: %w", id, err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM reservations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete reservation %d: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrReservationNotFound
	}
	return nil
}

// createFieldsBulkTx inserts all reservation_fields rows in a single
// statement.  Passing an empty slice has no effect and returns nil.
func (r *ReservationRepo) createFieldsBulkTx(ctx context.Context, tx *sql.Tx, reservationID uint64, fields []string) error {
	if len(fields) == 0 {
		return nil
	}
	var b strings.Builder
	b.WriteString(`INSERT INTO reservation_fields (reservation_id, position, field_id) VALUES `)
	args := make([]any, 0, len(fields)*3)
	for i, f := range fields {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString("(?, ?, ?)")
		args = append(args, reservationID, i, f)
	}
	if _, err := tx.ExecContext(ctx, b.String(), args...); err != nil {
		return fmt.Errorf("insert fields of reservation %d: %w", reservationID, err)
	}
	return nil
}

func (r *ReservationRepo) getOne(ctx context.Context, q queryer, query string, id uint64) (*model.Reservation, error) {
	var res model.Reservation
	err := q.QueryRowContext(ctx, query, id).Scan(
		&res.ID, &res.Date, &res.Start, &res.End, &res.Group, &res.CreatedAt, &res.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrReservationNotFound
		}
		return nil, err
	}
	list := []model.Reservation{res}
	if err := r.loadFields(ctx, q, list); err != nil {
		return nil, err
	}
	return &list[0], nil
}

func (r *ReservationRepo) query(ctx context.Context, q queryer, query string, args ...any) ([]model.Reservation, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	out := []model.Reservation{}
	for rows.Next() {
		var res model.Reservation
		if err := rows.Scan(
			&res.ID, &res.Date, &res.Start, &res.End, &res.Group, &res.CreatedAt, &res.UpdatedAt,
		); err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	// Close before the second query; a transaction only allows one open
	// result set at a time.
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := r.loadFields(ctx, q, out); err != nil {
		return nil, err
	}
	return out, nil
}

// loadFields fills Fields on every reservation in list with one query,
// keeping the stored position order.
func (r *ReservationRepo) loadFields(ctx context.Context, q queryer, list []model.Reservation) error {
	if len(list) == 0 {
		return nil
	}
	idx := make(map[uint64]int, len(list))
	placeholders := make([]string, 0, len(list))
	args := make([]any, 0, len(list))
	for i := range list {
		list[i].Fields = []string{}
		idx[list[i].ID] = i
		placeholders = append(placeholders, "?")
		args = append(args, list[i].ID)
	}
	query := `SELECT reservation_id, field_id FROM reservation_fields WHERE reservation_id IN (` +
		strings.Join(placeholders, ",") + `) ORDER BY reservation_id, position`
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var id uint64
		var field string
		if err := rows.Scan(&id, &field); err != nil {
			return err
		}
		if i, ok := idx[id]; ok {
			list[i].Fields = append(list[i].Fields, field)
		}
	}
	return rows.Err()
}
