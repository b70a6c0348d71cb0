package repository

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/field-reservation/internal/model"
)

var _ Store = (*MySQLStore)(nil)

// MySQLStore implements Store on top of ReservationRepo and AuditRepo.
type MySQLStore struct {
	Reservations *ReservationRepo
	Audit        *AuditRepo
}

// NewMySQLStore builds both repositories on the same connection pool.
func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{
		Reservations: NewReservationRepo(db),
		Audit:        NewAuditRepo(db),
	}
}

func (s *MySQLStore) List(ctx context.Context, date string) ([]model.Reservation, error) {
	return s.Reservations.List(ctx, date)
}

func (s *MySQLStore) GetByID(ctx context.Context, id uint64) (*model.Reservation, error) {
	return s.Reservations.GetByID(ctx, id)
}

func (s *MySQLStore) AppendAudit(ctx context.Context, e *model.AuditLogEntry) error {
	return s.Audit.Append(ctx, e)
}

func (s *MySQLStore) ListAudit(ctx context.Context) ([]model.AuditLogEntry, error) {
	return s.Audit.ListNewestFirst(ctx)
}

// errDeadlock is InnoDB's ER_LOCK_DEADLOCK.  Two writers taking gap locks
// on an empty date can trip it; the victim's transaction is rolled back.
const errDeadlock = 1213

// WithinTx runs fn inside a database transaction.  The transaction is
// committed when fn returns nil and rolled back otherwise.  A transaction
// chosen as a deadlock victim is run once more, so fn must not keep state
// from an aborted attempt.
func (s *MySQLStore) WithinTx(ctx context.Context, fn TxFunc) error {
	err := s.runTx(ctx, fn)
	if isDeadlock(err) && ctx.Err() == nil {
		log.Printf("repository: deadlock detected, retrying transaction: %v", err)
		err = s.runTx(ctx, fn)
	}
	return err
}

func isDeadlock(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == errDeadlock
}

func (s *MySQLStore) runTx(ctx context.Context, fn TxFunc) error {
	tx, err := s.Reservations.DB().BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(ctx, &mysqlTx{repo: s.Reservations, tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// mysqlTx binds the repository's Tx methods to one transaction.
type mysqlTx struct {
	repo *ReservationRepo
	tx   *sql.Tx
}

func (t *mysqlTx) ListByDateForUpdate(ctx context.Context, date string) ([]model.Reservation, error) {
	return t.repo.ListByDateForUpdateTx(ctx, t.tx, date)
}

func (t *mysqlTx) GetByIDForUpdate(ctx context.Context, id uint64) (*model.Reservation, error) {
	return t.repo.GetByIDForUpdateTx(ctx, t.tx, id)
}

func (t *mysqlTx) Insert(ctx context.Context, r *model.Reservation) error {
	return t.repo.CreateTx(ctx, t.tx, r)
}

func (t *mysqlTx) Update(ctx context.Context, r *model.Reservation) error {
	return t.repo.UpdateTx(ctx, t.tx, r)
}

func (t *mysqlTx) Delete(ctx context.Context, id uint64) error {
	return t.repo.DeleteTx(ctx, t.tx, id)
}
