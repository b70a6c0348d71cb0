package service

import (
	"errors"
	"fmt"

	"github.com/iliyamo/field-reservation/internal/model"
	"github.com/iliyamo/field-reservation/internal/repository"
	"github.com/iliyamo/field-reservation/internal/schedule"
)

// ErrNotFound is returned when an update, delete or fetch names an unknown
// reservation.
var ErrNotFound = repository.ErrReservationNotFound

// ValidationError reports input that was rejected before any conflict
// check or write.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ConflictError reports that the requested window collides with an
// existing reservation on Field.
type ConflictError struct {
	Field       string
	Conflicting model.Reservation
}

func (e *ConflictError) Error() string {
	return schedule.Result{Field: e.Field, Conflicting: &e.Conflicting}.Message()
}

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsConflict reports whether err is a *ConflictError.
func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}
