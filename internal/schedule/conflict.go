package schedule

import (
	"fmt"

	"github.com/iliyamo/field-reservation/internal/model"
)

// Result is the outcome of CheckConflict.  When Admitted is false, Field is
// the first shared field found and Conflicting is the reservation that
// holds it.
type Result struct {
	Admitted    bool
	Field       string
	Conflicting *model.Reservation
}

// Message renders a human-readable description of a rejected result.
func (r Result) Message() string {
	if r.Admitted || r.Conflicting == nil {
		return ""
	}
	return fmt.Sprintf("conflict with reservation on field %s (%s-%s)",
		r.Field, r.Conflicting.Start, r.Conflicting.End)
}

// Overlaps reports whether the half-open intervals [aStart, aEnd) and
// [bStart, bEnd) intersect.  Touching endpoints do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd int) bool {
	return aStart < bEnd && bStart < aEnd
}

// CheckConflict decides whether candidate can be stored next to existing.
// Rows on another date and the row whose ID equals excludeID are ignored;
// pass 0 to exclude nothing.  The first existing row that overlaps in time
// and shares a field rejects the candidate.  Only candidate.Date, Start,
// End and Fields are read.
func CheckConflict(candidate model.Reservation, existing []model.Reservation, excludeID uint64) (Result, error) {
	start, err := TimeToMinutes(candidate.Start)
	if err != nil {
		return Result{}, fmt.Errorf("candidate start: %w", err)
	}
	end, err := TimeToMinutes(candidate.End)
	if err != nil {
		return Result{}, fmt.Errorf("candidate end: %w", err)
	}

	for i := range existing {
		r := &existing[i]
		if excludeID != 0 && r.ID == excludeID {
			continue
		}
		if r.Date != candidate.Date {
			continue
		}
		rs, err := TimeToMinutes(r.Start)
		if err != nil {
			return Result{}, fmt.Errorf("reservation %d start: %w", r.ID, err)
		}
		re, err := TimeToMinutes(r.End)
		if err != nil {
			return Result{}, fmt.Errorf("reservation %d end: %w", r.ID, err)
		}
		if !Overlaps(start, end, rs, re) {
			continue
		}
		for _, f := range candidate.Fields {
			if r.HasField(f) {
				other := r.Clone()
				return Result{Field: f, Conflicting: &other}, nil
			}
		}
	}
	return Result{Admitted: true}, nil
}
