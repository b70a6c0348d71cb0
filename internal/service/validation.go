package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/iliyamo/field-reservation/internal/schedule"
)

const dateLayout = "2006-01-02"

// reservationInput is the fully merged shape every create and update is
// validated against.
type reservationInput struct {
	Date   string   `json:"date" validate:"required,datetime=2006-01-02"`
	Start  string   `json:"start" validate:"required,clock"`
	End    string   `json:"end" validate:"required,clock"`
	Fields []string `json:"fields" validate:"required,min=1,dive,max=64"`
	Group  string   `json:"group" validate:"max=120"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("clock", func(fl validator.FieldLevel) bool {
		_, err := schedule.TimeToMinutes(fl.Field().String())
		return err == nil
	})
	return v
}

// normalizeFields trims each identifier, drops empty ones and removes
// duplicates while keeping the first occurrence.
func normalizeFields(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, f := range in {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// check normalizes in, validates it and canonicalizes its times to HH:MM.
func (s *ReservationService) check(in reservationInput) (reservationInput, error) {
	in.Date = strings.TrimSpace(in.Date)
	in.Start = strings.TrimSpace(in.Start)
	in.End = strings.TrimSpace(in.End)
	in.Group = strings.TrimSpace(in.Group)
	in.Fields = normalizeFields(in.Fields)

	if err := s.validate.Struct(in); err != nil {
		return in, translate(err)
	}

	// Both parse after the clock rule passed.
	start, _ := schedule.TimeToMinutes(in.Start)
	end, _ := schedule.TimeToMinutes(in.End)
	if start >= end {
		return in, &ValidationError{Field: "end", Message: "start must be before end"}
	}
	in.Start = schedule.FormatMinutes(start)
	in.End = schedule.FormatMinutes(end)
	return in, nil
}

func (s *ReservationService) checkDate(date string) error {
	if err := s.validate.Var(date, "datetime="+dateLayout); err != nil {
		return &ValidationError{Field: "date", Message: "must be formatted as YYYY-MM-DD"}
	}
	return nil
}

// translate maps the first validator failure to a ValidationError.
func translate(err error) error {
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) || len(ves) == 0 {
		return &ValidationError{Message: err.Error()}
	}
	fe := ves[0]
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		if fe.Kind() == reflect.Slice {
			return &ValidationError{Field: field, Message: "at least one field is required"}
		}
		return &ValidationError{Field: field, Message: "is required"}
	case "min":
		return &ValidationError{Field: field, Message: "at least one field is required"}
	case "datetime":
		return &ValidationError{Field: field, Message: "must be formatted as YYYY-MM-DD"}
	case "clock":
		return &ValidationError{Field: field, Message: "must be a time of day formatted as HH:MM"}
	case "max":
		return &ValidationError{Field: field, Message: fmt.Sprintf("must be at most %s characters", fe.Param())}
	}
	return &ValidationError{Field: field, Message: fmt.Sprintf("failed %s validation", fe.Tag())}
}
