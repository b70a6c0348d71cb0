// Package schedule holds the time-of-day model and the overlap check that
// decides whether a reservation may be admitted next to existing ones.
package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidTime is returned for time-of-day strings that are not H:MM or HH:MM.
var ErrInvalidTime = errors.New("invalid time of day")

// EndOfDay is the minute value of "24:00", the only accepted hour 24.
const EndOfDay = 24 * 60

// TimeToMinutes converts "HH:MM" into minutes since midnight.  Hours run
// 0-23 with one or two digits, minutes 00-59 with exactly two digits, and
// "24:00" is accepted as the end of the day.
func TimeToMinutes(t string) (int, error) {
	hs, ms, ok := strings.Cut(strings.TrimSpace(t), ":")
	if !ok || len(hs) < 1 || len(hs) > 2 || len(ms) != 2 || !digits(hs) || !digits(ms) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTime, t)
	}
	h, _ := strconv.Atoi(hs)
	m, _ := strconv.Atoi(ms)
	if m > 59 || h > 24 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTime, t)
	}
	return h*60 + m, nil
}

// FormatMinutes renders minutes since midnight as "HH:MM".
func FormatMinutes(m int) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

func digits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
