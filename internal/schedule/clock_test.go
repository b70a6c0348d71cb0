package schedule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeToMinutes(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"00:00", 0},
		{"09:00", 540},
		{"9:30", 570},
		{"14:05", 845},
		{"23:59", 1439},
		{"24:00", EndOfDay},
		{" 10:15 ", 615},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := TimeToMinutes(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTimeToMinutes_Rejects(t *testing.T) {
	for _, in := range []string{"", "9", "25:99", "24:01", "12:60", "ab:cd", "123:00", "12:5", "12:345", "-1:00", "12-30"} {
		t.Run(in, func(t *testing.T) {
			_, err := TimeToMinutes(in)
			assert.ErrorIs(t, err, ErrInvalidTime)
		})
	}
}

func TestFormatMinutes(t *testing.T) {
	assert.Equal(t, "09:05", FormatMinutes(545))
	assert.Equal(t, "24:00", FormatMinutes(EndOfDay))
	assert.Equal(t, "00:00", FormatMinutes(0))
}
