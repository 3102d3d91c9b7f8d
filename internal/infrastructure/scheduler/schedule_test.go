package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSchedule(t *testing.T) {
	base := time.Date(2026, 3, 2, 12, 34, 56, 0, time.UTC) // Monday

	tests := []struct {
		spec string
		next time.Time
	}{
		{"@every 1h", base.Add(time.Hour)},
		{"@every 90s", base.Add(90 * time.Second)},
		{"@hourly", time.Date(2026, 3, 2, 13, 0, 0, 0, time.UTC)},
		{"@daily", time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)},
		{"*/15 * * * *", time.Date(2026, 3, 2, 12, 45, 0, 0, time.UTC)},
		{"30 3 * * *", time.Date(2026, 3, 3, 3, 30, 0, 0, time.UTC)},
		{"0 6 * * 6,0", time.Date(2026, 3, 7, 6, 0, 0, 0, time.UTC)},
		{"0 9-17/4 * * 1-5", time.Date(2026, 3, 2, 13, 0, 0, 0, time.UTC)},
		{"0 0 1 4 *", time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			s, err := ParseSchedule(tt.spec)
			require.NoError(t, err)
			assert.Equal(t, tt.next, s.Next(base))
		})
	}
}

func TestParseSchedule_Invalid(t *testing.T) {
	for _, spec := range []string{
		"",
		"@every",
		"@every -1m",
		"@every soon",
		"* * * *",
		"60 * * * *",
		"* 24 * * *",
		"* * 0 * *",
		"*/0 * * * *",
		"5-1 * * * *",
		"a * * * *",
	} {
		_, err := ParseSchedule(spec)
		assert.Error(t, err, spec)
	}
}

func TestCronSchedule_String(t *testing.T) {
	s, err := ParseCron("0 * * * *")
	require.NoError(t, err)
	assert.Equal(t, "0 * * * *", s.String())
}
