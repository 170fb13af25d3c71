package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatAttempts(t *testing.T) {
	assert.Equal(t, "2/3", FormatAttempts(2, 3))
	assert.Equal(t, "1", FormatAttempts(1, 0))
}

func TestFormatAge(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		at   time.Time
		want string
	}{
		{time.Time{}, "never"},
		{now.Add(-42 * time.Second), "42s"},
		{now.Add(-5 * time.Minute), "5m"},
		{now.Add(-(2*time.Hour + 7*time.Minute)), "2h 7m"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatAge(tt.at, now))
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "abcd…", Truncate("abcdefgh", 5))
	assert.Equal(t, "héll…", Truncate("héllo wörld", 5))
	assert.Equal(t, "anything", Truncate("anything", 0))
}
