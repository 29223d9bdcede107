package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRetention(t *testing.T) {
	tests := []struct {
		expr string
		want time.Duration
	}{
		{"0", 0},
		{"", 0},
		{"2 DAYS", 48 * time.Hour},
		{"2 days", 48 * time.Hour},
		{"1 DAY", 24 * time.Hour},
		{"30 MINUTES", 30 * time.Minute},
		{"12 HOURS", 12 * time.Hour},
		{"5", 5 * 24 * time.Hour},
	}
	for _, tt := range tests {
		got, err := ParseRetention(tt.expr)
		require.NoError(t, err, tt.expr)
		assert.Equal(t, tt.want, got, tt.expr)
	}

	for _, bad := range []string{"two DAYS", "2 FORTNIGHTS", "-1 DAYS", "1 2 3", "200000 DAYS", "9223372036854775807 SECONDS"} {
		_, err := ParseRetention(bad)
		assert.ErrorIs(t, err, ErrInvalidRetention, bad)
	}
}
