package repository

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidRetention is returned for a malformed retention expression.
var ErrInvalidRetention = errors.New("invalid retention expression")

var retentionUnits = map[string]time.Duration{
	"NANOSECONDS":  time.Nanosecond,
	"MICROSECONDS": time.Microsecond,
	"MILLISECONDS": time.Millisecond,
	"SECONDS":      time.Second,
	"MINUTES":      time.Minute,
	"HOURS":        time.Hour,
	"DAYS":         24 * time.Hour,
}

// ParseRetention reads "<n> <UNIT>" such as "7 DAYS". "0" or "" disables
// the cull and yields 0. A missing unit means days.
func ParseRetention(expr string) (time.Duration, error) {
	fields := strings.Fields(strings.ToUpper(expr))
	if len(fields) == 0 {
		return 0, nil
	}
	if len(fields) > 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidRetention, expr)
	}

	n, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q is not a count", ErrInvalidRetention, fields[0])
	}
	if n == 0 {
		return 0, nil
	}

	unit := 24 * time.Hour
	if len(fields) == 2 {
		name := fields[1]
		if !strings.HasSuffix(name, "S") {
			name += "S"
		}
		u, ok := retentionUnits[name]
		if !ok {
			return 0, fmt.Errorf("%w: unknown unit %q", ErrInvalidRetention, fields[1])
		}
		unit = u
	}
	if n > math.MaxInt64/int64(unit) {
		return 0, fmt.Errorf("%w: %q overflows", ErrInvalidRetention, expr)
	}
	return time.Duration(n) * unit, nil
}
