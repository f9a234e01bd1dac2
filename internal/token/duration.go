package token

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// ErrBadDuration indicates a lifetime spec that does not match <int><unit>.
var ErrBadDuration = errors.New("token: invalid duration format")

var durationRe = regexp.MustCompile(`^(\d+)(s|m|h|d|w)$`)

var unitScale = map[string]time.Duration{
	"s": time.Second,
	"m": time.Minute,
	"h": time.Hour,
	"d": 24 * time.Hour,
	"w": 7 * 24 * time.Hour,
}

// ParseDuration parses token-lifetime specs such as "15m", "1h" or "7d".
// The grammar is deliberately small: one integer, one unit, nothing else.
func ParseDuration(spec string) (time.Duration, error) {
	m := durationRe.FindStringSubmatch(spec)
	if m == nil {
		return 0, fmt.Errorf("%w: %q", ErrBadDuration, spec)
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadDuration, spec)
	}
	return time.Duration(n) * unitScale[m[2]], nil
}

// ExpiresAt returns now advanced by the parsed lifetime spec.
func ExpiresAt(now time.Time, spec string) (time.Time, error) {
	d, err := ParseDuration(spec)
	if err != nil {
		return time.Time{}, err
	}
	return now.Add(d), nil
}
