// Package snapid generates and validates snapshot identifiers.
//
// An identifier is the creation time rendered as YYYYMMDD_HHMMSS. Two
// identifiers generated within the same wall-clock second are equal; callers
// that may write more than once per second must detect the collision.
package snapid

import (
	"errors"
	"fmt"
	"time"
)

// Layout is the time layout of a snapshot identifier.
const Layout = "20060102_150405"

var ErrInvalid = errors.New("invalid snapshot id")

// New returns the identifier for t.
func New(t time.Time) string {
	return t.Format(Layout)
}

// Now returns the identifier for the current local time.
func Now() string {
	return New(time.Now())
}

// Valid reports whether id parses back to a timestamp under Layout.
func Valid(id string) bool {
	_, err := Parse(id)
	return err == nil
}

// Parse returns the timestamp encoded in id, in local time.
func Parse(id string) (time.Time, error) {
	if len(id) != len(Layout) {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalid, id)
	}
	t, err := time.ParseInLocation(Layout, id, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalid, id)
	}
	return t, nil
}
