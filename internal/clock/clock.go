// Package clock computes password expirations and converts between wall-clock
// time and the directory's native 100-nanosecond-tick representation.
package clock

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	dserrors "github.com/systmms/laps/internal/errors"
)

// ForcedExpirationOffset is how far in the past a reset places the expiration.
const ForcedExpirationOffset = 7 * 24 * time.Hour

// Directory native time counts 100ns ticks since 1601-01-01T00:00:00Z.
const (
	ticksPerSecond = 10_000_000
	nanosPerTick   = 100
	// Seconds between 1601-01-01 and the Unix epoch.
	epochDelta = 11_644_473_600

	maxSeconds   = math.MaxInt64 / ticksPerSecond
	maxRemainder = math.MaxInt64 % ticksPerSecond
)

// Clock supplies the current time. Tests substitute a fixed clock.
type Clock interface {
	Now() time.Time
}

// System is the wall clock in UTC.
type System struct{}

// Now returns time.Now in UTC.
func (System) Now() time.Time { return time.Now().UTC() }

// Fixed always returns the same instant.
type Fixed time.Time

// Now returns the fixed instant in UTC.
func (f Fixed) Now() time.Time { return time.Time(f).UTC() }

// NextExpiration returns now + days.
func NextExpiration(now time.Time, days int) time.Time {
	return now.UTC().AddDate(0, 0, days)
}

// IsDue reports whether expiresAt is strictly before now. Equal instants are not due.
func IsDue(expiresAt, now time.Time) bool {
	return expiresAt.Before(now)
}

// ForcedExpiration returns an expiration seven days before now.
func ForcedExpiration(now time.Time) time.Time {
	return now.UTC().Add(-ForcedExpirationOffset)
}

// ToDirectoryNative converts t to 100ns ticks since 1601. Sub-tick precision is
// truncated. Instants before 1601 or past the int64 tick range fail with
// ConversionOverflow.
func ToDirectoryNative(t time.Time) (int64, error) {
	secs := t.Unix() + epochDelta
	// Guard the addition itself for instants near the int64 seconds limit.
	if t.Unix() > math.MaxInt64-epochDelta {
		return 0, overflow("%s is past the representable range", t.UTC().Format(time.RFC3339))
	}
	if secs < 0 {
		return 0, overflow("%s is before 1601-01-01", t.UTC().Format(time.RFC3339))
	}
	sub := int64(t.Nanosecond()) / nanosPerTick
	if secs > maxSeconds || (secs == maxSeconds && sub > maxRemainder) {
		return 0, overflow("%s is past the representable range", t.UTC().Format(time.RFC3339))
	}
	return secs*ticksPerSecond + sub, nil
}

// FromDirectoryNative converts ticks to UTC wall-clock time. The result is
// checked to convert back to exactly ticks.
func FromDirectoryNative(ticks int64) (time.Time, error) {
	if ticks < 0 {
		return time.Time{}, overflow("negative tick count %d", ticks)
	}
	secs := ticks/ticksPerSecond - epochDelta
	nanos := (ticks % ticksPerSecond) * nanosPerTick
	t := time.Unix(secs, nanos).UTC()

	back, err := ToDirectoryNative(t)
	if err != nil || back != ticks {
		return time.Time{}, overflow("tick count %d does not round-trip", ticks)
	}
	return t, nil
}

// ParseDirectoryNative parses the decimal string form used by directory attributes.
func ParseDirectoryNative(raw string) (time.Time, error) {
	ticks, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return time.Time{}, dserrors.Wrap(dserrors.KindConversionOverflow, "parse", err, fmt.Sprintf("expiration %q is not a 64-bit tick count", raw))
	}
	return FromDirectoryNative(ticks)
}

// FormatDirectoryNative renders t as the decimal string form.
func FormatDirectoryNative(t time.Time) (string, error) {
	ticks, err := ToDirectoryNative(t)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(ticks, 10), nil
}

func overflow(format string, args ...interface{}) error {
	return dserrors.New(dserrors.KindConversionOverflow, "convert", fmt.Sprintf(format, args...))
}
