// Package units implements the typed integer quantities used throughout the
// simulator's virtual world: simulation Time (nanoseconds) and link
// Bandwidth (bits per second). Both are plain int64 value types with a
// small parser/formatter pair, so they flow through scenario files,
// control-packet fields, and notification output without ambiguity about
// units.
package units

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Time is a signed quantity of nanoseconds. A negative value is the
// "unspecified" sentinel used by events and neighbours that have not yet
// observed anything (spec.md §3).
type Time int64

// Nanosecond-scaled Time unit constants.
const (
	Nanosecond  Time = 1
	Microsecond      = 1000 * Nanosecond
	Millisecond      = 1000 * Microsecond
	Second           = 1000 * Millisecond
	Minute           = 60 * Second
	Hour             = 60 * Minute
)

// Unspecified is the sentinel Time value meaning "no time recorded yet".
const Unspecified Time = -1

// IsUnspecified reports whether t is the negative sentinel.
func (t Time) IsUnspecified() bool { return t < 0 }

// Add returns the sum of t and d with no overflow checking, matching the
// unbounded virtual clock spec.md §3 describes.
func (t Time) Add(d Time) Time { return t + d }

// Before reports whether t strictly precedes o.
func (t Time) Before(o Time) bool { return t < o }

// timeUnitOrder lists the recognized suffixes in the order they are tried
// ("ms" and "min" before "m", so "ms" is not mistaken for a bad parse of "m").
var timeUnitOrder = []string{"ns", "us", "ms", "min", "m", "h", "s"}

var timeUnitScale = map[string]Time{
	"ns":  Nanosecond,
	"us":  Microsecond,
	"ms":  Millisecond,
	"s":   Second,
	"m":   Minute,
	"min": Minute,
	"h":   Hour,
}

// ErrInvalidTime indicates a Time literal could not be parsed.
var ErrInvalidTime = errors.New("invalid time literal")

// ParseTime parses a literal of the form "<number>[unit]" where unit is one
// of ns, us, ms, s, m (or min), h. If the literal carries no unit,
// defaultUnit (e.g. units.Millisecond) is used as the multiplier.
func ParseTime(s string, defaultUnit Time) (Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty literal", ErrInvalidTime)
	}

	numPart, unit := splitNumberAndUnit(s, timeUnitOrder)
	scale := defaultUnit
	if unit != "" {
		u, ok := timeUnitScale[unit]
		if !ok {
			return 0, fmt.Errorf("%w: unknown time unit %q", ErrInvalidTime, unit)
		}
		scale = u
	}

	n, err := strconv.ParseFloat(numPart, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrInvalidTime, s, err)
	}

	return Time(n * float64(scale)), nil
}

// String renders t in the largest unit for which the magnitude is >= 1,
// falling back to nanoseconds for small or zero values.
func (t Time) String() string {
	abs := t
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs >= Hour:
		return formatUnit(t, Hour, "h")
	case abs >= Minute:
		return formatUnit(t, Minute, "m")
	case abs >= Second:
		return formatUnit(t, Second, "s")
	case abs >= Millisecond:
		return formatUnit(t, Millisecond, "ms")
	case abs >= Microsecond:
		return formatUnit(t, Microsecond, "us")
	default:
		return formatUnit(t, Nanosecond, "ns")
	}
}

// Seconds returns t as a floating point count of seconds, used when
// rendering the XML notification stream's time attribute (spec.md §6).
func (t Time) Seconds() float64 {
	return float64(t) / float64(Second)
}

func formatUnit(t, scale Time, suffix string) string {
	v := float64(t) / float64(scale)
	s := strconv.FormatFloat(v, 'g', -1, 64)
	return s + suffix
}

// Bandwidth is a signed quantity of bits per second. A zero or negative
// value means "infinite" everywhere it is consumed (link serialization
// delay, broadcast minimum across connections) per spec.md §3.
type Bandwidth int64

// Bits-per-second scaled Bandwidth unit constants.
const (
	Bps  Bandwidth = 1
	Kbps           = 1000 * Bps
	Mbps           = 1000 * Kbps
	Gbps           = 1000 * Mbps
)

// IsInfinite reports whether b represents an unconstrained link.
func (b Bandwidth) IsInfinite() bool { return b <= 0 }

var bandwidthUnitOrder = []string{"Gbps", "Mbps", "Kbps", "bps"}

var bandwidthUnitScale = map[string]Bandwidth{
	"bps":  Bps,
	"Kbps": Kbps,
	"Mbps": Mbps,
	"Gbps": Gbps,
}

// ErrInvalidBandwidth indicates a Bandwidth literal could not be parsed.
var ErrInvalidBandwidth = errors.New("invalid bandwidth literal")

// ParseBandwidth parses a literal of the form "<number>[unit]" where unit
// is one of bps, Kbps, Mbps, Gbps. A missing unit uses defaultUnit.
func ParseBandwidth(s string, defaultUnit Bandwidth) (Bandwidth, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty literal", ErrInvalidBandwidth)
	}

	numPart, unit := splitNumberAndUnit(s, bandwidthUnitOrder)
	scale := defaultUnit
	if unit != "" {
		u, ok := bandwidthUnitScale[unit]
		if !ok {
			return 0, fmt.Errorf("%w: unknown bandwidth unit %q", ErrInvalidBandwidth, unit)
		}
		scale = u
	}

	n, err := strconv.ParseFloat(numPart, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrInvalidBandwidth, s, err)
	}

	return Bandwidth(n * float64(scale)), nil
}

// String renders b in the largest unit for which the magnitude is >= 1.
// Non-positive values render as "infinite".
func (b Bandwidth) String() string {
	if b.IsInfinite() {
		return "infinite"
	}
	switch {
	case b >= Gbps:
		return formatBandwidth(b, Gbps, "Gbps")
	case b >= Mbps:
		return formatBandwidth(b, Mbps, "Mbps")
	case b >= Kbps:
		return formatBandwidth(b, Kbps, "Kbps")
	default:
		return formatBandwidth(b, Bps, "bps")
	}
}

func formatBandwidth(b, scale Bandwidth, suffix string) string {
	v := float64(b) / float64(scale)
	s := strconv.FormatFloat(v, 'g', -1, 64)
	return s + suffix
}

// splitNumberAndUnit separates the leading numeric portion of s from a
// trailing unit suffix, trying each candidate in order (callers pass
// longest-suffix-first lists so e.g. "min" is preferred over "m" is
// preferred over no match of "ms").
func splitNumberAndUnit(s string, units []string) (number, unit string) {
	for _, u := range units {
		if strings.HasSuffix(s, u) {
			rest := strings.TrimSpace(strings.TrimSuffix(s, u))
			if rest != "" {
				return rest, u
			}
		}
	}
	return s, ""
}
