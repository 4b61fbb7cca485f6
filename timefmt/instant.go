// Package timefmt turns the timestamp shapes emitted by the backup monitoring
// API into instants and renders them in the dashboard's dd/mm/yyyy layout.
package timefmt

import (
	"time"
)

// Instant is a parsed point in time. The zero value is the "no value" result.
type Instant struct {
	t     time.Time
	valid bool
}

// InstantOf wraps an already known time.
func InstantOf(t time.Time) Instant {
	return Instant{t: t, valid: true}
}

// Valid reports whether parsing produced a value
func (i Instant) Valid() bool {
	return i.valid
}

// Time returns the wrapped time, or the zero time for an invalid Instant
func (i Instant) Time() time.Time {
	return i.t
}

// Normalizer parses and formats timestamps in a fixed location.
// It holds no mutable state and is safe for concurrent use.
type Normalizer struct {
	loc         *time.Location
	offsetHours int
}

// New creates a Normalizer rendering wall-clock fields in loc.
// offsetHours shifts zone-naive timestamps; 0 passes them through untouched.
func New(loc *time.Location, offsetHours int) *Normalizer {
	if loc == nil {
		loc = time.Local
	}
	return &Normalizer{loc: loc, offsetHours: offsetHours}
}

// Location returns the location instants are rendered in
func (n *Normalizer) Location() *time.Location {
	return n.loc
}

// OffsetHours returns the configured naive-timestamp offset
func (n *Normalizer) OffsetHours() int {
	return n.offsetHours
}

var std = New(time.Local, 0)

// Parse parses raw with the default normalizer (host local zone, no offset).
func Parse(raw any) Instant {
	return std.Parse(raw)
}

// ParseWithOffset parses raw with the default normalizer and an explicit offset.
func ParseWithOffset(raw any, zoneOffsetHours int) Instant {
	return std.ParseWithOffset(raw, zoneOffsetHours)
}

// Display is FormatFull(Parse(raw)).
func Display(raw any) string {
	return std.Display(raw)
}

// DisplayShort is FormatShort(Parse(raw)).
func DisplayShort(raw any) string {
	return std.DisplayShort(raw)
}

// Received formats raw, falling back to its text when it cannot be parsed.
func Received(raw any) string {
	return std.Received(raw)
}
