package timefmt

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// outcome is the result of offering a string to one recognizer
type outcome int

const (
	noMatch outcome = iota // shape not recognized, try the next recognizer
	matched                // shape recognized and value valid
	invalid                // shape recognized but calendar value out of range
)

type recognizer struct {
	name  string
	match func(n *Normalizer, s string, offsetHours int) (time.Time, outcome)
}

var (
	digitsRe    = regexp.MustCompile(`^\d+$`)
	isoZonedRe  = regexp.MustCompile(`\dT\d.*(Z|[+-]\d{2}:\d{2})$`)
	localRe     = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})[ T](\d{2}):(\d{2}):(\d{2})$`)
	brazilianRe = regexp.MustCompile(`^(\d{2})/(\d{2})/(\d{4})[,\s]\s*(\d{2}):(\d{2}):(\d{2})$`)
)

// Evaluated in order; the first recognizer that does not answer noMatch decides.
var recognizers = []recognizer{
	{name: "epoch", match: matchEpochString},
	{name: "iso8601", match: matchISOZoned},
	{name: "local", match: matchLocal},
	{name: "brazilian", match: matchBrazilian},
	{name: "freeform", match: matchFreeForm},
}

// millisThreshold separates epoch seconds from epoch milliseconds
const millisThreshold = 1e12

// maxEpochMillis is the largest representable instant (±100,000,000 days)
const maxEpochMillis = 8.64e15

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04Z07:00",
}

// Parse parses raw using the normalizer's configured offset.
func (n *Normalizer) Parse(raw any) Instant {
	return n.ParseWithOffset(raw, n.offsetHours)
}

// ParseWithOffset parses raw, shifting zone-naive shapes by zoneOffsetHours.
// It never fails loudly: unrecognized or invalid input yields an invalid Instant.
func (n *Normalizer) ParseWithOffset(raw any, zoneOffsetHours int) Instant {
	switch v := raw.(type) {
	case nil:
		return Instant{}
	case Instant:
		return v
	case time.Time:
		if v.IsZero() {
			return Instant{}
		}
		return InstantOf(v.In(n.loc))
	case *time.Time:
		if v == nil || v.IsZero() {
			return Instant{}
		}
		return InstantOf(v.In(n.loc))
	case string:
		return n.parseString(v, zoneOffsetHours)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return n.fromEpoch(f)
		}
		return n.parseString(v.String(), zoneOffsetHours)
	}

	if f, ok := toFloat(raw); ok {
		return n.fromEpoch(f)
	}

	return n.parseString(fmt.Sprint(raw), zoneOffsetHours)
}

func (n *Normalizer) parseString(raw string, offsetHours int) Instant {
	t, res, _ := n.recognize(raw, offsetHours)
	if res != matched {
		return Instant{}
	}
	return InstantOf(t)
}

// Shape names the recognizer that claims raw ("epoch", "iso8601", "local",
// "brazilian", "freeform"), or "" when none does. A claimed string may still
// hold an invalid calendar value.
func (n *Normalizer) Shape(raw string) string {
	_, _, name := n.recognize(raw, 0)
	return name
}

func (n *Normalizer) recognize(raw string, offsetHours int) (time.Time, outcome, string) {
	if raw == "" {
		return time.Time{}, noMatch, ""
	}
	s := strings.TrimSpace(raw)

	for _, r := range recognizers {
		if t, res := r.match(n, s, offsetHours); res != noMatch {
			return t, res, r.name
		}
	}
	return time.Time{}, noMatch, ""
}

// fromEpoch interprets a numeric value as seconds below 1e12, milliseconds otherwise.
// Numeric zero carries no value, matching the API's use of 0 for "never".
func (n *Normalizer) fromEpoch(f float64) Instant {
	if f == 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return Instant{}
	}
	ms := f
	if f < millisThreshold {
		ms = f * 1000
	}
	if math.Abs(ms) > maxEpochMillis {
		return Instant{}
	}
	return InstantOf(time.UnixMilli(int64(ms)).In(n.loc))
}

func matchEpochString(n *Normalizer, s string, _ int) (time.Time, outcome) {
	if !digitsRe.MatchString(s) {
		return time.Time{}, noMatch
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return time.Time{}, invalid
	}
	ms := f
	if f < millisThreshold {
		ms = f * 1000
	}
	if ms > maxEpochMillis {
		return time.Time{}, invalid
	}
	return time.UnixMilli(int64(ms)).In(n.loc), matched
}

func matchISOZoned(n *Normalizer, s string, _ int) (time.Time, outcome) {
	if !isoZonedRe.MatchString(s) {
		return time.Time{}, noMatch
	}
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.In(n.loc), matched
		}
	}
	// An unparseable ISO-looking string falls through to the later shapes.
	return time.Time{}, noMatch
}

func matchLocal(n *Normalizer, s string, offsetHours int) (time.Time, outcome) {
	m := localRe.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, noMatch
	}
	f := atois(m[1:])
	return n.wallClock(f[0], f[1], f[2], f[3], f[4], f[5], offsetHours)
}

func matchBrazilian(n *Normalizer, s string, offsetHours int) (time.Time, outcome) {
	m := brazilianRe.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, noMatch
	}
	f := atois(m[1:])
	// day first, then month
	return n.wallClock(f[2], f[1], f[0], f[3], f[4], f[5], offsetHours)
}

func matchFreeForm(n *Normalizer, s string, _ int) (t time.Time, res outcome) {
	if s == "" {
		return time.Time{}, noMatch
	}
	defer func() {
		// treat a parser panic as no match
		if recover() != nil {
			t, res = time.Time{}, noMatch
		}
	}()

	parsed, err := dateparse.ParseIn(s, n.loc)
	if err != nil {
		return time.Time{}, noMatch
	}
	return parsed.In(n.loc), matched
}

// wallClock combines positional fields as local time without normalizing
// overflow, so 31/02 or month 13 are rejected instead of rolled over.
func (n *Normalizer) wallClock(year, month, day, hour, minute, second, offsetHours int) (time.Time, outcome) {
	if month < 1 || month > 12 || day < 1 || day > daysIn(year, month) {
		return time.Time{}, invalid
	}
	if hour > 23 || minute > 59 || second > 59 {
		return time.Time{}, invalid
	}

	t := time.Date(year, time.Month(month), day, hour, minute, second, 0, n.loc)
	if offsetHours != 0 {
		t = t.Add(time.Duration(offsetHours) * time.Hour)
	}
	return t, matched
}

func daysIn(year, month int) int {
	return time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// atois converts regexp digit groups; the patterns guarantee they are numeric.
func atois(groups []string) []int {
	out := make([]int, len(groups))
	for i, g := range groups {
		out[i], _ = strconv.Atoi(g)
	}
	return out
}

func toFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}
