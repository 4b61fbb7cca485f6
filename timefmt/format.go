package timefmt

import (
	"fmt"
)

// Placeholder is rendered wherever a timestamp has no displayable value
const Placeholder = "—"

const (
	fullLayout  = "02/01/2006 15:04:05"
	shortLayout = "02/01 15:04"
)

// FormatFull renders i as DD/MM/YYYY HH:MM:SS, or Placeholder when invalid.
// The instant's own wall-clock fields are printed; no zone conversion happens here.
func FormatFull(i Instant) string {
	if !i.valid {
		return Placeholder
	}
	return i.t.Format(fullLayout)
}

// FormatShort renders i as DD/MM HH:MM, or Placeholder when invalid.
func FormatShort(i Instant) string {
	if !i.valid {
		return Placeholder
	}
	return i.t.Format(shortLayout)
}

// Display parses raw and renders the full form.
func (n *Normalizer) Display(raw any) string {
	return FormatFull(n.Parse(raw))
}

// DisplayShort parses raw and renders the short form.
func (n *Normalizer) DisplayShort(raw any) string {
	return FormatShort(n.Parse(raw))
}

// Received renders raw in full form. Unlike Display it keeps the original
// text when parsing fails and returns "" for a missing value.
func (n *Normalizer) Received(raw any) string {
	if isEmpty(raw) {
		return ""
	}
	if i := n.Parse(raw); i.Valid() {
		return FormatFull(i)
	}
	return fmt.Sprint(raw)
}

func isEmpty(raw any) bool {
	switch v := raw.(type) {
	case nil:
		return true
	case string:
		return v == ""
	}
	f, ok := toFloat(raw)
	return ok && f == 0
}
