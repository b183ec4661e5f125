// Package normalizer canonicalizes raw job records: posting dates, missing
// regions, identifiers and region coordinates.
package normalizer

import (
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"jobpipe/internal/models"
)

// epochMillisMinDigits is the length above which an all-digit value is read as
// epoch milliseconds rather than a compact date such as 20250115.
const epochMillisMinDigits = 10

// dottedLayouts are day-first dotted dates such as 15.01.2025. The free-form
// parser reads dotted dates month-first, so these are tried before it.
var dottedLayouts = []string{"2.1.2006", "2.1.06"}

// NormalizeDate parses a raw date cell into a calendar date. All-digit values
// longer than ten characters are epoch milliseconds; anything else goes through
// a free-form parser that prefers day-first for ambiguous European dates and
// swaps day and month when the day-first reading is impossible (12/31/2025).
// Unparseable input yields nil. NormalizeDate never panics.
func NormalizeDate(raw string) (date *models.Date) {
	defer func() {
		if recover() != nil {
			date = nil
		}
	}()

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	if isDigits(raw) && len(raw) > epochMillisMinDigits {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil
		}

		d := models.DateOf(time.UnixMilli(ms).UTC())

		return &d
	}

	if t, ok := parseDotted(raw); ok {
		d := models.DateOf(t)
		return &d
	}

	t, err := dateparse.ParseIn(raw, time.UTC,
		dateparse.PreferMonthFirst(false),
		dateparse.RetryAmbiguousDateWithSwap(true),
	)
	if err != nil {
		return nil
	}

	d := models.DateOf(t)

	return &d
}

// parseDotted reads the date part of a dd.mm.yyyy value, ignoring a trailing
// time of day.
func parseDotted(raw string) (time.Time, bool) {
	day, _, _ := strings.Cut(raw, " ")

	for _, layout := range dottedLayouts {
		if t, err := time.ParseInLocation(layout, day, time.UTC); err == nil {
			return t, true
		}
	}

	return time.Time{}, false
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}

	return s != ""
}
