package core

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"
)

// Eprint writes msg to stderr when verbose is true.
func Eprint(msg string, verbose bool) {
	if verbose {
		fmt.Fprintln(os.Stderr, msg)
	}
}

// ProgressPrint writes msg to stderr unless quiet is true.
func ProgressPrint(msg string, quiet bool) {
	if !quiet {
		fmt.Fprintln(os.Stderr, msg)
	}
}

// RippleToTime converts seconds since the Ripple epoch into a UTC time.Time.
func RippleToTime(rippleSeconds int64) time.Time {
	return time.Unix(rippleSeconds+RippleEpoch, 0).UTC()
}

// TimeToRipple converts a time.Time into seconds since the Ripple epoch.
func TimeToRipple(t time.Time) int64 {
	return t.Unix() - RippleEpoch
}

// ParseDate parses a YYYY-MM-DD string into midnight UTC of that day.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateKeyFmt, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date '%s' (expected YYYY-MM-DD)", s)
	}
	return t.UTC(), nil
}

// FormatDate formats a time as a YYYY-MM-DD daily cache key.
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateKeyFmt)
}

// FormatHour formats a time as an hour-aligned hourly cache key,
// e.g. 2025-01-01T13:00:00Z.
func FormatHour(t time.Time) string {
	return t.UTC().Truncate(time.Hour).Format(HourKeyFmt)
}

// DateOnly truncates a time to midnight UTC of its calendar date.
func DateOnly(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// NextMidnight returns midnight UTC of the day after t.
func NextMidnight(t time.Time) time.Time {
	return DateOnly(t).AddDate(0, 0, 1)
}

// SameDate reports whether two instants fall on the same UTC calendar date.
func SameDate(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

var yearRe = regexp.MustCompile(`(\d{4})`)

// InferYear extracts the first 4-digit run from the basename of a cache key,
// e.g. "caches/ledger_cache_2025.json" -> 2025. Returns 0 if none is found.
func InferYear(key string) int {
	m := yearRe.FindString(filepath.Base(key))
	if m == "" {
		return 0
	}
	year, err := strconv.Atoi(m)
	if err != nil {
		return 0
	}
	return year
}

// YearKey returns the conventional cache key for a year, e.g.
// "ledger_cache_2025.json".
func YearKey(year int) string {
	return fmt.Sprintf("ledger_cache_%d.json", year)
}
