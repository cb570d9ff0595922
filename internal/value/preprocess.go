package value

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

const yyyymmdd = "20060102"

// NowFunc is overridable in tests; defaults to real wall-clock "today".
var NowFunc = func() time.Time { return time.Now().UTC() }

var relativeDatePattern = regexp.MustCompile(`^(\d{8})\s*([+-])\s*(\d+)\s*([dwm])$`)
var nowTemplatePattern = regexp.MustCompile(`\{\{\s*now\s*\}\}`)

// Today returns today's date formatted YYYYMMDD, the `now` global exposed to
// templates (spec.md §4.3).
func Today() string { return NowFunc().Format(yyyymmdd) }

// Preprocess implements spec.md §4.2: first render `{{now}}` inside the
// string, then apply trailing relative-date arithmetic of the form
// `YYYYMMDD [+-] N [dwm]`. On parse failure the value is returned unchanged.
func Preprocess(s string) string {
	rendered := nowTemplatePattern.ReplaceAllString(s, Today())

	m := relativeDatePattern.FindStringSubmatch(strings.TrimSpace(rendered))
	if m == nil {
		return rendered
	}

	base, err := time.Parse(yyyymmdd, m[1])
	if err != nil {
		return rendered
	}
	n, err := strconv.Atoi(m[3])
	if err != nil {
		return rendered
	}
	if m[2] == "-" {
		n = -n
	}

	var result time.Time
	switch m[4] {
	case "d":
		result = base.AddDate(0, 0, n)
	case "w":
		result = base.AddDate(0, 0, n*7)
	case "m":
		// Months are a 30-day approximation, per spec.md §4.2/§9 — this is
		// intentionally lossy, not calendar-month arithmetic.
		result = base.AddDate(0, 0, n*30)
	default:
		return rendered
	}
	return result.Format(yyyymmdd)
}

// AddDays implements the `add_days` filter's date arithmetic (spec.md §4.1):
// best-effort parse of a YYYYMMDD string and offset by n days; failing that,
// a generic ISO-8601 parse; failing that, the value is returned unchanged
// (per the original implementation's best-effort contract, recorded in
// SPEC_FULL.md §6.3).
func AddDays(s string, n int) string {
	if t, err := time.Parse(yyyymmdd, s); err == nil {
		return t.AddDate(0, 0, n).Format(yyyymmdd)
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.AddDate(0, 0, n).Format("2006-01-02")
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.AddDate(0, 0, n).Format(time.RFC3339)
	}
	return s
}
