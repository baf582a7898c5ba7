// Package period holds the date-range and streak arithmetic shared by conflict
// dating, review edits and bulk date edits. All values are calendar dates in UTC.
package period

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/joseph-ayodele/steps-tracker/constants"
)

// Preset names a reporting window relative to "now".
type Preset string

const (
	Today      Preset = "today"
	Yesterday  Preset = "yesterday"
	ThisWeek   Preset = "this_week"
	LastWeek   Preset = "last_week"
	Last7Days  Preset = "last_7_days"
	Last30Days Preset = "last_30_days"
	ThisMonth  Preset = "this_month"
	LastMonth  Preset = "last_month"
	ThisYear   Preset = "this_year"
	Custom     Preset = "custom"
)

// ErrFutureDate is returned when a record date lies after today.
var ErrFutureDate = errors.New("date is in the future")

// Range is an inclusive span of calendar dates.
type Range struct {
	From time.Time
	To   time.Time
}

// Day truncates t to midnight UTC of its own calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(constants.DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (YYYY-MM-DD): %w", s, err)
	}
	return t, nil
}

// FormatDate renders t as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(constants.DateLayout)
}

// NormalizeDate re-renders s canonically, so "2026-1-5" style input is rejected
// and equal dates compare equal as strings.
func NormalizeDate(s string) (string, error) {
	t, err := ParseDate(s)
	if err != nil {
		return "", err
	}
	return FormatDate(t), nil
}

// ValidateRecordDate rejects malformed dates and dates after today.
func ValidateRecordDate(s string, now time.Time) error {
	t, err := ParseDate(s)
	if err != nil {
		return err
	}
	if t.After(Day(now)) {
		return fmt.Errorf("%s: %w", s, ErrFutureDate)
	}
	return nil
}

// Days returns the number of dates in r.
func (r Range) Days() int {
	if r.To.Before(r.From) {
		return 0
	}
	return int(r.To.Sub(r.From).Hours()/24) + 1
}

// Contains reports whether the calendar date of t lies within r.
func (r Range) Contains(t time.Time) bool {
	d := Day(t)
	return !d.Before(r.From) && !d.After(r.To)
}

// Dates lists every date in r in ascending order.
func (r Range) Dates() []time.Time {
	n := r.Days()
	out := make([]time.Time, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, r.From.AddDate(0, 0, i))
	}
	return out
}

// Strings renders r's bounds as YYYY-MM-DD.
func (r Range) Strings() (from, to string) {
	return FormatDate(r.From), FormatDate(r.To)
}

func startOfWeek(d time.Time, weekStart time.Weekday) time.Time {
	offset := (int(d.Weekday()) - int(weekStart) + 7) % 7
	return d.AddDate(0, 0, -offset)
}

// ForPreset resolves p relative to now. Custom has no implicit range.
func ForPreset(p Preset, now time.Time, weekStart time.Weekday) (Range, error) {
	today := Day(now)
	switch p {
	case Today:
		return Range{From: today, To: today}, nil
	case Yesterday:
		y := today.AddDate(0, 0, -1)
		return Range{From: y, To: y}, nil
	case ThisWeek:
		return Range{From: startOfWeek(today, weekStart), To: today}, nil
	case LastWeek:
		start := startOfWeek(today, weekStart).AddDate(0, 0, -7)
		return Range{From: start, To: start.AddDate(0, 0, 6)}, nil
	case Last7Days:
		return Range{From: today.AddDate(0, 0, -6), To: today}, nil
	case Last30Days:
		return Range{From: today.AddDate(0, 0, -29), To: today}, nil
	case ThisMonth:
		return Range{From: time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC), To: today}, nil
	case LastMonth:
		first := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC)
		return Range{From: first.AddDate(0, -1, 0), To: first.AddDate(0, 0, -1)}, nil
	case ThisYear:
		return Range{From: time.Date(today.Year(), 1, 1, 0, 0, 0, 0, time.UTC), To: today}, nil
	}
	return Range{}, fmt.Errorf("preset %q has no implicit range", p)
}

// Previous returns the comparison window that precedes r.
// Calendar presets step back one calendar unit (a partial "this month" compares
// against the same number of leading days of last month); every other window
// compares against the immediately preceding span of equal length.
func Previous(p Preset, r Range) Range {
	switch p {
	case LastMonth:
		return Range{From: r.From.AddDate(0, -1, 0), To: r.From.AddDate(0, 0, -1)}
	case ThisMonth:
		from := r.From.AddDate(0, -1, 0)
		to := from.AddDate(0, 0, r.Days()-1)
		if lastOfMonth := r.From.AddDate(0, 0, -1); to.After(lastOfMonth) {
			to = lastOfMonth
		}
		return Range{From: from, To: to}
	case ThisYear:
		from := r.From.AddDate(-1, 0, 0)
		return Range{From: from, To: from.AddDate(0, 0, r.Days()-1)}
	}
	n := r.Days()
	return Range{From: r.From.AddDate(0, 0, -n), To: r.From.AddDate(0, 0, -1)}
}

// DayFilter selects which weekdays count.
type DayFilter string

const (
	AllDays  DayFilter = "all"
	Weekdays DayFilter = "weekdays"
	Weekends DayFilter = "weekends"
)

// Matches reports whether t passes the filter.
func (f DayFilter) Matches(t time.Time) bool {
	weekend := t.Weekday() == time.Saturday || t.Weekday() == time.Sunday
	switch f {
	case Weekdays:
		return !weekend
	case Weekends:
		return weekend
	}
	return true
}

// Filter keeps the dates that pass f, preserving order.
func Filter(dates []time.Time, f DayFilter) []time.Time {
	out := make([]time.Time, 0, len(dates))
	for _, d := range dates {
		if f.Matches(d) {
			out = append(out, d)
		}
	}
	return out
}

func uniqueDays(dates []time.Time) []time.Time {
	seen := make(map[time.Time]struct{}, len(dates))
	out := make([]time.Time, 0, len(dates))
	for _, d := range dates {
		day := Day(d)
		if _, ok := seen[day]; ok {
			continue
		}
		seen[day] = struct{}{}
		out = append(out, day)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// CurrentStreak counts consecutive dates ending today, or ending yesterday when
// today has no entry yet.
func CurrentStreak(dates []time.Time, now time.Time) int {
	set := make(map[time.Time]struct{}, len(dates))
	for _, d := range dates {
		set[Day(d)] = struct{}{}
	}
	cursor := Day(now)
	if _, ok := set[cursor]; !ok {
		cursor = cursor.AddDate(0, 0, -1)
	}
	streak := 0
	for {
		if _, ok := set[cursor]; !ok {
			return streak
		}
		streak++
		cursor = cursor.AddDate(0, 0, -1)
	}
}

// LongestStreak returns the longest run of consecutive dates.
func LongestStreak(dates []time.Time) int {
	days := uniqueDays(dates)
	longest, run := 0, 0
	for i, d := range days {
		if i > 0 && d.Equal(days[i-1].AddDate(0, 0, 1)) {
			run++
		} else {
			run = 1
		}
		if run > longest {
			longest = run
		}
	}
	return longest
}
