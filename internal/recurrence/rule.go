// Package recurrence models weekly class-meeting patterns and expands them
// into concrete occurrences.
package recurrence

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// ErrInvalid marks a rule that cannot produce occurrences (empty weekday
// set, non-positive interval, unsupported frequency, missing anchor).
var ErrInvalid = errors.New("invalid recurrence")

// Frequency of a rule. Only WEEKLY is supported.
type Frequency string

const Weekly Frequency = "WEEKLY"

// Rule describes a weekly recurring meeting.
type Rule struct {
	Freq     Frequency
	Interval int
	// Weekdays is kept Monday-first and free of duplicates.
	Weekdays []time.Weekday
	// Exceptions are dates (time of day ignored) on which an otherwise
	// matching occurrence is suppressed.
	Exceptions []time.Time
	// Anchor is the first candidate occurrence: date plus meeting start time.
	Anchor time.Time
	// Until is an optional last date (inclusive).
	Until time.Time
}

var weekdayCodes = map[string]time.Weekday{
	"MO": time.Monday,
	"TU": time.Tuesday,
	"WE": time.Wednesday,
	"TH": time.Thursday,
	"FR": time.Friday,
	"SA": time.Saturday,
	"SU": time.Sunday,
}

// rruleDays is indexed by time.Weekday.
var rruleDays = [7]rrule.Weekday{rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA}

// ParseWeekday converts a two-letter iCalendar day code ("MO".."SU").
func ParseWeekday(code string) (time.Weekday, error) {
	wd, ok := weekdayCodes[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return 0, fmt.Errorf("%w: unknown weekday %q", ErrInvalid, code)
	}
	return wd, nil
}

// WeekdayCode is the inverse of ParseWeekday.
func WeekdayCode(wd time.Weekday) string {
	return strings.ToUpper(wd.String()[:2])
}

// SortWeekdays orders days Monday-first and drops duplicates.
func SortWeekdays(days []time.Weekday) []time.Weekday {
	out := slices.Clone(days)
	slices.SortFunc(out, func(a, b time.Weekday) int {
		return mondayIndex(a) - mondayIndex(b)
	})
	return slices.Compact(out)
}

func mondayIndex(wd time.Weekday) int {
	return (int(wd) + 6) % 7
}

// Validate reports whether the rule can be expanded.
func (r Rule) Validate() error {
	if r.Freq != Weekly {
		return fmt.Errorf("%w: unsupported frequency %q", ErrInvalid, r.Freq)
	}
	if r.Interval < 1 {
		return fmt.Errorf("%w: interval must be positive, got %d", ErrInvalid, r.Interval)
	}
	if len(r.Weekdays) == 0 {
		return fmt.Errorf("%w: empty weekday set", ErrInvalid)
	}
	if r.Anchor.IsZero() {
		return fmt.Errorf("%w: missing anchor date", ErrInvalid)
	}
	if !r.Until.IsZero() && dateOf(r.Until).Before(dateOf(r.Anchor)) {
		return fmt.Errorf("%w: until %s is before anchor %s", ErrInvalid,
			r.Until.Format(time.DateOnly), r.Anchor.Format(time.DateOnly))
	}
	return nil
}

// Warnings lists exception dates that can never suppress anything because
// they fall on a weekday outside the rule's set.
func (r Rule) Warnings() []string {
	var out []string
	for _, ex := range r.Exceptions {
		if !slices.Contains(r.Weekdays, ex.Weekday()) {
			out = append(out, fmt.Sprintf("exception date %s is a %s, not in weekday set %s; ignored",
				ex.Format(time.DateOnly), ex.Weekday(), r.ByDay()))
		}
	}
	return out
}

// ByDay returns the weekday set as comma-separated iCalendar codes.
func (r Rule) ByDay() string {
	codes := make([]string, 0, len(r.Weekdays))
	for _, wd := range SortWeekdays(r.Weekdays) {
		codes = append(codes, WeekdayCode(wd))
	}
	return strings.Join(codes, ",")
}

// IsException reports whether t falls on one of the rule's exception dates.
func (r Rule) IsException(t time.Time) bool {
	for _, ex := range r.Exceptions {
		if sameDate(ex, t) {
			return true
		}
	}
	return false
}

// untilInstant is the inclusive upper bound implied by Until: the last
// second of that day in the anchor's location.
func (r Rule) untilInstant() time.Time {
	if r.Until.IsZero() {
		return time.Time{}
	}
	u := r.Until.In(r.Anchor.Location())
	return time.Date(u.Year(), u.Month(), u.Day(), 23, 59, 59, 0, u.Location())
}

// options builds the rrule-go option set for the rule.
func (r Rule) options() rrule.ROption {
	days := make([]rrule.Weekday, 0, len(r.Weekdays))
	for _, wd := range SortWeekdays(r.Weekdays) {
		days = append(days, rruleDays[wd])
	}
	return rrule.ROption{
		Freq:      rrule.WEEKLY,
		Interval:  r.Interval,
		Byweekday: days,
		Wkst:      rrule.MO,
	}
}

// RRule renders the RFC 5545 RRULE value (without the "RRULE:" prefix),
// e.g. "FREQ=WEEKLY;INTERVAL=2;BYDAY=TU,TH".
func (r Rule) RRule() string {
	opt := r.options()
	if u := r.untilInstant(); !u.IsZero() {
		opt.Until = u.UTC()
	}
	return opt.RRuleString()
}

// ParseRRule parses an RRULE value produced by RRule. Anchor and
// Exceptions are not part of an RRULE and are left for the caller; Until
// is converted into loc.
func ParseRRule(value string, loc *time.Location) (Rule, error) {
	value = strings.TrimPrefix(strings.TrimSpace(value), "RRULE:")
	opt, err := rrule.StrToROption(value)
	if err != nil {
		return Rule{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if opt.Freq != rrule.WEEKLY {
		return Rule{}, fmt.Errorf("%w: unsupported frequency %v", ErrInvalid, opt.Freq)
	}
	if loc == nil {
		loc = time.Local
	}

	rule := Rule{Freq: Weekly, Interval: opt.Interval}
	if rule.Interval == 0 {
		rule.Interval = 1
	}
	for i := range opt.Byweekday {
		// rrule-go numbers days Monday=0.
		rule.Weekdays = append(rule.Weekdays, time.Weekday((opt.Byweekday[i].Day()+1)%7))
	}
	rule.Weekdays = SortWeekdays(rule.Weekdays)
	if !opt.Until.IsZero() {
		rule.Until = dateOf(opt.Until.In(loc))
	}
	return rule, nil
}

func dateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
