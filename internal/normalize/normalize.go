// Package normalize turns raw exchange-schema records into canonical,
// validated events. Every record coming from the platform, the browser
// extension or the announcement extractor passes through here.
package normalize

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"notiflow/internal/course"
	appLog "notiflow/internal/log"
	"notiflow/internal/model"
	"notiflow/internal/recurrence"
)

// Options configures a Normalizer.
type Options struct {
	// Location is the timezone all dates and times are interpreted in.
	// If nil, time.Local is used.
	Location *time.Location

	// TermStart anchors class meetings entered through the extension form.
	TermStart time.Time
	// TermEnd is the default last date of class meetings without "until".
	TermEnd time.Time
}

// Normalizer validates records against the rules of their kind.
type Normalizer struct {
	loc       *time.Location
	termStart time.Time
	termEnd   time.Time
}

// Result is the outcome of normalizing a batch.
type Result struct {
	Events     []model.Event
	Rejections []model.Rejection
	Warnings   []model.Warning
}

func New(opts Options) *Normalizer {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Normalizer{
		loc:       opts.Location,
		termStart: opts.TermStart,
		termEnd:   opts.TermEnd,
	}
}

// Location returns the timezone used for all parsed times.
func (n *Normalizer) Location() *time.Location {
	return n.loc
}

// NormalizeAll normalizes a batch. Bad records are collected as rejections
// and never stop the rest of the batch. Structural duplicates (same Key)
// after the first are rejected with model.ErrDuplicate.
func (n *Normalizer) NormalizeAll(recs []model.Record, kind model.Kind) Result {
	res := Result{Events: make([]model.Event, 0, len(recs))}
	seen := make(map[model.Key]bool, len(recs))

	for _, rec := range recs {
		ev, warnings, err := n.Normalize(rec, kind)
		res.Warnings = append(res.Warnings, warnings...)
		if err != nil {
			appLog.Warn("normalize: record rejected", "kind", kind, "course", rec.Course, "reason", err)
			res.Rejections = append(res.Rejections, model.Rejection{Item: rec, Reason: err})
			continue
		}
		if seen[ev.Key()] {
			res.Rejections = append(res.Rejections, model.Rejection{
				Item:   rec,
				Reason: fmt.Errorf("%w: %s", model.ErrDuplicate, ev.Key()),
			})
			continue
		}
		seen[ev.Key()] = true
		res.Events = append(res.Events, ev)
	}
	return res
}

// Normalize maps a single record into a canonical event of the given kind.
// The returned warnings are meaningful even when the record is accepted.
func (n *Normalizer) Normalize(rec model.Record, kind model.Kind) (model.Event, []model.Warning, error) {
	var ev model.Event

	if !kind.Valid() {
		return ev, nil, rejectf("unknown event kind %q", kind)
	}
	if rec.EventType != "" {
		declared, err := model.ParseKind(rec.EventType)
		if err != nil {
			return ev, nil, err
		}
		if declared != kind {
			return ev, nil, rejectf("event_type %q does not belong to category %q", rec.EventType, kind)
		}
	}

	id, err := course.Parse(rec.Course)
	if err != nil {
		return ev, nil, fmt.Errorf("%w: %w", model.ErrRejectedInput, err)
	}

	if strings.TrimSpace(rec.Date) == "" {
		return ev, nil, rejectf("missing date")
	}
	day, err := model.ParseDate(strings.TrimSpace(rec.Date), n.loc)
	if err != nil {
		return ev, nil, rejectf("invalid date %q", rec.Date)
	}

	if strings.TrimSpace(rec.Begin) == "" {
		return ev, nil, rejectf("missing begin_date_time")
	}
	begin, err := model.ParseClock(strings.TrimSpace(rec.Begin))
	if err != nil {
		return ev, nil, rejectf("invalid begin_date_time %q", rec.Begin)
	}

	end := begin
	switch {
	case strings.TrimSpace(rec.End) != "":
		if end, err = model.ParseClock(strings.TrimSpace(rec.End)); err != nil {
			return ev, nil, rejectf("invalid end_date_time %q", rec.End)
		}
	case kind != model.KindAssignment:
		return ev, nil, rejectf("missing end_date_time")
	}
	if end < begin {
		return ev, nil, rejectf("end_date_time %s is before begin_date_time %s", rec.End, rec.Begin)
	}

	ev = model.Event{
		Course: id,
		Kind:   kind,
		Start:  model.At(day, begin),
		End:    model.At(day, end),
		Title:  strings.TrimSpace(rec.Title),
	}
	if loc := strings.TrimSpace(rec.Location); loc != "" {
		ev.Location = model.Ptr(loc)
	} else if kind == model.KindFinal {
		return model.Event{}, nil, rejectf("final exam requires a location")
	}

	if kind != model.KindClassMeeting {
		return ev, nil, nil
	}

	rule, err := n.rule(rec, ev.Start)
	if err != nil {
		return model.Event{}, nil, err
	}
	var warnings []model.Warning
	for _, msg := range rule.Warnings() {
		warnings = append(warnings, model.Warning{Item: rec, Message: msg})
	}

	// Move the anchor onto the first meeting day so DTSTART matches the
	// pattern. Exceptions cancel instances but never move the anchor.
	if first, ok := firstPatternDate(rule); ok && !first.Equal(ev.Start) {
		warnings = append(warnings, model.Warning{
			Item: rec,
			Message: fmt.Sprintf("date %s is not a meeting day; first meeting is %s",
				ev.Start.Format(model.DateLayout), first.Format(model.DateLayout)),
		})
		dur := ev.End.Sub(ev.Start)
		ev.Start, ev.End = first, first.Add(dur)
		rule.Anchor = first
	} else if !ok {
		return model.Event{}, warnings, fmt.Errorf("%w: rule produces no occurrences", model.ErrInvalidRecurrence)
	}
	ev.Rule = &rule
	return ev, warnings, nil
}

func (n *Normalizer) rule(rec model.Record, anchor time.Time) (recurrence.Rule, error) {
	rule := recurrence.Rule{Anchor: anchor, Interval: 1}

	freq := strings.ToUpper(strings.TrimSpace(rec.Frequency))
	if freq == "" {
		return rule, rejectf("class meeting requires frequency")
	}
	rule.Freq = recurrence.Frequency(freq)

	if s := strings.TrimSpace(rec.Interval); s != "" {
		iv, err := strconv.Atoi(s)
		if err != nil {
			return rule, fmt.Errorf("%w: interval %q is not an integer", model.ErrInvalidRecurrence, rec.Interval)
		}
		rule.Interval = iv
	}

	for _, code := range rec.ByDay {
		wd, err := recurrence.ParseWeekday(code)
		if err != nil {
			return rule, err
		}
		rule.Weekdays = append(rule.Weekdays, wd)
	}
	rule.Weekdays = recurrence.SortWeekdays(rule.Weekdays)

	for _, s := range rec.ExceptionDates {
		d, err := model.ParseDate(strings.TrimSpace(s), n.loc)
		if err != nil {
			return rule, rejectf("invalid exception date %q", s)
		}
		rule.Exceptions = append(rule.Exceptions, d)
	}

	switch until := strings.TrimSpace(rec.Until); {
	case until != "":
		d, err := model.ParseDate(until, n.loc)
		if err != nil {
			return rule, rejectf("invalid until %q", rec.Until)
		}
		rule.Until = d
	case !n.termEnd.IsZero():
		rule.Until = n.termEnd
	}

	if err := rule.Validate(); err != nil {
		return rule, err
	}
	return rule, nil
}

// firstPatternDate looks for the rule's first meeting day within one full
// interval period (plus a week of slack) of the anchor.
func firstPatternDate(rule recurrence.Rule) (time.Time, bool) {
	rule.Exceptions = nil
	horizon := rule.Anchor.AddDate(0, 0, 7*(rule.Interval+1))
	for t := range rule.Expand(rule.Anchor, horizon) {
		return t, true
	}
	return time.Time{}, false
}

func rejectf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", model.ErrRejectedInput, fmt.Sprintf(format, args...))
}
