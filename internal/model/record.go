package model

import (
	"strconv"
	"time"

	"notiflow/internal/recurrence"
)

// Layouts of the exchange schema.
const (
	DateLayout      = "2006/01/02"
	TimeLayout      = "15:04:05"
	ShortTimeLayout = "15:04"
)

// Record is the canonical event exchange schema shared with the browser
// extension and the platform fetchers. It is also the persisted form.
type Record struct {
	Course    string `json:"course"`
	EventType string `json:"event_type"`
	Date      string `json:"date"`
	Begin     string `json:"begin_date_time"`
	End       string `json:"end_date_time"`
	Location  string `json:"location,omitempty"`
	Title     string `json:"title,omitempty"`

	// Class meetings only.
	Frequency      string   `json:"frequency,omitempty"`
	Interval       string   `json:"interval,omitempty"`
	ByDay          []string `json:"by_day,omitempty"`
	ExceptionDates []string `json:"exception_dates,omitempty"`
	Until          string   `json:"until,omitempty"`
}

// Record converts a canonical event back into the exchange schema.
func (e Event) Record() Record {
	rec := Record{
		Course:    e.Course.String(),
		EventType: string(e.Kind),
		Date:      e.Start.Format(DateLayout),
		Begin:     e.Start.Format(TimeLayout),
		End:       e.End.Format(TimeLayout),
		Location:  e.LocationOr(""),
		Title:     e.Title,
	}
	if e.Rule != nil {
		rec.Frequency = string(e.Rule.Freq)
		rec.Interval = strconv.Itoa(e.Rule.Interval)
		for _, wd := range recurrence.SortWeekdays(e.Rule.Weekdays) {
			rec.ByDay = append(rec.ByDay, recurrence.WeekdayCode(wd))
		}
		for _, ex := range e.Rule.Exceptions {
			rec.ExceptionDates = append(rec.ExceptionDates, ex.Format(DateLayout))
		}
		if !e.Rule.Until.IsZero() {
			rec.Until = e.Rule.Until.Format(DateLayout)
		}
	}
	return rec
}

// Records converts a slice of events.
func Records(events []Event) []Record {
	out := make([]Record, 0, len(events))
	for _, e := range events {
		out = append(out, e.Record())
	}
	return out
}

// ParseDate parses an exchange-schema date in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, loc)
}

// ParseClock parses "HH:MM:SS" or "HH:MM" into an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		var shortErr error
		if t, shortErr = time.Parse(ShortTimeLayout, s); shortErr != nil {
			return 0, err
		}
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second, nil
}

// At combines a date (midnight) with a clock offset, keeping wall-clock
// time across DST transitions.
func At(day time.Time, clock time.Duration) time.Time {
	h := int(clock / time.Hour)
	m := int(clock % time.Hour / time.Minute)
	s := int(clock % time.Minute / time.Second)
	return time.Date(day.Year(), day.Month(), day.Day(), h, m, s, 0, day.Location())
}
