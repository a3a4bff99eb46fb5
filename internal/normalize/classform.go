package normalize

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"notiflow/internal/model"
	"notiflow/internal/recurrence"
)

// ClassForm is what the browser extension submits when a student types a
// class schedule by hand.
type ClassForm struct {
	ClassName      string          `json:"className"`
	Days           map[string]bool `json:"days"`
	StartTime      string          `json:"startTime"` // "10:00 AM"
	EndTime        string          `json:"endTime"`
	Location       string          `json:"location,omitempty"`
	Interval       int             `json:"interval,omitempty"`
	ExceptionDates []string        `json:"exceptionDates,omitempty"`
}

var formDays = map[string]time.Weekday{
	"M":  time.Monday,
	"Tu": time.Tuesday,
	"W":  time.Wednesday,
	"Th": time.Thursday,
	"F":  time.Friday,
	"Sa": time.Saturday,
	"Su": time.Sunday,
}

const formClockLayout = "3:04 PM"

// FromClassForm maps a form submission onto a class-meeting record that
// starts on the first day of term. The result still has to go through
// Normalize.
func (n *Normalizer) FromClassForm(f ClassForm) (model.Record, error) {
	var rec model.Record

	var days []time.Weekday
	for label, on := range f.Days {
		if !on {
			continue
		}
		wd, ok := formDays[label]
		if !ok {
			return rec, rejectf("unknown day %q", label)
		}
		days = append(days, wd)
	}
	if len(days) == 0 {
		return rec, rejectf("no meeting days selected")
	}

	begin, err := time.Parse(formClockLayout, strings.ToUpper(strings.TrimSpace(f.StartTime)))
	if err != nil {
		return rec, rejectf("invalid start time %q", f.StartTime)
	}
	end, err := time.Parse(formClockLayout, strings.ToUpper(strings.TrimSpace(f.EndTime)))
	if err != nil {
		return rec, rejectf("invalid end time %q", f.EndTime)
	}

	anchor := n.termStart
	if anchor.IsZero() {
		anchor = time.Now().In(n.loc)
	}

	rec = model.Record{
		Course:         f.ClassName,
		EventType:      string(model.KindClassMeeting),
		Date:           anchor.Format(model.DateLayout),
		Begin:          begin.Format(model.TimeLayout),
		End:            end.Format(model.TimeLayout),
		Location:       f.Location,
		Frequency:      string(recurrence.Weekly),
		ExceptionDates: f.ExceptionDates,
	}
	if f.Interval != 0 {
		rec.Interval = strconv.Itoa(f.Interval)
	}
	for _, wd := range recurrence.SortWeekdays(days) {
		rec.ByDay = append(rec.ByDay, recurrence.WeekdayCode(wd))
	}
	if !n.termEnd.IsZero() {
		rec.Until = n.termEnd.Format(model.DateLayout)
	}
	return rec, nil
}

// NormalizeClassForm is FromClassForm followed by Normalize.
func (n *Normalizer) NormalizeClassForm(f ClassForm) (model.Event, []model.Warning, error) {
	rec, err := n.FromClassForm(f)
	if err != nil {
		return model.Event{}, nil, fmt.Errorf("class form: %w", err)
	}
	return n.Normalize(rec, model.KindClassMeeting)
}
