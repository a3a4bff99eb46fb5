package ics

import (
	"fmt"
	"slices"
	"time"

	ical "github.com/arran4/golang-ical"

	"notiflow/internal/model"
)

// zoneSpan is the stretch of time one VTIMEZONE has to describe.
type zoneSpan struct {
	loc      *time.Location
	from, to time.Time
}

// addTimezones writes one VTIMEZONE per named zone the events use. Each
// lists every offset change from the earliest start to the last instance.
func (e *Encoder) addTimezones(cal *ical.Calendar, events []model.Event) {
	spans := make(map[string]*zoneSpan)
	for _, ev := range events {
		loc := e.zoneOf(ev)
		if !named(loc) {
			continue
		}
		from, to := ev.Start, lastInstant(ev)
		s, ok := spans[loc.String()]
		if !ok {
			spans[loc.String()] = &zoneSpan{loc: loc, from: from, to: to}
			continue
		}
		if from.Before(s.from) {
			s.from = from
		}
		if to.After(s.to) {
			s.to = to
		}
	}

	names := make([]string, 0, len(spans))
	for name := range spans {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		addTimezone(cal, spans[name])
	}
}

// lastInstant bounds ev's instances. Rules without an end date are
// covered for a year.
func lastInstant(ev model.Event) time.Time {
	end := ev.End
	if ev.Rule == nil {
		return end
	}
	if ev.Rule.Until.IsZero() {
		return end.AddDate(1, 0, 0)
	}
	if u := ev.Rule.Until.AddDate(0, 0, 1); u.After(end) {
		return u
	}
	return end
}

func addTimezone(cal *ical.Calendar, s *zoneSpan) {
	tz := cal.AddTimezone(s.loc.String())
	t := s.from.In(s.loc)
	for {
		start, end := t.ZoneBounds()
		name, offset := t.Zone()

		// Zones without transitions get a single observance from the epoch.
		prev, onset := offset, "19700101T000000"
		if !start.IsZero() {
			_, prev = start.Add(-time.Second).Zone()
			onset = start.In(time.FixedZone("", prev)).Format(localLayout)
		}

		var obs ical.ComponentBase
		obs.SetProperty(ical.ComponentPropertyDtStart, onset)
		obs.SetProperty(ical.ComponentProperty(ical.PropertyTzoffsetfrom), utcOffset(prev))
		obs.SetProperty(ical.ComponentProperty(ical.PropertyTzoffsetto), utcOffset(offset))
		obs.SetProperty(ical.ComponentProperty(ical.PropertyTzname), name)
		if t.IsDST() {
			tz.Components = append(tz.Components, &ical.Daylight{ComponentBase: obs})
		} else {
			tz.Components = append(tz.Components, &ical.Standard{ComponentBase: obs})
		}

		if end.IsZero() || !end.Before(s.to) {
			return
		}
		t = end
	}
}

// utcOffset formats seconds east of UTC as +hhmm.
func utcOffset(secs int) string {
	sign := '+'
	if secs < 0 {
		sign, secs = '-', -secs
	}
	return fmt.Sprintf("%c%02d%02d", sign, secs/3600, secs/60%60)
}
