// Package ics renders canonical events as an RFC 5545 calendar and reads
// such calendars back.
package ics

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	appLog "notiflow/internal/log"
	"notiflow/internal/model"
)

const (
	DefaultProductID = "-//NotiFlow//Calendar//EN"
	uidDomain        = "@notiflow.local"

	localLayout = "20060102T150405"
	utcLayout   = "20060102T150405Z"
)

var uidNamespace = uuid.NewSHA1(uuid.NameSpaceDNS, []byte("notiflow.local"))

// UID is the stable identifier of an event: the same key always yields the
// same UID, so calendar clients update events in place across exports.
func UID(k model.Key) string {
	return uuid.NewSHA1(uidNamespace, []byte(k.String())).String() + uidDomain
}

// Encoder turns events into calendar text.
type Encoder struct {
	// Location is the TZID written on every date-time. If nil, each event
	// keeps its own location. Zones without an IANA name, such as
	// time.Local, are written as UTC.
	Location     *time.Location
	CalendarName string
	ProductID    string
	// Now stamps DTSTAMP; defaults to time.Now.
	Now func() time.Time
}

// EncodeReport lists what made it into the calendar and what did not.
type EncodeReport struct {
	Encoded int               `json:"encoded"`
	Skipped []model.Rejection `json:"skipped"`
}

// Encode renders one VEVENT per valid event, ordered by start time and then
// key. Invalid events are skipped with a reason wrapping
// model.ErrEncodingFailure; the rest of the calendar is still produced.
func (e *Encoder) Encode(events []model.Event) (string, EncodeReport) {
	var report EncodeReport

	sorted := slices.Clone(events)
	slices.SortStableFunc(sorted, func(a, b model.Event) int {
		return cmp.Or(a.Start.Compare(b.Start), cmp.Compare(a.Key().String(), b.Key().String()))
	})

	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	stamp := now().UTC()

	cal := ical.NewCalendar()
	cal.SetProductId(cmp.Or(e.ProductID, DefaultProductID))
	cal.SetMethod(ical.MethodPublish)
	cal.SetCalscale("GREGORIAN")
	if e.CalendarName != "" {
		cal.SetXWRCalName(e.CalendarName)
	}
	if e.Location != nil && named(e.Location) {
		cal.SetXWRTimezone(e.Location.String())
	}

	valid := make([]model.Event, 0, len(sorted))
	for _, ev := range sorted {
		if err := ev.Validate(); err != nil {
			reason := fmt.Errorf("%w: %s: %w", model.ErrEncodingFailure, ev.Key(), err)
			appLog.Warn("ics: skipping event", "key", ev.Key().String(), "reason", err)
			report.Skipped = append(report.Skipped, model.Rejection{Item: ev.Record(), Reason: reason})
			continue
		}
		valid = append(valid, ev)
	}

	// VTIMEZONE blocks precede the events that reference them.
	e.addTimezones(cal, valid)
	for _, ev := range valid {
		e.addEvent(cal, ev, stamp)
	}
	report.Encoded = len(valid)

	return cal.Serialize(), report
}

func (e *Encoder) addEvent(cal *ical.Calendar, ev model.Event, stamp time.Time) {
	loc := e.zoneOf(ev)
	tz := tzid(loc)

	vev := cal.AddEvent(UID(ev.Key()))
	vev.SetDtStampTime(stamp)
	if named(loc) {
		vev.SetProperty(ical.ComponentPropertyDtStart, ev.Start.In(loc).Format(localLayout), tz)
		vev.SetProperty(ical.ComponentPropertyDtEnd, ev.End.In(loc).Format(localLayout), tz)
	} else {
		vev.SetStartAt(ev.Start)
		vev.SetEndAt(ev.End)
	}
	vev.SetSummary(ev.Summary())
	if ev.Location != nil {
		vev.SetLocation(*ev.Location)
	}
	if ev.Title != "" {
		vev.SetDescription(ev.Title)
	}

	if ev.Rule == nil {
		return
	}
	vev.AddProperty(ical.ComponentPropertyRrule, ev.Rule.RRule())

	anchor := ev.Rule.Anchor.In(loc)
	exceptions := slices.Clone(ev.Rule.Exceptions)
	slices.SortFunc(exceptions, func(a, b time.Time) int { return a.Compare(b) })
	for _, ex := range exceptions {
		y, m, d := ex.Date()
		at := time.Date(y, m, d, anchor.Hour(), anchor.Minute(), anchor.Second(), 0, loc)
		if named(loc) {
			vev.AddProperty(ical.ComponentPropertyExdate, at.Format(localLayout), tz)
		} else {
			vev.AddProperty(ical.ComponentPropertyExdate, at.UTC().Format(utcLayout))
		}
	}
}

// zoneOf is the zone ev's wall-clock times are computed in.
func (e *Encoder) zoneOf(ev model.Event) *time.Location {
	if e.Location != nil {
		return e.Location
	}
	return ev.Start.Location()
}

// named reports whether loc has an IANA name a TZID can carry. Times in
// other zones are written in UTC.
func named(loc *time.Location) bool {
	switch loc.String() {
	case "", "Local", "UTC":
		return false
	}
	return true
}

func tzid(loc *time.Location) ical.PropertyParameter {
	return &ical.KeyValues{Key: string(ical.ParameterTzid), Value: []string{loc.String()}}
}
