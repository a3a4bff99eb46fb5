package ics

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "notiflow/internal/log"
	"notiflow/internal/recurrence"
)

// DecodedEvent is a VEVENT read back from calendar text.
type DecodedEvent struct {
	UID         string
	Summary     string
	Location    string
	Description string

	Start time.Time
	End   time.Time
	TZID  string

	// Rule is set when the VEVENT has an RRULE. Its Anchor is Start and its
	// Exceptions come from the EXDATE properties.
	Rule *recurrence.Rule
}

// Decode parses calendar text. VEVENTs that cannot be read are logged and
// skipped; an unreadable calendar is an error.
func Decode(r io.Reader) ([]DecodedEvent, error) {
	cal, err := ical.ParseCalendar(r)
	if err != nil {
		return nil, fmt.Errorf("parse calendar: %w", err)
	}

	events := make([]DecodedEvent, 0)
	for _, comp := range cal.Events() {
		ev, perr := decodeVEvent(comp)
		if perr != nil {
			appLog.Error("ics vevent decode failed", perr)
			continue
		}
		events = append(events, ev)
	}
	appLog.Debug("ics decode completed", "event_count", len(events))
	return events, nil
}

// DecodeString is Decode over a string.
func DecodeString(s string) ([]DecodedEvent, error) {
	return Decode(strings.NewReader(s))
}

func decodeVEvent(ve *ical.VEvent) (DecodedEvent, error) {
	var out DecodedEvent

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uidProp.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = unescapeText(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Location = unescapeText(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = unescapeText(p.Value)
	}

	start, tz, err := propertyTime(ve.GetProperty(ical.ComponentPropertyDtStart))
	if err != nil {
		return out, fmt.Errorf("%s: DTSTART: %w", out.UID, err)
	}
	out.Start, out.TZID = start, tz

	out.End = start
	if p := ve.GetProperty(ical.ComponentPropertyDtEnd); p != nil {
		if out.End, _, err = propertyTime(p); err != nil {
			return out, fmt.Errorf("%s: DTEND: %w", out.UID, err)
		}
	}

	rruleProp := ve.GetProperty(ical.ComponentPropertyRrule)
	if rruleProp == nil {
		return out, nil
	}
	rule, err := recurrence.ParseRRule(rruleProp.Value, start.Location())
	if err != nil {
		return out, fmt.Errorf("%s: %w", out.UID, err)
	}
	rule.Anchor = start

	// EXDATE can appear multiple times and each may hold a list.
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for part := range strings.SplitSeq(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			t, err := parseTime(part, paramTZID(p))
			if err != nil {
				return out, fmt.Errorf("%s: EXDATE %q: %w", out.UID, part, err)
			}
			y, m, d := t.In(start.Location()).Date()
			rule.Exceptions = append(rule.Exceptions, time.Date(y, m, d, 0, 0, 0, 0, start.Location()))
		}
	}
	out.Rule = &rule
	return out, nil
}

func paramTZID(p *ical.IANAProperty) string {
	if p == nil || p.ICalParameters == nil {
		return ""
	}
	if tzs, ok := p.ICalParameters[string(ical.ParameterTzid)]; ok && len(tzs) > 0 {
		return tzs[0]
	}
	return ""
}

func propertyTime(p *ical.IANAProperty) (time.Time, string, error) {
	if p == nil {
		return time.Time{}, "", errors.New("missing")
	}
	tz := paramTZID(p)
	t, err := parseTime(p.Value, tz)
	return t, tz, err
}

// parseTime handles UTC ("...Z"), TZID-qualified local and date-only values.
// Floating times without a TZID are read as UTC.
func parseTime(v, tz string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}

	loc := time.UTC
	if tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return time.Time{}, fmt.Errorf("unknown TZID %q: %w", tz, err)
		}
		loc = l
	}

	switch {
	case strings.HasSuffix(v, "Z"):
		t, err := time.Parse("20060102T150405Z", v)
		if err != nil {
			return t, err
		}
		return t.In(loc), nil
	case strings.Contains(v, "T"):
		return time.ParseInLocation(localLayout, v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}

var textUnescaper = strings.NewReplacer(`\,`, ",", `\;`, ";", `\n`, "\n", `\N`, "\n", `\\`, `\`)

func unescapeText(s string) string {
	return textUnescaper.Replace(s)
}
