package ics

import (
	"errors"
	"slices"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"notiflow/internal/course"
	"notiflow/internal/model"
	"notiflow/internal/normalize"
	"notiflow/internal/recurrence"
)

func vancouver(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/Vancouver")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	return loc
}

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func sampleEvents(t *testing.T) []model.Event {
	t.Helper()
	loc := vancouver(t)
	n := normalize.New(normalize.Options{Location: loc, TermEnd: time.Date(2025, time.December, 5, 0, 0, 0, 0, loc)})

	class, _, err := n.Normalize(model.Record{
		Course: "CPEN 221", Date: "2025/09/02", Begin: "14:00:00", End: "15:30:00", Location: "MCLD 202",
		Frequency: "WEEKLY", Interval: "2", ByDay: []string{"TU", "TH"},
		ExceptionDates: []string{"2025/09/16", "2025/10/02"},
	}, model.KindClassMeeting)
	if err != nil {
		t.Fatalf("normalize class: %v", err)
	}
	final, _, err := n.Normalize(model.Record{
		Course: "CPEN 221", Date: "2025/12/10", Begin: "12:00:00", End: "14:30:00", Location: "SWNG 121",
	}, model.KindFinal)
	if err != nil {
		t.Fatalf("normalize final: %v", err)
	}
	asg, _, err := n.Normalize(model.Record{
		Course: "MATH 253", Date: "2025/09/20", Begin: "23:59:00", Title: "Problem Set 1",
	}, model.KindAssignment)
	if err != nil {
		t.Fatalf("normalize assignment: %v", err)
	}
	return []model.Event{final, asg, class}
}

func TestEncodeRoundTripsRecurrence(t *testing.T) {
	loc := vancouver(t)
	events := sampleEvents(t)
	enc := &Encoder{Location: loc, CalendarName: "Fall 2025"}

	text, report := enc.Encode(events)
	if report.Encoded != 3 || len(report.Skipped) != 0 {
		t.Fatalf("report = %+v", report)
	}

	decoded, err := DecodeString(text)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(decoded) != 3 {
		t.Fatalf("decoded %d events, want 3", len(decoded))
	}

	// Sorted by start: class (Sep 2), assignment (Sep 20), final (Dec 10).
	class := decoded[0]
	if class.Rule == nil {
		t.Fatalf("first event has no rule: %+v", class)
	}
	orig := events[2].Rule
	if !slices.Equal(class.Rule.Weekdays, orig.Weekdays) {
		t.Errorf("weekdays = %v, want %v", class.Rule.Weekdays, orig.Weekdays)
	}
	if class.Rule.Interval != orig.Interval {
		t.Errorf("interval = %d, want %d", class.Rule.Interval, orig.Interval)
	}
	var gotEx, wantEx []string
	for _, d := range class.Rule.Exceptions {
		gotEx = append(gotEx, d.Format(model.DateLayout))
	}
	for _, d := range orig.Exceptions {
		wantEx = append(wantEx, d.Format(model.DateLayout))
	}
	if !slices.Equal(gotEx, wantEx) {
		t.Errorf("exceptions = %v, want %v", gotEx, wantEx)
	}
	if got := class.Rule.Until.Format(model.DateLayout); got != "2025/12/05" {
		t.Errorf("until = %s", got)
	}
	if !class.Start.Equal(events[2].Start) || class.TZID != "America/Vancouver" {
		t.Errorf("start = %v (%s)", class.Start, class.TZID)
	}

	if decoded[1].Description != "Problem Set 1" || decoded[1].Rule != nil {
		t.Errorf("assignment = %+v", decoded[1])
	}
	if decoded[2].Summary != "CPEN 221 - Final Exam" || decoded[2].Location != "SWNG 121" {
		t.Errorf("final = %+v", decoded[2])
	}
	if decoded[2].End.Sub(decoded[2].Start) != 150*time.Minute {
		t.Errorf("final duration = %v", decoded[2].End.Sub(decoded[2].Start))
	}
}

func TestEncodeOutputShape(t *testing.T) {
	enc := &Encoder{Location: vancouver(t), CalendarName: "Fall 2025"}
	text, _ := enc.Encode(sampleEvents(t))

	for _, want := range []string{
		"PRODID:" + DefaultProductID,
		"X-WR-CALNAME:Fall 2025",
		"DTSTART;TZID=America/Vancouver:20250902T140000",
		"RRULE:FREQ=WEEKLY;",
		"BYDAY=TU,TH",
		"EXDATE;TZID=America/Vancouver:20250916T140000",
		"EXDATE;TZID=America/Vancouver:20251002T140000",
		"SUMMARY:CPEN 221 - Class Meeting",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("calendar missing %q", want)
		}
	}
	if strings.Contains(text, "VTODO") {
		t.Error("calendar contains a VTODO")
	}
	if n := strings.Count(text, "BEGIN:VEVENT"); n != 3 {
		t.Errorf("VEVENT count = %d, want 3", n)
	}
}

func TestEncodeWritesTimezones(t *testing.T) {
	text, _ := (&Encoder{Location: vancouver(t)}).Encode(sampleEvents(t))

	tzStart := strings.Index(text, "BEGIN:VTIMEZONE")
	if tzStart < 0 {
		t.Fatalf("no VTIMEZONE:\n%s", text)
	}
	if ev := strings.Index(text, "BEGIN:VEVENT"); ev < tzStart {
		t.Error("VTIMEZONE comes after the first VEVENT")
	}
	block := text[tzStart : strings.Index(text, "END:VTIMEZONE")]

	tests := []struct {
		name string
		want []string
	}{
		{"zone id", []string{"TZID:America/Vancouver"}},
		{"summer time from March", []string{"BEGIN:DAYLIGHT", "DTSTART:20250309T020000", "TZOFFSETFROM:-0800", "TZOFFSETTO:-0700", "TZNAME:PDT"}},
		{"standard time from November", []string{"BEGIN:STANDARD", "DTSTART:20251102T020000", "TZOFFSETFROM:-0700", "TZOFFSETTO:-0800", "TZNAME:PST"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, want := range tt.want {
				if !strings.Contains(block, want) {
					t.Errorf("VTIMEZONE missing %q:\n%s", want, block)
				}
			}
		})
	}
	if n := strings.Count(text, "BEGIN:VTIMEZONE"); n != 1 {
		t.Errorf("VTIMEZONE count = %d, want 1", n)
	}

	// Decoding still sees only the events.
	decoded, err := DecodeString(text)
	if err != nil || len(decoded) != 3 {
		t.Fatalf("decode = %d events, %v", len(decoded), err)
	}
}

func TestEncodeUnnamedZoneUsesUTC(t *testing.T) {
	fixed := time.FixedZone("Local", -7*60*60)

	tests := []struct {
		name string
		enc  *Encoder
		loc  *time.Location
	}{
		{"process local zone", &Encoder{}, time.Local},
		{"zone named Local", &Encoder{}, fixed},
		{"encoder location without a name", &Encoder{Location: fixed}, fixed},
		{"utc encoder location", &Encoder{Location: time.UTC}, fixed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := time.Date(2025, time.December, 10, 12, 0, 0, 0, tt.loc)
			final := model.Event{
				Course: course.MustParse("CPEN 221"), Kind: model.KindFinal,
				Start: start, End: start.Add(150 * time.Minute), Location: model.Ptr("SWNG 121"),
			}
			text, report := tt.enc.Encode([]model.Event{final})
			if report.Encoded != 1 {
				t.Fatalf("encoded = %d", report.Encoded)
			}
			for _, bad := range []string{"TZID=", "VTIMEZONE", "X-WR-TIMEZONE"} {
				if strings.Contains(text, bad) {
					t.Errorf("calendar contains %q:\n%s", bad, text)
				}
			}
			for _, want := range []string{
				"DTSTART:" + start.UTC().Format(utcLayout),
				"DTEND:" + final.End.UTC().Format(utcLayout),
			} {
				if !strings.Contains(text, want) {
					t.Errorf("calendar missing %q", want)
				}
			}

			decoded, err := DecodeString(text)
			if err != nil || len(decoded) != 1 {
				t.Fatalf("decode = %d events, %v", len(decoded), err)
			}
			if !decoded[0].Start.Equal(start) {
				t.Errorf("start = %v, want %v", decoded[0].Start, start)
			}
		})
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	events := sampleEvents(t)
	loc := vancouver(t)

	a, _ := (&Encoder{Location: loc, Now: fixedNow(time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC))}).Encode(events)
	reversed := slices.Clone(events)
	slices.Reverse(reversed)
	b, _ := (&Encoder{Location: loc, Now: fixedNow(time.Date(2025, 9, 2, 8, 30, 0, 0, time.UTC))}).Encode(reversed)

	if a == b {
		t.Fatal("DTSTAMP did not change between runs")
	}
	if stripStamp(a) != stripStamp(b) {
		t.Errorf("outputs differ beyond DTSTAMP:\n%s\n---\n%s", a, b)
	}
}

func stripStamp(s string) string {
	var keep []string
	for line := range strings.SplitSeq(s, "\n") {
		if !strings.HasPrefix(line, "DTSTAMP") {
			keep = append(keep, line)
		}
	}
	return strings.Join(keep, "\n")
}

func TestEncodeSkipsInvalidEvents(t *testing.T) {
	loc := vancouver(t)
	start := time.Date(2025, time.December, 10, 12, 0, 0, 0, loc)
	events := append(sampleEvents(t),
		model.Event{Course: course.MustParse("PHYS 157"), Kind: model.KindFinal, Start: start, End: start.Add(time.Hour)},
		model.Event{
			Course: course.MustParse("PHYS 157"), Kind: model.KindClassMeeting, Start: start, End: start.Add(time.Hour),
			Rule: &recurrence.Rule{Freq: recurrence.Weekly, Interval: 0, Weekdays: []time.Weekday{time.Monday}, Anchor: start},
		},
	)

	text, report := (&Encoder{Location: loc}).Encode(events)
	if report.Encoded != 3 {
		t.Errorf("encoded = %d, want 3", report.Encoded)
	}
	if len(report.Skipped) != 2 {
		t.Fatalf("skipped = %v", report.Skipped)
	}
	for _, s := range report.Skipped {
		if !errors.Is(s.Reason, model.ErrEncodingFailure) {
			t.Errorf("reason = %v, want ErrEncodingFailure", s.Reason)
		}
	}
	if strings.Contains(text, "PHYS 157") {
		t.Error("invalid event leaked into the calendar")
	}
}

func TestUIDIsStablePerKey(t *testing.T) {
	events := sampleEvents(t)
	a, b := UID(events[0].Key()), UID(events[0].Key())
	if a != b {
		t.Errorf("UID not stable: %s != %s", a, b)
	}
	if a == UID(events[1].Key()) {
		t.Error("different keys share a UID")
	}
	if !strings.HasSuffix(a, "@notiflow.local") {
		t.Errorf("UID = %s", a)
	}
}
