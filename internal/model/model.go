package model

import (
	"fmt"
	"strings"
	"time"

	"notiflow/internal/course"
	"notiflow/internal/recurrence"
)

// Kind is the event category. Each kind is refreshed and stored independently.
type Kind string

const (
	KindClassMeeting Kind = "class meeting"
	KindAssignment   Kind = "assignment"
	KindFinal        Kind = "final"
	KindMidterm      Kind = "midterm"
)

// Kinds lists all categories in a stable order.
var Kinds = []Kind{KindClassMeeting, KindAssignment, KindFinal, KindMidterm}

// kindAliases accepts the labels the browser extension and the older
// backend emit ("Final Exam", "Class Meeting", ...) besides the canonical ones.
var kindAliases = map[string]Kind{
	"class meeting": KindClassMeeting,
	"class_meeting": KindClassMeeting,
	"class-meeting": KindClassMeeting,
	"assignment":    KindAssignment,
	"final":         KindFinal,
	"final exam":    KindFinal,
	"final_exam":    KindFinal,
	"midterm":       KindMidterm,
}

// ParseKind resolves a kind label case-insensitively.
func ParseKind(s string) (Kind, error) {
	k, ok := kindAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("%w: unknown event type %q", ErrRejectedInput, s)
	}
	return k, nil
}

// Label is the human-readable name used in calendar summaries.
func (k Kind) Label() string {
	switch k {
	case KindClassMeeting:
		return "Class Meeting"
	case KindAssignment:
		return "Assignment"
	case KindFinal:
		return "Final Exam"
	case KindMidterm:
		return "Midterm"
	default:
		return string(k)
	}
}

func (k Kind) Valid() bool {
	switch k {
	case KindClassMeeting, KindAssignment, KindFinal, KindMidterm:
		return true
	}
	return false
}

// Event is the canonical, validated representation of a calendar-worthy item.
type Event struct {
	Course course.ID
	Kind   Kind

	// Start and End share one calendar date. For assignments End equals
	// Start (the due time) unless the source says otherwise.
	Start time.Time
	End   time.Time

	// Location is nil when the source did not provide one.
	Location *string

	// Title is the assignment name; empty for other kinds.
	Title string

	// Rule is set for class meetings only. Rule.Anchor equals Start.
	Rule *recurrence.Rule
}

// Key identifies an event structurally: two events with the same key are
// duplicates regardless of their other fields.
type Key struct {
	Course string
	Kind   Kind
	Date   string // YYYY/MM/DD
	Start  string // HH:MM:SS
}

func (k Key) String() string {
	return k.Course + "|" + string(k.Kind) + "|" + k.Date + "|" + k.Start
}

func (e Event) Key() Key {
	return Key{
		Course: e.Course.String(),
		Kind:   e.Kind,
		Date:   e.Start.Format(DateLayout),
		Start:  e.Start.Format(TimeLayout),
	}
}

// Summary is the calendar title, e.g. "CPEN 221 - Final Exam".
func (e Event) Summary() string {
	return e.Course.String() + " - " + e.Kind.Label()
}

// LocationOr returns the location or def when it is absent.
func (e Event) LocationOr(def string) string {
	if e.Location == nil {
		return def
	}
	return *e.Location
}

// Equal compares the fields that matter for storage and export.
func (e Event) Equal(o Event) bool {
	if e.Key() != o.Key() || !e.End.Equal(o.End) || e.Title != o.Title {
		return false
	}
	if e.LocationOr("\x00") != o.LocationOr("\x00") {
		return false
	}
	if (e.Rule == nil) != (o.Rule == nil) {
		return false
	}
	if e.Rule != nil {
		return e.Rule.RRule() == o.Rule.RRule() && sameDates(e.Rule.Exceptions, o.Rule.Exceptions)
	}
	return true
}

// Validate checks the header invariants. Normalized events always pass;
// the encoder re-checks because events may come from elsewhere.
func (e Event) Validate() error {
	if e.Course.IsZero() {
		return fmt.Errorf("missing course identifier")
	}
	if !e.Kind.Valid() {
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	if e.Start.IsZero() || e.End.IsZero() {
		return fmt.Errorf("missing start or end time")
	}
	if e.End.Before(e.Start) {
		return fmt.Errorf("end %s before start %s", e.End.Format(TimeLayout), e.Start.Format(TimeLayout))
	}
	if e.Kind == KindFinal && e.Location == nil {
		return fmt.Errorf("final exam without location")
	}
	if e.Kind == KindClassMeeting {
		if e.Rule == nil {
			return fmt.Errorf("class meeting without recurrence rule")
		}
		if err := e.Rule.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func sameDates(a, b []time.Time) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Format(DateLayout) != b[i].Format(DateLayout) {
			return false
		}
	}
	return true
}

// Ptr is a helper for optional string fields.
func Ptr(s string) *string {
	return &s
}
