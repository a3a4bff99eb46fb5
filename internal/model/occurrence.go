package model

import (
	"slices"
	"time"
)

// Occurrence represents a single concrete instance of an event (after
// recurrence expansion).
type Occurrence struct {
	Key Key `json:"-"`

	// InstanceKey uniquely identifies a single occurrence of a recurring
	// event, derived from the local start time.
	InstanceKey string `json:"instance_key"`

	Course   string    `json:"course"`
	Kind     Kind      `json:"kind"`
	Summary  string    `json:"summary"`
	Location string    `json:"location,omitempty"`
	Title    string    `json:"title,omitempty"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
}

// Occurrences expands events into concrete instances inside [from, to),
// sorted by start time. Single events are included when they overlap the
// window; class meetings are expanded through their rule.
func Occurrences(events []Event, from, to time.Time) []Occurrence {
	out := make([]Occurrence, 0)
	for _, ev := range events {
		if ev.Rule == nil {
			if timeRangesOverlap(ev.Start, ev.End, from, to) {
				out = append(out, makeOccurrence(ev, ev.Start, ev.End))
			}
			continue
		}
		dur := ev.End.Sub(ev.Start)
		for start := range ev.Rule.Expand(from, to) {
			out = append(out, makeOccurrence(ev, start, start.Add(dur)))
		}
	}
	slices.SortStableFunc(out, func(a, b Occurrence) int {
		return a.Start.Compare(b.Start)
	})
	return out
}

func makeOccurrence(ev Event, start, end time.Time) Occurrence {
	return Occurrence{
		Key:         ev.Key(),
		InstanceKey: start.Format(time.RFC3339),
		Course:      ev.Course.String(),
		Kind:        ev.Kind,
		Summary:     ev.Summary(),
		Location:    ev.LocationOr(""),
		Title:       ev.Title,
		Start:       start,
		End:         end,
	}
}

// timeRangesOverlap treats [aStart, aEnd] as closed (a zero-length
// assignment still counts) and [bStart, bEnd) as half-open.
func timeRangesOverlap(aStart, aEnd, bStart, bEnd time.Time) bool {
	if aEnd.Before(bStart) {
		return false
	}
	if !aStart.Before(bEnd) {
		return false
	}
	return true
}
