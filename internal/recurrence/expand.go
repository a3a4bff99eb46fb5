package recurrence

import (
	"iter"
	"time"

	"github.com/teambition/rrule-go"
)

// Expand yields the rule's occurrences within the half-open window
// [from, to) in chronological order. Each occurrence carries the anchor's
// time of day and location.
//
// The sequence is lazy and restartable: every range over it builds a fresh
// iterator, and nothing is materialized beyond what the caller consumes.
// An invalid rule or an empty window yields nothing.
func (r Rule) Expand(from, to time.Time) iter.Seq[time.Time] {
	return func(yield func(time.Time) bool) {
		if r.Validate() != nil || !to.After(from) {
			return
		}
		set, err := r.set(to)
		if err != nil {
			return
		}

		next := set.Iterator()
		for {
			t, ok := next()
			if !ok || !t.Before(to) {
				return
			}
			if t.Before(from) {
				continue
			}
			if !yield(t) {
				return
			}
		}
	}
}

// Dates collects Expand into a slice.
func (r Rule) Dates(from, to time.Time) []time.Time {
	var out []time.Time
	for t := range r.Expand(from, to) {
		out = append(out, t)
	}
	return out
}

// set builds an rrule.Set bounded by `to` (and Until, when earlier) with
// one EXDATE per exception, aligned to the anchor's time of day so the
// set's exact-instant matching applies.
func (r Rule) set(to time.Time) (*rrule.Set, error) {
	opt := r.options()
	opt.Dtstart = r.Anchor

	bound := to.In(r.Anchor.Location())
	if u := r.untilInstant(); !u.IsZero() && u.Before(bound) {
		bound = u
	}
	opt.Until = bound

	rr, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, err
	}

	set := &rrule.Set{}
	set.RRule(rr)
	loc := r.Anchor.Location()
	for _, ex := range r.Exceptions {
		y, m, d := ex.Date()
		set.ExDate(time.Date(y, m, d, r.Anchor.Hour(), r.Anchor.Minute(), r.Anchor.Second(), 0, loc))
	}
	return set, nil
}
