// Package midterm reconciles midterm candidates extracted from course
// announcements with the midterms already on the calendar.
package midterm

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"notiflow/internal/course"
	appLog "notiflow/internal/log"
	"notiflow/internal/model"
	"notiflow/internal/normalize"
)

var (
	// ErrSuperseded: an earlier candidate for the same course already won
	// this cycle.
	ErrSuperseded = errors.New("superseded by an earlier candidate")
	// ErrNoSpan: none of the candidate's spans is a usable date and time.
	ErrNoSpan = errors.New("no usable span")
)

const (
	defaultBegin    = 12 * time.Hour
	defaultDuration = time.Hour
)

// Span is one date/time range found in an announcement, in exchange-schema
// formats. Begin and End may be empty.
type Span struct {
	Date  string `json:"date"`
	Begin string `json:"begin_date_time,omitempty"`
	End   string `json:"end_date_time,omitempty"`
}

// Candidate is an untrusted midterm proposal. Course is raw and still has
// to pass the identifier grammar.
type Candidate struct {
	Course      string    `json:"course"`
	Text        string    `json:"text,omitempty"`
	PublishedAt time.Time `json:"published_at"`
	Spans       []Span    `json:"spans"`
}

// Order decides which candidate of a course is tried first.
type Order int

const (
	OrderAsSupplied Order = iota
	OrderNewestFirst
	OrderOldestFirst
)

var orderNames = map[Order]string{
	OrderAsSupplied:  "as-supplied",
	OrderNewestFirst: "newest-first",
	OrderOldestFirst: "oldest-first",
}

func (o Order) String() string {
	if s, ok := orderNames[o]; ok {
		return s
	}
	return fmt.Sprintf("Order(%d)", int(o))
}

// ParseOrder accepts the names printed by Order.String. Empty means
// OrderAsSupplied.
func ParseOrder(s string) (Order, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return OrderAsSupplied, nil
	}
	for o, name := range orderNames {
		if name == s {
			return o, nil
		}
	}
	return 0, fmt.Errorf("unknown midterm order %q", s)
}

// Report summarizes one merge. Course lists hold canonical identifiers.
type Report struct {
	Updated   []string          `json:"updated"`
	Unchanged []string          `json:"unchanged"`
	Untouched []string          `json:"untouched"`
	Rejected  []model.Rejection `json:"rejected"`
}

type Result struct {
	Events []model.Event
	Report Report
}

type Merger struct {
	normalizer *normalize.Normalizer
	order      Order
}

func NewMerger(n *normalize.Normalizer, order Order) *Merger {
	return &Merger{normalizer: n, order: order}
}

type group struct {
	course     string
	candidates []Candidate
}

// Merge applies one cycle of candidates to the existing midterms and
// returns the new midterm category. Each course keeps at most one midterm.
// Merge is pure: calling it again with the same inputs against its own
// result reports every course as unchanged.
func (m *Merger) Merge(existing []model.Event, candidates []Candidate) Result {
	var res Result

	current := make(map[string]model.Event, len(existing))
	var courses []string
	for _, ev := range existing {
		c := ev.Course.String()
		if _, dup := current[c]; dup {
			appLog.Warn("midterm: dropping extra stored midterm", "course", c, "date", ev.Start.Format(model.DateLayout))
			continue
		}
		current[c] = ev
		courses = append(courses, c)
	}

	var groups []*group
	byCourse := make(map[string]*group)
	decided := make(map[string]bool)
	for _, cand := range candidates {
		id, err := course.Parse(cand.Course)
		if err != nil {
			res.Report.Rejected = append(res.Report.Rejected, model.Rejection{
				Item:   cand,
				Reason: fmt.Errorf("%w: %w", model.ErrRejectedInput, err),
			})
			continue
		}
		g, ok := byCourse[id.String()]
		if !ok {
			g = &group{course: id.String()}
			byCourse[g.course] = g
			groups = append(groups, g)
		}
		g.candidates = append(g.candidates, cand)
	}

	for _, g := range groups {
		m.sort(g.candidates)

		var winner *model.Event
		for _, cand := range g.candidates {
			if winner != nil {
				res.Report.Rejected = append(res.Report.Rejected, model.Rejection{
					Item:   cand,
					Reason: fmt.Errorf("%w: %s", ErrSuperseded, g.course),
				})
				continue
			}
			ev, err := m.candidateEvent(g.course, cand)
			if err != nil {
				res.Report.Rejected = append(res.Report.Rejected, model.Rejection{Item: cand, Reason: err})
				continue
			}
			winner = &ev
		}
		if winner == nil {
			continue
		}
		decided[g.course] = true

		old, had := current[g.course]
		switch {
		case had && old.Equal(*winner):
			res.Report.Unchanged = append(res.Report.Unchanged, g.course)
		default:
			if !had {
				courses = append(courses, g.course)
			}
			current[g.course] = *winner
			res.Report.Updated = append(res.Report.Updated, g.course)
			appLog.Info("midterm: updated", "course", g.course, "start", winner.Start.Format(time.DateTime))
		}
	}

	// A course whose candidates were all rejected keeps its stored midterm.
	for _, c := range courses {
		if !decided[c] {
			res.Report.Untouched = append(res.Report.Untouched, c)
		}
	}

	slices.Sort(courses)
	res.Events = make([]model.Event, 0, len(courses))
	for _, c := range courses {
		res.Events = append(res.Events, current[c])
	}
	return res
}

func (m *Merger) sort(cands []Candidate) {
	switch m.order {
	case OrderNewestFirst:
		slices.SortStableFunc(cands, func(a, b Candidate) int {
			return b.PublishedAt.Compare(a.PublishedAt)
		})
	case OrderOldestFirst:
		slices.SortStableFunc(cands, func(a, b Candidate) int {
			return a.PublishedAt.Compare(b.PublishedAt)
		})
	}
}

// candidateEvent returns the event for the first span that normalizes.
func (m *Merger) candidateEvent(courseID string, cand Candidate) (model.Event, error) {
	if len(cand.Spans) == 0 {
		return model.Event{}, ErrNoSpan
	}
	var lastErr error
	for _, span := range cand.Spans {
		rec, err := spanRecord(courseID, span)
		if err == nil {
			var ev model.Event
			if ev, _, err = m.normalizer.Normalize(rec, model.KindMidterm); err == nil {
				return ev, nil
			}
		}
		lastErr = err
	}
	return model.Event{}, fmt.Errorf("%w: %w", ErrNoSpan, lastErr)
}

// spanRecord fills in the missing times: no begin (or midnight) means noon,
// no end (or one not after begin) means one hour later.
func spanRecord(courseID string, span Span) (model.Record, error) {
	begin := defaultBegin
	if s := strings.TrimSpace(span.Begin); s != "" {
		b, err := model.ParseClock(s)
		if err != nil {
			return model.Record{}, fmt.Errorf("%w: invalid begin %q", model.ErrRejectedInput, span.Begin)
		}
		if b != 0 {
			begin = b
		}
	}
	end := begin + defaultDuration
	if s := strings.TrimSpace(span.End); s != "" {
		if e, err := model.ParseClock(s); err == nil && e > begin {
			end = e
		}
	}
	return model.Record{
		Course:    courseID,
		EventType: string(model.KindMidterm),
		Date:      strings.TrimSpace(span.Date),
		Begin:     clock(begin),
		End:       clock(end),
	}, nil
}

func clock(d time.Duration) string {
	if d >= 24*time.Hour {
		d = 24*time.Hour - time.Second
	}
	return time.Time{}.Add(d).Format(model.TimeLayout)
}
