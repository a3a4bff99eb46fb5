package midterm

import (
	"errors"
	"reflect"
	"testing"
	"time"
	_ "time/tzdata"

	"notiflow/internal/model"
	"notiflow/internal/normalize"
)

func newTestMerger(t *testing.T, order Order) *Merger {
	t.Helper()
	loc, err := time.LoadLocation("America/Vancouver")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	return NewMerger(normalize.New(normalize.Options{Location: loc}), order)
}

func published(day int) time.Time {
	return time.Date(2025, time.October, day, 9, 0, 0, 0, time.UTC)
}

func TestMergeReplacesAcrossCycles(t *testing.T) {
	m := newTestMerger(t, OrderAsSupplied)

	cycle1 := m.Merge(nil, []Candidate{{
		Course: "MATH 253", PublishedAt: published(1),
		Spans: []Span{{Date: "2025/10/15", Begin: "12:00:00", End: "13:00:00"}},
	}})
	if len(cycle1.Events) != 1 || !reflect.DeepEqual(cycle1.Report.Updated, []string{"MATH 253"}) {
		t.Fatalf("cycle 1 = %+v", cycle1)
	}

	cycle2 := m.Merge(cycle1.Events, []Candidate{{
		Course: "MATH 253", PublishedAt: published(8),
		Spans: []Span{{Date: "2025/10/22", Begin: "12:00:00", End: "13:00:00"}},
	}})
	if len(cycle2.Events) != 1 {
		t.Fatalf("midterms after cycle 2 = %d, want 1", len(cycle2.Events))
	}
	if got := cycle2.Events[0].Start.Format(model.DateLayout); got != "2025/10/22" {
		t.Errorf("midterm date = %s, want 2025/10/22", got)
	}
	if cycle2.Events[0].Location != nil {
		t.Errorf("midterm location = %q, want absent", *cycle2.Events[0].Location)
	}
}

func TestMergeIsIdempotent(t *testing.T) {
	m := newTestMerger(t, OrderAsSupplied)
	batch := []Candidate{
		{Course: "MATH 253", PublishedAt: published(1), Spans: []Span{{Date: "2025/10/15"}}},
		{Course: "CPSC 210", PublishedAt: published(2), Spans: []Span{{Date: "2025/10/20", Begin: "18:00", End: "19:30"}}},
	}

	first := m.Merge(nil, batch)
	second := m.Merge(first.Events, batch)

	if len(second.Report.Updated) != 0 {
		t.Errorf("second merge updated %v", second.Report.Updated)
	}
	if !reflect.DeepEqual(second.Report.Unchanged, []string{"MATH 253", "CPSC 210"}) {
		t.Errorf("unchanged = %v", second.Report.Unchanged)
	}
	if len(second.Events) != len(first.Events) {
		t.Fatalf("events = %d, want %d", len(second.Events), len(first.Events))
	}
	for i := range first.Events {
		if !first.Events[i].Equal(second.Events[i]) {
			t.Errorf("event %d changed: %+v -> %+v", i, first.Events[i], second.Events[i])
		}
	}
}

func TestMergeSameCycleFirstWins(t *testing.T) {
	m := newTestMerger(t, OrderAsSupplied)
	res := m.Merge(nil, []Candidate{
		{Course: "MATH 253", PublishedAt: published(1), Spans: []Span{{Date: "2025/10/15"}}},
		{Course: "MATH_253", PublishedAt: published(5), Spans: []Span{{Date: "2025/10/29"}}},
	})

	if len(res.Events) != 1 {
		t.Fatalf("events = %d, want 1", len(res.Events))
	}
	if got := res.Events[0].Start.Format(model.DateLayout); got != "2025/10/15" {
		t.Errorf("winner date = %s", got)
	}
	if len(res.Report.Rejected) != 1 || !errors.Is(res.Report.Rejected[0].Reason, ErrSuperseded) {
		t.Errorf("rejected = %v", res.Report.Rejected)
	}
}

func TestMergeOrder(t *testing.T) {
	batch := []Candidate{
		{Course: "MATH 253", PublishedAt: published(5), Spans: []Span{{Date: "2025/10/29"}}},
		{Course: "MATH 253", PublishedAt: published(9), Spans: []Span{{Date: "2025/11/05"}}},
		{Course: "MATH 253", PublishedAt: published(1), Spans: []Span{{Date: "2025/10/15"}}},
	}
	tests := []struct {
		order Order
		want  string
	}{
		{OrderAsSupplied, "2025/10/29"},
		{OrderNewestFirst, "2025/11/05"},
		{OrderOldestFirst, "2025/10/15"},
	}
	for _, tt := range tests {
		t.Run(tt.order.String(), func(t *testing.T) {
			m := newTestMerger(t, tt.order)
			res := m.Merge(nil, append([]Candidate(nil), batch...))
			if got := res.Events[0].Start.Format(model.DateLayout); got != tt.want {
				t.Errorf("winner = %s, want %s", got, tt.want)
			}
			if len(res.Report.Rejected) != 2 {
				t.Errorf("rejected = %d, want 2", len(res.Report.Rejected))
			}
		})
	}
}

func TestMergeSpanDefaults(t *testing.T) {
	m := newTestMerger(t, OrderAsSupplied)
	res := m.Merge(nil, []Candidate{
		{Course: "CPEN 211", Spans: []Span{{Date: "2025/10/15", Begin: "00:00:00"}}},
	})
	if len(res.Events) != 1 {
		t.Fatalf("events = %+v", res)
	}
	ev := res.Events[0]
	if ev.Start.Format(model.TimeLayout) != "12:00:00" || ev.End.Format(model.TimeLayout) != "13:00:00" {
		t.Errorf("slot = %s-%s, want 12:00-13:00", ev.Start.Format(model.TimeLayout), ev.End.Format(model.TimeLayout))
	}
}

func TestMergeRejectsAndKeepsUntouched(t *testing.T) {
	m := newTestMerger(t, OrderAsSupplied)
	existing := m.Merge(nil, []Candidate{
		{Course: "PHYS 157", Spans: []Span{{Date: "2025/10/10"}}},
	}).Events

	res := m.Merge(existing, []Candidate{
		{Course: "Midterm info", Spans: []Span{{Date: "2025/10/15"}}},
		{Course: "MATH 253"},
		{Course: "MATH 253", Spans: []Span{{Date: "not a date"}, {Date: "2025/10/16"}}},
		{Course: "CPSC 110", Spans: []Span{{Date: "2025-10-17"}}},
	})

	if !reflect.DeepEqual(res.Report.Untouched, []string{"PHYS 157"}) {
		t.Errorf("untouched = %v", res.Report.Untouched)
	}
	if !reflect.DeepEqual(res.Report.Updated, []string{"MATH 253"}) {
		t.Errorf("updated = %v", res.Report.Updated)
	}
	if len(res.Report.Rejected) != 3 {
		t.Fatalf("rejected = %v", res.Report.Rejected)
	}
	if !errors.Is(res.Report.Rejected[0].Reason, model.ErrRejectedInput) {
		t.Errorf("bad course reason = %v", res.Report.Rejected[0].Reason)
	}
	for _, r := range res.Report.Rejected[1:] {
		if !errors.Is(r.Reason, ErrNoSpan) {
			t.Errorf("reason = %v, want ErrNoSpan", r.Reason)
		}
	}
	if len(res.Events) != 2 || res.Events[0].Course.String() != "MATH 253" || res.Events[1].Course.String() != "PHYS 157" {
		t.Errorf("events = %+v", res.Events)
	}
}

func TestMergeStoredCourseWithOnlyRejectedCandidates(t *testing.T) {
	m := newTestMerger(t, OrderAsSupplied)
	existing := m.Merge(nil, []Candidate{
		{Course: "PHYS 157", Spans: []Span{{Date: "2025/10/10"}}},
	}).Events

	tests := []struct {
		name       string
		candidates []Candidate
	}{
		{"no spans", []Candidate{{Course: "PHYS 157"}}},
		{"unparseable date", []Candidate{{Course: "PHYS157", Spans: []Span{{Date: "Oct 15"}}}}},
		{"every candidate bad", []Candidate{
			{Course: "PHYS 157", Spans: []Span{{Date: "2025-10-15"}}},
			{Course: "PHYS 157", Spans: []Span{{Date: "2025/10/16", Begin: "noon"}}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := m.Merge(existing, tt.candidates)
			if !reflect.DeepEqual(res.Report.Untouched, []string{"PHYS 157"}) {
				t.Errorf("untouched = %v", res.Report.Untouched)
			}
			if len(res.Report.Updated) != 0 || len(res.Report.Unchanged) != 0 {
				t.Errorf("updated = %v, unchanged = %v", res.Report.Updated, res.Report.Unchanged)
			}
			if len(res.Report.Rejected) != len(tt.candidates) {
				t.Errorf("rejected = %v", res.Report.Rejected)
			}
			if len(res.Events) != 1 || !res.Events[0].Equal(existing[0]) {
				t.Errorf("events = %+v, want stored midterm kept", res.Events)
			}
		})
	}
}

func TestParseOrder(t *testing.T) {
	for _, o := range []Order{OrderAsSupplied, OrderNewestFirst, OrderOldestFirst} {
		got, err := ParseOrder(o.String())
		if err != nil || got != o {
			t.Errorf("ParseOrder(%q) = %v, %v", o.String(), got, err)
		}
	}
	if got, _ := ParseOrder(""); got != OrderAsSupplied {
		t.Errorf("default order = %v", got)
	}
	if _, err := ParseOrder("random"); err == nil {
		t.Error("ParseOrder(random) succeeded")
	}
}
