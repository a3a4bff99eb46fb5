// Package orchestrator runs refresh cycles: it normalizes fresh input for
// one category, merges midterms, and swaps the category in the store.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"notiflow/internal/ics"
	appLog "notiflow/internal/log"
	"notiflow/internal/midterm"
	"notiflow/internal/model"
	"notiflow/internal/normalize"
	"notiflow/internal/store"
)

// Input carries the fresh data of one category. Records feed class
// meetings, assignments and finals; Candidates feed midterms.
type Input struct {
	Records    []model.Record      `json:"records,omitempty"`
	Candidates []midterm.Candidate `json:"candidates,omitempty"`
}

// Report describes one refresh.
type Report struct {
	Kind       model.Kind        `json:"kind"`
	Stored     int               `json:"stored"`
	Rejections []model.Rejection `json:"rejections"`
	Warnings   []model.Warning   `json:"warnings"`
	// Midterm is set for midterm refreshes only.
	Midterm *midterm.Report `json:"midterm,omitempty"`
}

type Orchestrator struct {
	store      *store.Store
	normalizer *normalize.Normalizer
	merger     *midterm.Merger
	encoder    *ics.Encoder

	// mu makes each refresh, including the midterm read-merge-write,
	// atomic with respect to the others.
	mu sync.Mutex
}

func New(st *store.Store, n *normalize.Normalizer, m *midterm.Merger, enc *ics.Encoder) *Orchestrator {
	return &Orchestrator{store: st, normalizer: n, merger: m, encoder: enc}
}

// Refresh replaces one category with the given input. Bad items are
// reported and skipped; the error is only for failures that leave the
// category untouched (cancelled ctx, storage failure).
func (o *Orchestrator) Refresh(ctx context.Context, kind model.Kind, in Input) (Report, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	report := Report{Kind: kind}
	var events []model.Event

	switch kind {
	case model.KindClassMeeting, model.KindAssignment, model.KindFinal:
		res := o.normalizer.NormalizeAll(in.Records, kind)
		events = res.Events
		report.Rejections = res.Rejections
		report.Warnings = res.Warnings
	case model.KindMidterm:
		existing, err := o.store.Category(ctx, model.KindMidterm)
		if err != nil {
			return report, err
		}
		res := o.merger.Merge(existing, in.Candidates)
		events = res.Events
		report.Rejections = res.Report.Rejected
		report.Midterm = &res.Report
	default:
		return report, fmt.Errorf("%w: unknown category %q", model.ErrRejectedInput, kind)
	}

	if err := ctx.Err(); err != nil {
		appLog.Warn("orchestrator: refresh abandoned", "kind", kind, "reason", err)
		return report, err
	}
	dups, err := o.store.Replace(ctx, kind, events)
	if err != nil {
		return report, err
	}
	report.Rejections = append(report.Rejections, dups...)
	report.Stored = len(events) - len(dups)

	appLog.Info("orchestrator: refresh done", "kind", kind, "stored", report.Stored,
		"rejected", len(report.Rejections), "warnings", len(report.Warnings))
	return report, nil
}

// RefreshClassMeetings is Refresh for user-authored class meetings.
func (o *Orchestrator) RefreshClassMeetings(ctx context.Context, recs []model.Record) (Report, error) {
	return o.Refresh(ctx, model.KindClassMeeting, Input{Records: recs})
}

func (o *Orchestrator) RefreshAssignments(ctx context.Context, recs []model.Record) (Report, error) {
	return o.Refresh(ctx, model.KindAssignment, Input{Records: recs})
}

func (o *Orchestrator) RefreshFinals(ctx context.Context, recs []model.Record) (Report, error) {
	return o.Refresh(ctx, model.KindFinal, Input{Records: recs})
}

func (o *Orchestrator) RefreshMidterms(ctx context.Context, cands []midterm.Candidate) (Report, error) {
	return o.Refresh(ctx, model.KindMidterm, Input{Candidates: cands})
}

// AddClassForm normalizes a hand-entered class and appends it to the
// stored class meetings.
func (o *Orchestrator) AddClassForm(ctx context.Context, form normalize.ClassForm) (Report, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	report := Report{Kind: model.KindClassMeeting}
	ev, warnings, err := o.normalizer.NormalizeClassForm(form)
	report.Warnings = warnings
	if err != nil {
		report.Rejections = append(report.Rejections, model.Rejection{Item: form, Reason: err})
		return report, nil
	}

	events, err := o.store.Category(ctx, model.KindClassMeeting)
	if err != nil {
		return report, err
	}
	dups, err := o.store.Replace(ctx, model.KindClassMeeting, append(events, ev))
	if err != nil {
		return report, err
	}
	report.Rejections = append(report.Rejections, dups...)
	report.Stored = len(events) + 1 - len(dups)
	return report, nil
}

// DeleteClassMeeting removes one class meeting by key.
func (o *Orchestrator) DeleteClassMeeting(ctx context.Context, key model.Key) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.store.DeleteClassMeeting(ctx, key)
}

// Events returns one stored category.
func (o *Orchestrator) Events(ctx context.Context, kind model.Kind) ([]model.Event, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown category %q", model.ErrRejectedInput, kind)
	}
	return o.store.Category(ctx, kind)
}

// Export encodes the whole store.
func (o *Orchestrator) Export(ctx context.Context) (string, ics.EncodeReport, error) {
	events, err := o.store.All(ctx)
	if err != nil {
		return "", ics.EncodeReport{}, err
	}
	text, report := o.encoder.Encode(events)
	return text, report, nil
}

// Occurrences expands the whole store into [from, to).
func (o *Orchestrator) Occurrences(ctx context.Context, from, to time.Time) ([]model.Occurrence, error) {
	if !from.Before(to) {
		return nil, fmt.Errorf("%w: empty window %s..%s", model.ErrRejectedInput, from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	events, err := o.store.All(ctx)
	if err != nil {
		return nil, err
	}
	return model.Occurrences(events, from, to), nil
}

// Location is the timezone input is interpreted in.
func (o *Orchestrator) Location() *time.Location {
	return o.normalizer.Location()
}
