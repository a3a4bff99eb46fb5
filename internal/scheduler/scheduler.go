// Package scheduler pulls assignments, final exams and midterm
// announcements from the learning platform and feeds them to the
// orchestrator, once on demand or on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"notiflow/internal/announce"
	"notiflow/internal/canvas"
	appLog "notiflow/internal/log"
	"notiflow/internal/midterm"
	"notiflow/internal/model"
	"notiflow/internal/orchestrator"
)

// Source is the learning platform. *canvas.Client implements it.
type Source interface {
	Courses(ctx context.Context) ([]canvas.Course, error)
	Assignments(ctx context.Context, courses []canvas.Course) ([]model.Record, error)
	FinalExams(ctx context.Context, labels []string) ([]model.Record, []error)
	Announcements(ctx context.Context, courses []canvas.Course, days int) ([]announce.Announcement, error)
}

type Options struct {
	Source Source
	// Extractor turns midterm announcements into dates. Nil skips the
	// midterm category entirely.
	Extractor        announce.Extractor
	AnnouncementDays int
	Now              func() time.Time
}

// SyncReport summarizes one sync. Errors are per-source failures that did
// not stop the other categories.
type SyncReport struct {
	StartedAt time.Time             `json:"started_at"`
	Duration  time.Duration         `json:"duration"`
	Courses   []string              `json:"courses"`
	Refreshed []orchestrator.Report `json:"refreshed"`
	Errors    []string              `json:"errors,omitempty"`
}

type Scheduler struct {
	orch *orchestrator.Orchestrator
	opts Options

	mu   sync.Mutex // one sync at a time
	cron *cron.Cron

	lastMu sync.RWMutex
	last   *SyncReport
}

func New(orch *orchestrator.Orchestrator, opts Options) *Scheduler {
	if opts.AnnouncementDays <= 0 {
		opts.AnnouncementDays = 80
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{orch: orch, opts: opts}
}

// fetched is everything pulled from the platform in one sync. A nil slice
// with its error set means that source failed and its category is left as
// stored.
type fetched struct {
	assignments    []model.Record
	assignmentsErr error

	finals    []model.Record
	finalsErr []error

	candidates    []midterm.Candidate
	candidatesErr []error
	midtermsOK    bool
}

// RunOnce performs one full sync. The returned error is set only when the
// course list itself could not be read or ctx was cancelled.
func (s *Scheduler) RunOnce(ctx context.Context) (SyncReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := SyncReport{StartedAt: s.opts.Now()}
	defer func() {
		report.Duration = s.opts.Now().Sub(report.StartedAt)
		s.lastMu.Lock()
		r := report
		s.last = &r
		s.lastMu.Unlock()
	}()

	courses, err := s.opts.Source.Courses(ctx)
	if err != nil {
		report.Errors = append(report.Errors, err.Error())
		return report, fmt.Errorf("list courses: %w", err)
	}
	labels := make([]string, 0, len(courses))
	for _, c := range courses {
		labels = append(labels, c.Label)
	}
	report.Courses = labels
	appLog.Info("scheduler: sync started", "courses", len(courses))

	f, err := s.fetch(ctx, courses, labels)
	if err != nil {
		return report, err
	}

	if f.assignmentsErr != nil {
		report.Errors = append(report.Errors, "assignments: "+f.assignmentsErr.Error())
	} else if err := s.refresh(ctx, &report, func() (orchestrator.Report, error) {
		return s.orch.RefreshAssignments(ctx, f.assignments)
	}); err != nil {
		return report, err
	}

	for _, e := range f.finalsErr {
		if !errors.Is(e, canvas.ErrNoExam) {
			report.Errors = append(report.Errors, "finals: "+e.Error())
		}
	}
	if finalsUsable(f.finals, f.finalsErr) {
		if err := s.refresh(ctx, &report, func() (orchestrator.Report, error) {
			return s.orch.RefreshFinals(ctx, f.finals)
		}); err != nil {
			return report, err
		}
	}

	for _, e := range f.candidatesErr {
		report.Errors = append(report.Errors, "midterms: "+e.Error())
	}
	if f.midtermsOK {
		if err := s.refresh(ctx, &report, func() (orchestrator.Report, error) {
			return s.orch.RefreshMidterms(ctx, f.candidates)
		}); err != nil {
			return report, err
		}
	}

	appLog.Info("scheduler: sync done", "refreshed", len(report.Refreshed), "errors", len(report.Errors))
	return report, nil
}

func (s *Scheduler) fetch(ctx context.Context, courses []canvas.Course, labels []string) (fetched, error) {
	var f fetched
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		f.assignments, f.assignmentsErr = s.opts.Source.Assignments(gctx, courses)
		return nil
	})
	g.Go(func() error {
		f.finals, f.finalsErr = s.opts.Source.FinalExams(gctx, labels)
		return nil
	})
	if s.opts.Extractor != nil {
		g.Go(func() error {
			anns, err := s.opts.Source.Announcements(gctx, courses, s.opts.AnnouncementDays)
			if err != nil {
				f.candidatesErr = []error{err}
				return nil
			}
			f.candidates, f.candidatesErr = announce.Candidates(gctx, s.opts.Extractor, anns, s.orch.Location())
			f.midtermsOK = true
			return nil
		})
	}

	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return f, err
	}
	return f, nil
}

func (s *Scheduler) refresh(ctx context.Context, report *SyncReport, fn func() (orchestrator.Report, error)) error {
	r, err := fn()
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", r.Kind, err))
		return nil
	}
	report.Refreshed = append(report.Refreshed, r)
	return nil
}

// finalsUsable reports whether the exam lookups are trustworthy enough to
// replace the stored finals: every course answered, or at least one exam
// came back.
func finalsUsable(recs []model.Record, errs []error) bool {
	if len(recs) > 0 {
		return true
	}
	for _, e := range errs {
		if !errors.Is(e, canvas.ErrNoExam) {
			return false
		}
	}
	return true
}

// Last returns the most recent sync report, if any.
func (s *Scheduler) Last() (SyncReport, bool) {
	s.lastMu.RLock()
	defer s.lastMu.RUnlock()
	if s.last == nil {
		return SyncReport{}, false
	}
	return *s.last, true
}

// Start runs RunOnce on the cron schedule until Stop is called. Overlapping
// runs are skipped.
func (s *Scheduler) Start(ctx context.Context, schedule string) error {
	logger := cronLogger{}
	c := cron.New(
		cron.WithLocation(s.orch.Location()),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(schedule, func() {
		if _, err := s.RunOnce(ctx); err != nil {
			appLog.Error("scheduler: sync failed", err)
		}
	}); err != nil {
		return fmt.Errorf("refresh schedule %q: %w", schedule, err)
	}
	s.cron = c
	c.Start()
	appLog.Info("scheduler: started", "schedule", schedule)
	return nil
}

// Stop halts the cron loop and waits for a running sync to finish.
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// cronLogger routes cron's own messages into the app log.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}
