package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"notiflow/internal/course"
	"notiflow/internal/credentials"
	"notiflow/internal/ics"
	appLog "notiflow/internal/log"
	"notiflow/internal/model"
	"notiflow/internal/orchestrator"
	"notiflow/internal/scheduler"
	"notiflow/internal/web"
)

var CLI struct {
	Version kong.VersionFlag
	Config  string `help:"Config file path." type:"path" default:"~/.config/notiflow/config.yaml"`
	Debug   bool   `help:"Enable debug logging."`

	Serve       ServeCmd       `cmd:"" help:"Serve the calendar feed and API, syncing on the configured schedule."`
	Sync        SyncCmd        `cmd:"" help:"Pull assignments, finals and midterms from Canvas once."`
	Refresh     RefreshCmd     `cmd:"" help:"Replace one category from a JSON file."`
	Export      ExportCmd      `cmd:"" help:"Write the calendar as iCalendar text."`
	Occurrences OccurrencesCmd `cmd:"" help:"List event occurrences in a date window."`
	ParseCourse ParseCourseCmd `cmd:"" name:"parse-course" help:"Validate course identifiers."`
}

func main() {
	kctx := kong.Parse(&CLI,
		kong.Name("notiflow"),
		kong.Description("Course calendar engine: normalizes LMS events and publishes an iCalendar feed."),
		kong.UsageOnError(),
		kong.Vars{"version": "0.1.0"},
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	kctx.BindTo(ctx, (*context.Context)(nil))
	if err := kctx.Run(&Globals{ConfigPath: CLI.Config, Debug: CLI.Debug}); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// Globals reaches every command's Run.
type Globals struct {
	ConfigPath string
	Debug      bool
}

func (g *Globals) open() (*App, error) {
	return newApp(g.ConfigPath, g.Debug)
}

type ServeCmd struct {
	Listen string `help:"HTTP listen address (overrides config)."`
	NoSync bool   `help:"Do not sync with Canvas; serve stored events only."`
}

func (c *ServeCmd) Run(ctx context.Context, g *Globals) error {
	app, err := g.open()
	if err != nil {
		return err
	}
	defer app.Close()

	if c.Listen != "" {
		app.Config.Listen = c.Listen
	}

	var syncer web.Syncer
	if !c.NoSync {
		sched, err := app.Scheduler()
		switch {
		case errors.Is(err, credentials.ErrNotFound):
			appLog.Warn("no Canvas token; scheduled sync disabled", "hint", err.Error())
		case err != nil:
			return err
		default:
			if err := sched.Start(ctx, app.Config.RefreshCron); err != nil {
				return err
			}
			defer sched.Stop()
			syncer = sched
		}
	}

	appLog.Info("notiflow starting", "listen", app.Config.Listen, "sync", syncer != nil)
	err = web.NewServer(app.Config, app.Orch, syncer).Run(ctx)
	appLog.Info("notiflow exiting")
	return err
}

type SyncCmd struct{}

func (c *SyncCmd) Run(ctx context.Context, g *Globals) error {
	app, err := g.open()
	if err != nil {
		return err
	}
	defer app.Close()

	sched, err := app.Scheduler()
	if err != nil {
		return err
	}
	report, err := sched.RunOnce(ctx)
	printSyncReport(os.Stdout, report)
	return err
}

type RefreshCmd struct {
	Category string `arg:"" help:"class-meeting, assignment, final or midterm."`
	File     string `arg:"" type:"existingfile" help:"JSON array of records (or midterm candidates)."`
}

func (c *RefreshCmd) Run(ctx context.Context, g *Globals) error {
	kind, err := model.ParseKind(c.Category)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(c.File)
	if err != nil {
		return err
	}

	var in orchestrator.Input
	if kind == model.KindMidterm {
		err = json.Unmarshal(data, &in.Candidates)
	} else {
		err = json.Unmarshal(data, &in.Records)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", c.File, err)
	}

	app, err := g.open()
	if err != nil {
		return err
	}
	defer app.Close()

	report, err := app.Orch.Refresh(ctx, kind, in)
	if err != nil {
		return err
	}
	printRefreshReport(os.Stdout, report)
	return nil
}

type ExportCmd struct {
	Output string `short:"o" type:"path" help:"Write to this file instead of stdout."`
	Verify bool   `help:"Decode the output again and check every event survived."`
}

func (c *ExportCmd) Run(ctx context.Context, g *Globals) error {
	app, err := g.open()
	if err != nil {
		return err
	}
	defer app.Close()

	text, report, err := app.Orch.Export(ctx)
	if err != nil {
		return err
	}
	for _, s := range report.Skipped {
		appLog.Warn("export: skipped event", "reason", s.Error())
	}

	if c.Verify {
		decoded, err := ics.DecodeString(text)
		if err != nil {
			return fmt.Errorf("verify: %w", err)
		}
		if len(decoded) != report.Encoded {
			return fmt.Errorf("verify: encoded %d events, decoded %d", report.Encoded, len(decoded))
		}
		appLog.Info("export verified", "events", len(decoded))
	}

	if c.Output == "" {
		_, err = io.WriteString(os.Stdout, text)
		return err
	}
	return os.WriteFile(c.Output, []byte(text), 0o644)
}

type OccurrencesCmd struct {
	From string `help:"First day (YYYY-MM-DD), inclusive." default:"today"`
	Days int    `help:"Window length in days." default:"7"`
}

func (c *OccurrencesCmd) Run(ctx context.Context, g *Globals) error {
	app, err := g.open()
	if err != nil {
		return err
	}
	defer app.Close()

	loc := app.Orch.Location()
	var from time.Time
	if c.From == "today" {
		now := time.Now().In(loc)
		from = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	} else if from, err = time.ParseInLocation(time.DateOnly, c.From, loc); err != nil {
		return fmt.Errorf("invalid --from, use YYYY-MM-DD or 'today': %w", err)
	}

	occs, err := app.Orch.Occurrences(ctx, from, from.AddDate(0, 0, c.Days))
	if err != nil {
		return err
	}
	if len(occs) == 0 {
		fmt.Println("No events")
		return nil
	}
	for _, o := range occs {
		line := fmt.Sprintf("%s  %s-%s  %s", o.Start.Format("Mon 2006-01-02"), o.Start.Format("15:04"), o.End.Format("15:04"), o.Summary)
		if o.Title != "" {
			line += " (" + o.Title + ")"
		}
		if o.Location != "" {
			line += " @ " + o.Location
		}
		fmt.Println(line)
	}
	return nil
}

type ParseCourseCmd struct {
	Raw []string `arg:"" help:"Identifiers to check."`
}

func (c *ParseCourseCmd) Run() error {
	var bad int
	for _, raw := range c.Raw {
		id, err := course.Parse(raw)
		if err != nil {
			fmt.Printf("%q\tinvalid\n", raw)
			bad++
			continue
		}
		fmt.Printf("%q\t%s\n", raw, id)
	}
	if bad > 0 {
		return fmt.Errorf("%d of %d identifiers invalid", bad, len(c.Raw))
	}
	return nil
}

func printRefreshReport(w io.Writer, r orchestrator.Report) {
	fmt.Fprintf(w, "%s: %d stored, %d rejected, %d warnings\n", r.Kind.Label(), r.Stored, len(r.Rejections), len(r.Warnings))
	for _, rej := range r.Rejections {
		fmt.Fprintf(w, "  rejected: %s\n", rej.Error())
	}
	for _, warn := range r.Warnings {
		fmt.Fprintf(w, "  warning: %s\n", warn.Message)
	}
	if m := r.Midterm; m != nil {
		printCourses(w, "updated", m.Updated)
		printCourses(w, "unchanged", m.Unchanged)
		printCourses(w, "untouched", m.Untouched)
	}
}

func printCourses(w io.Writer, label string, courses []string) {
	if len(courses) > 0 {
		fmt.Fprintf(w, "  %s: %s\n", label, strings.Join(courses, ", "))
	}
}

func printSyncReport(w io.Writer, r scheduler.SyncReport) {
	fmt.Fprintf(w, "synced %d courses in %s\n", len(r.Courses), r.Duration.Round(time.Millisecond))
	for _, rep := range r.Refreshed {
		printRefreshReport(w, rep)
	}
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  error: %s\n", e)
	}
}
