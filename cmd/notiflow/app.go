package main

import (
	"errors"
	"fmt"

	"notiflow/internal/announce"
	"notiflow/internal/canvas"
	"notiflow/internal/config"
	"notiflow/internal/credentials"
	"notiflow/internal/ics"
	appLog "notiflow/internal/log"
	"notiflow/internal/midterm"
	"notiflow/internal/normalize"
	"notiflow/internal/orchestrator"
	"notiflow/internal/scheduler"
	"notiflow/internal/store"
)

// App is the wired object graph shared by every command.
type App struct {
	Config *config.Config
	Orch   *orchestrator.Orchestrator
	kv     store.KV
}

func newApp(configPath string, debug bool) (*App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	level := appLog.LevelInfo
	if debug || cfg.Log.Debug {
		level = appLog.LevelDebug
	}
	if err := appLog.Init(appLog.Config{Level: level, File: cfg.Log.File}); err != nil {
		return nil, fmt.Errorf("init log: %w", err)
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	termStart, termEnd, err := cfg.TermBounds(loc)
	if err != nil {
		return nil, err
	}
	order, err := midterm.ParseOrder(cfg.MidtermOrder)
	if err != nil {
		return nil, err
	}

	var kv store.KV
	if cfg.StorePath == "memory" {
		kv = store.NewMemoryKV()
	} else if kv, err = store.OpenBolt(cfg.StorePath); err != nil {
		return nil, err
	}

	n := normalize.New(normalize.Options{Location: loc, TermStart: termStart, TermEnd: termEnd})
	orch := orchestrator.New(
		store.New(kv, n),
		n,
		midterm.NewMerger(n, order),
		&ics.Encoder{Location: loc, CalendarName: cfg.CalendarName},
	)

	appLog.Debug("effective config",
		"timezone", cfg.Timezone,
		"term", cfg.Term.Name,
		"store", cfg.StorePath,
		"refresh", cfg.RefreshCron,
		"midterm_order", order,
	)
	return &App{Config: cfg, Orch: orch, kv: kv}, nil
}

// Scheduler builds the platform sync. It fails with credentials.ErrNotFound
// when no Canvas token is available.
func (a *App) Scheduler() (*scheduler.Scheduler, error) {
	token, err := credentials.Lookup(credentials.CanvasToken)
	if err != nil {
		return nil, err
	}
	client, err := canvas.New(canvas.Options{
		BaseURL:      a.Config.Canvas.BaseURL,
		Token:        token,
		Location:     a.Orch.Location(),
		FinalExamURL: a.Config.Canvas.FinalExamURL,
		CacheDir:     a.Config.Canvas.CacheDir,
	})
	if err != nil {
		return nil, err
	}

	opts := scheduler.Options{Source: client, AnnouncementDays: a.Config.Canvas.AnnouncementDays}
	if url := a.Config.Extractor.URL; url != "" {
		extractorToken, err := credentials.Lookup(credentials.ExtractorToken)
		if err != nil && !errors.Is(err, credentials.ErrNotFound) {
			return nil, err
		}
		opts.Extractor = announce.NewHTTPExtractor(url, extractorToken, a.Config.Extractor.Timeout)
	} else {
		appLog.Info("no extractor configured; midterms are only updated through the API")
	}
	return scheduler.New(a.Orch, opts), nil
}

func (a *App) Close() error {
	return a.kv.Close()
}
