package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/zalando/go-keyring"

	"notiflow/internal/credentials"
	"notiflow/internal/midterm"
	"notiflow/internal/model"
	"notiflow/internal/orchestrator"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNewAppWiresStoreAndExport(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, `
term: {name: "Fall 2025", start: "2025-09-02", end: "2025-12-05"}
store_path: `+filepath.Join(dir, "notiflow.db")+`
`)

	app, err := newApp(path, false)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	ctx := context.Background()
	_, err = app.Orch.RefreshFinals(ctx, []model.Record{{
		Course: "CPEN 221", Date: "2025/12/10", Begin: "12:00:00", End: "14:30:00", Location: "SWNG 121",
	}})
	if err != nil {
		t.Fatalf("RefreshFinals: %v", err)
	}
	if err := app.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// A second process sees the stored finals.
	app, err = newApp(path, false)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer app.Close()
	text, report, err := app.Orch.Export(ctx)
	if err != nil || report.Encoded != 1 {
		t.Fatalf("Export = %d, %v", report.Encoded, err)
	}
	if !strings.Contains(text, "X-WR-CALNAME:NotiFlow Fall 2025") {
		t.Errorf("calendar name missing:\n%s", text)
	}
}

func TestNewAppRejectsBadMidtermOrder(t *testing.T) {
	path := writeConfig(t, "store_path: memory\nmidterm_order: random\n")
	if _, err := newApp(path, false); err == nil {
		t.Error("newApp accepted an unknown midterm order")
	}
}

func TestSchedulerNeedsCanvasToken(t *testing.T) {
	keyring.MockInit()
	t.Setenv(credentials.CanvasToken.Env, "")
	path := writeConfig(t, "store_path: memory\n")

	app, err := newApp(path, false)
	if err != nil {
		t.Fatal(err)
	}
	defer app.Close()

	if _, err := app.Scheduler(); !errors.Is(err, credentials.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}

	t.Setenv(credentials.CanvasToken.Env, "tok")
	if s, err := app.Scheduler(); err != nil || s == nil {
		t.Errorf("Scheduler = %v, %v", s, err)
	}
}

func TestPrintRefreshReport(t *testing.T) {
	var buf bytes.Buffer
	printRefreshReport(&buf, orchestrator.Report{
		Kind:       model.KindMidterm,
		Stored:     1,
		Rejections: []model.Rejection{{Reason: midterm.ErrSuperseded}},
		Midterm:    &midterm.Report{Updated: []string{"MATH 253"}, Untouched: []string{"CPEN 221"}},
	})
	want := "Midterm: 1 stored, 1 rejected, 0 warnings\n" +
		"  rejected: " + midterm.ErrSuperseded.Error() + "\n" +
		"  updated: MATH 253\n" +
		"  untouched: CPEN 221\n"
	if buf.String() != want {
		t.Errorf("got:\n%s\nwant:\n%s", buf.String(), want)
	}
}
