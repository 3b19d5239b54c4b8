package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	prompt "github.com/c-bata/go-prompt"

	verrors "github.com/xtxerr/vitals/internal/errors"
)

func newTestApp(t *testing.T) *cliApp {
	t.Helper()
	app := &cliApp{}
	t.Cleanup(func() {
		if err := app.close(); err != nil {
			t.Errorf("close: %v", err)
		}
	})
	return app
}

// run executes one command line against app and returns its output.
func run(t *testing.T, app *cliApp, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd(app)
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{
		"--config", filepath.Join(t.TempDir(), "missing.yaml"),
		"--dsn", ":memory:",
	}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSettingsCommands(t *testing.T) {
	app := newTestApp(t)

	out, err := run(t, app, "settings", "get")
	if err != nil {
		t.Fatalf("settings get: %v", err)
	}
	if !strings.Contains(out, "no_policy") {
		t.Errorf("expected no_policy, got:\n%s", out)
	}

	if _, err := run(t, app, "settings", "set", "--archive-after-days", "7", "--delete-after-days", "30"); err != nil {
		t.Fatalf("settings set: %v", err)
	}
	out, err = run(t, app, "archive", "plan")
	if err != nil {
		t.Fatalf("archive plan: %v", err)
	}
	if !strings.Contains(out, "both_effective") || !strings.Contains(out, "delete_archive") {
		t.Errorf("unexpected plan:\n%s", out)
	}

	// 0 clears one threshold and keeps the other.
	if _, err := run(t, app, "settings", "set", "--archive-after-days", "0"); err != nil {
		t.Fatalf("settings set: %v", err)
	}
	out, _ = run(t, app, "settings", "get")
	if !strings.Contains(out, "retention_only") || !strings.Contains(out, "delete_after_days=30") {
		t.Errorf("unexpected setting:\n%s", out)
	}

	if _, err := run(t, app, "settings", "set"); err == nil {
		t.Error("settings set without flags should fail")
	}
	_, err = run(t, app, "settings", "set", "--delete-after-days", "-1")
	if code := verrors.ErrorToCode(err); code != verrors.CodeInvalidArgument {
		t.Errorf("negative days: exit code %d, want %d (err %v)", code, verrors.CodeInvalidArgument, err)
	}
}

func TestArchiveRun(t *testing.T) {
	app := newTestApp(t)

	out, err := run(t, app, "archive", "run")
	if err != nil {
		t.Fatalf("archive run: %v", err)
	}
	if !strings.Contains(out, "no_policy") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestPrioritiesCommands(t *testing.T) {
	app := newTestApp(t)

	if _, err := run(t, app, "priorities", "set", "device", "watch", "1"); err != nil {
		t.Fatalf("priorities set: %v", err)
	}
	out, err := run(t, app, "priorities", "list")
	if err != nil {
		t.Fatalf("priorities list: %v", err)
	}
	if !strings.Contains(out, "watch") {
		t.Errorf("expected watch in:\n%s", out)
	}

	if _, err := run(t, app, "priorities", "remove", "device", "watch"); err != nil {
		t.Fatalf("priorities remove: %v", err)
	}
	out, _ = run(t, app, "priorities", "list")
	if strings.Contains(out, "watch") {
		t.Errorf("watch should be removed:\n%s", out)
	}

	if _, err := run(t, app, "priorities", "set", "device", "watch", "x"); err == nil {
		t.Error("non-numeric priority should fail")
	}
	if _, err := run(t, app, "priorities", "set", "planet", "mars", "1"); err == nil {
		t.Error("unknown kind should fail")
	}
}

func TestEstimateCommand(t *testing.T) {
	app := newTestApp(t)

	out, err := run(t, app, "estimate")
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if !strings.Contains(out, "Storage estimate") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestShellComplete(t *testing.T) {
	app := newTestApp(t)
	sh := &shell{app: app, completion: newRootCmd(app)}

	complete := func(text string) []string {
		buf := prompt.NewBuffer()
		buf.InsertText(text, false, true)
		var names []string
		for _, s := range sh.complete(*buf.Document()) {
			names = append(names, s.Text)
		}
		return names
	}

	if got := complete("se"); len(got) != 1 || got[0] != "settings" {
		t.Errorf("complete(se) = %v", got)
	}
	if got := complete("archive "); len(got) != 2 {
		t.Errorf("complete(archive ) = %v", got)
	}
	if got := complete("priorities re"); len(got) != 1 || got[0] != "remove" {
		t.Errorf("complete(priorities re) = %v", got)
	}
	if got := complete("nope "); got != nil {
		t.Errorf("complete(nope ) = %v", got)
	}
	for _, name := range complete("") {
		if name == "shell" {
			t.Error("shell should not complete inside the shell")
		}
	}
}

func TestIsExit(t *testing.T) {
	tests := []struct {
		in        string
		breakline bool
		want      bool
	}{
		{"exit", true, true},
		{" quit ", true, true},
		{"exit", false, false},
		{"export", true, false},
	}
	for _, tt := range tests {
		if got := isExit(tt.in, tt.breakline); got != tt.want {
			t.Errorf("isExit(%q, %v) = %v, want %v", tt.in, tt.breakline, got, tt.want)
		}
	}
}
