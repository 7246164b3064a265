package watch

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/szaher/repoview/internal/testutil"
)

func startWatch(t *testing.T, opts Options, pass PassFunc) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, opts, pass) }()
	t.Cleanup(cancel)
	return cancel, done
}

func waitReason(t *testing.T, reasons <-chan string, want string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case got := <-reasons:
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("no %q pass within 5s", want)
		}
	}
}

func TestRun_StartupAndChange(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteFile(t, dir, "repodata/repomd.xml", "<repomd/>")

	reasons := make(chan string, 16)
	cancel, done := startWatch(t, Options{RepoDir: dir, Debounce: 20 * time.Millisecond},
		func(_ context.Context, reason string) error {
			reasons <- reason
			return nil
		})

	waitReason(t, reasons, ReasonStartup)
	testutil.WriteFile(t, dir, "repodata/repomd.xml", "<repomd></repomd>")
	waitReason(t, reasons, ReasonChanged)

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestRun_FailedPassKeepsWatching(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteFile(t, dir, "repodata/repomd.xml", "<repomd/>")

	reasons := make(chan string, 16)
	startWatch(t, Options{RepoDir: dir, Debounce: 20 * time.Millisecond},
		func(_ context.Context, reason string) error {
			reasons <- reason
			return errors.New("boom")
		})

	waitReason(t, reasons, ReasonStartup)
	testutil.WriteFile(t, dir, "repodata/primary.sqlite", "x")
	waitReason(t, reasons, ReasonChanged)
}

func TestRun_Schedule(t *testing.T) {
	reasons := make(chan string, 16)
	startWatch(t, Options{RepoDir: t.TempDir(), Schedule: "@every 1s"},
		func(_ context.Context, reason string) error {
			reasons <- reason
			return nil
		})
	waitReason(t, reasons, ReasonSchedule)
}

func TestRun_BadSchedule(t *testing.T) {
	err := Run(context.Background(), Options{RepoDir: t.TempDir(), Schedule: "sometimes"},
		func(context.Context, string) error { return nil })
	if err == nil {
		t.Fatal("bad schedule accepted")
	}
}

func TestRelevant(t *testing.T) {
	data := filepath.Join("/srv/repo", "repodata")
	tests := []struct {
		ev   fsnotify.Event
		want bool
	}{
		{fsnotify.Event{Name: data, Op: fsnotify.Create}, true},
		{fsnotify.Event{Name: filepath.Join(data, "repomd.xml"), Op: fsnotify.Write}, true},
		{fsnotify.Event{Name: filepath.Join(data, "repomd.xml"), Op: fsnotify.Chmod}, false},
		{fsnotify.Event{Name: "/srv/repo/repoview", Op: fsnotify.Create}, false},
	}
	for _, tt := range tests {
		if got := relevant(tt.ev, data); got != tt.want {
			t.Errorf("relevant(%v) = %v, want %v", tt.ev, got, tt.want)
		}
	}
}
