package integration_tests

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/szaher/repoview/internal/plan"
	"github.com/szaher/repoview/internal/state"
)

func statePath(t *testing.T, outDir, stateDir string) string {
	t.Helper()
	p, err := state.Location(outDir, stateDir)
	if err != nil {
		t.Fatalf("Location: %v", err)
	}
	return p
}

// TestStateExportImportCycle moves the state of one build to a shared
// state directory and checks that the next pass sees no changes.
func TestStateExportImportCycle(t *testing.T) {
	cfg := newRepo(t, packages())
	runPass(t, cfg)

	entries, err := state.ReadEntries(statePath(t, cfg.OutputPath(), ""))
	if err != nil {
		t.Fatalf("ReadEntries: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("no entries after a pass")
	}

	export := filepath.Join(t.TempDir(), "export.json")
	if err := state.NewLocalBackend(export).Save(entries); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := state.NewLocalBackend(export).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(entries, loaded); diff != "" {
		t.Fatalf("export round trip (-want +got):\n%s", diff)
	}

	cfg.StateDir = t.TempDir()
	store, err := state.Open(statePath(t, cfg.OutputPath(), cfg.StateDir), state.DefaultOptions())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := store.Import(loaded); err != nil {
		t.Fatalf("Import: %v", err)
	}
	if err := store.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if res := runPass(t, cfg); res.Plan.HasChanges {
		t.Fatalf("pass after import changed pages:\n%s", plan.FormatText(res.Plan))
	}
}

func TestStateDrift(t *testing.T) {
	cfg := newRepo(t, packages())
	runPass(t, cfg)
	out := cfg.OutputPath()

	entries, err := state.ReadEntries(statePath(t, out, ""))
	if err != nil {
		t.Fatalf("ReadEntries: %v", err)
	}

	clean, err := plan.DetectDrift(entries, out)
	if err != nil {
		t.Fatalf("DetectDrift: %v", err)
	}
	if clean.HasDrift {
		t.Fatalf("fresh build drifted: %v", clean.Drifted)
	}

	if err := os.Remove(filepath.Join(out, "bash.html")); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(out, "stray.html"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	drift, err := plan.DetectDrift(entries, out)
	if err != nil {
		t.Fatalf("DetectDrift: %v", err)
	}
	want := []plan.DriftEntry{
		{Filename: "bash.html", Type: plan.DriftMissing},
		{Filename: "stray.html", Type: plan.DriftUntracked},
	}
	if diff := cmp.Diff(want, drift.Drifted); diff != "" {
		t.Errorf("drift (-want +got):\n%s", diff)
	}

	// A missing page with an unchanged fingerprint is not rewritten.
	if res := runPass(t, cfg); contains(res.Written, "bash.html") {
		t.Error("bash.html rewritten although its fingerprint is unchanged")
	}
}
