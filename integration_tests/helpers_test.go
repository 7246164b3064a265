package integration_tests

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/szaher/repoview/internal/build"
	"github.com/szaher/repoview/internal/config"
	"github.com/szaher/repoview/internal/testutil"
)

func packages() []testutil.Package {
	return []testutil.Package{
		{Name: "bash", Version: "5.2.26", Release: "1.fc40", Arch: "x86_64", Group: "System Environment/Shells",
			Summary: "The GNU Bourne Again shell", License: "GPL-3.0-or-later", BuildTime: 1700000000, Size: 1900000,
			Changelog: []testutil.Change{{Author: "Jane Doe <jane@example.org> - 5.2.26-1", Date: 1699900000, Text: "- Rebase"}}},
		{Name: "zsh", Version: "5.9", Release: "3.fc40", Arch: "x86_64", Group: "System Environment/Shells",
			Summary: "Powerful interactive shell", BuildTime: 1710000000, Size: 3300000},
		{Name: "coreutils", Version: "9.4", Release: "6.fc40", Arch: "x86_64", Group: "Applications/System",
			Summary: "A set of basic GNU tools", BuildTime: 1690000000, Size: 1200000},
		{Name: "zip", Version: "3.0", Release: "40.fc40", Arch: "x86_64", Group: "Applications/Archiving",
			Summary: "A file compression and packaging utility", BuildTime: 1680000000, Size: 260000},
	}
}

func newRepo(t *testing.T, pkgs []testutil.Package) config.Config {
	t.Helper()
	dir := t.TempDir()
	testutil.WriteRepo(t, dir, pkgs, testutil.RepoOptions{})
	cfg := config.Defaults()
	cfg.RepoDir = dir
	cfg.Title = "Integration"
	cfg.URL = "https://repo.example.org/f40"
	cfg.LockTimeout = time.Second
	return cfg
}

func runPass(t *testing.T, cfg config.Config) *build.Result {
	t.Helper()
	res, err := build.Run(context.Background(), cfg, build.Deps{
		Version: "integration",
		Now:     func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("pass failed: %v", err)
	}
	return res
}

func readOutput(t *testing.T, cfg config.Config, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(cfg.OutputPath(), name))
	if err != nil {
		t.Fatalf("reading %s: %v", name, err)
	}
	return string(data)
}
