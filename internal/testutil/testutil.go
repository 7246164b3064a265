// Package testutil provides shared test helpers, including a builder for
// small on-disk RPM repositories.
package testutil

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// AssertErrorContains asserts that err is non-nil and its message contains substr.
func AssertErrorContains(t *testing.T, err error, substr string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error containing %q, got nil", substr)
	}
	if !strings.Contains(err.Error(), substr) {
		t.Fatalf("expected error containing %q, got %q", substr, err.Error())
	}
}

// WriteFile writes content to dir/name, creating parent directories.
func WriteFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

// Change is one changelog entry of a fixture package.
type Change struct {
	Author string
	Date   int64
	Text   string
}

// Package is one row of the fixture primary database.
type Package struct {
	Name        string
	Epoch       string
	Version     string
	Release     string
	Arch        string
	Group       string
	Summary     string
	Description string
	URL         string
	License     string
	Vendor      string
	SourceRPM   string
	BuildTime   int64
	Size        int64
	Changelog   []Change
}

// RepoOptions tweaks the generated repomd.xml.
type RepoOptions struct {
	// DBVersion written for primary_db; 0 means 10.
	DBVersion int
	// Comps, when set, is written as repodata/comps.xml and referenced.
	Comps string
	// NoOther leaves out the changelog database.
	NoOther bool
}

const primarySchema = `
CREATE TABLE packages (
	pkgKey INTEGER PRIMARY KEY, pkgId TEXT, name TEXT, arch TEXT,
	version TEXT, epoch TEXT, release TEXT, summary TEXT, description TEXT,
	url TEXT, time_build INTEGER, rpm_license TEXT, rpm_vendor TEXT,
	rpm_group TEXT, rpm_sourcerpm TEXT, size_package INTEGER,
	location_href TEXT)`

const otherSchema = `
CREATE TABLE packages (pkgKey INTEGER PRIMARY KEY, pkgId TEXT);
CREATE TABLE changelog (pkgKey INTEGER, author TEXT, date INTEGER, changelog TEXT)`

// PkgID returns the fixture checksum used to join the two databases.
func PkgID(p Package) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s-%s:%s-%s.%s", p.Name, p.Epoch, p.Version, p.Release, p.Arch)))
	return hex.EncodeToString(sum[:])
}

// WriteRepo (re)creates repoDir/repodata with a primary database, a
// changelog database and repomd.xml describing pkgs.
func WriteRepo(t *testing.T, repoDir string, pkgs []Package, opts RepoOptions) {
	t.Helper()
	dataDir := filepath.Join(repoDir, "repodata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	primary := filepath.Join(dataDir, "primary.sqlite")
	db := freshDB(t, primary, primarySchema)
	for i, p := range pkgs {
		_, err := db.Exec(`INSERT INTO packages (pkgKey, pkgId, name, arch, version, epoch, release,
			summary, description, url, time_build, rpm_license, rpm_vendor, rpm_group, rpm_sourcerpm,
			size_package, location_href) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			i+1, PkgID(p), p.Name, p.Arch, p.Version, nullable(p.Epoch), p.Release,
			p.Summary, p.Description, p.URL, p.BuildTime, p.License, p.Vendor, nullable(p.Group),
			p.SourceRPM, p.Size, fmt.Sprintf("Packages/%s-%s-%s.%s.rpm", p.Name, p.Version, p.Release, p.Arch))
		if err != nil {
			t.Fatalf("insert %s: %v", p.Name, err)
		}
	}
	db.Close()

	if !opts.NoOther {
		other := filepath.Join(dataDir, "other.sqlite")
		odb := freshDB(t, other, otherSchema)
		// keys run backwards so that only a pkgId join finds the right rows
		for i, p := range pkgs {
			key := len(pkgs) - i
			if _, err := odb.Exec("INSERT INTO packages (pkgKey, pkgId) VALUES (?, ?)", key, PkgID(p)); err != nil {
				t.Fatalf("insert other %s: %v", p.Name, err)
			}
			for _, c := range p.Changelog {
				if _, err := odb.Exec("INSERT INTO changelog (pkgKey, author, date, changelog) VALUES (?,?,?,?)",
					key, c.Author, c.Date, c.Text); err != nil {
					t.Fatalf("insert changelog %s: %v", p.Name, err)
				}
			}
		}
		odb.Close()
	}

	version := opts.DBVersion
	if version == 0 {
		version = 10
	}
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	sb.WriteString(`<repomd xmlns="http://linux.duke.edu/metadata/repo">` + "\n")
	fmt.Fprintf(&sb, `  <data type="primary_db"><location href="repodata/primary.sqlite"/><database_version>%d</database_version></data>`+"\n", version)
	if !opts.NoOther {
		fmt.Fprintf(&sb, `  <data type="other_db"><location href="repodata/other.sqlite"/><database_version>%d</database_version></data>`+"\n", version)
	}
	if opts.Comps != "" {
		WriteFile(t, dataDir, "comps.xml", opts.Comps)
		sb.WriteString(`  <data type="group"><location href="repodata/comps.xml"/></data>` + "\n")
	}
	sb.WriteString("</repomd>\n")
	WriteFile(t, dataDir, "repomd.xml", sb.String())
}

func freshDB(t *testing.T, path, schema string) *sql.DB {
	t.Helper()
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		t.Fatalf("remove %s: %v", path, err)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("schema %s: %v", path, err)
	}
	return db
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
