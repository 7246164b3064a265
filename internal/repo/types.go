// Package repo reads RPM repository metadata: repomd.xml, the primary and
// changelog SQLite databases, and comps group definitions.
package repo

import (
	"errors"
	"fmt"
	"strings"
)

// File name patterns for generated pages.
const (
	PackageFileSuffix = ".html"
	GroupFileSuffix   = ".group.html"
)

// SupportedDBVersion is the newest primary_db database_version understood.
const SupportedDBVersion = 10

var (
	// ErrFatalSetup marks repository metadata that is missing, unreadable
	// or of an unsupported version. Nothing can be built from it.
	ErrFatalSetup = errors.New("unusable repository metadata")

	// ErrNotFound is returned when no package matches a name after the
	// exclusion predicate is applied.
	ErrNotFound = errors.New("package not found")
)

// SetupError describes why repository metadata could not be used. It
// matches ErrFatalSetup with errors.Is.
type SetupError struct {
	Path string
	Msg  string
	Err  error
}

func (e *SetupError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Path, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Msg)
}

func (e *SetupError) Unwrap() error { return e.Err }

// Is reports whether target is ErrFatalSetup.
func (e *SetupError) Is(target error) bool { return target == ErrFatalSetup }

// Group is a named bucket of packages with its own listing page.
type Group struct {
	ID          string
	Name        string
	Description string
	Filename    string
	Packages    []string
}

// Package is everything a package page shows. Versions are sorted newest
// first; the newest one supplies the descriptive fields.
type Package struct {
	Name        string
	Filename    string
	Summary     string
	Description string
	URL         string
	License     string
	SourceRPM   string
	Vendor      string
	Versions    []Version
}

// Version is one built RPM of a package.
type Version struct {
	Epoch     string
	Version   string
	Release   string
	Arch      string
	BuildTime int64
	Size      string
	Location  string
	Author    string
	Changelog string
	Added     int64
}

// EVR renders epoch:version-release, omitting a zero epoch.
func (v Version) EVR() string {
	if v.Epoch == "" || v.Epoch == "0" {
		return v.Version + "-" + v.Release
	}
	return v.Epoch + ":" + v.Version + "-" + v.Release
}

// Latest is one row of the recently built packages list.
type Latest struct {
	Name      string
	Filename  string
	Version   string
	Release   string
	BuildTime int64
}

// MakeID turns a group or package name into a file-system friendly id.
func MakeID(text string) string {
	text = strings.ReplaceAll(text, "/", ".")
	return strings.ReplaceAll(text, " ", "_")
}

// PackageFilename returns the page name for a package.
func PackageFilename(name string) string {
	return MakeID(name + PackageFileSuffix)
}

// GroupFilename returns the page name for a group id.
func GroupFilename(id string) string {
	return MakeID(id + GroupFileSuffix)
}

// HumanSize formats a byte count as Bytes, KiB or MiB.
func HumanSize(n int64) string {
	if n < 1024 {
		return fmt.Sprintf("%d Bytes", n)
	}
	kb := n / 1024
	if kb/1024 < 1 {
		return fmt.Sprintf("%d KiB", kb)
	}
	return fmt.Sprintf("%0.1f MiB", float64(kb)/1024)
}

// stripEmail drops "<address>" and everything after it from a changelog
// author.
func stripEmail(author string) string {
	if i := strings.Index(author, "<"); i >= 0 {
		return strings.TrimSpace(author[:i])
	}
	return author
}
