package render

import (
	"strings"

	"github.com/szaher/repoview/internal/fingerprint"
	"github.com/szaher/repoview/internal/repo"
)

// Repo holds the repository-wide values every page shows.
type Repo struct {
	Title   string
	Letters string
	Version string
}

// Bundle returns the fields of r that shape page content.
func (r Repo) Bundle() fingerprint.Bundle {
	return fingerprint.Bundle{
		"title":   r.Title,
		"letters": r.Letters,
		"version": r.Version,
	}
}

// Letter is one entry of the alphabetic navigation bar.
type Letter struct {
	Letter string
	Link   Link
}

// LetterLinks returns the navigation entries for r.Letters.
func (r Repo) LetterLinks() []Letter {
	out := make([]Letter, 0, len(r.Letters))
	for _, l := range strings.Split(r.Letters, "") {
		out = append(out, Letter{
			Letter: l,
			Link:   ToGroup(strings.ToLower(repo.GroupFilename("Letter " + l))),
		})
	}
	return out
}

// Member is a package as listed on a group page.
type Member struct {
	Name    string
	Summary string
	Link    Link
}

// Group is a group as shown on its own page and on package pages.
// Members is empty while the group's packages are still being written.
type Group struct {
	Name        string
	Description string
	Filename    string
	Link        Link
	Members     []Member
}

// Bundle returns the fields of g that shape page content.
func (g Group) Bundle() fingerprint.Bundle {
	b := fingerprint.Bundle{
		"name":        g.Name,
		"description": g.Description,
		"filename":    g.Filename,
	}
	if g.Members != nil {
		b["packages"] = g.Members
	}
	return b
}

// PackageBundle returns the fields of a package that shape its page.
func PackageBundle(p *repo.Package) fingerprint.Bundle {
	return fingerprint.Bundle{
		"name":        p.Name,
		"filename":    p.Filename,
		"summary":     p.Summary,
		"description": p.Description,
		"url":         p.URL,
		"license":     p.License,
		"sourcerpm":   p.SourceRPM,
		"vendor":      p.Vendor,
		"rpms":        p.Versions,
	}
}

// Recent is one entry of the latest packages list.
type Recent struct {
	repo.Latest
	Link Link
}

// PackagePage is the data of a package page.
type PackagePage struct {
	Repo    Repo
	Group   Group
	Package *repo.Package
}

// GroupPage is the data of a group page.
type GroupPage struct {
	Repo  Repo
	Group Group
}

// IndexPage is the data of index.html.
type IndexPage struct {
	Repo   Repo
	URL    string
	Groups []Group
	Latest []Recent
}

// IndexBundle returns the aggregate fields that shape index.html.
func IndexBundle(url string, groups []Group, latest []Recent) fingerprint.Bundle {
	return fingerprint.Bundle{
		"url":    url,
		"groups": groups,
		"latest": latest,
	}
}

// FeedItem is the data of one RSS item description.
type FeedItem struct {
	Repo    Repo
	URL     string
	Package *repo.Package
}
