// Package feed writes the RSS 2.0 feed of recently built packages.
package feed

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gorilla/feeds"

	"github.com/szaher/repoview/internal/repo"
)

// FileName is the feed's name inside the output directory.
const FileName = "latest-feed.xml"

// Channel describes the feed itself.
type Channel struct {
	Title string
	URL   string
	Built time.Time
}

// Item is one package entry. Description is pre-rendered HTML.
type Item struct {
	Package     *repo.Package
	Description string
}

// base returns the public URL of the output directory.
func (c Channel) base() string {
	return strings.TrimRight(c.URL, "/") + "/repoview/"
}

// Build assembles the feed. Packages without versions are skipped.
func Build(ch Channel, items []Item) *feeds.Feed {
	f := &feeds.Feed{
		Title:       ch.Title,
		Link:        &feeds.Link{Href: ch.base() + FileName},
		Description: "Latest packages for " + ch.Title,
		Created:     ch.Built.UTC(),
		Updated:     ch.Built.UTC(),
	}
	for _, it := range items {
		if it.Package == nil || len(it.Package.Versions) == 0 {
			continue
		}
		newest := it.Package.Versions[0]
		link := ch.base() + it.Package.Filename
		f.Items = append(f.Items, &feeds.Item{
			Id:          fmt.Sprintf("%s+%s:%s-%s.%s", link, newest.Epoch, newest.Version, newest.Release, newest.Arch),
			Title:       fmt.Sprintf("Update: %s-%s-%s", it.Package.Name, newest.Version, newest.Release),
			Link:        &feeds.Link{Href: link},
			Description: it.Description,
			Created:     time.Unix(newest.BuildTime, 0).UTC(),
		})
	}
	return f
}

// Write renders the feed as RSS 2.0.
func Write(w io.Writer, ch Channel, items []Item) error {
	if err := Build(ch, items).WriteRss(w); err != nil {
		return fmt.Errorf("writing rss: %w", err)
	}
	return nil
}
