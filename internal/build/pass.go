package build

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/szaher/repoview/internal/apply"
	"github.com/szaher/repoview/internal/config"
	"github.com/szaher/repoview/internal/events"
	"github.com/szaher/repoview/internal/feed"
	"github.com/szaher/repoview/internal/fingerprint"
	"github.com/szaher/repoview/internal/plan"
	"github.com/szaher/repoview/internal/render"
	"github.com/szaher/repoview/internal/repo"
	"github.com/szaher/repoview/internal/templates"
)

// IndexFile is the aggregate page of the site.
const IndexFile = "index.html"

// Page kinds used in events and metrics.
const (
	KindPackage = "package"
	KindGroup   = "group"
	KindIndex   = "index"
	KindFeed    = "feed"
	KindLayout  = "layout"
)

// Pass is the state of one build pass. It is created by Run and discarded
// when Run returns.
type Pass struct {
	ID string

	cfg      config.Config
	outDir   string
	md       Metadata
	renderer Renderer
	detector *plan.Detector
	deps     Deps
	log      *slog.Logger
	repo     render.Repo

	// memo holds packages already handled in this pass, so a package in
	// several groups is queried and fingerprinted once.
	memo    map[string]render.Member
	fetched map[string]*repo.Package
	missing map[string]bool

	// owners maps every output filename claimed in this pass to what
	// produces it. The first claim wins.
	owners map[string]string

	written     []string
	published   []string
	skipped     int
	groups      []string
	feedWritten bool
	staleFeed   bool
}

func (p *Pass) run(ctx context.Context) error {
	groups, err := p.md.Groups(ctx)
	if err != nil {
		return fmt.Errorf("resolving groups: %w", err)
	}
	letterGroups, letters, err := p.md.LetterGroups(ctx)
	if err != nil {
		return fmt.Errorf("resolving letter groups: %w", err)
	}
	p.repo = render.Repo{Title: p.cfg.Title, Letters: letters, Version: p.deps.Version}

	// Claim order decides collisions: the index, then the letter groups
	// that the navigation bar links to, then the explicit groups.
	p.claim(IndexFile, "index")
	letterGroups = p.claimGroups(letterGroups)
	groups = p.claimGroups(groups)

	var kept []render.Group
	for _, g := range groups {
		info, ok, err := p.doGroup(ctx, g)
		if err != nil {
			return err
		}
		if ok {
			kept = append(kept, info)
		}
	}
	for _, g := range letterGroups {
		if _, _, err := p.doGroup(ctx, g); err != nil {
			return err
		}
	}

	latest, err := p.md.Latest(ctx, p.cfg.Latest)
	if err != nil {
		return fmt.Errorf("collecting latest packages: %w", err)
	}
	rewritten, err := p.doIndex(kept, latest)
	if err != nil {
		return err
	}

	feedPath := filepath.Join(p.outDir, feed.FileName)
	switch {
	case p.cfg.URL == "":
		// a feed left from a run with a URL is reaped with the orphans
		p.staleFeed = exists(feedPath)
	case rewritten || !exists(feedPath):
		if err := p.doFeed(ctx, latest); err != nil {
			return err
		}
	}
	return nil
}

// claim records owner as the producer of filename. It reports false when
// something else already claimed it.
func (p *Pass) claim(filename, owner string) bool {
	if prev, ok := p.owners[filename]; ok && prev != owner {
		return false
	}
	p.owners[filename] = owner
	return true
}

// claimGroups returns the groups whose page filename is still free. The
// others are dropped.
func (p *Pass) claimGroups(groups []repo.Group) []repo.Group {
	out := groups[:0:0]
	for _, g := range groups {
		if !p.claim(g.Filename, "group "+g.ID) {
			p.deps.Emitter.Emit(events.New(events.GroupDropped, p.ID).
				WithData("group", g.ID).
				WithData("reason", "filename taken by "+p.owners[g.Filename]))
			continue
		}
		out = append(out, g)
	}
	return out
}

// doGroup writes the pages of one group's members and then the group page.
// A group none of whose members resolve is dropped and reported false.
func (p *Pass) doGroup(ctx context.Context, g repo.Group) (render.Group, bool, error) {
	info := render.Group{
		Name:        g.Name,
		Description: g.Description,
		Filename:    g.Filename,
		Link:        render.ToGroup(g.Filename),
	}

	members, err := p.doPackages(ctx, info, sortedUnique(g.Packages))
	if err != nil {
		return info, false, err
	}
	if len(members) == 0 {
		p.deps.Emitter.Emit(events.New(events.GroupDropped, p.ID).
			WithData("group", g.ID).
			WithData("reason", "no packages"))
		return info, false, nil
	}
	info.Members = members

	fp, err := fingerprint.Compute(p.repo.Bundle(), info.Bundle())
	if err != nil {
		return info, false, fmt.Errorf("fingerprinting %s: %w", g.Filename, err)
	}
	if err := p.emit(g.Filename, fp, KindGroup, templates.Group, render.GroupPage{Repo: p.repo, Group: info}); err != nil {
		return info, false, err
	}
	p.groups = append(p.groups, g.Filename)
	return info, true, nil
}

// doPackages handles the package pages of a group and returns the member
// list for the group page. Names the metadata does not know are skipped.
func (p *Pass) doPackages(ctx context.Context, group render.Group, names []string) ([]render.Member, error) {
	var members []render.Member
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if m, ok := p.memo[name]; ok {
			members = append(members, m)
			continue
		}
		if p.missing[name] {
			continue
		}
		if filename := repo.PackageFilename(name); !p.claim(filename, "package "+name) {
			p.missing[name] = true
			p.deps.Emitter.Emit(events.New(events.PageDropped, p.ID).
				WithData("package", name).
				WithData("reason", "filename taken by "+p.owners[filename]))
			continue
		}

		pkg, err := p.md.Package(ctx, name)
		if errors.Is(err, repo.ErrNotFound) {
			p.missing[name] = true
			p.log.Debug("group member not in repository", "group", group.Name, "package", name)
			continue
		}
		if err != nil {
			return nil, err
		}

		fp, err := fingerprint.Compute(p.repo.Bundle(), group.Bundle(), render.PackageBundle(pkg))
		if err != nil {
			return nil, fmt.Errorf("fingerprinting %s: %w", pkg.Filename, err)
		}
		page := render.PackagePage{Repo: p.repo, Group: group, Package: pkg}
		if err := p.emit(pkg.Filename, fp, KindPackage, templates.Package, page); err != nil {
			return nil, err
		}

		m := render.Member{Name: name, Summary: pkg.Summary, Link: render.ToPackage(name)}
		p.memo[name] = m
		p.fetched[name] = pkg
		members = append(members, m)
	}
	return members, nil
}

// doIndex writes index.html if the aggregate changed and reports whether
// it did.
func (p *Pass) doIndex(groups []render.Group, latest []repo.Latest) (bool, error) {
	recent := make([]render.Recent, 0, len(latest))
	for _, l := range latest {
		recent = append(recent, render.Recent{Latest: l, Link: render.ToPackage(l.Name)})
	}
	if groups == nil {
		groups = []render.Group{}
	}

	fp, err := fingerprint.Compute(p.repo.Bundle(), render.IndexBundle(p.cfg.URL, groups, recent))
	if err != nil {
		return false, fmt.Errorf("fingerprinting %s: %w", IndexFile, err)
	}
	before := len(p.written)
	page := render.IndexPage{Repo: p.repo, URL: p.cfg.URL, Groups: groups, Latest: recent}
	if err := p.emit(IndexFile, fp, KindIndex, templates.Index, page); err != nil {
		return false, err
	}
	return len(p.written) > before, nil
}

// doFeed writes the RSS feed of the latest packages. The feed is not
// tracked in the state store.
func (p *Pass) doFeed(ctx context.Context, latest []repo.Latest) error {
	items := make([]feed.Item, 0, len(latest))
	for _, l := range latest {
		pkg, ok := p.fetched[l.Name]
		if !ok {
			var err error
			pkg, err = p.md.Package(ctx, l.Name)
			if errors.Is(err, repo.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
		}
		var desc bytes.Buffer
		if err := p.renderer.Render(&desc, templates.RSS, render.FeedItem{Repo: p.repo, URL: p.cfg.URL, Package: pkg}); err != nil {
			return &RenderError{Filename: feed.FileName, Err: err}
		}
		items = append(items, feed.Item{Package: pkg, Description: desc.String()})
	}

	ch := feed.Channel{Title: p.cfg.Title, URL: p.cfg.URL, Built: p.deps.Now()}
	err := apply.WriteWith(p.outDir, feed.FileName, func(w io.Writer) error {
		return feed.Write(w, ch, items)
	})
	if err != nil {
		return &RenderError{Filename: feed.FileName, Err: err}
	}
	p.feedWritten = true
	p.written = append(p.written, feed.FileName)
	p.deps.Metrics.PagesWritten.WithLabelValues(KindFeed).Inc()
	p.deps.Emitter.Emit(events.New(events.FeedWritten, p.ID).
		WithData("filename", feed.FileName).
		WithData("items", len(items)))
	return nil
}

// emit asks the detector about filename and renders the page if it
// changed.
func (p *Pass) emit(filename string, fp fingerprint.Fingerprint, kind, templateID string, data any) error {
	changed, err := p.detector.HasChanged(filename, fp)
	if err != nil {
		return fmt.Errorf("checking %s: %w", filename, err)
	}
	if !changed {
		p.skipped++
		p.deps.Metrics.PagesSkipped.WithLabelValues(kind).Inc()
		p.deps.Emitter.Emit(events.New(events.PageSkipped, p.ID).
			WithData("filename", filename).
			WithData("kind", kind))
		return nil
	}

	err = apply.WriteWith(p.outDir, filename, func(w io.Writer) error {
		return p.renderer.Render(w, templateID, data)
	})
	if err != nil {
		return &RenderError{Filename: filename, Err: err}
	}
	p.written = append(p.written, filename)
	p.deps.Metrics.PagesWritten.WithLabelValues(kind).Inc()
	p.deps.Emitter.Emit(events.New(events.PageWritten, p.ID).
		WithData("filename", filename).
		WithData("kind", kind))
	return nil
}

// collectLayout queues freshly copied layout files for publishing.
func (p *Pass) collectLayout() error {
	root := filepath.Join(p.outDir, templates.LayoutDir)
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(p.outDir, path)
		if err != nil {
			return err
		}
		p.published = append(p.published, filepath.ToSlash(rel))
		return nil
	})
}

// publish mirrors written pages and orphan removals before the commit.
func (p *Pass) publish(ctx context.Context, orphans []string) error {
	for _, name := range append(p.published, p.written...) {
		if err := p.deps.Publisher.Put(ctx, name, filepath.Join(p.outDir, filepath.FromSlash(name))); err != nil {
			return err
		}
		p.deps.Emitter.Emit(events.New(events.PagePublished, p.ID).WithData("filename", name))
	}
	for _, name := range orphans {
		if err := p.deps.Publisher.Delete(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

func sortedUnique(names []string) []string {
	out := append([]string(nil), names...)
	sort.Strings(out)
	j := 0
	for i, n := range out {
		if i > 0 && n == out[j-1] {
			continue
		}
		out[j] = n
		j++
	}
	return out[:j]
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
