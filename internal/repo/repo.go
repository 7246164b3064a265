package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	rpmversion "github.com/knqyf263/go-rpm-version"
	_ "github.com/mattn/go-sqlite3"
)

// Options selects the repository and narrows the packages considered.
type Options struct {
	RepoDir string

	// Comps overrides the group file named in repomd.xml.
	Comps string

	// Filter is applied to every query before anything is fingerprinted.
	Filter Predicate
}

// Repository answers the queries a build pass needs. It is not safe for
// concurrent use.
type Repository struct {
	index   *Index
	primary *sql.DB
	other   *sql.DB
	where   string
	args    []any
	temps   []string

	// comps holds the groups of the group file read at Open.
	comps    []Group
	hasComps bool
}

// Open reads repomd.xml, decompresses the databases if needed, opens them
// read-only and parses the group file. Any failure is a *SetupError and
// leaves nothing open or on disk.
func Open(ctx context.Context, opts Options) (*Repository, error) {
	idx, err := ReadIndex(opts.RepoDir)
	if err != nil {
		return nil, err
	}
	where, args, err := opts.Filter.SQL()
	if err != nil {
		return nil, fmt.Errorf("exclusion rules: %w", err)
	}

	r := &Repository{index: idx, where: where, args: args}
	comps := idx.Group
	if opts.Comps != "" {
		comps = opts.Comps
	}

	if err := r.open(ctx, comps); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repository) open(ctx context.Context, comps string) error {
	var err error
	if r.primary, err = r.openDB(ctx, r.index.Primary, "packages"); err != nil {
		return err
	}
	if r.index.Other != "" {
		if r.other, err = r.openDB(ctx, r.index.Other, "changelog"); err != nil {
			return err
		}
	}
	if comps != "" {
		if r.comps, err = ReadComps(comps); err != nil {
			return err
		}
		r.hasComps = true
	}
	return nil
}

func (r *Repository) openDB(ctx context.Context, path, table string) (*sql.DB, error) {
	plain, temp, err := materialize(path)
	if err != nil {
		return nil, &SetupError{Path: path, Msg: "cannot read database", Err: err}
	}
	if temp != "" {
		r.temps = append(r.temps, temp)
	}
	if _, err := os.Stat(plain); err != nil {
		return nil, &SetupError{Path: path, Msg: "cannot read database", Err: err}
	}

	db, err := sql.Open("sqlite3", "file:"+plain+"?mode=ro")
	if err != nil {
		return nil, &SetupError{Path: path, Msg: "cannot open database", Err: err}
	}
	db.SetMaxOpenConns(1)
	// the schema check doubles as a read test
	if _, err := db.ExecContext(ctx, "SELECT 1 FROM "+table+" LIMIT 1"); err != nil {
		db.Close()
		return nil, &SetupError{Path: path, Msg: "not a repository database", Err: err}
	}
	return db, nil
}

// Index returns the parsed repomd.xml.
func (r *Repository) Index() *Index { return r.index }

// Close closes the databases and removes decompressed copies.
func (r *Repository) Close() error {
	var errs []error
	for _, db := range []*sql.DB{r.primary, r.other} {
		if db != nil {
			errs = append(errs, db.Close())
		}
	}
	for _, t := range r.temps {
		if err := os.Remove(t); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	r.temps = nil
	return errors.Join(errs...)
}

// filtered appends the exclusion predicate to a query's arguments.
func (r *Repository) filtered(args ...any) []any {
	return append(append([]any{}, args...), r.args...)
}

// Groups returns the primary grouping: the comps groups when a group file
// is available, otherwise one group per lowercased rpm_group value.
func (r *Repository) Groups(ctx context.Context) ([]Group, error) {
	if r.hasComps {
		out := make([]Group, len(r.comps))
		for i, g := range r.comps {
			g.Packages = append([]string(nil), g.Packages...)
			out[i] = g
		}
		return out, nil
	}
	return r.categoryGroups(ctx)
}

func (r *Repository) categoryGroups(ctx context.Context) ([]Group, error) {
	cats, err := r.strings(ctx,
		"SELECT DISTINCT lower(rpm_group) AS g FROM packages WHERE rpm_group IS NOT NULL AND "+r.where+" ORDER BY g ASC",
		r.filtered()...)
	if err != nil {
		return nil, fmt.Errorf("collecting groups: %w", err)
	}

	groups := make([]Group, 0, len(cats))
	for _, cat := range cats {
		names, err := r.strings(ctx,
			"SELECT DISTINCT name FROM packages WHERE lower(rpm_group) = ? AND "+r.where+" ORDER BY name",
			r.filtered(cat)...)
		if err != nil {
			return nil, fmt.Errorf("collecting members of %s: %w", cat, err)
		}
		groups = append(groups, Group{
			ID:       cat,
			Name:     cat,
			Filename: GroupFilename(cat),
			Packages: names,
		})
	}
	return groups, nil
}

// LetterGroups returns one group per initial letter of package names, in
// letter order, and the letters joined into a string.
func (r *Repository) LetterGroups(ctx context.Context) ([]Group, string, error) {
	letters, err := r.strings(ctx,
		"SELECT DISTINCT substr(upper(name), 1, 1) AS letter FROM packages WHERE "+r.where+" ORDER BY letter",
		r.filtered()...)
	if err != nil {
		return nil, "", fmt.Errorf("collecting letters: %w", err)
	}

	groups := make([]Group, 0, len(letters))
	for _, letter := range letters {
		names, err := r.strings(ctx,
			"SELECT DISTINCT name FROM packages WHERE substr(upper(name), 1, 1) = ? AND "+r.where+" ORDER BY name",
			r.filtered(letter)...)
		if err != nil {
			return nil, "", fmt.Errorf("collecting letter %s: %w", letter, err)
		}
		id := "Letter " + letter
		groups = append(groups, Group{
			ID:          id,
			Name:        id,
			Description: fmt.Sprintf("Packages beginning with letter %q.", letter),
			Filename:    strings.ToLower(GroupFilename(id)),
			Packages:    names,
		})
	}
	return groups, strings.Join(letters, ""), nil
}

func (r *Repository) strings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.primary.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type pkgRow struct {
	pkgID       string
	epoch       string
	version     string
	release     string
	arch        string
	summary     string
	description string
	url         string
	buildTime   int64
	license     string
	sourceRPM   string
	size        int64
	location    string
	vendor      string
	evr         rpmversion.Version
}

// Package returns every admitted build of name, newest first. It returns
// ErrNotFound when the predicate leaves nothing.
func (r *Repository) Package(ctx context.Context, name string) (*Package, error) {
	rows, err := r.primary.QueryContext(ctx,
		`SELECT pkgId, epoch, version, release, arch, summary, description, url,
		        time_build, rpm_license, rpm_sourcerpm, size_package, location_href, rpm_vendor
		   FROM packages WHERE name = ? AND `+r.where+` ORDER BY arch ASC`,
		r.filtered(name)...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", name, err)
	}
	defer rows.Close()

	var found []pkgRow
	seen := make(map[[4]string]bool)
	for rows.Next() {
		var row pkgRow
		var epoch, summary, desc, url, license, srpm, location, vendor sql.NullString
		var buildTime, size sql.NullInt64
		if err := rows.Scan(&row.pkgID, &epoch, &row.version, &row.release, &row.arch,
			&summary, &desc, &url, &buildTime, &license, &srpm, &size, &location, &vendor); err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
		row.epoch = epoch.String
		if row.epoch == "" {
			row.epoch = "0"
		}
		row.summary, row.description, row.url = summary.String, desc.String, url.String
		row.license, row.sourceRPM, row.location, row.vendor = license.String, srpm.String, location.String, vendor.String
		row.buildTime, row.size = buildTime.Int64, size.Int64

		key := [4]string{row.epoch, row.version, row.release, row.arch}
		if seen[key] {
			continue
		}
		seen[key] = true
		row.evr = rpmversion.NewVersion(row.epoch + ":" + row.version + "-" + row.release)
		found = append(found, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	sort.SliceStable(found, func(i, j int) bool {
		return found[i].evr.Compare(found[j].evr) > 0
	})

	head := found[0]
	pkg := &Package{
		Name:        name,
		Filename:    PackageFilename(name),
		Summary:     head.summary,
		Description: head.description,
		URL:         head.url,
		License:     head.license,
		SourceRPM:   head.sourceRPM,
		Vendor:      head.vendor,
	}
	for _, row := range found {
		v := Version{
			Epoch:     row.epoch,
			Version:   row.version,
			Release:   row.release,
			Arch:      row.arch,
			BuildTime: row.buildTime,
			Size:      HumanSize(row.size),
			Location:  row.location,
		}
		if err := r.changelog(ctx, row.pkgID, &v); err != nil {
			return nil, fmt.Errorf("changelog of %s: %w", name, err)
		}
		pkg.Versions = append(pkg.Versions, v)
	}
	return pkg, nil
}

// changelog fills in the newest changelog entry of one build, matched
// across databases by package checksum.
func (r *Repository) changelog(ctx context.Context, pkgID string, v *Version) error {
	if r.other == nil {
		return nil
	}
	var author, text sql.NullString
	var date sql.NullInt64
	err := r.other.QueryRowContext(ctx,
		`SELECT c.author, c.date, c.changelog
		   FROM changelog c JOIN packages p ON p.pkgKey = c.pkgKey
		  WHERE p.pkgId = ?
		  ORDER BY c.date DESC LIMIT 1`, pkgID).Scan(&author, &date, &text)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	v.Author = stripEmail(author.String)
	v.Changelog = text.String
	v.Added = date.Int64
	return nil
}

// Latest returns up to n packages ordered by their newest build time,
// descending, then by name.
func (r *Repository) Latest(ctx context.Context, n int) ([]Latest, error) {
	names, err := r.strings(ctx,
		"SELECT name FROM packages WHERE "+r.where+" GROUP BY name ORDER BY MAX(time_build) DESC, name ASC LIMIT ?",
		append(r.filtered(), n)...)
	if err != nil {
		return nil, fmt.Errorf("collecting latest packages: %w", err)
	}

	out := make([]Latest, 0, len(names))
	for _, name := range names {
		l := Latest{Name: name, Filename: PackageFilename(name)}
		var built sql.NullInt64
		err := r.primary.QueryRowContext(ctx,
			"SELECT version, release, time_build FROM packages WHERE name = ? AND "+r.where+" ORDER BY time_build DESC LIMIT 1",
			r.filtered(name)...).Scan(&l.Version, &l.Release, &built)
		if err != nil {
			return nil, fmt.Errorf("latest build of %s: %w", name, err)
		}
		l.BuildTime = built.Int64
		out = append(out, l)
	}
	return out, nil
}
