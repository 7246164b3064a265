package render

import (
	"bytes"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/szaher/repoview/internal/fingerprint"
	"github.com/szaher/repoview/internal/repo"
	"github.com/szaher/repoview/internal/templates"
)

func samplePackage() *repo.Package {
	return &repo.Package{
		Name:        "bash",
		Filename:    "bash.html",
		Summary:     "The GNU Bourne Again shell",
		Description: "Bash is <the> shell.",
		URL:         "https://www.gnu.org/software/bash",
		License:     "GPLv3+",
		Versions: []repo.Version{{
			Version: "5.2.26", Release: "1", Arch: "x86_64", BuildTime: 1700000000,
			Size: "1.8 MiB", Location: "Packages/bash-5.2.26-1.x86_64.rpm",
			Author: "Jane Doe", Changelog: "- update", Added: 1699990000,
		}},
	}
}

func sampleRepo() Repo {
	return Repo{Title: "Fixture & Co", Letters: "BZ", Version: "test"}
}

func newDefault(t *testing.T) *Renderer {
	t.Helper()
	r, err := New(templates.Default())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func TestLinkHref(t *testing.T) {
	tests := []struct {
		link Link
		want string
	}{
		{Asset("repostyle.css"), "layout/repostyle.css"},
		{ToPackage("perl Foo/Bar"), "perl_Foo.Bar.html"},
		{ToGroup("letter_b.group.html"), "letter_b.group.html"},
	}
	for _, tt := range tests {
		t.Run(tt.link.Kind.String(), func(t *testing.T) {
			if got := tt.link.Href(); got != tt.want {
				t.Errorf("Href() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRender_Package(t *testing.T) {
	r := newDefault(t)
	page := PackagePage{
		Repo:    sampleRepo(),
		Group:   Group{Name: "Shells", Filename: "shells.group.html", Link: ToGroup("shells.group.html")},
		Package: samplePackage(),
	}
	out, err := r.String(templates.Package, page)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	for _, want := range []string{
		`<title>RepoView: Fixture &amp; Co</title>`,
		`href="shells.group.html"`,
		`href="letter_z.group.html">Z</a>`,
		`bash-5.2.26-1.x86_64</a> [1.8 MiB]`,
		`Bash is &lt;the&gt; shell.`,
		`2023-11-14`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q", want)
		}
	}
}

func TestRender_GroupAndIndex(t *testing.T) {
	r := newDefault(t)
	group := Group{
		Name: "Shells", Filename: "shells.group.html", Link: ToGroup("shells.group.html"),
		Members: []Member{{Name: "bash", Summary: "shell", Link: ToPackage("bash")}},
	}
	out, err := r.String(templates.Group, GroupPage{Repo: sampleRepo(), Group: group})
	if err != nil {
		t.Fatalf("group: %v", err)
	}
	if !strings.Contains(out, `<a href="bash.html">bash</a> - shell`) {
		t.Errorf("group page missing member:\n%s", out)
	}

	index := IndexPage{
		Repo:   sampleRepo(),
		URL:    "https://repo.example.com",
		Groups: []Group{group},
		Latest: []Recent{{Latest: repo.Latest{Name: "bash", Version: "5.2.26", Release: "1", BuildTime: 1700000000}, Link: ToPackage("bash")}},
	}
	out, err = r.String(templates.Index, index)
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	for _, want := range []string{`href="shells.group.html"`, `bash-5.2.26-1</a>`, `latest-feed.xml`} {
		if !strings.Contains(out, want) {
			t.Errorf("index missing %q", want)
		}
	}
}

func TestRender_Deterministic(t *testing.T) {
	r := newDefault(t)
	page := PackagePage{Repo: sampleRepo(), Group: Group{Name: "Shells"}, Package: samplePackage()}
	first, err := r.String(templates.Package, page)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		again, err := r.String(templates.Package, page)
		if err != nil {
			t.Fatal(err)
		}
		if again != first {
			t.Fatal("output differs between renders")
		}
	}
}

func TestRender_FailureWritesNothing(t *testing.T) {
	fsys := fstest.MapFS{
		templates.Index:   {Data: []byte(`partial {{.Missing.Field}}`)},
		templates.Group:   {Data: []byte(`g`)},
		templates.Package: {Data: []byte(`p`)},
		templates.RSS:     {Data: []byte(`r`)},
	}
	r, err := New(fsys)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var buf bytes.Buffer
	if err := r.Render(&buf, templates.Index, IndexPage{}); err == nil {
		t.Fatal("expected an execution error")
	}
	if buf.Len() != 0 {
		t.Errorf("wrote %q on failure", buf.String())
	}
}

func TestNew_MissingTemplate(t *testing.T) {
	fsys := fstest.MapFS{templates.Index: {Data: []byte(`x`)}}
	if _, err := New(fsys); err == nil {
		t.Error("expected parse error for missing templates")
	}
}

func TestBundles(t *testing.T) {
	g := Group{Name: "Shells", Filename: "shells.group.html"}
	if _, ok := g.Bundle()["packages"]; ok {
		t.Error("group without members carries packages field")
	}
	g.Members = []Member{{Name: "bash", Summary: "old"}}
	before, err := fingerprint.Compute(sampleRepo().Bundle(), g.Bundle())
	if err != nil {
		t.Fatal(err)
	}
	g.Members[0].Summary = "new"
	after, err := fingerprint.Compute(sampleRepo().Bundle(), g.Bundle())
	if err != nil {
		t.Fatal(err)
	}
	if before == after {
		t.Error("member summary change not reflected in fingerprint")
	}
	if _, err := fingerprint.Compute(PackageBundle(samplePackage())); err != nil {
		t.Errorf("package bundle: %v", err)
	}
}
