package repo

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/gzip"
	"github.com/szaher/repoview/internal/testutil"
)

func fixturePackages() []testutil.Package {
	return []testutil.Package{
		{Name: "bash", Version: "5.2.26", Release: "1.fc40", Arch: "x86_64", Group: "System Environment/Shells",
			Summary: "The GNU Bourne Again shell", BuildTime: 1700000000, Size: 1843200,
			Changelog: []testutil.Change{
				{Author: "Jane Doe <jane@example.com> - 5.2.26-1", Date: 1699990000, Text: "- update to 5.2.26"},
				{Author: "Old Author <old@example.com>", Date: 1600000000, Text: "- ancient"},
			}},
		{Name: "bash", Version: "5.2.21", Release: "2.fc40", Arch: "x86_64", Group: "System Environment/Shells",
			Summary: "Older summary", BuildTime: 1690000000, Size: 900},
		{Name: "bash", Version: "5.2.26", Release: "1.fc40", Arch: "src", Group: "System Environment/Shells",
			Summary: "The GNU Bourne Again shell", BuildTime: 1700000000, Size: 10 << 20},
		{Name: "zsh", Epoch: "1", Version: "5.9", Release: "3", Arch: "x86_64", Group: "System Environment/Shells",
			Summary: "Z shell", BuildTime: 1710000000, Size: 3000},
		{Name: "zsh-debuginfo", Version: "5.9", Release: "3", Arch: "x86_64", Group: "Development/Debug",
			Summary: "Debug info", BuildTime: 1720000000, Size: 1},
		{Name: "coreutils", Version: "9.4", Release: "1", Arch: "x86_64", Group: "Applications/System",
			Summary: "Core utilities", BuildTime: 1680000000, Size: 5000},
	}
}

func openFixture(t *testing.T, opts Options, ro testutil.RepoOptions) *Repository {
	t.Helper()
	dir := t.TempDir()
	testutil.WriteRepo(t, dir, fixturePackages(), ro)
	opts.RepoDir = dir
	r, err := Open(context.Background(), opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestReadIndex_Errors(t *testing.T) {
	t.Run("missing repomd", func(t *testing.T) {
		_, err := ReadIndex(t.TempDir())
		if !errors.Is(err, ErrFatalSetup) {
			t.Errorf("err = %v, want ErrFatalSetup", err)
		}
	})
	t.Run("no primary_db", func(t *testing.T) {
		dir := t.TempDir()
		testutil.WriteFile(t, dir, "repodata/repomd.xml",
			`<repomd xmlns="http://linux.duke.edu/metadata/repo"><data type="primary"><location href="repodata/primary.xml.gz"/></data></repomd>`)
		_, err := ReadIndex(dir)
		if !errors.Is(err, ErrFatalSetup) {
			t.Errorf("err = %v, want ErrFatalSetup", err)
		}
	})
	t.Run("unsupported version", func(t *testing.T) {
		dir := t.TempDir()
		testutil.WriteRepo(t, dir, nil, testutil.RepoOptions{DBVersion: 11})
		_, err := ReadIndex(dir)
		if !errors.Is(err, ErrFatalSetup) {
			t.Fatalf("err = %v, want ErrFatalSetup", err)
		}
		var se *SetupError
		if !errors.As(err, &se) || !strings.Contains(se.Msg, "newer than the supported 10") {
			t.Errorf("err = %v", err)
		}
	})
	t.Run("invalid xml", func(t *testing.T) {
		dir := t.TempDir()
		testutil.WriteFile(t, dir, "repodata/repomd.xml", "<repomd")
		if _, err := ReadIndex(dir); !errors.Is(err, ErrFatalSetup) {
			t.Errorf("err = %v, want ErrFatalSetup", err)
		}
	})
}

func TestOpen_NotADatabase(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteRepo(t, dir, nil, testutil.RepoOptions{NoOther: true})
	testutil.WriteFile(t, dir, "repodata/primary.sqlite", "garbage")
	_, err := Open(context.Background(), Options{RepoDir: dir})
	if !errors.Is(err, ErrFatalSetup) {
		t.Errorf("err = %v, want ErrFatalSetup", err)
	}
}

func TestPackage(t *testing.T) {
	r := openFixture(t, Options{}, testutil.RepoOptions{})

	pkg, err := r.Package(context.Background(), "bash")
	if err != nil {
		t.Fatalf("Package: %v", err)
	}
	if pkg.Summary != "The GNU Bourne Again shell" {
		t.Errorf("Summary = %q, want newest build's summary", pkg.Summary)
	}
	if pkg.Filename != "bash.html" {
		t.Errorf("Filename = %q", pkg.Filename)
	}

	var got []string
	for _, v := range pkg.Versions {
		got = append(got, v.EVR()+"."+v.Arch)
	}
	want := []string{"5.2.26-1.fc40.src", "5.2.26-1.fc40.x86_64", "5.2.21-2.fc40.x86_64"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("versions mismatch (-want +got):\n%s", diff)
	}

	x86 := pkg.Versions[1]
	if x86.Author != "Jane Doe" || x86.Changelog != "- update to 5.2.26" || x86.Added != 1699990000 {
		t.Errorf("changelog = %q %q %d", x86.Author, x86.Changelog, x86.Added)
	}
	if x86.Size != "1 MiB" && x86.Size != "1.8 MiB" {
		t.Errorf("Size = %q", x86.Size)
	}
	if pkg.Versions[2].Author != "" {
		t.Errorf("build without changelog got author %q", pkg.Versions[2].Author)
	}
}

func TestPackage_EpochWins(t *testing.T) {
	r := openFixture(t, Options{}, testutil.RepoOptions{})
	pkg, err := r.Package(context.Background(), "zsh")
	if err != nil {
		t.Fatal(err)
	}
	if got := pkg.Versions[0].EVR(); got != "1:5.9-3" {
		t.Errorf("EVR = %q", got)
	}
}

func TestPackage_FilteredIsNotFound(t *testing.T) {
	r := openFixture(t, Options{Filter: Exclusions([]string{"*-debuginfo"}, []string{"src"})}, testutil.RepoOptions{})

	if _, err := r.Package(context.Background(), "zsh-debuginfo"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	pkg, err := r.Package(context.Background(), "bash")
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range pkg.Versions {
		if v.Arch == "src" {
			t.Error("excluded arch returned")
		}
	}
}

func TestGroups_CategoryFallback(t *testing.T) {
	r := openFixture(t, Options{Filter: Exclusions([]string{"*-debuginfo"}, nil)}, testutil.RepoOptions{})

	groups, err := r.Groups(context.Background())
	if err != nil {
		t.Fatalf("Groups: %v", err)
	}
	var got []string
	for _, g := range groups {
		got = append(got, g.Filename+"="+strings.Join(g.Packages, ","))
	}
	want := []string{
		"applications.system.group.html=coreutils",
		"system_environment.shells.group.html=bash,zsh",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("groups mismatch (-want +got):\n%s", diff)
	}
}

const compsFixture = `<?xml version="1.0"?>
<comps>
  <group>
    <id>shells</id>
    <name>Shells</name>
    <name xml:lang="de">Muscheln</name>
    <description>Command shells</description>
    <packagelist>
      <packagereq type="mandatory">zsh</packagereq>
      <packagereq type="default">bash</packagereq>
      <packagereq type="optional">fish</packagereq>
    </packagelist>
  </group>
  <group>
    <id>empty</id>
    <name>Empty</name>
    <packagelist/>
  </group>
</comps>`

func TestGroups_Comps(t *testing.T) {
	r := openFixture(t, Options{}, testutil.RepoOptions{Comps: compsFixture})

	groups, err := r.Groups(context.Background())
	if err != nil {
		t.Fatalf("Groups: %v", err)
	}
	want := []Group{{
		ID:          "shells",
		Name:        "Shells",
		Description: "Command shells",
		Filename:    "shells.group.html",
		Packages:    []string{"zsh", "bash", "fish"},
	}}
	if diff := cmp.Diff(want, groups); diff != "" {
		t.Errorf("groups mismatch (-want +got):\n%s", diff)
	}
}

func TestGroups_CompsOverride(t *testing.T) {
	override := testutil.WriteFile(t, t.TempDir(), "my-comps.xml", compsFixture)
	r := openFixture(t, Options{Comps: override}, testutil.RepoOptions{})
	groups, err := r.Groups(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 1 || groups[0].ID != "shells" {
		t.Errorf("groups = %+v", groups)
	}
}

func TestLetterGroups(t *testing.T) {
	r := openFixture(t, Options{Filter: Exclusions([]string{"zsh*"}, nil)}, testutil.RepoOptions{})

	groups, letters, err := r.LetterGroups(context.Background())
	if err != nil {
		t.Fatalf("LetterGroups: %v", err)
	}
	if letters != "BC" {
		t.Errorf("letters = %q, want BC", letters)
	}
	if len(groups) != 2 {
		t.Fatalf("got %d groups", len(groups))
	}
	if groups[0].Filename != "letter_b.group.html" || groups[0].Name != "Letter B" {
		t.Errorf("group 0 = %+v", groups[0])
	}
	if diff := cmp.Diff([]string{"bash"}, groups[0].Packages); diff != "" {
		t.Errorf("members mismatch (-want +got):\n%s", diff)
	}
}

func TestLatest(t *testing.T) {
	r := openFixture(t, Options{Filter: Exclusions([]string{"*-debuginfo"}, nil)}, testutil.RepoOptions{})

	latest, err := r.Latest(context.Background(), 2)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	want := []Latest{
		{Name: "zsh", Filename: "zsh.html", Version: "5.9", Release: "3", BuildTime: 1710000000},
		{Name: "bash", Filename: "bash.html", Version: "5.2.26", Release: "1.fc40", BuildTime: 1700000000},
	}
	if diff := cmp.Diff(want, latest); diff != "" {
		t.Errorf("latest mismatch (-want +got):\n%s", diff)
	}
}

func TestOpen_CompressedPrimary(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteRepo(t, dir, fixturePackages(), testutil.RepoOptions{NoOther: true})

	plain := filepath.Join(dir, "repodata", "primary.sqlite")
	gzPath := plain + ".gz"
	gzipFile(t, plain, gzPath)
	os.Remove(plain)
	repomd := filepath.Join(dir, "repodata", "repomd.xml")
	raw, _ := os.ReadFile(repomd)
	testutil.WriteFile(t, dir, "repodata/repomd.xml", strings.Replace(string(raw), "primary.sqlite", "primary.sqlite.gz", 1))

	r, err := Open(context.Background(), Options{RepoDir: dir})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := r.Package(context.Background(), "coreutils"); err != nil {
		t.Errorf("Package: %v", err)
	}
	temps := append([]string(nil), r.temps...)
	if len(temps) != 1 {
		t.Fatalf("temps = %v", temps)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(temps[0]); !errors.Is(err, os.ErrNotExist) {
		t.Error("decompressed copy not removed")
	}
}

func TestOpen_FailureRemovesDecompressedCopies(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("TMPDIR", tmp)

	dir := t.TempDir()
	testutil.WriteRepo(t, dir, fixturePackages(), testutil.RepoOptions{})
	data := filepath.Join(dir, "repodata")
	testutil.WriteFile(t, dir, "repodata/other.sqlite", "garbage")
	for _, name := range []string{"primary.sqlite", "other.sqlite"} {
		gzipFile(t, filepath.Join(data, name), filepath.Join(data, name+".gz"))
	}
	raw, _ := os.ReadFile(filepath.Join(data, "repomd.xml"))
	repomd := strings.ReplaceAll(string(raw), ".sqlite\"", ".sqlite.gz\"")
	testutil.WriteFile(t, dir, "repodata/repomd.xml", repomd)

	r, err := Open(context.Background(), Options{RepoDir: dir})
	if !errors.Is(err, ErrFatalSetup) {
		t.Fatalf("err = %v, want ErrFatalSetup", err)
	}
	if r != nil {
		t.Error("repository returned with an error")
	}
	left, err := os.ReadDir(tmp)
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 0 {
		t.Errorf("temp files left behind: %v", left)
	}
}

func TestOpen_BadCompsIsFatal(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteRepo(t, dir, fixturePackages(), testutil.RepoOptions{})
	comps := testutil.WriteFile(t, t.TempDir(), "comps.xml", "<comps><group>")

	_, err := Open(context.Background(), Options{RepoDir: dir, Comps: comps})
	if !errors.Is(err, ErrFatalSetup) {
		t.Errorf("err = %v, want ErrFatalSetup", err)
	}
}

func gzipFile(t *testing.T, src, dst string) {
	t.Helper()
	in, err := os.Open(src)
	if err != nil {
		t.Fatal(err)
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		t.Fatal(err)
	}
	defer out.Close()
	zw := gzip.NewWriter(out)
	if _, err := io.Copy(zw, in); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestExclusions_IgnoreCase(t *testing.T) {
	r := openFixture(t, Options{Filter: Exclusions([]string{"BA*", "Zsh-Debug?nfo"}, nil)}, testutil.RepoOptions{})

	for _, name := range []string{"bash", "zsh-debuginfo"} {
		if _, err := r.Package(context.Background(), name); !errors.Is(err, ErrNotFound) {
			t.Errorf("Package(%s) err = %v, want ErrNotFound", name, err)
		}
	}
	if _, err := r.Package(context.Background(), "zsh"); err != nil {
		t.Errorf("Package(zsh): %v", err)
	}
}

func TestPredicate_SQL(t *testing.T) {
	where, args, err := Exclusions([]string{"*-doc"}, []string{"src", "i686"}).SQL()
	if err != nil {
		t.Fatal(err)
	}
	if where != "1=1 AND arch != ? AND arch != ? AND lower(name) NOT GLOB lower(?)" {
		t.Errorf("where = %q", where)
	}
	if diff := cmp.Diff([]any{"src", "i686", "*-doc"}, args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}

	bad := Predicate{{Field: "name; DROP TABLE packages", Op: OpEqual, Value: "x"}}
	if _, _, err := bad.SQL(); err == nil {
		t.Error("unknown field accepted")
	}
}

func TestHumanSize(t *testing.T) {
	tests := map[int64]string{
		10:       "10 Bytes",
		2048:     "2 KiB",
		1843200:  "1.8 MiB",
		10 << 20: "10.0 MiB",
	}
	for in, want := range tests {
		if got := HumanSize(in); got != want {
			t.Errorf("HumanSize(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestMakeID(t *testing.T) {
	if got := GroupFilename("System Environment/Shells"); got != "System_Environment.Shells.group.html" {
		t.Errorf("GroupFilename = %q", got)
	}
}
