package templates

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/szaher/repoview/internal/testutil"
)

func TestDefaultHasRequired(t *testing.T) {
	fsys := Default()
	for _, name := range Required {
		if _, err := fs.Stat(fsys, name); err != nil {
			t.Errorf("default theme missing %s: %v", name, err)
		}
	}
}

func TestOpen(t *testing.T) {
	t.Run("empty dir means default", func(t *testing.T) {
		fsys, err := Open("")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fs.Stat(fsys, Index); err != nil {
			t.Error(err)
		}
	})
	t.Run("incomplete directory", func(t *testing.T) {
		dir := t.TempDir()
		testutil.WriteFile(t, dir, Index, "x")
		_, err := Open(dir)
		testutil.AssertErrorContains(t, err, Package)
		if !strings.Contains(err.Error(), RSS) {
			t.Errorf("error should name every missing template: %v", err)
		}
	})
	t.Run("complete directory", func(t *testing.T) {
		dir := t.TempDir()
		for _, name := range Required {
			testutil.WriteFile(t, dir, name, name)
		}
		if _, err := Open(dir); err != nil {
			t.Errorf("Open: %v", err)
		}
	})
}

func TestCopyLayout(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "layout")

	copied, err := CopyLayout(Default(), dst)
	if err != nil {
		t.Fatalf("CopyLayout: %v", err)
	}
	if !copied {
		t.Fatal("nothing copied into a missing destination")
	}
	css := filepath.Join(dst, "repostyle.css")
	if _, err := os.Stat(css); err != nil {
		t.Fatalf("stylesheet not copied: %v", err)
	}

	if err := os.WriteFile(css, []byte("custom"), 0o644); err != nil {
		t.Fatal(err)
	}
	copied, err = CopyLayout(Default(), dst)
	if err != nil {
		t.Fatal(err)
	}
	if copied {
		t.Error("existing layout overwritten")
	}
	data, _ := os.ReadFile(css)
	if string(data) != "custom" {
		t.Errorf("stylesheet = %q", data)
	}
}

func TestCopyLayout_NoLayoutInTheme(t *testing.T) {
	src := t.TempDir()
	testutil.WriteFile(t, src, Index, "x")
	copied, err := CopyLayout(os.DirFS(src), filepath.Join(t.TempDir(), "layout"))
	if err != nil || copied {
		t.Errorf("copied=%v err=%v", copied, err)
	}
}
