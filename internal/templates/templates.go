// Package templates provides the default page templates and layout assets.
package templates

import (
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
)

//go:embed default
var embedded embed.FS

// Template file names every template directory must provide.
const (
	Index   = "index.html.tmpl"
	Group   = "group.html.tmpl"
	Package = "package.html.tmpl"
	RSS     = "rss.html.tmpl"
)

// LayoutDir is the subdirectory of a template directory copied verbatim
// into the output directory.
const LayoutDir = "layout"

// Required lists the templates a directory must contain.
var Required = []string{Index, Group, Package, RSS}

// Default returns the embedded default theme.
func Default() fs.FS {
	sub, err := fs.Sub(embedded, "default")
	if err != nil {
		panic(err)
	}
	return sub
}

// Open returns the template file system for dir, or the default theme when
// dir is empty. Missing templates are reported together.
func Open(dir string) (fs.FS, error) {
	if dir == "" {
		return Default(), nil
	}
	fsys := os.DirFS(dir)
	var missing []error
	for _, name := range Required {
		if _, err := fs.Stat(fsys, name); err != nil {
			missing = append(missing, fmt.Errorf("template %s: %w", name, err))
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("template directory %s: %w", dir, errors.Join(missing...))
	}
	return fsys, nil
}

// CopyLayout copies the layout directory of fsys to dst unless dst already
// exists. It reports whether anything was copied.
func CopyLayout(fsys fs.FS, dst string) (bool, error) {
	if _, err := os.Stat(dst); err == nil {
		return false, nil
	}
	if _, err := fs.Stat(fsys, LayoutDir); errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}

	err := fs.WalkDir(fsys, LayoutDir, func(name string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel := name[len(LayoutDir):]
		target := filepath.Join(dst, filepath.FromSlash(path.Clean("/"+rel)))
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(fsys, name, target)
	})
	if err != nil {
		return false, fmt.Errorf("copying layout: %w", err)
	}
	return true, nil
}

func copyFile(fsys fs.FS, name, target string) error {
	src, err := fsys.Open(name)
	if err != nil {
		return err
	}
	defer src.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
