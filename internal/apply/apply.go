// Package apply carries out the decisions of a pass on the output
// directory: it writes changed pages and removes orphaned ones.
package apply

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/szaher/repoview/internal/state"
)

// ErrOutsideRoot is returned for filenames that would resolve outside the
// output directory.
var ErrOutsideRoot = errors.New("filename escapes the output directory")

// Resolve joins filename onto outRoot, refusing absolute names and names
// that climb out of the root.
func Resolve(outRoot, filename string) (string, error) {
	if !filepath.IsLocal(filename) {
		return "", fmt.Errorf("%w: %q", ErrOutsideRoot, filename)
	}
	return filepath.Join(outRoot, filename), nil
}

// WriteWith streams a page through fn into a temporary file next to the
// target and renames it into place, so readers never see a half-written
// page. The temporary file is removed if fn fails.
func WriteWith(outRoot, filename string, fn func(w io.Writer) error) (err error) {
	path, err := Resolve(outRoot, filename)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", filename, err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err = fn(tmp); err != nil {
		return err
	}
	if err = tmp.Chmod(0o644); err != nil {
		return fmt.Errorf("chmod %s: %w", filename, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", filename, err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("renaming %s into place: %w", filename, err)
	}
	return nil
}

// WriteFile writes data to outRoot/filename atomically.
func WriteFile(outRoot, filename string, data []byte) error {
	return WriteWith(outRoot, filename, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// OrphanDeleteWarning records an orphan whose file was already gone. Its
// state entry is still removed.
type OrphanDeleteWarning struct {
	Filename string
}

func (w OrphanDeleteWarning) String() string {
	return fmt.Sprintf("orphan %s was already absent", w.Filename)
}

// ReapResult lists what the reaper removed.
type ReapResult struct {
	Removed  []string
	Warnings []OrphanDeleteWarning
}

// Reap deletes every pending filename from outRoot and buffers the removal
// of its state entry. It must run after every page of the pass has been
// checked and before the store is committed. A file that is already
// missing produces a warning, not an error.
func Reap(store state.Writer, pending []string, outRoot string) (*ReapResult, error) {
	names := make([]string, len(pending))
	copy(names, pending)
	sort.Strings(names)

	result := &ReapResult{}
	for _, name := range names {
		path, err := Resolve(outRoot, name)
		if err != nil {
			return result, err
		}
		switch err := os.Remove(path); {
		case errors.Is(err, os.ErrNotExist):
			result.Warnings = append(result.Warnings, OrphanDeleteWarning{Filename: name})
		case err != nil:
			return result, fmt.Errorf("removing orphan %s: %w", name, err)
		}
		if err := store.Delete(name); err != nil {
			return result, err
		}
		result.Removed = append(result.Removed, name)
	}
	return result, nil
}
