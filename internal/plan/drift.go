package plan

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/szaher/repoview/internal/state"
)

// DriftType classifies a disagreement between the state store and the
// output directory.
type DriftType string

const (
	// DriftMissing means the store has an entry but the file is gone.
	DriftMissing DriftType = "missing"
	// DriftUntracked means an HTML page exists that the store does not know.
	DriftUntracked DriftType = "untracked"
)

// DriftResult describes detected drift between state and the output tree.
type DriftResult struct {
	HasDrift bool
	Drifted  []DriftEntry
}

// DriftEntry describes a single drifted file.
type DriftEntry struct {
	Filename string
	Type     DriftType
}

// DetectDrift compares the committed entries against the HTML pages in
// outDir. Missing files are rewritten only when their fingerprint changes,
// so drift here usually means someone edited the output by hand.
func DetectDrift(entries []state.Entry, outDir string) (*DriftResult, error) {
	result := &DriftResult{}

	known := make(map[string]bool, len(entries))
	for _, e := range entries {
		known[e.Filename] = true
		_, err := os.Stat(filepath.Join(outDir, e.Filename))
		switch {
		case errors.Is(err, os.ErrNotExist):
			result.Drifted = append(result.Drifted, DriftEntry{Filename: e.Filename, Type: DriftMissing})
		case err != nil:
			return nil, fmt.Errorf("checking %s: %w", e.Filename, err)
		}
	}

	dirEntries, err := os.ReadDir(outDir)
	if err != nil {
		return nil, fmt.Errorf("reading output directory: %w", err)
	}
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, ".html") || known[name] {
			continue
		}
		result.Drifted = append(result.Drifted, DriftEntry{Filename: name, Type: DriftUntracked})
	}

	sort.Slice(result.Drifted, func(i, j int) bool {
		return result.Drifted[i].Filename < result.Drifted[j].Filename
	})
	result.HasDrift = len(result.Drifted) > 0
	return result, nil
}
