package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
)

// LocalBackend reads and writes entries as a JSON file. It is the
// portable form used to export a store or seed a new one.
type LocalBackend struct {
	Path string
}

// NewLocalBackend creates a JSON backend at path.
func NewLocalBackend(path string) *LocalBackend {
	return &LocalBackend{Path: path}
}

// exportVersion is bumped when the JSON layout changes.
const exportVersion = "1"

// stateFile is the on-disk JSON structure.
type stateFile struct {
	Version string  `json:"version"`
	Entries []Entry `json:"entries"`
}

// Load reads all entries from the JSON file. A missing file yields no
// entries and no error.
func (b *LocalBackend) Load() ([]Entry, error) {
	data, err := os.ReadFile(b.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var sf stateFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", b.Path, err)
	}
	if sf.Version != exportVersion {
		return nil, fmt.Errorf("%s: unsupported export version %q", b.Path, sf.Version)
	}
	return sf.Entries, nil
}

// Save writes all entries to the JSON file sorted by filename.
func (b *LocalBackend) Save(entries []Entry) error {
	data, err := MarshalEntries(entries)
	if err != nil {
		return err
	}
	return os.WriteFile(b.Path, data, 0o644)
}

// MarshalEntries renders entries in the export format, sorted by filename.
func MarshalEntries(entries []Entry) ([]byte, error) {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Filename < sorted[j].Filename
	})
	data, err := json.MarshalIndent(stateFile{Version: exportVersion, Entries: sorted}, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Import buffers every entry into the store. Existing entries with the
// same filename are replaced.
func (s *Store) Import(entries []Entry) error {
	for _, e := range entries {
		if err := s.Upsert(e.Filename, e.Fingerprint); err != nil {
			return err
		}
	}
	return nil
}
