// Package state persists the fingerprint of every generated page so that
// later passes can skip pages whose content has not changed.
package state

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
)

// FileName is the state file name used when it lives inside the output
// directory.
const FileName = "state.db"

// Entry records the fingerprint of one previously written output file.
type Entry struct {
	Filename    string `json:"filename"`
	Fingerprint string `json:"fingerprint"`
}

// FreshReason explains why a store started without usable entries.
type FreshReason string

const (
	NotFresh             FreshReason = ""
	FreshMissing         FreshReason = "missing"
	FreshCorrupt         FreshReason = "corrupt"
	FreshVersionMismatch FreshReason = "version-mismatch"
	FreshForced          FreshReason = "forced"
)

// Writer buffers mutations for the current pass.
type Writer interface {
	// Upsert inserts or replaces the fingerprint stored for filename.
	Upsert(filename, fingerprint string) error

	// Delete removes the entry for filename.
	Delete(filename string) error
}

// Location returns where the state file for outDir lives. Without a shared
// state directory the file sits inside outDir. With one, the file name is
// derived from a digest of the absolute output path so that several
// repositories can share the directory.
func Location(outDir, stateDir string) (string, error) {
	if stateDir == "" {
		return filepath.Join(outDir, FileName), nil
	}
	abs, err := filepath.Abs(outDir)
	if err != nil {
		return "", fmt.Errorf("resolving output directory: %w", err)
	}
	sum := sha256.Sum256([]byte(filepath.Clean(abs)))
	return filepath.Join(stateDir, hex.EncodeToString(sum[:16])+".state.db"), nil
}
