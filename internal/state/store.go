package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	bolt "go.etcd.io/bbolt"
)

// SchemaVersion is the layout version written to the meta bucket. A store
// written with any other version is discarded and rebuilt.
const SchemaVersion = 1

var (
	bucketPages = []byte("pages")
	bucketMeta  = []byte("meta")
	keyVersion  = []byte("version")
)

var (
	// ErrClosed is returned for operations after Commit or Close.
	ErrClosed = errors.New("state store is closed")

	// ErrAlreadyLoaded is returned when LoadAll is called twice in one pass.
	ErrAlreadyLoaded = errors.New("state already loaded for this pass")

	// ErrLocked is returned when another process holds the state file.
	ErrLocked = errors.New("state store is locked by another build")
)

// Options controls how a store is opened.
type Options struct {
	// Force discards every stored fingerprint before LoadAll.
	Force bool

	// LockTimeout bounds the wait for the file lock.
	LockTimeout time.Duration
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{LockTimeout: 30 * time.Second}
}

// Store is a bbolt-backed table of filename to fingerprint. Open starts a
// single write transaction; every mutation is buffered in it until Commit.
// Closing without committing rolls the pass back.
type Store struct {
	path      string
	db        *bolt.DB
	tx        *bolt.Tx
	fresh     FreshReason
	discarded []string
	loaded    bool
}

// Open opens or creates the store at path and begins the pass transaction.
// A missing, unreadable or incompatible file is not an error: the store
// starts empty and Fresh reports why.
func Open(path string, opts Options) (*Store, error) {
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = DefaultOptions().LockTimeout
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	fresh := NotFresh
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		fresh = FreshMissing
	}

	db, err := openDB(path, opts.LockTimeout)
	if err != nil {
		if errors.Is(err, bolt.ErrTimeout) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, path)
		}
		// Unreadable file: keep it for inspection and start over.
		if rerr := os.Rename(path, path+".corrupt"); rerr != nil {
			return nil, fmt.Errorf("opening state %s: %w (moving it aside: %v)", path, err, rerr)
		}
		db, err = openDB(path, opts.LockTimeout)
		if err != nil {
			return nil, fmt.Errorf("recreating state %s: %w", path, err)
		}
		fresh = FreshCorrupt
	}

	tx, err := db.Begin(true)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("beginning state transaction: %w", err)
	}

	s := &Store{path: path, db: db, tx: tx, fresh: fresh}
	if err := s.prepare(opts.Force); err != nil {
		_ = tx.Rollback()
		db.Close()
		return nil, err
	}
	return s, nil
}

func openDB(path string, timeout time.Duration) (*bolt.DB, error) {
	return bolt.Open(path, 0o644, &bolt.Options{Timeout: timeout})
}

// prepare validates the schema version inside the pass transaction and
// resets the pages bucket when the stored entries cannot be trusted.
func (s *Store) prepare(force bool) error {
	meta, err := s.tx.CreateBucketIfNotExists(bucketMeta)
	if err != nil {
		return fmt.Errorf("creating meta bucket: %w", err)
	}

	stored := meta.Get(keyVersion)
	want := strconv.Itoa(SchemaVersion)
	switch {
	case stored == nil && s.tx.Bucket(bucketPages) == nil:
		if s.fresh == NotFresh {
			s.fresh = FreshMissing
		}
	case string(stored) != want:
		if err := s.reset(); err != nil {
			return err
		}
		s.fresh = FreshVersionMismatch
	}

	if force {
		if err := s.reset(); err != nil {
			return err
		}
		s.fresh = FreshForced
	}

	if err := meta.Put(keyVersion, []byte(want)); err != nil {
		return fmt.Errorf("writing schema version: %w", err)
	}
	if _, err := s.tx.CreateBucketIfNotExists(bucketPages); err != nil {
		return fmt.Errorf("creating pages bucket: %w", err)
	}
	return nil
}

// reset drops the pages bucket, remembering which filenames it named.
func (s *Store) reset() error {
	b := s.tx.Bucket(bucketPages)
	if b == nil {
		return nil
	}
	err := b.ForEach(func(k, _ []byte) error {
		s.discarded = append(s.discarded, string(k))
		return nil
	})
	if err != nil {
		return fmt.Errorf("reading discarded entries: %w", err)
	}
	sort.Strings(s.discarded)
	s.discarded = compact(s.discarded)
	if err := s.tx.DeleteBucket(bucketPages); err != nil {
		return fmt.Errorf("dropping pages bucket: %w", err)
	}
	return nil
}

func compact(sorted []string) []string {
	out := sorted[:0]
	for i, v := range sorted {
		if i > 0 && v == sorted[i-1] {
			continue
		}
		out = append(out, v)
	}
	return out
}

// Path returns the location of the state file.
func (s *Store) Path() string { return s.path }

// Fresh reports whether the pass starts without trusted entries.
func (s *Store) Fresh() bool { return s.fresh != NotFresh }

// FreshReason says why the store started empty.
func (s *Store) FreshReason() FreshReason { return s.fresh }

// Discarded returns the filenames whose entries were dropped when the
// store was reset (forced rebuild or schema mismatch), sorted.
func (s *Store) Discarded() []string {
	out := make([]string, len(s.discarded))
	copy(out, s.discarded)
	return out
}

// LoadAll returns every stored entry. It may be called once per pass.
func (s *Store) LoadAll() (map[string]string, error) {
	if s.tx == nil {
		return nil, ErrClosed
	}
	if s.loaded {
		return nil, ErrAlreadyLoaded
	}
	s.loaded = true

	out := make(map[string]string)
	err := s.tx.Bucket(bucketPages).ForEach(func(k, v []byte) error {
		out[string(k)] = string(v)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading state: %w", err)
	}
	return out, nil
}

// Upsert buffers an insert or update of one entry.
func (s *Store) Upsert(filename, fingerprint string) error {
	if s.tx == nil {
		return ErrClosed
	}
	if filename == "" {
		return errors.New("state: empty filename")
	}
	if err := s.tx.Bucket(bucketPages).Put([]byte(filename), []byte(fingerprint)); err != nil {
		return fmt.Errorf("upserting %s: %w", filename, err)
	}
	return nil
}

// Delete buffers the removal of one entry.
func (s *Store) Delete(filename string) error {
	if s.tx == nil {
		return ErrClosed
	}
	if err := s.tx.Bucket(bucketPages).Delete([]byte(filename)); err != nil {
		return fmt.Errorf("deleting %s: %w", filename, err)
	}
	return nil
}

// Entries lists the entries as seen by the pass transaction, sorted by
// filename.
func (s *Store) Entries() ([]Entry, error) {
	if s.tx == nil {
		return nil, ErrClosed
	}
	return entries(s.tx)
}

// Commit durably persists every buffered mutation. No further mutation is
// accepted afterwards.
func (s *Store) Commit() error {
	if s.tx == nil {
		return ErrClosed
	}
	tx := s.tx
	s.tx = nil
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing state: %w", err)
	}
	return nil
}

// Close rolls back an uncommitted pass and releases the file.
func (s *Store) Close() error {
	if s.tx != nil {
		_ = s.tx.Rollback()
		s.tx = nil
	}
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// ReadEntries lists the committed entries of the store at path without
// taking the write lock. A missing file yields os.ErrNotExist.
func ReadEntries(path string) ([]Entry, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o644, &bolt.Options{ReadOnly: true, Timeout: DefaultOptions().LockTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state %s: %w", path, err)
	}
	defer db.Close()

	var out []Entry
	err = db.View(func(tx *bolt.Tx) error {
		var err error
		out, err = entries(tx)
		return err
	})
	return out, err
}

func entries(tx *bolt.Tx) ([]Entry, error) {
	b := tx.Bucket(bucketPages)
	if b == nil {
		return nil, nil
	}
	var out []Entry
	// bbolt iterates keys in byte order, which is already sorted.
	err := b.ForEach(func(k, v []byte) error {
		out = append(out, Entry{Filename: string(k), Fingerprint: string(v)})
		return nil
	})
	return out, err
}
