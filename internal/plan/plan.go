// Package plan implements change detection for generated pages: it decides
// whether each page must be written and tracks which previously written
// pages were never revisited during a pass.
package plan

import (
	"errors"
	"fmt"
	"sort"

	"github.com/szaher/repoview/internal/fingerprint"
	"github.com/szaher/repoview/internal/state"
)

// ActionType is what a pass does with one output file.
type ActionType string

const (
	ActionCreate ActionType = "create"
	ActionUpdate ActionType = "update"
	ActionNoop   ActionType = "noop"
	ActionDelete ActionType = "delete"
)

// Action is one decision taken during a pass.
type Action struct {
	Filename string
	Type     ActionType
	Reason   string
}

// Plan is the ordered log of decisions for a pass.
type Plan struct {
	Actions    []Action
	HasChanges bool
}

// ErrDuplicateFilename is returned when a filename is checked twice in the
// same pass. A second check would remove nothing from the pending set and
// hide the first decision, so it is refused.
var ErrDuplicateFilename = errors.New("filename already checked in this pass")

// Detector compares fresh fingerprints with the snapshot loaded at the
// start of a pass. It buffers store updates for changed pages and drains
// the pending set as filenames are checked; whatever is left at the end
// of the pass is the orphan set.
type Detector struct {
	store   state.Writer
	stored  map[string]string
	pending map[string]struct{}
	seen    map[string]struct{}
	actions []Action
}

// NewDetector starts a pass from the snapshot returned by the store's
// LoadAll.
func NewDetector(store state.Writer, snapshot map[string]string) *Detector {
	d := &Detector{
		store:   store,
		stored:  make(map[string]string, len(snapshot)),
		pending: make(map[string]struct{}, len(snapshot)),
		seen:    make(map[string]struct{}),
	}
	for name, fp := range snapshot {
		d.stored[name] = fp
		d.pending[name] = struct{}{}
	}
	return d
}

// HasChanged reports whether filename must be written for fingerprint fp.
//
//	not pending                   -> upsert, true
//	pending, fingerprint differs  -> upsert, drop from pending, true
//	pending, fingerprint matches  -> drop from pending, false
func (d *Detector) HasChanged(filename string, fp fingerprint.Fingerprint) (bool, error) {
	if _, dup := d.seen[filename]; dup {
		return false, fmt.Errorf("%w: %s", ErrDuplicateFilename, filename)
	}
	d.seen[filename] = struct{}{}

	if _, ok := d.pending[filename]; !ok {
		if err := d.store.Upsert(filename, string(fp)); err != nil {
			return false, err
		}
		d.record(filename, ActionCreate, "page not in state")
		return true, nil
	}

	delete(d.pending, filename)
	if d.stored[filename] != string(fp) {
		if err := d.store.Upsert(filename, string(fp)); err != nil {
			return false, err
		}
		d.record(filename, ActionUpdate, "fingerprint changed")
		return true, nil
	}
	d.record(filename, ActionNoop, "unchanged")
	return false, nil
}

// Checked reports whether filename went through HasChanged in this pass.
func (d *Detector) Checked(filename string) bool {
	_, ok := d.seen[filename]
	return ok
}

// Pending returns the filenames loaded at pass start that have not been
// checked yet, sorted.
func (d *Detector) Pending() []string {
	out := make([]string, 0, len(d.pending))
	for name := range d.pending {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// RecordDeleted adds removal decisions taken by the reaper to the log.
func (d *Detector) RecordDeleted(filenames []string) {
	for _, name := range filenames {
		d.record(name, ActionDelete, "page no longer generated")
	}
}

func (d *Detector) record(filename string, t ActionType, reason string) {
	d.actions = append(d.actions, Action{Filename: filename, Type: t, Reason: reason})
}

// Plan returns the decisions so far, sorted by filename.
func (d *Detector) Plan() *Plan {
	actions := make([]Action, len(d.actions))
	copy(actions, d.actions)
	sort.SliceStable(actions, func(i, j int) bool {
		return actions[i].Filename < actions[j].Filename
	})

	p := &Plan{Actions: actions}
	for _, a := range actions {
		if a.Type != ActionNoop {
			p.HasChanges = true
			break
		}
	}
	return p
}

// Counts tallies the plan by action type.
func (p *Plan) Counts() map[ActionType]int {
	counts := make(map[ActionType]int, 4)
	for _, a := range p.Actions {
		counts[a.Type]++
	}
	return counts
}
