// Package ledger tracks which source files have been consumed by the engine.
// The ledger is part of every checkpoint: a file present in it is never
// pulled into a batch again, which is what makes replay after restart safe.
package ledger

import "sort"

// Ledger records the terminal states of source files. Committed files were
// fully counted into aggregate state exactly once; quarantined files failed
// repeatedly and are excluded from all future batches.
type Ledger struct {
	// Committed maps file path to the batch id that consumed it.
	Committed map[string]uint64 `json:"committed"`
	// Quarantined maps file path to the reason it was put aside.
	Quarantined map[string]string `json:"quarantined"`
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{
		Committed:   make(map[string]uint64),
		Quarantined: make(map[string]string),
	}
}

// Clone returns an independent deep copy. Commit works on a clone so an
// aborted tick leaves the live ledger untouched.
func (l *Ledger) Clone() *Ledger {
	c := New()

	for path, batch := range l.Committed {
		c.Committed[path] = batch
	}

	for path, reason := range l.Quarantined {
		c.Quarantined[path] = reason
	}

	return c
}

// Excluded reports whether a path must not enter another batch.
func (l *Ledger) Excluded(path string) bool {
	if _, ok := l.Committed[path]; ok {
		return true
	}

	_, ok := l.Quarantined[path]

	return ok
}

// MarkCommitted records that the given paths were consumed by a batch.
func (l *Ledger) MarkCommitted(paths []string, batchID uint64) {
	for _, p := range paths {
		l.Committed[p] = batchID
	}
}

// MarkQuarantined records that a path is permanently excluded.
func (l *Ledger) MarkQuarantined(path, reason string) {
	l.Quarantined[path] = reason
}

// CommittedPaths returns the committed paths in deterministic order.
func (l *Ledger) CommittedPaths() []string {
	paths := make([]string, 0, len(l.Committed))
	for p := range l.Committed {
		paths = append(paths, p)
	}

	sort.Strings(paths)

	return paths
}

// Counts returns the number of committed and quarantined files.
func (l *Ledger) Counts() (committed, quarantined int) {
	return len(l.Committed), len(l.Quarantined)
}
