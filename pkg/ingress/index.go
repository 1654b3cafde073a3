package ingress

import (
	"sync"
	"time"

	"github.com/titanworks/titan/pkg/remediation"
)

// Decision is the outcome of admitting an event into the index.
type Decision string

const (
	// DecisionStart means a new run was admitted.
	DecisionStart Decision = "start"

	// DecisionDuplicate means a run for the same key is active or still
	// within its validity window.
	DecisionDuplicate Decision = "duplicate"

	// DecisionSupersede means a new run was admitted and took over from an
	// active lower-severity run.
	DecisionSupersede Decision = "supersede"

	// DecisionRedelivered means the event id was already processed.
	DecisionRedelivered Decision = "redelivered"

	// DecisionPendingApproval means a HIGH event arrived while a
	// recommendation for the equipment is still awaiting a decision.
	DecisionPendingApproval Decision = "pending_approval"
)

// Key identifies an index entry.
type Key struct {
	EquipmentID string
	Severity    remediation.Severity
}

type entry struct {
	runID       string
	active      bool
	completedAt time.Time
}

// Admission is the result of Index.Admit.
type Admission struct {
	Decision Decision

	// RunID is the admitted run, or the existing run for duplicates.
	RunID string

	// Superseded is the lower-severity run taken over, if any.
	Superseded string
}

// Index is the dedup/escalation index. It maps (equipment, severity) to the
// run handling it. Every mutation happens under one mutex; nothing else is
// done while it is held.
type Index struct {
	mu      sync.Mutex
	entries map[Key]*entry
	byRun   map[string]Key
	window  time.Duration
}

// NewIndex creates an index whose completed entries stay valid for window.
// A zero window keeps completed entries until the equipment recovers.
func NewIndex(window time.Duration) *Index {
	return &Index{
		entries: make(map[Key]*entry),
		byRun:   make(map[string]Key),
		window:  window,
	}
}

func (ix *Index) live(e *entry, now time.Time) bool {
	if e.active {
		return true
	}
	return ix.window <= 0 || now.Sub(e.completedAt) < ix.window
}

// Admit atomically decides what to do with an event for key and, unless it
// is a duplicate, records runID as the handler of key.
func (ix *Index) Admit(key Key, runID string, now time.Time) Admission {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if e, ok := ix.entries[key]; ok && ix.live(e, now) {
		return Admission{Decision: DecisionDuplicate, RunID: e.runID}
	}

	// A lower severity is subsumed by a higher one in progress.
	for k, e := range ix.entries {
		if k.EquipmentID == key.EquipmentID && k.Severity.Rank() > key.Severity.Rank() && e.active {
			return Admission{Decision: DecisionDuplicate, RunID: e.runID}
		}
	}

	adm := Admission{Decision: DecisionStart, RunID: runID}
	for k, e := range ix.entries {
		if k.EquipmentID != key.EquipmentID || k.Severity.Rank() >= key.Severity.Rank() {
			continue
		}
		if e.active {
			adm.Decision = DecisionSupersede
			adm.Superseded = e.runID
			ix.remove(k)
		}
	}

	ix.remove(key)
	ix.entries[key] = &entry{runID: runID, active: true}
	ix.byRun[runID] = key
	return adm
}

// Claim records runID as the handler of key for an operator-initiated run.
// Unlike Admit it ignores the validity window; it only refuses while another
// run for key is active, returning that run.
func (ix *Index) Claim(key Key, runID string) (string, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if e, ok := ix.entries[key]; ok && e.active {
		return e.runID, false
	}
	ix.remove(key)
	ix.entries[key] = &entry{runID: runID, active: true}
	ix.byRun[runID] = key
	return runID, true
}

func (ix *Index) remove(k Key) {
	if e, ok := ix.entries[k]; ok {
		delete(ix.byRun, e.runID)
		delete(ix.entries, k)
	}
}

// Complete marks the run's entry as finished. It stays in the index for the
// validity window so repeats of the same event are still discarded.
func (ix *Index) Complete(runID string, now time.Time) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if k, ok := ix.byRun[runID]; ok {
		e := ix.entries[k]
		e.active = false
		e.completedAt = now
	}
}

// Release drops the run's entry so a fresh event can retrigger.
func (ix *Index) Release(runID string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	k, ok := ix.byRun[runID]
	if !ok {
		return false
	}
	ix.remove(k)
	return true
}

// Clear drops every entry of an equipment that returned to normal and
// returns how many were removed.
func (ix *Index) Clear(equipmentID string) int {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	n := 0
	for k := range ix.entries {
		if k.EquipmentID == equipmentID {
			ix.remove(k)
			n++
		}
	}
	return n
}

// Prune drops completed entries older than the validity window.
func (ix *Index) Prune(now time.Time) int {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.window <= 0 {
		return 0
	}
	n := 0
	for k, e := range ix.entries {
		if !ix.live(e, now) {
			ix.remove(k)
			n++
		}
	}
	return n
}

// Lookup returns the run currently registered for key.
func (ix *Index) Lookup(key Key) (string, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	e, ok := ix.entries[key]
	if !ok {
		return "", false
	}
	return e.runID, true
}

// Len returns the number of entries.
func (ix *Index) Len() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.entries)
}
