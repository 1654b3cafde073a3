package ingress

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/titanworks/titan/pkg/remediation"
)

var (
	t0       = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	highX001 = Key{EquipmentID: "X-001", Severity: remediation.SeverityHigh}
	critX001 = Key{EquipmentID: "X-001", Severity: remediation.SeverityCritical}
)

func TestIndex_Admit(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(ix *Index)
		key        Key
		now        time.Time
		decision   Decision
		runID      string
		superseded string
	}{
		{
			name:     "empty index starts",
			setup:    func(ix *Index) {},
			key:      highX001,
			now:      t0,
			decision: DecisionStart,
			runID:    "new",
		},
		{
			name:     "active same key is a duplicate",
			setup:    func(ix *Index) { ix.Admit(highX001, "r1", t0) },
			key:      highX001,
			now:      t0,
			decision: DecisionDuplicate,
			runID:    "r1",
		},
		{
			name: "completed within window is a duplicate",
			setup: func(ix *Index) {
				ix.Admit(highX001, "r1", t0)
				ix.Complete("r1", t0)
			},
			key:      highX001,
			now:      t0.Add(30 * time.Minute),
			decision: DecisionDuplicate,
			runID:    "r1",
		},
		{
			name: "completed outside window starts",
			setup: func(ix *Index) {
				ix.Admit(highX001, "r1", t0)
				ix.Complete("r1", t0)
			},
			key:      highX001,
			now:      t0.Add(2 * time.Hour),
			decision: DecisionStart,
			runID:    "new",
		},
		{
			name:       "higher severity supersedes active lower",
			setup:      func(ix *Index) { ix.Admit(highX001, "r1", t0) },
			key:        critX001,
			now:        t0,
			decision:   DecisionSupersede,
			runID:      "new",
			superseded: "r1",
		},
		{
			name: "higher severity after lower completed starts",
			setup: func(ix *Index) {
				ix.Admit(highX001, "r1", t0)
				ix.Complete("r1", t0)
			},
			key:      critX001,
			now:      t0,
			decision: DecisionStart,
			runID:    "new",
		},
		{
			name:     "lower severity during active higher is subsumed",
			setup:    func(ix *Index) { ix.Admit(critX001, "r1", t0) },
			key:      highX001,
			now:      t0,
			decision: DecisionDuplicate,
			runID:    "r1",
		},
		{
			name:     "other equipment is independent",
			setup:    func(ix *Index) { ix.Admit(critX001, "r1", t0) },
			key:      Key{EquipmentID: "X-002", Severity: remediation.SeverityHigh},
			now:      t0,
			decision: DecisionStart,
			runID:    "new",
		},
		{
			name: "released entry starts again",
			setup: func(ix *Index) {
				ix.Admit(highX001, "r1", t0)
				ix.Release("r1")
			},
			key:      highX001,
			now:      t0,
			decision: DecisionStart,
			runID:    "new",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ix := NewIndex(time.Hour)
			tt.setup(ix)

			adm := ix.Admit(tt.key, "new", tt.now)
			if adm.Decision != tt.decision {
				t.Errorf("decision = %s, want %s", adm.Decision, tt.decision)
			}
			if adm.RunID != tt.runID {
				t.Errorf("run id = %q, want %q", adm.RunID, tt.runID)
			}
			if adm.Superseded != tt.superseded {
				t.Errorf("superseded = %q, want %q", adm.Superseded, tt.superseded)
			}
		})
	}
}

func TestIndex_SupersedeRemovesLowerEntry(t *testing.T) {
	ix := NewIndex(time.Hour)
	ix.Admit(highX001, "high", t0)
	ix.Admit(critX001, "crit", t0)

	if _, ok := ix.Lookup(highX001); ok {
		t.Error("HIGH entry survived supersession")
	}
	if id, _ := ix.Lookup(critX001); id != "crit" {
		t.Errorf("CRITICAL entry = %q, want crit", id)
	}
	if ix.Release("high") {
		t.Error("released a superseded run")
	}
}

func TestIndex_ZeroWindowKeepsUntilCleared(t *testing.T) {
	ix := NewIndex(0)
	ix.Admit(highX001, "r1", t0)
	ix.Complete("r1", t0)

	if adm := ix.Admit(highX001, "r2", t0.Add(72*time.Hour)); adm.Decision != DecisionDuplicate {
		t.Errorf("decision = %s, want duplicate", adm.Decision)
	}
	if n := ix.Prune(t0.Add(72 * time.Hour)); n != 0 {
		t.Errorf("pruned %d with zero window", n)
	}
	if n := ix.Clear("X-001"); n != 1 {
		t.Errorf("cleared %d, want 1", n)
	}
	if adm := ix.Admit(highX001, "r3", t0); adm.Decision != DecisionStart {
		t.Errorf("decision after clear = %s, want start", adm.Decision)
	}
}

func TestIndex_Prune(t *testing.T) {
	ix := NewIndex(time.Hour)
	ix.Admit(highX001, "done", t0)
	ix.Complete("done", t0)
	ix.Admit(Key{EquipmentID: "X-002", Severity: remediation.SeverityHigh}, "running", t0)

	if n := ix.Prune(t0.Add(2 * time.Hour)); n != 1 {
		t.Errorf("pruned %d, want 1", n)
	}
	if ix.Len() != 1 {
		t.Errorf("len = %d, want 1", ix.Len())
	}
}

func TestIndex_Claim(t *testing.T) {
	ix := NewIndex(time.Hour)
	ix.Admit(critX001, "auto", t0)
	ix.Complete("auto", t0)

	// A completed entry within the window does not block an approval.
	if id, ok := ix.Claim(critX001, "approval"); !ok || id != "approval" {
		t.Fatalf("claim = %q, %v", id, ok)
	}
	if id, ok := ix.Claim(critX001, "second"); ok || id != "approval" {
		t.Errorf("second claim = %q, %v, want refused by approval", id, ok)
	}
}

func TestIndex_ConcurrentAdmit(t *testing.T) {
	ix := NewIndex(time.Hour)
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		starts int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			adm := ix.Admit(critX001, fmt.Sprintf("r%d", i), t0)
			if adm.Decision == DecisionStart {
				mu.Lock()
				starts++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if starts != 1 {
		t.Errorf("starts = %d, want exactly 1", starts)
	}
}
