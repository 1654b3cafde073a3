package engine

import (
	"sync"
	"testing"
)

func TestFactStore_PutGetHas(t *testing.T) {
	s, err := NewFactStore(fact("Seed"))
	if err != nil {
		t.Fatalf("NewFactStore failed: %v", err)
	}

	if !s.Has("Seed") {
		t.Error("expected seed fact to be present")
	}
	if s.Has("Reading") {
		t.Error("expected Reading to be absent")
	}

	if err := s.Put(testFact{typ: "Reading", value: "42"}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	got, ok := s.Get("Reading")
	if !ok {
		t.Fatal("expected Reading after Put")
	}
	if got.(testFact).value != "42" {
		t.Errorf("value = %q, want 42", got.(testFact).value)
	}
	if s.Len() != 2 {
		t.Errorf("Len = %d, want 2", s.Len())
	}
}

func TestFactStore_WriteOnce(t *testing.T) {
	s, _ := NewFactStore()
	if err := s.Put(testFact{typ: "Reading", value: "first"}); err != nil {
		t.Fatalf("first Put failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		err := s.Put(testFact{typ: "Reading", value: "second"})
		if !IsDuplicateFact(err) {
			t.Fatalf("expected duplicate fact error, got %v", err)
		}
	}

	got, _ := s.Get("Reading")
	if got.(testFact).value != "first" {
		t.Errorf("fact was overwritten: %q", got.(testFact).value)
	}
}

func TestFactStore_SeedDuplicate(t *testing.T) {
	_, err := NewFactStore(fact("Seed"), fact("Seed"))
	if !IsDuplicateFact(err) {
		t.Fatalf("expected duplicate fact error for duplicate seed, got %v", err)
	}
}

func TestFactStore_BranchFamily(t *testing.T) {
	s, _ := NewFactStore()
	if err := s.Put(testVariant{typ: "Calm", family: "Triage"}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if !s.Has("Triage") {
		t.Error("family type should resolve to the produced variant")
	}
	f, ok := s.Get("Triage")
	if !ok || f.FactType() != "Calm" {
		t.Errorf("Get(Triage) = %v, %v", f, ok)
	}

	err := s.Put(testVariant{typ: "Urgent", family: "Triage"})
	if !IsDuplicateFact(err) {
		t.Fatalf("second variant must be rejected, got %v", err)
	}
	if s.Has("Urgent") {
		t.Error("rejected variant must not be stored")
	}

	if !s.foreclosed("Urgent", "Triage") {
		t.Error("sibling variant should be foreclosed")
	}
	if s.foreclosed("Calm", "Triage") {
		t.Error("produced variant is not foreclosed")
	}
	if s.foreclosed("Reading", "") {
		t.Error("plain facts are never foreclosed")
	}
}

func TestFactStore_OrderAndLast(t *testing.T) {
	s, _ := NewFactStore()
	if s.Last() != nil {
		t.Error("empty store should have no last fact")
	}
	for _, ft := range []FactType{"A", "B", "C"} {
		if err := s.Put(fact(ft)); err != nil {
			t.Fatalf("Put(%s) failed: %v", ft, err)
		}
	}

	types := s.Types()
	want := []FactType{"A", "B", "C"}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("Types()[%d] = %s, want %s", i, types[i], want[i])
		}
	}
	if s.Last().FactType() != "C" {
		t.Errorf("Last = %s, want C", s.Last().FactType())
	}
	if len(s.Snapshot()) != 3 {
		t.Errorf("Snapshot len = %d, want 3", len(s.Snapshot()))
	}
}

func TestFactStore_NilFact(t *testing.T) {
	s, _ := NewFactStore()
	if err := s.Put(nil); err == nil {
		t.Error("expected error for nil fact")
	}
}

func TestFactStore_ConcurrentReaders(t *testing.T) {
	s, _ := NewFactStore(fact("Seed"))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Has("Seed")
				s.Types()
				s.Snapshot()
			}
		}()
	}
	for _, ft := range []FactType{"A", "B", "C", "D"} {
		if err := s.Put(fact(ft)); err != nil {
			t.Errorf("Put(%s) failed: %v", ft, err)
		}
	}
	wg.Wait()

	if s.Len() != 5 {
		t.Errorf("Len = %d, want 5", s.Len())
	}
}

func TestLookupAndRequire(t *testing.T) {
	s, _ := NewFactStore(testFact{typ: "Reading", value: "7"})

	f, ok := Lookup[testFact](s, "Reading")
	if !ok || f.value != "7" {
		t.Errorf("Lookup = %v, %v", f, ok)
	}
	if _, ok := Lookup[testVariant](s, "Reading"); ok {
		t.Error("Lookup with wrong type should fail")
	}
	if _, err := Require[testFact](s, "Missing"); err == nil {
		t.Error("Require of missing fact should fail")
	}
}
