package engine

import (
	"sort"
	"sync"
)

// FactStore is the per-run blackboard. Facts are write-once per type: a
// second Put of an existing type, or of another variant of an already
// materialised branch family, fails with a duplicate-fact error.
//
// FactStore is safe for concurrent use. Only the owning run writes; status
// readers may inspect it while the run is in flight.
type FactStore struct {
	mu       sync.RWMutex
	facts    map[FactType]Fact
	families map[FactType]FactType // family -> concrete variant type
	order    []FactType
}

// NewFactStore creates a store pre-seeded with the given facts.
func NewFactStore(seed ...Fact) (*FactStore, error) {
	s := &FactStore{
		facts:    make(map[FactType]Fact),
		families: make(map[FactType]FactType),
	}
	for _, f := range seed {
		if err := s.Put(f); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Put adds a fact to the store.
func (s *FactStore) Put(f Fact) error {
	if f == nil {
		return NewPermanentError("nil fact", nil).WithCode(ErrCodeValidation)
	}
	t := f.FactType()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.facts[t]; exists {
		return NewDuplicateFactError(t)
	}
	family := familyOf(f)
	if family != "" {
		if _, exists := s.families[family]; exists {
			return NewDuplicateFactError(family)
		}
		s.families[family] = t
	}

	s.facts[t] = f
	s.order = append(s.order, t)
	return nil
}

// Get returns the fact of type t. A branch family type resolves to the
// variant that was produced for it.
func (s *FactStore) Get(t FactType) (Fact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if f, ok := s.facts[t]; ok {
		return f, true
	}
	if concrete, ok := s.families[t]; ok {
		return s.facts[concrete], true
	}
	return nil, false
}

// Has reports whether a fact of type t (or a variant of family t) exists.
func (s *FactStore) Has(t FactType) bool {
	_, ok := s.Get(t)
	return ok
}

// Foreclosed reports whether t is a variant whose family already holds a
// different variant, making t permanently unreachable for this run.
func (s *FactStore) foreclosed(t FactType, family FactType) bool {
	if family == "" {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	concrete, ok := s.families[family]
	return ok && concrete != t
}

// Len returns the number of facts in the store.
func (s *FactStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Types returns the concrete fact types in insertion order.
func (s *FactStore) Types() []FactType {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]FactType, len(s.order))
	copy(out, s.order)
	return out
}

// Last returns the most recently written fact, or nil for an empty store.
func (s *FactStore) Last() Fact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.order) == 0 {
		return nil
	}
	return s.facts[s.order[len(s.order)-1]]
}

// Snapshot returns a copy of all facts keyed by concrete type.
func (s *FactStore) Snapshot() map[FactType]Fact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[FactType]Fact, len(s.facts))
	for t, f := range s.facts {
		out[t] = f
	}
	return out
}

// sortedTypes returns the present concrete types sorted by name.
func (s *FactStore) sortedTypes() []FactType {
	types := s.Types()
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
