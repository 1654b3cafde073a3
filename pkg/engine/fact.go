package engine

// FactType names a nominal fact type. Two facts with identical payloads but
// different FactTypes are unrelated as far as planning is concerned.
type FactType string

// Fact is any typed value placed on a run's fact store.
type Fact interface {
	FactType() FactType
}

// Variant is a fact that belongs to a sealed branch family. Exactly one
// variant of a family may exist in a run; the family type itself is
// satisfied by whichever variant was produced.
type Variant interface {
	Fact
	Branch() FactType
}

// FactReader is the read-only view of a fact store handed to actions.
type FactReader interface {
	Get(t FactType) (Fact, bool)
	Has(t FactType) bool
}

// familyOf returns the branch family of f, or the empty type for plain facts.
func familyOf(f Fact) FactType {
	if v, ok := f.(Variant); ok {
		return v.Branch()
	}
	return ""
}

// Lookup fetches a fact of type t from r and asserts it to T.
func Lookup[T Fact](r FactReader, t FactType) (T, bool) {
	var zero T
	f, ok := r.Get(t)
	if !ok {
		return zero, false
	}
	v, ok := f.(T)
	return v, ok
}

// Require is Lookup for mandatory inputs; a missing or mistyped input is a
// catalogue bug and is reported as a permanent error.
func Require[T Fact](r FactReader, t FactType) (T, error) {
	v, ok := Lookup[T](r, t)
	if !ok {
		return v, NewPermanentError("required input missing or mistyped", nil).
			WithCode(ErrCodeInvalidState).
			WithDetail("fact_type", string(t))
	}
	return v, nil
}
