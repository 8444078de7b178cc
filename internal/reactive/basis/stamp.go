// Package basis implements the BasisStamp algebra from the causal-consistency
// design: a mapping from Src-cell address to the iteration of that cell a
// value causally depends on.
package basis

import (
	"maps"

	"github.com/reactorlang/runtime/internal/reactive"
)

// Stamp is an immutable-by-convention map from Src address to iteration.
// Callers must treat a Stamp returned from this package as read-only; use
// the constructors below to derive new ones instead of mutating in place.
type Stamp map[reactive.Address]reactive.Iteration

// Empty is the identity element for Merge.
func Empty() Stamp {
	return Stamp{}
}

// Singleton builds the one-entry stamp a Src write publishes.
func Singleton(addr reactive.Address, it reactive.Iteration) Stamp {
	return Stamp{addr: it}
}

// Clone returns an independent copy of s.
func (s Stamp) Clone() Stamp {
	out := make(Stamp, len(s))
	maps.Copy(out, s)
	return out
}

// Compatible reports whether s and other agree on the iteration of every
// address present in both. This is the condition the merge algorithm (§4.3)
// requires before combining two stamps; it is stricter than ≤.
func (s Stamp) Compatible(other Stamp) bool {
	small, big := s, other
	if len(big) < len(small) {
		small, big = big, small
	}
	for addr, it := range small {
		if bIt, ok := big[addr]; ok && bIt != it {
			return false
		}
	}
	return true
}

// Merge takes the entrywise maximum of two compatible stamps. Merge is
// commutative, associative and idempotent, and Empty is its identity. The
// caller must have already checked Compatible; Merge does not validate.
func Merge(a, b Stamp) Stamp {
	out := make(Stamp, len(a)+len(b))
	maps.Copy(out, a)
	for addr, it := range b {
		if cur, ok := out[addr]; !ok || it > cur {
			out[addr] = it
		}
	}
	return out
}

// MergeAll folds Merge over a slice of stamps, returning Empty for an empty
// slice.
func MergeAll(stamps ...Stamp) Stamp {
	out := Empty()
	for _, s := range stamps {
		out = Merge(out, s)
	}
	return out
}

// LessEqual implements the partial order a ≤ b: every key in a is present
// in b with an iteration no greater.
func LessEqual(a, b Stamp) bool {
	for addr, it := range a {
		bIt, ok := b[addr]
		if !ok || it > bIt {
			return false
		}
	}
	return true
}

// Equal reports whether a and b have exactly the same entries.
func Equal(a, b Stamp) bool {
	if len(a) != len(b) {
		return false
	}
	for addr, it := range a {
		if bIt, ok := b[addr]; !ok || bIt != it {
			return false
		}
	}
	return true
}

// StrictlyAdvances reports whether next strictly advances cur: next ≥ cur
// under LessEqual, and next != cur — i.e. next covers strictly more root
// addresses, or has a strictly larger iteration at some shared address.
func StrictlyAdvances(cur, next Stamp) bool {
	return LessEqual(cur, next) && !Equal(cur, next)
}
