package basis_test

import (
	"testing"

	"github.com/reactorlang/runtime/internal/reactive"
	"github.com/reactorlang/runtime/internal/reactive/basis"
)

func addr(name string) reactive.Address {
	return reactive.Address{Service: "svc", Cell: name}
}

func TestMergeIdentityAndIdempotence(t *testing.T) {
	a := basis.Stamp{addr("x"): 3, addr("y"): 1}

	if got := basis.Merge(a, basis.Empty()); !basis.Equal(got, a) {
		t.Errorf("merge(a, empty) = %v, want %v", got, a)
	}
	if got := basis.Merge(a, a); !basis.Equal(got, a) {
		t.Errorf("merge(a, a) = %v, want %v", got, a)
	}
}

func TestMergeCommutativeAssociative(t *testing.T) {
	a := basis.Stamp{addr("x"): 1}
	b := basis.Stamp{addr("y"): 2}
	c := basis.Stamp{addr("x"): 5, addr("z"): 9}

	ab_c := basis.Merge(basis.Merge(a, b), c)
	a_bc := basis.Merge(a, basis.Merge(b, c))
	if !basis.Equal(ab_c, a_bc) {
		t.Errorf("merge not associative: %v vs %v", ab_c, a_bc)
	}

	if !basis.Equal(basis.Merge(a, b), basis.Merge(b, a)) {
		t.Error("merge not commutative")
	}
}

func TestCompatible(t *testing.T) {
	a := basis.Stamp{addr("x"): 1, addr("y"): 2}
	b := basis.Stamp{addr("y"): 2, addr("z"): 3}
	c := basis.Stamp{addr("y"): 5}

	if !a.Compatible(b) {
		t.Error("a and b should be compatible (agree on y)")
	}
	if a.Compatible(c) {
		t.Error("a and c should be incompatible (disagree on y)")
	}
}

func TestLessEqualAndStrictlyAdvances(t *testing.T) {
	a := basis.Stamp{addr("x"): 1}
	b := basis.Stamp{addr("x"): 2, addr("y"): 1}

	if !basis.LessEqual(a, b) {
		t.Error("a should be <= b")
	}
	if basis.LessEqual(b, a) {
		t.Error("b should not be <= a")
	}
	if !basis.StrictlyAdvances(a, b) {
		t.Error("b should strictly advance a")
	}
	if basis.StrictlyAdvances(a, a) {
		t.Error("a should not strictly advance itself")
	}
}
