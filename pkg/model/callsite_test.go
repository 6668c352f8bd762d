package model

import "testing"

func TestChainReduceKeepsMostRecentOccurrence(t *testing.T) {
	a := CallSite{Site: 1, Routine: 10}
	b := CallSite{Site: 2, Routine: 20}
	c := CallSite{Site: 3, Routine: 30}

	chain := Chain{a, b, a, c}
	reduced := chain.Reduce()

	want := Chain{b, a, c}
	if !reduced.Equal(want) {
		t.Fatalf("Reduce() = %v, want %v", reduced, want)
	}
}

func TestChainReduceNoDuplicates(t *testing.T) {
	chain := Chain{{Site: 1, Routine: 1}, {Site: 2, Routine: 2}}
	reduced := chain.Reduce()
	if !reduced.Equal(chain) {
		t.Fatalf("Reduce() = %v, want unchanged %v", reduced, chain)
	}
}

func TestChainReduceEmpty(t *testing.T) {
	var chain Chain
	if reduced := chain.Reduce(); len(reduced) != 0 {
		t.Fatalf("Reduce() on empty chain = %v, want empty", reduced)
	}
}

func TestChainKeyDistinguishesOrder(t *testing.T) {
	a := Chain{{Site: 1, Routine: 1}, {Site: 2, Routine: 2}}
	b := Chain{{Site: 2, Routine: 2}, {Site: 1, Routine: 1}}
	if a.Key() == b.Key() {
		t.Fatalf("chains with different order produced the same key")
	}
}

func TestChainKeyStableAcrossClones(t *testing.T) {
	a := Chain{{Site: 1, Routine: 1}, {Site: 2, Routine: 2}}
	clone := a.Clone()
	if a.Key() != clone.Key() {
		t.Fatalf("clone key mismatch: %q vs %q", a.Key(), clone.Key())
	}
	if !a.Equal(clone) {
		t.Fatalf("clone not equal to original")
	}
}
