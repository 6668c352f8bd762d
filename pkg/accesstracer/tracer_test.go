package accesstracer

import (
	"testing"

	"github.com/affinityprof/haloprof/pkg/alloctracker"
	"github.com/affinityprof/haloprof/pkg/model"
)

type fakeLookup struct {
	objects map[uintptr]alloctracker.Object
	access  map[model.AllocationContextID]uint64
}

func newFakeLookup() *fakeLookup {
	return &fakeLookup{objects: make(map[uintptr]alloctracker.Object), access: make(map[model.AllocationContextID]uint64)}
}

func (f *fakeLookup) put(obj alloctracker.Object) { f.objects[obj.Base] = obj }

func (f *fakeLookup) Lookup(addr uintptr) (alloctracker.Object, bool) {
	o, ok := f.objects[addr]
	return o, ok
}

func (f *fakeLookup) IncrementAccessCount(ctx model.AllocationContextID) {
	f.access[ctx]++
}

func TestNewRejectsNonPowerOfTwo(t *testing.T) {
	if _, err := New(1000, newFakeLookup()); err == nil {
		t.Fatal("expected error for non power-of-two affinity distance")
	}
}

func TestOnAccessIgnoresUntrackedAddress(t *testing.T) {
	lookup := newFakeLookup()
	tr, err := New(1024, lookup)
	if err != nil {
		t.Fatal(err)
	}
	tr.OnAccess(model.AccessRead, 0xDEAD, 4)
	if tr.AccessCount() != 0 {
		t.Fatalf("expected 0 accesses, got %d", tr.AccessCount())
	}
}

func TestOnAccessSuppressesRepeatedSameObjectTouch(t *testing.T) {
	lookup := newFakeLookup()
	lookup.put(alloctracker.Object{ID: 1, Base: 0x1000, Size: 16, Context: 0})
	tr, _ := New(1024, lookup)

	tr.OnAccess(model.AccessRead, 0x1000, 4)
	tr.OnAccess(model.AccessRead, 0x1004, 4) // same object, different address within bounds
	if tr.AccessCount() != 1 {
		t.Fatalf("expected repeated touches to the same object to count once, got %d", tr.AccessCount())
	}
}

func TestCoAllocatableAdjacentObjectsRecordAffinity(t *testing.T) {
	lookup := newFakeLookup()
	a := alloctracker.Object{ID: 1, Base: 0x1000, Size: 16, Context: 10, Successor: 2}
	b := alloctracker.Object{ID: 2, Base: 0x2000, Size: 16, Context: 20, Predecessor: 1}
	lookup.put(a)
	lookup.put(b)

	tr, _ := New(1024, lookup)
	tr.OnAccess(model.AccessRead, a.Base, 4)
	tr.OnAccess(model.AccessRead, b.Base, 4)

	if w := tr.WeightBetween(10, 20); w != 1 {
		t.Fatalf("expected affinity weight 1 between contexts 10 and 20, got %d", w)
	}
}

func TestNonCoAllocatableObjectsDoNotRecordAffinity(t *testing.T) {
	lookup := newFakeLookup()
	// a's successor is object 2, allocated under a's context between a
	// (id 1) and b (id 3), so a and b are not co-allocatable.
	a := alloctracker.Object{ID: 1, Base: 0x1000, Size: 16, Context: 10, Successor: 2}
	b := alloctracker.Object{ID: 3, Base: 0x2000, Size: 16, Context: 20, Predecessor: 1}
	lookup.put(a)
	lookup.put(b)

	tr, _ := New(1024, lookup)
	tr.OnAccess(model.AccessRead, a.Base, 4)
	tr.OnAccess(model.AccessRead, b.Base, 4)

	if w := tr.WeightBetween(10, 20); w != 0 {
		t.Fatalf("expected no affinity recorded, got weight %d", w)
	}
}

func TestSelfAccessNeverRecordsAffinity(t *testing.T) {
	lookup := newFakeLookup()
	a := alloctracker.Object{ID: 1, Base: 0x1000, Size: 64, Context: 10}
	lookup.put(a)

	tr, _ := New(1024, lookup)
	tr.OnAccess(model.AccessRead, 0x1000, 4)
	tr.OnAccess(model.AccessWrite, 0x1020, 4) // still inside object a's bounds conceptually, but same object id

	if w := tr.WeightBetween(10, 10); w != 0 {
		t.Fatalf("expected 0 self-affinity, got %d", w)
	}
}

func TestAffinityDistanceBudgetCutsOffOldAccesses(t *testing.T) {
	lookup := newFakeLookup()
	a := alloctracker.Object{ID: 1, Base: 0x1000, Size: 16, Context: 1, Successor: 2}
	b := alloctracker.Object{ID: 2, Base: 0x2000, Size: 16, Context: 2, Predecessor: 1, Successor: 3}
	c := alloctracker.Object{ID: 3, Base: 0x3000, Size: 16, Context: 3, Predecessor: 2}
	lookup.put(a)
	lookup.put(b)
	lookup.put(c)

	// affinityDistance 8, MinAccessSize 4 -> queue capacity 2. By the time
	// c is pushed, a has fallen out of the ring buffer entirely.
	tr, err := New(8, lookup)
	if err != nil {
		t.Fatal(err)
	}
	tr.OnAccess(model.AccessRead, a.Base, 4)
	tr.OnAccess(model.AccessRead, b.Base, 4)
	tr.OnAccess(model.AccessRead, c.Base, 4)

	if w := tr.WeightBetween(1, 3); w != 0 {
		t.Fatalf("expected a-c affinity to be cut off by ring buffer capacity, got %d", w)
	}
	if w := tr.WeightBetween(2, 3); w != 1 {
		t.Fatalf("expected b-c affinity recorded, got %d", w)
	}
}
