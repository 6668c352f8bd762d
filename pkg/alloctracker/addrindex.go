package alloctracker

import (
	"sort"

	"github.com/affinityprof/haloprof/pkg/model"
)

// ObjectID and AllocationContextID are re-exported from pkg/model so
// callers of this package rarely need to import model directly for the
// common case.
type (
	ObjectID             = model.ObjectID
	AllocationContextID  = model.AllocationContextID
)

// Object is a currently tracked allocation: the live-object record the
// original tool kept in its AddrMap, renamed away from the confusing
// AllocationRecord/ObjectRecord split since Go gives us no reason to keep
// the two apart.
type Object struct {
	ID          ObjectID
	Base        uintptr
	Size        int32
	Context     AllocationContextID
	Predecessor ObjectID
	Successor   ObjectID
}

// addrIndex answers "largest allocated base <= addr" (a floor query) in
// O(log n), and O(1) lookup or replacement by exact base address; adding
// or removing a base shifts the sorted slice, which is O(n).
//
// The original tool used std::map<ADDRINT, AllocationRecord,
// greater<ADDRINT>> and leaned on lower_bound's behavior under a reversed
// comparator to get the floor element for free. Go's standard library has
// no comparator-parameterized ordered map, so this keeps two structures
// in sync instead: a hash map for O(1) exact access, and a sorted slice
// of bases for the floor binary search. Every mutation touches both.
type addrIndex struct {
	byBase map[uintptr]*Object
	bases  []uintptr // sorted ascending
}

func newAddrIndex() *addrIndex {
	return &addrIndex{byBase: make(map[uintptr]*Object)}
}

// Get returns the object recorded at exactly base, if any.
func (a *addrIndex) Get(base uintptr) (*Object, bool) {
	o, ok := a.byBase[base]
	return o, ok
}

// Floor returns the object with the largest base <= addr, if one exists
// and addr falls within its [base, base+size) range.
func (a *addrIndex) Floor(addr uintptr) (*Object, bool) {
	i := sort.Search(len(a.bases), func(i int) bool { return a.bases[i] > addr })
	if i == 0 {
		return nil, false
	}
	base := a.bases[i-1]
	obj := a.byBase[base]
	if obj == nil || addr >= base+uintptr(obj.Size) {
		return nil, false
	}
	return obj, true
}

// Insert records or replaces the object at base.
func (a *addrIndex) Insert(base uintptr, obj Object) {
	if _, exists := a.byBase[base]; !exists {
		i := sort.Search(len(a.bases), func(i int) bool { return a.bases[i] >= base })
		a.bases = append(a.bases, 0)
		copy(a.bases[i+1:], a.bases[i:])
		a.bases[i] = base
	}
	stored := obj
	a.byBase[base] = &stored
}

// Delete removes the object at exactly base, if any.
func (a *addrIndex) Delete(base uintptr) {
	if _, exists := a.byBase[base]; !exists {
		return
	}
	delete(a.byBase, base)
	i := sort.Search(len(a.bases), func(i int) bool { return a.bases[i] >= base })
	if i < len(a.bases) && a.bases[i] == base {
		a.bases = append(a.bases[:i], a.bases[i+1:]...)
	}
}

// Len returns the number of currently tracked allocations.
func (a *addrIndex) Len() int { return len(a.bases) }
