// Package alloctracker is C2 of the affinity profiler: it tracks every
// live heap allocation by address, assigns each a dense
// AllocationContextID keyed by its (reduced) call chain, and maintains
// the predecessor/successor links between allocations sharing a context
// that pkg/accesstracer needs to decide co-allocatability. It is a direct
// port of DynAllocTracer.h's profile_allocation/update_allocation_context
// logic, decoupled from Pin's instrumentation callback shapes.
package alloctracker

import (
	"fmt"

	"github.com/affinityprof/haloprof/pkg/model"
)

// ChainProvider is the shadow call stack this tracker assigns contexts
// against. pkg/shadowstack.ShadowStack implements it; tests can supply a
// fake.
type ChainProvider interface {
	Chain() model.Chain
	ReducedChain() model.Chain
}

// ErrTooManyContexts is returned once the number of distinct allocation
// contexts would exceed model.MaxAllocationContexts, matching the
// original tool's hard exit on exceeding MAX_ALLOC_CALL_SITES.
var ErrTooManyContexts = fmt.Errorf("alloctracker: exceeded %d allocation contexts", model.MaxAllocationContexts)

type contextState struct {
	lastObjectID   ObjectID
	lastObjectAddr uintptr
	lastObjectSize int32
	accessCount    uint64
	popular        bool
	chain          model.Chain
}

// Tracker holds the live allocation index and the context table it's
// organized by.
type Tracker struct {
	maxSize int32
	stack   ChainProvider

	index    *addrIndex
	contexts map[AllocationContextID]*contextState
	chainIDs map[string]AllocationContextID

	nextObjectID  ObjectID
	nextContextID AllocationContextID
}

// New creates a Tracker. maxSize caps which allocations are tracked at
// all (KnobMaxSize / "maximum size of co-allocatable objects"); anything
// larger is invisible to context assignment and access tracing, matching
// profile_allocation's early-return path.
func New(maxSize int32, stack ChainProvider) *Tracker {
	return &Tracker{
		maxSize:  maxSize,
		stack:    stack,
		index:    newAddrIndex(),
		contexts: make(map[AllocationContextID]*contextState),
		chainIDs: make(map[string]AllocationContextID),
	}
}

// IsAllocated reports whether addr falls within a currently tracked live
// allocation. This is the corrected sense of the original's
// is_allocated(), whose name was inverted relative to what it actually
// returned (true when the address was *not* found).
func (t *Tracker) IsAllocated(addr uintptr) bool {
	_, ok := t.index.Floor(addr)
	return ok
}

// Lookup returns the tracked object containing addr, if any.
func (t *Tracker) Lookup(addr uintptr) (Object, bool) {
	obj, ok := t.index.Floor(addr)
	if !ok {
		return Object{}, false
	}
	return *obj, true
}

// Alloc records a fresh allocation (malloc/calloc/posix_memalign/
// aligned_alloc) of size bytes at addr. It returns the assigned context
// and whether the allocation was tracked at all (false if size exceeded
// maxSize).
func (t *Tracker) Alloc(addr uintptr, size int32) (AllocationContextID, bool, error) {
	return t.record(addr, size, false)
}

// Realloc records a realloc's effect: oldAddr's allocation (if tracked)
// is retired and newAddr is recorded as carrying oldAddr's object
// identity forward, with predecessor/successor relinked fresh against
// the current index rather than assumed still valid. See DESIGN.md for
// why this module resolves the original's realloc TODO this way.
func (t *Tracker) Realloc(oldAddr, newAddr uintptr, size int32) (AllocationContextID, bool, error) {
	var carriedID ObjectID
	if old, ok := t.index.Get(oldAddr); ok {
		carriedID = old.ID
	}
	t.index.Delete(oldAddr)
	if size > t.maxSize {
		return 0, false, nil
	}
	if carriedID == 0 {
		carriedID = t.allocObjectID()
	}
	return t.recordWithID(newAddr, size, carriedID)
}

// Free retires the allocation at addr, if tracked.
func (t *Tracker) Free(addr uintptr) {
	t.index.Delete(addr)
}

func (t *Tracker) allocObjectID() ObjectID {
	t.nextObjectID++
	return t.nextObjectID
}

func (t *Tracker) record(addr uintptr, size int32, isRealloc bool) (AllocationContextID, bool, error) {
	if size > t.maxSize {
		return 0, false, nil
	}
	return t.recordWithID(addr, size, t.allocObjectID())
}

func (t *Tracker) recordWithID(addr uintptr, size int32, id ObjectID) (AllocationContextID, bool, error) {
	ctxID, predecessor, err := t.assignContext(addr, id)
	if err != nil {
		return 0, false, err
	}
	obj := Object{
		ID:          id,
		Base:        addr,
		Size:        size,
		Context:     ctxID,
		Predecessor: predecessor,
	}
	t.index.Insert(addr, obj)
	if predecessor != 0 {
		if prevAddr := t.contexts[ctxID].lastObjectAddr; prevAddr != 0 {
			if prev, ok := t.index.Get(prevAddr); ok && prev.ID == predecessor {
				prev.Successor = id
			}
		}
	}
	t.contexts[ctxID].lastObjectID = id
	t.contexts[ctxID].lastObjectAddr = addr
	t.contexts[ctxID].lastObjectSize = size
	return ctxID, true, nil
}

// ContextSize returns the size of the most recent allocation made under
// ctx. It can serve as that context's representative object size in a
// grouping.ContextWeight when collapsing a context-level affinity
// clustering down to the size-keyed decision get_group_id makes at
// runtime; pkg/grouping itself does not call it.
func (t *Tracker) ContextSize(ctx AllocationContextID) int32 {
	if c, ok := t.contexts[ctx]; ok {
		return c.lastObjectSize
	}
	return 0
}

// assignContext mirrors update_allocation_context: look the current
// chain up in the context table directly, falling back to the reduced
// chain on a miss, creating a fresh context only if both fail. Returns
// the assigned context and the predecessor object id (0 if this is a
// freshly created context).
func (t *Tracker) assignContext(addr uintptr, id ObjectID) (AllocationContextID, ObjectID, error) {
	chain := t.stack.Chain()
	key := chain.Key()
	ctxID, ok := t.chainIDs[key]
	if !ok {
		reduced := t.stack.ReducedChain()
		key = reduced.Key()
		ctxID, ok = t.chainIDs[key]
		chain = reduced
	}

	if !ok {
		if t.nextContextID >= model.MaxAllocationContexts {
			return 0, 0, ErrTooManyContexts
		}
		ctxID = t.nextContextID
		t.nextContextID++
		t.contexts[ctxID] = &contextState{chain: chain}
		t.chainIDs[key] = ctxID
		return ctxID, 0, nil
	}

	return ctxID, t.contexts[ctxID].lastObjectID, nil
}

// IncrementAccessCount bumps the access counter for ctx, used by
// pkg/accesstracer whenever a new object under that context is touched.
func (t *Tracker) IncrementAccessCount(ctx AllocationContextID) {
	if c, ok := t.contexts[ctx]; ok {
		c.accessCount++
	}
}

// AccessCount returns the current access counter for ctx.
func (t *Tracker) AccessCount(ctx AllocationContextID) uint64 {
	if c, ok := t.contexts[ctx]; ok {
		return c.accessCount
	}
	return 0
}

// MarkPopular flags ctx as contributing to the 90%-coverage threshold
// used when emitting the locality graph.
func (t *Tracker) MarkPopular(ctx AllocationContextID) {
	if c, ok := t.contexts[ctx]; ok {
		c.popular = true
	}
}

// IsPopular reports whether ctx was flagged by MarkPopular.
func (t *Tracker) IsPopular(ctx AllocationContextID) bool {
	if c, ok := t.contexts[ctx]; ok {
		return c.popular
	}
	return false
}

// Contexts returns every known allocation context id.
func (t *Tracker) Contexts() []AllocationContextID {
	ids := make([]AllocationContextID, 0, len(t.contexts))
	for id := range t.contexts {
		ids = append(ids, id)
	}
	return ids
}

// ChainFor returns the call chain that produced ctx, for contexts.txt
// rendering.
func (t *Tracker) ChainFor(ctx AllocationContextID) model.Chain {
	if c, ok := t.contexts[ctx]; ok {
		return c.chain
	}
	return nil
}

// LiveCount returns the number of currently tracked (not yet freed)
// allocations.
func (t *Tracker) LiveCount() int { return t.index.Len() }
