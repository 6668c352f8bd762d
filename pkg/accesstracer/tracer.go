// Package accesstracer is C3 of the affinity profiler: it watches memory
// accesses against tracked allocations and builds the weighted affinity
// graph between allocation contexts whose objects are repeatedly touched
// near each other in time. It is a direct port of DynAccessTracer.h.
package accesstracer

import (
	"fmt"

	"github.com/affinityprof/haloprof/pkg/alloctracker"
	"github.com/affinityprof/haloprof/pkg/model"
)

// MinAccessSize is the smallest access size counted against the affinity
// distance budget, matching MIN_ACCESS_SIZE.
const MinAccessSize = 4

// AllocationLookup is the slice of pkg/alloctracker.Tracker this package
// needs: containment lookup and access-count bookkeeping on contexts.
type AllocationLookup interface {
	Lookup(addr uintptr) (alloctracker.Object, bool)
	IncrementAccessCount(ctx model.AllocationContextID)
}

// accessRecord is one entry of the affinity ring buffer: which object was
// touched and how large the access was, used to compute how far back
// through the queue a later access should walk before giving up.
type accessRecord struct {
	objectID model.ObjectID
	base     uintptr
	size     int32
}

// Tracer builds the affinity graph. It is not safe for concurrent use.
type Tracer struct {
	affinityDistance int32
	lookup           AllocationLookup

	queue []accessRecord
	head  uint64
	mask  uint64

	accessCount  uint64
	lastTouched  model.ObjectID
	dedupAt      map[model.ObjectID]uint64
	graph        map[model.AllocationContextID]map[model.AllocationContextID]uint64
}

// New creates a Tracer. affinityDistance is the maximum byte distance
// (in accumulated access sizes) across which two accesses are still
// considered for affinity, and must be a power of two - same constraint
// initialize() enforces on AFFINITY_DISTANCE, because the ring buffer
// length it implies (affinityDistance/MinAccessSize) is masked rather
// than modulo'd.
func New(affinityDistance int32, lookup AllocationLookup) (*Tracer, error) {
	if affinityDistance <= 0 || affinityDistance&(affinityDistance-1) != 0 {
		return nil, fmt.Errorf("accesstracer: affinity distance must be a power of two, got %d", affinityDistance)
	}
	capacity := uint64(affinityDistance) / MinAccessSize
	if capacity == 0 {
		capacity = 1
	}
	return &Tracer{
		affinityDistance: affinityDistance,
		lookup:           lookup,
		queue:            make([]accessRecord, capacity),
		mask:             capacity - 1,
		dedupAt:          make(map[model.ObjectID]uint64),
		graph:            make(map[model.AllocationContextID]map[model.AllocationContextID]uint64),
	}, nil
}

// OnAccess mirrors trace_access: only newly-touched objects (relative to
// the single most recently touched one) count as an access, matching the
// original's "programs only touch one object per access" assumption and
// its suppression of repeated touches to the same object.
func (t *Tracer) OnAccess(kind model.AccessKind, addr uintptr, size int32) {
	_ = kind // read/write are not distinguished downstream, same as upstream
	obj, ok := t.lookup.Lookup(addr)
	if !ok {
		return
	}
	if obj.ID == t.lastTouched {
		return
	}
	t.accessCount++
	t.lookup.IncrementAccessCount(obj.Context)
	t.addToQueue(obj, size)
	t.lastTouched = obj.ID
}

func (t *Tracer) addToQueue(obj alloctracker.Object, size int32) {
	ix := t.head & t.mask
	t.head++
	t.queue[ix] = accessRecord{objectID: obj.ID, base: obj.Base, size: size}

	totalSize := int32(0)
	for i := ix - 1; ; i-- {
		i &= t.mask
		if i == ix {
			break
		}
		prev := t.queue[i]
		if prev.base == 0 {
			break
		}
		if totalSize >= t.affinityDistance {
			break
		}
		t.processAffinity(obj, prev)
		totalSize += prev.size
	}
}

// processAffinity mirrors process_affinity: re-resolve the earlier
// access's object (it may since have been freed or its address reused by
// a different object), skip self-pairs and same-generation repeats, then
// record an edge if the pair is co-allocatable.
func (t *Tracer) processAffinity(a alloctracker.Object, prev accessRecord) {
	b, ok := t.lookup.Lookup(prev.base)
	if !ok || b.ID != prev.objectID {
		return
	}
	if a.ID == b.ID {
		return
	}
	if t.dedupAt[b.ID] == t.accessCount {
		return
	}
	t.dedupAt[b.ID] = t.accessCount

	lo, hi := a, b
	if hi.ID < lo.ID {
		lo, hi = hi, lo
	}
	if !coAllocatable(lo, hi) {
		return
	}

	ctxA, ctxB := lo.Context, hi.Context
	if ctxB > ctxA {
		ctxA, ctxB = ctxB, ctxA
	}
	row, ok := t.graph[ctxA]
	if !ok {
		row = make(map[model.AllocationContextID]uint64)
		t.graph[ctxA] = row
	}
	row[ctxB]++
}

// coAllocatable mirrors is_coallocatable. lo and hi must already be
// ordered by ascending object id (lo.ID < hi.ID); two objects are
// co-allocatable when neither's predecessor/successor chain places any
// other object strictly between them in allocation order.
func coAllocatable(lo, hi alloctracker.Object) bool {
	loSucc := lo.Successor
	hiPred := hi.Predecessor
	return (loSucc == 0 || loSucc >= hi.ID) && (hiPred == 0 || hiPred <= lo.ID)
}

// AccessCount returns the total number of unique-object touches recorded
// so far (DynAccessTracer::access_count).
func (t *Tracer) AccessCount() uint64 { return t.accessCount }

// Graph returns the accumulated affinity edges as (max context, min
// context) -> weight, matching the emitted TGF's edge ordering
// convention.
func (t *Tracer) Graph() []model.TGFEdge {
	edges := make([]model.TGFEdge, 0)
	for i, row := range t.graph {
		for j, weight := range row {
			edges = append(edges, model.TGFEdge{I: i, J: j, Weight: weight})
		}
	}
	return edges
}

// WeightBetween returns the recorded affinity weight between two
// contexts (order-independent), or 0 if none was recorded.
func (t *Tracer) WeightBetween(a, b model.AllocationContextID) uint64 {
	hi, lo := a, b
	if lo > hi {
		hi, lo = lo, hi
	}
	row, ok := t.graph[hi]
	if !ok {
		return 0
	}
	return row[lo]
}
