// Package grouping turns a profiler run's locality graph into the
// get_group_id(size) oracle pkg/interpose needs at runtime. Generating
// that oracle is explicitly out of scope for the affinity profiler
// itself - identify.h's non-TEST implementation is a stub that panics,
// "could not find a valid implementation of 'get_group_id'" - but
// without some real implementation there is nothing for pkg/groupalloc
// and pkg/interpose to be exercised against end to end, so this package
// supplements the profiler with the offline half of that pipeline:
// cluster allocation contexts by affinity weight, then collapse that
// context-level grouping down to the size-keyed decision malloc/calloc/
// etc. actually have available at call time.
package grouping

import (
	"sort"

	"github.com/affinityprof/haloprof/pkg/model"
)

// unionFind is a standard disjoint-set forest over allocation context
// ids, used to greedily merge the most affine contexts into groups.
type unionFind struct {
	parent map[model.AllocationContextID]model.AllocationContextID
	rank   map[model.AllocationContextID]int
	count  int
}

func newUnionFind(ids []model.AllocationContextID) *unionFind {
	uf := &unionFind{
		parent: make(map[model.AllocationContextID]model.AllocationContextID, len(ids)),
		rank:   make(map[model.AllocationContextID]int, len(ids)),
	}
	for _, id := range ids {
		uf.parent[id] = id
	}
	uf.count = len(ids)
	return uf
}

func (uf *unionFind) find(x model.AllocationContextID) model.AllocationContextID {
	for uf.parent[x] != x {
		uf.parent[x] = uf.parent[uf.parent[x]]
		x = uf.parent[x]
	}
	return x
}

// union merges the components containing a and b, returning false if
// they were already the same component.
func (uf *unionFind) union(a, b model.AllocationContextID) bool {
	ra, rb := uf.find(a), uf.find(b)
	if ra == rb {
		return false
	}
	if uf.rank[ra] < uf.rank[rb] {
		ra, rb = rb, ra
	}
	uf.parent[rb] = ra
	if uf.rank[ra] == uf.rank[rb] {
		uf.rank[ra]++
	}
	uf.count--
	return true
}

// Cluster partitions the contexts named in nodes into at most
// maxGroups groups, greedily merging the pair of contexts joined by the
// heaviest remaining affinity edge first, and stopping once no more
// merges are needed or no edges remain. Contexts an edge never reaches
// end up each in their own singleton group, beyond maxGroups if there
// are more singletons than room allows for - callers that can't afford
// that should filter nodes down to the popular set first, same as
// WriteTGF already does for the emitted graph.
//
// The returned map assigns every context id in nodes a dense group id
// in [0, groups). groups is at most maxGroups unless unconnected
// singletons push it past that; maxGroups <= 0 puts no bound on merging.
func Cluster(nodes []model.TGFNode, edges []model.TGFEdge, maxGroups int) map[model.AllocationContextID]int {
	ids := make([]model.AllocationContextID, len(nodes))
	for i, n := range nodes {
		ids[i] = n.Context
	}
	uf := newUnionFind(ids)

	sorted := make([]model.TGFEdge, len(edges))
	copy(sorted, edges)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Weight > sorted[j].Weight })

	for _, e := range sorted {
		if maxGroups > 0 && uf.count <= maxGroups {
			break
		}
		uf.union(e.I, e.J)
	}

	roots := make(map[model.AllocationContextID]int)
	assignment := make(map[model.AllocationContextID]int, len(ids))
	for _, id := range ids {
		root := uf.find(id)
		group, ok := roots[root]
		if !ok {
			group = len(roots)
			roots[root] = group
		}
		assignment[id] = group
	}
	return assignment
}

// NumGroups reports how many distinct groups an assignment produced by
// Cluster actually uses.
func NumGroups(assignment map[model.AllocationContextID]int) int {
	max := -1
	for _, g := range assignment {
		if g > max {
			max = g
		}
	}
	return max + 1
}

// ContextWeight is the minimal per-context information BuildOracle
// needs to collapse a context-level clustering into a size-keyed table:
// the size of the objects allocated under that context, and how heavily
// it was accessed (used to break ties when two clusters both claim
// allocations of the same size).
type ContextWeight struct {
	Context     model.AllocationContextID
	Size        uintptr
	AccessCount uint64
}

// BuildOracle collapses a context-level group assignment down to a
// size-keyed decision function: pkg/interpose (and, ultimately, the
// malloc family) only ever sees a requested size, never which call
// chain asked for it, so a size shared by contexts in different groups
// is resolved to the group of the single most-accessed context of that
// size (counts are not summed per group).
// Sizes not seen during profiling, or larger than maxSize, fall
// through to -1 - "not grouped" - the same way identify.h's MAX_SIZE
// check does.
func BuildOracle(weights []ContextWeight, assignment map[model.AllocationContextID]int, maxSize uintptr) func(size uintptr) int {
	type candidate struct {
		group  int
		weight uint64
	}
	bySize := make(map[uintptr]candidate)
	for _, w := range weights {
		group, ok := assignment[w.Context]
		if !ok {
			continue
		}
		if cur, ok := bySize[w.Size]; !ok || w.AccessCount > cur.weight {
			bySize[w.Size] = candidate{group: group, weight: w.AccessCount}
		}
	}

	return func(size uintptr) int {
		if size > maxSize {
			return -1
		}
		c, ok := bySize[size]
		if !ok {
			return -1
		}
		return c.group
	}
}
