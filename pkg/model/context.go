package model

// ObjectID identifies a single tracked allocation, unique and monotonic for
// the lifetime of a profiling run. Zero is reserved to mean "no object"
// (used for predecessor/successor links that don't point anywhere yet).
type ObjectID uint32

// AllocationContextID identifies a distinct (reduced) call chain under
// which one or more allocations were made. It is dense and starts at zero,
// capped at MaxAllocationContexts to match the original tool's
// MAX_ALLOC_CALL_SITES limit: TGF node ids and the affinity graph's
// adjacency tables are sized off of it, so letting it grow unbounded would
// make both unbounded too.
type AllocationContextID uint32

// MaxAllocationContexts is the hard ceiling on distinct allocation
// contexts a single run can track, mirroring MAX_ALLOC_CALL_SITES.
const MaxAllocationContexts = 65536

// Context is the per-allocation-context bookkeeping record: which object
// was allocated there most recently (used to stitch predecessor/successor
// chains across allocations sharing a context) and how many times any
// object from that context was accessed.
type Context struct {
	LastObject  ObjectID
	AccessCount uint64
	Popular     bool // set during report generation, see pkg/reportwriter
}

// TGFNode is one node line (before the "#" separator) of the emitted
// locality graph: an
// allocation context and the number of times objects allocated under it
// were accessed.
type TGFNode struct {
	Context     AllocationContextID
	AccessCount uint64
}

// TGFEdge is one edge line of the emitted locality graph. By convention I
// is always >= J, matching the affinity graph's own (max context, min
// context) keying so that each unordered pair is represented once.
type TGFEdge struct {
	I, J   AllocationContextID
	Weight uint64
}

// AccessKind distinguishes the two access analysis funnels the original
// tool instruments separately (reads fire trace_access directly, writes go
// through a pre-write/post-write pair so the final write address is known
// only after the instruction retires).
type AccessKind byte

const (
	AccessRead  AccessKind = 'R'
	AccessWrite AccessKind = 'W'
)
