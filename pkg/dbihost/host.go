// Package dbihost describes the contract between the profiler core
// (pkg/shadowstack, pkg/alloctracker, pkg/accesstracer) and whatever
// dynamic binary instrumentation engine is driving it. A real engine -
// the actual Pin- or DynamoRIO-equivalent host that instruments the
// target process - is out of scope for this module; what lives here is
// the collaborator interface the core needs from one, plus a
// deterministic in-process simulator (SimHost) good enough to drive the
// core through recorded event scripts in tests.
package dbihost

import "github.com/affinityprof/haloprof/pkg/model"

// Routine is a resolved routine in the profiled image, standing in for
// Pin's RTN. SymbolResolver.ResolveRoutine reports false alongside it when
// symbol resolution failed for an address (the address fell outside any
// known routine).
type Routine struct {
	ID             model.RoutineID
	Name           string
	MainExecutable bool
	// ExternallyTraceable marks routines whose calls should never be
	// truncated out of a shadow chain even though they're not part of the
	// main executable - malloc, calloc, posix_memalign, aligned_alloc,
	// realloc, free and longjmp in the original tool.
	ExternallyTraceable bool
	// Stub classifies PLT/resolver trampolines: StubDirect routines are
	// skipped but their call site is remembered as the real caller's
	// site (user code calls these directly); StubResolver routines are
	// skipped entirely (deeper resolution stubs, never a real call site).
	Stub StubKind
}

// StubKind mirrors is_stub_rtn's three-way return.
type StubKind int

const (
	StubNone StubKind = iota
	StubDirect
	StubResolver
)

// SymbolResolver resolves addresses to routines. A real host only allows
// this under PIN_LockClient/PIN_UnlockClient; Host.ResolveRoutine plays
// that role here without exposing lock/unlock as separate steps, since Go
// gives us no reason to split them.
type SymbolResolver interface {
	ResolveRoutine(addr uintptr) (Routine, bool)
}

// Host is everything the profiler core needs from the instrumentation
// engine: symbol resolution, and the ability to run the guest program
// while delivering EventHandler callbacks for call-stack, allocation and
// access events as they occur.
type Host interface {
	SymbolResolver

	// Run drives the guest program to completion (or to whatever
	// incomplete state the host chooses to stop at), delivering events to
	// h as they happen. It returns the guest's exit code and any error
	// encountered driving it.
	Run(h EventHandler) (exitCode int, err error)
}

// EventHandler receives the stream of events a Host produces. The
// profiler core's orchestration type (pkg/profiler) implements this
// interface; a Host never needs to know what's on the other end.
type EventHandler interface {
	OnMainEntry(rtn Routine)
	OnCall(src uintptr, sp uintptr, rtn Routine)
	OnIndirectCall(src uintptr, sp uintptr, target uintptr)
	OnStubCall(src uintptr)
	OnReturn(sp uintptr, target uintptr)
	OnThreadStart()
	OnSignalEntry()
	OnSignalExit()
	OnBlockExecuted(numInstructions uint64)

	OnAllocCall(name AllocFunc, args AllocArgs)
	OnAllocReturn(name AllocFunc, result uintptr)
	OnFree(ptr uintptr)

	OnAccess(kind model.AccessKind, addr uintptr, size int32)
}

// AllocFunc identifies which of the six interposed entry points fired.
type AllocFunc int

const (
	AllocMalloc AllocFunc = iota
	AllocCalloc
	AllocPosixMemalign
	AllocAlignedAlloc
	AllocRealloc
	AllocFree
)

func (f AllocFunc) String() string {
	switch f {
	case AllocMalloc:
		return "malloc"
	case AllocCalloc:
		return "calloc"
	case AllocPosixMemalign:
		return "posix_memalign"
	case AllocAlignedAlloc:
		return "aligned_alloc"
	case AllocRealloc:
		return "realloc"
	case AllocFree:
		return "free"
	default:
		return "unknown"
	}
}

// AllocArgs carries the entry-point arguments needed to compute the
// allocation size, mirroring trace_call1/2/3's per-function field usage.
type AllocArgs struct {
	// Size is the requested size for malloc/aligned_alloc/posix_memalign/
	// realloc, or the element size for calloc.
	Size uintptr
	// Count is the element count for calloc (ignored otherwise).
	Count uintptr
	// Alignment is the alignment argument for posix_memalign (ignored
	// otherwise).
	Alignment uintptr
	// Ptr is the pointer argument for free/realloc (ignored otherwise).
	Ptr uintptr
	// DestSlot is where posix_memalign will write the resulting pointer;
	// needed because its result comes back through an out-parameter
	// rather than a return value.
	DestSlot uintptr
}
