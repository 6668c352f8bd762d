// Package simguest builds dbihost.Event scripts for synthetic guest
// programs, so the profiler core can be exercised deterministically
// without a real instrumentation host. It is test/fixture scaffolding,
// not a product of the spec itself - the equivalent of the teacher's
// internal/mock fixtures, scoped to this module's domain.
package simguest

import (
	"github.com/affinityprof/haloprof/pkg/dbihost"
	"github.com/affinityprof/haloprof/pkg/model"
)

// Builder accumulates a scripted Event sequence for a single fake thread
// of execution. NewBuilder opens the chain with the main-entry event;
// use Call/Return to shape the shadow stack, and Malloc/Free/Read/Write
// to generate allocation and access events, then Build to get the
// finished script.
type Builder struct {
	events  []dbihost.Event
	nextRTN model.RoutineID
	main    dbihost.Routine
}

// NewBuilder creates a Builder and immediately emits the main-entry event,
// matching ShadowStack::trace_main always being the first thing the chain
// sees.
func NewBuilder(mainName string) *Builder {
	b := &Builder{nextRTN: 1}
	b.main = b.routine(mainName, true, dbihost.StubNone)
	b.events = append(b.events, dbihost.Event{Kind: dbihost.EvMainEntry, Rtn: b.main, Target: 0x1000})
	return b
}

func (b *Builder) routine(name string, mainExe bool, stub dbihost.StubKind) dbihost.Routine {
	id := b.nextRTN
	b.nextRTN++
	return dbihost.Routine{ID: id, Name: name, MainExecutable: mainExe, Stub: stub}
}

// Call appends a direct-call event: calling a routine in the main
// executable from return address site.
func (b *Builder) Call(site uintptr, sp uintptr, target uintptr, name string) dbihost.Routine {
	r := b.routine(name, true, dbihost.StubNone)
	b.events = append(b.events, dbihost.Event{Kind: dbihost.EvCall, Src: site, SP: sp, Target: target, Rtn: r})
	return r
}

// ExternalCall appends a call into an externally traceable routine, e.g.
// malloc itself appearing on the chain the way the original tool's
// ext_traceable_routines list requires.
func (b *Builder) ExternalCall(site uintptr, sp uintptr, target uintptr, name string) dbihost.Routine {
	r := b.routine(name, false, dbihost.StubNone)
	r.ExternallyTraceable = true
	b.events = append(b.events, dbihost.Event{Kind: dbihost.EvCall, Src: site, SP: sp, Target: target, Rtn: r})
	return r
}

// IndirectCall appends an indirect-call event (a call through a function
// pointer or vtable slot).
func (b *Builder) IndirectCall(site uintptr, sp uintptr, target uintptr) {
	b.events = append(b.events, dbihost.Event{Kind: dbihost.EvIndirectCall, Src: site, SP: sp, Target: target})
}

// Return appends a return event unwinding back to the routine at target.
func (b *Builder) Return(sp uintptr, target uintptr) {
	b.events = append(b.events, dbihost.Event{Kind: dbihost.EvReturn, SP: sp, Target: target})
}

// Malloc appends the paired call/return events for a malloc of size
// bytes, as if the call happened from the current chain and the
// allocator returned addr.
func (b *Builder) Malloc(size uintptr, addr uintptr) {
	b.events = append(b.events,
		dbihost.Event{Kind: dbihost.EvAllocCall, AllocFn: dbihost.AllocMalloc, AllocArgs: dbihost.AllocArgs{Size: size}},
		dbihost.Event{Kind: dbihost.EvAllocReturn, AllocFn: dbihost.AllocMalloc, ResultAddr: addr},
	)
}

// Calloc appends the call/return pair for calloc(count, size).
func (b *Builder) Calloc(count, size uintptr, addr uintptr) {
	b.events = append(b.events,
		dbihost.Event{Kind: dbihost.EvAllocCall, AllocFn: dbihost.AllocCalloc, AllocArgs: dbihost.AllocArgs{Count: count, Size: size}},
		dbihost.Event{Kind: dbihost.EvAllocReturn, AllocFn: dbihost.AllocCalloc, ResultAddr: addr},
	)
}

// Realloc appends the call/return pair for realloc(ptr, size).
func (b *Builder) Realloc(ptr uintptr, size uintptr, addr uintptr) {
	b.events = append(b.events,
		dbihost.Event{Kind: dbihost.EvAllocCall, AllocFn: dbihost.AllocRealloc, AllocArgs: dbihost.AllocArgs{Ptr: ptr, Size: size}},
		dbihost.Event{Kind: dbihost.EvAllocReturn, AllocFn: dbihost.AllocRealloc, ResultAddr: addr},
	)
}

// Free appends a free event.
func (b *Builder) Free(ptr uintptr) {
	b.events = append(b.events, dbihost.Event{Kind: dbihost.EvFree, FreeAddr: ptr})
}

// Read appends a memory-read access event.
func (b *Builder) Read(addr uintptr, size int32) {
	b.events = append(b.events, dbihost.Event{Kind: dbihost.EvAccess, AccessKind: model.AccessRead, AccessAddr: addr, AccessSize: size})
}

// Write appends a memory-write access event.
func (b *Builder) Write(addr uintptr, size int32) {
	b.events = append(b.events, dbihost.Event{Kind: dbihost.EvAccess, AccessKind: model.AccessWrite, AccessAddr: addr, AccessSize: size})
}

// Build returns the accumulated event script.
func (b *Builder) Build() []dbihost.Event {
	return b.events
}
