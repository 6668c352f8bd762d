// Package profiler wires shadowstack (C1), alloctracker (C2),
// accesstracer (C3) and reportwriter (C4) together into the single
// dbihost.EventHandler the host drives, mirroring how halo-prof.cpp's
// main() composes the three namespaces and thread_end finalizes them.
package profiler

import (
	"fmt"

	"github.com/affinityprof/haloprof/pkg/accesstracer"
	"github.com/affinityprof/haloprof/pkg/alloctracker"
	"github.com/affinityprof/haloprof/pkg/dbihost"
	"github.com/affinityprof/haloprof/pkg/model"
	"github.com/affinityprof/haloprof/pkg/reportwriter"
	"github.com/affinityprof/haloprof/pkg/shadowstack"
)

// Config holds the knobs the original tool exposed through KNOB<...>
// command-line switches.
type Config struct {
	// MaxStackDepth caps the shadow chain length (0 = unbounded).
	MaxStackDepth int
	// MaxObjectSize is the largest allocation tracked for affinity
	// purposes (KnobMaxSize, default 4096).
	MaxObjectSize int32
	// AffinityDistance is the access-distance budget in bytes; must be a
	// power of two (KnobAffinityDistance, default 1024).
	AffinityDistance int32
	// InstructionLimit is the dynamic-instruction count (0 = none) at
	// which InstructionLimitReached starts reporting true
	// (KnobInstructionLimit). The profiler does not stop the guest when
	// it is reached.
	InstructionLimit uint64
}

// DefaultConfig returns the original tool's documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxStackDepth:    0,
		MaxObjectSize:    4096,
		AffinityDistance: 1024,
		InstructionLimit: 0,
	}
}

// ErrMultiThreaded is reported once a second guest thread starts; the
// spec this module implements carries multi-threaded targets forward as
// an explicit non-goal rather than something to support.
var ErrMultiThreaded = fmt.Errorf("profiler: multi-threaded targets are not supported")

// Profiler is the dbihost.EventHandler that drives the profiler core
// end to end.
type Profiler struct {
	cfg     Config
	host    dbihost.SymbolResolver
	Stack   *shadowstack.ShadowStack
	Tracker *alloctracker.Tracker
	Tracer  *accesstracer.Tracer

	instrCount uint64
	pending    pendingAlloc
	firstErr   error
}

type pendingAlloc struct {
	size uintptr
	ptr  uintptr
}

// New creates a Profiler wired against host for symbol resolution.
func New(cfg Config, host dbihost.SymbolResolver) (*Profiler, error) {
	stack := shadowstack.New(cfg.MaxStackDepth)
	tracker := alloctracker.New(cfg.MaxObjectSize, stack)
	tracer, err := accesstracer.New(cfg.AffinityDistance, tracker)
	if err != nil {
		return nil, err
	}
	return &Profiler{cfg: cfg, host: host, Stack: stack, Tracker: tracker, Tracer: tracer}, nil
}

// Err returns the first error encountered while processing events (a
// context-table overflow, or a multi-threaded target), if any.
func (p *Profiler) Err() error { return p.firstErr }

func (p *Profiler) fail(err error) {
	if p.firstErr == nil {
		p.firstErr = err
	}
}

// Report ranks contexts and marks the popular set, mirroring thread_end.
// Call it once the guest run has finished.
func (p *Profiler) Report() *reportwriter.Report {
	return reportwriter.Build(p.Tracker, p.Tracer.AccessCount())
}

// --- dbihost.EventHandler ---

func (p *Profiler) OnMainEntry(rtn dbihost.Routine) { p.Stack.OnMainEntry(rtn) }

func (p *Profiler) OnCall(src, sp uintptr, rtn dbihost.Routine) { p.Stack.OnCall(src, sp, rtn) }

func (p *Profiler) OnIndirectCall(src, sp, target uintptr) {
	p.Stack.OnIndirectCall(src, sp, target, p.host)
}

func (p *Profiler) OnStubCall(src uintptr) { p.Stack.OnStubCall(src) }

func (p *Profiler) OnReturn(sp, target uintptr) { p.Stack.OnReturn(sp, target, p.host) }

func (p *Profiler) OnThreadStart() {
	p.Stack.OnThreadStart()
	if p.Stack.MultiThreaded() {
		p.fail(ErrMultiThreaded)
	}
}

func (p *Profiler) OnSignalEntry() { p.Stack.OnSignalEntry() }
func (p *Profiler) OnSignalExit()  { p.Stack.OnSignalExit() }

func (p *Profiler) OnBlockExecuted(numInstructions uint64) {
	if p.Stack.EnteredMain() {
		p.instrCount += numInstructions
	}
}

// InstructionCount returns the number of dynamic instructions attributed
// to the guest since main was entered.
func (p *Profiler) InstructionCount() uint64 { return p.instrCount }

// InstructionLimitReached reports whether the configured instruction
// limit (if any) has been hit.
func (p *Profiler) InstructionLimitReached() bool {
	return p.cfg.InstructionLimit != 0 && p.instrCount >= p.cfg.InstructionLimit
}

func (p *Profiler) OnAllocCall(name dbihost.AllocFunc, args dbihost.AllocArgs) {
	switch name {
	case dbihost.AllocMalloc:
		p.pending.size = args.Size
	case dbihost.AllocCalloc:
		p.pending.size = args.Count * args.Size
	case dbihost.AllocAlignedAlloc:
		p.pending.size = args.Size
	case dbihost.AllocPosixMemalign:
		p.pending.size = args.Size
	case dbihost.AllocRealloc:
		p.pending.size = args.Size
		p.pending.ptr = args.Ptr
	}
}

func (p *Profiler) OnAllocReturn(name dbihost.AllocFunc, result uintptr) {
	isRealloc := name == dbihost.AllocRealloc
	if !p.Stack.EnteredMain() {
		return
	}
	// Mirrors trace_return's condition, translated out of the original's
	// inverted-sense is_allocated: skip only when this is a realloc whose
	// resulting address happens to already be a tracked allocation.
	if isRealloc && p.Tracker.IsAllocated(result) {
		return
	}

	size := int32(p.pending.size)
	var err error
	if isRealloc {
		_, _, err = p.Tracker.Realloc(p.pending.ptr, result, size)
	} else {
		_, _, err = p.Tracker.Alloc(result, size)
	}
	if err != nil {
		p.fail(err)
	}
}

func (p *Profiler) OnFree(ptr uintptr) {
	if !p.Stack.EnteredMain() {
		return
	}
	if !p.Tracker.IsAllocated(ptr) {
		return
	}
	p.Tracker.Free(ptr)
}

func (p *Profiler) OnAccess(kind model.AccessKind, addr uintptr, size int32) {
	if !p.Stack.EnteredMain() {
		return
	}
	p.Tracer.OnAccess(kind, addr, size)
}

var _ dbihost.EventHandler = (*Profiler)(nil)
