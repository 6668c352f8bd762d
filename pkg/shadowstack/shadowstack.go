// Package shadowstack reconstructs, for the single thread this profiler
// supports, the chain of call sites currently active in the guest -
// C1 of the affinity profiler. It is a direct port of ShadowStack.h's
// trace_call/trace_indirect_call/trace_return/trace_main/trace_signal
// analysis functions; the instrumentation-time decisions those functions
// depended on (which branch instructions get a callback at all, whether a
// target is a PLT stub) live on dbihost.Routine instead of being
// recomputed here, since the actual instrumentation engine is out of
// scope for this module and the routine metadata it would have computed
// is exactly what dbihost.Host.ResolveRoutine already reports.
package shadowstack

import (
	"github.com/affinityprof/haloprof/pkg/dbihost"
	"github.com/affinityprof/haloprof/pkg/model"
)

// ShadowStack tracks the live call chain for one guest thread. It is not
// safe for concurrent use - the spec this module implements explicitly
// excludes multi-threaded targets: OnThreadStart counts threads, and
// MultiThreaded reports a second one, which pkg/profiler turns into an
// error returned from its Err.
type ShadowStack struct {
	maxDepth int

	enteredMain  bool
	signalDepth  int
	threadCount  int
	lastStubSite uintptr
	chain        model.Chain
	extTraceable map[model.RoutineID]bool
}

// New creates a ShadowStack. maxDepth caps the chain length Chain()
// returns (0 means unbounded), matching KnobMaxStackDepth.
func New(maxDepth int) *ShadowStack {
	return &ShadowStack{
		maxDepth:     maxDepth,
		extTraceable: make(map[model.RoutineID]bool),
	}
}

// EnteredMain reports whether the guest's main routine has been seen yet;
// every other tracking function is a no-op before that point; just like
// ShadowStack::entered_main gating trace_call/trace_return/trace_access.
func (s *ShadowStack) EnteredMain() bool { return s.enteredMain }

// MultiThreaded reports whether more than one guest thread has started.
// The original tool hard-asserts on this; this module surfaces it as a
// value the caller can turn into an AppError instead.
func (s *ShadowStack) MultiThreaded() bool { return s.threadCount > 1 }

// SignalDepth reports how many nested signal handlers are currently
// executing.
func (s *ShadowStack) SignalDepth() int { return s.signalDepth }

func (s *ShadowStack) rememberExtTraceable(r dbihost.Routine) {
	if r.ExternallyTraceable {
		s.extTraceable[r.ID] = true
	}
}

func (s *ShadowStack) isExtTraceable(id model.RoutineID) bool {
	return s.extTraceable[id]
}

// OnMainEntry marks the guest's main entry point. It mirrors trace_main:
// the first time it fires, it seeds the chain with a sentinel frame (site
// zero) for the main routine itself, so later calls have a base frame to
// hang off.
func (s *ShadowStack) OnMainEntry(rtn dbihost.Routine) {
	s.enteredMain = true
	if len(s.chain) == 0 {
		s.chain = append(s.chain, model.CallSite{Site: 0, Routine: rtn.ID})
	}
}

// OnThreadStart mirrors trace_thread_start.
func (s *ShadowStack) OnThreadStart() {
	s.threadCount++
}

// OnSignalEntry and OnSignalExit mirror trace_signal's SIGNAL/SIGRETURN
// cases. Signals don't contribute frames to the chain.
func (s *ShadowStack) OnSignalEntry() { s.signalDepth++ }
func (s *ShadowStack) OnSignalExit()  { s.signalDepth-- }

// OnStubCall records the call site of a direct-call PLT stub so the
// subsequent OnCall for the routine it resolves to (arriving with src==0,
// since the stub itself has no meaningful return-address-to-caller
// relationship) can recover the real call site. Mirrors trace_stub_call.
func (s *ShadowStack) OnStubCall(src uintptr) {
	s.lastStubSite = src
}

// OnCall mirrors trace_call: push a new frame unless the guest hasn't
// reached main yet, the call is a same-routine repeat of the top frame, or
// the top frame is itself an externally traceable routine (so nothing
// called from inside malloc et al. gets added to the chain).
func (s *ShadowStack) OnCall(src uintptr, sp uintptr, rtn dbihost.Routine) {
	_ = sp
	if src == 0 {
		src = s.lastStubSite
		s.lastStubSite = 0
	}

	if !s.enteredMain {
		return
	}
	if top := s.top(); top != nil && top.Routine == rtn.ID {
		return
	}
	if top := s.top(); top != nil && s.isExtTraceable(top.Routine) {
		return
	}

	s.rememberExtTraceable(rtn)
	s.chain = append(s.chain, model.CallSite{Site: src, Routine: rtn.ID})
}

// OnIndirectCall mirrors trace_indirect_call: resolve the target through
// host, decide traceability via should_trace_branch's rule (the target
// routine must be valid, and either live in the main executable or be
// externally traceable), then delegate to OnCall.
func (s *ShadowStack) OnIndirectCall(src uintptr, sp uintptr, target uintptr, host dbihost.SymbolResolver) {
	if !s.enteredMain {
		return
	}
	rtn, ok := host.ResolveRoutine(target)
	if !ok {
		return
	}
	if rtn.MainExecutable || rtn.ExternallyTraceable {
		s.OnCall(src, sp, rtn)
	}
}

// OnReturn mirrors trace_return: resolve the return target, then search
// the chain from the top for a frame belonging to that routine. If found,
// truncate the chain to keep everything up to and including that frame
// (this, not popping it, is what the original code does - the frame
// being returned *into* stays on the chain to represent "we're now
// executing inside it again"). If no frame matches and the top of the
// chain is an externally traceable routine, pop it - this handles
// externally traceable routines called from library code that never got
// a matching OnCall for the return's target.
func (s *ShadowStack) OnReturn(sp uintptr, target uintptr, host dbihost.SymbolResolver) {
	if !s.enteredMain {
		return
	}
	rtn, ok := host.ResolveRoutine(target)
	if !ok {
		return
	}
	for i := len(s.chain) - 1; i >= 0; i-- {
		if s.chain[i].Routine == rtn.ID {
			s.chain = s.chain[:i+1]
			return
		}
	}
	if top := s.top(); top != nil && s.isExtTraceable(top.Routine) {
		s.chain = s.chain[:len(s.chain)-1]
	}
}

func (s *ShadowStack) top() *model.CallSite {
	if len(s.chain) == 0 {
		return nil
	}
	return &s.chain[len(s.chain)-1]
}

// Chain returns the current call chain, outermost frame first, truncated
// to maxDepth most recent frames if configured. Mirrors get_chain().
func (s *ShadowStack) Chain() model.Chain {
	if s.maxDepth > 0 && len(s.chain) > s.maxDepth {
		start := len(s.chain) - s.maxDepth
		return s.chain[start:].Clone()
	}
	return s.chain.Clone()
}

// ReducedChain returns Chain() with Chain.Reduce applied.
func (s *ShadowStack) ReducedChain() model.Chain {
	return s.Chain().Reduce()
}
