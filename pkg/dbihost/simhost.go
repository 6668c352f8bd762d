package dbihost

import (
	"fmt"

	"github.com/affinityprof/haloprof/pkg/model"
)

// Event is one step of a scripted guest run. Exactly one of the typed
// payload fields is meaningful, selected by Kind; this mirrors the union
// of analysis callbacks a real host would fire, flattened into a single
// struct so SimHost scripts can be built as plain Go slices/literals.
type Event struct {
	Kind EventKind

	// Call-stack fields
	Src    uintptr
	SP     uintptr
	Target uintptr
	Rtn    Routine

	// Allocation fields
	AllocFn     AllocFunc
	AllocArgs   AllocArgs
	ResultAddr  uintptr // address the (simulated) real/group allocator returned
	FreeAddr    uintptr
	NumInstrs   uint64
	AccessKind  model.AccessKind
	AccessAddr  uintptr
	AccessSize  int32
}

// EventKind selects which EventHandler method an Event replays.
type EventKind int

const (
	EvMainEntry EventKind = iota
	EvCall
	EvIndirectCall
	EvStubCall
	EvReturn
	EvThreadStart
	EvSignalEntry
	EvSignalExit
	EvBlockExecuted
	EvAllocCall
	EvAllocReturn
	EvFree
	EvAccess
)

// SimHost is a deterministic, single-threaded Host that replays a fixed
// Event script instead of actually instrumenting a process. It resolves
// addresses against a routine table built up as OnCall/OnMainEntry events
// declare routines, which is enough for the profiler core's own use of
// ResolveRoutine (looking up the routine at an indirect-call target or a
// return address).
type SimHost struct {
	script    []Event
	routines  map[uintptr]Routine
	exitCode  int
}

// NewSimHost builds a SimHost that will replay script when Run is called.
// The Routine carried by an EvMainEntry event, or by an EvCall/
// EvIndirectCall/EvReturn event with a nonzero Target, is indexed by that
// Target so ResolveRoutine can find it later;
// callers only need to supply routine metadata once, on the event that
// introduces it.
func NewSimHost(script []Event) *SimHost {
	h := &SimHost{
		script:   script,
		routines: make(map[uintptr]Routine),
	}
	for _, ev := range script {
		switch ev.Kind {
		case EvCall:
			if ev.Target != 0 {
				h.routines[ev.Target] = ev.Rtn
			}
		case EvIndirectCall:
			if ev.Target != 0 {
				h.routines[ev.Target] = ev.Rtn
			}
		case EvReturn:
			if ev.Target != 0 {
				h.routines[ev.Target] = ev.Rtn
			}
		case EvMainEntry:
			h.routines[ev.Target] = ev.Rtn
		}
	}
	return h
}

// WithExitCode sets the code Run reports having exited with, once the
// whole script has played out (0 by default, matching a clean exit).
func (h *SimHost) WithExitCode(code int) *SimHost {
	h.exitCode = code
	return h
}

func (h *SimHost) ResolveRoutine(addr uintptr) (Routine, bool) {
	r, ok := h.routines[addr]
	return r, ok
}

// Run replays the recorded script against h in order, returning the
// configured exit code. The only error it reports is an event of unknown
// kind, which stops the replay at that event.
func (h *SimHost) Run(handler EventHandler) (int, error) {
	for i, ev := range h.script {
		if err := h.dispatch(handler, ev); err != nil {
			return h.exitCode, fmt.Errorf("event %d: %w", i, err)
		}
	}
	return h.exitCode, nil
}

func (h *SimHost) dispatch(handler EventHandler, ev Event) error {
	switch ev.Kind {
	case EvMainEntry:
		handler.OnMainEntry(ev.Rtn)
	case EvCall:
		handler.OnCall(ev.Src, ev.SP, ev.Rtn)
	case EvIndirectCall:
		handler.OnIndirectCall(ev.Src, ev.SP, ev.Target)
	case EvStubCall:
		handler.OnStubCall(ev.Src)
	case EvReturn:
		handler.OnReturn(ev.SP, ev.Target)
	case EvThreadStart:
		handler.OnThreadStart()
	case EvSignalEntry:
		handler.OnSignalEntry()
	case EvSignalExit:
		handler.OnSignalExit()
	case EvBlockExecuted:
		handler.OnBlockExecuted(ev.NumInstrs)
	case EvAllocCall:
		handler.OnAllocCall(ev.AllocFn, ev.AllocArgs)
	case EvAllocReturn:
		handler.OnAllocReturn(ev.AllocFn, ev.ResultAddr)
	case EvFree:
		handler.OnFree(ev.FreeAddr)
	case EvAccess:
		handler.OnAccess(ev.AccessKind, ev.AccessAddr, ev.AccessSize)
	default:
		return fmt.Errorf("unknown event kind %d", ev.Kind)
	}
	return nil
}
