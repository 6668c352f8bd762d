package profiler

import (
	"strings"
	"testing"

	"github.com/affinityprof/haloprof/internal/simguest"
	"github.com/affinityprof/haloprof/pkg/dbihost"
	"github.com/affinityprof/haloprof/pkg/reportwriter"
)

// TestEndToEndTwoAllocationsSameContextBuildAffinity exercises scenario
// E1: two allocations made from the same call chain and touched close
// together in the access stream should end up co-allocatable, sharing an
// allocation context and contributing an affinity edge.
func TestEndToEndTwoAllocationsSameContextBuildAffinity(t *testing.T) {
	b := simguest.NewBuilder("main")
	b.Call(0x10, 0x7000, 0x2000, "build_list")
	b.Malloc(64, 0x100000)
	b.Malloc(64, 0x100100)
	b.Read(0x100000, 8)
	b.Read(0x100100, 8)

	host := dbihost.NewSimHost(b.Build())
	p, err := New(DefaultConfig(), host)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := host.Run(p); err != nil {
		t.Fatal(err)
	}
	if err := p.Err(); err != nil {
		t.Fatalf("unexpected profiler error: %v", err)
	}

	objA, ok := p.Tracker.Lookup(0x100000)
	if !ok {
		t.Fatal("expected first allocation to be tracked")
	}
	objB, ok := p.Tracker.Lookup(0x100100)
	if !ok {
		t.Fatal("expected second allocation to be tracked")
	}
	if objA.Context != objB.Context {
		t.Fatalf("expected both allocations under the same call chain to share a context, got %d and %d", objA.Context, objB.Context)
	}

	if w := p.Tracer.WeightBetween(objA.Context, objB.Context); w == 0 {
		t.Fatal("expected nonzero affinity weight between the two objects' context")
	}

	report := p.Report()
	if report.TotalAccesses != 2 {
		t.Fatalf("expected 2 unique accesses, got %d", report.TotalAccesses)
	}

	var buf strings.Builder
	if err := reportwriter.WriteTGF(&buf, report, p.Tracker, p.Tracer); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "#\n") {
		t.Fatalf("expected TGF separator in output:\n%s", buf.String())
	}
}

// TestFreeThenReallocDoesNotCrossContaminateObjects exercises scenario
// E2: freeing an object and reallocating a fresh one at the same address
// must not let the stale object's identity leak into the new one.
func TestFreeThenReallocDoesNotCrossContaminateObjects(t *testing.T) {
	b := simguest.NewBuilder("main")
	b.Malloc(32, 0x200000)
	b.Free(0x200000)
	b.Malloc(48, 0x200000)

	host := dbihost.NewSimHost(b.Build())
	p, err := New(DefaultConfig(), host)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := host.Run(p); err != nil {
		t.Fatal(err)
	}

	obj, ok := p.Tracker.Lookup(0x200000)
	if !ok {
		t.Fatal("expected reallocated address to be tracked")
	}
	if obj.Size != 48 {
		t.Fatalf("expected the new allocation's size to win, got %d", obj.Size)
	}
}

// TestOversizedAllocationExcludedFromTracking exercises scenario E3: an
// allocation larger than MaxObjectSize must not show up in the tracker,
// and accesses to it must not be counted.
func TestOversizedAllocationExcludedFromTracking(t *testing.T) {
	b := simguest.NewBuilder("main")
	b.Malloc(1<<20, 0x300000)
	b.Read(0x300000, 8)

	cfg := DefaultConfig()
	host := dbihost.NewSimHost(b.Build())
	p, err := New(cfg, host)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := host.Run(p); err != nil {
		t.Fatal(err)
	}
	if p.Tracker.IsAllocated(0x300000) {
		t.Fatal("expected oversized allocation to be excluded from tracking")
	}
	if p.Tracer.AccessCount() != 0 {
		t.Fatalf("expected no accesses recorded for an untracked allocation, got %d", p.Tracer.AccessCount())
	}
}

// TestMultiThreadedGuestReportsError exercises scenario E4: a second
// thread starting must surface as an error rather than being silently
// accepted, per the spec's explicit non-goal around multi-threaded
// targets.
func TestMultiThreadedGuestReportsError(t *testing.T) {
	b := simguest.NewBuilder("main")
	host := dbihost.NewSimHost(b.Build())
	p, err := New(DefaultConfig(), host)
	if err != nil {
		t.Fatal(err)
	}
	p.OnThreadStart()
	p.OnThreadStart()
	if p.Err() != ErrMultiThreaded {
		t.Fatalf("expected ErrMultiThreaded, got %v", p.Err())
	}
}
