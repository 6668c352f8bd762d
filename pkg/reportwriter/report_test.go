package reportwriter

import (
	"strings"
	"testing"

	"github.com/affinityprof/haloprof/pkg/model"
)

type fakeTracker struct {
	access  map[model.AllocationContextID]uint64
	popular map[model.AllocationContextID]bool
	chains  map[model.AllocationContextID]model.Chain
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{
		access:  make(map[model.AllocationContextID]uint64),
		popular: make(map[model.AllocationContextID]bool),
		chains:  make(map[model.AllocationContextID]model.Chain),
	}
}

func (f *fakeTracker) Contexts() []model.AllocationContextID {
	ids := make([]model.AllocationContextID, 0, len(f.access))
	for id := range f.access {
		ids = append(ids, id)
	}
	return ids
}
func (f *fakeTracker) AccessCount(ctx model.AllocationContextID) uint64 { return f.access[ctx] }
func (f *fakeTracker) MarkPopular(ctx model.AllocationContextID)       { f.popular[ctx] = true }
func (f *fakeTracker) IsPopular(ctx model.AllocationContextID) bool    { return f.popular[ctx] }
func (f *fakeTracker) ChainFor(ctx model.AllocationContextID) model.Chain {
	return f.chains[ctx]
}

type fakeGraph map[[2]model.AllocationContextID]uint64

func (g fakeGraph) WeightBetween(a, b model.AllocationContextID) uint64 {
	if a < b {
		a, b = b, a
	}
	return g[[2]model.AllocationContextID{a, b}]
}

func TestBuildMarksPopularUntilCoverageThreshold(t *testing.T) {
	tracker := newFakeTracker()
	tracker.access[0] = 50
	tracker.access[1] = 30
	tracker.access[2] = 20

	report := Build(tracker, 100)

	if report.RankedContexts[0] != 0 || report.RankedContexts[1] != 1 || report.RankedContexts[2] != 2 {
		t.Fatalf("unexpected ranking: %v", report.RankedContexts)
	}
	if !tracker.IsPopular(0) || !tracker.IsPopular(1) {
		t.Fatal("expected top two contexts to be popular")
	}
}

func TestBuildIncludesContextThatCrossesThreshold(t *testing.T) {
	tracker := newFakeTracker()
	tracker.access[0] = 50
	tracker.access[1] = 30
	tracker.access[2] = 20
	report := Build(tracker, 100) // threshold = 90

	// 50 -> 80 -> 100: the third context is the one that crosses 90, and
	// per the original's semantics it is marked *before* the break check,
	// so it ends up popular too.
	if !tracker.IsPopular(2) {
		t.Fatal("expected the context crossing the threshold to be marked popular")
	}
	if report.CoveredAccesses != 100 {
		t.Fatalf("expected covered accesses 100, got %d", report.CoveredAccesses)
	}
}

func TestWriteTGFOmitsUnpopularNodesAndEdges(t *testing.T) {
	tracker := newFakeTracker()
	tracker.access[0] = 10
	tracker.access[1] = 5
	tracker.MarkPopular(0)
	// context 1 left unpopular

	graph := fakeGraph{{1, 0}: 7, {0, 0}: 0}

	report := &Report{RankedContexts: []model.AllocationContextID{0, 1}, TotalAccesses: 15, CoveredAccesses: 10}

	var buf strings.Builder
	if err := WriteTGF(&buf, report, tracker, graph); err != nil {
		t.Fatal(err)
	}

	out := buf.String()
	if !strings.Contains(out, "0 10\n") {
		t.Fatalf("expected popular node line, got:\n%s", out)
	}
	if strings.Contains(out, "1 5\n") {
		t.Fatalf("did not expect unpopular node line, got:\n%s", out)
	}
	if strings.Contains(out, "1 0 7") {
		t.Fatalf("did not expect an edge touching an unpopular node, got:\n%s", out)
	}
}

func TestWriteTGFIncludesPopularEdge(t *testing.T) {
	tracker := newFakeTracker()
	tracker.access[0] = 10
	tracker.access[1] = 5
	tracker.MarkPopular(0)
	tracker.MarkPopular(1)

	graph := fakeGraph{{1, 0}: 7}
	report := &Report{RankedContexts: []model.AllocationContextID{0, 1}, TotalAccesses: 15, CoveredAccesses: 15}

	var buf strings.Builder
	if err := WriteTGF(&buf, report, tracker, graph); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "1 0 7\n") {
		t.Fatalf("expected edge line '1 0 7', got:\n%s", out)
	}
}

func TestParseTGFRoundTripsWriteTGF(t *testing.T) {
	tracker := newFakeTracker()
	tracker.access[0] = 10
	tracker.access[1] = 5
	tracker.MarkPopular(0)
	tracker.MarkPopular(1)

	graph := fakeGraph{{1, 0}: 7}
	report := &Report{RankedContexts: []model.AllocationContextID{0, 1}, TotalAccesses: 15, CoveredAccesses: 15}

	var buf strings.Builder
	if err := WriteTGF(&buf, report, tracker, graph); err != nil {
		t.Fatal(err)
	}

	nodes, edges, err := ParseTGF(strings.NewReader(buf.String()))
	if err != nil {
		t.Fatal(err)
	}
	if len(nodes) != 2 || len(edges) != 1 {
		t.Fatalf("expected 2 nodes and 1 edge, got %d nodes and %d edges", len(nodes), len(edges))
	}
	if edges[0].I != 1 || edges[0].J != 0 || edges[0].Weight != 7 {
		t.Fatalf("unexpected edge: %+v", edges[0])
	}
}

func TestParseTGFRejectsMalformedLine(t *testing.T) {
	if _, _, err := ParseTGF(strings.NewReader("0 10\nbroken\n#\n")); err == nil {
		t.Fatal("expected an error for a malformed node line")
	}
}

type fakeNamer map[model.RoutineID]string

func (f fakeNamer) RoutineName(id model.RoutineID) string { return f[id] }

func TestWriteContextsRendersFramesInnermostFirst(t *testing.T) {
	tracker := newFakeTracker()
	tracker.access[0] = 1
	tracker.chains[0] = model.Chain{{Site: 0, Routine: 1}, {Site: 0x10, Routine: 2}}
	namer := fakeNamer{1: "main", 2: "foo"}

	var buf strings.Builder
	if err := WriteContexts(&buf, tracker, namer); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	wantOrder := []string{"CTX 0:", "foo from 0x10", "main from 0x0"}
	lastIdx := -1
	for _, want := range wantOrder {
		idx := strings.Index(out, want)
		if idx < 0 {
			t.Fatalf("expected output to contain %q, got:\n%s", want, out)
		}
		if idx < lastIdx {
			t.Fatalf("expected %q to come after previous line in:\n%s", want, out)
		}
		lastIdx = idx
	}
}
