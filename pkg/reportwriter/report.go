// Package reportwriter is C4 of the affinity profiler: it ranks
// allocation contexts by access frequency, marks the smallest set of
// "popular" contexts that together account for 90% of all unique object
// accesses, and emits the resulting locality graph. It is a direct port
// of halo-prof.cpp's thread_end/write_tgf.
package reportwriter

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/affinityprof/haloprof/pkg/alloctracker"
	"github.com/affinityprof/haloprof/pkg/accesstracer"
	"github.com/affinityprof/haloprof/pkg/model"
)

// popularCoverage is the fraction of total unique accesses the popular
// set must account for, matching thread_end's hardcoded 0.9.
const popularCoverage = 0.9

// Report is the outcome of ranking and marking allocation contexts,
// ready to be rendered as a TGF locality graph.
type Report struct {
	// RankedContexts holds every known context, sorted by descending
	// access count (ties broken by context id for determinism, which the
	// original's unstable std::sort did not guarantee but nothing
	// downstream depends on a particular tie order either).
	RankedContexts []model.AllocationContextID
	TotalAccesses  uint64
	CoveredAccesses uint64
}

// contextStats is the minimal view reportwriter needs of the allocation
// context table; alloctracker.Tracker satisfies it.
type contextStats interface {
	Contexts() []model.AllocationContextID
	AccessCount(model.AllocationContextID) uint64
	MarkPopular(model.AllocationContextID)
	ChainFor(model.AllocationContextID) model.Chain
}

// Build ranks every context known to tracker by access count and marks
// the prefix of that ranking whose cumulative access count first reaches
// 90% of tracer's total unique accesses as "popular" - the set that will
// end up in the emitted locality graph. Mirrors thread_end's sort-and-mark
// loop; the element that crosses the threshold is included, not excluded
// (the original sets mark=1 before checking whether the break condition
// is met).
func Build(tracker contextStats, totalAccesses uint64) *Report {
	contexts := tracker.Contexts()
	sort.Slice(contexts, func(i, j int) bool {
		ci, cj := contexts[i], contexts[j]
		ai, aj := tracker.AccessCount(ci), tracker.AccessCount(cj)
		if ai != aj {
			return ai > aj
		}
		return ci < cj
	})

	threshold := uint64(float64(totalAccesses) * popularCoverage)
	var covered uint64
	for _, ctx := range contexts {
		tracker.MarkPopular(ctx)
		covered += tracker.AccessCount(ctx)
		if covered >= threshold {
			break
		}
	}

	return &Report{
		RankedContexts:  contexts,
		TotalAccesses:   totalAccesses,
		CoveredAccesses: covered,
	}
}

// popularityLookup is the view WriteTGF needs after Build has run.
type popularityLookup interface {
	Contexts() []model.AllocationContextID
	AccessCount(model.AllocationContextID) uint64
	IsPopular(model.AllocationContextID) bool
}

// affinityLookup is the view WriteTGF needs of the affinity graph.
type affinityLookup interface {
	WeightBetween(a, b model.AllocationContextID) uint64
}

var (
	_ popularityLookup = (*alloctracker.Tracker)(nil)
	_ affinityLookup   = (*accesstracer.Tracer)(nil)
)

// WriteTGF renders the locality graph in Trivial Graph Format: one
// "<id> <access count>" line per popular context, a lone "#" separator,
// then one "<i> <j> <weight>" line per edge with nonzero weight between
// two popular contexts, i always >= j. Mirrors write_tgf exactly,
// including iterating the edge half-matrix by dense context id rather
// than by the ranked order used for node output.
func WriteTGF(w io.Writer, report *Report, tracker popularityLookup, graph affinityLookup) error {
	bw := bufio.NewWriter(w)

	for _, ctx := range report.RankedContexts {
		if !tracker.IsPopular(ctx) {
			continue
		}
		if _, err := fmt.Fprintf(bw, "%d %d\n", ctx, tracker.AccessCount(ctx)); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintln(bw, "#"); err != nil {
		return err
	}

	var maxID model.AllocationContextID
	for _, ctx := range tracker.Contexts() {
		if ctx > maxID {
			maxID = ctx
		}
	}
	if len(tracker.Contexts()) == 0 {
		return bw.Flush()
	}
	for i := model.AllocationContextID(0); i <= maxID; i++ {
		if !tracker.IsPopular(i) {
			continue
		}
		for j := model.AllocationContextID(0); j <= i; j++ {
			if !tracker.IsPopular(j) {
				continue
			}
			weight := graph.WeightBetween(i, j)
			if weight == 0 {
				continue
			}
			if _, err := fmt.Fprintf(bw, "%d %d %d\n", i, j, weight); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}

// RoutineNamer resolves a routine id to a human-readable name for
// contexts.txt rendering; dbihost.Host implementations that keep symbol
// tables around can satisfy it directly.
type RoutineNamer interface {
	RoutineName(model.RoutineID) string
}

// chainSource is the view WriteContexts needs of the allocation context
// table.
type chainSource interface {
	Contexts() []model.AllocationContextID
	ChainFor(model.AllocationContextID) model.Chain
}

// ParseTGF reads back a locality graph in the format WriteTGF emits:
// "<id> <access count>" node lines, a lone "#" separator, then
// "<i> <j> <weight>" edge lines. It is the offline counterpart to
// WriteTGF, used by the grouping pass to turn a run's emitted graph
// back into the nodes/edges pkg/grouping.Cluster expects - a profiler
// run and the grouping pass over its output are separate process
// invocations, so the graph has to round-trip through the file rather
// than stay in memory between them.
func ParseTGF(r io.Reader) ([]model.TGFNode, []model.TGFEdge, error) {
	scanner := bufio.NewScanner(r)
	var nodes []model.TGFNode
	var edges []model.TGFEdge
	inEdges := false

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "#" {
			inEdges = true
			continue
		}

		fields := strings.Fields(line)
		if !inEdges {
			if len(fields) != 2 {
				return nil, nil, fmt.Errorf("reportwriter: malformed node line %q", line)
			}
			ctx, err := strconv.ParseUint(fields[0], 10, 32)
			if err != nil {
				return nil, nil, fmt.Errorf("reportwriter: parsing node context %q: %w", fields[0], err)
			}
			count, err := strconv.ParseUint(fields[1], 10, 64)
			if err != nil {
				return nil, nil, fmt.Errorf("reportwriter: parsing node access count %q: %w", fields[1], err)
			}
			nodes = append(nodes, model.TGFNode{Context: model.AllocationContextID(ctx), AccessCount: count})
			continue
		}

		if len(fields) != 3 {
			return nil, nil, fmt.Errorf("reportwriter: malformed edge line %q", line)
		}
		i, err := strconv.ParseUint(fields[0], 10, 32)
		if err != nil {
			return nil, nil, fmt.Errorf("reportwriter: parsing edge endpoint %q: %w", fields[0], err)
		}
		j, err := strconv.ParseUint(fields[1], 10, 32)
		if err != nil {
			return nil, nil, fmt.Errorf("reportwriter: parsing edge endpoint %q: %w", fields[1], err)
		}
		weight, err := strconv.ParseUint(fields[2], 10, 64)
		if err != nil {
			return nil, nil, fmt.Errorf("reportwriter: parsing edge weight %q: %w", fields[2], err)
		}
		edges = append(edges, model.TGFEdge{
			I:      model.AllocationContextID(i),
			J:      model.AllocationContextID(j),
			Weight: weight,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("reportwriter: reading TGF: %w", err)
	}
	return nodes, edges, nil
}

// WriteContexts renders the human-readable call-chain trace for every
// known context, mirroring DynAllocTracer's ContextTrace output: "CTX
// <id>:" followed by one "\t<routine> from <site>" line per frame,
// innermost frame first (the same reverse order ShadowStack::print
// walks in).
func WriteContexts(w io.Writer, tracker chainSource, namer RoutineNamer) error {
	bw := bufio.NewWriter(w)
	contexts := tracker.Contexts()
	sort.Slice(contexts, func(i, j int) bool { return contexts[i] < contexts[j] })

	for _, ctx := range contexts {
		if _, err := fmt.Fprintf(bw, "CTX %d:\n", ctx); err != nil {
			return err
		}
		chain := tracker.ChainFor(ctx)
		for i := len(chain) - 1; i >= 0; i-- {
			frame := chain[i]
			name := "UNKNOWN"
			if namer != nil {
				if n := namer.RoutineName(frame.Routine); n != "" {
					name = n
				}
			}
			if _, err := fmt.Fprintf(bw, "\t%s from %#x\n", name, frame.Site); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}
