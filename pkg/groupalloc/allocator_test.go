package groupalloc

import "testing"

// testConfig mirrors the #ifdef TEST block in allocate.h: small enough
// constants that a handful of allocations exercise chunk rollover and
// spare-list recycling without needing gigabyte-sized slabs.
func testConfig(maxSpare int) Config {
	return Config{
		NumGroups:        2,
		MaxObjectSize:    128,
		ChunkSize:        256,
		SlabSize:         256 * 4,
		DefaultAlignment: 8,
		MaxSpareChunks:   maxSpare,
	}
}

func TestMallocReturnsAlignedAddressWithinSlab(t *testing.T) {
	g, err := New(testConfig(0))
	if err != nil {
		t.Fatal(err)
	}
	addr, err := g.Malloc(0, 32)
	if err != nil {
		t.Fatal(err)
	}
	if !g.IsGroupObject(addr) {
		t.Fatal("expected allocated address to be recognized as a group object")
	}
	if !isAligned(addr, g.cfg.DefaultAlignment) {
		t.Fatalf("expected address %#x to be %d-byte aligned", addr, g.cfg.DefaultAlignment)
	}
}

func TestAllocationsFillAChunkBeforeRollingOver(t *testing.T) {
	g, err := New(testConfig(0))
	if err != nil {
		t.Fatal(err)
	}
	a, err := g.Malloc(0, 100)
	if err != nil {
		t.Fatal(err)
	}
	b, err := g.Malloc(0, 100)
	if err != nil {
		t.Fatal(err)
	}
	if g.slab.chunkOf(a) != g.slab.chunkOf(b) {
		t.Fatalf("expected the first two 100-byte allocations to share a chunk: %#x vs %#x", a, b)
	}

	c, err := g.Malloc(0, 100)
	if err != nil {
		t.Fatal(err)
	}
	if g.slab.chunkOf(c) == g.slab.chunkOf(a) {
		t.Fatal("expected the third 100-byte allocation to roll over into a new chunk")
	}
}

func TestOversizedRequestRejected(t *testing.T) {
	g, err := New(testConfig(0))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := g.Malloc(0, 256); err == nil {
		t.Fatal("expected a request larger than MaxObjectSize to be rejected")
	}
}

func TestFreeingLastObjectInCurrentChunkResetsItForReuse(t *testing.T) {
	g, err := New(testConfig(0))
	if err != nil {
		t.Fatal(err)
	}
	addr, err := g.Malloc(0, 64)
	if err != nil {
		t.Fatal(err)
	}
	if err := g.Free(addr); err != nil {
		t.Fatal(err)
	}
	next, err := g.Malloc(0, 64)
	if err != nil {
		t.Fatal(err)
	}
	if next != addr {
		t.Fatalf("expected the emptied current chunk to be reused at the same address, got %#x want %#x", next, addr)
	}
}

func TestFreeingNonCurrentEmptyChunkGoesToSpareList(t *testing.T) {
	g, err := New(testConfig(4))
	if err != nil {
		t.Fatal(err)
	}
	// The first two 100-byte requests share a chunk (see
	// TestAllocationsFillAChunkBeforeRollingOver); the third rolls group
	// 0 onto a second chunk, leaving the first chunk with two live
	// objects and no longer current.
	first, err := g.Malloc(0, 100)
	if err != nil {
		t.Fatal(err)
	}
	second, err := g.Malloc(0, 100)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := g.Malloc(0, 100); err != nil {
		t.Fatal(err)
	}
	firstChunk := g.slab.chunkOf(first)
	if g.slab.chunkOf(g.groups[0].curr-1) == firstChunk {
		t.Fatal("expected group 0 to have rolled off the first chunk")
	}

	if err := g.Free(first); err != nil {
		t.Fatal(err)
	}
	if g.slab.numSpare != 0 {
		t.Fatalf("expected the chunk to still be live with one object outstanding, got numSpare=%d", g.slab.numSpare)
	}
	if err := g.Free(second); err != nil {
		t.Fatal(err)
	}
	if g.slab.numSpare != 1 {
		t.Fatalf("expected the now-empty first chunk to be recorded as spare, got numSpare=%d", g.slab.numSpare)
	}
	if g.slab.spareHead != firstChunk {
		t.Fatalf("expected spare list head to be the emptied chunk %#x, got %#x", firstChunk, g.slab.spareHead)
	}
}

func TestSpareChunkIsRecycledBeforeCarvingAFreshOne(t *testing.T) {
	g, err := New(testConfig(4))
	if err != nil {
		t.Fatal(err)
	}
	first, err := g.Malloc(0, 100)
	if err != nil {
		t.Fatal(err)
	}
	second, err := g.Malloc(0, 100)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := g.Malloc(0, 100); err != nil {
		t.Fatal(err)
	}
	firstChunk := g.slab.chunkOf(first)
	if err := g.Free(first); err != nil {
		t.Fatal(err)
	}
	if err := g.Free(second); err != nil {
		t.Fatal(err)
	}
	ptrBeforeReuse := g.slab.ptr

	// Drive group 1 hard enough to need a brand new chunk; it should
	// pick up the spare chunk group 0 just vacated instead of carving
	// fresh space out of the slab.
	addr, err := g.Malloc(1, 100)
	if err != nil {
		t.Fatal(err)
	}
	if g.slab.chunkOf(addr) != firstChunk {
		t.Fatalf("expected the spare chunk %#x to be recycled, got a chunk at %#x", firstChunk, g.slab.chunkOf(addr))
	}
	if g.slab.ptr != ptrBeforeReuse {
		t.Fatal("expected reusing a spare chunk not to advance the slab's fresh-chunk pointer")
	}
	if g.slab.numSpare != 0 {
		t.Fatalf("expected the spare list to be empty after reuse, got %d", g.slab.numSpare)
	}
}

func TestCallocZeroesReturnedMemory(t *testing.T) {
	g, err := New(testConfig(0))
	if err != nil {
		t.Fatal(err)
	}
	addr, err := g.Calloc(0, 4, 8)
	if err != nil {
		t.Fatal(err)
	}
	for i, b := range g.Bytes(addr, 32) {
		if b != 0 {
			t.Fatalf("expected calloc'd byte %d to be zero, got %d", i, b)
		}
	}
}

func TestAddressOutsideSlabIsNotAGroupObject(t *testing.T) {
	g, err := New(testConfig(0))
	if err != nil {
		t.Fatal(err)
	}
	if g.IsGroupObject(g.slab.end + 1) {
		t.Fatal("expected an address past the slab's end not to be recognized as a group object")
	}
	if g.IsGroupObject(0) {
		t.Fatal("expected the null address not to be recognized as a group object")
	}
}

func TestSlabExhaustionSurfacesAnError(t *testing.T) {
	g, err := New(testConfig(0))
	if err != nil {
		t.Fatal(err)
	}
	// Four chunks available; each 100-byte request fits two per chunk,
	// so eight allocations from a single group exhausts the slab.
	var lastErr error
	for i := 0; i < 16; i++ {
		if _, lastErr = g.Malloc(0, 100); lastErr != nil {
			break
		}
	}
	if lastErr == nil {
		t.Fatal("expected repeated allocation to eventually exhaust the slab")
	}
}
