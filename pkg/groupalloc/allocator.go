package groupalloc

import "fmt"

// Config mirrors the compile-time knobs allocate.h hardcoded per build
// (NUM_GROUPS, MAX_SIZE, CHUNK_SIZE, SLAB_SIZE, DEFAULT_ALIGNMENT,
// MAX_SPARE_CHUNKS), turned into runtime parameters so a single binary
// can size the allocator against whatever grouping table pkg/grouping
// produced for the target process.
type Config struct {
	NumGroups        int
	MaxObjectSize    uintptr
	ChunkSize        uintptr
	SlabSize         uintptr
	DefaultAlignment uintptr
	// MaxSpareChunks caps how many emptied chunks are kept around for
	// reuse before the allocator starts madvise-releasing them instead.
	// Zero means unbounded, matching "|| !MAX_SPARE_CHUNKS" in the
	// original.
	MaxSpareChunks int
}

// groupState is the per-group bump-allocation cursor, one of the
// NUM_GROUPS-sized groups[] array entries in the original.
type groupState struct {
	curr uintptr // 0 means "no current chunk"
}

// GroupAllocator groups affine allocations into contiguous chunks
// carved from a single reserved slab, bump-allocating within whichever
// chunk a group currently owns. It is a direct, file-scope-global-free
// port of allocate.c.
type GroupAllocator struct {
	slab   *Slab
	groups []groupState
	cfg    Config
}

// New reserves a slab sized per cfg and prepares per-group bump state.
func New(cfg Config) (*GroupAllocator, error) {
	if cfg.NumGroups <= 0 {
		return nil, fmt.Errorf("groupalloc: NumGroups must be positive")
	}
	if cfg.DefaultAlignment == 0 {
		cfg.DefaultAlignment = 8
	}
	slab, err := NewSlab(cfg.SlabSize, cfg.ChunkSize, cfg.MaxSpareChunks)
	if err != nil {
		return nil, err
	}
	return &GroupAllocator{
		slab:   slab,
		groups: make([]groupState, cfg.NumGroups),
		cfg:    cfg,
	}, nil
}

// IsGroupObject reports whether addr was handed out by this allocator,
// i.e. whether it falls inside the reserved slab. Mirrors
// is_group_object / VALID_CHUNK.
func (g *GroupAllocator) IsGroupObject(addr uintptr) bool {
	return g.slab.Contains(addr)
}

// Bytes returns a writable view of the n bytes starting at addr, which
// must be an address this allocator returned. Exists so callers above
// this package (calloc's zero-fill, realloc's copy) never need direct
// unsafe.Pointer access to slab memory.
func (g *GroupAllocator) Bytes(addr uintptr, n uintptr) []byte {
	return g.slab.bytesAt(addr, n)
}

// SlabEnd reports the first address past the reserved slab. realloc
// uses this to bound how much it dares copy past an old object's start,
// since this allocator tracks no per-object size once Malloc returns;
// see pkg/interpose.
func (g *GroupAllocator) SlabEnd() uintptr { return g.slab.end }

func (g *GroupAllocator) checkGroup(group int) error {
	if group < 0 || group >= len(g.groups) {
		return fmt.Errorf("groupalloc: group %d out of range [0,%d)", group, len(g.groups))
	}
	return nil
}

// AlignedAlloc bump-allocates reqSize bytes aligned to alignment within
// the chunk group currently owns, rolling over to a fresh or recycled
// chunk when the current one can't fit the request. Mirrors
// group_aligned_alloc.
func (g *GroupAllocator) AlignedAlloc(group int, alignment, reqSize uintptr) (uintptr, error) {
	if err := g.checkGroup(group); err != nil {
		return 0, err
	}
	if !isPowerOfTwo(alignment) {
		return 0, fmt.Errorf("groupalloc: alignment %d is not a power of two", alignment)
	}
	if reqSize == 0 {
		reqSize = 1
	}
	if reqSize > g.cfg.MaxObjectSize {
		return 0, fmt.Errorf("groupalloc: request of %d bytes exceeds max object size %d", reqSize, g.cfg.MaxObjectSize)
	}

	st := &g.groups[group]
	curr := st.curr
	offset := distanceToAligned(curr, alignment)
	size := offset + reqSize
	if size >= g.slab.chunkSize {
		return 0, fmt.Errorf("groupalloc: request of %d bytes (aligned) does not fit in a %d-byte chunk", reqSize, g.slab.chunkSize)
	}

	if curr == 0 || alignDown(curr+size, g.slab.chunkSize) > curr {
		chunk, err := g.slab.allocateChunk(group)
		if err != nil {
			return 0, err
		}
		curr = chunk + chunkHeaderSize
		offset = distanceToAligned(curr, alignment)
		size = offset + reqSize
	}
	address := curr + offset

	chunk := g.slab.chunkOf(curr)
	hdr := g.slab.headerAt(chunk)
	hdr.liveObjects++
	st.curr = curr + size

	return address, nil
}

// Malloc allocates reqSize bytes at the group's default alignment.
// Mirrors group_malloc.
func (g *GroupAllocator) Malloc(group int, reqSize uintptr) (uintptr, error) {
	return g.AlignedAlloc(group, g.cfg.DefaultAlignment, reqSize)
}

// Calloc allocates number*reqSize zeroed bytes. Mirrors group_calloc.
func (g *GroupAllocator) Calloc(group int, number, reqSize uintptr) (uintptr, error) {
	size := number * reqSize
	addr, err := g.AlignedAlloc(group, g.cfg.DefaultAlignment, size)
	if err != nil {
		return 0, err
	}
	buf := g.Bytes(addr, size)
	for i := range buf {
		buf[i] = 0
	}
	return addr, nil
}

// PosixMemalign allocates reqSize bytes aligned to alignment. Mirrors
// group_posix_memalign, which is just group_aligned_alloc with the
// result written through an out-pointer in C; that indirection has no
// purpose in Go, so this returns the address directly.
func (g *GroupAllocator) PosixMemalign(group int, alignment, reqSize uintptr) (uintptr, error) {
	return g.AlignedAlloc(group, alignment, reqSize)
}

// Free releases addr, which must be a group-owned pointer this
// allocator previously returned. If that was the last live object in
// its chunk, the chunk is either reset for immediate reuse, handed to
// the spare list, or madvise-released, in that priority order. Mirrors
// group_free.
func (g *GroupAllocator) Free(addr uintptr) error {
	chunk := g.slab.chunkOf(addr)
	hdr := g.slab.headerAt(chunk)

	hdr.liveObjects--
	if hdr.liveObjects != 0 {
		return nil
	}

	group := int(hdr.groupID)
	if err := g.checkGroup(group); err != nil {
		return err
	}
	st := &g.groups[group]
	if g.slab.chunkOf(st.curr) == chunk {
		st.curr = chunk + chunkHeaderSize
		return nil
	}
	return g.slab.releaseChunk(chunk)
}
