package groupalloc

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Slab is the single reserved region of virtual address space chunks are
// carved from. allocate.h's VALID_CHUNK constraint - group membership is
// decided purely by address range, which is what lets free(ptr) and
// realloc(ptr, n) tell a group-owned pointer apart from one the real
// allocator handed out without any header lookup - means a process can
// only ever have one of these; nothing here enforces that beyond not
// giving the zero value a constructor, so tests are free to build
// several independent slabs.
type Slab struct {
	mem       []byte
	base      uintptr
	end       uintptr
	chunkSize uintptr

	ptr uintptr // next never-before-used chunk base, == end once exhausted

	spareHead uintptr // chunk base of the most recently freed chunk, 0 = none
	numSpare  int
	maxSpare  int // 0 means unbounded, matching "|| !MAX_SPARE_CHUNKS"
}

// NewSlab reserves size bytes of anonymous memory and trims it down to a
// chunkSize-aligned region, mirroring allocate_slab. chunkSize must be a
// power of two and size must be a multiple of it.
func NewSlab(size, chunkSize uintptr, maxSpareChunks int) (*Slab, error) {
	if !isPowerOfTwo(chunkSize) {
		return nil, fmt.Errorf("groupalloc: chunk size %d is not a power of two", chunkSize)
	}
	if size == 0 || size%chunkSize != 0 {
		return nil, fmt.Errorf("groupalloc: slab size %d is not a multiple of chunk size %d", size, chunkSize)
	}

	total := size + chunkSize - 1
	mem, err := unix.Mmap(-1, 0, int(total), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("groupalloc: reserving slab: %w", err)
	}

	base := addrOf(mem)
	aligned := alignUp(base, chunkSize)
	wastage := aligned - base
	if wastage > 0 {
		if err := unix.Munmap(mem[:wastage]); err != nil {
			return nil, fmt.Errorf("groupalloc: trimming slab alignment slack: %w", err)
		}
		mem = mem[wastage:]
	}

	s := &Slab{
		mem:       mem,
		base:      aligned,
		end:       aligned + size,
		chunkSize: chunkSize,
		ptr:       aligned,
		maxSpare:  maxSpareChunks,
	}
	return s, nil
}

// Contains reports whether addr falls within this slab's reserved
// range, i.e. whether it could possibly be a pointer this allocator
// handed out. Mirrors VALID_CHUNK / is_group_object.
func (s *Slab) Contains(addr uintptr) bool {
	return addr >= s.base && addr < s.end
}

// chunkOf rounds addr down to the base of the chunk containing it.
// Mirrors CHUNK_HDR.
func (s *Slab) chunkOf(addr uintptr) uintptr {
	return alignDown(addr, s.chunkSize)
}

// allocateChunk hands out one chunk, either recycled from the spare
// list or freshly carved off the end of the slab, and claims it for
// group. Mirrors allocate_chunk.
func (s *Slab) allocateChunk(group int) (uintptr, error) {
	var chunk uintptr
	if s.numSpare > 0 {
		hdr := s.headerAt(s.spareHead)
		chunk = s.spareHead
		s.spareHead = hdr.nextSpare
		s.numSpare--
	} else {
		if s.ptr == s.end {
			return 0, fmt.Errorf("groupalloc: slab exhausted after %d bytes", s.end-s.base)
		}
		chunk = s.ptr
		s.ptr += s.chunkSize
	}

	hdr := s.headerAt(chunk)
	hdr.groupID = uint64(group)
	hdr.liveObjects = 0
	return chunk, nil
}

// releaseChunk is called once a chunk's live object count drops to
// zero. It either marks the chunk spare for reuse or, once the spare
// list is full, releases its physical pages back to the OS with a
// madvise hint while keeping the virtual address range reserved - the
// slab can never be trimmed, since VALID_CHUNK-style membership testing
// depends on every chunk's address still falling inside it. Mirrors the
// second half of group_free.
func (s *Slab) releaseChunk(chunk uintptr) error {
	if s.maxSpare == 0 || s.numSpare < s.maxSpare {
		hdr := s.headerAt(chunk)
		hdr.nextSpare = s.spareHead
		s.spareHead = chunk
		s.numSpare++
		return nil
	}
	region := s.mem[chunk-s.base : chunk-s.base+s.chunkSize]
	return unix.Madvise(region, unix.MADV_FREE)
}
