package groupalloc

import "unsafe"

// chunkHeader sits at the front of every chunk and is read back out of
// raw slab bytes via an unsafe.Pointer cast, the same trick mmap-backed
// Go stores (bbolt's page headers, for one) use to avoid a serialize
// step on every access. Field order matches chunk_header in allocate.h;
// the trailing padding there existed to round the struct out to a fixed
// size reserved for statistics fields this port does not carry forward
// (see DESIGN.md), so it's dropped here rather than preserved as dead
// bytes.
type chunkHeader struct {
	groupID     uint64
	liveObjects uint64
	nextSpare   uintptr // chunk base address of the next spare chunk, 0 = none
}

const chunkHeaderSize = unsafe.Sizeof(chunkHeader{})

// headerAt reinterprets the bytes at address chunkBase as a chunk
// header. The caller must ensure chunkBase is the base of a chunk
// previously handed out by allocateChunk.
func (s *Slab) headerAt(chunkBase uintptr) *chunkHeader {
	off := chunkBase - s.base
	return (*chunkHeader)(unsafe.Pointer(&s.mem[off]))
}
