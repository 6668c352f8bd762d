// Package interpose is C7 of the affinity-guided allocator: it decides,
// per call, whether an allocation belongs to a group (and so should be
// served from pkg/groupalloc's slab) or should fall through to the
// process's normal allocator, and it owns the one operation
// pkg/groupalloc deliberately knows nothing about - realloc, which may
// need to move an object between the two worlds. It is a port of
// libhalo.c's malloc/calloc/posix_memalign/aligned_alloc/realloc/free
// wrappers.
//
// True libc symbol interposition - replacing the process-wide malloc
// family via LD_PRELOAD, the way libhalo.c does with
// dlsym(RTLD_NEXT, ...) - has no equivalent in pure Go: Go programs
// don't link against libc's allocator in the first place, and Go gives
// no hook to intercept C.malloc calls made by other shared objects
// short of cgo plus linker tricks that are out of reach here. Real
// points it at whatever the host process's fallback allocator is; in a
// real deployment that would be a thin cgo shim calling real libc
// malloc, but any RealAllocator works, which keeps this package fully
// unit-testable in pure Go.
//
// libhalo.c's calloc wrapper also guards a reentrancy hazard: libdl's
// first dlsym() call itself calls calloc, so the real entry point can't
// have been resolved yet when that happens, and a bootstrap scratch
// buffer stands in until it has. That hazard is specific to lazily
// resolving symbols via dlsym at the first call; it doesn't arise here
// since Real is wired in at construction time rather than resolved lazily
// on first use, so there is nothing to guard against and no bootstrap
// buffer is implemented.
package interpose

import "github.com/affinityprof/haloprof/pkg/groupalloc"

// GroupIDFunc is the externally supplied oracle deciding which group,
// if any, an allocation of the given size belongs to. A negative result
// means the request should bypass grouping entirely. Mirrors
// get_group_id; pkg/grouping builds one from an affinity graph.
type GroupIDFunc func(size uintptr) int

// RealAllocator is the fallback allocator for requests the oracle
// declines to group, standing in for the dlsym(RTLD_NEXT, ...)-resolved
// libc entry points in the original.
type RealAllocator interface {
	Malloc(size uintptr) uintptr
	Calloc(number, size uintptr) uintptr
	Realloc(ptr uintptr, size uintptr) uintptr
	Free(ptr uintptr)
	PosixMemalign(alignment, size uintptr) (ptr uintptr, errno int)
	AlignedAlloc(alignment, size uintptr) uintptr
}

// Interposer routes each allocation entry point to either the group
// allocator or the real one, per GroupIDFunc's verdict.
type Interposer struct {
	groups  *groupalloc.GroupAllocator
	real    RealAllocator
	groupID GroupIDFunc
}

// New builds an Interposer over an existing group allocator, falling
// back to real for any request the oracle doesn't place in a group.
func New(groups *groupalloc.GroupAllocator, real RealAllocator, groupID GroupIDFunc) *Interposer {
	return &Interposer{groups: groups, real: real, groupID: groupID}
}

// Malloc mirrors malloc().
func (in *Interposer) Malloc(size uintptr) uintptr {
	gid := in.groupID(size)
	if gid < 0 {
		return in.real.Malloc(size)
	}
	addr, err := in.groups.Malloc(gid, size)
	if err != nil {
		return 0
	}
	return addr
}

// Calloc mirrors calloc().
func (in *Interposer) Calloc(number, size uintptr) uintptr {
	gid := in.groupID(number * size)
	if gid < 0 {
		return in.real.Calloc(number, size)
	}
	addr, err := in.groups.Calloc(gid, number, size)
	if err != nil {
		return 0
	}
	return addr
}

// PosixMemalign mirrors posix_memalign(). errno is 0 on success.
func (in *Interposer) PosixMemalign(alignment, size uintptr) (ptr uintptr, errno int) {
	gid := in.groupID(size)
	if gid < 0 {
		return in.real.PosixMemalign(alignment, size)
	}
	addr, err := in.groups.PosixMemalign(gid, alignment, size)
	if err != nil {
		return 0, 12 // ENOMEM
	}
	return addr, 0
}

// AlignedAlloc mirrors aligned_alloc().
func (in *Interposer) AlignedAlloc(alignment, size uintptr) uintptr {
	gid := in.groupID(size)
	if gid < 0 {
		return in.real.AlignedAlloc(alignment, size)
	}
	addr, err := in.groups.AlignedAlloc(gid, alignment, size)
	if err != nil {
		return 0
	}
	return addr
}

// Free mirrors free(): a no-op on a null pointer, otherwise routed by
// slab membership rather than by re-running the oracle, since the
// oracle only ever decided things by requested size and the allocator
// that actually served the request is the ground truth here.
func (in *Interposer) Free(ptr uintptr) {
	if ptr == 0 {
		return
	}
	if in.groups.IsGroupObject(ptr) {
		in.groups.Free(ptr)
		return
	}
	in.real.Free(ptr)
}

// Realloc mirrors realloc(): a group-owned pointer is always serviced
// by allocating fresh (by size, which may land in a different group
// than the original object, or bypass grouping altogether), copying
// forward, and freeing the old block - the group allocator tracks no
// per-object size to grow in place against. The copy length is bounded
// by the distance from ptr to the end of the slab rather than by the
// old object's real size, which the allocator never recorded; since
// every group-owned pointer lives inside the one slab, that distance is
// always a safe upper bound on how many bytes past ptr it's valid to
// read, even though some of what gets copied may be bytes belonging to
// a neighboring live object rather than the original allocation.
func (in *Interposer) Realloc(ptr uintptr, size uintptr) uintptr {
	if ptr == 0 {
		return in.Malloc(size)
	}
	if !in.groups.IsGroupObject(ptr) {
		return in.real.Realloc(ptr, size)
	}

	object := in.Malloc(size)
	if object == 0 {
		return 0
	}

	num := size
	if distToEnd := in.groups.SlabEnd() - ptr; distToEnd < size {
		num = distToEnd
	}
	copy(in.groups.Bytes(object, num), in.groups.Bytes(ptr, num))
	in.groups.Free(ptr)
	return object
}
