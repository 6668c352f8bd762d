// Package model holds the plain data types shared by every stage of the
// affinity profiler: call sites and chains (pkg/shadowstack), allocation
// contexts (pkg/alloctracker), and the locality graph emitted by
// pkg/reportwriter.
package model

// RoutineID identifies a resolved routine (function) inside the profiled
// process. It stands in for Pin's RTN handle: two routines compare equal
// iff they are the same routine, regardless of which call site invoked
// them.
type RoutineID uint64

// CallSite is a (return address, routine) pair: one frame of a shadow call
// chain. Site is the return address within the caller, normalized to an
// image-relative offset when the caller lives in the main executable. A
// call that went through a PLT stub carries the site of the user-code
// call into the stub; the main routine's base frame has site zero.
type CallSite struct {
	Site    uintptr
	Routine RoutineID
}

// Chain is a shadow call chain, outermost frame first. It plays the role of
// ShadowStack::Chain.
type Chain []CallSite

// Clone returns an independent copy, safe to retain past the lifetime of
// the chain that produced it (the live chain is mutated in place as the
// shadow stack unwinds).
func (c Chain) Clone() Chain {
	if len(c) == 0 {
		return nil
	}
	out := make(Chain, len(c))
	copy(out, c)
	return out
}

// Equal reports whether two chains have identical frames in the same
// order.
func (c Chain) Equal(other Chain) bool {
	if len(c) != len(other) {
		return false
	}
	for i := range c {
		if c[i] != other[i] {
			return false
		}
	}
	return true
}

// key returns a value usable as a map key for a chain. Go map keys must be
// comparable, which a slice is not, so chains are deduplicated through
// contexts keyed by this string form rather than by Chain itself.
func (c Chain) key() string {
	buf := make([]byte, 0, len(c)*16)
	var tmp [16]byte
	for _, site := range c {
		putUint64(tmp[0:8], uint64(site.Site))
		putUint64(tmp[8:16], uint64(site.Routine))
		buf = append(buf, tmp[:]...)
	}
	return string(buf)
}

// Key is the exported form of key, used by code outside this package (the
// allocation context table) that needs to index chains in a map.
func (c Chain) Key() string { return c.key() }

func putUint64(b []byte, v uint64) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
	b[4] = byte(v >> 32)
	b[5] = byte(v >> 40)
	b[6] = byte(v >> 48)
	b[7] = byte(v >> 56)
}

// Reduce rewrites a chain so that, for any call site appearing more than
// once, only its most recent (innermost) occurrence survives. This mirrors
// ShadowStack::reduce_chain, which exists because a chain built up across
// calls into externally traceable routines (malloc, longjmp, ...) can
// revisit the same site several times before an allocation actually
// happens.
//
// The original C++ implementation erases matches in place while walking a
// reverse iterator over a std::vector, which the author's own comment
// calls "laughably" awkward. Go slices don't support mid-walk erase any
// more gracefully, so this builds a fresh chain instead: walk back to
// front, keep the first (innermost) time each call site is seen, then
// reverse the kept frames back into outermost-first order.
func (c Chain) Reduce() Chain {
	seen := make(map[CallSite]bool, len(c))
	kept := make(Chain, 0, len(c))
	for i := len(c) - 1; i >= 0; i-- {
		site := c[i]
		if seen[site] {
			continue
		}
		seen[site] = true
		kept = append(kept, site)
	}
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return kept
}
