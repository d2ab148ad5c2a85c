// Package bitmap implements the bit-run primitives of the free space
// allocator. A bitmap is a byte slice where bit i of byte b (mask 1<<i) set
// means the corresponding quantum is allocated. All offsets and lengths are in
// bits.
//
// The search is table driven: for every byte value the tables give the number
// of free bits at the low end (first hole), at the high end (last hole), and
// the size and offset of the largest free run inside the byte. A run crossing
// byte boundaries is assembled from the last hole of one byte, any number of
// fully free bytes and the first hole of the next byte.
package bitmap

import "math/bits"

var (
	firstHoleSize [256]uint8
	lastHoleSize  [256]uint8
	maxHoleSize   [256]uint8
	maxHoleOffset [256]uint8
)

func init() {
	for v := 0; v < 256; v++ {
		b := uint8(v)
		firstHoleSize[v] = uint8(bits.TrailingZeros8(b))
		lastHoleSize[v] = uint8(bits.LeadingZeros8(b))

		var run, best, bestOff, start uint8
		for i := uint8(0); i < 8; i++ {
			if b&(1<<i) == 0 {
				if run == 0 {
					start = i
				}
				run++
				if run > best {
					best, bestOff = run, start
				}
			} else {
				run = 0
			}
		}
		maxHoleSize[v] = best
		maxHoleOffset[v] = bestOff
	}
}

func isSet(bm []byte, i int) bool {
	return bm[i>>3]&(1<<(i&7)) != 0
}

// Find returns the offset of the first run of n free bits in [from, to), or -1.
func Find(bm []byte, from, to, n int) int {
	if n <= 0 || from < 0 || to > len(bm)*8 || to-from < n {
		return -1
	}
	holeStart, holeLen := from, 0
	i := from
	for i < to {
		if i&7 != 0 || i+8 > to {
			if isSet(bm, i) {
				holeLen = 0
			} else {
				if holeLen == 0 {
					holeStart = i
				}
				holeLen++
				if holeLen >= n {
					return holeStart
				}
			}
			i++
			continue
		}

		b := bm[i>>3]
		if b == 0 {
			if holeLen == 0 {
				holeStart = i
			}
			holeLen += 8
			if holeLen >= n {
				return holeStart
			}
			i += 8
			continue
		}
		if holeLen+int(firstHoleSize[b]) >= n {
			if holeLen == 0 {
				holeStart = i
			}
			return holeStart
		}
		if int(maxHoleSize[b]) >= n {
			return i + int(maxHoleOffset[b])
		}
		holeLen = int(lastHoleSize[b])
		holeStart = i + 8 - holeLen
		i += 8
	}
	return -1
}

// Allocate finds a run of n free bits in [from, to) and marks it allocated.
func Allocate(bm []byte, from, to, n int) int {
	off := Find(bm, from, to, n)
	if off >= 0 {
		Reserve(bm, off, n)
	}
	return off
}

// FindAligned returns the first offset that is a multiple of align and starts
// a run of n free bits inside [from, to), or -1.
func FindAligned(bm []byte, from, to, n, align int) int {
	if align <= 1 {
		return Find(bm, from, to, n)
	}
	if n <= 0 || to > len(bm)*8 {
		return -1
	}
	start := (from + align - 1) / align * align
	for ; start+n <= to; start += align {
		if IsFree(bm, start, n) {
			return start
		}
	}
	return -1
}

// AllocateAligned is FindAligned followed by Reserve.
func AllocateAligned(bm []byte, from, to, n, align int) int {
	off := FindAligned(bm, from, to, n, align)
	if off >= 0 {
		Reserve(bm, off, n)
	}
	return off
}

// Reserve marks [off, off+n) allocated.
func Reserve(bm []byte, off, n int) {
	fill(bm, off, n, true)
}

// Free marks [off, off+n) free.
func Free(bm []byte, off, n int) {
	fill(bm, off, n, false)
}

func fill(bm []byte, off, n int, set bool) {
	end := off + n
	i := off
	for i < end && i&7 != 0 {
		setBit(bm, i, set)
		i++
	}
	var whole byte
	if set {
		whole = 0xFF
	}
	for ; i+8 <= end; i += 8 {
		bm[i>>3] = whole
	}
	for ; i < end; i++ {
		setBit(bm, i, set)
	}
}

func setBit(bm []byte, i int, set bool) {
	if set {
		bm[i>>3] |= 1 << (i & 7)
	} else {
		bm[i>>3] &^= 1 << (i & 7)
	}
}

// IsFree reports whether every bit of [off, off+n) is clear.
func IsFree(bm []byte, off, n int) bool {
	return uniform(bm, off, n, false)
}

// IsAllocated reports whether every bit of [off, off+n) is set.
func IsAllocated(bm []byte, off, n int) bool {
	return uniform(bm, off, n, true)
}

func uniform(bm []byte, off, n int, set bool) bool {
	if off < 0 || off+n > len(bm)*8 {
		return false
	}
	end := off + n
	i := off
	var whole byte
	if set {
		whole = 0xFF
	}
	for i < end {
		if i&7 == 0 && i+8 <= end {
			if bm[i>>3] != whole {
				return false
			}
			i += 8
			continue
		}
		if isSet(bm, i) != set {
			return false
		}
		i++
	}
	return true
}

// LeadingFree counts the free bits starting at from, stopping at to.
func LeadingFree(bm []byte, from, to int) int {
	i := from
	for i < to {
		if i&7 == 0 && i+8 <= to {
			b := bm[i>>3]
			if b == 0 {
				i += 8
				continue
			}
			return i - from + int(firstHoleSize[b])
		}
		if isSet(bm, i) {
			break
		}
		i++
	}
	return i - from
}

// TrailingFree counts the free bits ending just before to, stopping at from.
func TrailingFree(bm []byte, from, to int) int {
	i := to
	for i > from {
		if i&7 == 0 && i-8 >= from {
			b := bm[(i-8)>>3]
			if b == 0 {
				i -= 8
				continue
			}
			return to - i + int(lastHoleSize[b])
		}
		if isSet(bm, i-1) {
			break
		}
		i--
	}
	return to - i
}

// CountAllocated returns the number of set bits.
func CountAllocated(bm []byte) int {
	n := 0
	for _, b := range bm {
		n += bits.OnesCount8(b)
	}
	return n
}
