package allocator

import (
	"fmt"
	"slices"

	"github.com/dustin/go-humanize"

	"HeapStore/logging"
	"HeapStore/storage_engine/bitmap"
	"HeapStore/storage_engine/dberror"
)

/*
Arena layout

	Base                                     Base + regionSize
	| bitmap pages of the batch | data ...   | next region ...

Bitmap page i of the directory covers bits [i*bitsPerPage, (i+1)*bitsPerPage),
that is regionSize = bitsPerPage*Quantum bytes of the arena. bitsPerPage is a
multiple of PageSize/Quantum so every region starts page aligned.

When the arena is full, a batch of bitmap pages is appended to the directory
and placed at the start of the region the batch adds, with their own bits set.

Freeing a range only reserves it; its bits stay set until Commit, so the
bitmap in the store never shows a range of the last committed state as free.

Searches go from the cursor to the end of the arena, wrap around to the start,
and extend the arena as the last resort. Runs may cross bitmap pages: the free
tail of one page is carried into the free head of the next.
*/

// New returns an allocator over an arena described by directory (the bitmap
// page positions in arena order) and cursor (a position inside the arena).
// An empty directory is a fresh arena; the first Allocate creates it.
func New(pool Pool, opts Options, directory []int64, cursor int64) (*Allocator, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	pageBits := opts.PageSize / opts.Quantum
	bitsPerPage := (opts.PageSize - bitmapHeaderSize) * 8 / pageBits * pageBits

	a := &Allocator{
		pool:        pool,
		opts:        opts,
		bitsPerPage: bitsPerPage,
		pageBits:    pageBits,
		reserved:    newReservations(),
		log:         logging.WithComponent("allocator"),
	}
	a.reset(directory, cursor)
	return a, nil
}

func (o Options) validate() error {
	pow2 := func(v int64) bool { return v > 0 && v&(v-1) == 0 }
	switch {
	case !pow2(o.PageSize):
		return fmt.Errorf("page size %d is not a power of two", o.PageSize)
	case !pow2(o.Quantum):
		return fmt.Errorf("quantum %d is not a power of two", o.Quantum)
	case o.Quantum > o.PageSize/8:
		return fmt.Errorf("quantum %d too large for page size %d", o.Quantum, o.PageSize)
	case o.Base < 0 || o.Base%o.PageSize != 0:
		return fmt.Errorf("arena base %d is not page aligned", o.Base)
	}
	return nil
}

func (a *Allocator) reset(directory []int64, cursor int64) {
	a.dir = slices.Clone(directory)
	a.cursor = 0
	if cursor > a.opts.Base {
		a.cursor = min((cursor-a.opts.Base)/a.opts.Quantum, a.totalBits())
	}
	a.reserved = newReservations()
}

// Reset replaces the arena state, dropping reservations. Used on rollback.
func (a *Allocator) Reset(directory []int64, cursor int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reset(directory, cursor)
}

func (a *Allocator) totalBits() int64 {
	return int64(len(a.dir)) * a.bitsPerPage
}

func (a *Allocator) bitPos(bit int64) int64 {
	return a.opts.Base + bit*a.opts.Quantum
}

func (a *Allocator) quanta(size int64) int64 {
	return max(1, (size+a.opts.Quantum-1)/a.opts.Quantum)
}

// RegionSize is the number of arena bytes covered by one bitmap page.
func (a *Allocator) RegionSize() int64 {
	return a.bitsPerPage * a.opts.Quantum
}

// MaxArena is the largest arena the directory bound allows, in bytes, or 0
// when the directory is unbounded. Past it Allocate fails with
// ErrOutOfSpace.
func (a *Allocator) MaxArena() int64 {
	if a.opts.MaxBitmapPages <= 0 {
		return 0
	}
	return int64(a.opts.MaxBitmapPages) * a.RegionSize()
}

// Allocate returns the position of a free range of at least size bytes.
func (a *Allocator) Allocate(size int64) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.allocate(a.quanta(size), 1)
}

// AllocatePage returns the position of a free page aligned page.
func (a *Allocator) AllocatePage() (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.allocate(a.pageBits, a.pageBits)
}

func (a *Allocator) allocate(n, align int64) (int64, error) {
	bit, err := a.findRun(a.cursor, a.totalBits(), n, align)
	if err == nil && bit < 0 && a.cursor > 0 {
		bit, err = a.findRun(0, min(a.totalBits(), a.cursor+n-1), n, align)
	}
	if err != nil {
		return 0, err
	}
	if bit < 0 {
		old := a.totalBits()
		if err := a.extend(n); err != nil {
			return 0, err
		}
		from := max(0, old-n)
		bit, err = a.findRun(from, a.totalBits(), n, align)
		if err != nil {
			return 0, err
		}
		if bit < 0 {
			return 0, dberror.New(dberror.KindCorrupted, "Allocate", "allocator", "no room for %d quanta after extension", n)
		}
	}
	if err := a.setBits(bit, n, true); err != nil {
		return 0, err
	}
	a.cursor = bit + n
	return a.bitPos(bit), nil
}

// findRun is the bitmap search proper, walking the bitmap pages covering
// [from, to).
func (a *Allocator) findRun(from, to, n, align int64) (int64, error) {
	var carryStart, carryLen int64
	for p := from / a.bitsPerPage; p < int64(len(a.dir)) && p*a.bitsPerPage < to; p++ {
		base := p * a.bitsPerPage
		lo := max(from, base) - base
		hi := min(to, base+a.bitsPerPage) - base

		pg, bm, err := a.bitmapPage(p)
		if err != nil {
			return -1, err
		}
		if carryLen > 0 && carryLen+int64(bitmap.LeadingFree(bm, int(lo), int(hi))) >= n {
			a.pool.Unpin(pg)
			return carryStart, nil
		}
		off := bitmap.FindAligned(bm, int(lo), int(hi), int(n), int(align))
		if off >= 0 {
			a.pool.Unpin(pg)
			return base + int64(off), nil
		}
		trail := int64(bitmap.TrailingFree(bm, int(lo), int(hi)))
		a.pool.Unpin(pg)

		switch {
		case align > 1:
			// page aligned runs never cross a bitmap page
		case carryLen > 0 && trail == hi-lo:
			carryLen += trail
		default:
			carryStart, carryLen = base+hi-trail, trail
		}
	}
	return -1, nil
}

// extend appends enough bitmap pages for a run of n bits.
func (a *Allocator) extend(n int64) error {
	k := int64(max(1, a.opts.ExtensionPages))
	for k*(a.bitsPerPage-a.pageBits) < n {
		k++
	}
	pages := int64(len(a.dir)) + k
	end := a.opts.Base + pages*a.RegionSize()
	if a.opts.Limit > 0 && end > a.opts.Limit {
		return dberror.New(dberror.KindOutOfSpace, "Allocate", "allocator",
			"arena would grow to %s, limit is %s", humanize.IBytes(uint64(end)), humanize.IBytes(uint64(a.opts.Limit)))
	}
	if a.opts.MaxBitmapPages > 0 && pages > int64(a.opts.MaxBitmapPages) {
		return dberror.New(dberror.KindOutOfSpace, "Allocate", "allocator",
			"bitmap directory full (%d pages)", a.opts.MaxBitmapPages)
	}

	old := a.totalBits()
	regionStart := a.bitPos(old)
	for j := int64(0); j < k; j++ {
		pos := regionStart + j*a.opts.PageSize
		pg, err := a.pool.New(pos)
		if err != nil {
			return fmt.Errorf("failed to create bitmap page at %d: %w", pos, err)
		}
		initBitmapPage(pg.Data)
		a.pool.Unpin(pg)
		a.dir = append(a.dir, pos)
	}
	if err := a.setBits(old, k*a.pageBits, true); err != nil {
		return err
	}
	a.log.Info("arena extended", "bitmap_pages", len(a.dir), "arena", humanize.IBytes(uint64(a.totalBits()*a.opts.Quantum)))
	return nil
}

// setBits sets or clears [bit, bit+n), which may span bitmap pages.
func (a *Allocator) setBits(bit, n int64, set bool) error {
	for n > 0 {
		p := bit / a.bitsPerPage
		off := bit - p*a.bitsPerPage
		cnt := min(n, a.bitsPerPage-off)

		pg, bm, err := a.bitmapPage(p)
		if err != nil {
			return err
		}
		if set {
			bitmap.Reserve(bm, int(off), int(cnt))
		} else {
			bitmap.Free(bm, int(off), int(cnt))
		}
		a.pool.Modify(pg)
		a.pool.Unpin(pg)

		bit += cnt
		n -= cnt
	}
	return nil
}

// allocated reports whether every bit of [bit, bit+n) is set.
func (a *Allocator) allocated(bit, n int64) (bool, error) {
	for n > 0 {
		p := bit / a.bitsPerPage
		off := bit - p*a.bitsPerPage
		cnt := min(n, a.bitsPerPage-off)

		pg, bm, err := a.bitmapPage(p)
		if err != nil {
			return false, err
		}
		ok := bitmap.IsAllocated(bm, int(off), int(cnt))
		a.pool.Unpin(pg)
		if !ok {
			return false, nil
		}
		bit += cnt
		n -= cnt
	}
	return true, nil
}

// Free returns [pos, pos+size) to the arena. The range stays reserved, its
// bits still set, until the next Commit.
func (a *Allocator) Free(pos, size int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.free(pos, a.quanta(size))
}

func (a *Allocator) free(pos, n int64) error {
	if pos < a.opts.Base || (pos-a.opts.Base)%a.opts.Quantum != 0 {
		return dberror.New(dberror.KindInvalidFree, "Free", "allocator", "position %d is not a quantum boundary of the arena", pos)
	}
	bit := (pos - a.opts.Base) / a.opts.Quantum
	if bit+n > a.totalBits() {
		return dberror.New(dberror.KindInvalidFree, "Free", "allocator", "range %d+%d lies outside the arena", pos, n*a.opts.Quantum)
	}
	end := pos + n*a.opts.Quantum
	for _, bp := range a.dir {
		if bp >= pos && bp < end {
			return dberror.New(dberror.KindInvalidFree, "Free", "allocator", "range %d+%d covers bitmap page %d", pos, n*a.opts.Quantum, bp)
		}
	}
	ok, err := a.allocated(bit, n)
	if err != nil {
		return err
	}
	if !ok {
		return dberror.New(dberror.KindInvalidFree, "Free", "allocator", "range %d+%d is not allocated", pos, n*a.opts.Quantum)
	}
	if _, dup := a.reserved.overlap(pos, end); dup {
		return dberror.New(dberror.KindInvalidFree, "Free", "allocator", "range %d+%d was already freed", pos, n*a.opts.Quantum)
	}
	a.reserved.add(pos, end)
	return nil
}

// Reallocate resizes the range at pos. It stays in place, bitmap untouched,
// when the new size does not need more quanta; otherwise a new range is
// allocated and the old one freed. Moving the bytes is up to the caller.
func (a *Allocator) Reallocate(pos, oldSize, newSize int64) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	oldN, newN := a.quanta(oldSize), a.quanta(newSize)
	if newN <= oldN {
		return pos, nil
	}
	newPos, err := a.allocate(newN, 1)
	if err != nil {
		return 0, err
	}
	if err := a.free(pos, oldN); err != nil {
		if undo := a.setBits((newPos-a.opts.Base)/a.opts.Quantum, newN, false); undo != nil {
			a.log.Error("failed to undo allocation", "pos", newPos, "error", undo)
		}
		return 0, err
	}
	return newPos, nil
}

// Commit releases every reservation: the bits of the ranges freed since the
// previous commit are cleared and the ranges become available. The cleared
// bitmap pages are only dirty in the pool; until they reach the store it
// still shows those ranges in use, which at worst leaks them.
func (a *Allocator) Commit() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := a.reserved.len()
	var err error
	a.reserved.each(func(start, end int64) bool {
		bit := (start - a.opts.Base) / a.opts.Quantum
		err = a.setBits(bit, (end-start)/a.opts.Quantum, false)
		return err == nil
	})
	if err != nil {
		return fmt.Errorf("failed to release reservations: %w", err)
	}
	a.reserved = newReservations()
	if n > 0 {
		a.log.Debug("reservations released", "count", n)
	}
	return nil
}

// Directory returns a copy of the bitmap page positions.
func (a *Allocator) Directory() []int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.dir)
}

// Cursor returns the position where the next search starts.
func (a *Allocator) Cursor() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bitPos(a.cursor)
}

// IsAllocated reports whether [pos, pos+size) is entirely in use.
func (a *Allocator) IsAllocated(pos, size int64) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if pos < a.opts.Base || (pos-a.opts.Base)%a.opts.Quantum != 0 {
		return false, nil
	}
	bit := (pos - a.opts.Base) / a.opts.Quantum
	n := a.quanta(size)
	if bit+n > a.totalBits() {
		return false, nil
	}
	return a.allocated(bit, n)
}

func (a *Allocator) Stats() (Stats, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	st := Stats{
		Arena:        a.totalBits() * a.opts.Quantum,
		BitmapPages:  len(a.dir),
		Reservations: a.reserved.len(),
		MaxArena:     a.MaxArena(),
	}
	for p := range a.dir {
		pg, bm, err := a.bitmapPage(int64(p))
		if err != nil {
			return Stats{}, err
		}
		st.Used += int64(bitmap.CountAllocated(bm)) * a.opts.Quantum
		a.pool.Unpin(pg)
	}
	st.Free = st.Arena - st.Used
	return st, nil
}

func (s Stats) String() string {
	out := fmt.Sprintf("arena: %s, used %s, free %s, %d bitmap pages, %d reservations",
		humanize.IBytes(uint64(s.Arena)), humanize.IBytes(uint64(s.Used)), humanize.IBytes(uint64(s.Free)),
		s.BitmapPages, s.Reservations)
	if s.MaxArena > 0 {
		out += ", max " + humanize.IBytes(uint64(s.MaxArena))
	}
	return out
}
