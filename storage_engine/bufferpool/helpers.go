package bufferpool

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

/*
This file holds helper functions for the bufferpool
*/

// GetStats returns current buffer pool statistics
func (bp *BufferPool) GetStats() BufferPoolStats {
	stats := BufferPoolStats{
		PageSize:  bp.pageSize,
		Hits:      bp.hits.Load(),
		Misses:    bp.misses.Load(),
		Reads:     bp.reads.Load(),
		Writes:    bp.writes.Load(),
		Evictions: bp.evictions.Load(),
	}
	for _, s := range bp.shards {
		s.mu.Lock()
		stats.Capacity += s.capacity
		stats.Resident += len(s.pages)
		for _, pg := range s.pages {
			if pg.PinCount > 0 {
				stats.Pinned++
			}
			if pg.IsDirty() {
				stats.Dirty++
			}
		}
		s.mu.Unlock()
	}
	return stats
}

// Size returns the current number of pages in the buffer pool
func (bp *BufferPool) Size() int {
	n := 0
	for _, s := range bp.shards {
		s.mu.Lock()
		n += len(s.pages)
		s.mu.Unlock()
	}
	return n
}

// Capacity returns the nominal capacity of the buffer pool in pages
func (bp *BufferPool) Capacity() int {
	n := 0
	for _, s := range bp.shards {
		n += s.capacity
	}
	return n
}

// Contains reports whether pos is resident, without pinning or loading it.
func (bp *BufferPool) Contains(pos int64) bool {
	s := bp.shardFor(pos)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pages[pos]
	return ok
}

// HitRate returns hits / (hits + misses), or 0 before the first access.
func (s BufferPoolStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

func (s BufferPoolStats) String() string {
	return fmt.Sprintf("pool: %s resident of %s (%d dirty, %d pinned), hit rate %.1f%%, %s reads, %s writes, %s evictions",
		humanize.IBytes(uint64(s.Resident*s.PageSize)),
		humanize.IBytes(uint64(s.Capacity*s.PageSize)),
		s.Dirty, s.Pinned,
		s.HitRate()*100,
		humanize.Comma(int64(s.Reads)),
		humanize.Comma(int64(s.Writes)),
		humanize.Comma(int64(s.Evictions)))
}
