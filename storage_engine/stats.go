package storageengine

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"

	"HeapStore/storage_engine/allocator"
	"HeapStore/storage_engine/bufferpool"
)

// Stats is a point in time snapshot of a Storage.
type Stats struct {
	FileSize  int64
	Seq       uint64
	Objects   int // stored in the heap
	Resident  int // held by the object table
	Dirty     int
	Pool      bufferpool.BufferPoolStats
	Allocator allocator.Stats
	Indexes   map[string]uint64
}

func (s *Storage) Stats() (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkOpen("Stats"); err != nil {
		return Stats{}, err
	}
	size, err := s.file.Length()
	if err != nil {
		return Stats{}, err
	}
	as, err := s.alloc.Stats()
	if err != nil {
		return Stats{}, err
	}
	ix, err := s.indexes.Stats()
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		FileSize:  size,
		Seq:       s.checkpoints.Last().Seq,
		Objects:   s.heap.Len(),
		Resident:  s.objects.Len(),
		Dirty:     s.objects.DirtyCount(),
		Pool:      s.pool.GetStats(),
		Allocator: as,
		Indexes:   ix,
	}, nil
}

func (st Stats) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "file: %s, %s commits\n", humanize.IBytes(uint64(st.FileSize)), humanize.Comma(int64(st.Seq)))
	fmt.Fprintf(&b, "objects: %s stored, %d resident, %d dirty\n", humanize.Comma(int64(st.Objects)), st.Resident, st.Dirty)
	fmt.Fprintf(&b, "%s\n", st.Allocator)
	fmt.Fprintf(&b, "%s\n", st.Pool)
	for _, name := range slices.Sorted(maps.Keys(st.Indexes)) {
		fmt.Fprintf(&b, "index %s: %s entries\n", name, humanize.Comma(int64(st.Indexes[name])))
	}
	return b.String()
}
