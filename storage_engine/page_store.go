package storageengine

import (
	heapfile "HeapStore/storage_engine/access/heapfile_manager"
	"HeapStore/storage_engine/allocator"
	"HeapStore/storage_engine/bufferpool"
	"HeapStore/types"
)

// pageStore hands index trees whole pages from the shared arena.
type pageStore struct {
	*bufferpool.BufferPool
	alloc *allocator.Allocator
}

func (ps pageStore) AllocatePage() (int64, error) {
	return ps.alloc.AllocatePage()
}

func (ps pageStore) FreePage(pos int64) error {
	return ps.alloc.Free(pos, int64(ps.PageSize()))
}

// recordStore writes dirty records back to the heap and refreshes resident
// ones after a rollback.
type recordStore struct {
	heap *heapfile.Heap
}

func (rs recordStore) Store(oid types.Oid, rec *Record) error {
	return rs.heap.Put(oid, rec.Tag, rec.Data)
}

func (rs recordStore) Reload(oid types.Oid, rec *Record) error {
	tag, data, err := rs.heap.Get(oid)
	if err != nil {
		return err
	}
	rec.Tag, rec.Data = tag, data
	return nil
}
