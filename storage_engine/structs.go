package storageengine

import (
	"log/slog"
	"sync"

	heapfile "HeapStore/storage_engine/access/heapfile_manager"
	indexfile "HeapStore/storage_engine/access/indexfile_manager"
	"HeapStore/storage_engine/allocator"
	"HeapStore/storage_engine/bufferpool"
	checkpoint "HeapStore/storage_engine/checkpoint_manager"
	diskmanager "HeapStore/storage_engine/disk_manager"
	"HeapStore/storage_engine/objectcache"
	"HeapStore/types"
)

// Storage is one open storage file: a heap of tagged objects plus the B-tree
// indexes over them, all kept in the same page-addressed file.
type Storage struct {
	cfg  Config
	file diskmanager.File

	pool        *bufferpool.BufferPool
	alloc       *allocator.Allocator
	heap        *heapfile.Heap
	objects     *objectcache.Table[Record]
	indexes     *indexfile.IndexFileManager
	checkpoints *checkpoint.CheckpointManager

	// catalog blob written since the last checkpoint, if any
	catalogPos  int64
	catalogSize int64

	closed bool
	log    *slog.Logger

	// Object and index operations hold the read side; Commit, Rollback and
	// Close hold the write side.
	mu sync.RWMutex
	// serializes loads that miss the object table
	loadMu sync.Mutex
}

// Record is a stored object: an opaque payload and its type tag.
type Record struct {
	oid  types.Oid
	Tag  types.BlockType
	Data []byte
}

func (r *Record) Oid() types.Oid {
	return r.oid
}
