package heapfile

import (
	"log/slog"
	"sync"

	"HeapStore/storage_engine/page"
	"HeapStore/types"
)

// Pool is the page cache the heap reads and writes object bytes through.
type Pool interface {
	Get(pos int64) (*page.Page, error)
	New(pos int64) (*page.Page, error)
	Modify(pg *page.Page)
	Unpin(pg *page.Page)
	PageSize() int
}

// Space hands out and takes back ranges of the store.
type Space interface {
	Allocate(size int64) (int64, error)
	Free(pos, size int64) error
}

// Entry locates one stored object. Size includes the object header.
type Entry struct {
	Pos  int64
	Size uint32
	Tag  types.BlockType
}

// Heap maps oids to blobs kept in allocator space. Every blob starts with the
// 8 byte object header (size, tag); the payload follows.
//
// The oid directory is itself a blob, rewritten on Save. Until then the
// directory in the store still describes the last committed state.
type Heap struct {
	pool  Pool
	space Space

	dir     map[types.Oid]Entry
	nextOid types.Oid
	dirPos  int64
	dirSize int64
	changed bool

	log *slog.Logger
	mu  sync.RWMutex
}

// State is what the storage header records about the heap.
type State struct {
	NextOid types.Oid
	DirPos  int64
	DirSize int64
}
