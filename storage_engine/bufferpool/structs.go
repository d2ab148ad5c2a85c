package bufferpool

import (
	"log/slog"
	"sync"
	"sync/atomic"

	diskmanager "HeapStore/storage_engine/disk_manager"
	"HeapStore/storage_engine/page"
)

// ############################################# BUFFER POOL #############################################

// BufferPool caches PageSize blocks of a File. Pages are split over shards by
// a hash of the page number; each shard has its own lock, LRU list and wait
// condition for in-flight loads.
type BufferPool struct {
	file     diskmanager.File
	pageSize int
	shards   []*shard
	log      *slog.Logger

	// set when eviction wrote a dirty page since the last Flush or Discard
	spilled atomic.Bool

	hits      atomic.Uint64
	misses    atomic.Uint64
	reads     atomic.Uint64
	writes    atomic.Uint64
	evictions atomic.Uint64
}

type shard struct {
	mu       sync.Mutex
	loaded   *sync.Cond // broadcast when a RAW page finishes loading
	pages    map[int64]*page.Page
	lru      page.List
	capacity int
}

// Options configures a BufferPool.
type Options struct {
	PageSize int
	Capacity int // pages across all shards
	Shards   int
}

func DefaultOptions() Options {
	return Options{PageSize: 4096, Capacity: 1024, Shards: 8}
}

// BufferPoolStats is a point in time snapshot of the pool counters.
type BufferPoolStats struct {
	Capacity  int
	PageSize  int
	Resident  int
	Dirty     int
	Pinned    int
	Hits      uint64
	Misses    uint64
	Reads     uint64
	Writes    uint64
	Evictions uint64
}
