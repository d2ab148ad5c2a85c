package allocator

import (
	"log/slog"
	"sync"

	"HeapStore/storage_engine/page"
)

// Pool is the part of the page cache the allocator keeps its bitmap pages in.
type Pool interface {
	Get(pos int64) (*page.Page, error)
	New(pos int64) (*page.Page, error)
	Modify(pg *page.Page)
	Unpin(pg *page.Page)
}

// Options configures the arena an Allocator manages.
type Options struct {
	// Base is the position of the first byte of the arena. It must be page aligned.
	Base int64
	// Limit is the largest arena end position; 0 means unbounded.
	Limit int64
	// Quantum is the allocation unit in bytes, a power of two.
	Quantum int64
	PageSize int64
	// ExtensionPages is the minimum number of bitmap pages added when the
	// arena has no room left.
	ExtensionPages int
	// MaxBitmapPages bounds the bitmap page directory; 0 means unbounded.
	MaxBitmapPages int
}

// Allocator hands out quantum aligned ranges of the arena. One bit per quantum
// records whether it is in use; the bits live in bitmap pages that are
// themselves allocated out of the arena and cached by the Pool.
//
// A freed range is reserved until Commit so that the last committed state of
// the store is never overwritten by a new allocation.
type Allocator struct {
	pool Pool
	opts Options

	bitsPerPage int64 // bits kept by one bitmap page
	pageBits    int64 // bits covering one page of the arena

	dir      []int64 // bitmap page positions, in arena order
	cursor   int64   // bit where the next search starts
	reserved reservations

	log *slog.Logger
	mu  sync.Mutex
}

// Stats describes arena usage in bytes.
type Stats struct {
	Arena        int64
	Used         int64
	Free         int64
	BitmapPages  int
	Reservations int
	MaxArena     int64 // 0 when unbounded
}
