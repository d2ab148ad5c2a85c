package page

import (
	"sync"
)

/*
This contains the page struct shared by every layer above the cache.

A page is always PageSize bytes at a PageSize aligned position of the store.
Bitmap pages, btree pages and the pages a heap blob spans all go through the
same pool, the actual byte format differs per user:
for bitmap pages: /HeapStore/storage_engine/allocator/bitmap_page.go
for btree pages:  /HeapStore/storage_engine/access/indexfile_manager/btree/layout.go

Cache bookkeeping (pin count, state flags, LRU links) is owned by the buffer
pool and guarded by the lock of the shard the page lives in. The content latch
(Lock/RLock) guards Data only.
*/

// State is a bit set of cache states. A page without any flag is CLEAN.
type State uint8

const (
	// Dirty pages have in-memory changes not yet written to the store.
	Dirty State = 1 << iota
	// Raw pages are being read from the store; Data is not valid yet.
	Raw
	// Wait is set on a Raw page once another goroutine blocks on its load.
	Wait
)

func (s State) String() string {
	switch {
	case s&Raw != 0:
		return "RAW"
	case s&Dirty != 0:
		return "DIRTY"
	default:
		return "CLEAN"
	}
}

type Page struct {
	Pos      int64
	Data     []byte
	PinCount int32
	State    State
	// LoadErr is set when the read that filled this page failed.
	LoadErr error
	// Accesses counts cache hits; reported in stats only.
	Accesses uint64

	prev, next *Page
	mu         sync.RWMutex
}

func New(pos int64, size int) *Page {
	return &Page{Pos: pos, Data: make([]byte, size)}
}

func (p *Page) IsDirty() bool {
	return p.State&Dirty != 0
}

func (p *Page) Lock() {
	p.mu.Lock()
}

func (p *Page) Unlock() {
	p.mu.Unlock()
}

func (p *Page) RLock() {
	p.mu.RLock()
}

func (p *Page) RUnlock() {
	p.mu.RUnlock()
}

// Reset zeroes the buffer and clears the cache bookkeeping so the frame can be
// reused for another position.
func (p *Page) Reset(pos int64) {
	clear(p.Data)
	p.Pos = pos
	p.PinCount = 0
	p.State = 0
	p.LoadErr = nil
	p.Accesses = 0
	p.prev, p.next = nil, nil
}
