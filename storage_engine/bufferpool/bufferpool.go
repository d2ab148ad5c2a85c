package bufferpool

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/cespare/xxhash/v2"

	"HeapStore/logging"
	"HeapStore/storage_engine/dberror"
	diskmanager "HeapStore/storage_engine/disk_manager"
	"HeapStore/storage_engine/page"
)

/*
This file is the main file of the bufferpool
The buffer pool works on LRU based caching mechanism
and holds the backing File for writing dirty pages back and loading missing ones.

Pages are identified by their byte position in the store, which is always a
multiple of the page size.

A page being loaded is RAW: it is already in the shard map so that a second
Get for the same position finds it and waits on the shard condition instead of
issuing another read. Exactly one physical read happens per in-flight position.
If the read fails, every waiter gets the same error and the slot is dropped.
*/

// NewBufferPool creates a new buffer pool over file.
func NewBufferPool(file diskmanager.File, opts Options) (*BufferPool, error) {
	if opts.PageSize <= 0 || opts.PageSize&(opts.PageSize-1) != 0 {
		return nil, fmt.Errorf("page size %d is not a power of two", opts.PageSize)
	}
	if opts.Shards <= 0 {
		opts.Shards = 1
	}
	if opts.Capacity < opts.Shards {
		opts.Capacity = opts.Shards
	}

	bp := &BufferPool{
		file:     file,
		pageSize: opts.PageSize,
		shards:   make([]*shard, opts.Shards),
		log:      logging.WithComponent("bufferpool"),
	}
	perShard := (opts.Capacity + opts.Shards - 1) / opts.Shards
	for i := range bp.shards {
		s := &shard{
			pages:    make(map[int64]*page.Page, perShard),
			capacity: perShard,
		}
		s.loaded = sync.NewCond(&s.mu)
		bp.shards[i] = s
	}
	return bp, nil
}

func (bp *BufferPool) PageSize() int {
	return bp.pageSize
}

func (bp *BufferPool) shardFor(pos int64) *shard {
	var key [8]byte
	binary.LittleEndian.PutUint64(key[:], uint64(pos/int64(bp.pageSize)))
	return bp.shards[xxhash.Sum64(key[:])%uint64(len(bp.shards))]
}

func (bp *BufferPool) checkPos(op string, pos int64) error {
	if pos < 0 || pos%int64(bp.pageSize) != 0 {
		return dberror.New(dberror.KindAccessViolation, op, "bufferpool", "position %d is not page aligned", pos)
	}
	return nil
}

// Get returns the page at pos pinned, reading it from the store on a miss.
// Reads past the end of the store yield zero filled pages.
func (bp *BufferPool) Get(pos int64) (*page.Page, error) {
	if err := bp.checkPos("Get", pos); err != nil {
		return nil, err
	}
	s := bp.shardFor(pos)
	s.mu.Lock()

	for {
		pg, ok := s.pages[pos]
		if !ok {
			break
		}
		if pg.State&page.Raw != 0 {
			pg.State |= page.Wait
			s.loaded.Wait()
			if pg.LoadErr != nil {
				err := pg.LoadErr
				s.mu.Unlock()
				return nil, err
			}
			continue
		}
		pg.PinCount++
		pg.Accesses++
		s.lru.MoveToFront(pg)
		s.mu.Unlock()
		bp.hits.Add(1)
		return pg, nil
	}

	bp.misses.Add(1)
	pg, err := bp.frame(s, pos)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	pg.State = page.Raw
	pg.PinCount = 1
	s.mu.Unlock()

	bp.log.Debug("page miss", "pos", pos)
	err = bp.read(pg)

	s.mu.Lock()
	defer s.mu.Unlock()
	if pg.State&page.Wait != 0 {
		s.loaded.Broadcast()
	}
	pg.State &^= page.Raw | page.Wait
	if err != nil {
		pg.LoadErr = err
		pg.PinCount = 0
		delete(s.pages, pos)
		s.lru.Remove(pg)
		return nil, err
	}
	return pg, nil
}

func (bp *BufferPool) read(pg *page.Page) error {
	bp.reads.Add(1)
	n, err := bp.file.ReadAt(pg.Data, pg.Pos)
	if err != nil && !errors.Is(err, io.EOF) {
		return dberror.WrapIO(fmt.Errorf("failed to read page %d: %w", pg.Pos, err), "Get", "bufferpool")
	}
	clear(pg.Data[n:])
	return nil
}

// New returns a pinned, zero filled, dirty page at pos without reading the
// store. Use it for blocks that were just allocated.
func (bp *BufferPool) New(pos int64) (*page.Page, error) {
	if err := bp.checkPos("New", pos); err != nil {
		return nil, err
	}
	s := bp.shardFor(pos)
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		pg, ok := s.pages[pos]
		if !ok {
			break
		}
		if pg.State&page.Raw != 0 {
			pg.State |= page.Wait
			s.loaded.Wait()
			continue
		}
		clear(pg.Data)
		pg.State |= page.Dirty
		pg.PinCount++
		s.lru.MoveToFront(pg)
		return pg, nil
	}

	pg, err := bp.frame(s, pos)
	if err != nil {
		return nil, err
	}
	pg.State = page.Dirty
	pg.PinCount = 1
	return pg, nil
}

// frame returns a zeroed frame registered at pos, evicting the least recently
// used unpinned page when the shard is full. When every frame is pinned the
// shard grows past its capacity. Caller holds s.mu.
func (bp *BufferPool) frame(s *shard, pos int64) (*page.Page, error) {
	var pg *page.Page
	if len(s.pages) >= s.capacity {
		victim, err := bp.evict(s)
		if err != nil {
			return nil, err
		}
		pg = victim
	}
	if pg == nil {
		pg = page.New(pos, bp.pageSize)
	} else {
		pg.Reset(pos)
	}
	s.pages[pos] = pg
	s.lru.PushFront(pg)
	return pg, nil
}

// evict removes the least recently used unpinned clean page from s and
// returns its frame. Only when every unpinned page is dirty is the least
// recently used dirty one written and evicted. nil means nothing can be
// evicted. Caller holds s.mu.
func (bp *BufferPool) evict(s *shard) (*page.Page, error) {
	var dirtyVictim *page.Page
	for pg := s.lru.Back(); pg != nil; pg = s.lru.Prev(pg) {
		if pg.PinCount > 0 || pg.State&page.Raw != 0 {
			continue
		}
		if !pg.IsDirty() {
			return bp.drop(s, pg), nil
		}
		if dirtyVictim == nil {
			dirtyVictim = pg
		}
	}
	if dirtyVictim == nil {
		return nil, nil
	}
	if err := bp.write(dirtyVictim, "evict"); err != nil {
		return nil, err
	}
	bp.spilled.Store(true)
	return bp.drop(s, dirtyVictim), nil
}

func (bp *BufferPool) drop(s *shard, victim *page.Page) *page.Page {
	bp.log.Debug("page evicted", "pos", victim.Pos, "spilled", bp.spilled.Load())
	delete(s.pages, victim.Pos)
	s.lru.Remove(victim)
	bp.evictions.Add(1)
	return victim
}

func (bp *BufferPool) write(pg *page.Page, op string) error {
	pg.RLock()
	_, err := bp.file.WriteAt(pg.Data, pg.Pos)
	pg.RUnlock()
	if err != nil {
		return dberror.WrapIO(fmt.Errorf("failed to write page %d: %w", pg.Pos, err), op, "bufferpool")
	}
	bp.writes.Add(1)
	pg.State &^= page.Dirty
	return nil
}

// Modify marks a pinned page dirty.
func (bp *BufferPool) Modify(pg *page.Page) {
	s := bp.shardFor(pg.Pos)
	s.mu.Lock()
	pg.State |= page.Dirty
	s.mu.Unlock()
}

// Unpin releases one pin taken by Get or New.
func (bp *BufferPool) Unpin(pg *page.Page) {
	s := bp.shardFor(pg.Pos)
	s.mu.Lock()
	if pg.PinCount > 0 {
		pg.PinCount--
	}
	s.mu.Unlock()
}

// Flush writes every dirty page in ascending position order and marks them
// clean. Concurrent Get calls are served while the flush runs.
func (bp *BufferPool) Flush() error {
	type dirtyPage struct {
		s   *shard
		pg  *page.Page
		pos int64
	}
	var dirty []dirtyPage
	for _, s := range bp.shards {
		s.mu.Lock()
		for _, pg := range s.pages {
			if pg.IsDirty() {
				dirty = append(dirty, dirtyPage{s, pg, pg.Pos})
			}
		}
		s.mu.Unlock()
	}
	slices.SortFunc(dirty, func(a, b dirtyPage) int {
		switch {
		case a.pos < b.pos:
			return -1
		case a.pos > b.pos:
			return 1
		}
		return 0
	})

	for _, d := range dirty {
		d.s.mu.Lock()
		var err error
		if d.s.pages[d.pos] == d.pg && d.pg.IsDirty() {
			err = bp.write(d.pg, "Flush")
		}
		d.s.mu.Unlock()
		if err != nil {
			return err
		}
	}
	bp.spilled.Store(false)
	if len(dirty) > 0 {
		bp.log.Debug("flushed dirty pages", "count", len(dirty))
	}
	return nil
}

// Discard drops every resident page, dirty ones included, so that the next
// Get rereads the store. It fails with ErrPagePinned if any page is pinned.
func (bp *BufferPool) Discard() error {
	for _, s := range bp.shards {
		s.mu.Lock()
	}
	defer func() {
		for _, s := range bp.shards {
			s.mu.Unlock()
		}
	}()

	for _, s := range bp.shards {
		for pos, pg := range s.pages {
			if pg.PinCount > 0 {
				return dberror.New(dberror.KindPagePinned, "Discard", "bufferpool", "page %d is pinned (%d)", pos, pg.PinCount)
			}
		}
	}
	for _, s := range bp.shards {
		for _, pg := range s.pages {
			s.lru.Remove(pg)
		}
		clear(s.pages)
	}
	bp.spilled.Store(false)
	return nil
}

// Spilled reports whether eviction wrote a dirty page since the last Flush
// or Discard. Once that happened the store no longer holds the last committed
// state, so a rollback cannot be served by Discard alone.
func (bp *BufferPool) Spilled() bool {
	return bp.spilled.Load()
}
