package btree

import (
	"fmt"
	"sync"

	"HeapStore/storage_engine/dberror"
	"HeapStore/storage_engine/page"
	"HeapStore/types"
)

// frame is one level of the iterator's path: a page and the slot to visit
// next on it.
type frame struct {
	pos int64
	idx int
}

// Iterator walks the entries between two bounds. It keeps an explicit
// page/slot stack and pins nothing between calls; any Insert, Remove or
// Drop on the tree after the iterator was created or reset makes the next
// call to Next fail with ErrConcurrentModification.
type Iterator struct {
	tree   *Tree
	lo, hi *Bound
	order  Order
	guard  sync.Locker

	stack    []frame
	modCount uint64
	started  bool
	done     bool

	key Key
	oid types.Oid
	err error
}

// Iterator returns an iterator over [lo, hi] (each bound optional and
// inclusive or exclusive) in the given order. Iteration is lazy; nothing is
// read until the first Next.
func (t *Tree) Iterator(lo, hi *Bound, order Order) *Iterator {
	it := &Iterator{tree: t, lo: lo, hi: hi, order: order}
	it.Reset()
	return it
}

// WithLock makes Reset and Next hold l for the duration of each call, so
// they serialize with whoever else takes l.
func (it *Iterator) WithLock(l sync.Locker) *Iterator {
	it.guard = l
	return it
}

// Reset restarts the iteration from the first entry in range against the
// current state of the tree.
func (it *Iterator) Reset() {
	if it.guard != nil {
		it.guard.Lock()
		defer it.guard.Unlock()
	}
	it.tree.mu.RLock()
	it.modCount = it.tree.modCount
	it.tree.mu.RUnlock()

	it.stack = it.stack[:0]
	it.started, it.done = false, false
	it.key, it.oid, it.err = Key{}, 0, nil
	for _, b := range []*Bound{it.lo, it.hi} {
		if b != nil && b.Key.typ != it.tree.meta.KeyType {
			it.err = dberror.New(dberror.KindIncompatibleKeyType, "Iterator", "btree",
				"bound of type %s used on a %s tree", b.Key.typ, it.tree.meta.KeyType)
		}
	}
}

// Next advances to the next entry in range.
func (it *Iterator) Next() bool {
	if it.done || it.err != nil {
		return false
	}
	if it.guard != nil {
		it.guard.Lock()
		defer it.guard.Unlock()
	}
	t := it.tree
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.modCount != it.modCount {
		it.err = dberror.New(dberror.KindConcurrentModification, "Next", "btree", "tree changed during iteration")
		return false
	}
	if !it.started {
		it.started = true
		if err := it.seek(); err != nil {
			it.err = err
			return false
		}
	}

	for len(it.stack) > 0 {
		ok, more, err := it.step()
		if err != nil {
			it.err = err
			return false
		}
		if ok {
			return true
		}
		if !more {
			break
		}
		if err := it.advance(); err != nil {
			it.err = err
			return false
		}
	}
	it.done = true
	return false
}

// step reads the current leaf slot. ok reports an entry was produced;
// more is false once the end bound has been passed.
func (it *Iterator) step() (ok, more bool, err error) {
	t := it.tree
	top := &it.stack[len(it.stack)-1]
	pg, err := it.pin(top.pos)
	if err != nil {
		return false, false, err
	}
	defer it.unpin(pg)

	n := t.layout.count(pg.Data)
	if top.idx < 0 || top.idx >= n {
		return false, true, nil
	}
	key := t.layout.keyAt(pg.Data, top.idx)
	if !it.beforeEnd(key) {
		return false, false, nil
	}
	it.key = RawKey(t.meta.KeyType, key)
	it.oid = t.layout.refAt(pg.Data, top.idx)
	if it.order == Ascending {
		top.idx++
	} else {
		top.idx--
	}
	return true, true, nil
}

// seek builds the path to the first entry in range.
func (it *Iterator) seek() error {
	t := it.tree
	pos := t.meta.Root
	for h := t.meta.Height; h >= 1; h-- {
		pg, err := it.pin(pos)
		if err != nil {
			return err
		}
		n := t.layout.count(pg.Data)
		idx := it.startIndex(pg.Data, n)
		if h > 1 {
			if it.order == Descending && idx == n {
				idx = n - 1
			}
			if idx < 0 || idx >= n {
				it.unpin(pg)
				if n == 0 || len(it.stack) == 0 {
					it.stack = it.stack[:0]
					return nil
				}
				// separators are upper bounds: every key below this page
				// is under the bound, the range starts in the next subtree
				it.stack = append(it.stack, frame{pos: pos, idx: n - 1})
				return it.advance()
			}
			it.stack = append(it.stack, frame{pos: pos, idx: idx})
			pos = int64(t.layout.refAt(pg.Data, idx))
		} else {
			if it.order == Descending {
				idx--
			}
			it.stack = append(it.stack, frame{pos: pos, idx: idx})
		}
		it.unpin(pg)
	}
	return nil
}

// startIndex returns, for ascending order, the first slot not below the
// lower bound and, for descending order, the first slot above the upper
// bound. Both work on leaves and branch separators alike.
func (it *Iterator) startIndex(data []byte, n int) int {
	t := it.tree
	kt := t.meta.KeyType
	if it.order == Ascending {
		if it.lo == nil {
			return 0
		}
		return lowerBound(n, func(i int) bool {
			c := compareKeys(kt, t.layout.keyAt(data, i), it.lo.Key.data)
			return c < 0 || (c == 0 && !it.lo.Inclusive)
		})
	}
	if it.hi == nil {
		return n
	}
	return lowerBound(n, func(i int) bool {
		c := compareKeys(kt, t.layout.keyAt(data, i), it.hi.Key.data)
		return c < 0 || (c == 0 && it.hi.Inclusive)
	})
}

func (it *Iterator) beforeEnd(key []byte) bool {
	kt := it.tree.meta.KeyType
	if it.order == Ascending {
		if it.hi == nil {
			return true
		}
		c := compareKeys(kt, key, it.hi.Key.data)
		return c < 0 || (c == 0 && it.hi.Inclusive)
	}
	if it.lo == nil {
		return true
	}
	c := compareKeys(kt, key, it.lo.Key.data)
	return c > 0 || (c == 0 && it.lo.Inclusive)
}

// advance leaves an exhausted leaf: it climbs to the nearest ancestor with
// another child in the iteration direction and descends to that child's
// edge leaf.
func (it *Iterator) advance() error {
	t := it.tree
	it.stack = it.stack[:len(it.stack)-1]
	for len(it.stack) > 0 {
		top := &it.stack[len(it.stack)-1]
		pg, err := it.pin(top.pos)
		if err != nil {
			return err
		}
		n := t.layout.count(pg.Data)
		if it.order == Ascending {
			top.idx++
		} else {
			top.idx--
		}
		if top.idx < 0 || top.idx >= n {
			it.unpin(pg)
			it.stack = it.stack[:len(it.stack)-1]
			continue
		}
		child := int64(t.layout.refAt(pg.Data, top.idx))
		it.unpin(pg)
		return it.descendEdge(child, t.meta.Height-len(it.stack))
	}
	return nil
}

func (it *Iterator) descendEdge(pos int64, height int) error {
	t := it.tree
	for ; height >= 1; height-- {
		pg, err := it.pin(pos)
		if err != nil {
			return err
		}
		idx := 0
		if it.order == Descending {
			idx = t.layout.count(pg.Data) - 1
		}
		it.stack = append(it.stack, frame{pos: pos, idx: idx})
		if height > 1 {
			pos = int64(t.layout.refAt(pg.Data, idx))
		}
		it.unpin(pg)
	}
	return nil
}

// pin fetches a page for the duration of one step, read locked.
func (it *Iterator) pin(pos int64) (*page.Page, error) {
	t := it.tree
	pg, err := t.store.Get(pos)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch btree page %d: %w", pos, err)
	}
	pg.RLock()
	if err := t.checkPage(pos, pg.Data); err != nil {
		pg.RUnlock()
		t.store.Unpin(pg)
		return nil, err
	}
	return pg, nil
}

func (it *Iterator) unpin(pg *page.Page) {
	pg.RUnlock()
	it.tree.store.Unpin(pg)
}

// Key returns the key of the current entry.
func (it *Iterator) Key() Key { return it.key }

// Oid returns the object id of the current entry.
func (it *Iterator) Oid() types.Oid { return it.oid }

func (it *Iterator) Entry() Entry { return Entry{Key: it.key, Oid: it.oid} }

// Err returns the error that stopped the iteration, if any.
func (it *Iterator) Err() error { return it.err }

// Close ends the iteration. Nothing is pinned between calls, so Close only
// marks the iterator exhausted.
func (it *Iterator) Close() {
	it.done = true
	it.stack = nil
}
