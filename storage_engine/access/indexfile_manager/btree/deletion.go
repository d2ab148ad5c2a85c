package btree

import (
	"HeapStore/storage_engine/dberror"
	"HeapStore/types"
)

// Remove deletes the exact (key, oid) pair.
func (t *Tree) Remove(key Key, oid types.Oid) error {
	if err := t.checkKey("Remove", key); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.meta.Root == 0 {
		return dberror.New(dberror.KindKeyNotFound, "Remove", "btree", "tree is empty")
	}
	e := entry{key: key.data, ref: oid}
	if !t.meta.Unique {
		e.tie = oid
	}

	res, underflow, err := t.remove(t.meta.Root, t.meta.Height, e)
	if err != nil {
		return err
	}
	switch {
	case res != nil:
		err = t.newRoot(res)
	case underflow:
		err = t.shrinkRoot()
	}
	if err != nil {
		return err
	}
	t.meta.Count--
	t.modCount++
	return nil
}

// remove deletes e from the subtree at pos and reports whether the page now
// underflows. A separator change during rebalancing can overflow a variable
// key branch, in which case it splits like an insert would.
func (t *Tree) remove(pos int64, height int, e entry) (*splitResult, bool, error) {
	pg, err := t.pinPage(pos)
	if err != nil {
		return nil, false, err
	}
	defer t.store.Unpin(pg)

	pg.RLock()
	n := t.layout.count(pg.Data)
	i := t.search(pg.Data, e)
	var ref uint64
	match := false
	if i < n {
		ref = t.layout.refAt(pg.Data, i)
		match = t.compareAt(pg.Data, i, e) == 0 && ref == e.ref
	}
	pg.RUnlock()

	if height == 1 {
		if !match {
			return nil, false, dberror.New(dberror.KindKeyNotFound, "Remove", "btree", "no entry for object %d", e.ref)
		}
		return t.splice(pg, i, 1)
	}

	if i == n {
		return nil, false, dberror.New(dberror.KindKeyNotFound, "Remove", "btree", "no entry for object %d", e.ref)
	}
	res, underflow, err := t.remove(int64(ref), height-1, e)
	if err != nil {
		return nil, false, err
	}
	switch {
	case res != nil:
		return t.parentInsert(pg, i, res)
	case underflow:
		return t.rebalance(pg, i)
	}
	return nil, false, nil
}
