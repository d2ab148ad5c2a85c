package btree

import (
	"HeapStore/storage_engine/dberror"
	"HeapStore/types"
)

// Insert adds (key, oid). On a unique tree an existing key is rejected with
// ErrKeyNotUnique unless overwrite is set, in which case its oid is replaced.
// A non-unique tree rejects only an identical (key, oid) pair.
func (t *Tree) Insert(key Key, oid types.Oid, overwrite bool) error {
	if err := t.checkKey("Insert", key); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	e := entry{key: key.data, ref: oid}
	if !t.meta.Unique {
		e.tie = oid
	}

	if t.meta.Root == 0 {
		root, err := t.newNode([]entry{e})
		if err != nil {
			return err
		}
		t.meta.Root, t.meta.Height = root.pos, 1
		t.meta.Count = 1
		t.modCount++
		return nil
	}

	res, added, err := t.insert(t.meta.Root, t.meta.Height, e, overwrite)
	if err != nil {
		return err
	}
	if res != nil {
		if err := t.newRoot(res); err != nil {
			return err
		}
	}
	if added {
		t.meta.Count++
	}
	t.modCount++
	return nil
}

// insert places e in the subtree at pos. A returned split must be recorded
// by the caller; added is false when an existing entry was overwritten.
// The page stays pinned while the subtree below it is updated.
func (t *Tree) insert(pos int64, height int, e entry, overwrite bool) (*splitResult, bool, error) {
	pg, err := t.pinPage(pos)
	if err != nil {
		return nil, false, err
	}
	defer t.store.Unpin(pg)

	pg.RLock()
	n := t.layout.count(pg.Data)
	i := t.search(pg.Data, e)
	found := height == 1 && i < n && t.compareAt(pg.Data, i, e) == 0
	var sep entry
	if height > 1 && n > 0 {
		i = min(i, n-1)
		sep = t.layout.entryAt(pg.Data, i)
	}
	pg.RUnlock()

	if height == 1 {
		if found {
			if !t.meta.Unique {
				return nil, false, dberror.New(dberror.KindKeyNotUnique, "Insert", "btree", "object %d already indexed under this key", e.ref)
			}
			if !overwrite {
				return nil, false, dberror.New(dberror.KindKeyNotUnique, "Insert", "btree", "key already present")
			}
			pg.Lock()
			t.layout.setRef(pg.Data, i, e.ref)
			pg.Unlock()
			t.store.Modify(pg)
			return nil, false, nil
		}
		res, _, err := t.splice(pg, i, 0, e)
		return res, true, err
	}

	if n == 0 {
		return nil, false, dberror.New(dberror.KindCorrupted, "Insert", "btree", "empty branch page %d", pos)
	}
	res, added, err := t.insert(int64(sep.ref), height-1, e, overwrite)
	if err != nil {
		return nil, false, err
	}
	switch {
	case res != nil:
		res, _, err = t.parentInsert(pg, i, res)
	case t.compareEntry(e, sep) > 0:
		// new highest key of the tree: widen the last separator
		res, _, err = t.splice(pg, i, 1, entry{key: e.key, tie: e.tie, ref: sep.ref})
	}
	return res, added, err
}
