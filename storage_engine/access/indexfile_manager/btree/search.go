package btree

import (
	"HeapStore/storage_engine/dberror"
	"HeapStore/types"
)

// Find returns the object ids stored under key, in tie-break order. A
// partial compound key returns every entry it is a prefix of.
func (t *Tree) Find(key Key) ([]types.Oid, error) {
	var oids []types.Oid
	it := t.Iterator(Inclusive(key), Inclusive(key), Ascending)
	defer it.Close()
	for it.Next() {
		oids = append(oids, it.Oid())
	}
	return oids, it.Err()
}

// Get returns the single object id stored under key.
func (t *Tree) Get(key Key) (types.Oid, error) {
	oids, err := t.Find(key)
	if err != nil {
		return 0, err
	}
	switch len(oids) {
	case 0:
		return 0, dberror.New(dberror.KindKeyNotFound, "Get", "btree", "no entry for %s", key)
	case 1:
		return oids[0], nil
	}
	return 0, dberror.New(dberror.KindKeyNotUnique, "Get", "btree", "%d entries for %s", len(oids), key)
}

func (t *Tree) Contains(key Key) (bool, error) {
	it := t.Iterator(Inclusive(key), Inclusive(key), Ascending)
	defer it.Close()
	found := it.Next()
	return found, it.Err()
}

// Entries collects the range into a slice.
func (t *Tree) Entries(lo, hi *Bound, order Order) ([]Entry, error) {
	var out []Entry
	it := t.Iterator(lo, hi, order)
	defer it.Close()
	for it.Next() {
		out = append(out, it.Entry())
	}
	return out, it.Err()
}
