package indexfile

import (
	"bytes"
	"fmt"
	"io"
	"math"

	"HeapStore/storage_engine/access/indexfile_manager/btree"
	"HeapStore/storage_engine/dberror"
	"HeapStore/types"
)

func (ix *Index) Name() string { return ix.spec.Name }

func (ix *Index) Spec() Spec { return ix.spec }

func (ix *Index) Size() uint64 { return ix.tree.Size() }

func (ix *Index) Height() int { return ix.tree.Height() }

// SetExtractor installs the function PutObject and RemoveObject derive keys with.
func (ix *Index) SetExtractor(e KeyExtractor) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.extractor = e
}

// Put adds (key, oid). A unique index rejects an existing key with
// ErrKeyNotUnique and leaves the index unchanged.
func (ix *Index) Put(key btree.Key, oid types.Oid) error {
	ix.guard.Lock()
	defer ix.guard.Unlock()
	return ix.put("Put", key, oid, false)
}

// Set stores oid under key, replacing the previous object of a unique index.
// On a non-unique index it is the same as Put.
func (ix *Index) Set(key btree.Key, oid types.Oid) error {
	ix.guard.Lock()
	defer ix.guard.Unlock()
	return ix.put("Set", key, oid, ix.spec.Unique)
}

func (ix *Index) put(op string, key btree.Key, oid types.Oid, overwrite bool) error {
	k, err := ix.normalize(op, key, false)
	if err != nil {
		return err
	}
	return ix.tree.Insert(k, oid, overwrite)
}

func (ix *Index) Remove(key btree.Key, oid types.Oid) error {
	ix.guard.Lock()
	defer ix.guard.Unlock()
	return ix.remove("Remove", key, oid)
}

func (ix *Index) remove(op string, key btree.Key, oid types.Oid) error {
	k, err := ix.normalize(op, key, false)
	if err != nil {
		return err
	}
	return ix.tree.Remove(k, oid)
}

// Get returns the only object stored under key. It fails with
// ErrKeyNotFound or, when several match, ErrKeyNotUnique.
func (ix *Index) Get(key btree.Key) (types.Oid, error) {
	ix.guard.Lock()
	defer ix.guard.Unlock()
	k, err := ix.normalize("Get", key, true)
	if err != nil {
		return 0, err
	}
	return ix.tree.Get(k)
}

// GetAll returns every object stored under key.
func (ix *Index) GetAll(key btree.Key) ([]types.Oid, error) {
	ix.guard.Lock()
	defer ix.guard.Unlock()
	k, err := ix.normalize("GetAll", key, true)
	if err != nil {
		return nil, err
	}
	return ix.tree.Find(k)
}

func (ix *Index) Contains(key btree.Key) (bool, error) {
	ix.guard.Lock()
	defer ix.guard.Unlock()
	k, err := ix.normalize("Contains", key, true)
	if err != nil {
		return false, err
	}
	return ix.tree.Contains(k)
}

// Range iterates the entries between lo and hi. Either bound may be nil.
// The iterator takes the guard on every Next, so a step never overlaps a
// commit; after a rollback, or any change to the index, Next fails with
// ErrConcurrentModification.
func (ix *Index) Range(lo, hi *btree.Bound, order btree.Order) (*btree.Iterator, error) {
	ix.guard.Lock()
	it, err := ix.iterator(lo, hi, order)
	ix.guard.Unlock()
	if err != nil {
		return nil, err
	}
	return it.WithLock(ix.guard), nil
}

func (ix *Index) iterator(lo, hi *btree.Bound, order btree.Order) (*btree.Iterator, error) {
	nlo, err := ix.normalizeBound("Range", lo)
	if err != nil {
		return nil, err
	}
	nhi, err := ix.normalizeBound("Range", hi)
	if err != nil {
		return nil, err
	}
	return ix.tree.Iterator(nlo, nhi, order), nil
}

// Entries collects a range, see Range.
func (ix *Index) Entries(lo, hi *btree.Bound, order btree.Order) ([]btree.Entry, error) {
	ix.guard.Lock()
	defer ix.guard.Unlock()
	it, err := ix.iterator(lo, hi, order)
	if err != nil {
		return nil, err
	}
	defer it.Close()
	var out []btree.Entry
	for it.Next() {
		out = append(out, it.Entry())
	}
	return out, it.Err()
}

// Prefix returns the entries whose key starts with key, in ascending order.
// For compound indexes key is a partial key; for string and byte indexes it
// is a leading substring.
func (ix *Index) Prefix(key btree.Key) ([]btree.Entry, error) {
	ix.guard.Lock()
	defer ix.guard.Unlock()
	k, err := ix.normalize("Prefix", key, true)
	if err != nil {
		return nil, err
	}
	switch k.Type() {
	case btree.KeyString, btree.KeyBytes:
	case btree.KeyCompound:
		return ix.tree.Entries(btree.Inclusive(k), btree.Inclusive(k), btree.Ascending)
	default:
		return nil, dberror.New(dberror.KindIncompatibleKeyType, "Prefix", "indexfile",
			"prefix search needs string, bytes or compound keys, index %q has %s", ix.spec.Name, k.Type())
	}

	var out []btree.Entry
	it := ix.tree.Iterator(btree.Inclusive(k), nil, btree.Ascending)
	defer it.Close()
	for it.Next() {
		if !bytes.HasPrefix(it.Key().Bytes(), k.Bytes()) {
			break
		}
		out = append(out, it.Entry())
	}
	return out, it.Err()
}

// NextKey hands out increasing keys for append-only use of an int64 index.
// The first call after opening continues after the highest stored key.
func (ix *Index) NextKey() (btree.Key, error) {
	if ix.spec.KeyType != btree.KeyInt64 {
		return btree.Key{}, dberror.New(dberror.KindIncompatibleKeyType, "NextKey", "indexfile",
			"auto-increment needs an int64 index, %q has %s", ix.spec.Name, ix.spec.KeyType)
	}
	ix.guard.Lock()
	defer ix.guard.Unlock()
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.nextKey == 0 {
		it := ix.tree.Iterator(nil, nil, btree.Descending)
		if it.Next() {
			ix.nextKey = it.Key().Value().(int64)
		}
		it.Close()
		if err := it.Err(); err != nil {
			return btree.Key{}, err
		}
	}
	if ix.nextKey == math.MaxInt64 {
		return btree.Key{}, dberror.New(dberror.KindOutOfSpace, "NextKey", "indexfile", "index %q exhausted its key space", ix.spec.Name)
	}
	ix.nextKey++
	return btree.Int64Key(ix.nextKey), nil
}

func (ix *Index) extract(op string, obj any) (btree.Key, error) {
	ix.mu.Lock()
	e := ix.extractor
	ix.mu.Unlock()
	if e == nil {
		return btree.Key{}, dberror.New(dberror.KindAccessViolation, op, "indexfile", "index %q has no key extractor", ix.spec.Name)
	}
	k, err := e.Key(obj)
	if err != nil {
		return btree.Key{}, &dberror.DBError{
			Kind:      dberror.KindAccessViolation,
			Message:   "key extraction failed: " + err.Error(),
			Op:        op,
			Component: "indexfile",
			Cause:     err,
		}
	}
	return k, nil
}

// PutObject indexes obj under the key its extractor yields.
func (ix *Index) PutObject(obj any, oid types.Oid) error {
	k, err := ix.extract("PutObject", obj)
	if err != nil {
		return err
	}
	ix.guard.Lock()
	defer ix.guard.Unlock()
	return ix.put("PutObject", k, oid, false)
}

func (ix *Index) RemoveObject(obj any, oid types.Oid) error {
	k, err := ix.extract("RemoveObject", obj)
	if err != nil {
		return err
	}
	ix.guard.Lock()
	defer ix.guard.Unlock()
	return ix.remove("RemoveObject", k, oid)
}

// Drop removes every entry and frees the index pages. The index stays
// registered and usable.
func (ix *Index) Drop() error {
	ix.guard.Lock()
	defer ix.guard.Unlock()
	return ix.drop()
}

func (ix *Index) drop() error {
	ix.mu.Lock()
	ix.nextKey = 0
	ix.mu.Unlock()
	return ix.tree.Drop()
}

// Inspect dumps the index tree to w, at most limit entries per page.
func (ix *Index) Inspect(w io.Writer, limit int) error {
	ix.guard.Lock()
	defer ix.guard.Unlock()
	fmt.Fprintf(w, "index %s (%s", ix.spec.Name, ix.spec.KeyType)
	if len(ix.spec.Components) > 0 {
		fmt.Fprintf(w, " of %v", ix.spec.Components)
	}
	fmt.Fprintf(w, ", unique=%t, case-insensitive=%t)\n", ix.spec.Unique, ix.spec.CaseInsensitive)
	return ix.tree.Inspect(w, limit)
}

// Verify checks the structure of the index tree.
func (ix *Index) Verify() error {
	ix.guard.Lock()
	defer ix.guard.Unlock()
	if err := ix.tree.Verify(); err != nil {
		return fmt.Errorf("index %q: %w", ix.spec.Name, err)
	}
	return nil
}
