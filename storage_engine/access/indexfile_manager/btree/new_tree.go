package btree

import (
	"HeapStore/logging"
	"HeapStore/storage_engine/dberror"
)

// Create returns an empty tree. No page is allocated until the first insert.
func Create(store PageStore, kt KeyType, unique bool) (*Tree, error) {
	return Open(store, Meta{KeyType: kt, Unique: unique})
}

// Open attaches to a tree persisted as meta.
func Open(store PageStore, meta Meta) (*Tree, error) {
	if !meta.KeyType.valid() {
		return nil, dberror.New(dberror.KindIncompatibleKeyType, "Open", "btree", "invalid key type %d", meta.KeyType)
	}
	size := store.PageSize()
	if size < 64 || size > 1<<16 {
		return nil, dberror.New(dberror.KindCorrupted, "Open", "btree", "unsupported page size %d", size)
	}
	if (meta.Root == 0) != (meta.Height == 0) {
		return nil, dberror.New(dberror.KindCorrupted, "Open", "btree", "root %d with height %d", meta.Root, meta.Height)
	}
	t := &Tree{
		store:  store,
		meta:   meta,
		layout: newLayout(size, meta.KeyType, meta.Unique),
		log:    logging.WithComponent("btree"),
	}
	if !t.layout.fixed() && t.layout.maxKeyLen() < 8 {
		return nil, dberror.New(dberror.KindIncompatibleKeyType, "Open", "btree",
			"page size %d too small for %s keys", size, meta.KeyType)
	}
	return t, nil
}

// Meta returns the state to persist for reopening the tree.
func (t *Tree) Meta() Meta {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.meta
}

func (t *Tree) Size() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.meta.Count
}

func (t *Tree) Height() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.meta.Height
}

func (t *Tree) KeyType() KeyType { return t.meta.KeyType }

func (t *Tree) Unique() bool { return t.meta.Unique }

// MaxKeyLen is the longest encoded key the tree accepts.
func (t *Tree) MaxKeyLen() int { return t.layout.maxKeyLen() }

func (t *Tree) checkKey(op string, k Key) error {
	if k.typ != t.meta.KeyType {
		return dberror.New(dberror.KindIncompatibleKeyType, op, "btree",
			"key of type %s used on a %s tree", k.typ, t.meta.KeyType)
	}
	if t.layout.fixed() && len(k.data) != t.layout.width {
		return dberror.New(dberror.KindIncompatibleKeyType, op, "btree", "malformed %s key", k.typ)
	}
	if len(k.data) > t.layout.maxKeyLen() {
		return dberror.New(dberror.KindIncompatibleKeyType, op, "btree",
			"key of %d bytes exceeds the %d byte limit", len(k.data), t.layout.maxKeyLen())
	}
	return nil
}
