package btree

import (
	"fmt"

	"HeapStore/storage_engine/dberror"
	"HeapStore/storage_engine/page"
	"HeapStore/types"
)

// pinPage fetches the btree page at pos and keeps it pinned; the caller
// unpins it. Updates go through splice or setRef on the page itself.
func (t *Tree) pinPage(pos int64) (*page.Page, error) {
	pg, err := t.store.Get(pos)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch btree page %d: %w", pos, err)
	}
	pg.RLock()
	err = t.checkPage(pos, pg.Data)
	pg.RUnlock()
	if err != nil {
		t.store.Unpin(pg)
		return nil, err
	}
	return pg, nil
}

// fetchNode decodes the page at pos for the operations that move entries
// between pages (split, merge, redistribution) or only read them. The page
// is unpinned before returning; the node is a private copy.
func (t *Tree) fetchNode(pos int64) (*node, error) {
	pg, err := t.store.Get(pos)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch btree page %d: %w", pos, err)
	}
	defer t.store.Unpin(pg)

	pg.RLock()
	defer pg.RUnlock()
	if err := t.checkPage(pos, pg.Data); err != nil {
		return nil, err
	}
	return &node{pos: pos, entries: t.layout.decode(pg.Data)}, nil
}

func (t *Tree) checkPage(pos int64, data []byte) error {
	if _, tag := types.ObjectHeader(data); tag != types.TypeBTreePage {
		return dberror.New(dberror.KindCorrupted, "fetchNode", "btree", "page %d is a %s, expected a btree page", pos, tag)
	}
	if n := t.layout.count(data); t.layout.entrySize(0)*n > t.layout.itemArea() {
		return dberror.New(dberror.KindCorrupted, "fetchNode", "btree", "page %d claims %d items", pos, n)
	}
	return nil
}

// writeNode rebuilds the page of n from its entries and marks it dirty.
func (t *Tree) writeNode(n *node) error {
	pg, err := t.store.Get(n.pos)
	if err != nil {
		return fmt.Errorf("failed to fetch btree page %d: %w", n.pos, err)
	}
	pg.Lock()
	t.layout.encode(pg.Data, n.entries)
	pg.Unlock()
	t.store.Modify(pg)
	t.store.Unpin(pg)
	return nil
}

// newNode allocates a page and writes entries into it.
func (t *Tree) newNode(entries []entry) (*node, error) {
	pos, err := t.store.AllocatePage()
	if err != nil {
		return nil, err
	}
	pg, err := t.store.New(pos)
	if err != nil {
		return nil, fmt.Errorf("failed to create btree page %d: %w", pos, err)
	}
	pg.Lock()
	t.layout.encode(pg.Data, entries)
	pg.Unlock()
	t.store.Modify(pg)
	t.store.Unpin(pg)
	return &node{pos: pos, entries: entries}, nil
}

func (t *Tree) freeNode(pos int64) error {
	if err := t.store.FreePage(pos); err != nil {
		return fmt.Errorf("failed to free btree page %d: %w", pos, err)
	}
	return nil
}

func last(entries []entry) entry {
	return entries[len(entries)-1]
}

// maxEntry is the separator a parent keeps for a child holding entries: the
// highest key, with ref pointing at the child.
func maxEntry(entries []entry, pos int64) entry {
	m := last(entries)
	return entry{key: m.key, tie: m.tie, ref: uint64(pos)}
}
