package btree

import (
	"slices"

	"HeapStore/storage_engine/page"
)

// splice replaces del slots at i of the pinned page with the entries in
// with. Slots are shifted in place; only a page that would overflow is
// rebuilt, split in two. underflow reports the page ended below a third of
// its item area (never after a split).
func (t *Tree) splice(pg *page.Page, i, del int, with ...entry) (*splitResult, bool, error) {
	l := t.layout
	pg.Lock()
	need := l.usedBytes(pg.Data)
	for j := i; j < i+del; j++ {
		need -= l.entrySize(len(l.keyAt(pg.Data, j)))
	}
	for _, e := range with {
		need += l.entrySize(len(e.key))
	}
	if need <= l.itemArea() {
		for range del {
			l.removeAt(pg.Data, i)
		}
		for k, e := range with {
			l.insertAt(pg.Data, i+k, e)
		}
		pg.Unlock()
		t.store.Modify(pg)
		return nil, need < l.itemArea()/3, nil
	}
	entries := l.decode(pg.Data)
	pg.Unlock()

	entries = slices.Replace(entries, i, i+del, with...)
	res, err := t.splitNode(&node{pos: pg.Pos, entries: entries})
	return res, false, err
}

// splitNode moves the lower half of n to a new page and keeps the upper half
// in place, so the parent's separator for n stays valid.
func (t *Tree) splitNode(n *node) (*splitResult, error) {
	mid := t.splitPoint(n.entries)
	lower := slices.Clone(n.entries[:mid])
	upper := slices.Clone(n.entries[mid:])

	sibling, err := t.newNode(lower)
	if err != nil {
		return nil, err
	}
	n.entries = upper
	if err := t.writeNode(n); err != nil {
		return nil, err
	}
	t.log.Debug("split btree page", "page", n.pos, "sibling", sibling.pos, "moved", len(lower), "kept", len(upper))
	return &splitResult{
		max:  maxEntry(lower, sibling.pos),
		kept: maxEntry(upper, n.pos),
	}, nil
}

// splitPoint is the midpoint by entry count, moved only as far as needed for
// both halves of a variable key page to fit.
func (t *Tree) splitPoint(entries []entry) int {
	mid := len(entries) / 2
	for mid > 1 && !t.layout.fits(entries[:mid]) {
		mid--
	}
	for mid < len(entries)-1 && !t.layout.fits(entries[mid:]) {
		mid++
	}
	return mid
}
