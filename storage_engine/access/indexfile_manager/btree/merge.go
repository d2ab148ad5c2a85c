package btree

import (
	"slices"

	"HeapStore/storage_engine/page"
)

// rebalance fixes an underflowing child i of the pinned branch page by
// pairing it with an adjacent sibling. When both fit in one page they merge
// into the right one and the left page is freed; otherwise entries are
// redistributed evenly and the left separator refreshed. The results are
// the branch page's own, as from splice.
func (t *Tree) rebalance(pg *page.Page, i int) (*splitResult, bool, error) {
	pg.RLock()
	n := t.layout.count(pg.Data)
	a, b := i-1, i
	if i == 0 {
		a, b = 0, 1
	}
	var leftPos, rightPos int64
	if n >= 2 {
		leftPos, rightPos = int64(t.layout.refAt(pg.Data, a)), int64(t.layout.refAt(pg.Data, b))
	}
	underflow := t.layout.underflowAt(pg.Data)
	pg.RUnlock()
	if n < 2 {
		return nil, underflow, nil
	}

	left, err := t.fetchNode(leftPos)
	if err != nil {
		return nil, false, err
	}
	right, err := t.fetchNode(rightPos)
	if err != nil {
		return nil, false, err
	}

	all := append(slices.Clone(left.entries), right.entries...)
	if t.layout.fits(all) {
		right.entries = all
		if err := t.writeNode(right); err != nil {
			return nil, false, err
		}
		if err := t.freeNode(left.pos); err != nil {
			return nil, false, err
		}
		t.log.Debug("merged btree pages", "into", right.pos, "freed", left.pos, "items", len(all))
		return t.splice(pg, a, 1)
	}

	mid := t.splitPoint(all)
	left.entries = slices.Clone(all[:mid])
	right.entries = slices.Clone(all[mid:])
	if err := t.writeNode(left); err != nil {
		return nil, false, err
	}
	if err := t.writeNode(right); err != nil {
		return nil, false, err
	}
	t.log.Debug("redistributed btree pages", "left", left.pos, "right", right.pos, "left_items", mid)
	return t.splice(pg, a, 1, maxEntry(left.entries, left.pos))
}
