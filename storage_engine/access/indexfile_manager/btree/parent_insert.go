package btree

import "HeapStore/storage_engine/page"

// parentInsert records a split of child i on the pinned parent page: the
// new lower page goes in front of it and the child's own separator is
// refreshed.
func (t *Tree) parentInsert(pg *page.Page, i int, res *splitResult) (*splitResult, bool, error) {
	return t.splice(pg, i, 1, res.max, res.kept)
}
