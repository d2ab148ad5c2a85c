package btree

import "cmp"

// lowerBound returns the first i in [0, n) for which below(i) is false,
// or n. below must be true for a prefix of the range and false after it.
func lowerBound(n int, below func(i int) bool) int {
	lo, hi := 0, n
	for lo < hi {
		mid := lo + (hi-lo)/2
		if below(mid) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// compareEntry orders full entries: key first, then the oid tie-break in
// non-unique trees.
func (t *Tree) compareEntry(a, b entry) int {
	if c := compareKeys(t.meta.KeyType, a.key, b.key); c != 0 || t.meta.Unique {
		return c
	}
	return cmp.Compare(a.tie, b.tie)
}

// compareAt is compareEntry between slot i of a page and e, read in place.
func (t *Tree) compareAt(data []byte, i int, e entry) int {
	if c := compareKeys(t.meta.KeyType, t.layout.keyAt(data, i), e.key); c != 0 || t.meta.Unique {
		return c
	}
	return cmp.Compare(t.layout.tieAt(data, i), e.tie)
}

// search returns the first slot of the page not below e.
func (t *Tree) search(data []byte, e entry) int {
	return lowerBound(t.layout.count(data), func(i int) bool { return t.compareAt(data, i, e) < 0 })
}

// childAt picks the branch slot whose subtree may hold e: the first
// separator >= e. An entry above every separator goes to the last child.
func (t *Tree) childAt(data []byte, e entry) int {
	n := t.layout.count(data)
	if i := t.search(data, e); i < n {
		return i
	}
	return n - 1
}
