package btree

import (
	"fmt"
	"io"

	"HeapStore/storage_engine/dberror"
)

// Inspect writes a level by level dump of the tree to w. At most limit
// entries are printed per page; limit <= 0 prints them all.
func (t *Tree) Inspect(w io.Writer, limit int) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	p := func(format string, args ...any) { fmt.Fprintf(w, format, args...) }
	p("  root page %d, height %d, %d entries, %s keys, unique=%t\n",
		t.meta.Root, t.meta.Height, t.meta.Count, t.meta.KeyType, t.meta.Unique)
	if t.meta.Root == 0 {
		p("  (empty tree)\n")
		return nil
	}

	queue := []int64{t.meta.Root}
	for level := t.meta.Height; level > 0; level-- {
		p("  Level %d:\n", t.meta.Height-level)
		var next []int64
		for _, pos := range queue {
			n, err := t.fetchNode(pos)
			if err != nil {
				p("    [page %d] read error: %v\n", pos, err)
				continue
			}
			kind := "LEAF"
			if level > 1 {
				kind = "BRANCH"
			}
			p("    [page %d] %s %d items\n", pos, kind, len(n.entries))
			for i, e := range n.entries {
				if limit > 0 && i == limit {
					p("      ... %d more\n", len(n.entries)-limit)
					break
				}
				k := RawKey(t.meta.KeyType, e.key)
				if level > 1 {
					p("      <= %s -> page %d\n", k, e.ref)
				} else {
					p("      %s -> oid %d\n", k, e.ref)
				}
			}
			if level > 1 {
				for _, e := range n.entries {
					next = append(next, int64(e.ref))
				}
			}
		}
		queue = next
	}
	return nil
}

// Verify walks the whole tree and checks ordering, separator bounds, leaf
// depth and the entry count.
func (t *Tree) Verify() error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.meta.Root == 0 {
		if t.meta.Count != 0 {
			return t.corrupt("empty tree counts %d entries", t.meta.Count)
		}
		return nil
	}
	var count uint64
	if err := t.verify(t.meta.Root, t.meta.Height, nil, nil, &count); err != nil {
		return err
	}
	if count != t.meta.Count {
		return t.corrupt("leaves hold %d entries, tree counts %d", count, t.meta.Count)
	}
	return nil
}

// verify checks the subtree at pos, whose entries must lie in (lo, hi].
func (t *Tree) verify(pos int64, level int, lo, hi *entry, count *uint64) error {
	n, err := t.fetchNode(pos)
	if err != nil {
		return err
	}
	if len(n.entries) == 0 {
		return t.corrupt("page %d is empty", pos)
	}
	for i, e := range n.entries {
		if i > 0 && t.compareEntry(n.entries[i-1], e) >= 0 {
			return t.corrupt("page %d: item %d out of order", pos, i)
		}
		if lo != nil && t.compareEntry(e, *lo) <= 0 {
			return t.corrupt("page %d: item %d below its separator range", pos, i)
		}
		if hi != nil && t.compareEntry(e, *hi) > 0 {
			return t.corrupt("page %d: item %d above its separator", pos, i)
		}
	}
	if level == 1 {
		*count += uint64(len(n.entries))
		return nil
	}
	for i := range n.entries {
		var childLo *entry
		if i > 0 {
			childLo = &n.entries[i-1]
		} else {
			childLo = lo
		}
		if err := t.verify(int64(n.entries[i].ref), level-1, childLo, &n.entries[i], count); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tree) corrupt(format string, args ...any) error {
	return dberror.New(dberror.KindCorrupted, "Verify", "btree", format, args...)
}
