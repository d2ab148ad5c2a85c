// Structure of the packed-page B-tree
/*
Tree
 ├── Branch page (separators + child positions)
 │      └── Branch pages ...
 │             └── Leaf pages (keys + object ids)

- every page is one allocator page, tagged as a btree block
- keys sorted ascending inside a page
- branch separator i is the highest key of child i's subtree,
  so child i holds the keys in (separator i-1, separator i]
- all leaves at the same depth; height 1 means the root is a leaf
- non-unique trees order equal keys by object id, which makes every
  (key, oid) pair distinct and lets removal find the exact pair
*/
package btree

import (
	"log/slog"
	"sync"

	"HeapStore/storage_engine/page"
	"HeapStore/types"
)

// PageStore hands out pinned pages and whole-page allocations.
type PageStore interface {
	Get(pos int64) (*page.Page, error)
	New(pos int64) (*page.Page, error)
	Modify(pg *page.Page)
	Unpin(pg *page.Page)
	PageSize() int
	AllocatePage() (int64, error)
	FreePage(pos int64) error
}

// Meta is everything needed to reopen a tree.
type Meta struct {
	Root    int64
	Height  int
	Count   uint64
	KeyType KeyType
	Unique  bool
}

type Tree struct {
	store  PageStore
	meta   Meta
	layout layout

	// bumped by every successful Insert and Remove; iterators compare it
	modCount uint64

	log *slog.Logger
	mu  sync.RWMutex
}

// Order is the direction of an iteration.
type Order int

const (
	Ascending Order = iota
	Descending
)

func (o Order) String() string {
	if o == Descending {
		return "descending"
	}
	return "ascending"
}

// Bound limits an iteration. A nil *Bound means unbounded.
type Bound struct {
	Key       Key
	Inclusive bool
}

func Inclusive(k Key) *Bound { return &Bound{Key: k, Inclusive: true} }
func Exclusive(k Key) *Bound { return &Bound{Key: k} }

// Entry is one (key, object id) pair yielded by a scan.
type Entry struct {
	Key Key
	Oid types.Oid
}

// entry is the decoded form of a page slot. In leaves ref is the object id,
// in branches it is the child page position. tie repeats the object id of
// the entry (or of the subtree maximum) in non-unique trees.
type entry struct {
	key []byte
	tie uint64
	ref uint64
}

type node struct {
	pos     int64
	entries []entry
}

// splitResult describes a page that overflowed. The lower half moved to a
// freshly allocated page; max is its separator. kept is the separator of the
// page that retained the upper half.
type splitResult struct {
	max  entry
	kept entry
}
