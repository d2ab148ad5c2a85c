package indexfile

import (
	"log/slog"
	"sync"

	"HeapStore/storage_engine/access/indexfile_manager/btree"
	"HeapStore/storage_engine/catalog"
)

// Spec declares an index.
type Spec struct {
	Name    string
	KeyType btree.KeyType
	// Components lists the component types of a compound key, in order.
	Components      []btree.KeyType
	Unique          bool
	CaseInsensitive bool
}

// KeyExtractor derives the index key of an application object.
type KeyExtractor interface {
	Key(obj any) (btree.Key, error)
}

// ExtractorFunc adapts a function to KeyExtractor.
type ExtractorFunc func(obj any) (btree.Key, error)

func (f ExtractorFunc) Key(obj any) (btree.Key, error) { return f(obj) }

// Index is a named B-tree with key checking, case folding and uniqueness
// policy applied on top.
type Index struct {
	spec      Spec
	tree      *btree.Tree
	extractor KeyExtractor

	nextKey int64 // last auto-increment key handed out, 0 if unknown
	guard   sync.Locker
	log     *slog.Logger
	mu      sync.Mutex
}

type IndexFileManager struct {
	store   btree.PageStore
	catalog *catalog.CatalogManager
	indexes map[string]*Index // lower-cased name → open index
	// held around every index operation; the storage root passes the read
	// side of its commit lock
	guard sync.Locker
	log   *slog.Logger
	mu    sync.RWMutex
}

type nopLocker struct{}

func (nopLocker) Lock()   {}
func (nopLocker) Unlock() {}
