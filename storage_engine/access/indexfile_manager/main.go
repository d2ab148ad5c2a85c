package indexfile

import (
	"fmt"
	"strings"
	"sync"

	"HeapStore/logging"
	"HeapStore/storage_engine/access/indexfile_manager/btree"
	"HeapStore/storage_engine/catalog"
	"HeapStore/storage_engine/dberror"
)

/*
This file is the main file for the Index File Manager.
Every index of a storage file is a B-tree whose pages come from the shared
page store, the same buffer pool and allocator the object heap uses. The
manager keeps the open indexes cached by name and mirrors their tree state
into the catalog, which the storage root persists at commit.
*/

// NewIndexFileManager serves the indexes declared in cat (a new catalog when
// nil). guard, when not nil, is held around every operation on an index.
func NewIndexFileManager(store btree.PageStore, cat *catalog.CatalogManager, guard sync.Locker) *IndexFileManager {
	if cat == nil {
		cat = catalog.NewCatalogManager()
	}
	if guard == nil {
		guard = nopLocker{}
	}
	return &IndexFileManager{
		store:   store,
		catalog: cat,
		indexes: make(map[string]*Index),
		guard:   guard,
		log:     logging.WithComponent("indexfile"),
	}
}

func (ifm *IndexFileManager) newIndex(spec Spec, tree *btree.Tree, nextKey int64) *Index {
	return &Index{
		spec:    spec,
		tree:    tree,
		nextKey: nextKey,
		guard:   ifm.guard,
		log:     logging.WithIndex(spec.Name),
	}
}

func (ifm *IndexFileManager) Catalog() *catalog.CatalogManager {
	ifm.mu.RLock()
	defer ifm.mu.RUnlock()
	return ifm.catalog
}

// CreateIndex declares a new, empty index.
func (ifm *IndexFileManager) CreateIndex(spec Spec) (*Index, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}
	ifm.mu.Lock()
	defer ifm.mu.Unlock()

	tree, err := btree.Create(ifm.store, spec.KeyType, spec.Unique)
	if err != nil {
		return nil, fmt.Errorf("failed to create index %q: %w", spec.Name, err)
	}
	ix := ifm.newIndex(spec, tree, 0)
	if err := ifm.catalog.AddIndex(definition(ix)); err != nil {
		return nil, err
	}
	ifm.indexes[strings.ToLower(spec.Name)] = ix
	return ix, nil
}

// GetOrOpenIndex returns the named index, opening it from the catalog on
// first use.
func (ifm *IndexFileManager) GetOrOpenIndex(name string) (*Index, error) {
	ifm.mu.RLock()
	ix, ok := ifm.indexes[strings.ToLower(name)]
	ifm.mu.RUnlock()
	if ok {
		return ix, nil
	}

	ifm.mu.Lock()
	defer ifm.mu.Unlock()
	// another goroutine may have opened it while we waited
	if ix, ok := ifm.indexes[strings.ToLower(name)]; ok {
		return ix, nil
	}

	def, err := ifm.catalog.GetIndex(name)
	if err != nil {
		return nil, err
	}
	spec, meta, nextKey, err := fromDefinition(def)
	if err != nil {
		return nil, err
	}
	tree, err := btree.Open(ifm.store, meta)
	if err != nil {
		return nil, fmt.Errorf("failed to open index %q: %w", name, err)
	}
	ix = ifm.newIndex(spec, tree, nextKey)
	ifm.indexes[strings.ToLower(name)] = ix
	ix.log.Debug("index opened", "root", meta.Root, "height", meta.Height, "count", meta.Count)
	return ix, nil
}

// DropIndex frees every page of the index and removes it from the catalog.
func (ifm *IndexFileManager) DropIndex(name string) error {
	ix, err := ifm.GetOrOpenIndex(name)
	if err != nil {
		return err
	}
	ifm.mu.Lock()
	defer ifm.mu.Unlock()
	if err := ix.drop(); err != nil {
		return fmt.Errorf("failed to drop index %q: %w", name, err)
	}
	delete(ifm.indexes, strings.ToLower(name))
	return ifm.catalog.DeleteIndex(name)
}

// Indexes lists the declared index names.
func (ifm *IndexFileManager) Indexes() []string {
	return ifm.Catalog().Indexes()
}

// Sync copies the state of every open index into the catalog.
func (ifm *IndexFileManager) Sync() error {
	ifm.mu.RLock()
	defer ifm.mu.RUnlock()
	for _, ix := range ifm.indexes {
		if err := ifm.catalog.UpdateIndex(definition(ix)); err != nil {
			return err
		}
	}
	return nil
}

// Reset forgets every open index and switches to cat. Iterators over the
// forgotten indexes stop with ErrConcurrentModification. Extractors
// installed on the forgotten indexes are carried over to the reopened ones.
func (ifm *IndexFileManager) Reset(cat *catalog.CatalogManager) {
	ifm.mu.Lock()
	defer ifm.mu.Unlock()

	extractors := make(map[string]KeyExtractor)
	for name, ix := range ifm.indexes {
		ix.tree.Invalidate()
		ix.mu.Lock()
		if ix.extractor != nil {
			extractors[name] = ix.extractor
		}
		ix.mu.Unlock()
	}
	ifm.catalog = cat
	clear(ifm.indexes)

	for name, e := range extractors {
		def, err := cat.GetIndex(name)
		if err != nil {
			continue
		}
		spec, meta, nextKey, err := fromDefinition(def)
		if err != nil {
			logging.WithError(ifm.log, err).Warn("index left closed", "index", name)
			continue
		}
		tree, err := btree.Open(ifm.store, meta)
		if err != nil {
			logging.WithError(ifm.log, err).Warn("index left closed", "index", name)
			continue
		}
		ix := ifm.newIndex(spec, tree, nextKey)
		ix.extractor = e
		ifm.indexes[name] = ix
	}
}

// Stats returns the entry count of every declared index.
func (ifm *IndexFileManager) Stats() (map[string]uint64, error) {
	out := make(map[string]uint64)
	for _, name := range ifm.Indexes() {
		ix, err := ifm.GetOrOpenIndex(name)
		if err != nil {
			return nil, err
		}
		out[name] = ix.Size()
	}
	return out, nil
}

func definition(ix *Index) catalog.IndexDef {
	meta := ix.tree.Meta()
	ix.mu.Lock()
	next := ix.nextKey
	ix.mu.Unlock()

	def := catalog.IndexDef{
		Name:            ix.spec.Name,
		KeyType:         ix.spec.KeyType.String(),
		Unique:          ix.spec.Unique,
		CaseInsensitive: ix.spec.CaseInsensitive,
		Root:            meta.Root,
		Height:          meta.Height,
		Count:           meta.Count,
		NextKey:         next,
	}
	for _, c := range ix.spec.Components {
		def.Components = append(def.Components, c.String())
	}
	return def
}

func fromDefinition(def catalog.IndexDef) (Spec, btree.Meta, int64, error) {
	kt, err := btree.ParseKeyType(def.KeyType)
	if err != nil {
		return Spec{}, btree.Meta{}, 0, dberror.New(dberror.KindCorrupted, "GetOrOpenIndex", "indexfile", "index %q: %v", def.Name, err)
	}
	spec := Spec{Name: def.Name, KeyType: kt, Unique: def.Unique, CaseInsensitive: def.CaseInsensitive}
	for _, c := range def.Components {
		ct, err := btree.ParseKeyType(c)
		if err != nil {
			return Spec{}, btree.Meta{}, 0, dberror.New(dberror.KindCorrupted, "GetOrOpenIndex", "indexfile", "index %q: %v", def.Name, err)
		}
		spec.Components = append(spec.Components, ct)
	}
	meta := btree.Meta{Root: def.Root, Height: def.Height, Count: def.Count, KeyType: kt, Unique: def.Unique}
	return spec, meta, def.NextKey, nil
}
