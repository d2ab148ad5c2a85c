package catalog

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	"HeapStore/logging"
	"HeapStore/storage_engine/dberror"
)

/*
This file is the main access of the Catalog Manager.
The catalog keeps the definition of every index of a storage file and the
root, height and size of its tree. It is serialized as one JSON document and
stored as an object blob; the storage header remembers where.
*/

func NewCatalogManager() *CatalogManager {
	return &CatalogManager{
		defs: make(map[string]IndexDef),
		log:  logging.WithComponent("catalog"),
	}
}

// Decode rebuilds a catalog from a document produced by Encode. Empty input
// is an empty catalog.
func Decode(data []byte) (*CatalogManager, error) {
	cm := NewCatalogManager()
	if len(data) == 0 {
		return cm, nil
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, dberror.Wrap(fmt.Errorf("failed to parse index catalog: %w", err), dberror.KindCorrupted, "Decode", "catalog")
	}
	if doc.Version != catalogVersion {
		return nil, dberror.New(dberror.KindCorrupted, "Decode", "catalog", "unsupported catalog version %d", doc.Version)
	}
	for _, def := range doc.Indexes {
		if _, dup := cm.defs[key(def.Name)]; dup {
			return nil, dberror.New(dberror.KindCorrupted, "Decode", "catalog", "index %q listed twice", def.Name)
		}
		cm.defs[key(def.Name)] = def
	}
	cm.log.Debug("catalog loaded", "indexes", len(cm.defs))
	return cm, nil
}

// Encode serializes the catalog, indexes sorted by name.
func (cm *CatalogManager) Encode() ([]byte, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	doc := document{Version: catalogVersion, Indexes: make([]IndexDef, 0, len(cm.defs))}
	for _, k := range slices.Sorted(maps.Keys(cm.defs)) {
		doc.Indexes = append(doc.Indexes, cm.defs[k])
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode index catalog: %w", err)
	}
	return data, nil
}

// index names are case-insensitive
func key(name string) string {
	return strings.ToLower(name)
}

func (cm *CatalogManager) IndexExists(name string) bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	_, ok := cm.defs[key(name)]
	return ok
}

func (cm *CatalogManager) GetIndex(name string) (IndexDef, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	def, ok := cm.defs[key(name)]
	if !ok {
		return IndexDef{}, dberror.New(dberror.KindKeyNotFound, "GetIndex", "catalog", "index %q does not exist", name)
	}
	return def, nil
}

// AddIndex registers a new index.
func (cm *CatalogManager) AddIndex(def IndexDef) error {
	if def.Name == "" {
		return fmt.Errorf("index name must not be empty")
	}
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if _, ok := cm.defs[key(def.Name)]; ok {
		return dberror.New(dberror.KindKeyNotUnique, "AddIndex", "catalog", "index %q already exists", def.Name)
	}
	cm.defs[key(def.Name)] = def
	cm.changed = true
	cm.log.Info("index registered", "index", def.Name, "key_type", def.KeyType, "unique", def.Unique)
	return nil
}

// UpdateIndex records the current state of an existing index.
func (cm *CatalogManager) UpdateIndex(def IndexDef) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	old, ok := cm.defs[key(def.Name)]
	if !ok {
		return dberror.New(dberror.KindKeyNotFound, "UpdateIndex", "catalog", "index %q does not exist", def.Name)
	}
	if !slices.Equal(old.Components, def.Components) || old.Root != def.Root || old.Height != def.Height ||
		old.Count != def.Count || old.NextKey != def.NextKey || old.KeyType != def.KeyType ||
		old.Unique != def.Unique || old.CaseInsensitive != def.CaseInsensitive {
		cm.defs[key(def.Name)] = def
		cm.changed = true
	}
	return nil
}

func (cm *CatalogManager) DeleteIndex(name string) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if _, ok := cm.defs[key(name)]; !ok {
		return dberror.New(dberror.KindKeyNotFound, "DeleteIndex", "catalog", "index %q does not exist", name)
	}
	delete(cm.defs, key(name))
	cm.changed = true
	cm.log.Info("index dropped", "index", name)
	return nil
}

// Indexes returns the index names in sorted order.
func (cm *CatalogManager) Indexes() []string {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	names := make([]string, 0, len(cm.defs))
	for _, def := range cm.defs {
		names = append(names, def.Name)
	}
	slices.SortFunc(names, func(a, b string) int { return strings.Compare(key(a), key(b)) })
	return names
}

// Changed reports whether the catalog differs from what was last encoded
// with MarkSaved.
func (cm *CatalogManager) Changed() bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.changed
}

func (cm *CatalogManager) MarkSaved() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.changed = false
}
