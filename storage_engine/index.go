package storageengine

import (
	indexfile "HeapStore/storage_engine/access/indexfile_manager"
)

// CreateIndex declares a new index. Its pages share the file with the heap
// and it is persisted with the next commit.
func (s *Storage) CreateIndex(spec indexfile.Spec) (*indexfile.Index, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkWritable("CreateIndex"); err != nil {
		return nil, err
	}
	ix, err := s.indexes.CreateIndex(spec)
	if err != nil {
		return nil, err
	}
	s.log.Debug("index created", "index", spec.Name, "key_type", spec.KeyType, "unique", spec.Unique)
	return ix, nil
}

// Index opens the named index.
func (s *Storage) Index(name string) (*indexfile.Index, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkOpen("Index"); err != nil {
		return nil, err
	}
	return s.indexes.GetOrOpenIndex(name)
}

// DropIndex frees every page of the named index and removes it from the catalog.
func (s *Storage) DropIndex(name string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkWritable("DropIndex"); err != nil {
		return err
	}
	return s.indexes.DropIndex(name)
}

// Indexes lists the declared index names in order.
func (s *Storage) Indexes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.indexes.Indexes()
}

// Verify checks the tree structure of every declared index.
func (s *Storage) Verify() error {
	s.mu.RLock()
	names := s.indexes.Indexes()
	s.mu.RUnlock()

	for _, name := range names {
		ix, err := s.Index(name)
		if err != nil {
			return err
		}
		if err := ix.Verify(); err != nil {
			return err
		}
	}
	return nil
}
