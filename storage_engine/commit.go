package storageengine

import (
	"fmt"

	"HeapStore/logging"
	"HeapStore/storage_engine/dberror"
	"HeapStore/types"
)

/*
Commit and rollback.

Objects, the heap directory and the index catalog are never overwritten
before the next checkpoint: a new version goes to fresh allocator space and
the range it replaces stays reserved until the allocator commit. The header
page written by the checkpoint manager is the switch from the old state to
the new one.

Index pages and bitmap pages are updated in place. Allocations set bitmap
bits before the header is written, frees clear them only after it, so a crash
between the two can leak space but never hands out a live range. Index pages
reach the file with the pool flush just before the header. As long as no
dirty page was evicted early both only changed in the pool and a rollback
can simply discard it; once one has been written the committed page is gone
and rollback is refused.
*/

// Commit makes every change since the last commit durable.
func (s *Storage) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen("Commit"); err != nil {
		return err
	}
	if s.cfg.ReadOnly {
		return dberror.New(dberror.KindAccessViolation, "Commit", "storage", "storage is read-only")
	}
	return s.commit()
}

func (s *Storage) commit() error {
	if err := s.objects.Flush(); err != nil {
		return fmt.Errorf("failed to flush objects: %w", err)
	}
	if err := s.indexes.Sync(); err != nil {
		return fmt.Errorf("failed to sync index catalog: %w", err)
	}
	cat := s.indexes.Catalog()
	if cat.Changed() {
		data, err := cat.Encode()
		if err != nil {
			return err
		}
		pos, size, err := s.heap.SaveBlob(s.catalogPos, s.catalogSize, types.TypeIndexCatalog, data)
		if err != nil {
			return fmt.Errorf("failed to save index catalog: %w", err)
		}
		s.catalogPos, s.catalogSize = pos, size
		cat.MarkSaved()
	}
	st, err := s.heap.Save()
	if err != nil {
		return err
	}
	if err := s.pool.Flush(); err != nil {
		return fmt.Errorf("failed to flush page pool: %w", err)
	}

	cp := s.checkpoints.Last()
	cp.Quantum = s.cfg.Quantum
	cp.NextOid = uint64(st.NextOid)
	cp.DirPos, cp.DirSize = st.DirPos, st.DirSize
	cp.CatalogPos, cp.CatalogSize = s.catalogPos, s.catalogSize
	cp.Bitmaps = s.alloc.Directory()
	cp.Cursor = s.alloc.Cursor()
	cp.Seq++
	if err := s.checkpoints.SaveCheckpoint(cp); err != nil {
		return err
	}
	if err := s.alloc.Commit(); err != nil {
		return err
	}
	if err := s.pool.Flush(); err != nil {
		return fmt.Errorf("failed to flush released bitmap bits: %w", err)
	}
	s.log.Debug("committed", "seq", cp.Seq, "objects", s.heap.Len())
	return nil
}

// Rollback drops every change since the last commit. Records held by the
// application are refreshed in place; records created since the commit are
// forgotten. Index handles obtained before the rollback must be fetched
// again with Index.
func (s *Storage) Rollback() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen("Rollback"); err != nil {
		return err
	}
	if s.pool.Spilled() {
		return dberror.New(dberror.KindRollbackUnavailable, "Rollback", "storage",
			"uncommitted pages were already written to the file")
	}
	if err := s.pool.Discard(); err != nil {
		return err
	}

	cp := s.checkpoints.Last()
	s.alloc.Reset(cp.Bitmaps, cp.Cursor)
	if err := s.heap.Reset(heapState(cp)); err != nil {
		return fmt.Errorf("failed to reload object heap: %w", err)
	}
	s.catalogPos, s.catalogSize = cp.CatalogPos, cp.CatalogSize
	cat, err := s.loadCatalog(cp)
	if err != nil {
		return err
	}
	s.indexes.Reset(cat)
	if err := s.objects.Reload(); err != nil {
		logging.WithError(s.log, err).Warn("resident objects not reloaded")
	}
	s.log.Info("rolled back", "seq", cp.Seq)
	return nil
}

// Seq returns the number of commits made to the file.
func (s *Storage) Seq() uint64 {
	return s.checkpoints.Last().Seq
}
