package storageengine

import (
	"errors"

	"HeapStore/storage_engine/dberror"
	"HeapStore/types"
)

func checkTag(op string, tag types.BlockType) error {
	if tag != types.TypeHeapObject && tag < types.TypeUser {
		return dberror.New(dberror.KindAccessViolation, op, "storage",
			"tag %s is reserved for storage internals", tag)
	}
	return nil
}

func (s *Storage) checkWritable(op string) error {
	if err := s.checkOpen(op); err != nil {
		return err
	}
	if s.cfg.ReadOnly {
		return dberror.New(dberror.KindAccessViolation, op, "storage", "storage is read-only")
	}
	return nil
}

// NewObject assigns an oid to a new object. It is written to the heap at the
// next commit.
func (s *Storage) NewObject(tag types.BlockType, data []byte) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkWritable("NewObject"); err != nil {
		return nil, err
	}
	if err := checkTag("NewObject", tag); err != nil {
		return nil, err
	}
	rec := &Record{oid: s.heap.NewOid(), Tag: tag, Data: data}
	s.objects.SetDirty(rec.oid, rec)
	return rec, nil
}

// Load returns the resident instance of oid, reading it from the heap if
// needed. Loading the same oid twice yields the same *Record while the first
// one is resident.
func (s *Storage) Load(oid types.Oid) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkOpen("Load"); err != nil {
		return nil, err
	}
	if rec, ok := s.objects.Get(oid); ok {
		return rec, nil
	}

	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	// Double-check after acquiring the load lock
	if rec, ok := s.objects.Get(oid); ok {
		return rec, nil
	}
	tag, data, err := s.heap.Get(oid)
	if err != nil {
		return nil, err
	}
	rec := &Record{oid: oid, Tag: tag, Data: data}
	s.objects.Put(oid, rec)
	return rec, nil
}

// Modify marks rec as changed; it is written back at the next commit.
func (s *Storage) Modify(rec *Record) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkWritable("Modify"); err != nil {
		return err
	}
	if rec == nil || rec.oid == 0 {
		return dberror.New(dberror.KindAccessViolation, "Modify", "storage", "record does not belong to this storage")
	}
	if err := checkTag("Modify", rec.Tag); err != nil {
		return err
	}
	s.objects.SetDirty(rec.oid, rec)
	return nil
}

// Delete removes oid from the object table and the heap.
func (s *Storage) Delete(oid types.Oid) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkWritable("Delete"); err != nil {
		return err
	}
	resident := s.objects.Remove(oid)
	err := s.heap.Delete(oid)
	if errors.Is(err, dberror.ErrKeyNotFound) && resident {
		// created since the last commit and never written
		return nil
	}
	return err
}

func (s *Storage) Exists(oid types.Oid) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.objects.Get(oid); ok {
		return true
	}
	return s.heap.Exists(oid)
}
