package heapfile

import (
	"fmt"

	"HeapStore/logging"
	"HeapStore/storage_engine/dberror"
	"HeapStore/types"
)

/*
This file is the start of the heap
The heap is responsible for object blobs: it asks the allocator (Space) for
room and writes the bytes through the buffer pool, so objects never need to
fit in a page.

Replacing an object always writes a new blob and frees the old one. The freed
range stays reserved by the allocator until commit, so the committed copy is
intact until the header that points at the new directory is written.
*/

// Open returns the heap described by st, loading its directory blob.
func Open(pool Pool, space Space, st State) (*Heap, error) {
	h := &Heap{
		pool:  pool,
		space: space,
		log:   logging.WithComponent("heap"),
	}
	if err := h.reset(st); err != nil {
		return nil, err
	}
	return h, nil
}

// Reset reloads the directory from st, dropping changes made since the last Save.
func (h *Heap) Reset(st State) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reset(st)
}

func (h *Heap) reset(st State) error {
	dir := make(map[types.Oid]Entry)
	if st.DirPos != 0 {
		payload, err := h.loadBlob(st.DirPos, st.DirSize, types.TypeHeapDirectory)
		if err != nil {
			return fmt.Errorf("failed to load heap directory: %w", err)
		}
		if dir, err = decodeDirectory(payload); err != nil {
			return err
		}
	}
	h.dir = dir
	h.nextOid = max(st.NextOid, 1)
	h.dirPos, h.dirSize = st.DirPos, st.DirSize
	h.changed = false
	return nil
}

// State returns what has to be recorded in the storage header after Save.
func (h *Heap) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return State{NextOid: h.nextOid, DirPos: h.dirPos, DirSize: h.dirSize}
}

// NewOid reserves a fresh oid. Oids are never reused.
func (h *Heap) NewOid() types.Oid {
	h.mu.Lock()
	defer h.mu.Unlock()
	oid := h.nextOid
	h.nextOid++
	h.changed = true
	return oid
}

// Put stores data as the object oid, replacing any previous version.
func (h *Heap) Put(oid types.Oid, tag types.BlockType, data []byte) error {
	if oid == 0 {
		return dberror.New(dberror.KindAccessViolation, "Put", "heap", "oid 0 is reserved")
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	size := int64(types.ObjectHeaderSize + len(data))
	pos, err := h.space.Allocate(size)
	if err != nil {
		return err
	}
	if err := h.writeBlob(pos, tag, data); err != nil {
		return err
	}
	if old, ok := h.dir[oid]; ok {
		if err := h.space.Free(old.Pos, int64(old.Size)); err != nil {
			return fmt.Errorf("failed to free previous version of object %d: %w", oid, err)
		}
	}
	h.dir[oid] = Entry{Pos: pos, Size: uint32(size), Tag: tag}
	if oid >= h.nextOid {
		h.nextOid = oid + 1
	}
	h.changed = true
	return nil
}

// Get returns the tag and payload of oid.
func (h *Heap) Get(oid types.Oid) (types.BlockType, []byte, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	e, ok := h.dir[oid]
	if !ok {
		return 0, nil, dberror.New(dberror.KindKeyNotFound, "Get", "heap", "object %d does not exist", oid)
	}
	payload, err := h.loadBlob(e.Pos, int64(e.Size), e.Tag)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read object %d: %w", oid, err)
	}
	return e.Tag, payload, nil
}

// Delete frees oid.
func (h *Heap) Delete(oid types.Oid) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	e, ok := h.dir[oid]
	if !ok {
		return dberror.New(dberror.KindKeyNotFound, "Delete", "heap", "object %d does not exist", oid)
	}
	if err := h.space.Free(e.Pos, int64(e.Size)); err != nil {
		return err
	}
	delete(h.dir, oid)
	h.changed = true
	return nil
}

func (h *Heap) Exists(oid types.Oid) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.dir[oid]
	return ok
}

// Lookup returns the directory entry of oid.
func (h *Heap) Lookup(oid types.Oid) (Entry, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.dir[oid]
	return e, ok
}

// Len returns the number of stored objects.
func (h *Heap) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.dir)
}

// Save writes the directory blob if anything changed since the last Save and
// returns the state to record in the storage header.
func (h *Heap) Save() (State, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.changed {
		pos, size, err := h.saveBlob(h.dirPos, h.dirSize, types.TypeHeapDirectory, encodeDirectory(h.dir))
		if err != nil {
			return State{}, fmt.Errorf("failed to save heap directory: %w", err)
		}
		h.dirPos, h.dirSize = pos, size
		h.changed = false
		h.log.Debug("heap directory saved", "objects", len(h.dir), "pos", pos, "size", size)
	}
	return State{NextOid: h.nextOid, DirPos: h.dirPos, DirSize: h.dirSize}, nil
}

// SaveBlob writes payload as a new blob of the given tag and frees the blob
// at oldPos (if any). It returns the new position and size.
func (h *Heap) SaveBlob(oldPos, oldSize int64, tag types.BlockType, payload []byte) (int64, int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.saveBlob(oldPos, oldSize, tag, payload)
}

// LoadBlob reads the payload of a blob written by SaveBlob.
func (h *Heap) LoadBlob(pos, size int64, tag types.BlockType) ([]byte, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.loadBlob(pos, size, tag)
}

func (h *Heap) saveBlob(oldPos, oldSize int64, tag types.BlockType, payload []byte) (int64, int64, error) {
	size := int64(types.ObjectHeaderSize + len(payload))
	pos, err := h.space.Allocate(size)
	if err != nil {
		return 0, 0, err
	}
	if err := h.writeBlob(pos, tag, payload); err != nil {
		return 0, 0, err
	}
	if oldPos != 0 {
		if err := h.space.Free(oldPos, oldSize); err != nil {
			return 0, 0, err
		}
	}
	return pos, size, nil
}
