package heapfile

import (
	"encoding/binary"
	"slices"

	"HeapStore/storage_engine/dberror"
	"HeapStore/types"
)

/*
This file contains the byte level helpers of the heap: copying a blob in and
out of the pages it spans, and the directory encoding.
*/

// writeBlob stamps the object header and copies payload after it, page by page.
func (h *Heap) writeBlob(pos int64, tag types.BlockType, payload []byte) error {
	buf := make([]byte, types.ObjectHeaderSize+len(payload))
	types.PutObjectHeader(buf, uint32(len(buf)), tag)
	copy(buf[types.ObjectHeaderSize:], payload)

	ps := int64(h.pool.PageSize())
	for done := 0; done < len(buf); {
		cur := pos + int64(done)
		pagePos := cur - cur%ps
		off := int(cur - pagePos)
		n := min(len(buf)-done, int(ps)-off)

		get := h.pool.Get
		if off == 0 && n == int(ps) {
			get = h.pool.New // whole page overwritten, skip the read
		}
		pg, err := get(pagePos)
		if err != nil {
			return err
		}
		pg.Lock()
		copy(pg.Data[off:], buf[done:done+n])
		pg.Unlock()
		h.pool.Modify(pg)
		h.pool.Unpin(pg)
		done += n
	}
	return nil
}

// readBlob copies size bytes starting at pos.
func (h *Heap) readBlob(pos, size int64) ([]byte, error) {
	buf := make([]byte, size)
	ps := int64(h.pool.PageSize())
	for done := int64(0); done < size; {
		cur := pos + done
		pagePos := cur - cur%ps
		off := cur - pagePos
		n := min(size-done, ps-off)

		pg, err := h.pool.Get(pagePos)
		if err != nil {
			return nil, err
		}
		pg.RLock()
		copy(buf[done:done+n], pg.Data[off:off+n])
		pg.RUnlock()
		h.pool.Unpin(pg)
		done += n
	}
	return buf, nil
}

// loadBlob reads a blob and checks its header against the expected size and tag.
func (h *Heap) loadBlob(pos, size int64, tag types.BlockType) ([]byte, error) {
	if size < types.ObjectHeaderSize {
		return nil, dberror.New(dberror.KindCorrupted, "loadBlob", "heap", "blob at %d has size %d", pos, size)
	}
	buf, err := h.readBlob(pos, size)
	if err != nil {
		return nil, err
	}
	gotSize, gotTag := types.ObjectHeader(buf)
	if int64(gotSize) != size || gotTag != tag {
		return nil, dberror.New(dberror.KindCorrupted, "loadBlob", "heap",
			"blob at %d: header says %s of %d bytes, expected %s of %d", pos, gotTag, gotSize, tag, size)
	}
	return buf[types.ObjectHeaderSize:], nil
}

const dirEntrySize = 8 + 8 + 4 + 4

// encodeDirectory lays out: count u32, then (oid u64, pos u64, size u32, tag u32)
// per object in oid order.
func encodeDirectory(dir map[types.Oid]Entry) []byte {
	oids := make([]types.Oid, 0, len(dir))
	for oid := range dir {
		oids = append(oids, oid)
	}
	slices.Sort(oids)

	buf := make([]byte, 4+len(oids)*dirEntrySize)
	binary.LittleEndian.PutUint32(buf, uint32(len(oids)))
	off := 4
	for _, oid := range oids {
		e := dir[oid]
		binary.LittleEndian.PutUint64(buf[off:], oid)
		binary.LittleEndian.PutUint64(buf[off+8:], uint64(e.Pos))
		binary.LittleEndian.PutUint32(buf[off+16:], e.Size)
		binary.LittleEndian.PutUint32(buf[off+20:], uint32(e.Tag))
		off += dirEntrySize
	}
	return buf
}

func decodeDirectory(buf []byte) (map[types.Oid]Entry, error) {
	if len(buf) < 4 {
		return nil, dberror.New(dberror.KindCorrupted, "decodeDirectory", "heap", "directory of %d bytes", len(buf))
	}
	count := int(binary.LittleEndian.Uint32(buf))
	if len(buf) != 4+count*dirEntrySize {
		return nil, dberror.New(dberror.KindCorrupted, "decodeDirectory", "heap",
			"directory holds %d bytes for %d entries", len(buf), count)
	}
	dir := make(map[types.Oid]Entry, count)
	off := 4
	for range count {
		oid := binary.LittleEndian.Uint64(buf[off:])
		dir[oid] = Entry{
			Pos:  int64(binary.LittleEndian.Uint64(buf[off+8:])),
			Size: binary.LittleEndian.Uint32(buf[off+16:]),
			Tag:  types.BlockType(binary.LittleEndian.Uint32(buf[off+20:])),
		}
		off += dirEntrySize
	}
	return dir, nil
}
