package checkpoint

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"

	"HeapStore/logging"
	"HeapStore/storage_engine/dberror"
	diskmanager "HeapStore/storage_engine/disk_manager"
	"HeapStore/types"
)

/*
This file is the main file of the CheckpointManager.
A checkpoint is the header page at offset 0 of the storage file. It is the
only page written in place: commit first makes every other page durable, then
saves the checkpoint between two syncs. Until the second sync completes the
previous checkpoint, and with it the previous committed state, is what a
reopen sees.

Layout (little endian):

	[0:8)   object header (page size, TypeHeader)
	[8:16)  magic "HEAPSTOR"
	[16:20) version
	[20:24) page size
	[24:28) allocation quantum
	[28:32) number of bitmap pages
	[32:40) next oid
	[40:56) heap directory position, size
	[56:72) index catalog position, size
	[72:80) allocator cursor
	[80:88) commit sequence
	[88:96) xxhash of [8:88) and the bitmap directory
	[96:)   bitmap page positions, 8 bytes each
*/

const (
	Version = 1

	fixedSize = 96
	minPage   = 128
)

var magic = []byte("HEAPSTOR")

// MaxBitmapPages is how many bitmap page positions fit in a header page.
// The directory is not chained past the header, so this bounds the heap:
// 500 pages at the default 4 KiB page, each covering 127 pages of arena at
// a 16 byte quantum, about 248 MiB. The bound grows with the square of the
// page size and linearly with the quantum.
func MaxBitmapPages(pageSize int) int {
	return (pageSize - fixedSize) / 8
}

func NewCheckpointManager(file diskmanager.File, pageSize int) (*CheckpointManager, error) {
	if pageSize < minPage {
		return nil, fmt.Errorf("page size %d is too small for the header", pageSize)
	}
	return &CheckpointManager{
		file:     file,
		pageSize: pageSize,
		log:      logging.WithPage("checkpoint", 0),
	}, nil
}

// LoadCheckpoint reads the header. ok is false when the file is empty.
func (cm *CheckpointManager) LoadCheckpoint() (cp Checkpoint, ok bool, err error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	length, err := cm.file.Length()
	if err != nil {
		return Checkpoint{}, false, dberror.WrapIO(err, "LoadCheckpoint", "checkpoint")
	}
	if length == 0 {
		return Checkpoint{}, false, nil
	}

	fixed := make([]byte, fixedSize)
	if err := readFull(cm.file, fixed, 0); err != nil {
		return Checkpoint{}, false, err
	}
	pageSize := int(binary.LittleEndian.Uint32(fixed[20:24]))
	if !bytes.Equal(fixed[8:16], magic) || pageSize < minPage {
		return Checkpoint{}, false, dberror.New(dberror.KindCorrupted, "LoadCheckpoint", "checkpoint",
			"not a storage file (bad magic or page size)")
	}
	buf := make([]byte, pageSize)
	if err := readFull(cm.file, buf, 0); err != nil {
		return Checkpoint{}, false, err
	}
	if cp, err = Decode(buf); err != nil {
		return Checkpoint{}, false, err
	}

	cm.pageSize = pageSize
	cm.last = cp
	cm.log.Info("checkpoint loaded", "seq", cp.Seq, "next_oid", cp.NextOid, "bitmaps", len(cp.Bitmaps))
	return cp, true, nil
}

// SaveCheckpoint makes every earlier write durable, writes cp to the header
// page and syncs again.
func (cm *CheckpointManager) SaveCheckpoint(cp Checkpoint) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cp.Version, cp.PageSize = Version, cm.pageSize
	buf, err := Encode(cp)
	if err != nil {
		return err
	}
	if err := cm.file.Sync(); err != nil {
		return dberror.WrapIO(err, "SaveCheckpoint", "checkpoint")
	}
	if _, err := cm.file.WriteAt(buf, 0); err != nil {
		return dberror.WrapIO(fmt.Errorf("failed to write header: %w", err), "SaveCheckpoint", "checkpoint")
	}
	if err := cm.file.Sync(); err != nil {
		return dberror.WrapIO(err, "SaveCheckpoint", "checkpoint")
	}
	cm.last = cp
	cm.log.Debug("checkpoint saved", "seq", cp.Seq)
	return nil
}

// Last returns the most recently loaded or saved checkpoint.
func (cm *CheckpointManager) Last() Checkpoint {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	cp := cm.last
	cp.Bitmaps = append([]int64(nil), cm.last.Bitmaps...)
	return cp
}

func (cm *CheckpointManager) PageSize() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.pageSize
}

// Encode renders cp as a header page of cp.PageSize bytes.
func Encode(cp Checkpoint) ([]byte, error) {
	if cp.PageSize < minPage {
		return nil, fmt.Errorf("page size %d is too small for the header", cp.PageSize)
	}
	if len(cp.Bitmaps) > MaxBitmapPages(cp.PageSize) {
		return nil, dberror.New(dberror.KindOutOfSpace, "Encode", "checkpoint",
			"%d bitmap pages do not fit in a %d byte header", len(cp.Bitmaps), cp.PageSize)
	}
	buf := make([]byte, cp.PageSize)
	types.PutObjectHeader(buf, uint32(cp.PageSize), types.TypeHeader)
	copy(buf[8:16], magic)
	le := binary.LittleEndian
	le.PutUint32(buf[16:20], Version)
	le.PutUint32(buf[20:24], uint32(cp.PageSize))
	le.PutUint32(buf[24:28], uint32(cp.Quantum))
	le.PutUint32(buf[28:32], uint32(len(cp.Bitmaps)))
	le.PutUint64(buf[32:40], cp.NextOid)
	le.PutUint64(buf[40:48], uint64(cp.DirPos))
	le.PutUint64(buf[48:56], uint64(cp.DirSize))
	le.PutUint64(buf[56:64], uint64(cp.CatalogPos))
	le.PutUint64(buf[64:72], uint64(cp.CatalogSize))
	le.PutUint64(buf[72:80], uint64(cp.Cursor))
	le.PutUint64(buf[80:88], cp.Seq)
	for i, pos := range cp.Bitmaps {
		le.PutUint64(buf[fixedSize+i*8:], uint64(pos))
	}
	le.PutUint64(buf[88:96], checksum(buf, len(cp.Bitmaps)))
	return buf, nil
}

// Decode parses a header page.
func Decode(buf []byte) (Checkpoint, error) {
	corrupt := func(format string, args ...any) error {
		return dberror.New(dberror.KindCorrupted, "Decode", "checkpoint", format, args...)
	}
	if len(buf) < fixedSize || !bytes.Equal(buf[8:16], magic) {
		return Checkpoint{}, corrupt("bad header magic")
	}
	if _, tag := types.ObjectHeader(buf); tag != types.TypeHeader {
		return Checkpoint{}, corrupt("header page is tagged %s", tag)
	}
	le := binary.LittleEndian
	cp := Checkpoint{
		Version:     le.Uint32(buf[16:20]),
		PageSize:    int(le.Uint32(buf[20:24])),
		Quantum:     int64(le.Uint32(buf[24:28])),
		NextOid:     le.Uint64(buf[32:40]),
		DirPos:      int64(le.Uint64(buf[40:48])),
		DirSize:     int64(le.Uint64(buf[48:56])),
		CatalogPos:  int64(le.Uint64(buf[56:64])),
		CatalogSize: int64(le.Uint64(buf[64:72])),
		Cursor:      int64(le.Uint64(buf[72:80])),
		Seq:         le.Uint64(buf[80:88]),
	}
	if cp.Version != Version {
		return Checkpoint{}, corrupt("unsupported header version %d", cp.Version)
	}
	if cp.PageSize != len(buf) {
		return Checkpoint{}, corrupt("header records page size %d, read %d bytes", cp.PageSize, len(buf))
	}
	n := int(le.Uint32(buf[28:32]))
	if n > MaxBitmapPages(cp.PageSize) {
		return Checkpoint{}, corrupt("header lists %d bitmap pages", n)
	}
	if sum := le.Uint64(buf[88:96]); sum != checksum(buf, n) {
		return Checkpoint{}, corrupt("header checksum mismatch")
	}
	cp.Bitmaps = make([]int64, n)
	for i := range cp.Bitmaps {
		cp.Bitmaps[i] = int64(le.Uint64(buf[fixedSize+i*8:]))
	}
	return cp, nil
}

func checksum(buf []byte, bitmaps int) uint64 {
	d := xxhash.New()
	d.Write(buf[8:88])
	d.Write(buf[fixedSize : fixedSize+bitmaps*8])
	return d.Sum64()
}

func readFull(f diskmanager.File, buf []byte, off int64) error {
	n, err := f.ReadAt(buf, off)
	if n == len(buf) {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return dberror.New(dberror.KindCorrupted, "LoadCheckpoint", "checkpoint",
			"header truncated: read %d of %d bytes", n, len(buf))
	}
	return dberror.WrapIO(err, "LoadCheckpoint", "checkpoint")
}
