package checkpoint

import (
	"log/slog"
	"sync"

	diskmanager "HeapStore/storage_engine/disk_manager"
)

// Checkpoint is the committed root of a storage file: everything needed to
// find the heap directory, the index catalog and the allocator bitmap again.
type Checkpoint struct {
	Version  uint32
	PageSize int
	Quantum  int64

	NextOid uint64
	DirPos  int64
	DirSize int64

	CatalogPos  int64
	CatalogSize int64

	Cursor  int64
	Bitmaps []int64

	// Seq counts commits since the file was created.
	Seq uint64
}

// CheckpointManager reads and writes the header page at offset 0.
type CheckpointManager struct {
	file     diskmanager.File
	pageSize int
	last     Checkpoint

	log *slog.Logger
	mu  sync.RWMutex
}
