package storageengine

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"

	"HeapStore/logging"
	heapfile "HeapStore/storage_engine/access/heapfile_manager"
	indexfile "HeapStore/storage_engine/access/indexfile_manager"
	"HeapStore/storage_engine/allocator"
	"HeapStore/storage_engine/bufferpool"
	"HeapStore/storage_engine/catalog"
	checkpoint "HeapStore/storage_engine/checkpoint_manager"
	"HeapStore/storage_engine/dberror"
	diskmanager "HeapStore/storage_engine/disk_manager"
	"HeapStore/storage_engine/objectcache"
	"HeapStore/types"
)

/*
The main file of the storage engine. It opens the storage file and wires one
instance of every collaborator around it:

	file -> buffer pool -> allocator -> heap, index trees
	                                      \-> object table (resident records)

The header page at offset 0 is owned by the checkpoint manager; the arena the
allocator manages starts right after it.
*/

// Open opens or creates the storage file at path.
func Open(path string, cfg Config) (*Storage, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	file, err := diskmanager.OpenFile(path, cfg.ReadOnly)
	if err != nil {
		return nil, err
	}
	s, err := OpenFile(file, cfg)
	if err != nil {
		file.Close()
		return nil, err
	}
	return s, nil
}

// OpenFile opens a storage over file. On success the Storage owns the file
// and closes it in Close; on failure the caller keeps it.
func OpenFile(file diskmanager.File, cfg Config) (*Storage, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := logging.WithComponent("storage")

	locked, err := lock(file, cfg.LockMode)
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*Storage, error) {
		if locked {
			file.Unlock()
		}
		return nil, err
	}

	checkpoints, err := checkpoint.NewCheckpointManager(file, cfg.PageSize)
	if err != nil {
		return fail(err)
	}
	cp, found, err := checkpoints.LoadCheckpoint()
	if err != nil {
		return fail(err)
	}
	if found {
		if cp.PageSize != cfg.PageSize || cp.Quantum != cfg.Quantum {
			log.Info("using page size and quantum recorded in the file",
				"page_size", cp.PageSize, "quantum", cp.Quantum)
		}
		cfg.PageSize, cfg.Quantum = cp.PageSize, cp.Quantum
	} else {
		if cfg.ReadOnly {
			return fail(dberror.New(dberror.KindAccessViolation, "Open", "storage",
				"cannot initialize an empty storage file in read-only mode"))
		}
		cp = checkpoint.Checkpoint{PageSize: cfg.PageSize, Quantum: cfg.Quantum, NextOid: 1}
	}

	pool, err := bufferpool.NewBufferPool(file, bufferpool.Options{
		PageSize: cfg.PageSize,
		Capacity: cfg.PoolCapacity,
		Shards:   cfg.PoolShards,
	})
	if err != nil {
		return fail(err)
	}
	alloc, err := allocator.New(pool, allocator.Options{
		Base:           int64(cfg.PageSize),
		Limit:          cfg.ArenaLimit,
		Quantum:        cfg.Quantum,
		PageSize:       int64(cfg.PageSize),
		ExtensionPages: cfg.ExtensionPages,
		MaxBitmapPages: checkpoint.MaxBitmapPages(cfg.PageSize),
	}, cp.Bitmaps, cp.Cursor)
	if err != nil {
		return fail(err)
	}
	heap, err := heapfile.Open(pool, alloc, heapState(cp))
	if err != nil {
		return fail(fmt.Errorf("failed to open object heap: %w", err))
	}
	objects, err := objectcache.New[Record](recordStore{heap: heap}, objectcache.Options{
		Policy:       cfg.ObjectPolicy,
		SoftCapacity: cfg.SoftCapacity,
	})
	if err != nil {
		return fail(err)
	}

	s := &Storage{
		cfg:         cfg,
		file:        file,
		pool:        pool,
		alloc:       alloc,
		heap:        heap,
		objects:     objects,
		checkpoints: checkpoints,
		catalogPos:  cp.CatalogPos,
		catalogSize: cp.CatalogSize,
		log:         log,
	}
	cat, err := s.loadCatalog(cp)
	if err != nil {
		objects.Close()
		return fail(err)
	}
	s.indexes = indexfile.NewIndexFileManager(pageStore{BufferPool: pool, alloc: alloc}, cat, s.mu.RLocker())

	if !found {
		if err := s.commit(); err != nil {
			objects.Close()
			return fail(fmt.Errorf("failed to initialize storage file: %w", err))
		}
	}
	log.Info("storage opened", "page_size", cfg.PageSize, "seq", cp.Seq,
		"objects", heap.Len(), "indexes", len(cat.Indexes()), "lock", cfg.LockMode,
		"max_arena", humanize.IBytes(uint64(alloc.MaxArena())))
	return s, nil
}

func lock(file diskmanager.File, mode LockMode) (bool, error) {
	if mode == LockNone {
		return false, nil
	}
	ok, err := file.TryLock(mode == LockShared)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, dberror.New(dberror.KindAccessViolation, "Open", "storage",
			"storage file is locked by another user (%s lock requested)", mode)
	}
	return true, nil
}

func heapState(cp checkpoint.Checkpoint) heapfile.State {
	return heapfile.State{NextOid: types.Oid(cp.NextOid), DirPos: cp.DirPos, DirSize: cp.DirSize}
}

func (s *Storage) loadCatalog(cp checkpoint.Checkpoint) (*catalog.CatalogManager, error) {
	if cp.CatalogPos == 0 {
		return catalog.NewCatalogManager(), nil
	}
	data, err := s.heap.LoadBlob(cp.CatalogPos, cp.CatalogSize, types.TypeIndexCatalog)
	if err != nil {
		return nil, fmt.Errorf("failed to load index catalog: %w", err)
	}
	return catalog.Decode(data)
}

// Close commits pending changes (unless read-only) and closes the file.
// Closing twice is a no-op.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	var errs []error
	if !s.cfg.ReadOnly {
		if err := s.commit(); err != nil {
			errs = append(errs, fmt.Errorf("failed to commit on close: %w", err))
		}
	}
	s.objects.Close()
	if err := s.file.Close(); err != nil {
		errs = append(errs, err)
	}
	s.closed = true
	s.log.Info("storage closed")
	return errors.Join(errs...)
}

func (s *Storage) checkOpen(op string) error {
	if s.closed {
		return dberror.New(dberror.KindClosed, op, "storage", "storage is closed")
	}
	return nil
}

func (s *Storage) Config() Config {
	return s.cfg
}
