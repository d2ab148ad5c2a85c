package diskmanager

import (
	"fmt"
	"io"
	"os"
	"sync"

	"HeapStore/storage_engine/dberror"
)

/*
This is the backing store of the engine.

Everything above this package (bufferpool, allocator, heap, btree) sees the
store only through the File contract: byte range reads and writes at absolute
offsets, the current length, a durability barrier and advisory locking.
Any wrapper honouring the contract (multi segment, encrypting, replicating)
can be slotted in without touching the core.

Reads past the end of the store return io.EOF with a short count; the page
cache zero fills the remainder, so freshly allocated pages never need to be
written before they are read.
*/

// File is the byte range store consumed by the page cache.
type File interface {
	io.ReaderAt
	io.WriterAt
	Length() (int64, error)
	Sync() error
	// Lock blocks until an advisory lock is held. shared selects a reader lock.
	Lock(shared bool) error
	// TryLock returns false instead of blocking when the lock is taken.
	TryLock(shared bool) (bool, error)
	Unlock() error
	Close() error
}

// OSFile is a File backed by an operating system file.
type OSFile struct {
	path   string
	file   *os.File
	locked bool
	mu     sync.RWMutex
}

// OpenFile opens or creates the file at path.
func OpenFile(path string, readOnly bool) (*OSFile, error) {
	flag := os.O_RDWR | os.O_CREATE
	if readOnly {
		flag = os.O_RDONLY
	}
	file, err := os.OpenFile(path, flag, 0644)
	if err != nil {
		return nil, dberror.WrapIO(fmt.Errorf("failed to open file %s: %w", path, err), "OpenFile", "diskmanager")
	}
	return &OSFile{path: path, file: file}, nil
}

// Path returns the path the file was opened with.
func (f *OSFile) Path() string {
	return f.path
}

func (f *OSFile) ReadAt(p []byte, off int64) (int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.file == nil {
		return 0, dberror.New(dberror.KindClosed, "ReadAt", "diskmanager", "file %s is closed", f.path)
	}
	n, err := f.file.ReadAt(p, off)
	if err != nil && err != io.EOF {
		return n, dberror.WrapIO(fmt.Errorf("failed to read %d bytes at %d: %w", len(p), off, err), "ReadAt", "diskmanager")
	}
	return n, err
}

func (f *OSFile) WriteAt(p []byte, off int64) (int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.file == nil {
		return 0, dberror.New(dberror.KindClosed, "WriteAt", "diskmanager", "file %s is closed", f.path)
	}
	n, err := f.file.WriteAt(p, off)
	if err != nil {
		return n, dberror.WrapIO(fmt.Errorf("failed to write %d bytes at %d: %w", len(p), off, err), "WriteAt", "diskmanager")
	}
	return n, nil
}

func (f *OSFile) Length() (int64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.file == nil {
		return 0, dberror.New(dberror.KindClosed, "Length", "diskmanager", "file %s is closed", f.path)
	}
	stat, err := f.file.Stat()
	if err != nil {
		return 0, dberror.WrapIO(fmt.Errorf("failed to stat file: %w", err), "Length", "diskmanager")
	}
	return stat.Size(), nil
}

func (f *OSFile) Sync() error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.file == nil {
		return dberror.New(dberror.KindClosed, "Sync", "diskmanager", "file %s is closed", f.path)
	}
	if err := f.file.Sync(); err != nil {
		return dberror.WrapIO(fmt.Errorf("failed to sync file %s: %w", f.path, err), "Sync", "diskmanager")
	}
	return nil
}

func (f *OSFile) Lock(shared bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.file == nil {
		return dberror.New(dberror.KindClosed, "Lock", "diskmanager", "file %s is closed", f.path)
	}
	if err := lockFile(f.file, shared, true); err != nil {
		return dberror.WrapIO(err, "Lock", "diskmanager")
	}
	f.locked = true
	return nil
}

func (f *OSFile) TryLock(shared bool) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.file == nil {
		return false, dberror.New(dberror.KindClosed, "TryLock", "diskmanager", "file %s is closed", f.path)
	}
	err := lockFile(f.file, shared, false)
	if err == errWouldBlock {
		return false, nil
	}
	if err != nil {
		return false, dberror.WrapIO(err, "TryLock", "diskmanager")
	}
	f.locked = true
	return true, nil
}

func (f *OSFile) Unlock() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.file == nil || !f.locked {
		return nil
	}
	if err := unlockFile(f.file); err != nil {
		return dberror.WrapIO(err, "Unlock", "diskmanager")
	}
	f.locked = false
	return nil
}

// Close releases any lock and closes the descriptor. Closing twice is a no-op.
func (f *OSFile) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.file == nil {
		return nil
	}
	if f.locked {
		_ = unlockFile(f.file)
		f.locked = false
	}
	err := f.file.Close()
	f.file = nil
	if err != nil {
		return dberror.WrapIO(fmt.Errorf("failed to close file: %w", err), "Close", "diskmanager")
	}
	return nil
}
