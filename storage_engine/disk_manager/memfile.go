package diskmanager

import (
	"io"
	"sync"

	"HeapStore/storage_engine/dberror"
)

// MemFile is an in-memory File. Locks are emulated per MemFile value so that
// several handles on the same MemFile contend like processes on a file.
type MemFile struct {
	mu     sync.RWMutex
	data   []byte
	closed bool

	lockMu    sync.Mutex
	lockCond  *sync.Cond
	readers   int
	exclusive bool

	// Writes counts WriteAt calls; tests use it to observe write-back.
	writes int64
	reads  int64
}

func NewMemFile() *MemFile {
	f := &MemFile{}
	f.lockCond = sync.NewCond(&f.lockMu)
	return f
}

func (f *MemFile) ReadAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return 0, dberror.New(dberror.KindClosed, "ReadAt", "diskmanager", "memory file is closed")
	}
	f.reads++
	if off >= int64(len(f.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *MemFile) WriteAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return 0, dberror.New(dberror.KindClosed, "WriteAt", "diskmanager", "memory file is closed")
	}
	f.writes++
	end := off + int64(len(p))
	if end > int64(len(f.data)) {
		if end > int64(cap(f.data)) {
			grown := make([]byte, end, max(end, int64(cap(f.data))*2))
			copy(grown, f.data)
			f.data = grown
		} else {
			f.data = f.data[:end]
		}
	}
	return copy(f.data[off:], p), nil
}

func (f *MemFile) Length() (int64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return int64(len(f.data)), nil
}

func (f *MemFile) Sync() error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return dberror.New(dberror.KindClosed, "Sync", "diskmanager", "memory file is closed")
	}
	return nil
}

// Stats returns the number of ReadAt and WriteAt calls served so far.
func (f *MemFile) Stats() (reads, writes int64) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.reads, f.writes
}

// Bytes returns a copy of the current contents.
func (f *MemFile) Bytes() []byte {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]byte, len(f.data))
	copy(out, f.data)
	return out
}

func (f *MemFile) Lock(shared bool) error {
	f.lockMu.Lock()
	defer f.lockMu.Unlock()
	for !f.lockable(shared) {
		f.lockCond.Wait()
	}
	f.acquire(shared)
	return nil
}

func (f *MemFile) TryLock(shared bool) (bool, error) {
	f.lockMu.Lock()
	defer f.lockMu.Unlock()
	if !f.lockable(shared) {
		return false, nil
	}
	f.acquire(shared)
	return true, nil
}

func (f *MemFile) lockable(shared bool) bool {
	if shared {
		return !f.exclusive
	}
	return !f.exclusive && f.readers == 0
}

func (f *MemFile) acquire(shared bool) {
	if shared {
		f.readers++
	} else {
		f.exclusive = true
	}
}

// Unlock releases the exclusive lock if held, otherwise one shared lock.
func (f *MemFile) Unlock() error {
	f.lockMu.Lock()
	defer f.lockMu.Unlock()
	switch {
	case f.exclusive:
		f.exclusive = false
	case f.readers > 0:
		f.readers--
	}
	f.lockCond.Broadcast()
	return nil
}

// Close marks the file closed. The contents are kept so that a test can
// reopen the same bytes with Reopen.
func (f *MemFile) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return f.Unlock()
}

// Reopen returns a fresh handle over a copy of the current contents.
func (f *MemFile) Reopen() *MemFile {
	g := NewMemFile()
	g.data = f.Bytes()
	return g
}
