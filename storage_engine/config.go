package storageengine

import (
	"fmt"
	"math/bits"
	"strings"

	"HeapStore/storage_engine/objectcache"
)

// LockMode selects the advisory lock taken on the storage file at open.
type LockMode int

const (
	LockNone LockMode = iota
	LockShared
	LockExclusive
)

func (m LockMode) String() string {
	switch m {
	case LockNone:
		return "none"
	case LockShared:
		return "shared"
	case LockExclusive:
		return "exclusive"
	}
	return fmt.Sprintf("lockmode(%d)", int(m))
}

func ParseLockMode(s string) (LockMode, error) {
	for _, m := range []LockMode{LockNone, LockShared, LockExclusive} {
		if strings.EqualFold(m.String(), s) {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown lock mode %q", s)
}

// Config tunes a Storage. Page size and quantum of an existing file are read
// from its header and override the configured values.
type Config struct {
	PageSize     int
	PoolCapacity int // pages
	PoolShards   int

	Quantum        int64
	ExtensionPages int
	// ArenaLimit caps the file size in bytes; 0 means unbounded. The header
	// page also bounds the arena, to about PageSize*PageSize*Quantum bytes
	// (248 MiB with the defaults); see Storage.Stats for the exact figure.
	ArenaLimit int64

	ObjectPolicy objectcache.Policy
	SoftCapacity int64

	LockMode LockMode
	ReadOnly bool
}

func DefaultConfig() Config {
	return Config{
		PageSize:       4096,
		PoolCapacity:   1024,
		PoolShards:     8,
		Quantum:        16,
		ExtensionPages: 4,
		ObjectPolicy:   objectcache.Weak,
		SoftCapacity:   4096,
		LockMode:       LockExclusive,
	}
}

func (c Config) Validate() error {
	switch {
	case c.PageSize < 512 || c.PageSize > 65536 || bits.OnesCount(uint(c.PageSize)) != 1:
		return fmt.Errorf("page size must be a power of two between 512 and 65536, got %d", c.PageSize)
	case c.PoolCapacity <= 0:
		return fmt.Errorf("pool capacity must be positive, got %d", c.PoolCapacity)
	case c.PoolShards <= 0 || c.PoolShards > c.PoolCapacity:
		return fmt.Errorf("pool shards must be between 1 and the pool capacity, got %d", c.PoolShards)
	case c.Quantum < 8 || c.Quantum > int64(c.PageSize/8) || bits.OnesCount64(uint64(c.Quantum)) != 1:
		return fmt.Errorf("quantum must be a power of two between 8 and an eighth of the page size, got %d", c.Quantum)
	case c.ExtensionPages <= 0:
		return fmt.Errorf("extension pages must be positive, got %d", c.ExtensionPages)
	case c.ArenaLimit < 0 || (c.ArenaLimit > 0 && c.ArenaLimit <= int64(c.PageSize)):
		return fmt.Errorf("arena limit %d leaves no room after the header page", c.ArenaLimit)
	case c.ObjectPolicy == objectcache.Soft && c.SoftCapacity <= 0:
		return fmt.Errorf("soft object policy needs a positive capacity, got %d", c.SoftCapacity)
	case c.LockMode < LockNone || c.LockMode > LockExclusive:
		return fmt.Errorf("unknown lock mode %d", c.LockMode)
	}
	return nil
}
