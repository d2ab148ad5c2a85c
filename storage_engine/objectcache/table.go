// Package objectcache keeps the resident instances of stored objects so that
// loading the same oid twice yields the same instance.
//
// Three retention policies share one contract:
//
//	Weak   instances stay resident while the application references them
//	Soft   up to SoftCapacity instances stay resident, least valuable dropped first
//	Strong instances stay resident until removed
//
// Whatever the policy, an instance marked dirty is pinned until it is flushed
// or explicitly cleared, so unsaved changes are never lost to the collector.
package objectcache

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"weak"

	"github.com/dgraph-io/ristretto/v2"

	"HeapStore/logging"
	"HeapStore/types"
)

type Policy int

const (
	Weak Policy = iota
	Soft
	Strong
)

func (p Policy) String() string {
	switch p {
	case Weak:
		return "weak"
	case Soft:
		return "soft"
	case Strong:
		return "strong"
	}
	return fmt.Sprintf("policy(%d)", int(p))
}

// ParsePolicy accepts the names printed by Policy.String.
func ParsePolicy(s string) (Policy, error) {
	for _, p := range []Policy{Weak, Soft, Strong} {
		if p.String() == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown object cache policy %q", s)
}

// Store writes dirty instances back and refreshes resident ones.
type Store[T any] interface {
	Store(oid types.Oid, obj *T) error
	Reload(oid types.Oid, obj *T) error
}

type Options struct {
	Policy       Policy
	SoftCapacity int64
	// CompactEvery is the number of puts between sweeps of dead weak entries.
	CompactEvery int
}

func DefaultOptions() Options {
	return Options{Policy: Weak, SoftCapacity: 4096, CompactEvery: 1024}
}

type Table[T any] struct {
	opts  Options
	store Store[T]

	weak   map[types.Oid]weak.Pointer[T]
	strong map[types.Oid]*T
	soft   *ristretto.Cache[uint64, *T]
	// ristretto cannot be iterated; softKeys remembers what may be in it
	softKeys map[types.Oid]struct{}

	dirty map[types.Oid]*T
	puts  int

	log *slog.Logger
	mu  sync.Mutex
}

func New[T any](store Store[T], opts Options) (*Table[T], error) {
	if opts.CompactEvery <= 0 {
		opts.CompactEvery = DefaultOptions().CompactEvery
	}
	t := &Table[T]{
		opts:  opts,
		store: store,
		dirty: make(map[types.Oid]*T),
		log:   logging.WithComponent("objectcache"),
	}
	switch opts.Policy {
	case Weak:
		t.weak = make(map[types.Oid]weak.Pointer[T])
	case Strong:
		t.strong = make(map[types.Oid]*T)
	case Soft:
		if opts.SoftCapacity <= 0 {
			return nil, fmt.Errorf("soft object cache needs a positive capacity, got %d", opts.SoftCapacity)
		}
		cache, err := ristretto.NewCache(&ristretto.Config[uint64, *T]{
			NumCounters:        opts.SoftCapacity * 10,
			MaxCost:            opts.SoftCapacity,
			BufferItems:        64,
			IgnoreInternalCost: true,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create soft object cache: %w", err)
		}
		t.soft = cache
		t.softKeys = make(map[types.Oid]struct{})
	default:
		return nil, fmt.Errorf("unknown object cache policy %d", opts.Policy)
	}
	return t, nil
}

func (t *Table[T]) Policy() Policy {
	return t.opts.Policy
}

// Put makes obj the resident instance of oid.
func (t *Table[T]) Put(oid types.Oid, obj *T) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.put(oid, obj)
}

func (t *Table[T]) put(oid types.Oid, obj *T) {
	switch t.opts.Policy {
	case Weak:
		t.weak[oid] = weak.Make(obj)
		t.puts++
		if t.puts%t.opts.CompactEvery == 0 {
			t.compact()
		}
	case Strong:
		t.strong[oid] = obj
	case Soft:
		t.softKeys[oid] = struct{}{}
		if t.soft.Set(oid, obj, 1) {
			t.soft.Wait()
		}
	}
}

// Get returns the resident instance of oid.
func (t *Table[T]) Get(oid types.Oid) (*T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.get(oid)
}

func (t *Table[T]) get(oid types.Oid) (*T, bool) {
	if obj, ok := t.dirty[oid]; ok {
		return obj, true
	}
	switch t.opts.Policy {
	case Weak:
		wp, ok := t.weak[oid]
		if !ok {
			return nil, false
		}
		if obj := wp.Value(); obj != nil {
			return obj, true
		}
		delete(t.weak, oid)
	case Strong:
		obj, ok := t.strong[oid]
		return obj, ok
	case Soft:
		if obj, ok := t.soft.Get(oid); ok {
			return obj, true
		}
		delete(t.softKeys, oid)
	}
	return nil, false
}

// Remove drops oid, dirty or not. It reports whether an instance was resident.
func (t *Table[T]) Remove(oid types.Oid) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, found := t.get(oid)
	delete(t.dirty, oid)
	switch t.opts.Policy {
	case Weak:
		delete(t.weak, oid)
	case Strong:
		delete(t.strong, oid)
	case Soft:
		delete(t.softKeys, oid)
		t.soft.Del(oid)
	}
	return found
}

// SetDirty records that obj has unsaved changes and pins it until Flush.
func (t *Table[T]) SetDirty(oid types.Oid, obj *T) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dirty[oid] = obj
	t.put(oid, obj)
}

// ClearDirty unpins oid without saving it.
func (t *Table[T]) ClearDirty(oid types.Oid) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.dirty, oid)
}

func (t *Table[T]) IsDirty(oid types.Oid) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.dirty[oid]
	return ok
}

// DirtyCount returns the number of pinned dirty instances.
func (t *Table[T]) DirtyCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.dirty)
}

// Flush stores every dirty instance in oid order. Instances stored
// successfully are unpinned; on error the rest stay dirty.
func (t *Table[T]) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, oid := range slices.Sorted(maps.Keys(t.dirty)) {
		if err := t.store.Store(oid, t.dirty[oid]); err != nil {
			return fmt.Errorf("failed to store object %d: %w", oid, err)
		}
		delete(t.dirty, oid)
	}
	return nil
}

// Invalidate forgets every resident instance, dirty ones included.
func (t *Table[T]) Invalidate() {
	t.mu.Lock()
	defer t.mu.Unlock()

	clear(t.dirty)
	switch t.opts.Policy {
	case Weak:
		clear(t.weak)
	case Strong:
		clear(t.strong)
	case Soft:
		t.soft.Clear()
		clear(t.softKeys)
	}
}

// Reload refreshes every resident instance from the store and drops pending
// changes. Instances that fail to reload (deleted since the last commit,
// for example) are logged and dropped; Reload itself does not fail on them.
func (t *Table[T]) Reload() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	clear(t.dirty)
	for _, oid := range t.residentOids() {
		obj, ok := t.get(oid)
		if !ok {
			continue
		}
		if err := t.store.Reload(oid, obj); err != nil {
			logging.WithError(t.log, err).Warn("dropping object that failed to reload", "oid", oid)
			switch t.opts.Policy {
			case Weak:
				delete(t.weak, oid)
			case Strong:
				delete(t.strong, oid)
			case Soft:
				delete(t.softKeys, oid)
				t.soft.Del(oid)
			}
		}
	}
	return nil
}

func (t *Table[T]) residentOids() []types.Oid {
	switch t.opts.Policy {
	case Weak:
		return slices.Sorted(maps.Keys(t.weak))
	case Strong:
		return slices.Sorted(maps.Keys(t.strong))
	default:
		return slices.Sorted(maps.Keys(t.softKeys))
	}
}

// Len returns the number of resident instances.
func (t *Table[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, oid := range t.residentOids() {
		if _, ok := t.get(oid); ok {
			n++
		}
	}
	for oid := range t.dirty {
		if !t.residentIn(oid) {
			n++
		}
	}
	return n
}

func (t *Table[T]) residentIn(oid types.Oid) bool {
	switch t.opts.Policy {
	case Weak:
		_, ok := t.weak[oid]
		return ok
	case Strong:
		_, ok := t.strong[oid]
		return ok
	default:
		_, ok := t.softKeys[oid]
		return ok
	}
}

// compact drops weak entries whose instance has been collected.
func (t *Table[T]) compact() {
	dropped := 0
	for oid, wp := range t.weak {
		if _, pinned := t.dirty[oid]; pinned {
			continue
		}
		if wp.Value() == nil {
			delete(t.weak, oid)
			dropped++
		}
	}
	if dropped > 0 {
		t.log.Debug("compacted weak entries", "dropped", dropped, "resident", len(t.weak))
	}
}

// Close releases the soft cache.
func (t *Table[T]) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.soft != nil {
		t.soft.Close()
		t.soft = nil
	}
}
