package objectcache

import (
	"errors"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"HeapStore/types"
)

type record struct {
	name string
}

// memStore keeps the last stored value of every oid.
type memStore struct {
	saved  map[types.Oid]string
	stored []types.Oid
	fail   error
}

func newMemStore() *memStore {
	return &memStore{saved: make(map[types.Oid]string)}
}

func (s *memStore) Store(oid types.Oid, obj *record) error {
	if s.fail != nil {
		return s.fail
	}
	s.saved[oid] = obj.name
	s.stored = append(s.stored, oid)
	return nil
}

func (s *memStore) Reload(oid types.Oid, obj *record) error {
	name, ok := s.saved[oid]
	if !ok {
		return errors.New("object is gone")
	}
	obj.name = name
	return nil
}

func newTable(t *testing.T, policy Policy, store *memStore) *Table[record] {
	t.Helper()
	tbl, err := New[record](store, Options{Policy: policy, SoftCapacity: 128, CompactEvery: 4})
	require.NoError(t, err)
	t.Cleanup(tbl.Close)
	return tbl
}

func TestSameInstanceForEveryPolicy(t *testing.T) {
	for _, policy := range []Policy{Weak, Soft, Strong} {
		t.Run(policy.String(), func(t *testing.T) {
			tbl := newTable(t, policy, newMemStore())
			obj := &record{name: "a"}
			tbl.Put(1, obj)

			got, ok := tbl.Get(1)
			require.True(t, ok)
			assert.Same(t, obj, got)
			assert.Equal(t, 1, tbl.Len())

			assert.True(t, tbl.Remove(1))
			_, ok = tbl.Get(1)
			assert.False(t, ok)
			assert.False(t, tbl.Remove(1))
			runtime.KeepAlive(obj)
		})
	}
}

func putUnreferenced(tbl *Table[record], oid types.Oid, dirty bool) {
	obj := &record{name: "temp"}
	if dirty {
		tbl.SetDirty(oid, obj)
	} else {
		tbl.Put(oid, obj)
	}
}

func collected(tbl *Table[record], oid types.Oid) bool {
	for range 10 {
		runtime.GC()
		if _, ok := tbl.Get(oid); !ok {
			return true
		}
	}
	return false
}

func TestWeakEntriesAreCollected(t *testing.T) {
	tbl := newTable(t, Weak, newMemStore())
	putUnreferenced(tbl, 7, false)
	assert.True(t, collected(tbl, 7))
}

func TestDirtyInstancesArePinned(t *testing.T) {
	store := newMemStore()
	tbl := newTable(t, Weak, store)
	putUnreferenced(tbl, 7, true)

	assert.False(t, collected(tbl, 7), "dirty instance must survive collection")
	assert.True(t, tbl.IsDirty(7))

	require.NoError(t, tbl.Flush())
	assert.Equal(t, "temp", store.saved[7])
	assert.False(t, tbl.IsDirty(7))
	assert.True(t, collected(tbl, 7), "flushed instance is reclaimable again")
}

func TestFlushOrderAndFailure(t *testing.T) {
	store := newMemStore()
	tbl := newTable(t, Strong, store)
	for _, oid := range []types.Oid{9, 2, 5} {
		tbl.SetDirty(oid, &record{name: "x"})
	}
	require.NoError(t, tbl.Flush())
	assert.Equal(t, []types.Oid{2, 5, 9}, store.stored)
	assert.Equal(t, 0, tbl.DirtyCount())

	store.fail = errors.New("disk full")
	tbl.SetDirty(3, &record{name: "y"})
	assert.Error(t, tbl.Flush())
	assert.True(t, tbl.IsDirty(3))

	tbl.ClearDirty(3)
	assert.False(t, tbl.IsDirty(3))
}

func TestReloadDropsFailures(t *testing.T) {
	for _, policy := range []Policy{Weak, Soft, Strong} {
		t.Run(policy.String(), func(t *testing.T) {
			store := newMemStore()
			store.saved[1] = "committed"
			tbl := newTable(t, policy, store)

			kept := &record{name: "changed"}
			gone := &record{name: "new"}
			tbl.SetDirty(1, kept)
			tbl.SetDirty(2, gone)

			require.NoError(t, tbl.Reload())
			assert.Equal(t, "committed", kept.name)
			assert.Equal(t, 0, tbl.DirtyCount())

			got, ok := tbl.Get(1)
			require.True(t, ok)
			assert.Same(t, kept, got)
			_, ok = tbl.Get(2)
			assert.False(t, ok, "object that failed to reload is dropped")
			runtime.KeepAlive(gone)
		})
	}
}

func TestInvalidate(t *testing.T) {
	tbl := newTable(t, Soft, newMemStore())
	obj := &record{}
	tbl.Put(1, obj)
	tbl.SetDirty(2, obj)
	tbl.Invalidate()

	_, ok := tbl.Get(1)
	assert.False(t, ok)
	assert.False(t, tbl.IsDirty(2))
	assert.Equal(t, 0, tbl.Len())
}

func TestCompactSweepsDeadEntries(t *testing.T) {
	tbl := newTable(t, Weak, newMemStore())
	for oid := types.Oid(1); oid <= 3; oid++ {
		putUnreferenced(tbl, oid, false)
	}
	runtime.GC()
	runtime.GC()

	live := &record{}
	tbl.Put(4, live) // fourth put triggers a sweep

	tbl.mu.Lock()
	remaining := len(tbl.weak)
	tbl.mu.Unlock()
	assert.Equal(t, 1, remaining, "collected entries are swept")
	_, ok := tbl.Get(4)
	assert.True(t, ok)
	runtime.KeepAlive(live)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("soft")
	require.NoError(t, err)
	assert.Equal(t, Soft, p)
	_, err = ParsePolicy("lukewarm")
	assert.Error(t, err)

	_, err = New[record](newMemStore(), Options{Policy: Soft})
	assert.Error(t, err, "soft policy needs a capacity")
}
