package indexfile

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"HeapStore/storage_engine/access/indexfile_manager/btree"
	"HeapStore/storage_engine/allocator"
	"HeapStore/storage_engine/bufferpool"
	"HeapStore/storage_engine/catalog"
	"HeapStore/storage_engine/dberror"
	diskmanager "HeapStore/storage_engine/disk_manager"
	"HeapStore/types"
)

const testPageSize = 512

type pageStore struct {
	*bufferpool.BufferPool
	alloc *allocator.Allocator
}

func (s *pageStore) AllocatePage() (int64, error) { return s.alloc.AllocatePage() }

func (s *pageStore) FreePage(pos int64) error {
	return s.alloc.Free(pos, int64(s.PageSize()))
}

func newManager(t *testing.T) (*IndexFileManager, *pageStore) {
	t.Helper()
	pool, err := bufferpool.NewBufferPool(diskmanager.NewMemFile(), bufferpool.Options{PageSize: testPageSize, Capacity: 32, Shards: 2})
	require.NoError(t, err)
	alloc, err := allocator.New(pool, allocator.Options{Base: testPageSize, Quantum: 16, PageSize: testPageSize, ExtensionPages: 1}, nil, 0)
	require.NoError(t, err)
	store := &pageStore{BufferPool: pool, alloc: alloc}
	return NewIndexFileManager(store, nil, nil), store
}

func newIndex(t *testing.T, spec Spec) *Index {
	t.Helper()
	ifm, _ := newManager(t)
	ix, err := ifm.CreateIndex(spec)
	require.NoError(t, err)
	return ix
}

func compound(t *testing.T, parts ...btree.Key) btree.Key {
	t.Helper()
	k, err := btree.CompoundKey(parts...)
	require.NoError(t, err)
	return k
}

func TestCaseInsensitiveLookup(t *testing.T) {
	unique := newIndex(t, Spec{Name: "by_name", KeyType: btree.KeyString, Unique: true, CaseInsensitive: true})
	require.NoError(t, unique.Put(btree.StringKey("Alice"), 1))

	oid, err := unique.Get(btree.StringKey("alice"))
	require.NoError(t, err)
	assert.Equal(t, types.Oid(1), oid)
	assert.True(t, errors.Is(unique.Put(btree.StringKey("ALICE"), 2), dberror.ErrKeyNotUnique))
	assert.Equal(t, uint64(1), unique.Size())

	multi := newIndex(t, Spec{Name: "names", KeyType: btree.KeyString, CaseInsensitive: true})
	require.NoError(t, multi.Put(btree.StringKey("Alice"), 1))
	require.NoError(t, multi.Put(btree.StringKey("ALICE"), 2))
	require.NoError(t, multi.Put(btree.StringKey("Bob"), 3))

	oids, err := multi.GetAll(btree.StringKey("alice"))
	require.NoError(t, err)
	assert.Equal(t, []types.Oid{1, 2}, oids)

	require.NoError(t, multi.Remove(btree.StringKey("aLiCe"), 2))
	oids, err = multi.GetAll(btree.StringKey("ALICE"))
	require.NoError(t, err)
	assert.Equal(t, []types.Oid{1}, oids)
}

func TestSetReplacesUniqueEntry(t *testing.T) {
	ix := newIndex(t, Spec{Name: "ids", KeyType: btree.KeyUint64, Unique: true})
	require.NoError(t, ix.Put(btree.Uint64Key(10), 1))
	require.NoError(t, ix.Set(btree.Uint64Key(10), 2))
	oid, err := ix.Get(btree.Uint64Key(10))
	require.NoError(t, err)
	assert.Equal(t, types.Oid(2), oid)
	assert.Equal(t, uint64(1), ix.Size())

	found, err := ix.Contains(btree.Uint64Key(11))
	require.NoError(t, err)
	assert.False(t, found)
	_, err = ix.Get(btree.Uint64Key(11))
	assert.True(t, errors.Is(err, dberror.ErrKeyNotFound))
}

func TestKeyShapeChecked(t *testing.T) {
	ix := newIndex(t, Spec{
		Name:       "by_owner_day",
		KeyType:    btree.KeyCompound,
		Components: []btree.KeyType{btree.KeyString, btree.KeyInt32},
	})
	require.NoError(t, ix.Put(compound(t, btree.StringKey("ann"), btree.Int32Key(1)), 1))

	tests := []struct {
		name string
		key  btree.Key
	}{
		{"scalar key", btree.StringKey("ann")},
		{"partial key", compound(t, btree.StringKey("ann"))},
		{"wrong component type", compound(t, btree.StringKey("ann"), btree.Int64Key(1))},
		{"too many components", compound(t, btree.StringKey("ann"), btree.Int32Key(1), btree.BoolKey(true))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ix.Put(tt.key, 9)
			assert.True(t, errors.Is(err, dberror.ErrIncompatibleKeyType), "got %v", err)
		})
	}
	assert.Equal(t, uint64(1), ix.Size(), "rejected keys leave the index unchanged")

	oid, err := ix.Get(compound(t, btree.StringKey("ann")))
	require.NoError(t, err, "lookups accept a partial key")
	assert.Equal(t, types.Oid(1), oid)

	_, err = newManagerIndex(t, Spec{Name: "bad", KeyType: btree.KeyInt32, Components: []btree.KeyType{btree.KeyInt32}})
	assert.True(t, errors.Is(err, dberror.ErrIncompatibleKeyType))
}

func newManagerIndex(t *testing.T, spec Spec) (*Index, error) {
	ifm, _ := newManager(t)
	return ifm.CreateIndex(spec)
}

func TestPrefixSearch(t *testing.T) {
	words := newIndex(t, Spec{Name: "words", KeyType: btree.KeyString, CaseInsensitive: true})
	for i, w := range []string{"banana", "Apple", "app", "apply", "ap", "b"} {
		require.NoError(t, words.Put(btree.StringKey(w), types.Oid(i+1)))
	}
	entries, err := words.Prefix(btree.StringKey("APP"))
	require.NoError(t, err)
	var got []string
	for _, e := range entries {
		got = append(got, e.Key.Value().(string))
	}
	assert.Equal(t, []string{"app", "apple", "apply"}, got)

	visits := newIndex(t, Spec{
		Name:            "visits",
		KeyType:         btree.KeyCompound,
		Components:      []btree.KeyType{btree.KeyString, btree.KeyInt32},
		CaseInsensitive: true,
	})
	for day := int32(1); day <= 4; day++ {
		require.NoError(t, visits.Put(compound(t, btree.StringKey("Ann"), btree.Int32Key(day)), types.Oid(day)))
		require.NoError(t, visits.Put(compound(t, btree.StringKey("Anna"), btree.Int32Key(day)), types.Oid(10+day)))
	}
	entries, err = visits.Prefix(compound(t, btree.StringKey("ANN")))
	require.NoError(t, err)
	assert.Len(t, entries, 4)

	it, err := visits.Range(
		btree.Inclusive(compound(t, btree.StringKey("ann"), btree.Int32Key(2))),
		btree.Exclusive(compound(t, btree.StringKey("ann"), btree.Int32Key(4))),
		btree.Descending)
	require.NoError(t, err)
	var oids []types.Oid
	for it.Next() {
		oids = append(oids, it.Oid())
	}
	require.NoError(t, it.Err())
	assert.Equal(t, []types.Oid{3, 2}, oids)

	ints := newIndex(t, Spec{Name: "ints", KeyType: btree.KeyInt64})
	_, err = ints.Prefix(btree.Int64Key(1))
	assert.True(t, errors.Is(err, dberror.ErrIncompatibleKeyType))
}

func TestNextKey(t *testing.T) {
	ix := newIndex(t, Spec{Name: "seq", KeyType: btree.KeyInt64, Unique: true})
	require.NoError(t, ix.Put(btree.Int64Key(5), 1))
	require.NoError(t, ix.Put(btree.Int64Key(9), 2))

	k, err := ix.NextKey()
	require.NoError(t, err)
	assert.Equal(t, btree.Int64Key(10), k)
	require.NoError(t, ix.Put(k, 3))
	k, err = ix.NextKey()
	require.NoError(t, err)
	assert.Equal(t, btree.Int64Key(11), k)

	str := newIndex(t, Spec{Name: "str", KeyType: btree.KeyString})
	_, err = str.NextKey()
	assert.True(t, errors.Is(err, dberror.ErrIncompatibleKeyType))
}

type person struct {
	Name string
	Age  int
}

func TestObjectsThroughExtractor(t *testing.T) {
	ix := newIndex(t, Spec{Name: "ages", KeyType: btree.KeyInt32})
	alice := &person{Name: "alice", Age: 31}

	err := ix.PutObject(alice, 1)
	assert.True(t, errors.Is(err, dberror.ErrAccessViolation), "no extractor installed")

	ix.SetExtractor(ExtractorFunc(func(obj any) (btree.Key, error) {
		p, ok := obj.(*person)
		if !ok {
			return btree.Key{}, fmt.Errorf("cannot index %T", obj)
		}
		return btree.Int32Key(int32(p.Age)), nil
	}))
	require.NoError(t, ix.PutObject(alice, 1))
	oid, err := ix.Get(btree.Int32Key(31))
	require.NoError(t, err)
	assert.Equal(t, types.Oid(1), oid)

	err = ix.PutObject("not a person", 2)
	assert.True(t, errors.Is(err, dberror.ErrAccessViolation))
	assert.ErrorContains(t, err, "cannot index string")

	require.NoError(t, ix.RemoveObject(alice, 1))
	assert.Equal(t, uint64(0), ix.Size())
}

func TestManagerPersistsThroughCatalog(t *testing.T) {
	ifm, store := newManager(t)
	ix, err := ifm.CreateIndex(Spec{Name: "Orders", KeyType: btree.KeyInt64, Unique: true})
	require.NoError(t, err)
	for k := int64(1); k <= 200; k++ {
		require.NoError(t, ix.Put(btree.Int64Key(k), types.Oid(k)))
	}
	_, err = ifm.CreateIndex(Spec{Name: "orders", KeyType: btree.KeyString})
	assert.True(t, errors.Is(err, dberror.ErrKeyNotUnique))

	require.NoError(t, ifm.Sync())
	data, err := ifm.Catalog().Encode()
	require.NoError(t, err)

	cat, err := catalog.Decode(data)
	require.NoError(t, err)
	reopened := NewIndexFileManager(store, cat, nil)
	assert.Equal(t, []string{"Orders"}, reopened.Indexes())

	again, err := reopened.GetOrOpenIndex("ORDERS")
	require.NoError(t, err)
	assert.Equal(t, uint64(200), again.Size())
	oid, err := again.Get(btree.Int64Key(150))
	require.NoError(t, err)
	assert.Equal(t, types.Oid(150), oid)

	stats, err := reopened.Stats()
	require.NoError(t, err)
	assert.Equal(t, map[string]uint64{"Orders": 200}, stats)

	require.NoError(t, reopened.DropIndex("orders"))
	assert.Empty(t, reopened.Indexes())
	_, err = reopened.GetOrOpenIndex("orders")
	assert.True(t, errors.Is(err, dberror.ErrKeyNotFound))

	require.NoError(t, store.alloc.Commit())
	st, err := store.alloc.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(st.BitmapPages)*testPageSize, st.Used, "dropped index pages are freed")
}

func TestResetKeepsExtractors(t *testing.T) {
	ifm, _ := newManager(t)
	ix, err := ifm.CreateIndex(Spec{Name: "ages", KeyType: btree.KeyInt32})
	require.NoError(t, err)
	ix.SetExtractor(ExtractorFunc(func(obj any) (btree.Key, error) {
		return btree.Int32Key(int32(obj.(*person).Age)), nil
	}))
	require.NoError(t, ifm.Sync())
	data, err := ifm.Catalog().Encode()
	require.NoError(t, err)

	require.NoError(t, ix.PutObject(&person{Age: 3}, 1))
	cat, err := catalog.Decode(data)
	require.NoError(t, err)
	ifm.Reset(cat)

	reopened, err := ifm.GetOrOpenIndex("ages")
	require.NoError(t, err)
	assert.NotSame(t, ix, reopened)
	assert.Equal(t, uint64(0), reopened.Size(), "state rolled back to the catalog")
	require.NoError(t, reopened.PutObject(&person{Age: 4}, 2), "extractor carried over")
}

func TestConcurrentPuts(t *testing.T) {
	ix := newIndex(t, Spec{Name: "parallel", KeyType: btree.KeyInt64})
	var g errgroup.Group
	for w := range 4 {
		g.Go(func() error {
			for i := range 100 {
				if err := ix.Put(btree.Int64Key(int64(i)), types.Oid(w*1000+i+1)); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, uint64(400), ix.Size())

	oids, err := ix.GetAll(btree.Int64Key(42))
	require.NoError(t, err)
	assert.Equal(t, []types.Oid{43, 1043, 2043, 3043}, oids)
}

type countingLocker struct {
	locks, held int
}

func (l *countingLocker) Lock()   { l.locks++; l.held++ }
func (l *countingLocker) Unlock() { l.held-- }

func TestOperationsHoldGuard(t *testing.T) {
	_, store := newManager(t)
	guard := &countingLocker{}
	ifm := NewIndexFileManager(store, nil, guard)
	ix, err := ifm.CreateIndex(Spec{Name: "ids", KeyType: btree.KeyInt64, Unique: true})
	require.NoError(t, err)

	require.NoError(t, ix.Put(btree.Int64Key(1), 10))
	_, err = ix.Get(btree.Int64Key(1))
	require.NoError(t, err)
	require.NoError(t, ix.Remove(btree.Int64Key(1), 10))
	require.NoError(t, ix.Verify())

	assert.Equal(t, 4, guard.locks)
	assert.Zero(t, guard.held, "every operation releases the guard")

	require.NoError(t, ix.Put(btree.Int64Key(2), 20))
	it, err := ix.Range(nil, nil, btree.Ascending)
	require.NoError(t, err)
	assert.Equal(t, 6, guard.locks)
	require.True(t, it.Next())
	assert.False(t, it.Next())
	require.NoError(t, it.Err())
	assert.Equal(t, 8, guard.locks, "each step of a range holds the guard")
	assert.Zero(t, guard.held)
}
