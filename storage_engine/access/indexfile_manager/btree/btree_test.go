package btree

import (
	"cmp"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"HeapStore/storage_engine/allocator"
	"HeapStore/storage_engine/bufferpool"
	"HeapStore/storage_engine/dberror"
	diskmanager "HeapStore/storage_engine/disk_manager"
	"HeapStore/types"
)

// pageStore joins a pool and an allocator the way the storage root does.
type pageStore struct {
	*bufferpool.BufferPool
	alloc *allocator.Allocator
}

func (s *pageStore) AllocatePage() (int64, error) { return s.alloc.AllocatePage() }

func (s *pageStore) FreePage(pos int64) error {
	return s.alloc.Free(pos, int64(s.PageSize()))
}

func newStore(t *testing.T, pageSize int) *pageStore {
	t.Helper()
	pool, err := bufferpool.NewBufferPool(diskmanager.NewMemFile(), bufferpool.Options{PageSize: pageSize, Capacity: 64, Shards: 2})
	require.NoError(t, err)
	alloc, err := allocator.New(pool, allocator.Options{
		Base:           int64(pageSize),
		Quantum:        16,
		PageSize:       int64(pageSize),
		ExtensionPages: 1,
	}, nil, 0)
	require.NoError(t, err)
	return &pageStore{BufferPool: pool, alloc: alloc}
}

func newTree(t *testing.T, pageSize int, kt KeyType, unique bool) (*Tree, *pageStore) {
	t.Helper()
	store := newStore(t, pageSize)
	tree, err := Create(store, kt, unique)
	require.NoError(t, err)
	return tree, store
}

func ints(t *testing.T, tree *Tree, lo, hi *Bound, order Order) []int64 {
	t.Helper()
	entries, err := tree.Entries(lo, hi, order)
	require.NoError(t, err)
	out := make([]int64, len(entries))
	for i, e := range entries {
		out[i] = e.Key.Value().(int64)
	}
	return out
}

// assertNoLeakedPages checks that only the bitmap pages remain allocated.
func assertNoLeakedPages(t *testing.T, store *pageStore) {
	t.Helper()
	require.NoError(t, store.alloc.Commit())
	st, err := store.alloc.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(st.BitmapPages)*int64(store.PageSize()), st.Used, "btree pages leaked")
}

func TestSplitGrowsHeightByOne(t *testing.T) {
	// 112 byte item area holds 7 int64 entries
	tree, _ := newTree(t, 128, KeyInt64, true)

	splitSeen := false
	for _, k := range []int64{5, 3, 8, 1, 4, 7, 9, 2, 6} {
		before := tree.Height()
		require.NoError(t, tree.Insert(Int64Key(k), types.Oid(k*10), false))
		after := tree.Height()
		if before > 0 && after != before {
			assert.False(t, splitSeen, "only one root split expected")
			assert.Equal(t, before+1, after)
			splitSeen = true
		}
	}
	assert.True(t, splitSeen)
	assert.Equal(t, 2, tree.Height())
	assert.Equal(t, uint64(9), tree.Size())
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7, 8, 9}, ints(t, tree, nil, nil, Ascending))

	oid, err := tree.Get(Int64Key(7))
	require.NoError(t, err)
	assert.Equal(t, types.Oid(70), oid)
}

func TestInsertThenRemoveAll(t *testing.T) {
	tree, store := newTree(t, 256, KeyInt64, true)
	rng := rand.New(rand.NewPCG(7, 11))

	const n = 600
	keys := make([]int64, n)
	for i, p := range rng.Perm(n) {
		keys[i] = int64(p)*3 - 500
	}
	for _, k := range keys {
		require.NoError(t, tree.Insert(Int64Key(k), types.Oid(k+1000), false))
	}
	require.Equal(t, uint64(n), tree.Size())
	assert.Greater(t, tree.Height(), 2)
	require.NoError(t, tree.Verify())

	sorted := slices.Sorted(slices.Values(keys))
	assert.Equal(t, sorted, ints(t, tree, nil, nil, Ascending))
	reversed := slices.Clone(sorted)
	slices.Reverse(reversed)
	assert.Equal(t, reversed, ints(t, tree, nil, nil, Descending))

	order := rng.Perm(n)
	for i, p := range order {
		k := keys[p]
		require.NoError(t, tree.Remove(Int64Key(k), types.Oid(k+1000)), "remove %d", k)
		if i == n/2 {
			var rest []int64
			for _, q := range order[i+1:] {
				rest = append(rest, keys[q])
			}
			slices.Sort(rest)
			assert.Equal(t, rest, ints(t, tree, nil, nil, Ascending))
			require.NoError(t, tree.Verify())
		}
	}

	assert.Equal(t, uint64(0), tree.Size())
	assert.Equal(t, 0, tree.Height())
	assert.Equal(t, int64(0), tree.Meta().Root)
	assert.Empty(t, ints(t, tree, nil, nil, Ascending))
	assertNoLeakedPages(t, store)
}

func TestUniqueRejectsDuplicates(t *testing.T) {
	tree, _ := newTree(t, 256, KeyInt32, true)
	require.NoError(t, tree.Insert(Int32Key(1), 10, false))

	err := tree.Insert(Int32Key(1), 11, false)
	assert.True(t, errors.Is(err, dberror.ErrKeyNotUnique))
	assert.Equal(t, uint64(1), tree.Size())

	require.NoError(t, tree.Insert(Int32Key(1), 11, true))
	assert.Equal(t, uint64(1), tree.Size())
	oid, err := tree.Get(Int32Key(1))
	require.NoError(t, err)
	assert.Equal(t, types.Oid(11), oid)

	err = tree.Remove(Int32Key(1), 10)
	assert.True(t, errors.Is(err, dberror.ErrKeyNotFound), "stale oid must not match")
}

func TestNonUniqueKeepsDuplicates(t *testing.T) {
	tree, _ := newTree(t, 128, KeyInt64, false)
	for _, oid := range []types.Oid{3, 1, 2} {
		require.NoError(t, tree.Insert(Int64Key(7), oid, false))
	}
	for k := int64(0); k < 20; k++ {
		require.NoError(t, tree.Insert(Int64Key(k), types.Oid(100+k), false))
	}

	oids, err := tree.Find(Int64Key(7))
	require.NoError(t, err)
	assert.Equal(t, []types.Oid{1, 2, 3, 107}, oids)

	_, err = tree.Get(Int64Key(7))
	assert.True(t, errors.Is(err, dberror.ErrKeyNotUnique))
	assert.True(t, errors.Is(tree.Insert(Int64Key(7), 2, false), dberror.ErrKeyNotUnique), "identical pair")

	require.NoError(t, tree.Remove(Int64Key(7), 2))
	oids, err = tree.Find(Int64Key(7))
	require.NoError(t, err)
	assert.Equal(t, []types.Oid{1, 3, 107}, oids)

	assert.True(t, errors.Is(tree.Remove(Int64Key(7), 99), dberror.ErrKeyNotFound))
	assert.True(t, errors.Is(tree.Remove(Int64Key(500), 1), dberror.ErrKeyNotFound))
	assert.Equal(t, uint64(22), tree.Size())
}

func TestRangeBounds(t *testing.T) {
	tree, _ := newTree(t, 128, KeyInt64, true)
	for k := int64(1); k <= 100; k++ {
		require.NoError(t, tree.Insert(Int64Key(k), types.Oid(k), false))
	}
	seq := func(from, to int64) []int64 {
		var out []int64
		if from <= to {
			for k := from; k <= to; k++ {
				out = append(out, k)
			}
		} else {
			for k := from; k >= to; k-- {
				out = append(out, k)
			}
		}
		return out
	}

	tests := []struct {
		name   string
		lo, hi *Bound
		order  Order
		want   []int64
	}{
		{"inclusive both", Inclusive(Int64Key(10)), Inclusive(Int64Key(20)), Ascending, seq(10, 20)},
		{"exclusive both", Exclusive(Int64Key(10)), Exclusive(Int64Key(20)), Ascending, seq(11, 19)},
		{"descending inclusive", Inclusive(Int64Key(10)), Inclusive(Int64Key(20)), Descending, seq(20, 10)},
		{"descending exclusive", Exclusive(Int64Key(10)), Exclusive(Int64Key(20)), Descending, seq(19, 11)},
		{"open low", nil, Exclusive(Int64Key(5)), Ascending, seq(1, 4)},
		{"open high descending", Inclusive(Int64Key(96)), nil, Descending, seq(100, 96)},
		{"below everything", nil, Exclusive(Int64Key(1)), Ascending, nil},
		{"above everything", Exclusive(Int64Key(100)), nil, Ascending, nil},
		{"above everything descending", Inclusive(Int64Key(101)), nil, Descending, nil},
		{"outside on both sides", Inclusive(Int64Key(-5)), Inclusive(Int64Key(500)), Descending, seq(100, 1)},
		{"empty range", Exclusive(Int64Key(50)), Exclusive(Int64Key(51)), Ascending, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ints(t, tree, tt.lo, tt.hi, tt.order)
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

// modelEntry is one (key, oid) pair of the sorted reference slice the
// randomized tests check the tree against.
type modelEntry struct {
	k   int
	oid types.Oid
}

type keyMaker func(int) Key

func stringKeys(k int) Key { return StringKey(fmt.Sprintf("k%04d", k)) }
func int64Keys(k int) Key  { return Int64Key(int64(k)) }

// checkRanges runs random ranges over the tree and compares each result with
// the model. Bounds are drawn from odd and even values alike; stored keys
// are even, so about half the bounds are absent from the tree.
func checkRanges(t *testing.T, rng *rand.Rand, tree *Tree, model []modelEntry, mk keyMaker) {
	t.Helper()
	bound := func() (*Bound, int, bool) {
		if rng.IntN(6) == 0 {
			return nil, 0, false
		}
		v := rng.IntN(830)
		if rng.IntN(2) == 0 {
			return Inclusive(mk(v)), v, true
		}
		return Exclusive(mk(v)), v, false
	}
	for range 25 {
		lo, lv, loIncl := bound()
		hi, hv, hiIncl := bound()
		var want []Entry
		for _, m := range model {
			if lo != nil && (m.k < lv || m.k == lv && !loIncl) {
				continue
			}
			if hi != nil && (m.k > hv || m.k == hv && !hiIncl) {
				continue
			}
			want = append(want, Entry{Key: mk(m.k), Oid: m.oid})
		}
		for _, order := range []Order{Ascending, Descending} {
			got, err := tree.Entries(lo, hi, order)
			require.NoError(t, err)
			expected := slices.Clone(want)
			if order == Descending {
				slices.Reverse(expected)
			}
			if len(expected) == 0 {
				assert.Empty(t, got, "lo=%v hi=%v %s", lo, hi, order)
				continue
			}
			require.Equal(t, expected, got, "lo=%v hi=%v %s", lo, hi, order)
		}
	}

	k := 2 * rng.IntN(415)
	var oids []types.Oid
	for _, m := range model {
		if m.k == k {
			oids = append(oids, m.oid)
		}
	}
	found, err := tree.Find(mk(k))
	require.NoError(t, err)
	assert.Equal(t, len(oids), len(found))
	if len(oids) > 0 {
		assert.Equal(t, oids, found)
	}
}

func TestRangesMatchModel(t *testing.T) {
	tests := []struct {
		name   string
		kt     KeyType
		mk     keyMaker
		unique bool
	}{
		{"string unique", KeyString, stringKeys, true},
		{"string duplicates", KeyString, stringKeys, false},
		{"int64 duplicates", KeyInt64, int64Keys, false},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree, store := newTree(t, 256, tt.kt, tt.unique)
			rng := rand.New(rand.NewPCG(uint64(i)+1, 29))

			var model []modelEntry
			cmpEntry := func(a, b modelEntry) int {
				if c := cmp.Compare(a.k, b.k); c != 0 {
					return c
				}
				return cmp.Compare(a.oid, b.oid)
			}
			var next types.Oid
			insertBias := 70
			for step := 1; step <= 3000; step++ {
				if step == 1800 {
					// shrink the tree so merges and stale separators show up
					insertBias = 25
				}
				if len(model) == 0 || rng.IntN(100) < insertBias {
					k := 2 * (rng.IntN(400) + 1)
					next++
					m := modelEntry{k: k, oid: next}
					err := tree.Insert(tt.mk(k), m.oid, false)
					if _, dup := slices.BinarySearchFunc(model, k, func(e modelEntry, k int) int { return cmp.Compare(e.k, k) }); dup && tt.unique {
						require.True(t, errors.Is(err, dberror.ErrKeyNotUnique), "key %d", k)
						continue
					}
					require.NoError(t, err, "insert %d", k)
					at, _ := slices.BinarySearchFunc(model, m, cmpEntry)
					model = slices.Insert(model, at, m)
				} else {
					at := rng.IntN(len(model))
					m := model[at]
					require.NoError(t, tree.Remove(tt.mk(m.k), m.oid), "remove %d/%d", m.k, m.oid)
					model = slices.Delete(model, at, at+1)
				}
				if step%250 == 0 {
					require.Equal(t, uint64(len(model)), tree.Size())
					require.NoError(t, tree.Verify())
					checkRanges(t, rng, tree, model, tt.mk)
				}
			}

			for _, m := range model {
				require.NoError(t, tree.Remove(tt.mk(m.k), m.oid))
			}
			assert.Equal(t, uint64(0), tree.Size())
			assertNoLeakedPages(t, store)
		})
	}
}

func TestRangeStartsInsideRemovedRun(t *testing.T) {
	tree, _ := newTree(t, 128, KeyInt64, true)
	for k := int64(1); k <= 300; k++ {
		require.NoError(t, tree.Insert(Int64Key(k), types.Oid(k), false))
	}
	// leaves separators above the keys they still bound
	for k := int64(100); k <= 200; k++ {
		require.NoError(t, tree.Remove(Int64Key(k), types.Oid(k)))
	}
	require.NoError(t, tree.Verify())

	got := ints(t, tree, Inclusive(Int64Key(150)), Exclusive(Int64Key(205)), Ascending)
	assert.Equal(t, []int64{201, 202, 203, 204}, got)
	got = ints(t, tree, Exclusive(Int64Key(95)), Inclusive(Int64Key(150)), Descending)
	assert.Equal(t, []int64{99, 98, 97, 96}, got)
	assert.Empty(t, ints(t, tree, Inclusive(Int64Key(100)), Inclusive(Int64Key(200)), Ascending))
}

func TestIteratorDetectsModification(t *testing.T) {
	tree, _ := newTree(t, 128, KeyInt64, true)
	for k := int64(0); k < 30; k++ {
		require.NoError(t, tree.Insert(Int64Key(k), types.Oid(k+1), false))
	}

	it := tree.Iterator(nil, nil, Ascending)
	require.True(t, it.Next())
	assert.Equal(t, types.Oid(1), it.Oid())

	require.NoError(t, tree.Insert(Int64Key(99), 100, false))
	assert.False(t, it.Next())
	assert.True(t, errors.Is(it.Err(), dberror.ErrConcurrentModification))

	it.Reset()
	n := 0
	for it.Next() {
		n++
	}
	require.NoError(t, it.Err())
	assert.Equal(t, 31, n)
	it.Close()
	assert.False(t, it.Next())
}

func TestConcurrentReaders(t *testing.T) {
	tree, _ := newTree(t, 256, KeyUint32, true)
	for k := uint32(0); k < 400; k++ {
		require.NoError(t, tree.Insert(Uint32Key(k), types.Oid(k+1), false))
	}

	var g errgroup.Group
	for w := range 8 {
		g.Go(func() error {
			order := Order(w % 2)
			entries, err := tree.Entries(nil, nil, order)
			if err != nil {
				return err
			}
			if len(entries) != 400 {
				return fmt.Errorf("reader %d saw %d entries", w, len(entries))
			}
			for i := 1; i < len(entries); i++ {
				a, b := entries[i-1].Key.Value().(uint64), entries[i].Key.Value().(uint64)
				if (order == Ascending) != (a < b) {
					return fmt.Errorf("reader %d out of order at %d", w, i)
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
}

func TestVariableLengthKeys(t *testing.T) {
	tree, store := newTree(t, 512, KeyString, false)
	var want []string
	for i := range 300 {
		s := fmt.Sprintf("%03d-%s", (i*37)%300, strings.Repeat("x", i%40))
		want = append(want, s)
		require.NoError(t, tree.Insert(StringKey(s), types.Oid(i+1), false))
	}
	slices.Sort(want)

	entries, err := tree.Entries(nil, nil, Ascending)
	require.NoError(t, err)
	got := make([]string, len(entries))
	for i, e := range entries {
		got[i] = e.Key.Value().(string)
	}
	assert.Equal(t, want, got)

	for i := range 300 {
		s := fmt.Sprintf("%03d-%s", (i*37)%300, strings.Repeat("x", i%40))
		require.NoError(t, tree.Remove(StringKey(s), types.Oid(i+1)))
	}
	assert.Equal(t, uint64(0), tree.Size())
	assertNoLeakedPages(t, store)

	long := StringKey(strings.Repeat("y", tree.MaxKeyLen()+1))
	assert.True(t, errors.Is(tree.Insert(long, 1, false), dberror.ErrIncompatibleKeyType))
}

func TestCompoundPrefixQueries(t *testing.T) {
	tree, _ := newTree(t, 512, KeyCompound, true)
	key := func(name string, n int32) Key {
		k, err := CompoundKey(StringKey(name), Int32Key(n))
		require.NoError(t, err)
		return k
	}
	oid := types.Oid(1)
	for _, name := range []string{"bob", "alice", "al", "carol"} {
		for n := int32(-2); n <= 2; n++ {
			require.NoError(t, tree.Insert(key(name, n), oid, false))
			oid++
		}
	}

	prefix, err := CompoundKey(StringKey("al"))
	require.NoError(t, err)
	oids, err := tree.Find(prefix)
	require.NoError(t, err)
	assert.Len(t, oids, 5, "\"al\" must not match \"alice\"")

	entries, err := tree.Entries(Inclusive(prefix), Inclusive(prefix), Descending)
	require.NoError(t, err)
	require.Len(t, entries, 5)
	first := entries[0].Key.Value().([]any)
	assert.Equal(t, []any{"al", int64(2)}, first)

	alice, err := CompoundKey(StringKey("alice"))
	require.NoError(t, err)
	entries, err = tree.Entries(Exclusive(alice), nil, Ascending)
	require.NoError(t, err)
	assert.Len(t, entries, 10, "bob and carol follow alice")
}

func TestKeyTypeChecked(t *testing.T) {
	tree, _ := newTree(t, 256, KeyInt64, true)
	err := tree.Insert(StringKey("x"), 1, false)
	assert.True(t, errors.Is(err, dberror.ErrIncompatibleKeyType))
	assert.Equal(t, uint64(0), tree.Size())

	it := tree.Iterator(Inclusive(Int32Key(1)), nil, Ascending)
	assert.False(t, it.Next())
	assert.True(t, errors.Is(it.Err(), dberror.ErrIncompatibleKeyType))
}

func TestDropFreesEveryPage(t *testing.T) {
	tree, store := newTree(t, 128, KeyInt64, false)
	for k := int64(0); k < 200; k++ {
		require.NoError(t, tree.Insert(Int64Key(k%50), types.Oid(k+1), false))
	}
	require.NoError(t, tree.Drop())
	assert.Equal(t, 0, tree.Height())
	assert.Equal(t, uint64(0), tree.Size())
	assertNoLeakedPages(t, store)

	require.NoError(t, tree.Insert(Int64Key(1), 1, false))
	assert.Equal(t, uint64(1), tree.Size())
}

func TestReopenFromMeta(t *testing.T) {
	tree, store := newTree(t, 256, KeyFloat64, true)
	for i := range 50 {
		require.NoError(t, tree.Insert(Float64Key(float64(i)-24.5), types.Oid(i+1), false))
	}
	require.NoError(t, store.Flush())

	again, err := Open(store, tree.Meta())
	require.NoError(t, err)
	oid, err := again.Get(Float64Key(-24.5))
	require.NoError(t, err)
	assert.Equal(t, types.Oid(1), oid)
	assert.Equal(t, uint64(50), again.Size())

	_, err = Open(store, Meta{KeyType: KeyInt64, Root: 512})
	assert.True(t, errors.Is(err, dberror.ErrCorrupted))
}

func TestInspect(t *testing.T) {
	tree, _ := newTree(t, 128, KeyInt64, true)
	var buf strings.Builder
	require.NoError(t, tree.Inspect(&buf, 0))
	assert.Contains(t, buf.String(), "(empty tree)")

	for _, k := range []int64{5, 3, 8, 1, 4, 7, 9, 2, 6} {
		require.NoError(t, tree.Insert(Int64Key(k), types.Oid(k), false))
	}
	require.NoError(t, tree.Verify())

	buf.Reset()
	require.NoError(t, tree.Inspect(&buf, 2))
	out := buf.String()
	assert.Contains(t, out, "height 2, 9 entries")
	assert.Contains(t, out, "BRANCH")
	assert.Contains(t, out, "int64(1) -> oid 1")
	assert.Contains(t, out, "more")
}
