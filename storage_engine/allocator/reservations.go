package allocator

import "github.com/benbjohnson/immutable"

type int64Comparer struct{}

func (int64Comparer) Compare(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// reservations is the set of ranges freed since the last commit, keyed by
// range end with the range start as value. Ranges never overlap: Free
// rejects a range that intersects one already reserved.
type reservations struct {
	m *immutable.SortedMap[int64, int64]
}

func newReservations() reservations {
	return reservations{m: immutable.NewSortedMap[int64, int64](int64Comparer{})}
}

func (r *reservations) add(start, end int64) {
	r.m = r.m.Set(end, start)
}

// overlap returns the end of a reserved range intersecting [start, end).
func (r *reservations) overlap(start, end int64) (int64, bool) {
	if r.m.Len() == 0 {
		return 0, false
	}
	itr := r.m.Iterator()
	itr.Seek(start + 1)
	if itr.Done() {
		return 0, false
	}
	resEnd, resStart, ok := itr.Next()
	if !ok || resStart >= end {
		return 0, false
	}
	return resEnd, true
}

// each calls fn for every reserved range in position order until fn
// returns false.
func (r *reservations) each(fn func(start, end int64) bool) {
	itr := r.m.Iterator()
	for !itr.Done() {
		end, start, _ := itr.Next()
		if !fn(start, end) {
			return
		}
	}
}

func (r *reservations) len() int {
	return r.m.Len()
}
