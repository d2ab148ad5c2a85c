package bitmap

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateWholeByte(t *testing.T) {
	bm := make([]byte, 1)
	off := Allocate(bm, 0, 8, 8)
	assert.Equal(t, 0, off)
	assert.Equal(t, []byte{0xFF}, bm)
	assert.Equal(t, -1, Find(bm, 0, 8, 1))
}

func TestAllocateCrossesByte(t *testing.T) {
	bm := make([]byte, 2)
	off := Allocate(bm, 0, 16, 9)
	assert.Equal(t, 0, off)
	assert.Equal(t, []byte{0xFF, 0x01}, bm)
}

func TestTables(t *testing.T) {
	tests := []struct {
		b                        byte
		first, last, max, maxOff uint8
	}{
		{0x00, 8, 8, 8, 0},
		{0xFF, 0, 0, 0, 0},
		{0x01, 0, 7, 7, 1},
		{0x80, 7, 0, 7, 0},
		{0x18, 3, 3, 3, 0}, // 00011000
		{0x81, 0, 0, 6, 1},
		{0x41, 0, 1, 5, 1}, // 01000001
	}
	for _, tt := range tests {
		assert.Equal(t, tt.first, firstHoleSize[tt.b], "first hole of %08b", tt.b)
		assert.Equal(t, tt.last, lastHoleSize[tt.b], "last hole of %08b", tt.b)
		assert.Equal(t, tt.max, maxHoleSize[tt.b], "max hole of %08b", tt.b)
		assert.Equal(t, tt.maxOff, maxHoleOffset[tt.b], "max hole offset of %08b", tt.b)
	}
}

func TestFindCases(t *testing.T) {
	tests := []struct {
		name     string
		bm       []byte
		from, to int
		n        int
		want     int
	}{
		{"inside byte", []byte{0x81}, 0, 8, 6, 1},
		{"too long for byte", []byte{0x81}, 0, 8, 7, -1},
		{"carried hole", []byte{0x0F, 0x00, 0xF0}, 0, 24, 12, 4},
		{"carried hole into first hole", []byte{0x7F, 0xF8}, 0, 16, 4, 7},
		{"from mid byte", []byte{0x00, 0x00}, 3, 16, 13, 3},
		{"to bounds search", []byte{0x00, 0x00}, 0, 10, 11, -1},
		{"unaligned end", []byte{0xFF, 0x00}, 0, 11, 3, 8},
		{"zero length", []byte{0x00}, 0, 8, 0, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Find(tt.bm, tt.from, tt.to, tt.n))
		})
	}
}

func bruteFind(bm []byte, from, to, n int) int {
	run := 0
	for i := from; i < to; i++ {
		if isSet(bm, i) {
			run = 0
			continue
		}
		run++
		if run == n {
			return i - n + 1
		}
	}
	return -1
}

func TestFindMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	for iter := 0; iter < 2000; iter++ {
		bm := make([]byte, 1+rng.IntN(12))
		for i := range bm {
			// sparse bytes make long holes likely
			if rng.IntN(3) == 0 {
				bm[i] = byte(rng.UintN(256))
			}
		}
		total := len(bm) * 8
		from := rng.IntN(total)
		to := from + rng.IntN(total-from+1)
		n := 1 + rng.IntN(20)

		want := bruteFind(bm, from, to, n)
		got := Find(bm, from, to, n)
		require.Equal(t, want, got, "bm=%x from=%d to=%d n=%d", bm, from, to, n)
	}
}

func TestAllocateDoesNotOverlap(t *testing.T) {
	bm := make([]byte, 16)
	var runs [][2]int
	for _, n := range []int{3, 8, 1, 17, 5, 9, 2, 30} {
		off := Allocate(bm, 0, len(bm)*8, n)
		require.GreaterOrEqual(t, off, 0)
		runs = append(runs, [2]int{off, n})
	}
	for i, a := range runs {
		for _, b := range runs[i+1:] {
			overlap := a[0] < b[0]+b[1] && b[0] < a[0]+a[1]
			assert.False(t, overlap, "runs %v and %v overlap", a, b)
		}
	}
	assert.Equal(t, 75, CountAllocated(bm))

	Free(bm, runs[3][0], runs[3][1])
	assert.True(t, IsFree(bm, runs[3][0], runs[3][1]))
	assert.Equal(t, runs[3][0], Find(bm, 0, len(bm)*8, 17))
}

func TestAllocateAligned(t *testing.T) {
	bm := make([]byte, 4)
	Reserve(bm, 0, 1)
	off := AllocateAligned(bm, 0, 32, 8, 8)
	assert.Equal(t, 8, off)
	assert.True(t, IsAllocated(bm, 8, 8))
	assert.False(t, IsAllocated(bm, 0, 8))

	Reserve(bm, 17, 1)
	assert.Equal(t, 24, FindAligned(bm, 0, 32, 8, 8))
	assert.Equal(t, -1, FindAligned(bm, 0, 32, 16, 8))
}

func TestLeadingTrailingFree(t *testing.T) {
	bm := []byte{0x00, 0x00, 0x10, 0x00} // bit 20 set
	assert.Equal(t, 20, LeadingFree(bm, 0, 32))
	assert.Equal(t, 17, LeadingFree(bm, 3, 32))
	assert.Equal(t, 10, LeadingFree(bm, 0, 10))
	assert.Equal(t, 11, TrailingFree(bm, 0, 32))
	assert.Equal(t, 20, TrailingFree(bm, 0, 20))
	assert.Equal(t, 5, TrailingFree(bm, 15, 20))
	assert.Equal(t, 0, TrailingFree(bm, 0, 21))
}

func TestFillPartialBytes(t *testing.T) {
	bm := make([]byte, 3)
	Reserve(bm, 5, 13)
	assert.Equal(t, []byte{0xE0, 0xFF, 0x03}, bm)
	assert.True(t, IsAllocated(bm, 5, 13))
	assert.False(t, IsAllocated(bm, 4, 2))
	Free(bm, 6, 11)
	assert.Equal(t, []byte{0x20, 0x00, 0x02}, bm)
}
