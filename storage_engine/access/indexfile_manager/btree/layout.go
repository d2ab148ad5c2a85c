package btree

import (
	"encoding/binary"

	"HeapStore/types"
)

/*
Page layout, all integers little endian:

	[0:8)   object header (size, btree tag)
	[8:12)  item count
	[12:16) bytes used by the packed key region (variable keys only)

Fixed width keys:

	key i at 16 + i*slot, slot = width (+8 tie for non-unique trees)
	ref i at pageSize - (i+1)*8

Variable keys (strings, byte slices, compound keys):

	slot i at 16 + i*12: ref u64, key offset u16, key length u16
	key bytes (+8 tie) packed downward from the end of the page
*/
const (
	pageHeaderSize = types.ObjectHeaderSize + 8
	refSize        = 8
	tieSize        = 8
	varSlotSize    = 12
)

type layout struct {
	pageSize int
	keyType  KeyType
	width    int
	unique   bool
}

func newLayout(pageSize int, kt KeyType, unique bool) layout {
	return layout{pageSize: pageSize, keyType: kt, width: kt.Width(), unique: unique}
}

func (l layout) fixed() bool { return l.width > 0 }

func (l layout) tieLen() int {
	if l.unique {
		return 0
	}
	return tieSize
}

func (l layout) itemArea() int { return l.pageSize - pageHeaderSize }

// entrySize is the number of page bytes one entry occupies.
func (l layout) entrySize(keyLen int) int {
	if l.fixed() {
		return l.width + l.tieLen() + refSize
	}
	return varSlotSize + keyLen + l.tieLen()
}

// maxKeyLen keeps at least four entries on every page.
func (l layout) maxKeyLen() int {
	if l.fixed() {
		return l.width
	}
	return l.itemArea()/4 - varSlotSize - l.tieLen()
}

func (l layout) used(entries []entry) int {
	n := 0
	for _, e := range entries {
		n += l.entrySize(len(e.key))
	}
	return n
}

func (l layout) fits(entries []entry) bool {
	return l.used(entries) <= l.itemArea()
}

func (l layout) count(data []byte) int {
	return int(binary.LittleEndian.Uint32(data[8:]))
}

func (l layout) keyAt(data []byte, i int) []byte {
	if l.fixed() {
		off := pageHeaderSize + i*(l.width+l.tieLen())
		return data[off : off+l.width]
	}
	slot := pageHeaderSize + i*varSlotSize
	off := int(binary.LittleEndian.Uint16(data[slot+8:]))
	n := int(binary.LittleEndian.Uint16(data[slot+10:]))
	return data[off : off+n]
}

func (l layout) tieAt(data []byte, i int) uint64 {
	if l.unique {
		return 0
	}
	if l.fixed() {
		off := pageHeaderSize + i*(l.width+tieSize) + l.width
		return binary.LittleEndian.Uint64(data[off:])
	}
	slot := pageHeaderSize + i*varSlotSize
	off := int(binary.LittleEndian.Uint16(data[slot+8:]))
	n := int(binary.LittleEndian.Uint16(data[slot+10:]))
	return binary.LittleEndian.Uint64(data[off+n:])
}

func (l layout) refAt(data []byte, i int) uint64 {
	if l.fixed() {
		return binary.LittleEndian.Uint64(data[l.pageSize-(i+1)*refSize:])
	}
	return binary.LittleEndian.Uint64(data[pageHeaderSize+i*varSlotSize:])
}

// entryAt copies entry i out of the page.
func (l layout) entryAt(data []byte, i int) entry {
	return entry{
		key: append([]byte(nil), l.keyAt(data, i)...),
		tie: l.tieAt(data, i),
		ref: l.refAt(data, i),
	}
}

// decode copies the page entries out so they survive unpinning.
func (l layout) decode(data []byte) []entry {
	entries := make([]entry, l.count(data))
	for i := range entries {
		entries[i] = l.entryAt(data, i)
	}
	return entries
}

// usedBytes is the part of the item area taken by the entries on the page.
func (l layout) usedBytes(data []byte) int {
	n := l.count(data)
	if l.fixed() {
		return n * l.entrySize(0)
	}
	return n*varSlotSize + int(binary.LittleEndian.Uint32(data[12:]))
}

func (l layout) underflowAt(data []byte) bool {
	return l.usedBytes(data) < l.itemArea()/3
}

func (l layout) setRef(data []byte, i int, ref uint64) {
	if l.fixed() {
		binary.LittleEndian.PutUint64(data[l.pageSize-(i+1)*refSize:], ref)
		return
	}
	binary.LittleEndian.PutUint64(data[pageHeaderSize+i*varSlotSize:], ref)
}

// insertAt shifts slots i.. up by one and stores e in slot i. The caller
// checks that e fits.
func (l layout) insertAt(data []byte, i int, e entry) {
	le := binary.LittleEndian
	n := l.count(data)
	if l.fixed() {
		slot := l.width + l.tieLen()
		start, end := pageHeaderSize+i*slot, pageHeaderSize+n*slot
		copy(data[start+slot:end+slot], data[start:end])
		copy(data[start:start+l.width], e.key)
		if !l.unique {
			le.PutUint64(data[start+l.width:], e.tie)
		}
		refs := l.pageSize - n*refSize
		copy(data[refs-refSize:l.pageSize-(i+1)*refSize], data[refs:l.pageSize-i*refSize])
		le.PutUint64(data[l.pageSize-(i+1)*refSize:], e.ref)
	} else {
		keys := int(le.Uint32(data[12:]))
		off := l.pageSize - keys - len(e.key) - l.tieLen()
		copy(data[off:], e.key)
		if !l.unique {
			le.PutUint64(data[off+len(e.key):], e.tie)
		}
		slot, end := pageHeaderSize+i*varSlotSize, pageHeaderSize+n*varSlotSize
		copy(data[slot+varSlotSize:end+varSlotSize], data[slot:end])
		le.PutUint64(data[slot:], e.ref)
		le.PutUint16(data[slot+8:], uint16(off))
		le.PutUint16(data[slot+10:], uint16(len(e.key)))
		le.PutUint32(data[12:], uint32(l.pageSize-off))
	}
	le.PutUint32(data[8:], uint32(n+1))
}

// removeAt drops slot i and shifts the slots above it down. Variable key
// bytes below the removed key move up so free space stays contiguous.
func (l layout) removeAt(data []byte, i int) {
	le := binary.LittleEndian
	n := l.count(data)
	if l.fixed() {
		slot := l.width + l.tieLen()
		start, end := pageHeaderSize+i*slot, pageHeaderSize+n*slot
		copy(data[start:], data[start+slot:end])
		clear(data[end-slot : end])
		refs := l.pageSize - n*refSize
		copy(data[refs+refSize:l.pageSize-i*refSize], data[refs:l.pageSize-(i+1)*refSize])
		clear(data[refs : refs+refSize])
	} else {
		slot := pageHeaderSize + i*varSlotSize
		off := int(le.Uint16(data[slot+8:]))
		klen := int(le.Uint16(data[slot+10:])) + l.tieLen()
		keys := int(le.Uint32(data[12:]))
		low := l.pageSize - keys
		copy(data[low+klen:off+klen], data[low:off])
		clear(data[low : low+klen])
		for j := range n {
			s := pageHeaderSize + j*varSlotSize
			if o := int(le.Uint16(data[s+8:])); j != i && o < off {
				le.PutUint16(data[s+8:], uint16(o+klen))
			}
		}
		end := pageHeaderSize + n*varSlotSize
		copy(data[slot:], data[slot+varSlotSize:end])
		clear(data[end-varSlotSize : end])
		le.PutUint32(data[12:], uint32(keys-klen))
	}
	le.PutUint32(data[8:], uint32(n-1))
}

// encode rewrites the whole page from entries, which must fit.
func (l layout) encode(data []byte, entries []entry) {
	clear(data)
	types.PutObjectHeader(data, uint32(l.pageSize), types.TypeBTreePage)
	binary.LittleEndian.PutUint32(data[8:], uint32(len(entries)))

	if l.fixed() {
		slot := l.width + l.tieLen()
		for i, e := range entries {
			off := pageHeaderSize + i*slot
			copy(data[off:off+l.width], e.key)
			if !l.unique {
				binary.LittleEndian.PutUint64(data[off+l.width:], e.tie)
			}
			binary.LittleEndian.PutUint64(data[l.pageSize-(i+1)*refSize:], e.ref)
		}
		return
	}

	end := l.pageSize
	for i, e := range entries {
		end -= len(e.key) + l.tieLen()
		copy(data[end:], e.key)
		if !l.unique {
			binary.LittleEndian.PutUint64(data[end+len(e.key):], e.tie)
		}
		slot := pageHeaderSize + i*varSlotSize
		binary.LittleEndian.PutUint64(data[slot:], e.ref)
		binary.LittleEndian.PutUint16(data[slot+8:], uint16(end))
		binary.LittleEndian.PutUint16(data[slot+10:], uint16(len(e.key)))
	}
	binary.LittleEndian.PutUint32(data[12:], uint32(l.pageSize-end))
}
