package types

import (
	"encoding/binary"
	"fmt"
)

const (
	PageSize         = 4096 // default page size, 4KB
	ObjectHeaderSize = 8    // size uint32 + tag uint32 ahead of every allocated block
)

// Oid identifies a stored object. Zero is never assigned.
type Oid = uint64

// BlockType is the tag stored in the second half of an object header.
type BlockType uint32

const (
	TypeUnknown BlockType = iota
	TypeHeader
	TypeBitmapPage
	TypeBTreePage
	TypeHeapObject
	TypeHeapDirectory
	TypeIndexCatalog

	// TypeUser is the first tag available to applications for their objects.
	TypeUser BlockType = 64
)

func (t BlockType) String() string {
	switch t {
	case TypeHeader:
		return "header"
	case TypeBitmapPage:
		return "bitmap"
	case TypeBTreePage:
		return "btree"
	case TypeHeapObject:
		return "object"
	case TypeHeapDirectory:
		return "heap-directory"
	case TypeIndexCatalog:
		return "index-catalog"
	}
	if t >= TypeUser {
		return fmt.Sprintf("user(%d)", uint32(t-TypeUser))
	}
	return "unknown"
}

// PutObjectHeader stamps the 8 byte block header at the start of buf.
func PutObjectHeader(buf []byte, size uint32, tag BlockType) {
	binary.LittleEndian.PutUint32(buf[0:], size)
	binary.LittleEndian.PutUint32(buf[4:], uint32(tag))
}

// ObjectHeader reads the block header written by PutObjectHeader.
func ObjectHeader(buf []byte) (size uint32, tag BlockType) {
	return binary.LittleEndian.Uint32(buf[0:]), BlockType(binary.LittleEndian.Uint32(buf[4:]))
}
