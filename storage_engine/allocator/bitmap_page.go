package allocator

import (
	"HeapStore/storage_engine/dberror"
	"HeapStore/storage_engine/page"
	"HeapStore/types"
)

// A bitmap page is an ordinary object: 8 byte header, then the bits.
const bitmapHeaderSize = types.ObjectHeaderSize

func initBitmapPage(data []byte) {
	types.PutObjectHeader(data, uint32(len(data)), types.TypeBitmapPage)
}

// bitmapPage pins the p-th bitmap page and returns its bit payload.
func (a *Allocator) bitmapPage(p int64) (*page.Page, []byte, error) {
	pos := a.dir[p]
	pg, err := a.pool.Get(pos)
	if err != nil {
		return nil, nil, err
	}
	if _, tag := types.ObjectHeader(pg.Data); tag != types.TypeBitmapPage {
		a.pool.Unpin(pg)
		return nil, nil, dberror.New(dberror.KindCorrupted, "bitmapPage", "allocator",
			"page %d is a %s, expected a bitmap page", pos, tag)
	}
	return pg, pg.Data[bitmapHeaderSize : bitmapHeaderSize+a.bitsPerPage/8], nil
}
