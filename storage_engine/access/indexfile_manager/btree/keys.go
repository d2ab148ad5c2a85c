package btree

import (
	"bytes"
	"cmp"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"

	"HeapStore/storage_engine/dberror"
)

// KeyType tags the kind of values an index orders.
type KeyType uint8

const (
	KeyInvalid KeyType = iota
	KeyBool
	KeyInt8
	KeyInt16
	KeyInt32
	KeyInt64
	KeyUint8
	KeyUint16
	KeyUint32
	KeyUint64
	KeyFloat32
	KeyFloat64
	KeyDate
	KeyString
	KeyBytes
	KeyCompound
)

var keyTypeNames = [...]string{
	KeyInvalid:  "invalid",
	KeyBool:     "bool",
	KeyInt8:     "int8",
	KeyInt16:    "int16",
	KeyInt32:    "int32",
	KeyInt64:    "int64",
	KeyUint8:    "uint8",
	KeyUint16:   "uint16",
	KeyUint32:   "uint32",
	KeyUint64:   "uint64",
	KeyFloat32:  "float32",
	KeyFloat64:  "float64",
	KeyDate:     "date",
	KeyString:   "string",
	KeyBytes:    "bytes",
	KeyCompound: "compound",
}

func (t KeyType) String() string {
	if int(t) < len(keyTypeNames) {
		return keyTypeNames[t]
	}
	return fmt.Sprintf("keytype(%d)", uint8(t))
}

// ParseKeyType accepts the names printed by KeyType.String.
func ParseKeyType(s string) (KeyType, error) {
	for i, name := range keyTypeNames {
		if i != int(KeyInvalid) && name == s {
			return KeyType(i), nil
		}
	}
	return KeyInvalid, fmt.Errorf("unknown key type %q", s)
}

// Width is the packed size of a fixed width key, 0 for variable sized ones.
func (t KeyType) Width() int {
	switch t {
	case KeyBool, KeyInt8, KeyUint8:
		return 1
	case KeyInt16, KeyUint16:
		return 2
	case KeyInt32, KeyUint32, KeyFloat32:
		return 4
	case KeyInt64, KeyUint64, KeyFloat64, KeyDate:
		return 8
	}
	return 0
}

func (t KeyType) valid() bool {
	return t > KeyInvalid && t <= KeyCompound
}

// Key is an immutable, typed index key. Fixed width keys hold their little
// endian value; strings and byte slices hold their bytes; compound keys hold
// an order preserving encoding of their components, so they compare with
// bytes.Compare.
type Key struct {
	typ  KeyType
	data []byte
}

func (k Key) Type() KeyType { return k.typ }

// Bytes returns the encoded key. The slice must not be modified.
func (k Key) Bytes() []byte { return k.data }

func (k Key) IsZero() bool { return k.typ == KeyInvalid }

func fixedKey(t KeyType, v uint64) Key {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	return Key{typ: t, data: buf[:t.Width()]}
}

func BoolKey(v bool) Key {
	if v {
		return fixedKey(KeyBool, 1)
	}
	return fixedKey(KeyBool, 0)
}

func Int8Key(v int8) Key       { return fixedKey(KeyInt8, uint64(uint8(v))) }
func Int16Key(v int16) Key     { return fixedKey(KeyInt16, uint64(uint16(v))) }
func Int32Key(v int32) Key     { return fixedKey(KeyInt32, uint64(uint32(v))) }
func Int64Key(v int64) Key     { return fixedKey(KeyInt64, uint64(v)) }
func Uint8Key(v uint8) Key     { return fixedKey(KeyUint8, uint64(v)) }
func Uint16Key(v uint16) Key   { return fixedKey(KeyUint16, uint64(v)) }
func Uint32Key(v uint32) Key   { return fixedKey(KeyUint32, uint64(v)) }
func Uint64Key(v uint64) Key   { return fixedKey(KeyUint64, v) }
func Float32Key(v float32) Key { return fixedKey(KeyFloat32, uint64(math.Float32bits(v))) }
func Float64Key(v float64) Key { return fixedKey(KeyFloat64, math.Float64bits(v)) }
func DateKey(v time.Time) Key  { return fixedKey(KeyDate, uint64(v.UnixNano())) }

func StringKey(v string) Key { return Key{typ: KeyString, data: []byte(v)} }

func BytesKey(v []byte) Key { return Key{typ: KeyBytes, data: bytes.Clone(v)} }

// RawKey rebuilds a key from its encoded form, as returned by Key.Bytes.
func RawKey(t KeyType, data []byte) Key {
	return Key{typ: t, data: bytes.Clone(data)}
}

// CompoundKey concatenates the order preserving encodings of its components.
// A compound key with fewer components than the index declares is a prefix
// and matches every key that starts with it.
func CompoundKey(components ...Key) (Key, error) {
	var buf []byte
	for i, c := range components {
		if !c.typ.valid() || c.typ == KeyCompound {
			return Key{}, dberror.New(dberror.KindIncompatibleKeyType, "CompoundKey", "btree",
				"component %d has type %s", i, c.typ)
		}
		buf = appendComponent(buf, c)
	}
	return Key{typ: KeyCompound, data: buf}, nil
}

func appendComponent(buf []byte, c Key) []byte {
	buf = append(buf, byte(c.typ))
	switch c.typ {
	case KeyString, KeyBytes:
		for _, b := range c.data {
			if b == 0 {
				buf = append(buf, 0x00, 0xFF)
			} else {
				buf = append(buf, b)
			}
		}
		return append(buf, 0x00, 0x01)
	}

	w := c.typ.Width()
	var v uint64
	switch w {
	case 1:
		v = uint64(c.data[0])
	case 2:
		v = uint64(binary.LittleEndian.Uint16(c.data))
	case 4:
		v = uint64(binary.LittleEndian.Uint32(c.data))
	case 8:
		v = binary.LittleEndian.Uint64(c.data)
	}
	signBit := uint64(1) << (w*8 - 1)
	switch c.typ {
	case KeyInt8, KeyInt16, KeyInt32, KeyInt64, KeyDate:
		v ^= signBit
	case KeyFloat32, KeyFloat64:
		if v&signBit != 0 {
			v = ^v & (signBit<<1 - 1)
		} else {
			v |= signBit
		}
	}
	var be [8]byte
	binary.BigEndian.PutUint64(be[:], v)
	return append(buf, be[8-w:]...)
}

// CompoundComponents decodes a compound key back into its components.
func CompoundComponents(k Key) ([]Key, error) {
	if k.typ != KeyCompound {
		return nil, dberror.New(dberror.KindIncompatibleKeyType, "CompoundComponents", "btree", "key is %s", k.typ)
	}
	var out []Key
	data := k.data
	for len(data) > 0 {
		t := KeyType(data[0])
		data = data[1:]
		switch {
		case t == KeyString || t == KeyBytes:
			var raw []byte
			for {
				if len(data) < 2 {
					return nil, dberror.New(dberror.KindCorrupted, "CompoundComponents", "btree", "unterminated %s component", t)
				}
				if data[0] == 0x00 {
					if data[1] == 0x01 {
						data = data[2:]
						break
					}
					raw = append(raw, 0x00)
					data = data[2:]
					continue
				}
				raw = append(raw, data[0])
				data = data[1:]
			}
			out = append(out, Key{typ: t, data: raw})
		case t.Width() > 0:
			w := t.Width()
			if len(data) < w {
				return nil, dberror.New(dberror.KindCorrupted, "CompoundComponents", "btree", "short %s component", t)
			}
			var be [8]byte
			copy(be[8-w:], data[:w])
			v := binary.BigEndian.Uint64(be[:])
			signBit := uint64(1) << (w*8 - 1)
			switch t {
			case KeyInt8, KeyInt16, KeyInt32, KeyInt64, KeyDate:
				v ^= signBit
			case KeyFloat32, KeyFloat64:
				if v&signBit != 0 {
					v &^= signBit
				} else {
					v = ^v & (signBit<<1 - 1)
				}
			}
			out = append(out, fixedKey(t, v))
			data = data[w:]
		default:
			return nil, dberror.New(dberror.KindCorrupted, "CompoundComponents", "btree", "bad component tag %d", t)
		}
	}
	return out, nil
}

// Value decodes the key into a Go value: bool, int64, uint64, float64,
// time.Time, string, []byte, or []any for compound keys.
func (k Key) Value() any {
	switch k.typ {
	case KeyBool:
		return k.data[0] != 0
	case KeyInt8, KeyInt16, KeyInt32, KeyInt64:
		return signed(k)
	case KeyUint8, KeyUint16, KeyUint32, KeyUint64:
		return unsigned(k.data)
	case KeyFloat32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(k.data)))
	case KeyFloat64:
		return math.Float64frombits(binary.LittleEndian.Uint64(k.data))
	case KeyDate:
		return time.Unix(0, int64(binary.LittleEndian.Uint64(k.data))).UTC()
	case KeyString:
		return string(k.data)
	case KeyBytes:
		return bytes.Clone(k.data)
	case KeyCompound:
		parts, err := CompoundComponents(k)
		if err != nil {
			return nil
		}
		vals := make([]any, len(parts))
		for i, p := range parts {
			vals[i] = p.Value()
		}
		return vals
	}
	return nil
}

func (k Key) String() string {
	if k.typ == KeyInvalid {
		return "<no key>"
	}
	return fmt.Sprintf("%s(%v)", k.typ, k.Value())
}

func unsigned(b []byte) uint64 {
	switch len(b) {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(b))
	case 4:
		return uint64(binary.LittleEndian.Uint32(b))
	}
	return binary.LittleEndian.Uint64(b)
}

func signed(k Key) int64 {
	switch len(k.data) {
	case 1:
		return int64(int8(k.data[0]))
	case 2:
		return int64(int16(binary.LittleEndian.Uint16(k.data)))
	case 4:
		return int64(int32(binary.LittleEndian.Uint32(k.data)))
	}
	return int64(binary.LittleEndian.Uint64(k.data))
}

// compareKeys orders two encoded keys of type t. For compound keys the
// comparison is limited to the length of the shorter key, so a partial key
// compares equal to every key it is a prefix of.
func compareKeys(t KeyType, a, b []byte) int {
	switch t {
	case KeyBool, KeyUint8, KeyUint16, KeyUint32, KeyUint64:
		return cmp.Compare(unsigned(a), unsigned(b))
	case KeyInt8, KeyInt16, KeyInt32, KeyInt64, KeyDate:
		return cmp.Compare(signed(Key{data: a}), signed(Key{data: b}))
	case KeyFloat32:
		return cmp.Compare(math.Float32frombits(binary.LittleEndian.Uint32(a)), math.Float32frombits(binary.LittleEndian.Uint32(b)))
	case KeyFloat64:
		return cmp.Compare(math.Float64frombits(binary.LittleEndian.Uint64(a)), math.Float64frombits(binary.LittleEndian.Uint64(b)))
	case KeyCompound:
		n := min(len(a), len(b))
		return bytes.Compare(a[:n], b[:n])
	}
	return bytes.Compare(a, b)
}

// FoldCase lower cases string keys and the string components of compound
// keys. Other keys are returned unchanged.
func FoldCase(k Key) Key {
	switch k.typ {
	case KeyString:
		return StringKey(strings.ToLower(string(k.data)))
	case KeyCompound:
		parts, err := CompoundComponents(k)
		if err != nil {
			return k
		}
		for i, p := range parts {
			if p.typ == KeyString {
				parts[i] = StringKey(strings.ToLower(string(p.data)))
			}
		}
		folded, err := CompoundKey(parts...)
		if err != nil {
			return k
		}
		return folded
	}
	return k
}
