package btree

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompoundEncodingPreservesOrder(t *testing.T) {
	tests := []struct {
		name    string
		ordered []Key
	}{
		{"int64", []Key{Int64Key(-1 << 40), Int64Key(-5), Int64Key(-1), Int64Key(3), Int64Key(1 << 50)}},
		{"int8", []Key{Int8Key(-128), Int8Key(-1), Int8Key(1), Int8Key(127)}},
		{"uint16", []Key{Uint16Key(0), Uint16Key(255), Uint16Key(256), Uint16Key(65535)}},
		{"float64", []Key{Float64Key(-1e10), Float64Key(-2.5), Float64Key(-0.1), Float64Key(0.1), Float64Key(7)}},
		{"float32", []Key{Float32Key(-3), Float32Key(-1.5), Float32Key(2), Float32Key(1e6)}},
		{"string", []Key{StringKey(""), StringKey("a"), StringKey("a\x00"), StringKey("a\x00b"), StringKey("ab"), StringKey("b")}},
		{"date", []Key{DateKey(time.Unix(-100, 0)), DateKey(time.Unix(0, 0)), DateKey(time.Unix(1700000000, 0))}},
		{"bool", []Key{BoolKey(false), BoolKey(true)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 1; i < len(tt.ordered); i++ {
				a, b := tt.ordered[i-1], tt.ordered[i]
				assert.Negative(t, compareKeys(a.Type(), a.Bytes(), b.Bytes()), "%s < %s", a, b)

				ca, err := CompoundKey(a, Int8Key(0))
				require.NoError(t, err)
				cb, err := CompoundKey(b, Int8Key(0))
				require.NoError(t, err)
				assert.Negative(t, bytes.Compare(ca.Bytes(), cb.Bytes()), "encoded %s < %s", a, b)
			}
		})
	}
}

func TestCompoundComponentsDecode(t *testing.T) {
	k, err := CompoundKey(StringKey("a\x00b"), Int16Key(-7), Float64Key(-1.25), BytesKey([]byte{0, 1, 0xFF}))
	require.NoError(t, err)
	assert.Equal(t, []any{"a\x00b", int64(-7), -1.25, []byte{0, 1, 0xFF}}, k.Value())

	_, err = CompoundKey(k)
	assert.Error(t, err, "compound keys do not nest")
}

func TestFoldCase(t *testing.T) {
	assert.Equal(t, StringKey("alice"), FoldCase(StringKey("ALice")))
	assert.Equal(t, Int64Key(3), FoldCase(Int64Key(3)))

	mixed, err := CompoundKey(StringKey("BoB"), Int32Key(1))
	require.NoError(t, err)
	lower, err := CompoundKey(StringKey("bob"), Int32Key(1))
	require.NoError(t, err)
	assert.Equal(t, lower.Bytes(), FoldCase(mixed).Bytes())
}

func TestParseKeyType(t *testing.T) {
	kt, err := ParseKeyType("float32")
	require.NoError(t, err)
	assert.Equal(t, KeyFloat32, kt)
	assert.Equal(t, 4, kt.Width())
	assert.Equal(t, 0, KeyString.Width())

	_, err = ParseKeyType("invalid")
	assert.Error(t, err)
}
