package record

import (
	"math"

	"github.com/pingcap-incubator/sqlmdb/kv/util/codec"
)

const (
	nullFlag   byte = 0x05
	numberFlag byte = 0x10
	textFlag   byte = 0x20
	blobFlag   byte = 0x30
)

// AppendOrderKey appends a byte string whose plain byte order matches CompareValues under ki for
// the same values. The encoding of a prefix of values is a prefix of the encoding of all of them.
func AppendOrderKey(b []byte, ki *KeyInfo, values []Value) []byte {
	for i, v := range values {
		start := len(b)
		col := ki.column(i)
		b = appendOrderField(b, v, col.Coll)
		if col.Desc {
			codec.Invert(b[start:])
		}
	}
	return b
}

func appendOrderField(b []byte, v Value, coll Collation) []byte {
	switch class(v) {
	case 1:
		return appendNumber(append(b, numberFlag), v)
	case 2:
		return codec.EncodeEscapedBytes(append(b, textFlag), coll.Collate(v.B))
	case 3:
		return codec.EncodeEscapedBytes(append(b, blobFlag), v.B)
	}
	return append(b, nullFlag)
}

// appendNumber writes the float64 approximation of the value, then an exact integer tie-break for
// values sharing that approximation, then one byte set only for reals beyond the int64 range.
func appendNumber(b []byte, v Value) []byte {
	if v.Kind == KindInt {
		b = codec.EncodeFloat(b, float64(v.I))
		b = codec.EncodeInt(b, v.I)
		return append(b, 0)
	}
	f := v.F
	b = codec.EncodeFloat(b, f)
	switch {
	case f >= twoTo63:
		b = codec.EncodeInt(b, math.MaxInt64)
		return append(b, 1)
	case f < -twoTo63:
		b = codec.EncodeInt(b, math.MinInt64)
	default:
		b = codec.EncodeInt(b, int64(f))
	}
	return append(b, 0)
}
