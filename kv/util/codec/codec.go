package codec

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/pingcap/errors"
)

const (
	signMask uint64 = 0x8000000000000000

	escByte = byte(0x00)
	escZero = byte(0xFF)
	escEnd  = byte(0x01)
)

// EncodeInt appends the memcomparable form of v to b. The result is always 8 bytes long and sorts
// bytewise in the same order as the signed integers.
func EncodeInt(b []byte, v int64) []byte {
	var data [8]byte
	binary.BigEndian.PutUint64(data[:], uint64(v)^signMask)
	return append(b, data[:]...)
}

// DecodeInt decodes a value written by EncodeInt and returns the leftover bytes.
func DecodeInt(b []byte) ([]byte, int64, error) {
	if len(b) < 8 {
		return nil, 0, errors.New("insufficient bytes to decode value")
	}
	u := binary.BigEndian.Uint64(b[:8])
	return b[8:], int64(u ^ signMask), nil
}

// EncodeFloat appends the memcomparable form of f to b.
func EncodeFloat(b []byte, f float64) []byte {
	u := math.Float64bits(f)
	if f >= 0 {
		u |= signMask
	} else {
		u = ^u
	}
	var data [8]byte
	binary.BigEndian.PutUint64(data[:], u)
	return append(b, data[:]...)
}

// EncodeEscapedBytes appends an order preserving, prefix free form of data to b. Every 0x00 in
// data is written as 0x00 0xFF and the value ends with 0x00 0x01, so the encoding costs two bytes
// plus one per zero byte.
func EncodeEscapedBytes(b []byte, data []byte) []byte {
	for {
		i := bytes.IndexByte(data, escByte)
		if i < 0 {
			break
		}
		b = append(b, data[:i+1]...)
		b = append(b, escZero)
		data = data[i+1:]
	}
	b = append(b, data...)
	return append(b, escByte, escEnd)
}

// Invert flips every bit of b in place, turning an ascending encoding into a descending one.
func Invert(b []byte) {
	for i := range b {
		b[i] = ^b[i]
	}
}
