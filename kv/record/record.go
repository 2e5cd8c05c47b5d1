package record

import (
	"encoding/binary"
	"math"

	"github.com/pingcap/errors"
)

// ErrCorrupt is returned for records whose header or body does not add up.
var ErrCorrupt = errors.New("malformed record")

type Kind uint8

const (
	KindNull Kind = iota
	KindInt
	KindFloat
	KindText
	KindBlob
)

// Value is one decoded record field. Text and blob values reference the bytes they were decoded
// from.
type Value struct {
	Kind Kind
	I    int64
	F    float64
	B    []byte
}

func Null() Value              { return Value{Kind: KindNull} }
func Int(i int64) Value        { return Value{Kind: KindInt, I: i} }
func Float(f float64) Value    { return Value{Kind: KindFloat, F: f} }
func Text(s string) Value      { return Value{Kind: KindText, B: []byte(s)} }
func TextBytes(b []byte) Value { return Value{Kind: KindText, B: b} }
func Blob(b []byte) Value      { return Value{Kind: KindBlob, B: b} }

// Serial types with a fixed meaning. Larger even types are blobs and larger odd types are text.
const (
	TypeNull  uint64 = 0
	TypeFloat uint64 = 7
	TypeZero  uint64 = 8
	TypeOne   uint64 = 9
	typeBlob  uint64 = 12
	typeText  uint64 = 13
)

var intSizes = [...]int{0, 1, 2, 3, 4, 6, 8, 8, 0, 0, 0, 0}

// SerialTypeLen is the number of body bytes a field of serial type st occupies.
func SerialTypeLen(st uint64) int {
	if st >= typeBlob {
		return int((st - typeBlob) / 2)
	}
	return intSizes[st]
}

func IsText(st uint64) bool { return st >= typeText && st&1 == 1 }
func IsBlob(st uint64) bool { return st >= typeBlob && st&1 == 0 }

// StringType returns the serial type of a text (or blob) field of n bytes.
func StringType(n int, text bool) uint64 {
	if text {
		return uint64(n)*2 + typeText
	}
	return uint64(n)*2 + typeBlob
}

func intType(i int64) uint64 {
	switch {
	case i == 0:
		return TypeZero
	case i == 1:
		return TypeOne
	case i >= -1<<7 && i < 1<<7:
		return 1
	case i >= -1<<15 && i < 1<<15:
		return 2
	case i >= -1<<23 && i < 1<<23:
		return 3
	case i >= -1<<31 && i < 1<<31:
		return 4
	case i >= -1<<47 && i < 1<<47:
		return 5
	}
	return 6
}

// SerialType returns the smallest serial type able to hold v.
func SerialType(v Value) uint64 {
	switch v.Kind {
	case KindInt:
		return intType(v.I)
	case KindFloat:
		if math.IsNaN(v.F) {
			return TypeNull
		}
		return TypeFloat
	case KindText:
		return StringType(len(v.B), true)
	case KindBlob:
		return StringType(len(v.B), false)
	}
	return TypeNull
}

// HeaderSize is the size of a header whose serial types take typesLen bytes. The leading size
// varint counts itself.
func HeaderSize(typesLen int) int {
	n := typesLen
	if n <= 126 {
		return n + 1
	}
	l := VarintLen(uint64(n))
	n += l
	if l < VarintLen(uint64(n)) {
		n++
	}
	return n
}

func appendPayload(b []byte, st uint64, v Value) []byte {
	switch {
	case st == TypeFloat:
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], math.Float64bits(v.F))
		return append(b, buf[:]...)
	case st >= typeBlob:
		return append(b, v.B...)
	}
	n := intSizes[st]
	for i := n - 1; i >= 0; i-- {
		b = append(b, byte(v.I>>(uint(i)*8)))
	}
	return b
}

// Append packs values into a record and appends it to b.
func Append(b []byte, values ...Value) []byte {
	types := make([]uint64, len(values))
	typesLen := 0
	for i, v := range values {
		types[i] = SerialType(v)
		typesLen += VarintLen(types[i])
	}
	b = AppendVarint(b, uint64(HeaderSize(typesLen)))
	for _, st := range types {
		b = AppendVarint(b, st)
	}
	for i, v := range values {
		b = appendPayload(b, types[i], v)
	}
	return b
}

func Make(values ...Value) []byte {
	return Append(nil, values...)
}

// Field locates one field inside a packed record.
type Field struct {
	Type    uint64
	TypeOff int // offset of the serial type varint
	TypeLen int
	Off     int // offset of the payload
	Len     int
}

// Parse walks the header of rec. A record must hold at least one field and its body must end
// exactly where the last field ends.
func Parse(rec []byte) (hdrSize int, fields []Field, err error) {
	hdr, n := GetVarint(rec)
	if n == 0 || hdr <= uint64(n) || hdr > uint64(len(rec)) {
		return 0, nil, ErrCorrupt
	}
	hdrSize = int(hdr)
	off := hdrSize
	for i := n; i < hdrSize; {
		st, m := GetVarint(rec[i:hdrSize])
		if m == 0 || st == 10 || st == 11 {
			return 0, nil, ErrCorrupt
		}
		l := SerialTypeLen(st)
		if off+l > len(rec) {
			return 0, nil, ErrCorrupt
		}
		fields = append(fields, Field{Type: st, TypeOff: i, TypeLen: m, Off: off, Len: l})
		i += m
		off += l
	}
	if off != len(rec) {
		return 0, nil, ErrCorrupt
	}
	return hdrSize, fields, nil
}

// DecodeValue decodes the payload b of a field of serial type st.
func DecodeValue(st uint64, b []byte) Value {
	switch {
	case st == TypeNull:
		return Null()
	case st == TypeZero:
		return Int(0)
	case st == TypeOne:
		return Int(1)
	case st == TypeFloat:
		return Float(math.Float64frombits(binary.BigEndian.Uint64(b)))
	case IsText(st):
		return TextBytes(b)
	case IsBlob(st):
		return Blob(b)
	}
	v := int64(int8(b[0]))
	for _, x := range b[1:] {
		v = v<<8 | int64(x)
	}
	return Int(v)
}

// Decode unpacks every field of rec.
func Decode(rec []byte) ([]Value, error) {
	_, fields, err := Parse(rec)
	if err != nil {
		return nil, err
	}
	values := make([]Value, len(fields))
	for i, f := range fields {
		values[i] = DecodeValue(f.Type, rec[f.Off:f.Off+f.Len])
	}
	return values, nil
}
