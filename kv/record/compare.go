package record

import (
	"bytes"
	"math"
)

// Collation names how text fields of a key column compare.
type Collation uint8

const (
	Binary Collation = iota
	NoCase
	RTrim
)

// Collate returns the bytes whose plain byte order is the collation order of text.
func (c Collation) Collate(text []byte) []byte {
	switch c {
	case NoCase:
		for i, ch := range text {
			if ch >= 'A' && ch <= 'Z' {
				lower := make([]byte, len(text))
				copy(lower, text[:i])
				for j := i; j < len(text); j++ {
					ch = text[j]
					if ch >= 'A' && ch <= 'Z' {
						ch += 'a' - 'A'
					}
					lower[j] = ch
				}
				return lower
			}
		}
	case RTrim:
		return bytes.TrimRight(text, " ")
	}
	return text
}

type Column struct {
	Coll Collation
	Desc bool
}

// KeyInfo describes every field of an index record, the trailing row id included.
type KeyInfo struct {
	Columns []Column
}

// NewKeyInfo returns a KeyInfo for n ascending binary key columns followed by the row id.
func NewKeyInfo(n int) *KeyInfo {
	return &KeyInfo{Columns: make([]Column, n+1)}
}

// KeyFields is the number of fields that precede the row id.
func (ki *KeyInfo) KeyFields() int {
	if len(ki.Columns) == 0 {
		return 0
	}
	return len(ki.Columns) - 1
}

func (ki *KeyInfo) column(i int) Column {
	if ki == nil || i >= len(ki.Columns) {
		return Column{}
	}
	return ki.Columns[i]
}

// UnpackedRecord is a search key. Values may hold fewer fields than the stored records;
// when every present field compares equal the comparison yields DefaultRC.
type UnpackedRecord struct {
	KeyInfo   *KeyInfo
	Values    []Value
	DefaultRC int
}

func Unpack(ki *KeyInfo, rec []byte) (*UnpackedRecord, error) {
	values, err := Decode(rec)
	if err != nil {
		return nil, err
	}
	return &UnpackedRecord{KeyInfo: ki, Values: values}, nil
}

// Compare compares the packed record rec with key. The result is negative when rec sorts first.
func Compare(rec []byte, key *UnpackedRecord) (int, error) {
	values, err := Decode(rec)
	if err != nil {
		return 0, err
	}
	return CompareValues(values, key), nil
}

func CompareValues(values []Value, key *UnpackedRecord) int {
	n := len(key.Values)
	if len(values) < n {
		n = len(values)
	}
	for i := 0; i < n; i++ {
		col := key.KeyInfo.column(i)
		c := compareValue(values[i], key.Values[i], col.Coll)
		if c != 0 {
			if col.Desc {
				return -c
			}
			return c
		}
	}
	return key.DefaultRC
}

// class orders the storage classes: NULL, numbers, text, blob.
func class(v Value) int {
	switch v.Kind {
	case KindInt:
		return 1
	case KindFloat:
		if math.IsNaN(v.F) {
			return 0
		}
		return 1
	case KindText:
		return 2
	case KindBlob:
		return 3
	}
	return 0
}

func compareValue(a, b Value, coll Collation) int {
	ca, cb := class(a), class(b)
	if ca != cb {
		return ca - cb
	}
	switch ca {
	case 1:
		return compareNumber(a, b)
	case 2:
		return bytes.Compare(coll.Collate(a.B), coll.Collate(b.B))
	case 3:
		return bytes.Compare(a.B, b.B)
	}
	return 0
}

func compareNumber(a, b Value) int {
	switch {
	case a.Kind == KindInt && b.Kind == KindInt:
		return compareInt(a.I, b.I)
	case a.Kind == KindFloat && b.Kind == KindFloat:
		if a.F < b.F {
			return -1
		} else if a.F > b.F {
			return 1
		}
		return 0
	case a.Kind == KindInt:
		return compareIntFloat(a.I, b.F)
	}
	return -compareIntFloat(b.I, a.F)
}

func compareInt(a, b int64) int {
	if a < b {
		return -1
	} else if a > b {
		return 1
	}
	return 0
}

// twoTo63 is the smallest float64 above every int64.
const twoTo63 = 9223372036854775808.0

// compareIntFloat compares exactly, without rounding i to a float64.
func compareIntFloat(i int64, f float64) int {
	if f >= twoTo63 {
		return -1
	}
	if f < -twoTo63 {
		return 1
	}
	t := int64(f)
	if c := compareInt(i, t); c != 0 {
		return c
	}
	frac := f - float64(t)
	if frac > 0 {
		return -1
	} else if frac < 0 {
		return 1
	}
	return 0
}
