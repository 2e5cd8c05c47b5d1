package btree

import (
	"encoding/binary"

	"github.com/dgryski/go-farm"
	"github.com/pingcap-incubator/sqlmdb/kv/record"
	"github.com/pingcap-incubator/sqlmdb/kv/util/codec"
)

// Fields longer than SquashThreshold are stored as their first SquashPrefix bytes followed by a
// big-endian fingerprint of the remainder.
const (
	SquashThreshold = 72
	SquashPrefix    = 64
	fingerprintLen  = SquashThreshold - SquashPrefix
)

// rowKeyLen is the size of a row table key and of the row id prefix of index values.
const rowKeyLen = 8

func needsSquash(st uint64) bool {
	return (record.IsText(st) || record.IsBlob(st)) && record.SerialTypeLen(st) > SquashThreshold
}

func squashBytes(dst, b []byte) []byte {
	dst = append(dst, b[:SquashPrefix]...)
	var fp [fingerprintLen]byte
	binary.BigEndian.PutUint64(fp[:], farm.Fingerprint64(b[SquashPrefix:]))
	return append(dst, fp[:]...)
}

// SquashRecord rewrites the index record rec so that no text or blob field exceeds
// SquashThreshold bytes. The result is built in dst, which may be nil; rec is returned unchanged
// when nothing needs squashing.
func SquashRecord(dst, rec []byte) ([]byte, error) {
	_, fields, err := record.Parse(rec)
	if err != nil {
		return nil, err
	}
	squash := false
	for _, f := range fields {
		if needsSquash(f.Type) {
			squash = true
			break
		}
	}
	if !squash {
		return rec, nil
	}
	types := make([]uint64, len(fields))
	typesLen := 0
	for i, f := range fields {
		types[i] = f.Type
		if needsSquash(f.Type) {
			types[i] = record.StringType(SquashThreshold, record.IsText(f.Type))
		}
		typesLen += record.VarintLen(types[i])
	}
	dst = record.AppendVarint(dst[:0], uint64(record.HeaderSize(typesLen)))
	for _, st := range types {
		dst = record.AppendVarint(dst, st)
	}
	for _, f := range fields {
		payload := rec[f.Off : f.Off+f.Len]
		if needsSquash(f.Type) {
			dst = squashBytes(dst, payload)
		} else {
			dst = append(dst, payload...)
		}
	}
	return dst, nil
}

// squashValues applies the same rewrite to a search key, copying only the fields it changes.
func squashValues(values []record.Value) []record.Value {
	var out []record.Value
	for i, v := range values {
		if (v.Kind != record.KindText && v.Kind != record.KindBlob) || len(v.B) <= SquashThreshold {
			continue
		}
		if out == nil {
			out = make([]record.Value, len(values))
			copy(out, values)
		}
		out[i].B = squashBytes(make([]byte, 0, SquashThreshold), v.B)
	}
	if out == nil {
		return values
	}
	return out
}

func isIntType(st uint64) bool {
	return (st >= 1 && st <= 6) || st == record.TypeZero || st == record.TypeOne
}

// SplitIndexKey pops the trailing row id field off the index record rec. It returns the
// remaining record, the row id field (its serial type varint followed by its payload) and the
// row id itself. Only canonically sized headers are accepted so that RejoinIndexKey restores rec
// byte for byte.
func SplitIndexKey(rec []byte) (key, rowidField []byte, rowid int64, err error) {
	hdrSize, fields, err := record.Parse(rec)
	if err != nil {
		return nil, nil, 0, err
	}
	_, n := record.GetVarint(rec)
	if len(fields) < 2 || n != record.VarintLen(uint64(hdrSize)) || record.HeaderSize(hdrSize-n) != hdrSize {
		return nil, nil, 0, record.ErrCorrupt
	}
	last := fields[len(fields)-1]
	if !isIntType(last.Type) {
		return nil, nil, 0, record.ErrCorrupt
	}
	payload := rec[last.Off:]
	rowid = record.DecodeValue(last.Type, payload).I

	typesLen := hdrSize - n - last.TypeLen
	key = make([]byte, 0, len(rec)-last.TypeLen-last.Len)
	key = record.AppendVarint(key, uint64(record.HeaderSize(typesLen)))
	key = append(key, rec[n:last.TypeOff]...)
	key = append(key, rec[hdrSize:last.Off]...)

	rowidField = make([]byte, 0, last.TypeLen+last.Len)
	rowidField = append(rowidField, rec[last.TypeOff:hdrSize]...)
	rowidField = append(rowidField, payload...)
	return key, rowidField, rowid, nil
}

// RejoinIndexKey is the inverse of SplitIndexKey. The record is appended to dst.
func RejoinIndexKey(dst, key, rowidField []byte) ([]byte, error) {
	hdrSize, _, err := record.Parse(key)
	if err != nil {
		return nil, err
	}
	_, n := record.GetVarint(key)
	st, m := record.GetVarint(rowidField)
	if m == 0 || !isIntType(st) || len(rowidField)-m != record.SerialTypeLen(st) {
		return nil, record.ErrCorrupt
	}
	typesLen := hdrSize - n + m
	dst = record.AppendVarint(dst, uint64(record.HeaderSize(typesLen)))
	dst = append(dst, key[n:hdrSize]...)
	dst = append(dst, rowidField[:m]...)
	dst = append(dst, key[hdrSize:]...)
	dst = append(dst, rowidField[m:]...)
	return dst, nil
}

func encodeRowKey(rowid int64) []byte {
	return codec.EncodeInt(make([]byte, 0, rowKeyLen), rowid)
}

func decodeRowKey(key []byte) (int64, error) {
	if len(key) != rowKeyLen {
		return 0, record.ErrCorrupt
	}
	_, rowid, err := codec.DecodeInt(key)
	return rowid, err
}

// indexEntry is an index record laid out for a duplicate-sorted table: the key is the order key
// of the squashed fields that precede the row id, the value is the memcomparable row id followed
// by the split row id field and the split key.
type indexEntry struct {
	key   []byte
	value []byte
	rowid int64
}

func encodeIndexEntry(ki *record.KeyInfo, rec []byte) (indexEntry, error) {
	squashed, err := SquashRecord(nil, rec)
	if err != nil {
		return indexEntry{}, err
	}
	splitKey, rowidField, rowid, err := SplitIndexKey(squashed)
	if err != nil {
		return indexEntry{}, err
	}
	values, err := record.Decode(splitKey)
	if err != nil {
		return indexEntry{}, err
	}
	value := make([]byte, 0, rowKeyLen+len(rowidField)+len(splitKey))
	value = codec.EncodeInt(value, rowid)
	value = append(value, rowidField...)
	value = append(value, splitKey...)
	return indexEntry{
		key:   record.AppendOrderKey(nil, ki, values),
		value: value,
		rowid: rowid,
	}, nil
}

// decodeIndexValue splits a stored index value back into its parts.
func decodeIndexValue(value []byte) (rowid int64, rowidField, splitKey []byte, err error) {
	rest, rowid, err := codec.DecodeInt(value)
	if err != nil {
		return 0, nil, nil, record.ErrCorrupt
	}
	st, m := record.GetVarint(rest)
	if m == 0 {
		return 0, nil, nil, record.ErrCorrupt
	}
	end := m + record.SerialTypeLen(st)
	if end > len(rest) {
		return 0, nil, nil, record.ErrCorrupt
	}
	return rowid, rest[:end], rest[end:], nil
}

// indexKeySize is the size of the rejoined record stored in value, without building it.
func indexKeySize(value []byte) (int, error) {
	_, rowidField, splitKey, err := decodeIndexValue(value)
	if err != nil {
		return 0, err
	}
	hdrSize, n := record.GetVarint(splitKey)
	if n == 0 || hdrSize > uint64(len(splitKey)) {
		return 0, record.ErrCorrupt
	}
	_, m := record.GetVarint(rowidField)
	typesLen := int(hdrSize) - n + m
	return record.HeaderSize(typesLen) + len(splitKey) - int(hdrSize) + len(rowidField) - m, nil
}
