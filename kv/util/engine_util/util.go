package engine_util

import (
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/bmatsuo/lmdb-go/lmdb"
	"github.com/pingcap/errors"
)

// MetaKey is the key of the meta blob in the unnamed root database. It sorts after every table name.
var MetaKey = []byte("~meta")

// Meta slots. Slot 0 and MetaDataVersion are computed on read and never stored.
const (
	MetaFreePageCount = iota
	MetaSchemaVersion
	MetaFileFormat
	MetaDefaultCacheSize
	MetaLargestTable
	MetaTextEncoding
	MetaUserVersion
	MetaIncrVacuum
	MetaApplicationID

	MetaDataVersion = 15
	MetaSlots       = 16
)

type Meta [MetaSlots]uint32

func TableName(id int) string {
	return fmt.Sprintf("%08x", id)
}

// ParseTableName is the inverse of TableName. Names written by anyone else are rejected.
func ParseTableName(name []byte) (int, bool) {
	if len(name) != 8 {
		return 0, false
	}
	id, err := strconv.ParseUint(string(name), 16, 32)
	if err != nil || TableName(int(id)) != string(name) {
		return 0, false
	}
	return int(id), true
}

// GetMeta reads the meta blob from the root database. A store that has none yet reads as all zeros.
func GetMeta(txn *lmdb.Txn) (Meta, error) {
	var meta Meta
	root, err := txn.OpenRoot(0)
	if err != nil {
		return meta, errors.WithStack(err)
	}
	val, err := txn.Get(root, MetaKey)
	if lmdb.IsNotFound(err) {
		return meta, nil
	}
	if err != nil {
		return meta, errors.WithStack(err)
	}
	if len(val) != MetaSlots*4 {
		return meta, errors.Errorf("meta blob has %d bytes", len(val))
	}
	for i := range meta {
		meta[i] = binary.BigEndian.Uint32(val[i*4:])
	}
	return meta, nil
}

func PutMeta(txn *lmdb.Txn, meta Meta) error {
	root, err := txn.OpenRoot(0)
	if err != nil {
		return errors.WithStack(err)
	}
	val := make([]byte, MetaSlots*4)
	for i, v := range meta {
		binary.BigEndian.PutUint32(val[i*4:], v)
	}
	return errors.WithStack(txn.Put(root, MetaKey, val, 0))
}

// ListTables returns the ids of every table stored in the environment, in ascending order.
func ListTables(txn *lmdb.Txn) ([]int, error) {
	root, err := txn.OpenRoot(0)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	it, err := NewIterator(txn, root)
	if err != nil {
		return nil, err
	}
	defer it.Close()
	var ids []int
	for it.Rewind(); it.Valid(); it.Next() {
		if id, ok := ParseTableName(it.Item().Key()); ok {
			ids = append(ids, id)
		}
	}
	return ids, it.Err()
}
