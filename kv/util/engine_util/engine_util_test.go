package engine_util

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/bmatsuo/lmdb-go/lmdb"
	"github.com/pingcap-incubator/sqlmdb/kv/config"
	"github.com/pingcap-incubator/sqlmdb/kv/util"
	"github.com/stretchr/testify/require"
)

func TestTableName(t *testing.T) {
	require.Equal(t, "00000001", TableName(1))
	require.Equal(t, "000000ff", TableName(255))

	id, ok := ParseTableName([]byte("0000002a"))
	require.True(t, ok)
	require.Equal(t, 42, id)

	for _, name := range []string{"2a", "0000002A", "~meta", "0000002g", "000000002a"} {
		_, ok = ParseTableName([]byte(name))
		require.False(t, ok, name)
	}
}

func TestEngineUtil(t *testing.T) {
	dir, err := ioutil.TempDir("", "engine_util")
	require.Nil(t, err)
	defer os.RemoveAll(dir)

	conf := config.NewTestConfig()
	en, err := CreateEnv(filepath.Join(dir, "data.mdb"), &conf.Engine, false)
	require.Nil(t, err)
	require.Equal(t, filepath.Join(dir, "data.mdb-lock"), en.LockPath)

	err = en.Env.Update(func(txn *lmdb.Txn) error {
		meta, err := GetMeta(txn)
		require.Nil(t, err)
		require.Equal(t, Meta{}, meta)

		meta[MetaSchemaVersion] = 7
		meta[MetaLargestTable] = 3
		if err := PutMeta(txn, meta); err != nil {
			return err
		}
		for _, id := range []int{3, 1, 2} {
			dbi, err := txn.OpenDBI(TableName(id), lmdb.Create)
			if err != nil {
				return err
			}
			if err := txn.Put(dbi, []byte("a"), []byte{byte(id)}, 0); err != nil {
				return err
			}
		}
		return nil
	})
	require.Nil(t, err)

	err = en.Env.View(func(txn *lmdb.Txn) error {
		meta, err := GetMeta(txn)
		require.Nil(t, err)
		require.Equal(t, uint32(7), meta[MetaSchemaVersion])
		require.Equal(t, uint32(3), meta[MetaLargestTable])

		ids, err := ListTables(txn)
		require.Nil(t, err)
		require.Equal(t, []int{1, 2, 3}, ids)

		dbi, err := txn.OpenDBI(TableName(2), 0)
		require.Nil(t, err)
		it, err := NewIterator(txn, dbi)
		require.Nil(t, err)
		defer it.Close()
		it.Seek([]byte("a"))
		require.True(t, it.Valid())
		item := it.Item()
		require.Equal(t, []byte("a"), item.KeyCopy(nil))
		require.Equal(t, []byte{2}, item.ValueCopy(nil))
		require.Equal(t, 1, item.ValueSize())
		it.Next()
		require.False(t, it.Valid())
		it.Seek([]byte("b"))
		require.False(t, it.Valid())
		return it.Err()
	})
	require.Nil(t, err)

	size, err := en.Size()
	require.Nil(t, err)
	require.True(t, size > 0)

	require.Nil(t, en.Destroy())
	require.False(t, util.FileExists(en.Path))
	require.False(t, util.FileExists(en.LockPath))
}

func TestTempEnv(t *testing.T) {
	conf := config.NewTestConfig()
	en, err := CreateTempEnv(&conf.Engine)
	require.Nil(t, err)
	require.True(t, en.Temp)
	require.True(t, util.FileExists(en.Path))
	require.Nil(t, en.Destroy())
	require.False(t, util.DirExists(filepath.Dir(en.Path)))

	conf.Engine.TempDir = filepath.Join(os.TempDir(), "sqlmdb-no-such-dir")
	_, err = CreateTempEnv(&conf.Engine)
	require.NotNil(t, err)
}

func TestReadOnlyMissing(t *testing.T) {
	dir, err := ioutil.TempDir("", "engine_util")
	require.Nil(t, err)
	defer os.RemoveAll(dir)

	conf := config.NewTestConfig()
	_, err = CreateEnv(filepath.Join(dir, "missing.mdb"), &conf.Engine, true)
	require.NotNil(t, err)
}
