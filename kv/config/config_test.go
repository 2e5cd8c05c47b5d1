package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	conf := NewDefaultConfig()
	require.Nil(t, conf.Validate())
	size, err := conf.Engine.MapSizeBytes()
	require.Nil(t, err)
	require.Equal(t, int64(1<<30), size)
	require.Equal(t, os.FileMode(0644), conf.Engine.Mode())

	require.Nil(t, NewTestConfig().Validate())
}

func TestValidate(t *testing.T) {
	conf := NewTestConfig()
	conf.Engine.MapSize = "lots"
	require.NotNil(t, conf.Validate())

	conf = NewTestConfig()
	conf.Engine.MapSize = "1KiB"
	require.NotNil(t, conf.Validate())

	conf = NewTestConfig()
	conf.Engine.MaxTables = 0
	require.NotNil(t, conf.Validate())

	conf = NewTestConfig()
	conf.Engine.MaxReaders = -1
	require.NotNil(t, conf.Validate())

	conf = NewTestConfig()
	conf.Engine.ReaderCheckInterval = "-1s"
	require.NotNil(t, conf.Validate())
	conf.Engine.ReaderCheckInterval = "30s"
	require.Nil(t, conf.Validate())
	d, err := conf.Engine.ReaderCheckEvery()
	require.Nil(t, err)
	require.Equal(t, 30*time.Second, d)
}

func TestLoadFile(t *testing.T) {
	dir, err := ioutil.TempDir("", "sqlmdb-config")
	require.Nil(t, err)
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "sqlmdb.toml")
	content := `
log-level = "debug"

[engine]
map-size = "256MB"
max-tables = 16
no-sync = true
`
	require.Nil(t, ioutil.WriteFile(path, []byte(content), 0644))

	conf, err := LoadFile(path)
	require.Nil(t, err)
	require.Equal(t, "debug", conf.LogLevel)
	require.Equal(t, 16, conf.Engine.MaxTables)
	require.True(t, conf.Engine.NoSync)
	// untouched keys keep their defaults
	require.Equal(t, DefaultConf.Engine.MaxReaders, conf.Engine.MaxReaders)
	size, err := conf.Engine.MapSizeBytes()
	require.Nil(t, err)
	require.Equal(t, int64(256<<20), size)

	require.Nil(t, ioutil.WriteFile(path, []byte("[engine]\nmax-tables = 0\n"), 0644))
	_, err = LoadFile(path)
	require.NotNil(t, err)

	_, err = LoadFile(filepath.Join(dir, "missing.toml"))
	require.NotNil(t, err)
}
