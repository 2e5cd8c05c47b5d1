package engine_util

import (
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/bmatsuo/lmdb-go/lmdb"
	"github.com/pingcap-incubator/sqlmdb/kv/config"
	"github.com/pingcap-incubator/sqlmdb/kv/util"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// LockSuffix is appended to the data file path to name the LMDB lock file.
const LockSuffix = "-lock"

// Engine keeps a reference to an open LMDB environment and where it lives on disk.
// Environments are always opened without a subdirectory, so a store is exactly
// two files: Path and LockPath.
type Engine struct {
	Env      *lmdb.Env
	Path     string
	LockPath string
	ReadOnly bool

	// Temp stores live in a private directory that is removed by Destroy.
	Temp    bool
	tempDir string
}

// CreateEnv opens the LMDB environment stored at path, creating it unless readOnly is set.
func CreateEnv(path string, conf *config.Engine, readOnly bool) (*Engine, error) {
	mapSize, err := conf.MapSizeBytes()
	if err != nil {
		return nil, err
	}
	env, err := lmdb.NewEnv()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if err = configure(env, conf, mapSize); err != nil {
		env.Close()
		return nil, err
	}
	flags := uint(lmdb.NoSubdir)
	if readOnly {
		flags |= lmdb.Readonly
	}
	if conf.NoSync {
		flags |= lmdb.NoSync
	}
	if conf.NoMetaSync {
		flags |= lmdb.NoMetaSync
	}
	if conf.WriteMap && !readOnly {
		flags |= lmdb.WriteMap
	}
	if err = env.Open(path, flags, conf.Mode()); err != nil {
		env.Close()
		return nil, errors.WithStack(err)
	}
	if stale, err := env.ReaderCheck(); err == nil && stale > 0 {
		log.Info("released stale readers", zap.String("path", path), zap.Int("readers", stale))
	}
	return &Engine{
		Env:      env,
		Path:     path,
		LockPath: path + LockSuffix,
		ReadOnly: readOnly,
	}, nil
}

func configure(env *lmdb.Env, conf *config.Engine, mapSize int64) error {
	if err := env.SetMaxDBs(conf.MaxTables); err != nil {
		return errors.WithStack(err)
	}
	if err := env.SetMapSize(mapSize); err != nil {
		return errors.WithStack(err)
	}
	if err := env.SetMaxReaders(conf.MaxReaders); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// CreateTempEnv opens a private store in a fresh directory under conf.TempDir.
func CreateTempEnv(conf *config.Engine) (*Engine, error) {
	if conf.TempDir != "" && !util.DirExists(conf.TempDir) {
		return nil, errors.Errorf("temp-dir %s does not exist", conf.TempDir)
	}
	dir, err := ioutil.TempDir(conf.TempDir, "sqlmdb-")
	if err != nil {
		return nil, errors.WithStack(err)
	}
	en, err := CreateEnv(filepath.Join(dir, "temp.mdb"), conf, false)
	if err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	en.Temp = true
	en.tempDir = dir
	return en, nil
}

func (en *Engine) Close() error {
	if en.Env == nil {
		return nil
	}
	err := en.Env.Close()
	en.Env = nil
	return errors.WithStack(err)
}

// Destroy closes the environment and removes its files.
func (en *Engine) Destroy() error {
	if err := en.Close(); err != nil {
		return err
	}
	if en.Temp {
		return errors.WithStack(os.RemoveAll(en.tempDir))
	}
	for _, path := range []string{en.Path, en.LockPath} {
		if _, err := util.DeleteFileIfExists(path); err != nil {
			return err
		}
	}
	return nil
}

// Size returns the size of the data file.
func (en *Engine) Size() (uint64, error) {
	return util.GetFileSize(en.Path)
}
