package btree

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/bmatsuo/lmdb-go/lmdb"
	"github.com/pingcap-incubator/sqlmdb/kv/config"
	"github.com/pingcap-incubator/sqlmdb/kv/util/engine_util"
	"github.com/pingcap-incubator/sqlmdb/kv/util/worker"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// tableHandle is an LMDB database handle for one table. epoch is the shared epoch at which the
// handle became usable by transactions other than the one that opened it.
type tableHandle struct {
	dbi   lmdb.DBI
	kind  TableKind
	epoch uint64
}

// sharedDB is one open environment, shared by every connection to the same file.
type sharedDB struct {
	key    string // registry key, empty for private stores
	engine *engine_util.Engine
	refs   atomic.Int32

	mu sync.Mutex
	// writer is the connection holding the write transaction, if any.
	writer *Btree
	// tables holds handles promoted by committed transactions.
	tables map[int]tableHandle
	epoch  uint64
	// rowids caches the last row id known per table, positive values only.
	rowids     map[int]int64
	schema     interface{}
	freeSchema func(interface{})

	reaper   *worker.Worker
	reaperWg sync.WaitGroup
}

var registry = struct {
	sync.Mutex
	dbs map[string]*sharedDB
}{dbs: make(map[string]*sharedDB)}

func newSharedDB(key string, en *engine_util.Engine) *sharedDB {
	return &sharedDB{
		key:    key,
		engine: en,
		tables: make(map[int]tableHandle),
		rowids: make(map[int]int64),
	}
}

// canonicalPath resolves symlinks so that two spellings of one file share an environment.
// The file itself may not exist yet.
func canonicalPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", errors.WithStack(err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	dir, err := filepath.EvalSymlinks(filepath.Dir(abs))
	if err != nil {
		return abs, nil
	}
	return filepath.Join(dir, filepath.Base(abs)), nil
}

func acquireShared(path string, conf *config.Config, readOnly bool) (*sharedDB, error) {
	key, err := canonicalPath(path)
	if err != nil {
		return nil, err
	}
	registry.Lock()
	defer registry.Unlock()
	if db, ok := registry.dbs[key]; ok {
		if !readOnly && db.engine.ReadOnly {
			log.Warn("shared database is open read-only", zap.String("path", key))
			return nil, newErrf(CodeReadOnly, "open", "%s is already open read-only", key)
		}
		refs := db.refs.Inc()
		log.Debug("reuse shared database", zap.String("path", key), zap.Int32("refs", refs))
		return db, nil
	}
	en, err := engine_util.CreateEnv(key, &conf.Engine, readOnly)
	if err != nil {
		return nil, err
	}
	db := newSharedDB(key, en)
	db.refs.Store(1)
	if every, _ := conf.Engine.ReaderCheckEvery(); every > 0 && !readOnly {
		db.startReaper(every)
	}
	registry.dbs[key] = db
	sharedDBGauge.Inc()
	log.Info("open shared database", zap.String("path", key), zap.Bool("read-only", readOnly))
	return db, nil
}

// openPrivate creates a store that is never registered and is removed when released.
func openPrivate(conf *config.Config) (*sharedDB, error) {
	en, err := engine_util.CreateTempEnv(&conf.Engine)
	if err != nil {
		return nil, err
	}
	db := newSharedDB("", en)
	db.refs.Store(1)
	return db, nil
}

func (db *sharedDB) release() error {
	if db.key == "" {
		db.refs.Dec()
		return db.close()
	}
	registry.Lock()
	refs := db.refs.Dec()
	if refs > 0 {
		registry.Unlock()
		log.Debug("release shared database", zap.String("path", db.key), zap.Int32("refs", refs))
		return nil
	}
	delete(registry.dbs, db.key)
	registry.Unlock()
	sharedDBGauge.Dec()
	log.Info("close shared database", zap.String("path", db.key))
	return db.close()
}

type readerCheckTask struct{}

// readerChecker releases reader slots of processes that died inside a read transaction.
type readerChecker struct {
	db *sharedDB
}

func (r readerChecker) Handle(t worker.Task) {
	if _, ok := t.(readerCheckTask); !ok {
		return
	}
	stale, err := r.db.engine.Env.ReaderCheck()
	if err != nil {
		log.Warn("reader check failed", zap.String("path", r.db.key), zap.Error(err))
		return
	}
	if stale > 0 {
		staleReaderCounter.Add(float64(stale))
		log.Info("released stale readers", zap.String("path", r.db.key), zap.Int("readers", stale))
	}
}

func (db *sharedDB) startReaper(every time.Duration) {
	db.reaper = worker.NewWorker("reader-check", &db.reaperWg)
	db.reaper.Start(readerChecker{db: db})
	db.reaper.Tick(every, readerCheckTask{})
}

func (db *sharedDB) close() error {
	if db.reaper != nil {
		db.reaper.Stop()
		db.reaperWg.Wait()
	}
	db.mu.Lock()
	if db.schema != nil && db.freeSchema != nil {
		db.freeSchema(db.schema)
	}
	db.schema, db.freeSchema = nil, nil
	db.mu.Unlock()
	if db.engine.Temp {
		log.Debug("remove private store", zap.String("path", db.engine.Path))
		return db.engine.Destroy()
	}
	return db.engine.Close()
}

// sharedCount reports how many shared databases are registered.
func sharedCount() int {
	registry.Lock()
	defer registry.Unlock()
	return len(registry.dbs)
}

func (db *sharedDB) promote(tables map[int]tableHandle) {
	if len(tables) == 0 {
		return
	}
	db.mu.Lock()
	db.epoch++
	for id, h := range tables {
		h.epoch = db.epoch
		db.tables[id] = h
	}
	db.mu.Unlock()
}

func (db *sharedDB) forget(id int) {
	db.mu.Lock()
	delete(db.tables, id)
	delete(db.rowids, id)
	db.mu.Unlock()
}

func (db *sharedDB) resetRowids() {
	db.mu.Lock()
	db.rowids = make(map[int]int64)
	db.mu.Unlock()
}
