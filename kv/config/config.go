package config

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/docker/go-units"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

type Config struct {
	LogLevel string `toml:"log-level"`
	Engine   Engine `toml:"engine"` // Engine options.
}

type Engine struct {
	MapSize    string `toml:"map-size"`    // Upper bound of the memory map, e.g. "1GiB".
	MaxTables  int    `toml:"max-tables"`  // Maximum number of named tables in one store.
	MaxReaders int    `toml:"max-readers"` // Maximum number of concurrent read transactions.

	// Skip the fsync at commit. A system crash may lose the last transactions but never corrupts the store.
	NoSync     bool `toml:"no-sync"`
	NoMetaSync bool `toml:"no-meta-sync"`
	WriteMap   bool `toml:"write-map"`

	FileMode uint32 `toml:"file-mode"`
	TempDir  string `toml:"temp-dir"` // Where private stores are created. Empty means os.TempDir().

	// How often shared stores release reader slots left behind by dead processes, e.g. "1m".
	// Empty or "0" turns the check off.
	ReaderCheckInterval string `toml:"reader-check-interval"`
}

const (
	KB uint64 = 1024
	MB uint64 = 1024 * 1024
)

// minMapSize keeps a store able to hold its meta page and a handful of tables.
const minMapSize = 64 * KB

func (c *Config) Validate() error {
	size, err := c.Engine.MapSizeBytes()
	if err != nil {
		return err
	}
	if uint64(size) < minMapSize {
		return errors.Errorf("map-size %s is smaller than %s", c.Engine.MapSize, units.BytesSize(float64(minMapSize)))
	}
	if c.Engine.MaxTables <= 0 {
		return errors.New("max-tables must be greater than 0")
	}
	if c.Engine.MaxReaders <= 0 {
		return errors.New("max-readers must be greater than 0")
	}
	if c.Engine.FileMode == 0 {
		return errors.New("file-mode must not be 0")
	}
	if _, err := c.Engine.ReaderCheckEvery(); err != nil {
		return err
	}
	if c.Engine.NoSync && c.Engine.WriteMap {
		log.Warn("no-sync together with write-map may lose committed transactions on a system crash")
	}
	return nil
}

// MapSizeBytes parses MapSize, accepting both "1GiB" and "1GB" spellings as binary sizes.
func (e *Engine) MapSizeBytes() (int64, error) {
	size, err := units.RAMInBytes(e.MapSize)
	if err != nil {
		return 0, errors.Annotatef(err, "invalid map-size %q", e.MapSize)
	}
	return size, nil
}

func (e *Engine) ReaderCheckEvery() (time.Duration, error) {
	if e.ReaderCheckInterval == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(e.ReaderCheckInterval)
	if err != nil || d < 0 {
		return 0, errors.Errorf("invalid reader-check-interval %q", e.ReaderCheckInterval)
	}
	return d, nil
}

func (e *Engine) Mode() os.FileMode {
	return os.FileMode(e.FileMode)
}

func getLogLevel() (logLevel string) {
	logLevel = "info"
	if l := os.Getenv("LOG_LEVEL"); len(l) != 0 {
		logLevel = l
	}
	return
}

var DefaultConf = Config{
	LogLevel: "info",
	Engine: Engine{
		MapSize:    "1GiB",
		MaxTables:  1024,
		MaxReaders: 126,
		FileMode:   0644,

		ReaderCheckInterval: "1m",
	},
}

func NewDefaultConfig() *Config {
	conf := DefaultConf
	conf.LogLevel = getLogLevel()
	return &conf
}

func NewTestConfig() *Config {
	return &Config{
		LogLevel: getLogLevel(),
		Engine: Engine{
			MapSize:    "64MiB",
			MaxTables:  128,
			MaxReaders: 32,
			NoSync:     true,
			FileMode:   0644,
		},
	}
}

// LoadFile reads a TOML file on top of the default configuration and validates the result.
func LoadFile(path string) (*Config, error) {
	conf := NewDefaultConfig()
	md, err := toml.DecodeFile(path, conf)
	if err != nil {
		return nil, errors.Trace(err)
	}
	for _, key := range md.Undecoded() {
		log.Warn("unknown config key", zap.String("key", key.String()), zap.String("file", path))
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}
