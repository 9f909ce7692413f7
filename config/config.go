// Package config loads engine settings from an ini file, falling back to defaults for anything missing.
package config

import (
	"time"

	"crashdb/buffer"
	"crashdb/logger"

	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
)

/*
Example file:

	[storage]
	dir        = data
	block_size = 4096

	[buffer]
	pool_size   = 64
	replacement = lru
	pin_timeout = 10s

	[lock]
	timeout = 10s

	[log]
	level = info
	file  =
*/
type Config struct {
	Dir         string
	BlockSize   int
	PoolSize    int
	Replacement string
	PinTimeout  time.Duration
	LockTimeout time.Duration
	LogLevel    string
	LogFile     string
}

func Default() Config {
	return Config{
		Dir:         "data",
		BlockSize:   4096,
		PoolSize:    64,
		Replacement: "lru",
		PinTimeout:  10 * time.Second,
		LockTimeout: 10 * time.Second,
		LogLevel:    "warn",
	}
}

// Load reads path on top of the defaults.
func Load(path string) (Config, error) {
	raw, err := ini.Load(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "cannot load config %s", path)
	}
	return parse(raw)
}

// LoadBytes is Load for an in-memory file.
func LoadBytes(data []byte) (Config, error) {
	raw, err := ini.Load(data)
	if err != nil {
		return Config{}, errors.Wrap(err, "cannot parse config")
	}
	return parse(raw)
}

func parse(raw *ini.File) (Config, error) {
	cfg := Default()

	storage := raw.Section("storage")
	cfg.Dir = storage.Key("dir").MustString(cfg.Dir)
	cfg.BlockSize = storage.Key("block_size").MustInt(cfg.BlockSize)

	pool := raw.Section("buffer")
	cfg.PoolSize = pool.Key("pool_size").MustInt(cfg.PoolSize)
	cfg.Replacement = pool.Key("replacement").MustString(cfg.Replacement)
	cfg.PinTimeout = pool.Key("pin_timeout").MustDuration(cfg.PinTimeout)

	cfg.LockTimeout = raw.Section("lock").Key("timeout").MustDuration(cfg.LockTimeout)

	logs := raw.Section("log")
	cfg.LogLevel = logs.Key("level").MustString(cfg.LogLevel)
	cfg.LogFile = logs.Key("file").String()

	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch {
	case c.Dir == "":
		return errors.New("storage dir is empty")
	case c.BlockSize < 128:
		return errors.Errorf("block_size %d is below the 128 byte minimum", c.BlockSize)
	case c.PoolSize < 3:
		return errors.Errorf("pool_size %d is below the minimum of 3 frames", c.PoolSize)
	case c.PinTimeout <= 0 || c.LockTimeout <= 0:
		return errors.New("timeouts must be positive")
	}
	if _, err := buffer.StrategyByName(c.Replacement); err != nil {
		return err
	}
	return nil
}

func (c Config) LogConfig() logger.LogConfig {
	return logger.LogConfig{Level: c.LogLevel, File: c.LogFile}
}
