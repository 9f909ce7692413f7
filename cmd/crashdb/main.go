// Command crashdb is an interactive shell over a small write-ahead-logged table store.
// Statements are read from stdin; CRASH ends the process without any shutdown work.
package main

import (
	"os"
	"path/filepath"
	"time"

	"crashdb/config"
	"crashdb/engine"
	"crashdb/logger"
	"crashdb/shell"

	"github.com/alecthomas/kong"
)

type CLI struct {
	Config      string        `short:"c" type:"existingfile" help:"INI configuration file."`
	Dir         string        `short:"d" type:"path" help:"Database directory (overrides the config file)."`
	Buffers     int           `short:"b" help:"Number of buffer pool frames."`
	BlockSize   int           `name:"block-size" help:"Page size in bytes. Must match an existing database."`
	Replacement string        `help:"Buffer replacement strategy (lru, naive)."`
	LockTimeout time.Duration `name:"lock-timeout" help:"How long a lock request waits before aborting."`
	LogLevel    string        `name:"log-level" help:"Log level (debug, info, warn, error)."`
	History     string        `help:"Readline history file for interactive sessions."`
}

func (c *CLI) load() (config.Config, error) {
	cfg := config.Default()
	if c.Config != "" {
		var err error
		if cfg, err = config.Load(c.Config); err != nil {
			return cfg, err
		}
	}
	if c.Dir != "" {
		cfg.Dir = c.Dir
	}
	if c.Buffers > 0 {
		cfg.PoolSize = c.Buffers
	}
	if c.BlockSize > 0 {
		cfg.BlockSize = c.BlockSize
	}
	if c.Replacement != "" {
		cfg.Replacement = c.Replacement
	}
	if c.LockTimeout > 0 {
		cfg.LockTimeout = c.LockTimeout
	}
	if c.LogLevel != "" {
		cfg.LogLevel = c.LogLevel
	}
	return cfg, cfg.Validate()
}

func (c *CLI) run() error {
	cfg, err := c.load()
	if err != nil {
		return err
	}
	if err := logger.Setup(cfg.LogConfig()); err != nil {
		return err
	}
	db, err := engine.Open(cfg)
	if err != nil {
		return err
	}

	session := shell.New(db, os.Stdout, os.Exit)
	if shell.IsTerminal() {
		history := c.History
		if history == "" {
			history = filepath.Join(cfg.Dir, ".crashdb_history")
		}
		err = session.RunInteractive(history)
	} else {
		err = session.Run(os.Stdin)
	}
	if cerr := db.Close(); err == nil {
		err = cerr
	}
	return err
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("crashdb"),
		kong.Description("A crash-recoverable table store with a SQL shell."),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
	)
	ctx.FatalIfErrorf(cli.run())
}
