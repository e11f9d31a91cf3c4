package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/loyalty/internal/config"
	"github.com/roach88/loyalty/internal/engine"
	"github.com/roach88/loyalty/internal/store"
	"github.com/roach88/loyalty/internal/store/memory"
)

// errNoDatabase is returned by commands that need persisted state.
var errNoDatabase = errors.New("no database configured: set --db or db in the config file")

// ledgerStore is what the CLI needs from a backend.
type ledgerStore interface {
	engine.Store
	engine.Inbox
	engine.Lister
}

// env is the loaded configuration plus an opened store and engine.
type env struct {
	cfg    config.Config
	logger *slog.Logger
	store  ledgerStore
	sqlite *store.Store // nil for the memory backend
	engine *engine.Engine
}

// loadConfig reads --config and applies flag overrides.
func (o *RootOptions) loadConfig() (config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if o.Database != "" {
		cfg.DB = o.Database
	}
	return cfg, nil
}

// newLogger builds the process logger. --verbose forces debug level.
func (o *RootOptions) newLogger(cfg config.Config, w io.Writer) *slog.Logger {
	level := cfg.SlogLevel()
	if o.Verbose {
		level = slog.LevelDebug
	}
	hopts := &slog.HandlerOptions{Level: level}
	if cfg.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, hopts))
	}
	return slog.New(slog.NewTextHandler(w, hopts))
}

// openEnv loads config and opens the configured store. With requireDB set,
// an empty db path is a command error instead of selecting the memory store.
func (o *RootOptions) openEnv(cmd *cobra.Command, requireDB bool) (*env, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	logger := o.newLogger(cfg, cmd.ErrOrStderr())
	slog.SetDefault(logger)

	ev := &env{cfg: cfg, logger: logger}
	ctx := commandContext(cmd)

	engineOpts := []engine.Option{
		engine.WithPolicy(cfg.Policy()),
		engine.WithLogger(logger),
		engine.WithBufferRetention(cfg.Retention()),
	}

	switch {
	case cfg.DB != "":
		logger.Debug("opening database", "path", cfg.DB)
		st, err := store.Open(cfg.DB)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to open database", err)
		}
		last, err := st.LastReceipt(ctx)
		if err != nil {
			st.Close()
			return nil, WrapExitError(ExitCommandError, "failed to read inbox", err)
		}
		ev.store, ev.sqlite = st, st
		engineOpts = append(engineOpts, engine.WithClock(engine.NewClockAt(last)))
	case requireDB:
		return nil, WrapExitError(ExitCommandError, "missing database", errNoDatabase)
	default:
		logger.Debug("using in-memory store")
		ev.store = memory.New()
	}

	engineOpts = append(engineOpts, engine.WithInbox(ev.store))
	ev.engine = engine.New(ev.store, engineOpts...)
	return ev, nil
}

// Close releases the store.
func (e *env) Close() {
	if e.sqlite == nil {
		return
	}
	if err := e.sqlite.Close(); err != nil {
		e.logger.Error("error closing database", "error", err)
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// storeError wraps a failure to read or write the ledger.
func storeError(err error) error {
	return WrapExitError(ExitCommandError, "store error", err)
}
