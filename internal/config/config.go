// Package config loads service configuration from CUE.
//
// A config file is unified with the embedded #Config schema, so every field
// is optional and type errors are reported with file positions.
//
//	points: threshold: 100
//	buffer: retention: "72h"
//	db: "/var/lib/loyalty/ledger.db"
package config

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/loyalty/internal/ledger"
)

//go:embed schema.cue
var schemaCUE string

// Config is the decoded configuration.
type Config struct {
	Points PointsConfig `json:"points"`
	Buffer BufferConfig `json:"buffer"`
	HTTP   HTTPConfig   `json:"http"`
	DB     string       `json:"db"`
	AMQP   AMQPConfig   `json:"amqp"`
	Log    LogConfig    `json:"log"`
}

type PointsConfig struct {
	Threshold    int64 `json:"threshold"`
	ExpiryMonths int   `json:"expiry_months"`
}

type BufferConfig struct {
	Retention     string `json:"retention"`
	SweepInterval string `json:"sweep_interval"`
}

type HTTPConfig struct {
	Addr string `json:"addr"`
}

type AMQPConfig struct {
	URL      string `json:"url"`
	Queue    string `json:"queue"`
	Prefetch int    `json:"prefetch"`
}

type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Error is a configuration error with its source position, when known.
type Error struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Default returns the configuration with every field at its default.
func Default() Config {
	cfg, err := Parse(nil, "")
	if err != nil {
		panic(fmt.Sprintf("config: embedded schema: %v", err))
	}
	return cfg
}

// Load reads and parses the CUE file at path. An empty path yields Default().
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data, path)
}

// Parse unifies src with the schema and decodes the result.
// filename is used for error positions only.
func Parse(src []byte, filename string) (Config, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return Config{}, formatCUEError(err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	value := def
	if len(src) > 0 {
		user := ctx.CompileBytes(src, cue.Filename(filename))
		if err := user.Err(); err != nil {
			return Config{}, formatCUEError(err)
		}
		value = def.Unify(user)
	}

	if err := value.Validate(cue.Concrete(true)); err != nil {
		return Config{}, formatCUEError(err)
	}

	var cfg Config
	if err := value.Decode(&cfg); err != nil {
		return Config{}, formatCUEError(err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// validate checks what the schema cannot express.
func (c Config) validate() error {
	for field, s := range map[string]string{
		"buffer.retention":      c.Buffer.Retention,
		"buffer.sweep_interval": c.Buffer.SweepInterval,
	} {
		d, err := time.ParseDuration(s)
		if err != nil {
			return &Error{Field: field, Message: err.Error()}
		}
		if d < 0 {
			return &Error{Field: field, Message: "must not be negative"}
		}
	}
	return c.Policy().Validate()
}

// Policy returns the points policy.
func (c Config) Policy() ledger.Policy {
	return ledger.Policy{Threshold: c.Points.Threshold, ExpiryMonths: c.Points.ExpiryMonths}
}

// Retention returns the buffer retention; zero means unbounded.
func (c Config) Retention() time.Duration {
	d, _ := time.ParseDuration(c.Buffer.Retention)
	return d
}

// SweepInterval returns how often expired buffer entries are evicted.
func (c Config) SweepInterval() time.Duration {
	d, _ := time.ParseDuration(c.Buffer.SweepInterval)
	return d
}

// SlogLevel maps log.level to a slog.Level.
func (c Config) SlogLevel() slog.Level {
	switch c.Log.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	field := "config"
	if path := first.Path(); len(path) > 0 {
		field = strings.Join(path, ".")
	}
	msg, args := first.Msg()
	e := &Error{Field: field, Message: fmt.Sprintf(msg, args...)}
	if positions := errors.Positions(first); len(positions) > 0 {
		e.Pos = positions[0]
	}
	return e
}
