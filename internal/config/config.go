// Package config loads service configuration.
//
// Sources, lowest to highest precedence: Default(), an optional CUE or JSON
// file validated against the embedded #Config schema, TICKETSYNC_*
// environment variables. Command-line flags are applied by the caller.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/caarlos0/env/v11"
)

//go:embed schema.cue
var schemaCUE string

// Config is the resolved service configuration.
type Config struct {
	ListenAddr      string        `env:"TICKETSYNC_LISTEN_ADDR"`
	DBPath          string        `env:"TICKETSYNC_DB_PATH"`
	RollbackTimeout time.Duration `env:"TICKETSYNC_ROLLBACK_TIMEOUT"`
	SweepInterval   time.Duration `env:"TICKETSYNC_SWEEP_INTERVAL"`
	ShutdownTimeout time.Duration `env:"TICKETSYNC_SHUTDOWN_TIMEOUT"`
	OutboxSize      int           `env:"TICKETSYNC_OUTBOX_SIZE"`
	MaxFrameBytes   int           `env:"TICKETSYNC_MAX_FRAME_BYTES"`
	LogLevel        string        `env:"TICKETSYNC_LOG_LEVEL"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ListenAddr:      ":8080",
		DBPath:          "ticketsync.db",
		RollbackTimeout: 5 * time.Second,
		SweepInterval:   100 * time.Millisecond,
		ShutdownTimeout: 5 * time.Second,
		OutboxSize:      256,
		MaxFrameBytes:   64 << 10,
		LogLevel:        "info",
	}
}

// fileConfig mirrors #Config. Absent fields stay nil.
type fileConfig struct {
	ListenAddr      *string `json:"listenAddr"`
	DBPath          *string `json:"dbPath"`
	RollbackTimeout *string `json:"rollbackTimeout"`
	SweepInterval   *string `json:"sweepInterval"`
	ShutdownTimeout *string `json:"shutdownTimeout"`
	OutboxSize      *int    `json:"outboxSize"`
	MaxFrameBytes   *int    `json:"maxFrameBytes"`
	LogLevel        *string `json:"logLevel"`
}

// Load resolves configuration from the optional file at path (empty means
// none) and the process environment.
func Load(path string) (Config, error) {
	return LoadWithEnv(path, nil)
}

// LoadWithEnv is Load with an explicit environment. A nil map reads the
// process environment.
func LoadWithEnv(path string, environ map[string]string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := applyFile(&cfg, path, data); err != nil {
			return Config{}, err
		}
	}

	opts := env.Options{}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyFile validates data against #Config and overlays the fields it sets.
func applyFile(cfg *Config, filename string, data []byte) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	value := ctx.CompileBytes(data, cue.Filename(filename))
	if err := value.Err(); err != nil {
		return fmt.Errorf("parse %s: %s", filename, cueerrors.Details(err, nil))
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config %s: %s", filename, strings.TrimSpace(cueerrors.Details(err, nil)))
	}

	var fc fileConfig
	if err := unified.Decode(&fc); err != nil {
		return fmt.Errorf("decode %s: %w", filename, err)
	}

	if fc.ListenAddr != nil {
		cfg.ListenAddr = *fc.ListenAddr
	}
	if fc.DBPath != nil {
		cfg.DBPath = *fc.DBPath
	}
	for _, d := range []struct {
		raw *string
		dst *time.Duration
	}{
		{fc.RollbackTimeout, &cfg.RollbackTimeout},
		{fc.SweepInterval, &cfg.SweepInterval},
		{fc.ShutdownTimeout, &cfg.ShutdownTimeout},
	} {
		if d.raw == nil {
			continue
		}
		parsed, err := time.ParseDuration(*d.raw)
		if err != nil {
			return fmt.Errorf("invalid config %s: %w", filename, err)
		}
		*d.dst = parsed
	}
	if fc.OutboxSize != nil {
		cfg.OutboxSize = *fc.OutboxSize
	}
	if fc.MaxFrameBytes != nil {
		cfg.MaxFrameBytes = *fc.MaxFrameBytes
	}
	if fc.LogLevel != nil {
		cfg.LogLevel = *fc.LogLevel
	}
	return nil
}

// Validate checks cross-source invariants after all layers are applied.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.ListenAddr) == "" {
		errs = append(errs, errors.New("listen address is required"))
	}
	if strings.TrimSpace(c.DBPath) == "" {
		errs = append(errs, errors.New("database path is required"))
	}
	if c.RollbackTimeout <= 0 {
		errs = append(errs, errors.New("rollback timeout must be positive"))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, errors.New("sweep interval must be positive"))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("shutdown timeout must be positive"))
	}
	if c.OutboxSize < 0 {
		errs = append(errs, errors.New("outbox size must not be negative"))
	}
	if c.MaxFrameBytes <= 0 {
		errs = append(errs, errors.New("max frame bytes must be positive"))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Level parses LogLevel.
func (c Config) Level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log level %q: %w", c.LogLevel, err)
	}
	return lvl, nil
}
