package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoad_NoFileNoEnv(t *testing.T) {
	cfg, err := LoadWithEnv("", map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_CUEFile(t *testing.T) {
	path := writeFile(t, "ticketsync.cue", `
listenAddr:      "127.0.0.1:9000"
rollbackTimeout: "2s"
sweepInterval:   "50ms"
outboxSize:      32
logLevel:        "debug"
`)
	cfg, err := LoadWithEnv(path, map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.ListenAddr)
	assert.Equal(t, 2*time.Second, cfg.RollbackTimeout)
	assert.Equal(t, 50*time.Millisecond, cfg.SweepInterval)
	assert.Equal(t, 32, cfg.OutboxSize)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, Default().DBPath, cfg.DBPath, "unset fields keep defaults")
}

func TestLoad_JSONFile(t *testing.T) {
	path := writeFile(t, "ticketsync.json", `{"dbPath": "/var/lib/ticketsync/board.db", "maxFrameBytes": 1024}`)
	cfg, err := LoadWithEnv(path, map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/ticketsync/board.db", cfg.DBPath)
	assert.Equal(t, 1024, cfg.MaxFrameBytes)
}

func TestLoad_SchemaRejects(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown field", `listenPort: 80`},
		{"bad duration", `rollbackTimeout: "soon"`},
		{"negative outbox", `outboxSize: -1`},
		{"wrong type", `maxFrameBytes: "big"`},
		{"bad level", `logLevel: "trace"`},
		{"empty addr", `listenAddr: ""`},
		{"syntax", `listenAddr: [`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, "bad.cue", tt.content)
			_, err := LoadWithEnv(path, map[string]string{})
			assert.Error(t, err)
		})
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "ticketsync.cue", `listenAddr: "127.0.0.1:9000"
rollbackTimeout: "2s"`)
	cfg, err := LoadWithEnv(path, map[string]string{
		"TICKETSYNC_LISTEN_ADDR":      ":7000",
		"TICKETSYNC_SWEEP_INTERVAL":   "1s",
		"TICKETSYNC_MAX_FRAME_BYTES":  "2048",
		"TICKETSYNC_UNRELATED_SWITCH": "x",
	})
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.ListenAddr)
	assert.Equal(t, 2*time.Second, cfg.RollbackTimeout, "file value kept when env is silent")
	assert.Equal(t, time.Second, cfg.SweepInterval)
	assert.Equal(t, 2048, cfg.MaxFrameBytes)
}

func TestLoad_EnvInvalid(t *testing.T) {
	_, err := LoadWithEnv("", map[string]string{"TICKETSYNC_OUTBOX_SIZE": "lots"})
	assert.Error(t, err)

	_, err = LoadWithEnv("", map[string]string{"TICKETSYNC_ROLLBACK_TIMEOUT": "0s"})
	assert.ErrorContains(t, err, "rollback timeout must be positive")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := LoadWithEnv(filepath.Join(t.TempDir(), "absent.cue"), map[string]string{})
	assert.ErrorContains(t, err, "read config")
}

func TestLevel(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "warn"
	lvl, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, "WARN", lvl.String())
}
