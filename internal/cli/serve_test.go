package cli

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeCommandStartsAndStops(t *testing.T) {
	db := filepath.Join(t.TempDir(), "board.db")
	out := &syncBuffer{}
	errOut := &syncBuffer{}

	cmd := NewServeCommand(&RootOptions{Format: "text"})
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs([]string{"--addr", "127.0.0.1:0", "--db", db})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	require.Eventually(t, func() bool {
		_, err := os.Stat(db)
		return err == nil && strings.Contains(out.String(), "Serving on")
	}, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, out.String(), "Serving on 127.0.0.1:0")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop after cancel")
	}
	assert.Contains(t, errOut.String(), "server stopped gracefully")
}

func TestServeCommandAddressInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cmd := NewServeCommand(&RootOptions{Format: "text"})
	cmd.SetOut(&syncBuffer{})
	cmd.SetErr(&syncBuffer{})
	cmd.SetArgs([]string{"--addr", ln.Addr().String(), "--db", filepath.Join(t.TempDir(), "board.db")})

	err = cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server error")
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestServeCommandInvalidConfig(t *testing.T) {
	cmd := NewServeCommand(&RootOptions{Format: "text", ConfigPath: filepath.Join(t.TempDir(), "missing.cue")})
	cmd.SetOut(&syncBuffer{})
	cmd.SetErr(&syncBuffer{})
	cmd.SetArgs([]string{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
