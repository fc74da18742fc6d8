package toolexec

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ruteri/esp-secure-provisioning/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newShellRunner() *Runner {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRunner(map[string][]string{
		"shell":   {"sh", "-c"},
		"missing": {"definitely-not-an-installed-tool-8c1f"},
	}, logger)
}

func TestRunnerCapturesOutput(t *testing.T) {
	r := newShellRunner()

	res, err := r.Run(context.Background(), interfaces.Command{
		Tool: "shell",
		Args: []string{"echo out; echo err >&2"},
	})
	require.NoError(t, err)
	assert.Equal(t, "out\n", res.Stdout)
	assert.Equal(t, "err\n", res.Stderr)
	assert.Equal(t, 0, res.ExitCode)
}

func TestRunnerFeedsStdin(t *testing.T) {
	r := newShellRunner()

	res, err := r.Run(context.Background(), interfaces.Command{
		Tool:  "shell",
		Args:  []string{"cat"},
		Stdin: "BURN\n",
	})
	require.NoError(t, err)
	assert.Equal(t, "BURN\n", res.Stdout)
}

func TestRunnerNonZeroExit(t *testing.T) {
	r := newShellRunner()

	res, err := r.Run(context.Background(), interfaces.Command{
		Tool: "shell",
		Args: []string{"echo boom >&2; exit 3"},
	})
	require.Error(t, err)

	var toolErr *interfaces.ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, 3, toolErr.ExitCode)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, "boom\n", interfaces.ToolOutput(err))
	assert.Equal(t, 3, res.ExitCode)
}

func TestRunnerTimeout(t *testing.T) {
	r := newShellRunner()

	_, err := r.Run(context.Background(), interfaces.Command{
		Tool:    "shell",
		Args:    []string{"exec sleep 5"},
		Timeout: 50 * time.Millisecond,
	})
	require.ErrorIs(t, err, interfaces.ErrToolTimeout)
}

func TestRunnerParentCancel(t *testing.T) {
	r := newShellRunner()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Run(ctx, interfaces.Command{Tool: "shell", Args: []string{"exec sleep 5"}})
	require.Error(t, err)
	assert.NotErrorIs(t, err, interfaces.ErrToolTimeout)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunnerToolNotFound(t *testing.T) {
	r := newShellRunner()

	_, err := r.Run(context.Background(), interfaces.Command{Tool: "missing"})
	require.ErrorIs(t, err, interfaces.ErrToolNotFound)
	assert.False(t, r.Available("missing"))
	assert.True(t, r.Available("shell"))
}

func TestRunnerStreamsOutput(t *testing.T) {
	var streamed bytes.Buffer
	r := newShellRunner().WithOutput(&streamed, io.Discard)

	res, err := r.Run(context.Background(), interfaces.Command{
		Tool:   "shell",
		Args:   []string{"echo progress"},
		Stream: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "progress\n", res.Stdout)
	assert.Equal(t, "progress\n", streamed.String())
}

func TestMatches(t *testing.T) {
	cmd := interfaces.Command{
		Tool: interfaces.ToolEspefuse,
		Args: []string{"--port", "/dev/ttyUSB0", "burn_efuse", "SECURE_BOOT_EN"},
	}

	assert.True(t, Matches(cmd, interfaces.ToolEspefuse))
	assert.True(t, Matches(cmd, interfaces.ToolEspefuse, "burn_efuse", "SECURE_BOOT_EN"))
	assert.False(t, Matches(cmd, interfaces.ToolEspefuse, "burn_efuse", "FLASH_CRYPT_CNT"))
	assert.False(t, Matches(cmd, interfaces.ToolEspsecure, "burn_efuse"))
}
