package toolexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/ruteri/esp-secure-provisioning/interfaces"
)

// waitDelay bounds how long Wait blocks on pipes held open by grandchildren
// after the tool itself was killed.
const waitDelay = 2 * time.Second

// DefaultTools maps each logical tool to the argv prefix used to start it.
// The esptool family is started through the Python module entry points, the
// same way PlatformIO invokes them.
func DefaultTools() map[string][]string {
	return map[string][]string{
		interfaces.ToolEspefuse:   {"python3", "-m", "espefuse"},
		interfaces.ToolEspsecure:  {"python3", "-m", "espsecure"},
		interfaces.ToolEsptool:    {"python3", "-m", "esptool"},
		interfaces.ToolPio:        {"pio"},
		interfaces.ToolOpenSSL:    {"openssl"},
		interfaces.ToolMklittlefs: {"mklittlefs"},
	}
}

// Runner executes vendor tools as subprocesses.
type Runner struct {
	tools  map[string][]string
	log    *slog.Logger
	stdout io.Writer
	stderr io.Writer
}

// NewRunner creates a runner. Entries in tools override DefaultTools; a tool
// missing from both is started by its logical name.
func NewRunner(tools map[string][]string, log *slog.Logger) *Runner {
	merged := DefaultTools()
	for name, argv := range tools {
		if len(argv) > 0 {
			merged[name] = argv
		}
	}
	return &Runner{
		tools:  merged,
		log:    log,
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
}

// WithOutput sets where streamed commands echo their output.
func (r *Runner) WithOutput(stdout, stderr io.Writer) *Runner {
	r.stdout = stdout
	r.stderr = stderr
	return r
}

func (r *Runner) argv(tool string) []string {
	if prefix, ok := r.tools[tool]; ok {
		return append([]string(nil), prefix...)
	}
	return []string{tool}
}

// Available reports whether the tool's executable can be found on PATH.
func (r *Runner) Available(tool string) bool {
	_, err := exec.LookPath(r.argv(tool)[0])
	return err == nil
}

// Run executes cmd and captures its output.
func (r *Runner) Run(ctx context.Context, cmd interfaces.Command) (*interfaces.Result, error) {
	runCtx := ctx
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	argv := append(r.argv(cmd.Tool), cmd.Args...)
	c := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	c.Dir = cmd.Dir
	c.WaitDelay = waitDelay
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}
	if cmd.Stdin != "" {
		c.Stdin = strings.NewReader(cmd.Stdin)
	}

	var stdout, stderr bytes.Buffer
	if cmd.Stream {
		c.Stdout = io.MultiWriter(&stdout, r.stdout)
		c.Stderr = io.MultiWriter(&stderr, r.stderr)
	} else {
		c.Stdout = &stdout
		c.Stderr = &stderr
	}

	r.log.Debug("Running tool",
		slog.String("tool", cmd.Tool),
		slog.String("argv", strings.Join(argv, " ")),
		slog.Duration("timeout", cmd.Timeout))

	start := time.Now()
	err := c.Run()
	result := &interfaces.Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: c.ProcessState.ExitCode(),
		Duration: time.Since(start),
	}

	if err == nil {
		r.log.Debug("Tool finished",
			slog.String("tool", cmd.Tool),
			slog.Duration("duration", result.Duration))
		return result, nil
	}

	switch {
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("%w: %s (%s)", interfaces.ErrToolNotFound, cmd.Tool, argv[0])
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		r.log.Warn("Tool timed out",
			slog.String("tool", cmd.Tool),
			slog.Duration("timeout", cmd.Timeout))
		return result, fmt.Errorf("%w: %s after %s", interfaces.ErrToolTimeout, cmd.String(), cmd.Timeout)
	case ctx.Err() != nil:
		return result, fmt.Errorf("%s interrupted: %w", cmd.Tool, ctx.Err())
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return result, &interfaces.ToolError{
			Tool:     cmd.Tool,
			Args:     cmd.Args,
			ExitCode: exitErr.ExitCode(),
			Stdout:   result.Stdout,
			Stderr:   result.Stderr,
		}
	}

	return result, fmt.Errorf("failed to run %s: %w", cmd.Tool, err)
}
