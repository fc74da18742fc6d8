package interfaces

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Logical tool names. The runner maps each to an argv prefix.
const (
	ToolEspefuse   = "espefuse"
	ToolEspsecure  = "espsecure"
	ToolEsptool    = "esptool"
	ToolPio        = "pio"
	ToolOpenSSL    = "openssl"
	ToolMklittlefs = "mklittlefs"
)

// Command describes one external tool invocation.
type Command struct {
	// Tool is a logical tool name such as ToolEspefuse.
	Tool string
	Args []string
	// Dir is the working directory, empty for the current one.
	Dir string
	// Env holds extra KEY=VALUE entries appended to the process environment.
	Env []string
	// Stdin is fed to the process when non-empty.
	Stdin string
	// Timeout bounds the invocation. Zero means the caller's context only.
	Timeout time.Duration
	// Stream copies output to the operator while it is captured.
	Stream bool
}

// String renders the command for logs.
func (c Command) String() string {
	return strings.TrimSpace(c.Tool + " " + strings.Join(c.Args, " "))
}

// Result is the captured outcome of a successful invocation.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Output returns stdout followed by stderr.
func (r *Result) Output() string {
	if r == nil {
		return ""
	}
	return r.Stdout + r.Stderr
}

// ToolRunner executes vendor tools. Implementations must honour ctx
// cancellation and Command.Timeout.
type ToolRunner interface {
	// Run executes cmd. A non-zero exit yields a *ToolError together with the Result.
	Run(ctx context.Context, cmd Command) (*Result, error)

	// Available reports whether the tool can be started at all.
	Available(tool string) bool
}

// ToolError is returned when a tool exits with a non-zero status.
type ToolError struct {
	Tool     string
	Args     []string
	ExitCode int
	Stdout   string
	Stderr   string
}

func (e *ToolError) Error() string {
	detail := strings.TrimSpace(e.Stderr)
	if detail == "" {
		detail = lastLine(e.Stdout)
	}
	if detail == "" {
		return fmt.Sprintf("%s exited with status %d", e.Tool, e.ExitCode)
	}
	return fmt.Sprintf("%s exited with status %d: %s", e.Tool, e.ExitCode, detail)
}

// Output returns everything the tool printed.
func (e *ToolError) Output() string {
	return e.Stdout + e.Stderr
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

// ToolOutput extracts whatever the tool printed from a Run error, if any.
func ToolOutput(err error) string {
	var te *ToolError
	if errors.As(err, &te) {
		return te.Output()
	}
	return ""
}

var (
	// ErrToolNotFound is returned when a tool binary cannot be started.
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolTimeout is returned when a tool exceeds its time budget.
	ErrToolTimeout = errors.New("tool timed out")

	// ErrNoDevice is returned when no serial port could be resolved.
	ErrNoDevice = errors.New("no serial device found")

	// ErrDeviceUnreachable is returned when a port exists but the device does not answer.
	ErrDeviceUnreachable = errors.New("device not accessible")

	// ErrChipUndetected is returned when the chip type cannot be read from the device.
	ErrChipUndetected = errors.New("could not detect chip type")

	// ErrSignatureMismatch is returned when a binary does not verify against the key.
	ErrSignatureMismatch = errors.New("signature verification failed")

	// ErrNotConfirmed is returned when the operator did not type the burn confirmation.
	ErrNotConfirmed = errors.New("burn not confirmed")

	// ErrUncertainState is returned when a burn was interrupted or failed mid-way.
	// The device may be partially provisioned.
	ErrUncertainState = errors.New("device may be in an uncertain state")

	// ErrKeyBlockWritten is returned when the key block is already written or write-protected.
	ErrKeyBlockWritten = errors.New("key block already written or protected")

	// ErrDigestMismatch is returned when the device key digest differs from the signing key.
	ErrDigestMismatch = errors.New("signing key does not match device key digest")
)
