package serialport

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ruteri/esp-secure-provisioning/interfaces"
)

// DefaultPatterns are scanned in order when no port is given. Within a pattern
// the lexically first match wins.
var DefaultPatterns = []string{
	"/dev/ttyUSB*",
	"/dev/cu.usb*",
	"/dev/cu.SLAB*",
	"/dev/ttyACM*",
}

// ProbeTimeout bounds the accessibility probe.
const ProbeTimeout = 10 * time.Second

// ErrPortNotFound is returned when an explicitly given port does not exist.
var ErrPortNotFound = errors.New("specified port does not exist")

// Resolver picks the serial port to talk to.
type Resolver struct {
	Patterns []string
	Glob     func(pattern string) ([]string, error)
	Stat     func(name string) (os.FileInfo, error)
}

// NewResolver returns a resolver over the real filesystem.
func NewResolver() *Resolver {
	return &Resolver{
		Patterns: DefaultPatterns,
		Glob:     filepath.Glob,
		Stat:     os.Stat,
	}
}

// Resolve returns explicit verbatim after checking it exists, without any
// globbing. With no explicit port it returns the first candidate or ErrNoDevice.
func (r *Resolver) Resolve(explicit string) (string, error) {
	if explicit != "" {
		if _, err := r.Stat(explicit); err != nil {
			return "", fmt.Errorf("%w: %s", ErrPortNotFound, explicit)
		}
		return explicit, nil
	}

	candidates := r.Candidates()
	if len(candidates) == 0 {
		return "", fmt.Errorf("%w: no port specified and none matched %s (use --port /dev/ttyUSB0)",
			interfaces.ErrNoDevice, strings.Join(r.Patterns, ", "))
	}
	return candidates[0], nil
}

// Candidates lists every matching port in resolution order, without duplicates.
func (r *Resolver) Candidates() []string {
	seen := make(map[string]bool)
	var out []string
	for _, pattern := range r.Patterns {
		matches, err := r.Glob(pattern)
		if err != nil {
			continue
		}
		sort.Strings(matches)
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	return out
}

// Probe checks that a device answers on port by running an eFuse summary.
func Probe(ctx context.Context, runner interfaces.ToolRunner, port string) error {
	res, err := runner.Run(ctx, interfaces.Command{
		Tool:    interfaces.ToolEspefuse,
		Args:    []string{"--port", port, "summary"},
		Timeout: ProbeTimeout,
	})
	if err != nil {
		if errors.Is(err, interfaces.ErrToolNotFound) {
			return err
		}
		return fmt.Errorf("%w on %s: %w", interfaces.ErrDeviceUnreachable, port, err)
	}

	if !strings.Contains(res.Stdout, "Detecting chip type") && !strings.Contains(res.Stdout, "Chip") {
		return fmt.Errorf("%w on %s: unexpected summary output", interfaces.ErrDeviceUnreachable, port)
	}
	return nil
}
