package burner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/ruteri/esp-secure-provisioning/interfaces"
	"github.com/ruteri/esp-secure-provisioning/keymgr"
)

// ConfirmPhrase is the exact operator input that authorises a burn.
const ConfirmPhrase = "BURN"

// DefaultTimeout bounds each espefuse burn invocation.
const DefaultTimeout = 30 * time.Second

// ErrAlreadyBurned is returned by BurnFuse when espefuse reports the fuse is
// already set. Nothing was written.
var ErrAlreadyBurned = errors.New("fuse already burned")

// State is the burn executor state.
type State int

const (
	Idle State = iota
	Confirmed
	Burning
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Confirmed:
		return "confirmed"
	case Burning:
		return "burning"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Options configures a Burner.
type Options struct {
	Chip    interfaces.ChipType
	Timeout time.Duration
	// LockDir holds the per-port lock files. Empty means os.TempDir().
	LockDir string
	// Stream copies espefuse output to the operator.
	Stream bool
}

// Burner is the only component that writes eFuses. Every write requires a
// prior Confirm and runs under the per-port lock.
type Burner struct {
	runner interfaces.ToolRunner
	port   string
	opts   Options
	log    *slog.Logger

	mu    sync.Mutex
	state State
	held  *flock.Flock
}

// New creates a Burner for the device on port.
func New(runner interfaces.ToolRunner, port string, opts Options, log *slog.Logger) *Burner {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Burner{
		runner: runner,
		port:   port,
		opts:   opts,
		log:    log,
	}
}

// State returns the current state.
func (b *Burner) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Confirm reads one line from r and moves to Confirmed if it is exactly
// ConfirmPhrase. Only the line terminator is stripped.
func (b *Burner) Confirm(r io.Reader) error {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return fmt.Errorf("%w: no input", interfaces.ErrNotConfirmed)
	}
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")

	b.mu.Lock()
	defer b.mu.Unlock()

	if line != ConfirmPhrase {
		b.log.Info("Burn not confirmed", slog.String("port", b.port))
		return fmt.Errorf("%w: %q != %s", interfaces.ErrNotConfirmed, line, ConfirmPhrase)
	}
	if b.state == Idle {
		b.state = Confirmed
	}
	return nil
}

// BurnFuse burns a single eFuse with `espefuse burn_efuse`.
func (b *Burner) BurnFuse(ctx context.Context, fuse interfaces.Fuse) error {
	_, err := b.burn(ctx, "burn_efuse "+string(fuse), "burn_efuse", string(fuse))
	if err == nil {
		return nil
	}
	if alreadyBurned(interfaces.ToolOutput(err), fuse) {
		b.setState(Done)
		return fmt.Errorf("%w: %s", ErrAlreadyBurned, fuse)
	}
	return err
}

// alreadyBurned matches espefuse's refusal to rewrite a fuse that holds the
// requested value, e.g. "The same value for SECURE_BOOT_EN is already burned."
func alreadyBurned(output string, fuse interfaces.Fuse) bool {
	out := strings.ToLower(output)
	return strings.Contains(out, "already burned") && strings.Contains(out, strings.ToLower(string(fuse)))
}

// Hold takes the per-port lock until the returned release is called, so that
// several burns run as one step. Burns made while held do not relock.
func (b *Burner) Hold(ctx context.Context) (func(), error) {
	lock, err := LockPort(ctx, b.opts.LockDir, b.port)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.held = lock
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		b.held = nil
		b.mu.Unlock()
		if err := lock.Unlock(); err != nil {
			b.log.Warn("Failed to release port lock", slog.String("port", b.port), "err", err)
		}
	}, nil
}

// BurnKey writes digest into block with the given key purpose.
func (b *Burner) BurnKey(ctx context.Context, block string, digest keymgr.Digest, purpose string) error {
	tmp, err := os.CreateTemp("", "espsecure-digest-*.bin")
	if err != nil {
		return fmt.Errorf("failed to stage key digest: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(digest[:]); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to stage key digest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to stage key digest: %w", err)
	}

	_, err = b.burn(ctx, "burn-key "+block, "burn-key", block, tmp.Name(), purpose)
	if err == nil {
		return nil
	}
	out := strings.ToLower(interfaces.ToolOutput(err))
	if strings.Contains(out, "already") || strings.Contains(out, "protected") {
		return fmt.Errorf("%w: %s", interfaces.ErrKeyBlockWritten, block)
	}
	return err
}

func (b *Burner) setState(s State) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

// burn runs one espefuse write. Any failure after the process started leaves
// the Burner Failed with ErrUncertainState.
func (b *Burner) burn(ctx context.Context, what string, args ...string) (*interfaces.Result, error) {
	b.mu.Lock()
	switch b.state {
	case Confirmed, Done:
	case Idle:
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: %s requires confirmation", interfaces.ErrNotConfirmed, what)
	default:
		state := b.state
		b.mu.Unlock()
		return nil, fmt.Errorf("cannot run %s in state %s", what, state)
	}
	prev := b.state
	b.state = Burning
	held := b.held != nil
	b.mu.Unlock()

	if !held {
		lock, err := LockPort(ctx, b.opts.LockDir, b.port)
		if err != nil {
			b.setState(prev)
			return nil, err
		}
		defer func() {
			if err := lock.Unlock(); err != nil {
				b.log.Warn("Failed to release port lock", slog.String("port", b.port), "err", err)
			}
		}()
	}

	argv := []string{"--port", b.port}
	if b.opts.Chip != interfaces.ChipUnknown {
		argv = append(argv, "--chip", string(b.opts.Chip))
	}

	b.log.Info("Burning eFuse", slog.String("port", b.port), slog.String("op", what))
	res, err := b.runner.Run(ctx, interfaces.Command{
		Tool:    interfaces.ToolEspefuse,
		Args:    append(argv, args...),
		Stdin:   ConfirmPhrase + "\n",
		Timeout: b.opts.Timeout,
		Stream:  b.opts.Stream,
	})
	if errors.Is(err, interfaces.ErrToolNotFound) {
		// nothing was started
		b.setState(prev)
		return nil, err
	}
	if err != nil {
		b.setState(Failed)
		b.log.Error("Burn failed", slog.String("port", b.port), slog.String("op", what), "err", err)
		return res, fmt.Errorf("%w: %s on %s: %w", interfaces.ErrUncertainState, what, b.port, err)
	}

	b.setState(Done)
	b.log.Info("Burn complete", slog.String("port", b.port), slog.String("op", what))
	return res, nil
}
