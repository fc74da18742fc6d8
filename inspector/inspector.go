package inspector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ruteri/esp-secure-provisioning/interfaces"
	"github.com/ruteri/esp-secure-provisioning/keymgr"
)

// DefaultTimeout bounds each espefuse read.
const DefaultTimeout = 10 * time.Second

// ErrNoKeyDigest is returned when neither dump format yields a 32-byte digest.
var ErrNoKeyDigest = errors.New("could not read key digest from device")

// Inspector reads device security state through espefuse. It never writes.
type Inspector struct {
	runner  interfaces.ToolRunner
	timeout time.Duration
	log     *slog.Logger
}

// New creates an Inspector. A zero timeout selects DefaultTimeout.
func New(runner interfaces.ToolRunner, timeout time.Duration, log *slog.Logger) *Inspector {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Inspector{runner: runner, timeout: timeout, log: log}
}

func (i *Inspector) espefuse(ctx context.Context, port string, chip interfaces.ChipType, args ...string) (*interfaces.Result, error) {
	argv := []string{"--port", port}
	if chip != interfaces.ChipUnknown {
		argv = append(argv, "--chip", string(chip))
	}
	return i.runner.Run(ctx, interfaces.Command{
		Tool:    interfaces.ToolEspefuse,
		Args:    append(argv, args...),
		Timeout: i.timeout,
	})
}

// Inspect runs `espefuse summary` and parses it.
func (i *Inspector) Inspect(ctx context.Context, port string) (*interfaces.DeviceState, error) {
	res, err := i.espefuse(ctx, port, interfaces.ChipUnknown, "summary")
	if err != nil {
		if errors.Is(err, interfaces.ErrToolNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("device could not be queried on %s: %w", port, err)
	}

	state := ParseSummary(res.Stdout)
	state.Port = port

	i.log.Debug("Inspected device",
		slog.String("port", port),
		slog.String("chip", state.ChipName),
		slog.String("secure_boot", state.SecureBoot.String()),
		slog.String("flash_encryption", state.FlashEncryption.String()))
	return &state, nil
}

// DetectChip returns the espefuse chip identifier of the device on port.
func (i *Inspector) DetectChip(ctx context.Context, port string) (interfaces.ChipType, error) {
	state, err := i.Inspect(ctx, port)
	if err != nil {
		return interfaces.ChipUnknown, err
	}
	if state.Chip == interfaces.ChipUnknown {
		return interfaces.ChipUnknown, fmt.Errorf("%w on %s", interfaces.ErrChipUndetected, port)
	}
	return state.Chip, nil
}

// KeyBlockState reports whether BLOCK_KEY0 already holds a key. Read failures
// yield Unknown rather than an error so callers proceed with caution.
func (i *Inspector) KeyBlockState(ctx context.Context, port string, chip interfaces.ChipType) interfaces.TriState {
	res, err := i.espefuse(ctx, port, chip, "dump_blocks", interfaces.KeyBlock0)
	if err != nil {
		i.log.Warn("Could not read key block", slog.String("port", port), "err", err)
		return interfaces.Unknown
	}
	return KeyBlockPresent(res.Stdout)
}

// ReadKeyDigest reads the digest stored in BLOCK_KEY0, trying dump_blocks
// first and the full dump second.
func (i *Inspector) ReadKeyDigest(ctx context.Context, port string) (keymgr.Digest, error) {
	res, err := i.espefuse(ctx, port, interfaces.ChipUnknown, "dump_blocks", interfaces.KeyBlock0)
	if err == nil {
		if d, ok := ParseKeyBlockDump(res.Stdout); ok {
			return d, nil
		}
	} else if errors.Is(err, interfaces.ErrToolNotFound) {
		return keymgr.Digest{}, err
	} else {
		i.log.Debug("dump_blocks failed, falling back to dump", "err", err)
	}

	res, err = i.espefuse(ctx, port, interfaces.ChipUnknown, "dump")
	if err != nil {
		return keymgr.Digest{}, fmt.Errorf("%w: %w", ErrNoKeyDigest, err)
	}
	if d, ok := ParseDump(res.Stdout); ok {
		return d, nil
	}
	return keymgr.Digest{}, ErrNoKeyDigest
}
