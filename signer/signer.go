package signer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ruteri/esp-secure-provisioning/interfaces"
)

// DefaultTimeout bounds each espsecure call.
const DefaultTimeout = 30 * time.Second

// Signer signs and verifies images with espsecure (secure boot v2).
type Signer struct {
	runner  interfaces.ToolRunner
	log     *slog.Logger
	timeout time.Duration
}

// New creates a Signer. A zero timeout selects DefaultTimeout.
func New(runner interfaces.ToolRunner, timeout time.Duration, log *slog.Logger) *Signer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Signer{runner: runner, log: log, timeout: timeout}
}

// SignOpts selects between in-place signing and the release layout.
type SignOpts struct {
	// ReleaseDir, when set, receives <name>_signed.bin and a copy of the input
	// as <name>_unsigned.bin; the build output is left untouched.
	ReleaseDir string
	// Verify re-checks every signature right after signing.
	Verify bool
}

// Sign signs binary with key and returns the path of the signed image.
// Without a release dir the binary is signed in place.
func (s *Signer) Sign(ctx context.Context, binary, key string, opts SignOpts) (string, error) {
	if _, err := os.Stat(binary); err != nil {
		return "", fmt.Errorf("binary not found: %s: %w", binary, err)
	}
	if _, err := os.Stat(key); err != nil {
		return "", fmt.Errorf("signing key not found: %s: %w", key, err)
	}

	target := binary
	args := []string{"sign_data", "--version", "2", "--keyfile", key}
	if opts.ReleaseDir != "" {
		if err := os.MkdirAll(opts.ReleaseDir, 0755); err != nil {
			return "", fmt.Errorf("failed to create release directory: %w", err)
		}
		stem := strings.TrimSuffix(filepath.Base(binary), filepath.Ext(binary))
		if err := copyFile(binary, filepath.Join(opts.ReleaseDir, stem+"_unsigned.bin")); err != nil {
			return "", fmt.Errorf("failed to copy unsigned image: %w", err)
		}
		target = filepath.Join(opts.ReleaseDir, stem+"_signed.bin")
		args = append(args, "--output", target)
	}
	args = append(args, "--", binary)

	_, err := s.runner.Run(ctx, interfaces.Command{
		Tool:    interfaces.ToolEspsecure,
		Args:    args,
		Timeout: s.timeout,
	})
	if err != nil {
		return "", fmt.Errorf("failed to sign %s: %w", filepath.Base(binary), err)
	}

	s.log.Info("Signed image",
		slog.String("binary", filepath.Base(binary)),
		slog.String("output", target))

	if opts.Verify {
		if err := s.Verify(ctx, target, key); err != nil {
			return target, err
		}
	}
	return target, nil
}

// SignAll signs each binary in order, stopping at the first failure.
func (s *Signer) SignAll(ctx context.Context, binaries []string, key string, opts SignOpts) ([]string, error) {
	signed := make([]string, 0, len(binaries))
	for _, b := range binaries {
		out, err := s.Sign(ctx, b, key, opts)
		if err != nil {
			return signed, err
		}
		signed = append(signed, out)
	}
	return signed, nil
}

// Verify checks binary's secure boot v2 signature against key.
// A rejected signature yields ErrSignatureMismatch; tool failures pass through.
func (s *Signer) Verify(ctx context.Context, binary, key string) error {
	_, err := s.runner.Run(ctx, interfaces.Command{
		Tool:    interfaces.ToolEspsecure,
		Args:    []string{"verify-signature", "--version", "2", "--keyfile", key, binary},
		Timeout: s.timeout,
	})
	if err == nil {
		s.log.Info("Signature verified", slog.String("binary", filepath.Base(binary)))
		return nil
	}

	var toolErr *interfaces.ToolError
	if errors.As(err, &toolErr) {
		return fmt.Errorf("%w for %s: %s", interfaces.ErrSignatureMismatch, filepath.Base(binary), strings.TrimSpace(toolErr.Output()))
	}
	return fmt.Errorf("failed to verify %s: %w", filepath.Base(binary), err)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
