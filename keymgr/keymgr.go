package keymgr

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ruteri/esp-secure-provisioning/interfaces"
	"github.com/ruteri/esp-secure-provisioning/projectconfig"
)

// DefaultKeyName is the signing key file used when nothing else is configured.
const DefaultKeyName = "esp32_secure_boot.pem"

const toolTimeout = 30 * time.Second

var (
	// ErrKeyNotFound is returned when the signing key file does not exist.
	ErrKeyNotFound = errors.New("signing key not found")

	// ErrKeyUnreadable is returned when the signing key exists but cannot be read.
	ErrKeyUnreadable = errors.New("signing key file is not readable")

	// ErrKeyNotPEM is returned when the file lacks PEM BEGIN/END markers.
	ErrKeyNotPEM = errors.New("key file does not appear to be a valid PEM file")

	// ErrKeyExists is returned when Generate would overwrite an existing key.
	ErrKeyExists = errors.New("key already exists")
)

// KeySource records where a resolved key path came from.
type KeySource string

const (
	SourceExplicit KeySource = "explicit"
	SourceConfig   KeySource = "sdkconfig"
	SourceDefault  KeySource = "default"
)

// Manager resolves, validates, creates and fingerprints signing keys.
type Manager struct {
	projectDir string
	env        string
	pio        *projectconfig.PlatformIO
	runner     interfaces.ToolRunner
	log        *slog.Logger
}

// NewManager creates a key manager for a PlatformIO project.
// pio may be nil when the project has no platformio.ini.
func NewManager(projectDir, env string, pio *projectconfig.PlatformIO, runner interfaces.ToolRunner, log *slog.Logger) *Manager {
	return &Manager{
		projectDir: projectDir,
		env:        env,
		pio:        pio,
		runner:     runner,
		log:        log,
	}
}

// ResolveKeyPath applies the precedence explicit > sdkconfig > default.
func (m *Manager) ResolveKeyPath(explicit string) (string, KeySource) {
	if explicit != "" {
		return explicit, SourceExplicit
	}
	if configured := projectconfig.ConfiguredSigningKey(m.projectDir, m.env, m.pio); configured != "" {
		return configured, SourceConfig
	}
	return filepath.Join(m.projectDir, DefaultKeyName), SourceDefault
}

// ValidateKeyFile checks that path exists, is readable and carries PEM markers.
// Only markers are sniffed; the key material is never parsed.
func ValidateKeyFile(path string) error {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrKeyNotFound, path)
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrKeyUnreadable, path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrKeyUnreadable, path)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrKeyUnreadable, path, err)
	}

	text := string(content)
	if !strings.Contains(text, "-----BEGIN") || !strings.Contains(text, "-----END") {
		return fmt.Errorf("%w: %s", ErrKeyNotPEM, path)
	}
	return nil
}

// GenerateOpts configures key generation.
type GenerateOpts struct {
	// Scheme is passed as --scheme when set, e.g. "ecdsa256" or "rsa3072".
	Scheme string
	// ExtractPublic writes <stem>.pub.pem next to the private key.
	ExtractPublic bool
}

// Generate creates a secure boot v2 signing key at out with mode 0600.
// It refuses to overwrite an existing file.
func (m *Manager) Generate(ctx context.Context, out string, opts GenerateOpts) (string, error) {
	if _, err := os.Stat(out); err == nil {
		return "", fmt.Errorf("%w at %s: delete it or choose another path", ErrKeyExists, out)
	}
	if err := os.MkdirAll(filepath.Dir(out), 0700); err != nil {
		return "", fmt.Errorf("failed to create key directory: %w", err)
	}

	args := []string{"--version", "2"}
	if opts.Scheme != "" {
		args = append(args, "--scheme", opts.Scheme)
	}
	args = append(args, out)

	m.log.Info("Generating secure boot v2 signing key", slog.String("path", out))

	// Newer esptool releases spell the subcommand with dashes.
	_, err := m.runner.Run(ctx, interfaces.Command{
		Tool:    interfaces.ToolEspsecure,
		Args:    append([]string{"generate-signing-key"}, args...),
		Timeout: toolTimeout,
	})
	if err != nil {
		if errors.Is(err, interfaces.ErrToolNotFound) {
			return "", err
		}
		m.log.Debug("Dashed subcommand failed, retrying legacy spelling", "err", err)
		if _, err := m.runner.Run(ctx, interfaces.Command{
			Tool:    interfaces.ToolEspsecure,
			Args:    append([]string{"generate_signing_key"}, args...),
			Timeout: toolTimeout,
		}); err != nil {
			return "", fmt.Errorf("failed to generate signing key: %w", err)
		}
	}

	if err := os.Chmod(out, 0600); err != nil {
		return "", fmt.Errorf("failed to restrict key permissions: %w", err)
	}

	if !opts.ExtractPublic {
		return "", nil
	}
	pub, err := m.ExtractPublicKey(ctx, out, "")
	if err != nil {
		m.log.Warn("Public key extraction failed; extract it later with extract-pubkey", "err", err)
		return "", nil
	}
	return pub, nil
}

// PublicKeyPath returns the default public key path for a private key: <stem>.pub.pem.
func PublicKeyPath(private string) string {
	stem := strings.TrimSuffix(filepath.Base(private), filepath.Ext(private))
	return filepath.Join(filepath.Dir(private), stem+".pub.pem")
}

// ExtractPublicKey writes the PEM public key of private to out (default PublicKeyPath).
func (m *Manager) ExtractPublicKey(ctx context.Context, private, out string) (string, error) {
	if out == "" {
		out = PublicKeyPath(private)
	}
	if _, err := os.Stat(private); err != nil {
		return "", fmt.Errorf("%w: %s", ErrKeyNotFound, private)
	}

	_, err := m.runner.Run(ctx, interfaces.Command{
		Tool:    interfaces.ToolOpenSSL,
		Args:    []string{"pkey", "-in", private, "-pubout", "-out", out},
		Timeout: toolTimeout,
	})
	if err != nil {
		return "", fmt.Errorf("failed to extract public key: %w", err)
	}

	m.log.Info("Public key extracted", slog.String("path", out))
	return out, nil
}

// Digest is the SHA-256 of a DER-encoded public key, the value secure boot v2
// burns into the key block.
type Digest [32]byte

// String returns lowercase hex.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// ParseDigest decodes a 64-character hex digest.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return d, fmt.Errorf("invalid digest: %w", err)
	}
	if len(raw) != len(d) {
		return d, fmt.Errorf("invalid digest length %d", len(raw))
	}
	copy(d[:], raw)
	return d, nil
}

// PublicKeyDigest derives the public key digest of private via
// `openssl pkey -pubout -outform DER`.
func (m *Manager) PublicKeyDigest(ctx context.Context, private string) (Digest, error) {
	res, err := m.runner.Run(ctx, interfaces.Command{
		Tool:    interfaces.ToolOpenSSL,
		Args:    []string{"pkey", "-in", private, "-pubout", "-outform", "DER"},
		Timeout: toolTimeout,
	})
	if err != nil {
		return Digest{}, fmt.Errorf("failed to extract public key digest: %w", err)
	}
	if len(res.Stdout) == 0 {
		return Digest{}, errors.New("failed to extract public key digest: openssl produced no output")
	}
	return Digest(sha256.Sum256([]byte(res.Stdout))), nil
}
