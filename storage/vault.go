package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"
	"github.com/ruteri/esp-secure-provisioning/interfaces"
)

// VaultConfig configures a Vault KV v2 backend.
type VaultConfig struct {
	// Address is the Vault server URL, e.g. https://vault.example.com:8200.
	Address string
	// Mount is the KV v2 mount, e.g. "secret".
	Mount string
	// Path is the prefix within the mount.
	Path string
	// Token authenticates requests. Empty means VAULT_TOKEN from the environment.
	Token string
}

// VaultBackend stores content in a Vault KV v2 engine. Content is kept
// base64 encoded under the "content" key of each secret, which makes it the
// natural home for signing key escrow.
type VaultBackend struct {
	client      *api.Client
	mount       string
	prefix      string
	log         *slog.Logger
	locationURI string
}

// NewVaultBackend creates a token authenticated Vault backend.
func NewVaultBackend(cfg VaultConfig, log *slog.Logger) (*VaultBackend, error) {
	config := api.DefaultConfig()
	if config.Error != nil {
		return nil, fmt.Errorf("failed to read Vault environment: %w", config.Error)
	}
	config.Address = cfg.Address
	config.Timeout = 30 * time.Second

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}

	return newVaultBackend(client, cfg, log), nil
}

func newVaultBackend(client *api.Client, cfg VaultConfig, log *slog.Logger) *VaultBackend {
	mount := strings.Trim(cfg.Mount, "/")
	if mount == "" {
		mount = "secret"
	}
	prefix := strings.Trim(cfg.Path, "/")
	return &VaultBackend{
		client:      client,
		mount:       mount,
		prefix:      prefix,
		log:         log,
		locationURI: fmt.Sprintf("vault://%s/%s/%s", strings.TrimPrefix(strings.TrimPrefix(cfg.Address, "https://"), "http://"), mount, prefix),
	}
}

// Fetch reads the secret for id.
func (b *VaultBackend) Fetch(ctx context.Context, id interfaces.ContentID, contentType interfaces.ContentType) ([]byte, error) {
	p := b.secretPath("data", id, contentType)

	secret, err := b.client.Logical().ReadWithContext(ctx, p)
	if err != nil {
		var respErr *api.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
			return nil, interfaces.ErrContentNotFound
		}
		b.log.Error("Failed to read from Vault", slog.String("path", p), "err", err)
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, interfaces.ErrContentNotFound
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		// deleted versions come back with data: null
		return nil, interfaces.ErrContentNotFound
	}
	encoded, ok := data["content"].(string)
	if !ok {
		return nil, fmt.Errorf("invalid content format in Vault secret %s", p)
	}

	content, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid content encoding in Vault secret %s: %w", p, err)
	}

	b.log.Debug("Fetched content from Vault",
		slog.String("path", p),
		slog.Int("size", len(content)))
	return content, nil
}

// Store writes data as a new secret version under its content ID.
func (b *VaultBackend) Store(ctx context.Context, data []byte, contentType interfaces.ContentType) (interfaces.ContentID, error) {
	id := interfaces.ComputeID(data)
	p := b.secretPath("data", id, contentType)

	_, err := b.client.Logical().WriteWithContext(ctx, p, map[string]interface{}{
		"data": map[string]interface{}{
			"content": base64.StdEncoding.EncodeToString(data),
			"type":    contentType.String(),
		},
	})
	if err != nil {
		b.log.Error("Failed to write to Vault", slog.String("path", p), "err", err)
		return id, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	b.log.Debug("Stored content in Vault",
		slog.String("path", p),
		slog.String("content_id", id.String()))
	return id, nil
}

// Available checks that Vault is initialized and unsealed.
func (b *VaultBackend) Available(ctx context.Context) bool {
	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	health, err := b.client.Sys().HealthWithContext(healthCtx)
	if err != nil {
		b.log.Debug("Vault health check failed", "err", err)
		return false
	}
	if !health.Initialized || health.Sealed {
		b.log.Debug("Vault is not available",
			slog.Bool("initialized", health.Initialized),
			slog.Bool("sealed", health.Sealed))
		return false
	}
	return true
}

// Name returns a unique identifier for this storage backend.
func (b *VaultBackend) Name() string {
	return fmt.Sprintf("vault-%s-%s", b.mount, b.prefix)
}

// LocationURI returns the URI that identifies this storage backend.
func (b *VaultBackend) LocationURI() string {
	return b.locationURI
}

func (b *VaultBackend) secretPath(kind string, id interfaces.ContentID, contentType interfaces.ContentType) string {
	parts := []string{b.mount, kind}
	if b.prefix != "" {
		parts = append(parts, b.prefix)
	}
	return strings.Join(append(parts, contentType.String(), id.String()), "/")
}
