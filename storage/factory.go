package storage

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ruteri/esp-secure-provisioning/interfaces"
)

// StorageBackendFactory creates storage backends from location URIs.
type StorageBackendFactory struct {
	log *slog.Logger
}

// NewStorageBackendFactory creates a factory.
func NewStorageBackendFactory(log *slog.Logger) *StorageBackendFactory {
	return &StorageBackendFactory{log: log}
}

// StorageBackendFor creates the backend a location points at.
//
// Supported schemes:
//   - file:///abs/path or file://./rel/path
//   - s3://[KEY:SECRET@]bucket/prefix?region=..&endpoint=..&path_style=true
//   - ipfs://host:port/root?timeout=30s
//   - vault://host:port/mount/prefix?token=..&tls=false
func (sf *StorageBackendFactory) StorageBackendFor(loc interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	switch loc.Scheme {
	case "file":
		return sf.createFileBackend(loc)
	case "s3":
		return sf.createS3Backend(loc)
	case "ipfs":
		return sf.createIPFSBackend(loc)
	case "vault":
		return sf.createVaultBackend(loc)
	default:
		return nil, fmt.Errorf("%w: unsupported backend scheme %q", interfaces.ErrInvalidLocationURI, loc.Scheme)
	}
}

// CreateMultiBackend parses every URI and aggregates the backends that could
// be created. It fails only when none could.
func (sf *StorageBackendFactory) CreateMultiBackend(uris []string) (*MultiStorageBackend, error) {
	backends := make([]interfaces.StorageBackend, 0, len(uris))
	var errs []error

	for _, uri := range uris {
		loc, err := interfaces.NewStorageBackendLocation(uri)
		if err == nil {
			var backend interfaces.StorageBackend
			if backend, err = sf.StorageBackendFor(loc); err == nil {
				backends = append(backends, backend)
				continue
			}
		}
		errs = append(errs, err)
		sf.log.Warn("Failed to create storage backend", "err", err, slog.String("location", redact(uri)))
	}

	if len(backends) == 0 {
		return nil, fmt.Errorf("no valid storage backends created: %w", errors.Join(errs...))
	}
	return NewMultiStorageBackend(backends, sf.log), nil
}

func (sf *StorageBackendFactory) createFileBackend(loc interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	p := loc.Path
	if loc.Host != "" {
		// file://./records or file://relative/dir
		p = filepath.Join(loc.Host, strings.TrimPrefix(p, "/"))
	}
	if p == "" {
		return nil, fmt.Errorf("%w: empty path in %s", interfaces.ErrInvalidLocationURI, loc)
	}
	return NewFileBackend(p, sf.log)
}

func (sf *StorageBackendFactory) createS3Backend(loc interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	cfg := S3Config{
		Bucket:    loc.Host,
		Prefix:    strings.TrimPrefix(loc.Path, "/"),
		Region:    loc.GetParam("region"),
		Endpoint:  loc.GetParam("endpoint"),
		PathStyle: loc.GetParamBool("path_style"),
	}
	if loc.User != nil {
		cfg.AccessKey = loc.User.Username()
		cfg.SecretKey, _ = loc.User.Password()
	}
	return NewS3Backend(cfg, sf.log)
}

func (sf *StorageBackendFactory) createIPFSBackend(loc interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	host := loc.Host
	if host == "" {
		host = "localhost:5001"
	} else if !strings.Contains(host, ":") {
		host += ":5001"
	}

	var timeout time.Duration
	if raw := loc.GetParam("timeout"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid ipfs timeout %q", interfaces.ErrInvalidLocationURI, raw)
		}
		timeout = d
	}
	return NewIPFSBackend(host, loc.Path, timeout, sf.log)
}

func (sf *StorageBackendFactory) createVaultBackend(loc interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	if loc.Host == "" {
		return nil, fmt.Errorf("%w: missing Vault address", interfaces.ErrInvalidLocationURI)
	}

	scheme := "https"
	if raw := loc.GetParam("tls"); raw == "false" || raw == "0" {
		scheme = "http"
	}

	parts := strings.SplitN(strings.Trim(loc.Path, "/"), "/", 2)
	cfg := VaultConfig{
		Address: scheme + "://" + loc.Host,
		Mount:   parts[0],
		Token:   loc.GetParam("token"),
	}
	if len(parts) == 2 {
		cfg.Path = parts[1]
	}
	if cfg.Token == "" {
		cfg.Token = os.Getenv("VAULT_TOKEN")
	}
	return NewVaultBackend(cfg, sf.log)
}

// redact strips credentials from a URI before it is logged.
func redact(uri string) string {
	loc, err := interfaces.NewStorageBackendLocation(uri)
	if err != nil {
		return uri
	}
	out := uri
	if loc.User != nil {
		if pw, ok := loc.User.Password(); ok {
			out = strings.Replace(out, ":"+pw+"@", ":***@", 1)
		}
	}
	if tok := loc.GetParam("token"); tok != "" {
		out = strings.Replace(out, "token="+tok, "token=***", 1)
	}
	return out
}
