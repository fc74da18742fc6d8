package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ruteri/esp-secure-provisioning/interfaces"
)

// MultiStorageBackend stores to every available backend and fetches from the
// first one that has the content.
type MultiStorageBackend struct {
	backends []interfaces.StorageBackend
	log      *slog.Logger
}

// NewMultiStorageBackend aggregates backends in priority order.
func NewMultiStorageBackend(backends []interfaces.StorageBackend, logger *slog.Logger) *MultiStorageBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &MultiStorageBackend{
		backends: backends,
		log:      logger,
	}
}

// Backends returns the aggregated backends.
func (m *MultiStorageBackend) Backends() []interfaces.StorageBackend {
	return m.backends
}

// Fetch tries each available backend in order. Content fetched from a
// backend is checked against id before it is returned.
func (m *MultiStorageBackend) Fetch(ctx context.Context, id interfaces.ContentID, contentType interfaces.ContentType) ([]byte, error) {
	start := time.Now()
	var errs []error
	notFound := 0

	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			m.log.Debug("Backend unavailable",
				slog.String("backend_name", backend.Name()),
				slog.String("content_id", id.Short()))
			errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), interfaces.ErrBackendUnavailable))
			continue
		}

		data, err := backend.Fetch(ctx, id, contentType)
		if err == nil && interfaces.ComputeID(data) != id {
			err = fmt.Errorf("content hash mismatch")
		}
		if err == nil {
			m.log.Debug("Fetched content",
				slog.String("backend_name", backend.Name()),
				slog.String("content_id", id.Short()),
				slog.Duration("duration", time.Since(start)))
			return data, nil
		}

		if errors.Is(err, interfaces.ErrContentNotFound) {
			notFound++
		}
		errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
		m.log.Debug("Failed to fetch from backend",
			slog.String("backend_name", backend.Name()),
			slog.String("content_id", id.Short()),
			"err", err)
	}

	if notFound > 0 && notFound == len(errs) {
		return nil, interfaces.ErrContentNotFound
	}
	if len(errs) == 0 {
		return nil, interfaces.ErrBackendUnavailable
	}
	return nil, fmt.Errorf("all backends failed to fetch %s: %w", id.Short(), errors.Join(errs...))
}

// Store saves data to all available backends. It succeeds when at least one
// backend stored the content.
func (m *MultiStorageBackend) Store(ctx context.Context, data []byte, contentType interfaces.ContentType) (interfaces.ContentID, error) {
	start := time.Now()
	id := interfaces.ComputeID(data)
	stored := 0
	var errs []error

	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			m.log.Debug("Backend unavailable", slog.String("backend_name", backend.Name()))
			errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), interfaces.ErrBackendUnavailable))
			continue
		}

		got, err := backend.Store(ctx, data, contentType)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
			m.log.Warn("Failed to store to backend",
				slog.String("backend_name", backend.Name()),
				"err", err)
			continue
		}
		if got != id {
			m.log.Warn("Inconsistent content id from backend",
				slog.String("backend_name", backend.Name()),
				slog.String("expected_id", id.String()),
				slog.String("actual_id", got.String()))
		}
		stored++
	}

	if stored == 0 {
		m.log.Error("All backends failed to store data",
			slog.Int("failed_backends", len(errs)),
			slog.Duration("duration", time.Since(start)))
		if len(errs) == 0 {
			return id, interfaces.ErrBackendUnavailable
		}
		return id, fmt.Errorf("all backends failed to store data: %w", errors.Join(errs...))
	}

	m.log.Info("Stored content",
		slog.String("content_id", id.String()),
		slog.String("type", contentType.String()),
		slog.Int("backends", stored),
		slog.Duration("duration", time.Since(start)))
	return id, nil
}

// Available checks if any backend is available.
func (m *MultiStorageBackend) Available(ctx context.Context) bool {
	for _, backend := range m.backends {
		if backend.Available(ctx) {
			return true
		}
	}
	return false
}

// Name returns the name of this backend.
func (m *MultiStorageBackend) Name() string {
	return "multi-storage"
}

// LocationURI combines the URIs of all backends.
func (m *MultiStorageBackend) LocationURI() string {
	locations := make([]string, 0, len(m.backends))
	for _, backend := range m.backends {
		locations = append(locations, backend.LocationURI())
	}
	return "multi:[" + strings.Join(locations, ",") + "]"
}
