package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ruteri/esp-secure-provisioning/interfaces"
)

// FileBackend stores content on the local file system, one directory per
// content type and one file per content ID.
type FileBackend struct {
	baseDir     string
	log         *slog.Logger
	locationURI string
}

// NewFileBackend creates the base directory and one subdirectory per content type.
func NewFileBackend(baseDir string, log *slog.Logger) (*FileBackend, error) {
	for _, ct := range interfaces.ContentTypes {
		if err := os.MkdirAll(filepath.Join(baseDir, ct.String()), 0750); err != nil {
			return nil, fmt.Errorf("failed to create %s directory: %w", ct, err)
		}
	}

	return &FileBackend{
		baseDir:     baseDir,
		log:         log,
		locationURI: "file://" + baseDir,
	}, nil
}

// Fetch reads content by ID. A missing file yields ErrContentNotFound.
func (b *FileBackend) Fetch(ctx context.Context, id interfaces.ContentID, contentType interfaces.ContentType) ([]byte, error) {
	filePath := b.path(id, contentType)

	data, err := os.ReadFile(filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, interfaces.ErrContentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	if got := interfaces.ComputeID(data); got != id {
		return nil, fmt.Errorf("content at %s does not match its id %s", filePath, id.Short())
	}

	b.log.Debug("Fetched content from file",
		slog.String("path", filePath),
		slog.Int("size", len(data)))
	return data, nil
}

// Store writes data under its SHA-256 content ID. Key backups are written
// owner-readable only.
func (b *FileBackend) Store(ctx context.Context, data []byte, contentType interfaces.ContentType) (interfaces.ContentID, error) {
	id := interfaces.ComputeID(data)
	filePath := b.path(id, contentType)

	if err := os.MkdirAll(filepath.Dir(filePath), 0750); err != nil {
		return id, fmt.Errorf("failed to create directory: %w", err)
	}

	mode := os.FileMode(0644)
	if contentType == interfaces.KeyBackupType {
		mode = 0600
	}

	// write-then-rename so a reader never sees a partial file
	tmp, err := os.CreateTemp(filepath.Dir(filePath), ".tmp-"+id.Short()+"-*")
	if err != nil {
		return id, fmt.Errorf("failed to write file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return id, fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return id, fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return id, fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Rename(tmp.Name(), filePath); err != nil {
		return id, fmt.Errorf("failed to write file: %w", err)
	}

	b.log.Debug("Stored content in file",
		slog.String("path", filePath),
		slog.String("content_id", id.String()))
	return id, nil
}

// Available reports whether the base directory exists.
func (b *FileBackend) Available(ctx context.Context) bool {
	if _, err := os.Stat(b.baseDir); err != nil {
		b.log.Debug("File backend unavailable", "err", err)
		return false
	}
	return true
}

// Name returns a unique identifier for this storage backend.
func (b *FileBackend) Name() string {
	return "file-" + filepath.Base(b.baseDir)
}

// LocationURI returns the URI that identifies this storage backend.
func (b *FileBackend) LocationURI() string {
	return b.locationURI
}

func (b *FileBackend) path(id interfaces.ContentID, contentType interfaces.ContentType) string {
	return filepath.Join(b.baseDir, contentType.String(), id.String())
}
