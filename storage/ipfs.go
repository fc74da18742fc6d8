package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	shell "github.com/ipfs/go-ipfs-api"
	"github.com/ruteri/esp-secure-provisioning/interfaces"
)

// IPFSBackend keeps content in the mutable file system (MFS) of an IPFS node
// under <root>/<type>/<id>, so content stays addressable by its SHA-256 id
// while the node pins the underlying blocks.
type IPFSBackend struct {
	shell       *shell.Shell
	apiAddr     string
	root        string
	timeout     time.Duration
	log         *slog.Logger
	locationURI string
}

// NewIPFSBackend connects to the IPFS HTTP API at apiAddr (host:port).
func NewIPFSBackend(apiAddr, root string, timeout time.Duration, log *slog.Logger) (*IPFSBackend, error) {
	if apiAddr == "" {
		return nil, fmt.Errorf("%w: missing IPFS API address", interfaces.ErrInvalidLocationURI)
	}
	if root == "" || root == "/" {
		root = "/espsecure-prov"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	sh := shell.NewShell(apiAddr)
	sh.SetTimeout(timeout)

	return &IPFSBackend{
		shell:       sh,
		apiAddr:     apiAddr,
		root:        "/" + strings.Trim(root, "/"),
		timeout:     timeout,
		log:         log,
		locationURI: fmt.Sprintf("ipfs://%s%s?timeout=%s", apiAddr, root, timeout),
	}, nil
}

// Fetch reads the MFS file for id.
func (b *IPFSBackend) Fetch(ctx context.Context, id interfaces.ContentID, contentType interfaces.ContentType) ([]byte, error) {
	start := time.Now()
	p := b.path(id, contentType)

	reader, err := b.shell.FilesRead(ctx, p)
	if err != nil {
		if isIPFSNotFound(err) {
			b.log.Debug("Content not found in IPFS", slog.String("path", p))
			return nil, interfaces.ErrContentNotFound
		}
		b.log.Error("Failed to fetch data from IPFS",
			slog.String("path", p),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return nil, fmt.Errorf("failed to fetch data from IPFS: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read data from IPFS: %w", err)
	}

	b.log.Debug("Fetched content from IPFS",
		slog.String("path", p),
		slog.Int("size", len(data)),
		slog.Duration("duration", time.Since(start)))
	return data, nil
}

// Store writes data to MFS under its content ID, creating parent directories.
func (b *IPFSBackend) Store(ctx context.Context, data []byte, contentType interfaces.ContentType) (interfaces.ContentID, error) {
	id := interfaces.ComputeID(data)
	p := b.path(id, contentType)

	err := b.shell.FilesWrite(ctx, p, bytes.NewReader(data),
		shell.FilesWrite.Create(true),
		shell.FilesWrite.Parents(true),
		shell.FilesWrite.Truncate(true))
	if err != nil {
		return id, fmt.Errorf("failed to write data to IPFS: %w", err)
	}

	if stat, err := b.shell.FilesStat(ctx, p); err == nil {
		b.log.Debug("Stored content in IPFS",
			slog.String("path", p),
			slog.String("cid", stat.Hash),
			slog.String("content_id", id.String()))
	}
	return id, nil
}

// Available reports whether the IPFS API answers.
func (b *IPFSBackend) Available(ctx context.Context) bool {
	return b.shell.IsUp()
}

// Name returns a unique identifier for this storage backend.
func (b *IPFSBackend) Name() string {
	return "ipfs-" + b.apiAddr
}

// LocationURI returns the URI that identifies this storage backend.
func (b *IPFSBackend) LocationURI() string {
	return b.locationURI
}

func (b *IPFSBackend) path(id interfaces.ContentID, contentType interfaces.ContentType) string {
	return path.Join(b.root, contentType.String(), id.String())
}

func isIPFSNotFound(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "does not exist") || strings.Contains(msg, "no link named")
}
