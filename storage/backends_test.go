package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/hashicorp/vault/api"
	"github.com/ruteri/esp-secure-provisioning/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFileBackend(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	b, err := NewFileBackend(dir, testLogger())
	require.NoError(t, err)
	require.True(t, b.Available(ctx))

	for _, ct := range interfaces.ContentTypes {
		assert.DirExists(t, filepath.Join(dir, ct.String()))
	}

	data := []byte(`{"device":"58:cf:79:0a:1b:2c"}`)
	id, err := b.Store(ctx, data, interfaces.RecordType)
	require.NoError(t, err)
	assert.Equal(t, interfaces.ComputeID(data), id)

	got, err := b.Fetch(ctx, id, interfaces.RecordType)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	_, err = b.Fetch(ctx, id, interfaces.FirmwareType)
	assert.ErrorIs(t, err, interfaces.ErrContentNotFound)

	secret := []byte("sealed key")
	keyID, err := b.Store(ctx, secret, interfaces.KeyBackupType)
	require.NoError(t, err)
	info, err := os.Stat(filepath.Join(dir, "keys", keyID.String()))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestFileBackendDetectsCorruption(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	b, err := NewFileBackend(dir, testLogger())
	require.NoError(t, err)

	id, err := b.Store(ctx, []byte("firmware"), interfaces.FirmwareType)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "firmware", id.String()), []byte("tampered"), 0644))

	_, err = b.Fetch(ctx, id, interfaces.FirmwareType)
	require.Error(t, err)
	assert.NotErrorIs(t, err, interfaces.ErrContentNotFound)
}

type fakeS3 struct {
	s3iface.S3API
	mu      sync.Mutex
	objects map[string][]byte
	puts    []*s3.PutObjectInput
}

func (f *fakeS3) GetObjectWithContext(_ aws.Context, in *s3.GetObjectInput, _ ...request.Option) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.StringValue(in.Key)]
	if !ok {
		return nil, awserr.New(s3.ErrCodeNoSuchKey, "The specified key does not exist.", nil)
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObjectWithContext(_ aws.Context, in *s3.PutObjectInput, _ ...request.Option) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.StringValue(in.Key)] = data
	f.puts = append(f.puts, in)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) HeadBucketWithContext(aws.Context, *s3.HeadBucketInput, ...request.Option) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, nil
}

func TestS3Backend(t *testing.T) {
	ctx := context.Background()
	client := &fakeS3{objects: map[string][]byte{}}
	b := newS3Backend(client, "factory", "/station-1/", "s3://factory/station-1", testLogger())
	require.True(t, b.Available(ctx))

	data := []byte("sealed")
	id, err := b.Store(ctx, data, interfaces.KeyBackupType)
	require.NoError(t, err)
	require.Len(t, client.puts, 1)
	assert.Equal(t, "station-1/keys/"+id.String(), aws.StringValue(client.puts[0].Key))
	assert.Equal(t, s3.ServerSideEncryptionAes256, aws.StringValue(client.puts[0].ServerSideEncryption))

	got, err := b.Fetch(ctx, id, interfaces.KeyBackupType)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	_, err = b.Fetch(ctx, id, interfaces.RecordType)
	assert.ErrorIs(t, err, interfaces.ErrContentNotFound)
}

// fakeVault serves the subset of the KV v2 and sys/health API the backend uses.
func fakeVault(t *testing.T) *httptest.Server {
	var mu sync.Mutex
	secrets := map[string]json.RawMessage{}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()

		if r.URL.Path == "/v1/sys/health" {
			_ = json.NewEncoder(w).Encode(map[string]any{"initialized": true, "sealed": false, "standby": false})
			return
		}
		if !strings.HasPrefix(r.URL.Path, "/v1/secret/data/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		switch r.Method {
		case http.MethodPut, http.MethodPost:
			var body struct {
				Data json.RawMessage `json:"data"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			secrets[r.URL.Path] = body.Data
			_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"version": 1}})
		case http.MethodGet:
			data, ok := secrets[r.URL.Path]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				_, _ = w.Write([]byte(`{"errors":[]}`))
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"data": data, "metadata": map[string]any{"version": 1}}})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
}

func TestVaultBackend(t *testing.T) {
	ctx := context.Background()
	srv := fakeVault(t)
	defer srv.Close()

	cfg := api.DefaultConfig()
	cfg.Address = srv.URL
	client, err := api.NewClient(cfg)
	require.NoError(t, err)
	client.SetToken("test-token")

	b := newVaultBackend(client, VaultConfig{Address: srv.URL, Mount: "secret", Path: "station-1"}, testLogger())
	require.True(t, b.Available(ctx))

	data := []byte{0x00, 0xff, 0x10, 'k', 'e', 'y'}
	id, err := b.Store(ctx, data, interfaces.KeyBackupType)
	require.NoError(t, err)

	got, err := b.Fetch(ctx, id, interfaces.KeyBackupType)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	_, err = b.Fetch(ctx, id, interfaces.RecordType)
	assert.ErrorIs(t, err, interfaces.ErrContentNotFound)
}

func TestStorageBackendFor(t *testing.T) {
	sf := NewStorageBackendFactory(testLogger())
	dir := t.TempDir()

	for _, tc := range []struct{ uri, want string }{
		{uri: "file://" + dir, want: "*storage.FileBackend"},
		{uri: "s3://AKIA:secret@factory/releases?region=eu-west-1&endpoint=http://minio:9000&path_style=true", want: "*storage.S3Backend"},
		{uri: "ipfs://127.0.0.1:5001/espsecure?timeout=5s", want: "*storage.IPFSBackend"},
		{uri: "vault://vault.local:8200/secret/factory?token=t&tls=false", want: "*storage.VaultBackend"},
	} {
		loc, err := interfaces.NewStorageBackendLocation(tc.uri)
		require.NoError(t, err, tc.uri)
		backend, err := sf.StorageBackendFor(loc)
		require.NoError(t, err, tc.uri)
		assert.Equal(t, tc.want, fmt.Sprintf("%T", backend), tc.uri)
	}

	_, err := interfaces.NewStorageBackendLocation("ftp://host/path")
	require.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)

	loc, err := interfaces.NewStorageBackendLocation("ipfs://127.0.0.1:5001/x?timeout=soon")
	require.NoError(t, err)
	_, err = sf.StorageBackendFor(loc)
	require.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)
}

func TestCreateMultiBackend(t *testing.T) {
	sf := NewStorageBackendFactory(testLogger())
	dir := t.TempDir()

	multi, err := sf.CreateMultiBackend([]string{"ftp://nowhere", "file://" + dir})
	require.NoError(t, err)
	require.Len(t, multi.Backends(), 1)

	ctx := context.Background()
	id, err := multi.Store(ctx, []byte("record"), interfaces.RecordType)
	require.NoError(t, err)
	data, err := multi.Fetch(ctx, id, interfaces.RecordType)
	require.NoError(t, err)
	assert.Equal(t, "record", string(data))

	_, err = sf.CreateMultiBackend([]string{"ftp://nowhere", "gopher://x"})
	require.Error(t, err)
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "s3://AKIA:***@bucket/p", redact("s3://AKIA:secret@bucket/p"))
	assert.Equal(t, "vault://v:8200/secret?token=***", redact("vault://v:8200/secret?token=s.abc"))
	assert.Equal(t, "file:///tmp/x", redact("file:///tmp/x"))
}
