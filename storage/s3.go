package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/ruteri/esp-secure-provisioning/interfaces"
)

// S3Config configures an S3 or S3-compatible backend.
type S3Config struct {
	Bucket   string
	Prefix   string
	Region   string
	Endpoint string
	// AccessKey and SecretKey are optional; without them the default AWS
	// credential chain applies.
	AccessKey string
	SecretKey string
	// PathStyle is needed for most self-hosted S3 implementations.
	PathStyle bool
}

// S3Backend stores content as objects named <prefix>/<type>/<id>. Objects
// are private; key backups additionally request server-side encryption.
type S3Backend struct {
	client      s3iface.S3API
	bucket      string
	prefix      string
	log         *slog.Logger
	locationURI string
}

// NewS3Backend creates an S3 backend.
func NewS3Backend(cfg S3Config, log *slog.Logger) (*S3Backend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: missing S3 bucket", interfaces.ErrInvalidLocationURI)
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	awsCfg := aws.NewConfig().WithRegion(cfg.Region)
	if cfg.Endpoint != "" {
		awsCfg = awsCfg.WithEndpoint(cfg.Endpoint)
	}
	if cfg.PathStyle {
		awsCfg = awsCfg.WithS3ForcePathStyle(true)
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		awsCfg = awsCfg.WithCredentials(credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, ""))
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	uri := fmt.Sprintf("s3://%s/%s?region=%s", cfg.Bucket, cfg.Prefix, cfg.Region)
	if cfg.Endpoint != "" {
		uri += "&endpoint=" + cfg.Endpoint
	}

	return newS3Backend(s3.New(sess), cfg.Bucket, cfg.Prefix, uri, log), nil
}

func newS3Backend(client s3iface.S3API, bucket, prefix, uri string, log *slog.Logger) *S3Backend {
	return &S3Backend{
		client:      client,
		bucket:      bucket,
		prefix:      strings.Trim(prefix, "/"),
		log:         log,
		locationURI: uri,
	}
}

// Fetch downloads the object for id. NoSuchKey yields ErrContentNotFound.
func (b *S3Backend) Fetch(ctx context.Context, id interfaces.ContentID, contentType interfaces.ContentType) ([]byte, error) {
	start := time.Now()
	key := b.objectKey(id, contentType)

	result, err := b.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var aerr awserr.Error
		if errors.As(err, &aerr) && (aerr.Code() == s3.ErrCodeNoSuchKey || aerr.Code() == "NotFound") {
			b.log.Debug("Content not found in S3",
				slog.String("bucket", b.bucket),
				slog.String("key", key))
			return nil, interfaces.ErrContentNotFound
		}
		b.log.Error("Failed to get object from S3",
			slog.String("bucket", b.bucket),
			slog.String("key", key),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return nil, fmt.Errorf("failed to get object from S3: %w", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object body: %w", err)
	}

	b.log.Debug("Fetched content from S3",
		slog.String("bucket", b.bucket),
		slog.String("key", key),
		slog.Int("size", len(data)),
		slog.Duration("duration", time.Since(start)))
	return data, nil
}

// Store uploads data under its content ID.
func (b *S3Backend) Store(ctx context.Context, data []byte, contentType interfaces.ContentType) (interfaces.ContentID, error) {
	id := interfaces.ComputeID(data)
	key := b.objectKey(id, contentType)

	input := &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(mimeType(contentType)),
	}
	if contentType == interfaces.KeyBackupType {
		input.ServerSideEncryption = aws.String(s3.ServerSideEncryptionAes256)
	}

	if _, err := b.client.PutObjectWithContext(ctx, input); err != nil {
		return id, fmt.Errorf("failed to upload object to S3: %w", err)
	}

	b.log.Debug("Stored content in S3",
		slog.String("bucket", b.bucket),
		slog.String("key", key),
		slog.String("content_id", id.String()))
	return id, nil
}

// Available heads the bucket.
func (b *S3Backend) Available(ctx context.Context) bool {
	_, err := b.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.bucket),
	})
	if err != nil {
		b.log.Warn("S3 backend unavailable", slog.String("bucket", b.bucket), "err", err)
		return false
	}
	return true
}

// Name returns a unique identifier for this storage backend.
func (b *S3Backend) Name() string {
	return "s3-" + b.bucket
}

// LocationURI returns the URI that identifies this storage backend.
func (b *S3Backend) LocationURI() string {
	return b.locationURI
}

func (b *S3Backend) objectKey(id interfaces.ContentID, contentType interfaces.ContentType) string {
	return path.Join(b.prefix, contentType.String(), id.String())
}

func mimeType(contentType interfaces.ContentType) string {
	if contentType == interfaces.RecordType {
		return "application/json"
	}
	return "application/octet-stream"
}
