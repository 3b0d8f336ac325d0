package storage

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/spf13/afero"
	"github.com/zulandar/datayard/internal/config"
)

// objectStore is the part of the minio client the mirror uses.
type objectStore interface {
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucket, key string, opts minio.RemoveObjectOptions) error
}

// Mirror copies export artifacts to an S3-compatible bucket.
type Mirror struct {
	client objectStore
	bucket string
	prefix string
}

// NewMirror connects to the bucket described by cfg.
func NewMirror(cfg config.MirrorConfig) (*Mirror, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: mirror client: %w", err)
	}
	return &Mirror{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (m *Mirror) key(name string) string {
	return path.Join(m.prefix, name)
}

// Publish uploads the file at name in fs under the same relative key.
func (m *Mirror) Publish(ctx context.Context, fs afero.Fs, name string) error {
	f, err := fs.Open(name)
	if err != nil {
		return fmt.Errorf("storage: publish %s: %w", name, err)
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("storage: publish %s: %w", name, err)
	}
	opts := minio.PutObjectOptions{ContentType: mime.TypeByExtension(path.Ext(name))}
	if opts.ContentType == "" {
		opts.ContentType = "application/octet-stream"
	}
	if _, err := m.client.PutObject(ctx, m.bucket, m.key(name), f, fi.Size(), opts); err != nil {
		return fmt.Errorf("storage: publish %s: %w", name, err)
	}
	return nil
}

// Remove deletes the mirrored copy of name. A missing object is not an
// error.
func (m *Mirror) Remove(ctx context.Context, name string) error {
	err := m.client.RemoveObject(ctx, m.bucket, m.key(name), minio.RemoveObjectOptions{})
	if err != nil {
		code := minio.ToErrorResponse(err).Code
		if code == "NoSuchKey" || code == "NotFound" {
			return nil
		}
		return fmt.Errorf("storage: remove mirrored %s: %w", name, err)
	}
	return nil
}
