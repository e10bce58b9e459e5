// Package artifact uploads rendered report files to S3-compatible object
// storage so notification channels can link to them.
package artifact

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/dverhoef/scanwarden/internal/config"
)

// ObjectStore is the subset of the minio client the uploader needs; tests
// substitute a fake.
type ObjectStore interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader *bytes.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// minioStore adapts *minio.Client to ObjectStore.
type minioStore struct {
	client *minio.Client
}

func (m minioStore) BucketExists(ctx context.Context, bucket string) (bool, error) {
	return m.client.BucketExists(ctx, bucket)
}

func (m minioStore) MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error {
	return m.client.MakeBucket(ctx, bucket, opts)
}

func (m minioStore) PutObject(ctx context.Context, bucket, object string, reader *bytes.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	return m.client.PutObject(ctx, bucket, object, reader, size, opts)
}

// Uploader pushes report artifacts into one bucket, prefixed by upload date.
type Uploader struct {
	store   ObjectStore
	cfg     config.ArtifactConfig
	log     *zap.Logger
	nowFunc func() time.Time
	ensured bool
}

// New connects to the configured endpoint.
func New(cfg config.ArtifactConfig, logger *zap.Logger) (*Uploader, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object storage client: %w", err)
	}
	return newWithStore(minioStore{client: client}, cfg, logger), nil
}

func newWithStore(store ObjectStore, cfg config.ArtifactConfig, logger *zap.Logger) *Uploader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Uploader{
		store:   store,
		cfg:     cfg,
		log:     logger.Named("artifact"),
		nowFunc: time.Now,
	}
}

// Upload stores the artifact and returns its URL. The bucket is created on
// first use.
func (u *Uploader) Upload(ctx context.Context, objectName string, data []byte, contentType string) (string, error) {
	if err := u.ensureBucket(ctx); err != nil {
		return "", err
	}

	object := fmt.Sprintf("%s/%s", u.nowFunc().UTC().Format("2006-01-02"), objectName)
	_, err := u.store.PutObject(ctx, u.cfg.Bucket, object,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("failed to upload artifact %q: %w", object, err)
	}

	url := u.objectURL(object)
	u.log.Info("Uploaded report artifact", zap.String("url", url))
	return url, nil
}

func (u *Uploader) ensureBucket(ctx context.Context) error {
	if u.ensured {
		return nil
	}
	exists, err := u.store.BucketExists(ctx, u.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %q: %w", u.cfg.Bucket, err)
	}
	if !exists {
		if err := u.store.MakeBucket(ctx, u.cfg.Bucket, minio.MakeBucketOptions{Region: u.cfg.Region}); err != nil {
			return fmt.Errorf("failed to create bucket %q: %w", u.cfg.Bucket, err)
		}
		u.log.Info("Created artifact bucket", zap.String("bucket", u.cfg.Bucket))
	}
	u.ensured = true
	return nil
}

func (u *Uploader) objectURL(object string) string {
	scheme := "http"
	if u.cfg.UseSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, u.cfg.Endpoint, u.cfg.Bucket, object)
}
