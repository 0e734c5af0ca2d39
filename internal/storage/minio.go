package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/dunamismax/imagebench/internal/domain"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type ObjectConfig struct {
	Endpoint string
	Access   string
	Secret   string
	Bucket   string
	UseSSL   bool
}

// ObjectStore keeps assets in one S3 bucket, keyed "<bucket>/<name>".
type ObjectStore struct {
	minio  *minio.Client
	bucket string
	locker *Locker
}

func NewObjectStore(cfg ObjectConfig) (*ObjectStore, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Access, cfg.Secret, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &ObjectStore{
		minio:  mc,
		bucket: cfg.Bucket,
		locker: NewLocker(),
	}, nil
}

func (s *ObjectStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.minio.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket existence: %w", err)
	}
	if exists {
		return nil
	}

	if err := s.minio.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		exists, checkErr := s.minio.BucketExists(ctx, s.bucket)
		if checkErr == nil && exists {
			return nil
		}
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	return nil
}

func (s *ObjectStore) Put(ctx context.Context, bucket domain.Bucket, name string, data []byte) (domain.Asset, error) {
	key, err := objectKey(bucket, name)
	if err != nil {
		return domain.Asset{}, err
	}

	unlock := s.locker.Lock(lockKey(bucket, name))
	defer unlock()

	format := domain.DetectFormat(data)
	info, err := s.minio.PutObject(
		ctx,
		s.bucket,
		key,
		bytes.NewReader(data),
		int64(len(data)),
		minio.PutObjectOptions{ContentType: domain.ContentTypeForFormat(format)},
	)
	if err != nil {
		return domain.Asset{}, fmt.Errorf("put object %s: %w", key, err)
	}

	return domain.Asset{
		Name:       name,
		Bucket:     bucket,
		Format:     format,
		Size:       int64(len(data)),
		Location:   path.Join(s.bucket, key),
		ModifiedAt: info.LastModified.UTC(),
	}, nil
}

func (s *ObjectStore) Get(ctx context.Context, bucket domain.Bucket, name string) ([]byte, error) {
	key, err := objectKey(bucket, name)
	if err != nil {
		return nil, err
	}

	obj, err := s.minio.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.classify(err, key)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, s.classify(err, key)
	}
	return data, nil
}

func (s *ObjectStore) Stat(ctx context.Context, bucket domain.Bucket, name string) (domain.Asset, error) {
	key, err := objectKey(bucket, name)
	if err != nil {
		return domain.Asset{}, err
	}

	info, err := s.minio.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return domain.Asset{}, s.classify(err, key)
	}

	format := domain.FormatUnknown
	if ct := strings.TrimPrefix(info.ContentType, "image/"); ct != info.ContentType {
		format = ct
	}

	return domain.Asset{
		Name:       name,
		Bucket:     bucket,
		Format:     format,
		Size:       info.Size,
		Location:   path.Join(s.bucket, key),
		ModifiedAt: info.LastModified.UTC(),
	}, nil
}

func (s *ObjectStore) Delete(ctx context.Context, bucket domain.Bucket, name string) error {
	key, err := objectKey(bucket, name)
	if err != nil {
		return err
	}

	unlock := s.locker.Lock(lockKey(bucket, name))
	defer unlock()

	if err := s.minio.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		if isMissingObject(err) {
			return nil
		}
		return fmt.Errorf("remove object %s: %w", key, err)
	}
	return nil
}

func (s *ObjectStore) classify(err error, key string) error {
	if isMissingObject(err) {
		return fmt.Errorf("%w: %s", domain.ErrAssetNotFound, key)
	}
	return fmt.Errorf("read object %s: %w", key, err)
}

func isMissingObject(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NoSuchObject"
}

func objectKey(bucket domain.Bucket, name string) (string, error) {
	if err := domain.ValidateAssetName(name); err != nil {
		return "", fmt.Errorf("%w: %q", err, name)
	}
	return path.Join(string(bucket), name), nil
}
