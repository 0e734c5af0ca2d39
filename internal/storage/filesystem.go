package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dunamismax/imagebench/internal/domain"
)

// FileStore keeps every bucket in its own directory on local disk.
type FileStore struct {
	roots  map[domain.Bucket]string
	locker *Locker
}

// NewFileStore creates the bucket directories if they do not exist yet.
func NewFileStore(originalsDir, modifiedDir string) (*FileStore, error) {
	roots := map[domain.Bucket]string{
		domain.BucketOriginals: strings.TrimSpace(originalsDir),
		domain.BucketModified:  strings.TrimSpace(modifiedDir),
	}
	for bucket, dir := range roots {
		if dir == "" {
			return nil, fmt.Errorf("storage: directory for bucket %s is required", bucket)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("storage: ensure %s directory: %w", bucket, err)
		}
	}
	return &FileStore{roots: roots, locker: NewLocker()}, nil
}

func (s *FileStore) Put(ctx context.Context, bucket domain.Bucket, name string, data []byte) (domain.Asset, error) {
	fullPath, err := s.path(bucket, name)
	if err != nil {
		return domain.Asset{}, err
	}
	if err := ctx.Err(); err != nil {
		return domain.Asset{}, err
	}

	unlock := s.locker.Lock(lockKey(bucket, name))
	defer unlock()

	dir := filepath.Dir(fullPath)
	tmp, err := os.CreateTemp(dir, "."+name+".*.tmp")
	if err != nil {
		return domain.Asset{}, fmt.Errorf("storage: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return domain.Asset{}, fmt.Errorf("storage: write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return domain.Asset{}, fmt.Errorf("storage: close %s: %w", name, err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return domain.Asset{}, fmt.Errorf("storage: chmod %s: %w", name, err)
	}
	if err := os.Rename(tmpPath, fullPath); err != nil {
		return domain.Asset{}, fmt.Errorf("storage: replace %s: %w", name, err)
	}

	return domain.Asset{
		Name:       name,
		Bucket:     bucket,
		Format:     domain.DetectFormat(data),
		Size:       int64(len(data)),
		Location:   fullPath,
		ModifiedAt: time.Now().UTC(),
	}, nil
}

func (s *FileStore) Get(ctx context.Context, bucket domain.Bucket, name string) ([]byte, error) {
	fullPath, err := s.path(bucket, name)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(fullPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s/%s", domain.ErrAssetNotFound, bucket, name)
		}
		return nil, fmt.Errorf("storage: read %s: %w", name, err)
	}
	return data, nil
}

func (s *FileStore) Stat(ctx context.Context, bucket domain.Bucket, name string) (domain.Asset, error) {
	fullPath, err := s.path(bucket, name)
	if err != nil {
		return domain.Asset{}, err
	}
	if err := ctx.Err(); err != nil {
		return domain.Asset{}, err
	}

	info, err := os.Stat(fullPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.Asset{}, fmt.Errorf("%w: %s/%s", domain.ErrAssetNotFound, bucket, name)
		}
		return domain.Asset{}, fmt.Errorf("storage: stat %s: %w", name, err)
	}

	format := domain.FormatUnknown
	if f, err := os.Open(fullPath); err == nil {
		header := make([]byte, 512)
		n, _ := f.Read(header)
		f.Close()
		format = domain.DetectFormat(header[:n])
	}

	return domain.Asset{
		Name:       name,
		Bucket:     bucket,
		Format:     format,
		Size:       info.Size(),
		Location:   fullPath,
		ModifiedAt: info.ModTime().UTC(),
	}, nil
}

func (s *FileStore) Delete(ctx context.Context, bucket domain.Bucket, name string) error {
	fullPath, err := s.path(bucket, name)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	unlock := s.locker.Lock(lockKey(bucket, name))
	defer unlock()

	if err := os.Remove(fullPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("storage: delete %s: %w", name, err)
	}
	return nil
}

// Dir returns the directory backing bucket.
func (s *FileStore) Dir(bucket domain.Bucket) string {
	return s.roots[bucket]
}

func (s *FileStore) path(bucket domain.Bucket, name string) (string, error) {
	root, ok := s.roots[bucket]
	if !ok {
		return "", fmt.Errorf("storage: unknown bucket %q", bucket)
	}
	if err := domain.ValidateAssetName(name); err != nil {
		return "", fmt.Errorf("%w: %q", err, name)
	}
	return filepath.Join(root, name), nil
}
