package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// LocalStore writes objects under a directory. Used for development and tests.
type LocalStore struct {
	basePath string
	baseURL  string
}

func NewLocalStore(basePath, baseURL string) (*LocalStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	if baseURL == "" {
		baseURL = "/uploads"
	}
	return &LocalStore{basePath: basePath, baseURL: baseURL}, nil
}

func (l *LocalStore) PutObject(ctx context.Context, bucket, key, contentType string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dest := filepath.Join(l.basePath, bucket, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	return os.WriteFile(dest, body, 0644)
}

func (l *LocalStore) URL(bucket, key string) string {
	return publicURL(l.baseURL, bucket, key)
}

func (l *LocalStore) Path(bucket, key string) string {
	return filepath.Join(l.basePath, bucket, filepath.FromSlash(key))
}
