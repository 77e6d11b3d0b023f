// Package storage uploads venue images and seating charts to object storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"ms-stepping/internal/config"
	"ms-stepping/internal/logger"
	"ms-stepping/internal/utils"
)

var (
	ErrUploadFailed      = errors.New("upload failed")
	ErrTooLarge          = errors.New("file exceeds the upload limit")
	ErrUnsupportedType   = errors.New("unsupported file type")
	ErrEmptyUpload       = errors.New("empty upload")
	ErrUnknownUploadKind = errors.New("unknown upload kind")
)

// ObjectStore writes objects. Implemented by S3Store and LocalStore.
type ObjectStore interface {
	PutObject(ctx context.Context, bucket, key, contentType string, body []byte) error
	URL(bucket, key string) string
}

type Kind string

const (
	KindVenueImage   Kind = "venue_image"
	KindSeatingChart Kind = "seating_chart"
)

var imageTypes = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
}

// Uploader validates uploads and routes them to the right bucket.
type Uploader struct {
	Store    ObjectStore
	Buckets  map[Kind]string
	MaxBytes int64
	Logger   *logger.Logger
}

func NewUploader(store ObjectStore, cfg config.StorageConfig, log *logger.Logger) *Uploader {
	return &Uploader{
		Store: store,
		Buckets: map[Kind]string{
			KindVenueImage:   cfg.VenueImagesBucket,
			KindSeatingChart: cfg.SeatingChartsBucket,
		},
		MaxBytes: cfg.MaxUploadBytes,
		Logger:   log,
	}
}

// Upload reads at most MaxBytes from r, checks the sniffed content type
// against the allow-list for kind and stores it under prefix. It returns the
// public URL.
func (u *Uploader) Upload(ctx context.Context, kind Kind, prefix string, r io.Reader) (string, error) {
	bucket, ok := u.Buckets[kind]
	if !ok || bucket == "" {
		return "", fmt.Errorf("%w: %s", ErrUnknownUploadKind, kind)
	}

	body, err := io.ReadAll(io.LimitReader(r, u.MaxBytes+1))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	if len(body) == 0 {
		return "", ErrEmptyUpload
	}
	if int64(len(body)) > u.MaxBytes {
		return "", fmt.Errorf("%w (%d MiB)", ErrTooLarge, u.MaxBytes>>20)
	}

	contentType := DetectContentType(body)
	ext, ok := allowedExtension(kind, contentType)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, contentType)
	}

	key := path.Join(strings.Trim(prefix, "/"), fmt.Sprintf("%d-%s%s", time.Now().Unix(), utils.GenerateID(), ext))
	if err := u.Store.PutObject(ctx, bucket, key, contentType, body); err != nil {
		u.Logger.Error("STORAGE", fmt.Sprintf("Failed to upload %s to %s: %v", key, bucket, err))
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}

	url := u.Store.URL(bucket, key)
	u.Logger.Info("STORAGE", fmt.Sprintf("Uploaded %s (%s, %d bytes) to %s", key, contentType, len(body), bucket))
	return url, nil
}

// DetectContentType sniffs body, dropping any parameters.
func DetectContentType(body []byte) string {
	ct := http.DetectContentType(body)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return ct
}

func allowedExtension(kind Kind, contentType string) (string, bool) {
	if ext, ok := imageTypes[contentType]; ok {
		return ext, true
	}
	if kind == KindSeatingChart && contentType == "application/pdf" {
		return ".pdf", true
	}
	return "", false
}

// publicURL joins base, bucket and key.
func publicURL(base, bucket, key string) string {
	return strings.TrimRight(base, "/") + "/" + bucket + "/" + key
}
