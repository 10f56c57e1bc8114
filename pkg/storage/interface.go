package storage

import (
	"context"
	"io"
	"time"
)

// Storage is the blob store used for message attachments.
type Storage interface {
	// Write stores content from the reader under key.
	// size is the expected content length, or -1 if unknown.
	Write(ctx context.Context, key string, r io.Reader, size int64, contentType string) error

	// Delete removes key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// GetURL returns a URL clients can fetch key from.
	// For S3 without a public URL the result is presigned and valid for expires.
	GetURL(ctx context.Context, key string, expires time.Duration) (string, error)
}

// Config selects and configures a Storage backend.
type Config struct {
	Backend string      `mapstructure:"backend"` // local, s3
	Local   LocalConfig `mapstructure:"local"`
	S3      S3Config    `mapstructure:"s3"`
}

// New builds the backend named by cfg.Backend.
func New(ctx context.Context, cfg Config) (Storage, error) {
	switch cfg.Backend {
	case "s3":
		return NewS3Storage(ctx, cfg.S3)
	case "", "local":
		return NewLocalStorage(cfg.Local)
	default:
		return nil, &UnsupportedBackendError{Backend: cfg.Backend}
	}
}

// UnsupportedBackendError is returned by New for unknown backends.
type UnsupportedBackendError struct {
	Backend string
}

func (e *UnsupportedBackendError) Error() string {
	return "unsupported storage backend: " + e.Backend
}
