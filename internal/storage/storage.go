// Package storage keeps uploaded document bodies on the local filesystem or
// in an S3-compatible bucket.
package storage

import (
	"context"
	"fmt"
	"io"
)

// Store saves and removes document bodies. Save returns the path recorded with
// the document; Remove accepts that path.
type Store interface {
	Save(ctx context.Context, key, contentType string, body io.Reader) (string, error)
	Remove(ctx context.Context, path string) error
}

// Config selects and configures a driver.
type Config struct {
	Driver         string
	Dir            string
	S3Bucket       string
	S3Region       string
	S3Endpoint     string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool
}

// New builds the configured driver.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", "local":
		return NewLocal(cfg.Dir)
	case "s3":
		return NewS3(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
