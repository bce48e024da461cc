// Package storage stores opaque blobs by slash-separated path on the local
// filesystem or in S3.
package storage

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested path does not exist in storage.
var ErrNotFound = errors.New("not found")

// ErrInvalidPath is returned for paths that escape the storage root.
var ErrInvalidPath = errors.New("invalid storage path")

type Storage interface {
	Read(ctx context.Context, path string) ([]byte, error)
	Write(ctx context.Context, path string, data []byte) error
	Delete(ctx context.Context, path string) error
	// List returns the paths directly under prefix. A prefix that does not
	// end in "/" also matches the beginning of file names.
	List(ctx context.Context, prefix string) ([]string, error)
	Exists(ctx context.Context, path string) (bool, error)
}

const (
	TypeLocal = "local"
	TypeS3    = "s3"
)

type Config struct {
	Type    string
	BaseDir string

	S3Bucket       string
	S3Prefix       string
	S3Region       string
	S3Endpoint     string
	S3UsePathStyle bool
}

// Open builds the backend selected by cfg.Type. Unknown types fall back to
// local storage.
func Open(ctx context.Context, cfg Config) (Storage, error) {
	switch cfg.Type {
	case TypeS3:
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("s3 storage requires a bucket")
		}
		return NewS3Storage(ctx, cfg.S3Bucket, cfg.S3Prefix, cfg.S3Region,
			WithEndpoint(cfg.S3Endpoint), WithPathStyle(cfg.S3UsePathStyle))
	default:
		return NewLocalStorage(cfg.BaseDir)
	}
}
