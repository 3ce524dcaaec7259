// Package blobstore provides the document storage backends that recipient
// lists, templates, campaign state and the send log are persisted in.
package blobstore

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// ErrNotFound is returned when a requested document does not exist.
var ErrNotFound = errors.New("blobstore: document not found")

// Store defines the interface for document storage backends. Every Put
// replaces the whole document; readers never observe a partial write.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	// List returns the keys under prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Config holds configuration for creating a Store.
type Config struct {
	Type          string // "local", "s3" or "redis"
	Path          string // base directory for local store
	S3Bucket      string
	S3Prefix      string
	S3Endpoint    string
	S3Region      string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// New creates a Store based on the provided configuration.
// If Type is empty or unsupported, it defaults to local storage and logs a warning.
func New(cfg Config, logger zerolog.Logger) (Store, error) {
	switch cfg.Type {
	case "local":
		return NewLocalFileStore(cfg.Path)
	case "s3":
		return NewS3StoreFromConfig(cfg)
	case "redis":
		return NewRedisStoreFromConfig(cfg), nil
	default:
		logger.Warn().
			Str("type", cfg.Type).
			Msg("unsupported or empty store type, defaulting to local")
		return NewLocalFileStore(cfg.Path)
	}
}
