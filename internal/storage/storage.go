// Package storage reads captures from and exports reports to object storage.
package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/heapshot-analysis/pkg/config"
)

// Storage defines the interface for object storage operations.
type Storage interface {
	// Open streams the object at key.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Fetch copies the object at key to a local file.
	Fetch(ctx context.Context, key string, localPath string) error

	// Upload writes data from reader to key.
	Upload(ctx context.Context, key string, reader io.Reader) error

	// Exists checks if an object exists at key.
	Exists(ctx context.Context, key string) (bool, error)

	// Delete deletes the object at key. Deleting a missing object succeeds.
	Delete(ctx context.Context, key string) error

	// URL returns where the object at key can be reached.
	URL(key string) string
}

// FileResolver is implemented by backends whose objects are plain files.
// Live tailing needs one, since it reads a file while it is still growing.
type FileResolver interface {
	LocalPath(key string) (string, error)
}

// StorageType represents the type of storage backend.
type StorageType string

const (
	StorageTypeLocal StorageType = "local"
	StorageTypeCOS   StorageType = "cos"
)

// NewStorage creates a new Storage instance based on the configuration.
func NewStorage(cfg *config.StorageConfig) (Storage, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	switch StorageType(cfg.Type) {
	case StorageTypeCOS:
		return NewCOSStorage(&COSConfig{
			Bucket:    cfg.Bucket,
			Region:    cfg.Region,
			SecretID:  cfg.SecretID,
			SecretKey: cfg.SecretKey,
			Domain:    cfg.Domain,
			Scheme:    cfg.Scheme,
		})
	default:
		return NewLocalStorage(cfg.LocalPath)
	}
}

// ValidateConfig validates the storage configuration.
func ValidateConfig(cfg *config.StorageConfig) error {
	if cfg == nil {
		return fmt.Errorf("storage config is nil")
	}

	switch StorageType(cfg.Type) {
	case StorageTypeLocal, "":
		if cfg.LocalPath == "" {
			return fmt.Errorf("local storage path is required")
		}
	case StorageTypeCOS:
		if cfg.Bucket == "" {
			return fmt.Errorf("COS bucket is required")
		}
		if cfg.Region == "" {
			return fmt.Errorf("COS region is required")
		}
		if cfg.SecretID == "" || cfg.SecretKey == "" {
			return fmt.Errorf("COS credentials are required")
		}
	default:
		return fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}

	return nil
}
