package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrFileNotFound is returned when the catalog has no row for a file
	ErrFileNotFound = errors.New("file not found in catalog")
	// ErrDiskNotFound is returned when the catalog has no row for a disk
	ErrDiskNotFound = errors.New("disk not found in catalog")
)

// FileInfo is a file registration as summarized by the catalog
type FileInfo struct {
	DiskID        string
	FileID        string
	FileVersion   int
	Filename      string
	FileSize      int64
	IngestionDate time.Time
}

// String returns human readable form of the file
func (info *FileInfo) String() string {
	return fmt.Sprintf("%s/%s/%d", info.DiskID, info.FileID, info.FileVersion)
}

// CachedObject is a row of the catalog cache table
type CachedObject struct {
	DiskID      string
	FileID      string
	FileVersion int
	CacheTime   time.Time
	Delete      bool
}

// DiskInfo is a disk registration
type DiskInfo struct {
	DiskID     string
	HostID     string
	MountPoint string
}

// Catalog is the cluster catalog contract required by the cache control engine
type Catalog interface {
	// GetCachedObjects returns the cache table rows of the given node
	GetCachedObjects(ctx context.Context, nodeID string) ([]*CachedObject, error)
	// GetCatalogSummary returns all files resident on the given node
	GetCatalogSummary(ctx context.Context, nodeID string) ([]*FileInfo, error)
	// GetFileInfo returns a single file, ErrFileNotFound if missing
	GetFileInfo(ctx context.Context, diskID string, fileID string, fileVersion int) (*FileInfo, error)
	// GetDiskInfo returns a disk, ErrDiskNotFound if missing
	GetDiskInfo(ctx context.Context, diskID string) (*DiskInfo, error)

	InsertCacheEntry(ctx context.Context, diskID string, fileID string, fileVersion int, cacheTime time.Time, deleteFlag bool) error
	UpdateCacheEntry(ctx context.Context, diskID string, fileID string, fileVersion int, deleteFlag bool) error
	DeleteCacheEntry(ctx context.Context, diskID string, fileID string, fileVersion int) error

	// GetDeletionEligibility returns ErrFileNotFound if the file is gone
	GetDeletionEligibility(ctx context.Context, fileID string, fileVersion int, diskID string) (bool, error)
	SetDeletionEligible(ctx context.Context, fileID string, fileVersion int, diskID string) error

	// DeregisterFile removes the file registration and adjusts the stored bytes of the disk
	DeregisterFile(ctx context.Context, nodeID string, diskID string, fileID string, fileVersion int) error
}
