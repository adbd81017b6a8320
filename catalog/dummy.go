package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/xerrors"
)

type dummyFileKey struct {
	diskID      string
	fileID      string
	fileVersion int
}

func makeDummyFileKey(diskID string, fileID string, fileVersion int) dummyFileKey {
	return dummyFileKey{
		diskID:      diskID,
		fileID:      fileID,
		fileVersion: fileVersion,
	}
}

// DummyCatalog implements Catalog interface with in-memory data.
// Failures can be injected per operation name (method name of Catalog).
type DummyCatalog struct {
	dummyFiles      map[dummyFileKey]*FileInfo
	dummyFileHost   map[dummyFileKey]string
	dummyDisks      map[string]*DiskInfo
	dummyCache      map[dummyFileKey]*CachedObject
	dummyEligible   map[dummyFileKey]bool
	dummyFailures   map[string]error
	dummyCallCounts map[string]int
	mutex           sync.Mutex
}

// NewDummyCatalog creates an empty DummyCatalog
func NewDummyCatalog() *DummyCatalog {
	return &DummyCatalog{
		dummyFiles:      map[dummyFileKey]*FileInfo{},
		dummyFileHost:   map[dummyFileKey]string{},
		dummyDisks:      map[string]*DiskInfo{},
		dummyCache:      map[dummyFileKey]*CachedObject{},
		dummyEligible:   map[dummyFileKey]bool{},
		dummyFailures:   map[string]error{},
		dummyCallCounts: map[string]int{},
	}
}

// AddDummyDisk registers a disk
func (catalog *DummyCatalog) AddDummyDisk(diskID string, hostID string, mountPoint string) {
	catalog.mutex.Lock()
	defer catalog.mutex.Unlock()

	catalog.dummyDisks[diskID] = &DiskInfo{
		DiskID:     diskID,
		HostID:     hostID,
		MountPoint: mountPoint,
	}
}

// AddDummyFile registers a file on the host owning its disk
func (catalog *DummyCatalog) AddDummyFile(info *FileInfo) {
	catalog.mutex.Lock()
	defer catalog.mutex.Unlock()

	key := makeDummyFileKey(info.DiskID, info.FileID, info.FileVersion)
	infoCopy := *info
	catalog.dummyFiles[key] = &infoCopy

	if disk, ok := catalog.dummyDisks[info.DiskID]; ok {
		catalog.dummyFileHost[key] = disk.HostID
	}
}

// AddDummyCachedObject adds a row to the cache table
func (catalog *DummyCatalog) AddDummyCachedObject(object *CachedObject) {
	catalog.mutex.Lock()
	defer catalog.mutex.Unlock()

	objectCopy := *object
	catalog.dummyCache[makeDummyFileKey(object.DiskID, object.FileID, object.FileVersion)] = &objectCopy
}

// SetDummyFailure makes the given operation fail with err. nil err clears the failure.
func (catalog *DummyCatalog) SetDummyFailure(operation string, err error) {
	catalog.mutex.Lock()
	defer catalog.mutex.Unlock()

	if err == nil {
		delete(catalog.dummyFailures, operation)
		return
	}
	catalog.dummyFailures[operation] = err
}

// SetDummyEligibility sets the deletion eligibility of a file
func (catalog *DummyCatalog) SetDummyEligibility(fileID string, fileVersion int, diskID string, eligible bool) {
	catalog.mutex.Lock()
	defer catalog.mutex.Unlock()

	catalog.dummyEligible[makeDummyFileKey(diskID, fileID, fileVersion)] = eligible
}

// GetDummyCachedObject returns a copy of a cache table row
func (catalog *DummyCatalog) GetDummyCachedObject(diskID string, fileID string, fileVersion int) (*CachedObject, bool) {
	catalog.mutex.Lock()
	defer catalog.mutex.Unlock()

	object, ok := catalog.dummyCache[makeDummyFileKey(diskID, fileID, fileVersion)]
	if !ok {
		return nil, false
	}
	objectCopy := *object
	return &objectCopy, true
}

// HasDummyFile checks if a file is registered
func (catalog *DummyCatalog) HasDummyFile(diskID string, fileID string, fileVersion int) bool {
	catalog.mutex.Lock()
	defer catalog.mutex.Unlock()

	_, ok := catalog.dummyFiles[makeDummyFileKey(diskID, fileID, fileVersion)]
	return ok
}

// GetDummyCallCount returns how many times the given operation was called
func (catalog *DummyCatalog) GetDummyCallCount(operation string) int {
	catalog.mutex.Lock()
	defer catalog.mutex.Unlock()

	return catalog.dummyCallCounts[operation]
}

// enter records a call and returns the injected failure, if any. Must hold the mutex.
func (catalog *DummyCatalog) enter(ctx context.Context, operation string) error {
	catalog.dummyCallCounts[operation]++

	if err := ctx.Err(); err != nil {
		return err
	}

	if err, ok := catalog.dummyFailures[operation]; ok {
		return xerrors.Errorf("failed to %s: %w", operation, err)
	}
	return nil
}

// GetCachedObjects returns the cache table rows of the given node
func (catalog *DummyCatalog) GetCachedObjects(ctx context.Context, nodeID string) ([]*CachedObject, error) {
	catalog.mutex.Lock()
	defer catalog.mutex.Unlock()

	if err := catalog.enter(ctx, "GetCachedObjects"); err != nil {
		return nil, err
	}

	objects := []*CachedObject{}
	for key, object := range catalog.dummyCache {
		disk, ok := catalog.dummyDisks[key.diskID]
		if !ok || disk.HostID != nodeID {
			continue
		}
		objectCopy := *object
		objects = append(objects, &objectCopy)
	}

	sort.Slice(objects, func(i, j int) bool {
		return fmt.Sprintf("%s/%s/%d", objects[i].DiskID, objects[i].FileID, objects[i].FileVersion) <
			fmt.Sprintf("%s/%s/%d", objects[j].DiskID, objects[j].FileID, objects[j].FileVersion)
	})
	return objects, nil
}

// GetCatalogSummary returns all files resident on the given node
func (catalog *DummyCatalog) GetCatalogSummary(ctx context.Context, nodeID string) ([]*FileInfo, error) {
	catalog.mutex.Lock()
	defer catalog.mutex.Unlock()

	if err := catalog.enter(ctx, "GetCatalogSummary"); err != nil {
		return nil, err
	}

	files := []*FileInfo{}
	for key, info := range catalog.dummyFiles {
		if catalog.dummyFileHost[key] != nodeID {
			continue
		}
		infoCopy := *info
		files = append(files, &infoCopy)
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].String() < files[j].String()
	})
	return files, nil
}

// GetFileInfo returns a single file
func (catalog *DummyCatalog) GetFileInfo(ctx context.Context, diskID string, fileID string, fileVersion int) (*FileInfo, error) {
	catalog.mutex.Lock()
	defer catalog.mutex.Unlock()

	if err := catalog.enter(ctx, "GetFileInfo"); err != nil {
		return nil, err
	}

	info, ok := catalog.dummyFiles[makeDummyFileKey(diskID, fileID, fileVersion)]
	if !ok {
		return nil, xerrors.Errorf("failed to find file %s/%s/%d: %w", diskID, fileID, fileVersion, ErrFileNotFound)
	}

	infoCopy := *info
	return &infoCopy, nil
}

// GetDiskInfo returns a disk
func (catalog *DummyCatalog) GetDiskInfo(ctx context.Context, diskID string) (*DiskInfo, error) {
	catalog.mutex.Lock()
	defer catalog.mutex.Unlock()

	if err := catalog.enter(ctx, "GetDiskInfo"); err != nil {
		return nil, err
	}

	disk, ok := catalog.dummyDisks[diskID]
	if !ok {
		return nil, xerrors.Errorf("failed to find disk %s: %w", diskID, ErrDiskNotFound)
	}

	diskCopy := *disk
	return &diskCopy, nil
}

// InsertCacheEntry adds a cache table row, keeping an existing one
func (catalog *DummyCatalog) InsertCacheEntry(ctx context.Context, diskID string, fileID string, fileVersion int, cacheTime time.Time, deleteFlag bool) error {
	catalog.mutex.Lock()
	defer catalog.mutex.Unlock()

	if err := catalog.enter(ctx, "InsertCacheEntry"); err != nil {
		return err
	}

	key := makeDummyFileKey(diskID, fileID, fileVersion)
	if _, ok := catalog.dummyCache[key]; ok {
		return nil
	}

	catalog.dummyCache[key] = &CachedObject{
		DiskID:      diskID,
		FileID:      fileID,
		FileVersion: fileVersion,
		CacheTime:   cacheTime,
		Delete:      deleteFlag,
	}
	return nil
}

// UpdateCacheEntry sets the delete flag of a cache table row
func (catalog *DummyCatalog) UpdateCacheEntry(ctx context.Context, diskID string, fileID string, fileVersion int, deleteFlag bool) error {
	catalog.mutex.Lock()
	defer catalog.mutex.Unlock()

	if err := catalog.enter(ctx, "UpdateCacheEntry"); err != nil {
		return err
	}

	if object, ok := catalog.dummyCache[makeDummyFileKey(diskID, fileID, fileVersion)]; ok {
		object.Delete = deleteFlag
	}
	return nil
}

// DeleteCacheEntry removes a cache table row
func (catalog *DummyCatalog) DeleteCacheEntry(ctx context.Context, diskID string, fileID string, fileVersion int) error {
	catalog.mutex.Lock()
	defer catalog.mutex.Unlock()

	if err := catalog.enter(ctx, "DeleteCacheEntry"); err != nil {
		return err
	}

	delete(catalog.dummyCache, makeDummyFileKey(diskID, fileID, fileVersion))
	return nil
}

// GetDeletionEligibility returns the deletion eligibility of a file
func (catalog *DummyCatalog) GetDeletionEligibility(ctx context.Context, fileID string, fileVersion int, diskID string) (bool, error) {
	catalog.mutex.Lock()
	defer catalog.mutex.Unlock()

	if err := catalog.enter(ctx, "GetDeletionEligibility"); err != nil {
		return false, err
	}

	key := makeDummyFileKey(diskID, fileID, fileVersion)
	if _, ok := catalog.dummyFiles[key]; !ok {
		return false, xerrors.Errorf("failed to find file %s/%s/%d: %w", diskID, fileID, fileVersion, ErrFileNotFound)
	}

	return catalog.dummyEligible[key], nil
}

// SetDeletionEligible marks a file eligible for deletion
func (catalog *DummyCatalog) SetDeletionEligible(ctx context.Context, fileID string, fileVersion int, diskID string) error {
	catalog.mutex.Lock()
	defer catalog.mutex.Unlock()

	if err := catalog.enter(ctx, "SetDeletionEligible"); err != nil {
		return err
	}

	key := makeDummyFileKey(diskID, fileID, fileVersion)
	if _, ok := catalog.dummyFiles[key]; !ok {
		return xerrors.Errorf("failed to find file %s/%s/%d: %w", diskID, fileID, fileVersion, ErrFileNotFound)
	}

	catalog.dummyEligible[key] = true
	return nil
}

// DeregisterFile removes the file registration. Removing a missing file is a no-op.
func (catalog *DummyCatalog) DeregisterFile(ctx context.Context, nodeID string, diskID string, fileID string, fileVersion int) error {
	catalog.mutex.Lock()
	defer catalog.mutex.Unlock()

	if err := catalog.enter(ctx, "DeregisterFile"); err != nil {
		return err
	}

	key := makeDummyFileKey(diskID, fileID, fileVersion)
	delete(catalog.dummyFiles, key)
	delete(catalog.dummyFileHost, key)
	delete(catalog.dummyEligible, key)
	return nil
}
