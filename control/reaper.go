package control

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	"github.com/ngas/ngas-cachecontrol/cache"
	"github.com/ngas/ngas-cachecontrol/catalog"
	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// getDiskInfo returns the disk, memoized for the current reclaim pass
func (engine *Engine) getDiskInfo(ctx context.Context, diskID string) (*catalog.DiskInfo, error) {
	if cached, ok := engine.diskCache.Get(diskID); ok {
		if disk, ok := cached.(*catalog.DiskInfo); ok {
			return disk, nil
		}
	}

	disk, err := engine.catalog.GetDiskInfo(ctx, diskID)
	if err != nil {
		return nil, err
	}

	engine.diskCache.Add(diskID, disk)
	return disk, nil
}

// resolveFilePath joins the mount point and the file name, rejecting names that leave the mount point
func resolveFilePath(mountPoint string, filename string) (string, error) {
	path := filepath.Join(mountPoint, filename)

	rel, err := filepath.Rel(mountPoint, path)
	if err != nil {
		return "", xerrors.Errorf("failed to resolve %q under %s: %w", filename, mountPoint, err)
	}

	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", xerrors.Errorf("file name %q resolves outside of mount point %s", filename, mountPoint)
	}
	return path, nil
}

// removeRows removes the local row and the catalog mirror row. Failures are logged only.
func (engine *Engine) removeRows(ctx context.Context, logger *log.Entry, entry *cache.Entry) {
	err := engine.store.Delete(entry.GetKey())
	if err != nil {
		engine.reporter.ReportError(errorKindStore)
		logger.WithError(err).Error("Failed to remove cache contents row")
	}

	err = engine.catalog.DeleteCacheEntry(ctx, entry.DiskID, entry.FileID, entry.FileVersion)
	if err != nil {
		engine.reporter.ReportError(errorKindCatalog)
		logger.WithError(err).Error("Failed to remove catalog cache row")
	}
}

// reclaim removes every flagged object: catalog registration first, then the file, then the rows
func (engine *Engine) reclaim(ctx context.Context, logger *log.Entry) (int, int64, error) {
	// disks may be remounted between cycles
	engine.diskCache.Purge()

	flagged, err := engine.store.ListFlagged()
	if err != nil {
		engine.reporter.ReportError(errorKindStore)
		return 0, 0, err
	}

	if len(flagged) == 0 {
		return 0, 0, nil
	}

	logger.Debugf("Reclaiming %d flagged objects", len(flagged))

	count := 0
	var bytes int64
	for _, entry := range flagged {
		if err := ctx.Err(); err != nil {
			return count, bytes, err
		}

		objectLogger := entryLogger(logger, entry)

		disk, err := engine.getDiskInfo(ctx, entry.DiskID)
		if err != nil {
			if errors.Is(err, catalog.ErrDiskNotFound) {
				objectLogger.Warnf("Disk %s is not registered in the catalog, dropping cache rows", entry.DiskID)
				engine.removeRows(ctx, objectLogger, entry)
				continue
			}

			engine.reporter.ReportError(errorKindCatalog)
			return count, bytes, xerrors.Errorf("failed to get disk %s: %w", entry.DiskID, err)
		}

		err = engine.catalog.DeregisterFile(ctx, engine.config.NodeID, entry.DiskID, entry.FileID, entry.FileVersion)
		if err != nil {
			engine.reporter.ReportError(errorKindDeregister)
			objectLogger.WithError(err).Error("Failed to deregister file from catalog")
		}

		if entry.HasFileInfo() {
			path, pathErr := resolveFilePath(disk.MountPoint, entry.Filename)
			if pathErr != nil {
				engine.reporter.ReportError(errorKindRemove)
				objectLogger.WithError(pathErr).Error("Refusing to remove file outside of its disk")
			} else if err = engine.remover.RemoveFile(path); err != nil {
				engine.reporter.ReportError(errorKindRemove)
				objectLogger.WithError(err).Errorf("Failed to remove file %s", path)
			} else {
				objectLogger.Debugf("Removed file %s", path)
			}
		} else {
			objectLogger.Warn("Object has no file name, skipping file removal")
		}

		engine.removeRows(ctx, objectLogger, entry)

		count++
		bytes += entry.FileSize
	}

	return count, bytes, nil
}
