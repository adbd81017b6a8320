package control

import (
	"context"
	"errors"

	"github.com/ngas/ngas-cachecontrol/cache"
	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// reconcile brings the store in line with the catalog.
// Rows known to the catalog only are added, rows missing file info are backfilled.
func (engine *Engine) reconcile(ctx context.Context, store *cache.Store) error {
	logger := log.WithFields(log.Fields{
		"package":  "control",
		"struct":   "Engine",
		"function": "reconcile",
		"node_id":  engine.config.NodeID,
	})

	now := engine.now()

	objects, err := engine.catalog.GetCachedObjects(ctx, engine.config.NodeID)
	if err != nil {
		return xerrors.Errorf("failed to get cached objects of node %s: %w", engine.config.NodeID, err)
	}

	placeholders := 0
	for _, object := range objects {
		if err := ctx.Err(); err != nil {
			return err
		}

		inserted, err := store.Put(&cache.Entry{
			DiskID:      object.DiskID,
			FileID:      object.FileID,
			FileVersion: object.FileVersion,
			Delete:      object.Delete,
			LastCheck:   now,
			CacheTime:   object.CacheTime,
		})
		if err != nil {
			return xerrors.Errorf("failed to add cached object %s/%s/%d: %w", object.DiskID, object.FileID, object.FileVersion, err)
		}

		if inserted {
			placeholders++
		}
	}

	files, err := engine.catalog.GetCatalogSummary(ctx, engine.config.NodeID)
	if err != nil {
		return xerrors.Errorf("failed to get catalog summary of node %s: %w", engine.config.NodeID, err)
	}

	backfilled := 0
	added := 0
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return err
		}

		key := cache.NewKey(file.DiskID, file.FileID, file.FileVersion)

		entry, err := store.Get(key)
		if err == nil {
			if entry.HasFileInfo() {
				continue
			}

			err = store.SetFilename(key, file.Filename)
			if err != nil {
				return err
			}

			err = store.SetFileSize(key, file.FileSize)
			if err != nil {
				return err
			}

			backfilled++
			continue
		}

		if !errors.Is(err, cache.ErrEntryNotFound) {
			return err
		}

		cacheTime := file.IngestionDate
		if cacheTime.IsZero() {
			cacheTime = now
		}

		_, err = store.Put(&cache.Entry{
			DiskID:      file.DiskID,
			FileID:      file.FileID,
			FileVersion: file.FileVersion,
			Filename:    file.Filename,
			FileSize:    file.FileSize,
			Delete:      false,
			LastCheck:   now,
			CacheTime:   cacheTime,
		})
		if err != nil {
			return xerrors.Errorf("failed to add file %s: %w", file.String(), err)
		}

		err = engine.catalog.InsertCacheEntry(ctx, file.DiskID, file.FileID, file.FileVersion, cacheTime, false)
		if err != nil {
			return xerrors.Errorf("failed to mirror cache entry of file %s: %w", file.String(), err)
		}

		added++
	}

	logger.Infof("Reconciled cache contents with catalog, %d placeholders, %d backfilled, %d added", placeholders, backfilled, added)
	return nil
}
