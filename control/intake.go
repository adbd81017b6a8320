package control

import (
	"context"
	"errors"

	"github.com/ngas/ngas-cachecontrol/cache"
	"github.com/ngas/ngas-cachecontrol/catalog"
	"github.com/ngas/ngas-cachecontrol/intake"
	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// NotifyNewFile records that a new object copy was cached on this node.
// The object enters the cache contents at the next cycle.
func (engine *Engine) NotifyNewFile(diskID string, fileID string, fileVersion int, filename string) error {
	logger := log.WithFields(log.Fields{
		"package":      "control",
		"struct":       "Engine",
		"function":     "NotifyNewFile",
		"disk_id":      diskID,
		"file_id":      fileID,
		"file_version": fileVersion,
	})

	err := engine.intake.Add(intake.Record{
		DiskID:      diskID,
		FileID:      fileID,
		FileVersion: fileVersion,
		Filename:    filename,
	})
	if err != nil {
		engine.reporter.ReportError(errorKindIntake)
		return xerrors.Errorf("failed to queue new file %s/%s/%d: %w", diskID, fileID, fileVersion, err)
	}

	logger.Debugf("Queued new file %s", filename)
	return nil
}

// requeue puts records back to the intake queue for the next cycle
func (engine *Engine) requeue(logger *log.Entry, records []intake.Record) {
	for _, record := range records {
		err := engine.intake.Add(record)
		if err != nil {
			engine.reporter.ReportError(errorKindIntake)
			logger.WithError(err).Errorf("Failed to requeue intake record %s, dropping it", record.String())
		}
	}
}

// drainIntake merges pending intake records into the store
func (engine *Engine) drainIntake(ctx context.Context, logger *log.Entry) error {
	records, err := engine.intake.PopAll()
	if err != nil {
		engine.reporter.ReportError(errorKindIntake)
		engine.requeue(logger, records)
		return err
	}

	if len(records) == 0 {
		return nil
	}

	logger.Debugf("Draining %d intake records", len(records))

	added := 0
	for i, record := range records {
		if err := ctx.Err(); err != nil {
			engine.requeue(logger, records[i:])
			return err
		}

		recordLogger := logger.WithFields(log.Fields{
			"disk_id":      record.DiskID,
			"file_id":      record.FileID,
			"file_version": record.FileVersion,
		})

		info, err := engine.catalog.GetFileInfo(ctx, record.DiskID, record.FileID, record.FileVersion)
		if err != nil {
			if errors.Is(err, catalog.ErrFileNotFound) {
				recordLogger.Warnf("New file %s is not registered in the catalog, discarding", record.Filename)
				continue
			}

			engine.reporter.ReportError(errorKindCatalog)
			engine.requeue(logger, records[i:])
			return xerrors.Errorf("failed to look up new file %s: %w", record.String(), err)
		}

		now := engine.now()
		cacheTime := info.IngestionDate
		if cacheTime.IsZero() {
			cacheTime = now
		}

		filename := info.Filename
		if len(filename) == 0 {
			filename = record.Filename
		}

		entry := &cache.Entry{
			DiskID:      record.DiskID,
			FileID:      record.FileID,
			FileVersion: record.FileVersion,
			Filename:    filename,
			FileSize:    info.FileSize,
			Delete:      false,
			LastCheck:   now,
			CacheTime:   cacheTime,
		}

		inserted, err := engine.store.Put(entry)
		if err != nil {
			engine.reporter.ReportError(errorKindStore)
			engine.requeue(logger, records[i:])
			return xerrors.Errorf("failed to add new file %s: %w", record.String(), err)
		}

		if !inserted {
			recordLogger.Debug("New file is already in cache contents")
			continue
		}

		added++

		err = engine.catalog.InsertCacheEntry(ctx, entry.DiskID, entry.FileID, entry.FileVersion, entry.CacheTime, false)
		if err != nil {
			engine.reporter.ReportError(errorKindCatalog)
			recordLogger.WithError(err).Error("Failed to mirror new cache entry to the catalog")
		}
	}

	logger.Debugf("Added %d new objects to cache contents", added)
	return nil
}
