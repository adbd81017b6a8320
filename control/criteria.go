package control

import (
	"context"
	"errors"
	"time"

	"github.com/ngas/ngas-cachecontrol/cache"
	"github.com/ngas/ngas-cachecontrol/catalog"
	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

const (
	criterionMaxAge    string = "max_age"
	criterionMaxVolume string = "max_volume"
	criterionMaxCount  string = "max_count"
	criterionPlugin    string = "plugin"
)

// evaluateCriteria runs the eviction criteria in order
func (engine *Engine) evaluateCriteria(ctx context.Context, logger *log.Entry) error {
	criteria := []struct {
		name     string
		evaluate func(ctx context.Context, logger *log.Entry) (int, error)
	}{
		{criterionMaxAge, engine.evaluateMaxAge},
		{criterionMaxVolume, engine.evaluateMaxVolume},
		{criterionMaxCount, engine.evaluateMaxCount},
		{criterionPlugin, engine.evaluatePlugin},
	}

	for _, criterion := range criteria {
		if err := ctx.Err(); err != nil {
			return err
		}

		flagged, err := criterion.evaluate(ctx, logger.WithField("criterion", criterion.name))
		engine.reporter.ReportFlagged(criterion.name, flagged)
		if err != nil {
			return xerrors.Errorf("criterion %s failed: %w", criterion.name, err)
		}
	}
	return nil
}

// flag schedules the object for deletion locally and in the catalog
func (engine *Engine) flag(ctx context.Context, entry *cache.Entry) error {
	err := engine.store.MarkDeleted(entry.GetKey())
	if err != nil {
		engine.reporter.ReportError(errorKindStore)
		return err
	}

	err = engine.catalog.UpdateCacheEntry(ctx, entry.DiskID, entry.FileID, entry.FileVersion, true)
	if err != nil {
		engine.reporter.ReportError(errorKindCatalog)
		return xerrors.Errorf("failed to flag %s in catalog: %w", entry.GetKey().String(), err)
	}

	entry.Delete = true
	return nil
}

func (engine *Engine) setChecked(entry *cache.Entry, now time.Time) error {
	err := engine.store.SetLastCheck(entry.GetKey(), now)
	if err != nil {
		engine.reporter.ReportError(errorKindStore)
		return err
	}
	entry.LastCheck = now
	return nil
}

func entryLogger(logger *log.Entry, entry *cache.Entry) *log.Entry {
	return logger.WithFields(log.Fields{
		"disk_id":      entry.DiskID,
		"file_id":      entry.FileID,
		"file_version": entry.FileVersion,
	})
}

// evaluateMaxAge flags objects cached longer than the maximum time
func (engine *Engine) evaluateMaxAge(ctx context.Context, logger *log.Entry) (int, error) {
	maxTime := engine.config.GetMaxTime()
	if maxTime <= 0 {
		return 0, nil
	}

	now := engine.now()
	expired, err := engine.store.ListExpired(now.Add(-maxTime))
	if err != nil {
		engine.reporter.ReportError(errorKindStore)
		return 0, err
	}

	if len(expired) == 0 {
		return 0, nil
	}

	logger.Infof("CACHE-CRITERIA: %d objects cached longer than %s", len(expired), maxTime)

	flagged := 0
	for _, entry := range expired {
		if err := ctx.Err(); err != nil {
			return flagged, err
		}

		if !entry.Delete {
			err = engine.flag(ctx, entry)
			if err != nil {
				return flagged, err
			}
			flagged++
			entryLogger(logger, entry).Debugf("Flagged object cached at %s", entry.CacheTime)
		}

		err = engine.setChecked(entry, now)
		if err != nil {
			return flagged, err
		}
	}

	return flagged, nil
}

// volumeTarget returns 90% of maxSize
func volumeTarget(maxSize int64) int64 {
	return maxSize - maxSize/10
}

// evaluateMaxVolume flags oldest objects until the aggregate size drops to 90% of the maximum
func (engine *Engine) evaluateMaxVolume(ctx context.Context, logger *log.Entry) (int, error) {
	maxSize := engine.config.GetMaxCacheSize()
	if maxSize <= 0 {
		return 0, nil
	}

	total := engine.store.TotalSize()
	if total <= maxSize {
		return 0, nil
	}

	target := volumeTarget(maxSize)
	logger.Infof("CACHE-CRITERIA: cache size %d bytes exceeds %d bytes, reducing to %d bytes", total, maxSize, target)

	entries, err := engine.store.ListByCacheTime()
	if err != nil {
		engine.reporter.ReportError(errorKindStore)
		return 0, err
	}

	now := engine.now()
	remaining := total
	flagged := 0
	for _, entry := range entries {
		if remaining <= target {
			break
		}

		if err := ctx.Err(); err != nil {
			return flagged, err
		}

		objectLogger := entryLogger(logger, entry)

		if !entry.Delete {
			if engine.config.Caching.CheckCanBeDeleted {
				eligible, err := engine.catalog.GetDeletionEligibility(ctx, entry.FileID, entry.FileVersion, entry.DiskID)
				if err != nil {
					if !errors.Is(err, catalog.ErrFileNotFound) {
						engine.reporter.ReportError(errorKindCatalog)
						return flagged, xerrors.Errorf("failed to get deletion eligibility of %s: %w", entry.GetKey().String(), err)
					}

					objectLogger.Warn("Object is not registered in the catalog, flagging it anyway")
					eligible = true
				}

				if !eligible {
					objectLogger.Debug("Object cannot be deleted yet, skipping")
					err = engine.setChecked(entry, now)
					if err != nil {
						return flagged, err
					}
					continue
				}
			}

			err = engine.flag(ctx, entry)
			if err != nil {
				return flagged, err
			}
			flagged++
			objectLogger.Debugf("Flagged object of %d bytes", entry.FileSize)
		}

		err = engine.setChecked(entry, now)
		if err != nil {
			return flagged, err
		}

		remaining -= entry.FileSize
	}

	if remaining > target {
		logger.Warnf("CACHE-CRITERIA: ran out of deletable objects, %d bytes remain", remaining)
	}

	return flagged, nil
}

// excessToFlag returns ceil(1.1 * excess) in integer arithmetic
func excessToFlag(excess int) int {
	return (11*excess + 9) / 10
}

// evaluateMaxCount flags the oldest objects when there are too many
func (engine *Engine) evaluateMaxCount(ctx context.Context, logger *log.Entry) (int, error) {
	maxFiles := engine.config.Caching.MaxFiles
	if maxFiles <= 0 {
		return 0, nil
	}

	count := engine.store.Count()
	if count <= maxFiles {
		return 0, nil
	}

	toFlag := excessToFlag(count - maxFiles)
	logger.Infof("CACHE-CRITERIA: %d objects exceed maximum of %d, scheduling %d oldest objects", count, maxFiles, toFlag)

	entries, err := engine.store.ListByCacheTime()
	if err != nil {
		engine.reporter.ReportError(errorKindStore)
		return 0, err
	}

	if toFlag > len(entries) {
		toFlag = len(entries)
	}

	now := engine.now()
	flagged := 0
	for _, entry := range entries[:toFlag] {
		if err := ctx.Err(); err != nil {
			return flagged, err
		}

		if !entry.Delete {
			err = engine.flag(ctx, entry)
			if err != nil {
				return flagged, err
			}
			flagged++
		}

		err = engine.setChecked(entry, now)
		if err != nil {
			return flagged, err
		}
	}

	return flagged, nil
}

// evaluatePlugin hands every object to the retention plugin workers
func (engine *Engine) evaluatePlugin(ctx context.Context, logger *log.Entry) (int, error) {
	if engine.pool == nil {
		return 0, nil
	}

	entries, err := engine.store.List()
	if err != nil {
		engine.reporter.ReportError(errorKindStore)
		return 0, err
	}

	if len(entries) == 0 {
		return 0, nil
	}

	evict, retain, evaluateErr := engine.pool.Evaluate(ctx, entries)

	now := engine.now()
	flagged := 0
	for _, entry := range evict {
		if !entry.Delete {
			err = engine.flag(ctx, entry)
			if err != nil {
				return flagged, err
			}
			flagged++
		}

		err = engine.setChecked(entry, now)
		if err != nil {
			return flagged, err
		}
	}

	for _, entry := range retain {
		err = engine.store.SetPluginState(entry.GetKey(), entry.State, now)
		if err != nil {
			engine.reporter.ReportError(errorKindStore)
			return flagged, err
		}
	}

	logger.Infof("CACHE-CRITERIA: retention plugin %s scheduled %d of %d objects", engine.policy.Name(), len(evict), len(evict)+len(retain))

	if evaluateErr != nil {
		return flagged, evaluateErr
	}
	return flagged, nil
}
