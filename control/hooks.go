package control

import (
	"context"

	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// RequestDeletion marks the object eligible for deletion in the catalog.
// It has no effect unless deletion eligibility is checked.
func (engine *Engine) RequestDeletion(ctx context.Context, diskID string, fileID string, fileVersion int) error {
	logger := log.WithFields(log.Fields{
		"package":      "control",
		"struct":       "Engine",
		"function":     "RequestDeletion",
		"disk_id":      diskID,
		"file_id":      fileID,
		"file_version": fileVersion,
	})

	if !engine.config.Caching.CheckCanBeDeleted {
		return nil
	}

	err := engine.catalog.SetDeletionEligible(ctx, fileID, fileVersion, diskID)
	if err != nil {
		engine.reporter.ReportError(errorKindCatalog)
		return xerrors.Errorf("failed to mark %s/%s/%d eligible for deletion: %w", diskID, fileID, fileVersion, err)
	}

	logger.Debug("Marked object eligible for deletion")
	return nil
}
