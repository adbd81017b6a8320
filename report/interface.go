package report

import (
	"time"
)

// CacheControlReporter is an interface to report cache control activity
type CacheControlReporter interface {
	Release()

	// ReportCycle reports the end of a cycle, err is nil if the cycle succeeded
	ReportCycle(duration time.Duration, err error)
	// ReportFlagged reports objects scheduled for deletion by a criterion
	ReportFlagged(criterion string, count int)
	// ReportReclaimed reports objects removed from the cache
	ReportReclaimed(count int, bytes int64)
	// ReportError reports a failure of the given kind
	ReportError(kind string)
	// ReportUsage reports the current number of objects and their aggregate size
	ReportUsage(count int, bytes int64)
}
