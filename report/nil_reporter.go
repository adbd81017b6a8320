package report

import (
	"time"
)

// NilReporter discards all reports
type NilReporter struct{}

// NewNilReporter creates a new NilReporter
func NewNilReporter() CacheControlReporter {
	return &NilReporter{}
}

// Release releases resources used
func (reporter *NilReporter) Release() {}

// ReportCycle does nothing
func (reporter *NilReporter) ReportCycle(duration time.Duration, err error) {}

// ReportFlagged does nothing
func (reporter *NilReporter) ReportFlagged(criterion string, count int) {}

// ReportReclaimed does nothing
func (reporter *NilReporter) ReportReclaimed(count int, bytes int64) {}

// ReportError does nothing
func (reporter *NilReporter) ReportError(kind string) {}

// ReportUsage does nothing
func (reporter *NilReporter) ReportUsage(count int, bytes int64) {}
