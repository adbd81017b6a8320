package storage

// FileRemover removes physical copies of archived files
type FileRemover interface {
	Release()

	// RemoveFile removes the file at path. A missing file is not an error.
	RemoveFile(path string) error
}
