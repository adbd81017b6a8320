package storage

import (
	"sync"

	"golang.org/x/xerrors"
)

// DummyFileRemover implements FileRemover without touching any file.
// It records removed paths and can be made to fail for given paths.
type DummyFileRemover struct {
	removed  []string
	failures map[string]error
	mutex    sync.Mutex
}

// NewDummyFileRemover creates a new DummyFileRemover
func NewDummyFileRemover() *DummyFileRemover {
	return &DummyFileRemover{
		removed:  []string{},
		failures: map[string]error{},
	}
}

// Release releases resources
func (remover *DummyFileRemover) Release() {
}

// SetDummyFailure makes removal of path fail with err
func (remover *DummyFileRemover) SetDummyFailure(path string, err error) {
	remover.mutex.Lock()
	defer remover.mutex.Unlock()

	remover.failures[path] = err
}

// GetRemovedPaths returns the paths removed so far
func (remover *DummyFileRemover) GetRemovedPaths() []string {
	remover.mutex.Lock()
	defer remover.mutex.Unlock()

	paths := make([]string, len(remover.removed))
	copy(paths, remover.removed)
	return paths
}

// RemoveFile records the removal
func (remover *DummyFileRemover) RemoveFile(path string) error {
	remover.mutex.Lock()
	defer remover.mutex.Unlock()

	if err, ok := remover.failures[path]; ok {
		return xerrors.Errorf("failed to remove file %s: %w", path, err)
	}

	remover.removed = append(remover.removed, path)
	return nil
}
