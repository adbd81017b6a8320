package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ngas/ngas-cachecontrol/utils"
	log "github.com/sirupsen/logrus"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
	"golang.org/x/xerrors"
)

const (
	entryPrefix     string = "e:"
	cacheTimePrefix string = "t:"

	storeNamePrefix string = "cache_contents"

	// width of the zero padded cache time in index keys
	cacheTimeWidth int = 20
)

// ErrEntryNotFound is returned when a key has no entry in the store
var ErrEntryNotFound = errors.New("cache entry not found")

// Store is the local persistent index of cached objects.
// All operations are serialized behind a single mutex.
type Store struct {
	path      string
	db        *leveldb.DB
	totalSize int64
	count     int
	mutex     sync.Mutex
}

// GetStorePath returns the path of the store for the given host under cacheDir
func GetStorePath(cacheDir string, hostID string) string {
	return filepath.Join(cacheDir, fmt.Sprintf("%s_%s.db", storeNamePrefix, hostID))
}

// NewStore opens or creates the store for the given host under cacheDir
func NewStore(cacheDir string, hostID string) (*Store, error) {
	logger := log.WithFields(log.Fields{
		"package":  "cache",
		"function": "NewStore",
	})

	err := os.MkdirAll(cacheDir, 0o755)
	if err != nil {
		return nil, xerrors.Errorf("failed to make dir %s: %w", cacheDir, err)
	}

	path := GetStorePath(cacheDir, hostID)

	logger.Infof("Opening cache contents store %s", path)
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, xerrors.Errorf("failed to open cache contents store %s: %w", path, err)
	}

	store := &Store{
		path: path,
		db:   db,
	}

	err = store.loadTotals()
	if err != nil {
		db.Close()
		return nil, err
	}

	logger.Infof("Cache contents store %s has %d entries, %d bytes", path, store.count, store.totalSize)
	return store, nil
}

// Release closes the store
func (store *Store) Release() {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	if store.db != nil {
		store.db.Close()
		store.db = nil
	}
}

// GetPath returns the path of the store
func (store *Store) GetPath() string {
	return store.path
}

func (store *Store) loadTotals() error {
	it := store.db.NewIterator(util.BytesPrefix([]byte(entryPrefix)), nil)
	defer it.Release()

	var total int64
	count := 0
	for it.Next() {
		entry := Entry{}
		err := utils.DecodeGob(it.Value(), &entry)
		if err != nil {
			return xerrors.Errorf("failed to decode cache entry %q: %w", string(it.Key()), err)
		}
		total += entry.FileSize
		count++
	}

	if err := it.Error(); err != nil {
		return xerrors.Errorf("failed to iterate cache contents store: %w", err)
	}

	store.totalSize = total
	store.count = count
	return nil
}

func makeEntryKey(key Key) []byte {
	return []byte(entryPrefix + key.encode())
}

func makeCacheTimeKey(key Key, cacheTime time.Time) []byte {
	nanos := cacheTime.UnixNano()
	if cacheTime.IsZero() || nanos < 0 {
		nanos = 0
	}
	return []byte(fmt.Sprintf("%s%0*d%s%s", cacheTimePrefix, cacheTimeWidth, nanos, keySeparator, key.encode()))
}

func (store *Store) getLocked(key Key) (*Entry, error) {
	if store.db == nil {
		return nil, xerrors.Errorf("cache contents store is released")
	}

	b, err := store.db.Get(makeEntryKey(key), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, xerrors.Errorf("failed to find %s: %w", key.String(), ErrEntryNotFound)
		}
		return nil, xerrors.Errorf("failed to read %s: %w", key.String(), err)
	}

	entry := &Entry{}
	err = utils.DecodeGob(b, entry)
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// writeLocked writes the entry row; the cache time index row is written on insert only
func (store *Store) writeLocked(entry *Entry, insert bool) error {
	b, err := utils.EncodeGob(entry)
	if err != nil {
		return err
	}

	key := entry.GetKey()

	batch := new(leveldb.Batch)
	batch.Put(makeEntryKey(key), b)
	if insert {
		batch.Put(makeCacheTimeKey(key, entry.CacheTime), []byte{})
	}

	err = store.db.Write(batch, nil)
	if err != nil {
		return xerrors.Errorf("failed to write %s: %w", key.String(), err)
	}
	return nil
}

func (store *Store) updateLocked(key Key, update func(entry *Entry)) error {
	entry, err := store.getLocked(key)
	if err != nil {
		return err
	}

	oldSize := entry.FileSize
	update(entry)

	err = store.writeLocked(entry, false)
	if err != nil {
		return err
	}

	store.totalSize += entry.FileSize - oldSize
	return nil
}

// Get returns the entry for the given key
func (store *Store) Get(key Key) (*Entry, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	return store.getLocked(key)
}

// Exists checks if the entry for the given key is present
func (store *Store) Exists(key Key) (bool, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	if store.db == nil {
		return false, xerrors.Errorf("cache contents store is released")
	}

	has, err := store.db.Has(makeEntryKey(key), nil)
	if err != nil {
		return false, xerrors.Errorf("failed to check %s: %w", key.String(), err)
	}
	return has, nil
}

// Put inserts the entry if no entry exists for its key. Returns true if inserted.
func (store *Store) Put(entry *Entry) (bool, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	_, err := store.getLocked(entry.GetKey())
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, ErrEntryNotFound) {
		return false, err
	}

	err = store.writeLocked(entry, true)
	if err != nil {
		return false, err
	}

	store.totalSize += entry.FileSize
	store.count++
	return true, nil
}

// MarkDeleted sets the delete flag of the entry
func (store *Store) MarkDeleted(key Key) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	return store.updateLocked(key, func(entry *Entry) {
		entry.Delete = true
	})
}

// SetLastCheck sets the last check time of the entry
func (store *Store) SetLastCheck(key Key, lastCheck time.Time) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	return store.updateLocked(key, func(entry *Entry) {
		entry.LastCheck = lastCheck
	})
}

// SetFilename sets the filename of the entry
func (store *Store) SetFilename(key Key, filename string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	return store.updateLocked(key, func(entry *Entry) {
		entry.Filename = filename
	})
}

// SetFileSize sets the file size of the entry
func (store *Store) SetFileSize(key Key, size int64) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	return store.updateLocked(key, func(entry *Entry) {
		entry.FileSize = size
	})
}

// SetPluginState replaces the plugin state and the last check time of the entry
func (store *Store) SetPluginState(key Key, state *PluginState, lastCheck time.Time) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	return store.updateLocked(key, func(entry *Entry) {
		entry.State = state.Clone()
		entry.LastCheck = lastCheck
	})
}

// Delete removes the entry for the given key. Deleting a missing entry is a no-op.
func (store *Store) Delete(key Key) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	entry, err := store.getLocked(key)
	if err != nil {
		if errors.Is(err, ErrEntryNotFound) {
			return nil
		}
		return err
	}

	batch := new(leveldb.Batch)
	batch.Delete(makeEntryKey(key))
	batch.Delete(makeCacheTimeKey(key, entry.CacheTime))

	err = store.db.Write(batch, nil)
	if err != nil {
		return xerrors.Errorf("failed to delete %s: %w", key.String(), err)
	}

	store.totalSize -= entry.FileSize
	store.count--
	return nil
}

// TotalSize returns total size of all entries
func (store *Store) TotalSize() int64 {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	return store.totalSize
}

// Count returns the number of entries
func (store *Store) Count() int {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	return store.count
}

// ListByCacheTime returns all entries ordered by ascending cache time
func (store *Store) ListByCacheTime() ([]*Entry, error) {
	return store.listByCacheTime(nil)
}

// ListExpired returns entries with cache time before the given time, oldest first
func (store *Store) ListExpired(before time.Time) ([]*Entry, error) {
	return store.listByCacheTime(func(entry *Entry) (bool, bool) {
		if entry.CacheTime.Before(before) {
			return true, true
		}
		// index is ordered, nothing after this can match
		return false, false
	})
}

// ListFlagged returns entries with the delete flag set
func (store *Store) ListFlagged() ([]*Entry, error) {
	return store.list(func(entry *Entry) bool {
		return entry.Delete
	})
}

// List returns all entries
func (store *Store) List() ([]*Entry, error) {
	return store.list(nil)
}

func (store *Store) list(filter func(entry *Entry) bool) ([]*Entry, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	if store.db == nil {
		return nil, xerrors.Errorf("cache contents store is released")
	}

	it := store.db.NewIterator(util.BytesPrefix([]byte(entryPrefix)), nil)
	defer it.Release()

	entries := []*Entry{}
	for it.Next() {
		entry := &Entry{}
		err := utils.DecodeGob(it.Value(), entry)
		if err != nil {
			return nil, xerrors.Errorf("failed to decode cache entry %q: %w", string(it.Key()), err)
		}

		if filter == nil || filter(entry) {
			entries = append(entries, entry)
		}
	}

	if err := it.Error(); err != nil {
		return nil, xerrors.Errorf("failed to iterate cache contents store: %w", err)
	}
	return entries, nil
}

// listByCacheTime walks the cache time index. filter returns (include, continue).
func (store *Store) listByCacheTime(filter func(entry *Entry) (bool, bool)) ([]*Entry, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	if store.db == nil {
		return nil, xerrors.Errorf("cache contents store is released")
	}

	it := store.db.NewIterator(util.BytesPrefix([]byte(cacheTimePrefix)), nil)
	defer it.Release()

	entries := []*Entry{}
	for it.Next() {
		indexKey := string(it.Key()[len(cacheTimePrefix):])
		if len(indexKey) <= cacheTimeWidth+len(keySeparator) {
			return nil, xerrors.Errorf("malformed cache time index key %q", string(it.Key()))
		}

		key, err := decodeKey(indexKey[cacheTimeWidth+len(keySeparator):])
		if err != nil {
			return nil, err
		}

		entry, err := store.getLocked(key)
		if err != nil {
			if errors.Is(err, ErrEntryNotFound) {
				// dangling index row
				continue
			}
			return nil, err
		}

		include := true
		next := true
		if filter != nil {
			include, next = filter(entry)
		}

		if include {
			entries = append(entries, entry)
		}

		if !next {
			break
		}
	}

	if err := it.Error(); err != nil {
		return nil, xerrors.Errorf("failed to iterate cache time index: %w", err)
	}
	return entries, nil
}
