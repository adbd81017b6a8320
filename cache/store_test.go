package cache

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	t.Run("test PutIsInsertOrIgnore", testPutIsInsertOrIgnore)
	t.Run("test MarkDeleted", testMarkDeleted)
	t.Run("test Totals", testTotals)
	t.Run("test ListByCacheTime", testListByCacheTime)
	t.Run("test ListExpired", testListExpired)
	t.Run("test Delete", testDelete)
	t.Run("test PluginState", testPluginState)
	t.Run("test Reopen", testReopen)
	t.Run("test MissingEntry", testMissingEntry)
}

func makeTestEntry(fileID string, size int64, cacheTime time.Time) *Entry {
	return &Entry{
		DiskID:      "disk1",
		FileID:      fileID,
		FileVersion: 1,
		Filename:    fmt.Sprintf("data/%s.fits", fileID),
		FileSize:    size,
		LastCheck:   cacheTime,
		CacheTime:   cacheTime,
	}
}

func openTestStore(t *testing.T, dir string) *Store {
	store, err := NewStore(dir, "testhost")
	require.NoError(t, err)
	return store
}

func testPutIsInsertOrIgnore(t *testing.T) {
	store := openTestStore(t, t.TempDir())
	defer store.Release()

	now := time.Now()
	entry := makeTestEntry("file1", 100, now)

	inserted, err := store.Put(entry)
	assert.NoError(t, err)
	assert.True(t, inserted)

	other := makeTestEntry("file1", 999, now.Add(time.Hour))
	other.Filename = "other.fits"
	inserted, err = store.Put(other)
	assert.NoError(t, err)
	assert.False(t, inserted)

	stored, err := store.Get(entry.GetKey())
	assert.NoError(t, err)
	assert.Equal(t, "data/file1.fits", stored.Filename)
	assert.Equal(t, int64(100), stored.FileSize)
	assert.True(t, stored.CacheTime.Equal(now))
	assert.Equal(t, 1, store.Count())
	assert.Equal(t, int64(100), store.TotalSize())
}

func testMarkDeleted(t *testing.T) {
	store := openTestStore(t, t.TempDir())
	defer store.Release()

	entry := makeTestEntry("file1", 100, time.Now())
	_, err := store.Put(entry)
	require.NoError(t, err)

	err = store.MarkDeleted(entry.GetKey())
	assert.NoError(t, err)

	// any later update keeps the flag
	err = store.SetLastCheck(entry.GetKey(), time.Now())
	assert.NoError(t, err)
	err = store.SetPluginState(entry.GetKey(), NewPluginState("expiry"), time.Now())
	assert.NoError(t, err)

	stored, err := store.Get(entry.GetKey())
	assert.NoError(t, err)
	assert.True(t, stored.Delete)

	flagged, err := store.ListFlagged()
	assert.NoError(t, err)
	assert.Len(t, flagged, 1)
}

func testTotals(t *testing.T) {
	store := openTestStore(t, t.TempDir())
	defer store.Release()

	now := time.Now()
	for i := 0; i < 10; i++ {
		_, err := store.Put(makeTestEntry(fmt.Sprintf("file%d", i), 10, now))
		require.NoError(t, err)
	}

	assert.Equal(t, 10, store.Count())
	assert.Equal(t, int64(100), store.TotalSize())

	err := store.SetFileSize(NewKey("disk1", "file0", 1), 50)
	assert.NoError(t, err)
	assert.Equal(t, int64(140), store.TotalSize())

	err = store.SetFilename(NewKey("disk1", "file0", 1), "renamed.fits")
	assert.NoError(t, err)

	stored, err := store.Get(NewKey("disk1", "file0", 1))
	assert.NoError(t, err)
	assert.Equal(t, "renamed.fits", stored.Filename)
	assert.Equal(t, int64(50), stored.FileSize)
}

func testListByCacheTime(t *testing.T) {
	store := openTestStore(t, t.TempDir())
	defer store.Release()

	base := time.Now().Add(-time.Hour)
	// insert out of order
	order := []int{3, 0, 4, 1, 2}
	for _, i := range order {
		_, err := store.Put(makeTestEntry(fmt.Sprintf("file%d", i), 10, base.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}

	entries, err := store.ListByCacheTime()
	assert.NoError(t, err)
	require.Len(t, entries, 5)
	for i, entry := range entries {
		assert.Equal(t, fmt.Sprintf("file%d", i), entry.FileID)
	}

	all, err := store.List()
	assert.NoError(t, err)
	assert.Len(t, all, 5)
}

func testListExpired(t *testing.T) {
	store := openTestStore(t, t.TempDir())
	defer store.Release()

	now := time.Now()
	_, err := store.Put(makeTestEntry("old1", 10, now.Add(-3*time.Hour)))
	require.NoError(t, err)
	_, err = store.Put(makeTestEntry("old2", 10, now.Add(-2*time.Hour)))
	require.NoError(t, err)
	_, err = store.Put(makeTestEntry("new1", 10, now))
	require.NoError(t, err)

	expired, err := store.ListExpired(now.Add(-time.Hour))
	assert.NoError(t, err)
	require.Len(t, expired, 2)
	assert.Equal(t, "old1", expired[0].FileID)
	assert.Equal(t, "old2", expired[1].FileID)
}

func testDelete(t *testing.T) {
	store := openTestStore(t, t.TempDir())
	defer store.Release()

	entry := makeTestEntry("file1", 100, time.Now())
	_, err := store.Put(entry)
	require.NoError(t, err)

	err = store.Delete(entry.GetKey())
	assert.NoError(t, err)

	exists, err := store.Exists(entry.GetKey())
	assert.NoError(t, err)
	assert.False(t, exists)
	assert.Equal(t, 0, store.Count())
	assert.Equal(t, int64(0), store.TotalSize())

	entries, err := store.ListByCacheTime()
	assert.NoError(t, err)
	assert.Empty(t, entries)

	// deleting twice is a no-op
	err = store.Delete(entry.GetKey())
	assert.NoError(t, err)
}

func testPluginState(t *testing.T) {
	store := openTestStore(t, t.TempDir())
	defer store.Release()

	entry := makeTestEntry("file1", 100, time.Now())
	_, err := store.Put(entry)
	require.NoError(t, err)

	stored, err := store.Get(entry.GetKey())
	assert.NoError(t, err)
	assert.Nil(t, stored.State)

	state := NewPluginState("checkfile")
	state.Set("last_check", "12345")
	checkTime := time.Now()
	err = store.SetPluginState(entry.GetKey(), state, checkTime)
	assert.NoError(t, err)

	stored, err = store.Get(entry.GetKey())
	assert.NoError(t, err)
	require.NotNil(t, stored.State)
	assert.Equal(t, PluginStateVersion, stored.State.Version)
	assert.Equal(t, "checkfile", stored.State.Plugin)
	v, ok := stored.State.Get("last_check")
	assert.True(t, ok)
	assert.Equal(t, "12345", v)
	assert.True(t, stored.LastCheck.Equal(checkTime))
}

func testReopen(t *testing.T) {
	dir := t.TempDir()
	store := openTestStore(t, dir)

	now := time.Now()
	_, err := store.Put(makeTestEntry("file1", 100, now))
	require.NoError(t, err)
	_, err = store.Put(makeTestEntry("file2", 200, now.Add(time.Second)))
	require.NoError(t, err)
	store.Release()

	store = openTestStore(t, dir)
	defer store.Release()

	assert.Equal(t, 2, store.Count())
	assert.Equal(t, int64(300), store.TotalSize())

	entries, err := store.ListByCacheTime()
	assert.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "file1", entries[0].FileID)
}

func testMissingEntry(t *testing.T) {
	store := openTestStore(t, t.TempDir())
	defer store.Release()

	key := NewKey("disk1", "missing", 1)

	_, err := store.Get(key)
	assert.True(t, errors.Is(err, ErrEntryNotFound))

	err = store.MarkDeleted(key)
	assert.True(t, errors.Is(err, ErrEntryNotFound))
}
