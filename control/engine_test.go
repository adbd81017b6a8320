package control

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ngas/ngas-cachecontrol/cache"
	"github.com/ngas/ngas-cachecontrol/catalog"
	"github.com/ngas/ngas-cachecontrol/config"
	"github.com/ngas/ngas-cachecontrol/plugin"
	"github.com/ngas/ngas-cachecontrol/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testNodeID     string = "testnode"
	testDiskID     string = "disk1"
	testMountPoint string = "/data/disk1"
)

type testEnv struct {
	engine  *Engine
	catalog *catalog.DummyCatalog
	remover *storage.DummyFileRemover
	now     time.Time
}

func newTestConfig(t *testing.T) *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.NodeID = testNodeID
	cfg.CacheDirectory = t.TempDir()
	cfg.Caching.Period = 1
	return cfg
}

func newTestEnv(t *testing.T, cfg *config.Config, registry *plugin.Registry) *testEnv {
	catalogClient := catalog.NewDummyCatalog()
	catalogClient.AddDummyDisk(testDiskID, testNodeID, testMountPoint)

	remover := storage.NewDummyFileRemover()

	engine, err := NewEngine(cfg, catalogClient, remover, nil, registry)
	require.NoError(t, err)

	env := &testEnv{
		engine:  engine,
		catalog: catalogClient,
		remover: remover,
		now:     time.Now(),
	}

	engine.now = func() time.Time { return env.now }
	t.Cleanup(engine.Stop)
	return env
}

func makeTestFileID(i int) string {
	return fmt.Sprintf("file%03d", i)
}

func newTestFileInfo(fileID string, size int64, ingestion time.Time) *catalog.FileInfo {
	return &catalog.FileInfo{
		DiskID:        testDiskID,
		FileID:        fileID,
		FileVersion:   1,
		Filename:      fmt.Sprintf("data/%s.fits", fileID),
		FileSize:      size,
		IngestionDate: ingestion,
	}
}

// addTestFiles registers count files of the given size, ingested one second apart starting at base
func (env *testEnv) addTestFiles(count int, size int64, base time.Time) {
	for i := 0; i < count; i++ {
		env.catalog.AddDummyFile(newTestFileInfo(makeTestFileID(i), size, base.Add(time.Duration(i)*time.Second)))
	}
}

func (env *testEnv) getEntry(t *testing.T, fileID string) *cache.Entry {
	entry, err := env.engine.store.Get(cache.NewKey(testDiskID, fileID, 1))
	require.NoError(t, err)
	return entry
}

func (env *testEnv) getFlaggedIDs(t *testing.T) []string {
	flagged, err := env.engine.store.ListFlagged()
	require.NoError(t, err)

	ids := []string{}
	for _, entry := range flagged {
		ids = append(ids, entry.FileID)
	}
	return ids
}

func TestEngine(t *testing.T) {
	t.Run("test IntakeScenario", testIntakeScenario)
	t.Run("test IntakeUnknownFile", testIntakeUnknownFile)
	t.Run("test IntakeCatalogFailure", testIntakeCatalogFailure)
	t.Run("test RequestDeletion", testRequestDeletion)
	t.Run("test StartStop", testStartStop)
	t.Run("test StopWithStuckPlugin", testStopWithStuckPlugin)
	t.Run("test CachingDisabled", testCachingDisabled)
	t.Run("test NotInitialized", testNotInitialized)
	t.Run("test UnknownPlugin", testUnknownPlugin)
	t.Run("test StateString", testStateString)
}

func testIntakeScenario(t *testing.T) {
	env := newTestEnv(t, newTestConfig(t), nil)

	ingestion := env.now.Add(-time.Hour).Truncate(time.Second)

	err := env.engine.Init(context.Background())
	require.NoError(t, err)

	// registered after startup, so only intake brings it in
	env.catalog.AddDummyFile(&catalog.FileInfo{
		DiskID:        testDiskID,
		FileID:        "file42",
		FileVersion:   1,
		Filename:      "a/b.fits",
		FileSize:      1000,
		IngestionDate: ingestion,
	})

	err = env.engine.NotifyNewFile(testDiskID, "file42", 1, "a/b.fits")
	require.NoError(t, err)

	err = env.engine.RunCycle(context.Background())
	assert.NoError(t, err)

	entry, err := env.engine.store.Get(cache.NewKey(testDiskID, "file42", 1))
	require.NoError(t, err)
	assert.Equal(t, "a/b.fits", entry.Filename)
	assert.Equal(t, int64(1000), entry.FileSize)
	assert.True(t, entry.CacheTime.Equal(ingestion))
	assert.False(t, entry.Delete)
	assert.Equal(t, 0, env.engine.intake.Len())

	object, ok := env.catalog.GetDummyCachedObject(testDiskID, "file42", 1)
	require.True(t, ok)
	assert.False(t, object.Delete)
	assert.True(t, object.CacheTime.Equal(ingestion))

	assert.Equal(t, StateRunning, env.engine.State())
}

func testIntakeUnknownFile(t *testing.T) {
	env := newTestEnv(t, newTestConfig(t), nil)

	err := env.engine.Init(context.Background())
	require.NoError(t, err)

	err = env.engine.NotifyNewFile(testDiskID, "unknown", 1, "a/unknown.fits")
	require.NoError(t, err)

	err = env.engine.RunCycle(context.Background())
	assert.NoError(t, err)

	assert.Equal(t, 0, env.engine.store.Count())
	assert.Equal(t, 0, env.engine.intake.Len())
}

func testIntakeCatalogFailure(t *testing.T) {
	env := newTestEnv(t, newTestConfig(t), nil)

	err := env.engine.Init(context.Background())
	require.NoError(t, err)

	env.addTestFiles(3, 100, env.now)
	for i := 0; i < 3; i++ {
		err = env.engine.NotifyNewFile(testDiskID, makeTestFileID(i), 1, "")
		require.NoError(t, err)
	}

	env.catalog.SetDummyFailure("GetFileInfo", errors.New("connection refused"))

	err = env.engine.RunCycle(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 3, env.engine.intake.Len())
	assert.Equal(t, 0, env.engine.store.Count())

	env.catalog.SetDummyFailure("GetFileInfo", nil)

	err = env.engine.RunCycle(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 0, env.engine.intake.Len())
	assert.Equal(t, 3, env.engine.store.Count())
	assert.Equal(t, int64(300), env.engine.store.TotalSize())
}

func testRequestDeletion(t *testing.T) {
	cfg := newTestConfig(t)
	env := newTestEnv(t, cfg, nil)
	env.addTestFiles(1, 100, env.now)

	// eligibility is not checked, nothing to record
	err := env.engine.RequestDeletion(context.Background(), testDiskID, makeTestFileID(0), 1)
	assert.NoError(t, err)
	assert.Equal(t, 0, env.catalog.GetDummyCallCount("SetDeletionEligible"))

	cfg.Caching.CheckCanBeDeleted = true

	err = env.engine.RequestDeletion(context.Background(), testDiskID, makeTestFileID(0), 1)
	assert.NoError(t, err)

	eligible, err := env.catalog.GetDeletionEligibility(context.Background(), makeTestFileID(0), 1, testDiskID)
	assert.NoError(t, err)
	assert.True(t, eligible)

	err = env.engine.RequestDeletion(context.Background(), testDiskID, "unknown", 1)
	assert.True(t, errors.Is(err, catalog.ErrFileNotFound))
}

func testStartStop(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Caching.Period = 3600
	env := newTestEnv(t, cfg, nil)
	env.addTestFiles(2, 100, env.now)

	err := env.engine.Start(context.Background())
	require.NoError(t, err)

	err = env.engine.Start(context.Background())
	assert.True(t, errors.Is(err, ErrAlreadyStarted))

	assert.Eventually(t, func() bool {
		return env.engine.State() == StateSleeping
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, 2, env.engine.store.Count())

	// new files are accepted while the engine sleeps
	err = env.engine.NotifyNewFile(testDiskID, makeTestFileID(0), 1, "")
	assert.NoError(t, err)

	env.engine.Stop()
	assert.Equal(t, StateStopped, env.engine.State())

	err = env.engine.RunCycle(context.Background())
	assert.True(t, errors.Is(err, ErrNotInitialized))
}

func testStopWithStuckPlugin(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	policy := &testPolicy{
		evaluate: func(ctx context.Context, entry *cache.Entry) (bool, error) {
			select {
			case entered <- struct{}{}:
			default:
			}
			// ignores ctx on purpose
			<-release
			return false, nil
		},
	}
	t.Cleanup(func() { close(release) })

	cfg := newTestConfig(t)
	cfg.Caching.RetentionPlugin.Name = "test"
	cfg.Caching.RetentionPlugin.Threads = 2
	env := newTestEnv(t, cfg, newTestRegistry(policy))
	env.addTestFiles(1, 100, env.now)

	err := env.engine.Start(context.Background())
	require.NoError(t, err)

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		require.FailNow(t, "plugin was never called")
	}

	stopped := make(chan struct{})
	go func() {
		env.engine.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		require.FailNow(t, "Stop blocked on a stuck plugin call")
	}

	assert.Equal(t, StateStopped, env.engine.State())
}

func testCachingDisabled(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Caching.Enable = false
	env := newTestEnv(t, cfg, nil)

	err := env.engine.Start(context.Background())
	assert.True(t, errors.Is(err, ErrCachingDisabled))
}

func testNotInitialized(t *testing.T) {
	env := newTestEnv(t, newTestConfig(t), nil)

	err := env.engine.RunCycle(context.Background())
	assert.True(t, errors.Is(err, ErrNotInitialized))
	assert.Equal(t, StateInitializing, env.engine.State())
}

func testUnknownPlugin(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Caching.RetentionPlugin.Name = "nosuchplugin"

	_, err := NewEngine(cfg, catalog.NewDummyCatalog(), storage.NewDummyFileRemover(), nil, nil)
	assert.Error(t, err)
}

func testStateString(t *testing.T) {
	assert.Equal(t, "sleeping", StateSleeping.String())
	assert.Equal(t, "unknown", State(100).String())
}
