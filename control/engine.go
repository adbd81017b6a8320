package control

import (
	"context"
	"errors"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/ngas/ngas-cachecontrol/cache"
	"github.com/ngas/ngas-cachecontrol/catalog"
	"github.com/ngas/ngas-cachecontrol/config"
	"github.com/ngas/ngas-cachecontrol/intake"
	"github.com/ngas/ngas-cachecontrol/plugin"
	"github.com/ngas/ngas-cachecontrol/report"
	"github.com/ngas/ngas-cachecontrol/storage"
	"github.com/ngas/ngas-cachecontrol/utils"
	"github.com/rs/xid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

const (
	diskCacheSize int = 64

	minCycleSleep time.Duration = time.Second

	errorKindCatalog    string = "catalog"
	errorKindStore      string = "store"
	errorKindIntake     string = "intake"
	errorKindDeregister string = "deregister"
	errorKindRemove     string = "remove"
	errorKindPanic      string = "panic"
)

var (
	// ErrCachingDisabled is returned by Start when caching is disabled in the config
	ErrCachingDisabled = errors.New("caching is disabled")
	// ErrNotInitialized is returned when a cycle is run before Init
	ErrNotInitialized = errors.New("cache control engine is not initialized")
	// ErrAlreadyStarted is returned by Start on a running engine
	ErrAlreadyStarted = errors.New("cache control engine is already started")
)

// Engine is the cache control engine of a cache node
type Engine struct {
	config   *config.Config
	catalog  catalog.Catalog
	remover  storage.FileRemover
	reporter report.CacheControlReporter
	policy   plugin.RetentionPolicy

	intake    *intake.Queue
	store     *cache.Store
	pool      *plugin.WorkerPool
	diskCache *lru.Cache

	state      State
	stateMutex sync.RWMutex

	cancel         context.CancelFunc
	done           chan struct{}
	lifecycleMutex sync.Mutex

	now func() time.Time
}

// NewEngine creates a new Engine. The intake queue is opened immediately so new files
// can be notified before the engine starts.
// registry may be nil to use built-in retention plugins, reporter may be nil to discard reports.
func NewEngine(cfg *config.Config, catalogClient catalog.Catalog, remover storage.FileRemover, reporter report.CacheControlReporter, registry *plugin.Registry) (*Engine, error) {
	logger := log.WithFields(log.Fields{
		"package":  "control",
		"function": "NewEngine",
	})

	err := cfg.Validate()
	if err != nil {
		return nil, xerrors.Errorf("invalid config: %w", err)
	}

	if reporter == nil {
		reporter = report.NewNilReporter()
	}

	if registry == nil {
		registry = plugin.NewDefaultRegistry()
	}

	var policy plugin.RetentionPolicy
	if cfg.Caching.RetentionPlugin.IsEnabled() {
		policy, err = registry.Create(cfg.Caching.RetentionPlugin.Name, cfg.Caching.RetentionPlugin.Params)
		if err != nil {
			return nil, err
		}
		logger.Infof("Using retention plugin %s", policy.Name())
	}

	diskCache, err := lru.New(diskCacheSize)
	if err != nil {
		return nil, xerrors.Errorf("failed to create disk cache: %w", err)
	}

	queue, err := intake.NewQueue(cfg.CacheDirectory, cfg.NodeID)
	if err != nil {
		return nil, xerrors.Errorf("failed to open intake queue: %w", err)
	}

	return &Engine{
		config:    cfg,
		catalog:   catalogClient,
		remover:   remover,
		reporter:  reporter,
		policy:    policy,
		intake:    queue,
		diskCache: diskCache,
		state:     StateInitializing,
		now:       time.Now,
	}, nil
}

// State returns the current scheduler state
func (engine *Engine) State() State {
	engine.stateMutex.RLock()
	defer engine.stateMutex.RUnlock()

	return engine.state
}

func (engine *Engine) setState(state State) {
	engine.stateMutex.Lock()
	defer engine.stateMutex.Unlock()

	engine.state = state
}

// Init opens the cache contents store, reconciles it with the catalog and starts plugin workers.
// Calling Init on an initialized engine is a no-op.
func (engine *Engine) Init(ctx context.Context) error {
	engine.lifecycleMutex.Lock()
	defer engine.lifecycleMutex.Unlock()

	return engine.initLocked(ctx)
}

func (engine *Engine) initLocked(ctx context.Context) error {
	logger := log.WithFields(log.Fields{
		"package":  "control",
		"struct":   "Engine",
		"function": "Init",
	})

	if engine.store != nil {
		return nil
	}

	engine.setState(StateInitializing)

	store, err := cache.NewStore(engine.config.CacheDirectory, engine.config.NodeID)
	if err != nil {
		return xerrors.Errorf("failed to open cache contents store: %w", err)
	}

	err = engine.reconcile(ctx, store)
	if err != nil {
		store.Release()
		return xerrors.Errorf("failed to reconcile cache contents with catalog: %w", err)
	}

	engine.store = store
	engine.reporter.ReportUsage(store.Count(), store.TotalSize())

	if engine.policy != nil {
		engine.pool = plugin.NewWorkerPool(engine.policy, engine.config.Caching.RetentionPlugin.Threads)
	}

	engine.setState(StateRunning)
	logger.Infof("Cache control engine is ready, %d objects, %d bytes in cache", store.Count(), store.TotalSize())
	return nil
}

// Start initializes the engine if needed and launches the cycle loop
func (engine *Engine) Start(ctx context.Context) error {
	logger := log.WithFields(log.Fields{
		"package":  "control",
		"struct":   "Engine",
		"function": "Start",
	})

	if !engine.config.Caching.Enable {
		return ErrCachingDisabled
	}

	engine.lifecycleMutex.Lock()
	defer engine.lifecycleMutex.Unlock()

	if engine.done != nil {
		return ErrAlreadyStarted
	}

	err := engine.initLocked(ctx)
	if err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	engine.cancel = cancel
	engine.done = make(chan struct{})

	go engine.loop(loopCtx, engine.done)

	logger.Infof("Started cache control engine for node %s, period %s", engine.config.NodeID, engine.config.GetCachingPeriod())
	return nil
}

// Stop stops the cycle loop and plugin workers, and releases the store.
// A cycle in progress stops at its next cancellation check.
func (engine *Engine) Stop() {
	logger := log.WithFields(log.Fields{
		"package":  "control",
		"struct":   "Engine",
		"function": "Stop",
	})

	engine.lifecycleMutex.Lock()
	defer engine.lifecycleMutex.Unlock()

	if engine.cancel != nil {
		engine.cancel()
	}

	// workers are cancelled but not joined, a stuck plugin call must not hold up shutdown
	if engine.pool != nil {
		engine.pool.Stop()
	}

	if engine.done != nil {
		<-engine.done
	}

	engine.cancel = nil
	engine.done = nil
	engine.pool = nil

	if engine.store != nil {
		engine.store.Release()
		engine.store = nil
	}

	engine.setState(StateStopped)
	logger.Info("Stopped cache control engine")
}

func (engine *Engine) loop(ctx context.Context, done chan struct{}) {
	logger := log.WithFields(log.Fields{
		"package":  "control",
		"struct":   "Engine",
		"function": "loop",
	})

	defer close(done)

	period := engine.config.GetCachingPeriod()

	for {
		startTime := time.Now()

		err := engine.RunCycle(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.WithError(err).Error("Cache control cycle failed, retrying next period")
		}

		if ctx.Err() != nil {
			return
		}

		sleep := utils.MaxDuration(minCycleSleep, period-time.Since(startTime))
		engine.setState(StateSleeping)
		logger.Debugf("Sleeping %s until next cycle", sleep)

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// RunCycle runs one drain, evaluate and reclaim cycle synchronously
func (engine *Engine) RunCycle(ctx context.Context) (err error) {
	cycleID := xid.New().String()
	logger := log.WithFields(log.Fields{
		"package":  "control",
		"struct":   "Engine",
		"function": "RunCycle",
		"cycle":    cycleID,
	})

	if engine.store == nil {
		return ErrNotInitialized
	}

	startTime := time.Now()
	defer func() {
		if recoverErr := utils.RecoverToError(logger, recover()); recoverErr != nil {
			engine.reporter.ReportError(errorKindPanic)
			err = xerrors.Errorf("cache control cycle %s panicked: %w", cycleID, recoverErr)
		}

		duration := time.Since(startTime)
		engine.reporter.ReportCycle(duration, err)
		engine.reporter.ReportUsage(engine.store.Count(), engine.store.TotalSize())
		if ctx.Err() == nil {
			engine.setState(StateRunning)
		}
		logger.Debugf("Cache control cycle took %s", duration)
	}()

	logger.Debug("Starting cache control cycle")

	engine.setState(StateDraining)
	err = engine.drainIntake(ctx, logger)
	if err != nil {
		return xerrors.Errorf("failed to drain intake queue: %w", err)
	}

	if err = ctx.Err(); err != nil {
		return err
	}

	engine.setState(StateEvaluating)
	err = engine.evaluateCriteria(ctx, logger)
	if err != nil {
		return xerrors.Errorf("failed to evaluate eviction criteria: %w", err)
	}

	if err = ctx.Err(); err != nil {
		return err
	}

	engine.setState(StateReclaiming)
	count, bytes, err := engine.reclaim(ctx, logger)
	engine.reporter.ReportReclaimed(count, bytes)
	if err != nil {
		return xerrors.Errorf("failed to reclaim flagged objects: %w", err)
	}

	if count > 0 {
		logger.Infof("Reclaimed %d objects, %d bytes", count, bytes)
	}
	return nil
}
