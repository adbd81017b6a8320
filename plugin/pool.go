package plugin

import (
	"context"
	"errors"
	"sync"

	"github.com/ngas/ngas-cachecontrol/cache"
	"github.com/ngas/ngas-cachecontrol/utils"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
)

const (
	requestQueueSizePerWorker int = 16
)

// ErrPoolStopped is returned when evaluating on a stopped pool
var ErrPoolStopped = errors.New("worker pool is stopped")

type evaluationRequest struct {
	ctx     context.Context
	entry   *cache.Entry
	results chan<- evaluationResult
}

type evaluationResult struct {
	entry *cache.Entry
	evict bool
}

// WorkerPool runs a retention policy over cached objects with a fixed number of workers
type WorkerPool struct {
	policy   RetentionPolicy
	workers  int
	requests chan evaluationRequest

	group  errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
	exited chan struct{}

	stopped bool
	mutex   sync.Mutex
}

// NewWorkerPool creates a WorkerPool and starts its workers, workers is at least 1
func NewWorkerPool(policy RetentionPolicy, workers int) *WorkerPool {
	logger := log.WithFields(log.Fields{
		"package":  "plugin",
		"function": "NewWorkerPool",
	})

	if workers < 1 {
		workers = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	pool := &WorkerPool{
		policy:   policy,
		workers:  workers,
		requests: make(chan evaluationRequest, workers*requestQueueSizePerWorker),
		ctx:      ctx,
		cancel:   cancel,
		exited:   make(chan struct{}),
	}

	for i := 0; i < workers; i++ {
		workerID := i
		pool.group.Go(func() error {
			pool.work(workerID)
			return nil
		})
	}

	logger.Infof("Started %d workers for retention plugin %s", workers, policy.Name())
	return pool
}

// GetWorkers returns the number of workers
func (pool *WorkerPool) GetWorkers() int {
	return pool.workers
}

// Stop cancels workers and returns without waiting for them.
// A worker stuck in a policy call exits once the call returns, Exited reports when all are gone.
func (pool *WorkerPool) Stop() {
	logger := log.WithFields(log.Fields{
		"package":  "plugin",
		"struct":   "WorkerPool",
		"function": "Stop",
	})

	pool.mutex.Lock()
	if pool.stopped {
		pool.mutex.Unlock()
		return
	}
	pool.stopped = true
	pool.mutex.Unlock()

	pool.cancel()

	go func() {
		pool.group.Wait()
		logger.Infof("All workers of retention plugin %s stopped", pool.policy.Name())
		close(pool.exited)
	}()
}

// Exited returns a channel closed when every worker has returned after Stop
func (pool *WorkerPool) Exited() <-chan struct{} {
	return pool.exited
}

func (pool *WorkerPool) work(workerID int) {
	logger := log.WithFields(log.Fields{
		"package":  "plugin",
		"struct":   "WorkerPool",
		"function": "work",
		"worker":   workerID,
	})

	defer utils.StackTraceFromPanic(logger)

	for {
		select {
		case <-pool.ctx.Done():
			logger.Debug("Worker stopped")
			return
		case request := <-pool.requests:
			request.results <- pool.evaluate(request)
		}
	}
}

// evaluate runs the policy on a private copy. On error or panic the submitted entry is retained.
func (pool *WorkerPool) evaluate(request evaluationRequest) (result evaluationResult) {
	logger := log.WithFields(log.Fields{
		"package":      "plugin",
		"struct":       "WorkerPool",
		"function":     "evaluate",
		"disk_id":      request.entry.DiskID,
		"file_id":      request.entry.FileID,
		"file_version": request.entry.FileVersion,
	})

	result = evaluationResult{
		entry: request.entry,
		evict: false,
	}

	defer func() {
		if err := utils.RecoverToError(logger, recover()); err != nil {
			logger.WithError(err).Errorf("Retention plugin %s panicked, retaining object", pool.policy.Name())
			result = evaluationResult{
				entry: request.entry,
				evict: false,
			}
		}
	}()

	entryCopy := request.entry.Clone()
	evict, err := pool.policy.Evaluate(request.ctx, entryCopy)
	if err != nil {
		logger.WithError(err).Errorf("Retention plugin %s failed, retaining object", pool.policy.Name())
		return result
	}

	return evaluationResult{
		entry: entryCopy,
		evict: evict,
	}
}

// Evaluate submits the entries and waits for all outcomes.
// Returned entries carry the plugin state updated by the policy.
// On cancellation the outcomes collected so far are returned with the error.
func (pool *WorkerPool) Evaluate(ctx context.Context, entries []*cache.Entry) ([]*cache.Entry, []*cache.Entry, error) {
	evict := []*cache.Entry{}
	retain := []*cache.Entry{}

	pool.mutex.Lock()
	stopped := pool.stopped
	pool.mutex.Unlock()

	if stopped {
		return evict, retain, ErrPoolStopped
	}

	// buffered so workers never block on a batch that stopped waiting
	results := make(chan evaluationResult, len(entries))
	submitted := 0
	received := 0

	collect := func(result evaluationResult) {
		received++
		if result.evict {
			evict = append(evict, result.entry)
		} else {
			retain = append(retain, result.entry)
		}
	}

	for _, entry := range entries {
		request := evaluationRequest{
			ctx:     ctx,
			entry:   entry,
			results: results,
		}

	submit:
		for {
			select {
			case pool.requests <- request:
				submitted++
				break submit
			case result := <-results:
				collect(result)
			case <-ctx.Done():
				return evict, retain, xerrors.Errorf("plugin evaluation cancelled: %w", ctx.Err())
			case <-pool.ctx.Done():
				return evict, retain, ErrPoolStopped
			}
		}
	}

	for received < submitted {
		select {
		case result := <-results:
			collect(result)
		case <-ctx.Done():
			return evict, retain, xerrors.Errorf("plugin evaluation cancelled: %w", ctx.Err())
		case <-pool.ctx.Done():
			return evict, retain, ErrPoolStopped
		}
	}

	return evict, retain, nil
}
