package utils

import (
	"context"
	"sort"
	"sync"

	"github.com/samber/lo"
	goutils "go.viam.com/utils"

	"github.com/rsvfx/rsfuse/logging"
)

// StoppableWorkers is a collection of named goroutines sharing one cancellation context. The
// driver owns one of these for its tracker and depth producers.
type StoppableWorkers interface {
	AddWorker(name string, f func(context.Context))
	Running() []string
	Stop()
	Context() context.Context
}

// stoppableWorkersImpl is the implementation of StoppableWorkers. It holds a sync.WaitGroup, so
// everything goes through the interface to avoid copies.
type stoppableWorkersImpl struct {
	mu                      sync.Mutex
	logger                  logging.Logger
	cancelCtx               context.Context
	cancelFunc              func()
	activeBackgroundWorkers sync.WaitGroup
	running                 map[string]struct{}
}

// NewStoppableWorkers returns an empty collection. Workers are started with AddWorker.
func NewStoppableWorkers(logger logging.Logger) StoppableWorkers {
	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	return &stoppableWorkersImpl{
		logger:     logger,
		cancelCtx:  cancelCtx,
		cancelFunc: cancelFunc,
		running:    map[string]struct{}{},
	}
}

// AddWorker starts f in its own goroutine. If you call this after calling Stop(), it returns
// immediately without starting anything.
func (sw *stoppableWorkersImpl) AddWorker(name string, f func(context.Context)) {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.cancelCtx.Err() != nil { // We've already stopped everything.
		return
	}

	sw.running[name] = struct{}{}
	sw.activeBackgroundWorkers.Add(1)
	goutils.PanicCapturingGo(func() {
		defer func() {
			sw.mu.Lock()
			delete(sw.running, name)
			sw.mu.Unlock()
			sw.activeBackgroundWorkers.Done()
		}()
		sw.logger.Debugw("worker started", "worker", name)
		f(sw.cancelCtx)
		sw.logger.Debugw("worker exited", "worker", name)
	})
}

// Running returns the sorted names of the workers that have not yet returned.
func (sw *stoppableWorkersImpl) Running() []string {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	names := lo.Keys(sw.running)
	sort.Strings(names)
	return names
}

// Stop cancels the shared context and waits for every worker to return.
func (sw *stoppableWorkersImpl) Stop() {
	sw.mu.Lock()
	sw.cancelFunc()
	sw.mu.Unlock()

	sw.activeBackgroundWorkers.Wait()
}

// Context gets the context the workers are checking on.
func (sw *stoppableWorkersImpl) Context() context.Context {
	return sw.cancelCtx
}
