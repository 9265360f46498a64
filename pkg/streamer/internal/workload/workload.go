// Package workload implements Workload: the per-worker queue element a
// thread-pool worker consumes. A Workload groups the Batches one worker
// owns for one aggregate request and dispatches them down the
// filesystem or object-storage path.
package workload

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/marmos91/streamer/internal/logger"
	"github.com/marmos91/streamer/pkg/metrics"
	"github.com/marmos91/streamer/pkg/streamer/internal/backend"
	"github.com/marmos91/streamer/pkg/streamer/internal/batch"
	"github.com/marmos91/streamer/pkg/streamer/internal/clientmgr"
	"github.com/marmos91/streamer/pkg/streamer/internal/reader"
	"github.com/marmos91/streamer/pkg/streamer/internal/respcode"
	"github.com/marmos91/streamer/pkg/streamer/internal/task"
)

// Workload is what one worker goroutine consumes from the thread pool: a
// set of Batches (at most one per file) that share one backend kind.
type Workload struct {
	WorkerIndex     int
	IsObjectStorage bool

	batches     []*batch.Batch
	batchByFile map[int]*batch.Batch

	// filesystem path
	fsReader        reader.Reader
	fsBlockBytesize int64

	// object-storage path
	backendKind   string
	clientMgr     *clientmgr.Manager
	clientConfig  backend.ClientConfig
	globalCounter *atomic.Uint64

	metrics metrics.EngineMetrics
}

// NewFilesystem builds a Workload for the synchronous filesystem path.
func NewFilesystem(workerIndex int, fsReader reader.Reader, blockBytesize int64, m metrics.EngineMetrics) *Workload {
	return &Workload{
		WorkerIndex:     workerIndex,
		IsObjectStorage: false,
		batchByFile:     make(map[int]*batch.Batch),
		fsReader:        fsReader,
		fsBlockBytesize: blockBytesize,
		metrics:         m,
	}
}

// NewObjectStorage builds a Workload for an asynchronous object-storage
// path. globalCounter is the process-wide monotonic Task id allocator
// shared by every Workload in the process.
func NewObjectStorage(workerIndex int, backendKind string, mgr *clientmgr.Manager, cfg backend.ClientConfig, globalCounter *atomic.Uint64, m metrics.EngineMetrics) *Workload {
	return &Workload{
		WorkerIndex:     workerIndex,
		IsObjectStorage: true,
		batchByFile:     make(map[int]*batch.Batch),
		backendKind:     backendKind,
		clientMgr:       mgr,
		clientConfig:    cfg,
		globalCounter:   globalCounter,
		metrics:         m,
	}
}

// AddBatch appends a Batch to this Workload's file index -> Batch map.
// It is an InvalidParameterError to add two Batches for the same file.
func (w *Workload) AddBatch(b *batch.Batch) error {
	if _, exists := w.batchByFile[b.FileIndex]; exists {
		return respcode.AsError(respcode.InvalidParameterError)
	}
	w.batches = append(w.batches, b)
	w.batchByFile[b.FileIndex] = b
	return nil
}

// Execute dispatches this Workload down its backend's path. stopped is
// the thread pool's shared stop flag; workers observe it to cooperate
// with shutdown. A panic during execution fails every sub-range not yet
// reported with UnknownError and is then re-raised.
func (w *Workload) Execute(ctx context.Context, stopped *atomic.Bool) error {
	defer func() {
		if r := recover(); r != nil {
			for _, b := range w.batches {
				b.HandleError(respcode.UnknownError)
			}
			panic(r)
		}
	}()
	if w.IsObjectStorage {
		return w.executeObjectStorage(ctx, stopped)
	}
	return w.executeFilesystem(ctx, stopped)
}

func (w *Workload) executeFilesystem(ctx context.Context, stopped *atomic.Bool) error {
	var firstErr error
	for _, b := range w.batches {
		start := time.Now()
		err := b.Execute(ctx, w.fsReader, w.fsBlockBytesize, stopped)
		if w.metrics != nil {
			w.metrics.ObserveBatch(w.WorkerIndex, b.TotalBytes(), time.Since(start), err)
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (w *Workload) executeObjectStorage(ctx context.Context, stopped *atomic.Bool) error {
	totalTasks := 0
	for _, b := range w.batches {
		totalTasks += len(b.Tasks)
	}

	base := w.globalCounter.Add(uint64(totalTasks)) - uint64(totalTasks)
	taskLookup := make([]*task.Task, totalTasks)

	idx := uint64(0)
	for _, b := range w.batches {
		for _, t := range b.Tasks {
			t.GlobalID = base + idx
			taskLookup[idx] = t
			idx++
		}
	}

	client, err := w.clientMgr.Checkout(ctx, w.backendKind, w.clientConfig)
	if err != nil {
		logger.Errorf("workload: checkout %s client failed: %v", w.backendKind, err)
		for _, b := range w.batches {
			b.HandleError(respcode.FileAccessError)
		}
		return err
	}
	defer w.clientMgr.Release(w.backendKind, client)

	var (
		mu           sync.Mutex
		perFileError = make(map[int]respcode.Code)
		anyRequested bool
	)

	// Batches belong to different files and touch disjoint destination
	// windows, so their async reads can be issued concurrently; an
	// errgroup bounds the fan-out to this Workload's own batches. Every
	// goroutine returns nil, so one batch's issuance failure neither cancels
	// its siblings nor surfaces from g.Wait; it is recorded per file in
	// perFileError instead.
	g, gctx := errgroup.WithContext(ctx)
	for _, b := range w.batches {
		b := b
		g.Go(func() error {
			start := time.Now()
			reqErr := b.Request(gctx, client, stopped)
			if w.metrics != nil {
				w.metrics.ObserveBatch(w.WorkerIndex, b.TotalBytes(), time.Since(start), reqErr)
			}
			mu.Lock()
			if reqErr != nil {
				perFileError[b.FileIndex] = codeFromError(reqErr)
			} else {
				anyRequested = true
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	var workloadErr error
	if anyRequested {
		workloadErr = w.waitLoop(ctx, client, taskLookup, base)
	}

	for _, b := range w.batches {
		code := respcode.Success
		if c, ok := perFileError[b.FileIndex]; ok {
			code = c
		} else if workloadErr != nil {
			code = codeFromError(workloadErr)
		}
		b.HandleError(code)
	}

	return workloadErr
}

// waitLoop repeatedly pulls completions from client until it reports
// FinishedError, dispatching each to the Batch owning its Task via a flat
// lookup indexed by global id minus this Workload's id base.
func (w *Workload) waitLoop(ctx context.Context, client backend.Client, taskLookup []*task.Task, base uint64) error {
	for {
		comp, code := client.AsyncResponse(ctx)
		if code == respcode.FinishedError {
			return nil
		}

		if comp.GlobalID < base || comp.GlobalID-base >= uint64(len(taskLookup)) {
			logger.Warnf("workload: completion for out-of-range global id %d", comp.GlobalID)
			continue
		}

		t := taskLookup[comp.GlobalID-base]
		b, ok := w.batchByFile[t.Req.FileIndex]
		if !ok {
			continue
		}
		b.HandleResponse(comp, t)
	}
}

func codeFromError(err error) respcode.Code {
	if e, ok := err.(*respcode.Error); ok {
		return e.Code
	}
	return respcode.UnknownError
}
