// Package streamer is the public entry point: a Streamer accepts one
// aggregate read request spanning many files and many sub-ranges per
// file, partitions it across a fixed worker pool, and delivers one
// completion event per sub-range via Response.
package streamer

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/marmos91/streamer/internal/config"
	"github.com/marmos91/streamer/internal/logger"
	"github.com/marmos91/streamer/pkg/metrics"
	"github.com/marmos91/streamer/pkg/streamer/internal/assign"
	"github.com/marmos91/streamer/pkg/streamer/internal/backend"
	"github.com/marmos91/streamer/pkg/streamer/internal/backend/azure"
	"github.com/marmos91/streamer/pkg/streamer/internal/backend/gcs"
	"github.com/marmos91/streamer/pkg/streamer/internal/backend/s3"
	"github.com/marmos91/streamer/pkg/streamer/internal/batch"
	"github.com/marmos91/streamer/pkg/streamer/internal/clientmgr"
	"github.com/marmos91/streamer/pkg/streamer/internal/pool"
	"github.com/marmos91/streamer/pkg/streamer/internal/queue"
	"github.com/marmos91/streamer/pkg/streamer/internal/reader/fs"
	"github.com/marmos91/streamer/pkg/streamer/internal/respcode"
	"github.com/marmos91/streamer/pkg/streamer/internal/workload"
)

// Code is the closed response-code enum every completion event carries.
type Code = respcode.Code

// Event is one caller-visible sub-range completion.
type Event = queue.Event

// ErrFinished is returned by Response once every event for the current
// request has been delivered; it is returned forever after until the next
// Request call.
var ErrFinished = errors.New("streamer: no more events for the current request")

// FileRequest describes one file's share of an aggregate request: the
// absolute file offset to start at, and the sizes of its caller-visible
// sub-ranges (their sum is this file's total bytes for this request).
type FileRequest struct {
	Path          string
	Offset        int64
	SubRangeSizes []int64
}

// Streamer partitions and executes aggregate read requests. One Streamer
// owns one worker pool and one set of cached backend clients; it is safe
// for one in-flight Request/Response cycle at a time (a second Request
// before the first has fully drained returns BusyError).
type Streamer struct {
	cfg *config.Config

	pool      *pool.Pool
	clientMgr *clientmgr.Manager
	fsReader  *fs.Reader

	globalCounter atomic.Uint64
	metrics       metrics.EngineMetrics

	mu        sync.Mutex
	responder *queue.Responder
}

// New builds a Streamer from cfg: a filesystem reader, the S3/GCS/Azure
// backend adapters registered with a shared client manager, and a fixed
// worker pool sized to the larger of the filesystem and object-storage
// concurrency settings.
func New(cfg *config.Config) (*Streamer, error) {
	m := metrics.New()

	clientMgr := clientmgr.New()
	clientMgr.Register(s3.New(m))
	clientMgr.Register(gcs.New(m))
	clientMgr.Register(azure.New(m))

	poolSize := cfg.Concurrency
	if cfg.S3Concurrency > poolSize {
		poolSize = cfg.S3Concurrency
	}

	s := &Streamer{
		cfg:       cfg,
		pool:      pool.New(poolSize, cfg.QueueDepth, m),
		clientMgr: clientMgr,
		fsReader:  fs.New(cfg.DirectIO),
		metrics:   m,
	}
	return s, nil
}

// Request validates and launches one aggregate request: files are
// partitioned across the backend's worker pool (assign.Plan), split into
// per-worker Batches (batch.Split), grouped into Workloads, and pushed to
// the pool. It returns once every Workload has been pushed onto the pool's
// queue; the reads run later on the pool's workers and completions arrive
// via Response.
//
// Returns BusyError if a previous Request's events have not all been
// drained yet, EmptyRequestError if files is empty, and
// InvalidParameterError if a file has no sub-ranges or a negative
// sub-range size, or if planning or splitting fails. A file's size is the
// sum of its sub-range sizes; there is no separate declared size to check
// that sum against.
func (s *Streamer) Request(ctx context.Context, files []FileRequest, dest []byte) error {
	if len(files) == 0 {
		return respcode.AsError(respcode.EmptyRequestError)
	}

	ctx = logger.WithContext(ctx, &logger.LogContext{TraceID: uuid.NewString(), Procedure: "Request"})
	logger.InfoCtx(ctx, "streamer: aggregate request received", "files", len(files))

	s.mu.Lock()
	if s.responder != nil && !s.responder.Finished() {
		s.mu.Unlock()
		return respcode.AsError(respcode.BusyError)
	}
	s.mu.Unlock()

	paths := make([]string, len(files))
	fileOffsets := make([]int64, len(files))
	sizes := make([]int64, len(files))
	totalEvents := 0

	for i, f := range files {
		paths[i] = f.Path
		fileOffsets[i] = f.Offset
		var sum int64
		for _, sz := range f.SubRangeSizes {
			if sz < 0 {
				return respcode.AsError(respcode.InvalidParameterError)
			}
			sum += sz
		}
		sizes[i] = sum
		totalEvents += len(f.SubRangeSizes)
		if len(f.SubRangeSizes) == 0 {
			return respcode.AsError(respcode.InvalidParameterError)
		}
	}

	plan, err := assign.Plan(paths, fileOffsets, sizes, [][]byte{dest}, assign.Config{
		Concurrency:     s.cfg.Concurrency,
		S3Concurrency:   s.cfg.S3Concurrency,
		FSBlockBytesize: s.cfg.FSBlockBytesize,
		S3BlockBytesize: s.cfg.S3BlockBytesize,
	})
	if err != nil {
		logger.ErrorCtx(ctx, "streamer: assign.Plan failed", "error", err)
		return respcode.AsError(respcode.InvalidParameterError)
	}

	responder := queue.NewResponder(totalEvents, s.metrics)

	workloads := make(map[int]*workload.Workload, plan.NumWorkloads)
	getWorkload := func(workerIdx int) *workload.Workload {
		if w, ok := workloads[workerIdx]; ok {
			return w
		}
		var w *workload.Workload
		if plan.IsObjectStorage {
			kind := backendKindOf(paths[0])
			w = workload.NewObjectStorage(workerIdx, kind, s.clientMgr, s.clientConfigFor(kind), &s.globalCounter, s.metrics)
		} else {
			w = workload.NewFilesystem(workerIdx, s.fsReader, s.cfg.FSBlockBytesize, s.metrics)
		}
		workloads[workerIdx] = w
		return w
	}

	for fileIdx, spans := range plan.ByFile {
		batches, err := batch.Split(fileIdx, spans, files[fileIdx].SubRangeSizes, paths[fileIdx], dest, responder, s.metrics)
		if err != nil {
			logger.Errorf("streamer: batch.Split failed for file %d: %v", fileIdx, err)
			return respcode.AsError(respcode.InvalidParameterError)
		}
		for _, b := range batches {
			if err := getWorkload(b.WorkerIndex).AddBatch(b); err != nil {
				return err
			}
		}
	}

	s.mu.Lock()
	s.responder = responder
	s.mu.Unlock()

	for _, w := range workloads {
		s.pool.Push(w)
	}

	return nil
}

// Response blocks for the next completion event of the request currently
// in flight. Once all of that request's events have been delivered, it
// returns ErrFinished forever until the next successful Request call.
func (s *Streamer) Response(ctx context.Context) (Event, error) {
	s.mu.Lock()
	r := s.responder
	s.mu.Unlock()

	if r == nil {
		return Event{Result: respcode.FinishedError}, ErrFinished
	}

	ev := r.Pop()
	if ev.Result == respcode.FinishedError {
		return ev, ErrFinished
	}
	return ev, nil
}

// Cancel stops delivering further events for the in-flight request and
// wakes any blocked Response call.
func (s *Streamer) Cancel() {
	s.mu.Lock()
	r := s.responder
	s.mu.Unlock()
	if r != nil {
		r.Cancel()
	}
}

// Close stops the worker pool and closes every cached backend client and
// the filesystem reader. The Streamer must not be used afterward.
func (s *Streamer) Close() error {
	s.pool.Stop()
	err := s.clientMgr.CloseAll()
	if cerr := s.fsReader.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func backendKindOf(path string) string {
	switch {
	case len(path) >= 5 && path[:5] == "s3://":
		return "s3"
	case len(path) >= 5 && path[:5] == "gs://":
		return "gcs"
	default:
		return "azure"
	}
}

func (s *Streamer) clientConfigFor(kind string) backend.ClientConfig {
	params := map[string]string{}
	var endpoint string
	var chunk int64
	var concurrency int

	switch kind {
	case "s3":
		endpoint = s.cfg.S3.Endpoint
		params["region"] = s.cfg.S3.Region
		params["use_virtual_addressing"] = strconv.FormatBool(s.cfg.S3.UseVirtualAddressing)
		params["ca_bundle"] = s.cfg.S3.CABundle
		chunk = s.cfg.S3BlockBytesize
		concurrency = s.cfg.S3Concurrency
	case "gcs":
		params["credential_file"] = s.cfg.GCS.CredentialFile
		chunk = s.cfg.S3BlockBytesize
		concurrency = s.cfg.S3Concurrency
	case "azure":
		endpoint = s.cfg.Azure.Endpoint
		params["account_name"] = s.cfg.Azure.StorageAccount
		params["connection_string"] = s.cfg.Azure.ConnectionString
		chunk = s.cfg.S3BlockBytesize
		concurrency = s.cfg.S3Concurrency
	}

	return backend.ClientConfig{
		EndpointURL:             endpoint,
		Params:                  params,
		DefaultStorageChunkSize: chunk,
		MaxConcurrency:          concurrency,
	}
}
