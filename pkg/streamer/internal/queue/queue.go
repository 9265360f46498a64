// Package queue implements the Responder (SharedQueue): a bounded
// multi-producer, single-consumer queue of completion events with
// running-count tracking, cancel/stop semantics, and one-shot throughput
// logging.
package queue

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/streamer/internal/bytesize"
	"github.com/marmos91/streamer/internal/logger"
	"github.com/marmos91/streamer/pkg/metrics"
	"github.com/marmos91/streamer/pkg/streamer/internal/respcode"
)

// throughputLogThreshold mirrors the original 100MiB one-shot log gate.
const throughputLogThreshold = 100 * 1024 * 1024

// Event is one caller-visible completion: one sub-request finished with
// a result code.
type Event struct {
	FileIndex int
	SubIndex  int
	Result    respcode.Code
}

// Responder is the completion queue the caller's consumer goroutine reads
// from via Pop, while worker goroutines push completions via Push.
type Responder struct {
	mu   sync.Mutex
	cond *sync.Cond

	running  int
	events   []Event
	canceled bool

	stopped    atomic.Bool
	totalBytes atomic.Int64
	startTime  time.Time
	successful bool

	unexpectedPush   atomic.Bool
	loggedThroughput atomic.Bool

	metrics metrics.EngineMetrics
}

// NewResponder prepares a Responder expecting `running` completions.
func NewResponder(running int, m metrics.EngineMetrics) *Responder {
	r := &Responder{
		running:    running,
		successful: true,
		startTime:  time.Now(),
		metrics:    m,
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Increment raises the expected completion count, used when more work is
// added to a Responder after construction.
func (r *Responder) Increment(n int) {
	r.mu.Lock()
	r.running += n
	r.mu.Unlock()
}

// Push appends a completion event. If the Responder has been stopped the
// event is silently discarded. If no completions were expected, the event
// is logged and the "unexpected push" flag is set, but never panics.
func (r *Responder) Push(ev Event) {
	r.PushBytes(ev, 0)
}

// PushBytes is Push plus throughput accounting for object-storage and
// filesystem reads that completed `bytes` of payload.
func (r *Responder) PushBytes(ev Event, bytes int64) {
	if bytes > 0 {
		r.totalBytes.Add(bytes)
	}

	r.mu.Lock()

	if r.stopped.Load() {
		r.mu.Unlock()
		logger.Debug("responder stopped, ignoring pushed response")
		return
	}

	if r.running <= 0 {
		r.mu.Unlock()
		r.unexpectedPush.Store(true)
		logger.Error("responder received unexpected response with no running requests")
		return
	}

	if ev.Result != respcode.Success {
		r.successful = false
	}

	r.events = append(r.events, ev)
	r.running--

	shouldLogThroughput := r.running == 0 && r.successful && r.totalBytes.Load() > throughputLogThreshold
	r.mu.Unlock()

	r.cond.Signal()

	if shouldLogThroughput && !r.loggedThroughput.Swap(true) {
		logger.Infof("read throughput is %s per second", bytesize.ByteSize(r.bytesPerSecond()).String())
	}
}

// Pop waits for and returns the next completion event. If the Responder
// is stopped or has no further completions pending, it returns a
// synthetic FinishedError event immediately without blocking.
func (r *Responder) Pop() Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	for len(r.events) == 0 && !r.stopped.Load() && !r.finishedLocked() {
		r.cond.Wait()
	}

	if r.stopped.Load() || len(r.events) == 0 {
		return Event{Result: respcode.FinishedError}
	}

	ev := r.events[0]
	r.events = r.events[1:]
	return ev
}

// Cancel marks the Responder finished; idempotent. Wakes any blocked Pop
// so it can observe the new finished state.
func (r *Responder) Cancel() {
	r.mu.Lock()
	if !r.canceled && !r.stopped.Load() {
		r.canceled = true
	}
	r.mu.Unlock()
	r.cond.Broadcast()
}

// Stop is a hard, idempotent stop: after Stop, Pop always returns
// FinishedError and Push becomes a no-op.
func (r *Responder) Stop() {
	if r.stopped.CompareAndSwap(false, true) {
		r.cond.Broadcast()
	}
}

// Finished reports whether the Responder has nothing left to deliver:
// cancelled, or fully drained with no completions outstanding.
func (r *Responder) Finished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finishedLocked()
}

func (r *Responder) finishedLocked() bool {
	return r.canceled || (r.running == 0 && len(r.events) == 0)
}

// Valid reports UnknownError if an unexpected push was observed (a
// programming-level invariant violation), else Success.
func (r *Responder) Valid() respcode.Code {
	if r.unexpectedPush.Load() {
		return respcode.UnknownError
	}
	return respcode.Success
}

// bytesPerSecond computes the running throughput since construction.
func (r *Responder) bytesPerSecond() float64 {
	elapsed := time.Since(r.startTime)
	ms := elapsed.Milliseconds()
	if ms == 0 {
		return 0
	}
	return float64(r.totalBytes.Load()) / (float64(ms) / 1000.0)
}
