// Package pool implements the fixed-size thread pool: a set of worker
// goroutines consuming Workload values from a bounded deque.
package pool

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/marmos91/streamer/internal/logger"
	"github.com/marmos91/streamer/pkg/metrics"
	"github.com/marmos91/streamer/pkg/streamer/internal/workload"
)

// Pool is a fixed-size set of worker goroutines, each consuming Workload
// values from a shared bounded channel until Stop is called.
type Pool struct {
	workCh  chan *workload.Workload
	stopped atomic.Bool
	wg      sync.WaitGroup
	active  atomic.Int32
	metrics metrics.EngineMetrics
}

// New starts a Pool of size workers, each blocking on the same channel of
// depth queueDepth.
func New(size, queueDepth int, m metrics.EngineMetrics) *Pool {
	p := &Pool{
		workCh:  make(chan *workload.Workload, queueDepth),
		metrics: m,
	}

	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.run()
	}

	return p
}

func (p *Pool) run() {
	defer p.wg.Done()
	for w := range p.workCh {
		n := p.active.Add(1)
		if p.metrics != nil {
			p.metrics.RecordActiveWorkers(int(n))
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("pool: worker %d panicked executing workload: %v", w.WorkerIndex, r)
				}
			}()
			if err := w.Execute(context.Background(), &p.stopped); err != nil {
				logger.Debugf("pool: worker %d workload finished with: %v", w.WorkerIndex, err)
			}
		}()
		n = p.active.Add(-1)
		if p.metrics != nil {
			p.metrics.RecordActiveWorkers(int(n))
		}
	}
}

// Push enqueues one Workload for execution. It blocks if the queue is
// full; callers should size queueDepth to the expected number of
// concurrent Workloads per request.
func (p *Pool) Push(w *workload.Workload) {
	p.workCh <- w
}

// Stop signals every worker to drain its remaining queued Workloads and
// exit, then waits for them to finish. Workloads already executing
// observe the stopped flag cooperatively; Stop does not cancel in-flight
// backend requests and waits for them to complete.
func (p *Pool) Stop() {
	if !p.stopped.CompareAndSwap(false, true) {
		return
	}
	close(p.workCh)
	p.wg.Wait()
}
