// Package batch implements Batch: all Tasks for one file assigned to one
// worker. A Batch executes its Tasks synchronously against a filesystem
// Reader, or issues them asynchronously against an object-storage Reader
// and is later fed completions by the owning Workload.
package batch

import (
	"context"
	"sync/atomic"

	"github.com/marmos91/streamer/pkg/metrics"
	"github.com/marmos91/streamer/pkg/streamer/internal/queue"
	"github.com/marmos91/streamer/pkg/streamer/internal/reader"
	"github.com/marmos91/streamer/pkg/streamer/internal/respcode"
	"github.com/marmos91/streamer/pkg/streamer/internal/task"
)

// Range is the contiguous [Start, End) byte span of one file this Batch
// covers; it is the union of all of this Batch's Tasks.
type Range struct {
	Start int64
	End   int64
}

// Batch holds all Tasks for one file assigned to one worker, in ascending
// file-offset order, the contiguous slice of the caller's host buffer they
// write into, and the shared Responder their completions post to.
type Batch struct {
	WorkerIndex int
	FileIndex   int
	Path        string
	Tasks       []*task.Task
	Range       Range

	// Dest is the slice of the caller's host buffer covering exactly
	// [Range.Start, Range.End) of the file, shared contiguously by every
	// Task in this Batch.
	Dest []byte

	responder *queue.Responder
	metrics   metrics.EngineMetrics

	// unfinished is the index of the first Task not yet reported; it only
	// ever advances.
	unfinished int
}

// New builds a Batch from file-offset-ordered Tasks. The Range is derived
// from the first and last Task; for a Batch containing only zero-size
// Tasks (a zero-size file or sub-range), Start == End.
func New(workerIndex, fileIndex int, path string, tasks []*task.Task, dest []byte, responder *queue.Responder, m metrics.EngineMetrics) *Batch {
	rng := Range{}
	if len(tasks) > 0 {
		rng.Start = tasks[0].Offset
		rng.End = tasks[len(tasks)-1].End
	}
	return &Batch{
		WorkerIndex: workerIndex,
		FileIndex:   fileIndex,
		Path:        path,
		Tasks:       tasks,
		Range:       rng,
		Dest:        dest,
		responder:   responder,
		metrics:     m,
	}
}

// TotalBytes returns the number of bytes this Batch covers.
func (b *Batch) TotalBytes() int64 {
	return b.Range.End - b.Range.Start
}

// Execute runs the filesystem path: reads this Batch's Range in blockSize
// chunks via fsReader directly into Dest, reporting Task completions as
// each chunk lands.
func (b *Batch) Execute(ctx context.Context, fsReader reader.Reader, blockSize int64, stopped *atomic.Bool) error {
	if len(b.Tasks) == 0 || b.TotalBytes() == 0 {
		b.finishedUntil(b.Range.End, respcode.Success)
		return nil
	}

	offset := b.Range.Start
	end := b.Range.End

	for offset < end {
		if stopped.Load() {
			b.finishedAll(respcode.FinishedError)
			return respcode.AsError(respcode.FinishedError)
		}

		chunk := blockSize
		if remaining := end - offset; remaining < chunk {
			chunk = remaining
		}

		dst := b.Dest[offset-b.Range.Start : offset-b.Range.Start+chunk]
		n, code := fsReader.Read(ctx, b.Path, reader.Range{Offset: offset, Size: chunk}, dst)
		offset += n

		if code != respcode.Success {
			b.finishedUntil(offset, respcode.Success)
			b.finishedAll(code)
			return respcode.AsError(code)
		}

		b.finishedUntil(offset, respcode.Success)
	}

	return nil
}

// Request issues all of this Batch's Tasks as asynchronous reads against
// an object-storage Reader. It does not wait for completions; those are
// delivered later via HandleResponse by the owning Workload's wait loop.
func (b *Batch) Request(ctx context.Context, objReader reader.Reader, stopped *atomic.Bool) error {
	if len(b.Tasks) == 0 {
		b.finishedUntil(b.Range.End, respcode.Success)
		return nil
	}

	for _, t := range b.Tasks {
		if stopped.Load() {
			return respcode.AsError(respcode.FinishedError)
		}
		if t.Size() == 0 {
			if t.FinishedRequest(respcode.Success) {
				b.pushEvent(t.Req.FileIndex, t.Req.SubIndex, t.Req.Result(), t.Req.Size)
			}
			b.advanceUnfinished()
			continue
		}
		dst := b.Dest[t.Offset-b.Range.Start : t.End-b.Range.Start]
		code := objReader.AsyncRead(ctx, b.Path, reader.Range{Offset: t.Offset, Size: t.Size()}, dst, t.GlobalID)
		if code != respcode.Success {
			return respcode.AsError(code)
		}
	}
	return nil
}

// HandleResponse is invoked by the owning Workload with one completion
// whose GlobalID matches one of this Batch's Tasks.
func (b *Batch) HandleResponse(comp reader.Completion, t *task.Task) {
	if t.FinishedRequest(comp.Result) {
		b.pushEvent(t.Req.FileIndex, t.Req.SubIndex, t.Req.Result(), t.Req.Size)
	}
	b.advanceUnfinished()
}

// HandleError fails every Task not yet reported with code. Called once at
// the end of a Workload's execution for whichever Batches still have
// outstanding Tasks (a prior failure elsewhere in the Workload, or a stop).
func (b *Batch) HandleError(code respcode.Code) {
	b.finishedAll(code)
}

// finishedUntil reports Success for every Task whose End <= fileOffset,
// starting from the unfinished cursor, which only ever advances.
func (b *Batch) finishedUntil(fileOffset int64, result respcode.Code) {
	for b.unfinished < len(b.Tasks) {
		t := b.Tasks[b.unfinished]
		if t.End > fileOffset {
			break
		}
		if t.FinishedRequest(result) {
			b.pushEvent(t.Req.FileIndex, t.Req.SubIndex, t.Req.Result(), t.Req.Size)
		}
		b.unfinished++
	}
}

// finishedAll fails every Task from the unfinished cursor onward.
func (b *Batch) finishedAll(code respcode.Code) {
	for ; b.unfinished < len(b.Tasks); b.unfinished++ {
		t := b.Tasks[b.unfinished]
		if t.FinishedRequest(code) {
			b.pushEvent(t.Req.FileIndex, t.Req.SubIndex, t.Req.Result(), t.Req.Size)
		}
	}
}

// advanceUnfinished skips forward over any already-finished Tasks at the
// cursor; completions on the object-storage path can arrive out of
// file-offset order, so the cursor only tracks a lower bound.
func (b *Batch) advanceUnfinished() {
	for b.unfinished < len(b.Tasks) && b.Tasks[b.unfinished].Finished() {
		b.unfinished++
	}
}

func (b *Batch) pushEvent(fileIndex, subIndex int, result respcode.Code, bytes int64) {
	b.responder.PushBytes(queue.Event{FileIndex: fileIndex, SubIndex: subIndex, Result: result}, bytes)
}
