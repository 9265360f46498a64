// Package task implements Request and Task, the two leaf units the
// engine uses to track one caller-visible sub-range and the individual
// worker-owned reads that cover it.
package task

import (
	"sync/atomic"

	"github.com/marmos91/streamer/pkg/streamer/internal/respcode"
)

// Request is one caller-visible sub-range of one file. It is shared by
// every Task that covers it; its lifetime is the longest-living Task.
type Request struct {
	FileIndex int
	SubIndex  int
	Offset    int64
	Size      int64

	// Dest is the slice of the caller's host buffer this sub-range writes
	// into. Tasks index into it via their RelOffset.
	Dest []byte

	remaining atomic.Int32
	result    atomic.Int32
}

// NewRequest creates a Request expecting taskCount Task completions.
func NewRequest(fileIndex, subIndex int, offset, size int64, dest []byte, taskCount int) *Request {
	r := &Request{
		FileIndex: fileIndex,
		SubIndex:  subIndex,
		Offset:    offset,
		Size:      size,
		Dest:      dest,
	}
	r.remaining.Store(int32(taskCount))
	r.result.Store(int32(respcode.Success))
	return r
}

// Finished accounts for one Task completion. The first non-Success code
// observed becomes the Request's permanent result; later codes (success or
// failure) never overwrite it. Returns true when every Task of this
// Request has reported.
func (r *Request) Finished(result respcode.Code) bool {
	if result != respcode.Success {
		r.result.CompareAndSwap(int32(respcode.Success), int32(result))
	}
	return r.remaining.Add(-1) == 0
}

// Result returns the Request's current result code.
func (r *Request) Result() respcode.Code {
	return respcode.Code(r.result.Load())
}

// Task is one contiguous chunk handled by one worker, covering
// [Offset, End) of the owning file, which lies entirely within the
// owning Request's [Offset, Offset+Size) range.
type Task struct {
	Req *Request

	Offset    int64
	End       int64
	RelOffset int64

	// GlobalID is stamped by the owning Workload at execution time; it is
	// unique across all outstanding tasks in the process and is the id the
	// object-storage backend tags completions with.
	GlobalID uint64

	finished atomic.Bool
}

// NewTask creates a Task covering [offset, end) of its Request's file,
// writing to the Request's destination window starting at relOffset.
func NewTask(req *Request, offset, end, relOffset int64) *Task {
	return &Task{Req: req, Offset: offset, End: end, RelOffset: relOffset}
}

// Finished reports whether this Task has already reported a completion.
func (t *Task) Finished() bool { return t.finished.Load() }

// Size returns the number of bytes this Task covers.
func (t *Task) Size() int64 { return t.End - t.Offset }

// Destination returns the slice of the Request's buffer this Task writes
// into.
func (t *Task) Destination() []byte {
	return t.Req.Dest[t.RelOffset : t.RelOffset+t.Size()]
}

// FinishedRequest is a one-shot wrapper around Request.Finished: it
// ignores a second call for the same Task (double-callbacks from a
// backend, or an error path re-visiting an already-completed Task) and
// otherwise reports the result to the owning Request. It returns true
// when the owning Request is now complete.
func (t *Task) FinishedRequest(result respcode.Code) bool {
	if t.finished.Swap(true) {
		return false
	}
	return t.Req.Finished(result)
}
