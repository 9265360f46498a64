package pool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/streamer/pkg/streamer/internal/batch"
	"github.com/marmos91/streamer/pkg/streamer/internal/queue"
	"github.com/marmos91/streamer/pkg/streamer/internal/reader"
	"github.com/marmos91/streamer/pkg/streamer/internal/respcode"
	"github.com/marmos91/streamer/pkg/streamer/internal/task"
	"github.com/marmos91/streamer/pkg/streamer/internal/workload"
)

type fakeReader struct {
	data      []byte
	panicking bool
}

func (f *fakeReader) IsObjectStorage() bool { return false }
func (f *fakeReader) Close() error          { return nil }
func (f *fakeReader) Read(ctx context.Context, path string, rng reader.Range, dest []byte) (int64, respcode.Code) {
	if f.panicking {
		panic("simulated backend panic")
	}
	copy(dest, f.data[rng.Offset:rng.Offset+rng.Size])
	return rng.Size, respcode.Success
}
func (f *fakeReader) AsyncRead(context.Context, string, reader.Range, []byte, uint64) respcode.Code {
	panic("not supported")
}
func (f *fakeReader) AsyncResponse(context.Context) (reader.Completion, respcode.Code) {
	panic("not supported")
}

func newFilesystemWorkload(fr reader.Reader, responder *queue.Responder, size int64) *workload.Workload {
	dest := make([]byte, size)
	req := task.NewRequest(0, 0, 0, size, dest, 1)
	t := task.NewTask(req, 0, size, 0)

	w := workload.NewFilesystem(0, fr, size, nil)
	b := batch.New(0, 0, "/tmp/f", []*task.Task{t}, dest, responder, nil)
	_ = w.AddBatch(b)
	return w
}

func popEvent(t *testing.T, r *queue.Responder) queue.Event {
	t.Helper()
	done := make(chan queue.Event, 1)
	go func() { done <- r.Pop() }()
	select {
	case ev := <-done:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return queue.Event{}
	}
}

func TestPoolExecutesPushedWorkload(t *testing.T) {
	data := make([]byte, 1024)
	for i := range data {
		data[i] = byte(i)
	}

	responder := queue.NewResponder(1, nil)
	w := newFilesystemWorkload(&fakeReader{data: data}, responder, 1024)

	p := New(2, 4, nil)
	p.Push(w)

	ev := popEvent(t, responder)
	assert.Equal(t, respcode.Success, ev.Result)

	p.Stop()
}

func TestPoolRecoversFromPanickingWorkload(t *testing.T) {
	responder1 := queue.NewResponder(1, nil)
	panicky := newFilesystemWorkload(&fakeReader{panicking: true}, responder1, 512)

	data := make([]byte, 512)
	responder2 := queue.NewResponder(1, nil)
	healthy := newFilesystemWorkload(&fakeReader{data: data}, responder2, 512)

	p := New(1, 4, nil)
	p.Push(panicky)
	p.Push(healthy)

	// the panicking workload's sub-range is failed with UnknownError, and the
	// pool must still process the next queued workload rather than dying with it.
	ev := popEvent(t, responder2)
	assert.Equal(t, respcode.Success, ev.Result)

	p.Stop()
}

func TestStopIsIdempotent(t *testing.T) {
	p := New(2, 4, nil)
	p.Stop()
	require.NotPanics(t, func() { p.Stop() })
}
