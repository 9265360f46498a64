package workload

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/streamer/pkg/streamer/internal/backend"
	"github.com/marmos91/streamer/pkg/streamer/internal/batch"
	"github.com/marmos91/streamer/pkg/streamer/internal/clientmgr"
	"github.com/marmos91/streamer/pkg/streamer/internal/queue"
	"github.com/marmos91/streamer/pkg/streamer/internal/reader"
	"github.com/marmos91/streamer/pkg/streamer/internal/respcode"
	"github.com/marmos91/streamer/pkg/streamer/internal/task"
)

// fakeFSReader is a minimal synchronous reader.Reader standing in for a
// real file for the filesystem-path tests.
type fakeFSReader struct {
	data []byte
}

func (f *fakeFSReader) IsObjectStorage() bool { return false }
func (f *fakeFSReader) Close() error          { return nil }
func (f *fakeFSReader) Read(ctx context.Context, path string, rng reader.Range, dest []byte) (int64, respcode.Code) {
	copy(dest, f.data[rng.Offset:rng.Offset+rng.Size])
	return rng.Size, respcode.Success
}
func (f *fakeFSReader) AsyncRead(context.Context, string, reader.Range, []byte, uint64) respcode.Code {
	panic("not supported")
}
func (f *fakeFSReader) AsyncResponse(context.Context) (reader.Completion, respcode.Code) {
	panic("not supported")
}

// fakeClient is an in-memory object-storage backend.Client double. A read
// whose path is in failPaths fails at issuance; everything else completes
// immediately (synchronously, ahead of any AsyncResponse call), matching a
// backend fast enough that every completion is already queued before the
// Workload's wait loop starts draining it.
type fakeClient struct {
	mu        sync.Mutex
	pending   []reader.Completion
	failPaths map[string]bool
}

func (c *fakeClient) IsObjectStorage() bool { return true }
func (c *fakeClient) Close() error          { return nil }
func (c *fakeClient) Cancel()               {}
func (c *fakeClient) Read(context.Context, string, reader.Range, []byte) (int64, respcode.Code) {
	panic("not supported")
}

func (c *fakeClient) AsyncRead(ctx context.Context, path string, rng reader.Range, dest []byte, globalID uint64) respcode.Code {
	if c.failPaths[path] {
		return respcode.FileAccessError
	}
	for i := range dest {
		dest[i] = byte(globalID)
	}
	c.mu.Lock()
	c.pending = append(c.pending, reader.Completion{GlobalID: globalID, Result: respcode.Success, BytesRead: rng.Size})
	c.mu.Unlock()
	return respcode.Success
}

func (c *fakeClient) AsyncResponse(ctx context.Context) (reader.Completion, respcode.Code) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) == 0 {
		return reader.Completion{}, respcode.FinishedError
	}
	comp := c.pending[0]
	c.pending = c.pending[1:]
	return comp, respcode.Success
}

type fakeBackend struct {
	kind    string
	client  backend.Client
	openErr error
}

func (b *fakeBackend) Kind() string { return b.kind }
func (b *fakeBackend) OpenClient(ctx context.Context, cfg backend.ClientConfig) (backend.Client, error) {
	if b.openErr != nil {
		return nil, b.openErr
	}
	return b.client, nil
}

// fakeMultiBackend opens a fresh fakeClient on every call, standing in for
// a real backend where each checkout is a distinct connection.
type fakeMultiBackend struct {
	kind string
}

func (b *fakeMultiBackend) Kind() string { return b.kind }
func (b *fakeMultiBackend) OpenClient(ctx context.Context, cfg backend.ClientConfig) (backend.Client, error) {
	return &fakeClient{}, nil
}

func singleTaskBatch(workerIdx, fileIdx int, path string, size int64, responder *queue.Responder) (*batch.Batch, []byte) {
	dest := make([]byte, size)
	req := task.NewRequest(fileIdx, 0, 0, size, dest, 1)
	t := task.NewTask(req, 0, size, 0)
	return batch.New(workerIdx, fileIdx, path, []*task.Task{t}, dest, responder, nil), dest
}

func TestExecuteFilesystemSingleBatch(t *testing.T) {
	data := make([]byte, 2048)
	for i := range data {
		data[i] = byte(i)
	}

	responder := queue.NewResponder(1, nil)
	b, dest := singleTaskBatch(0, 0, "/tmp/f", 2048, responder)

	w := NewFilesystem(0, &fakeFSReader{data: data}, 2048, nil)
	require.NoError(t, w.AddBatch(b))

	var stopped atomic.Bool
	require.NoError(t, w.Execute(context.Background(), &stopped))

	ev := responder.Pop()
	assert.Equal(t, respcode.Success, ev.Result)
	assert.Equal(t, data, dest)
}

func TestExecuteObjectStorageTwoFilesConcurrently(t *testing.T) {
	responder := queue.NewResponder(2, nil)
	b0, dest0 := singleTaskBatch(0, 0, "s3://bucket/a", 1024, responder)
	b1, dest1 := singleTaskBatch(0, 1, "s3://bucket/b", 2048, responder)

	fc := &fakeClient{}
	mgr := clientmgr.New()
	mgr.Register(&fakeBackend{kind: "s3", client: fc})

	var globalCounter atomic.Uint64
	w := NewObjectStorage(0, "s3", mgr, backend.ClientConfig{}, &globalCounter, nil)
	require.NoError(t, w.AddBatch(b0))
	require.NoError(t, w.AddBatch(b1))

	var stopped atomic.Bool
	require.NoError(t, w.Execute(context.Background(), &stopped))

	seen := map[int]respcode.Code{}
	for i := 0; i < 2; i++ {
		ev := responder.Pop()
		seen[ev.FileIndex] = ev.Result
	}
	assert.Equal(t, respcode.Success, seen[0])
	assert.Equal(t, respcode.Success, seen[1])
	assert.NotEmpty(t, dest0)
	assert.NotEmpty(t, dest1)
}

func TestExecuteObjectStoragePerFileErrorIsolation(t *testing.T) {
	responder := queue.NewResponder(2, nil)
	b0, _ := singleTaskBatch(0, 0, "s3://bucket/good", 1024, responder)
	b1, _ := singleTaskBatch(0, 1, "s3://bucket/bad", 1024, responder)

	fc := &fakeClient{failPaths: map[string]bool{"s3://bucket/bad": true}}
	mgr := clientmgr.New()
	mgr.Register(&fakeBackend{kind: "s3", client: fc})

	var globalCounter atomic.Uint64
	w := NewObjectStorage(0, "s3", mgr, backend.ClientConfig{}, &globalCounter, nil)
	require.NoError(t, w.AddBatch(b0))
	require.NoError(t, w.AddBatch(b1))

	var stopped atomic.Bool
	// A single failing file must not fail the whole Workload.
	require.NoError(t, w.Execute(context.Background(), &stopped))

	seen := map[int]respcode.Code{}
	for i := 0; i < 2; i++ {
		ev := responder.Pop()
		seen[ev.FileIndex] = ev.Result
	}
	assert.Equal(t, respcode.Success, seen[0])
	assert.Equal(t, respcode.FileAccessError, seen[1])
}

func TestExecuteObjectStorageConcurrentWorkloadsDoNotShareClient(t *testing.T) {
	// Two Workloads of the same backend kind running concurrently (as
	// happens when s3_concurrency spreads one aggregate request across
	// multiple workers) must each get their own client from the manager;
	// sharing one client's completions channel would misroute or drop
	// completions between them.
	mgr := clientmgr.New()
	mgr.Register(&fakeMultiBackend{kind: "s3"})

	responder := queue.NewResponder(2, nil)
	b0, _ := singleTaskBatch(0, 0, "s3://bucket/a", 1024, responder)
	b1, _ := singleTaskBatch(1, 1, "s3://bucket/b", 2048, responder)

	var globalCounter atomic.Uint64
	w0 := NewObjectStorage(0, "s3", mgr, backend.ClientConfig{}, &globalCounter, nil)
	require.NoError(t, w0.AddBatch(b0))
	w1 := NewObjectStorage(1, "s3", mgr, backend.ClientConfig{}, &globalCounter, nil)
	require.NoError(t, w1.AddBatch(b1))

	var stopped atomic.Bool
	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() { defer wg.Done(); errs[0] = w0.Execute(context.Background(), &stopped) }()
	go func() { defer wg.Done(); errs[1] = w1.Execute(context.Background(), &stopped) }()
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	seen := map[int]respcode.Code{}
	for i := 0; i < 2; i++ {
		ev := responder.Pop()
		seen[ev.FileIndex] = ev.Result
	}
	assert.Equal(t, respcode.Success, seen[0])
	assert.Equal(t, respcode.Success, seen[1])
}

func TestExecuteObjectStorageCheckoutFailure(t *testing.T) {
	responder := queue.NewResponder(1, nil)
	b0, _ := singleTaskBatch(0, 0, "s3://bucket/a", 1024, responder)

	mgr := clientmgr.New() // no backend registered for "s3"

	var globalCounter atomic.Uint64
	w := NewObjectStorage(0, "s3", mgr, backend.ClientConfig{}, &globalCounter, nil)
	require.NoError(t, w.AddBatch(b0))

	var stopped atomic.Bool
	err := w.Execute(context.Background(), &stopped)
	assert.Error(t, err)

	ev := responder.Pop()
	assert.Equal(t, respcode.FileAccessError, ev.Result)
}
