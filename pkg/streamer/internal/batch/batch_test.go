package batch

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/streamer/pkg/streamer/internal/assign"
	"github.com/marmos91/streamer/pkg/streamer/internal/queue"
	"github.com/marmos91/streamer/pkg/streamer/internal/reader"
	"github.com/marmos91/streamer/pkg/streamer/internal/respcode"
)

// fakeFSReader serves reads from an in-memory byte slice, standing in for
// a real file; truncated reports EofError past truncateAt.
type fakeFSReader struct {
	data        []byte
	truncateAt  int64
	failAtRange *reader.Range
}

func (f *fakeFSReader) IsObjectStorage() bool { return false }
func (f *fakeFSReader) Close() error          { return nil }

func (f *fakeFSReader) Read(ctx context.Context, path string, rng reader.Range, dest []byte) (int64, respcode.Code) {
	if f.failAtRange != nil && rng.Offset == f.failAtRange.Offset {
		return 0, respcode.FileAccessError
	}
	end := rng.Offset + rng.Size
	limit := int64(len(f.data))
	if f.truncateAt > 0 {
		limit = f.truncateAt
	}
	if end > limit {
		n := limit - rng.Offset
		if n < 0 {
			n = 0
		}
		copy(dest, f.data[rng.Offset:rng.Offset+n])
		return n, respcode.EofError
	}
	copy(dest, f.data[rng.Offset:end])
	return rng.Size, respcode.Success
}

func (f *fakeFSReader) AsyncRead(ctx context.Context, path string, rng reader.Range, dest []byte, globalID uint64) respcode.Code {
	panic("not supported")
}
func (f *fakeFSReader) AsyncResponse(ctx context.Context) (reader.Completion, respcode.Code) {
	panic("not supported")
}

func makeFile(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i)
	}
	return data
}

func TestSplitAndExecuteSingleSubRange(t *testing.T) {
	data := makeFile(4096)
	dest := make([]byte, 4096)

	plan, err := assign.Plan([]string{"/f"}, []int64{0}, []int64{4096}, [][]byte{dest},
		assign.Config{Concurrency: 2, S3Concurrency: 2, FSBlockBytesize: 2048, S3BlockBytesize: 2048})
	require.NoError(t, err)

	responder := queue.NewResponder(1, nil)
	batches, err := Split(0, plan.ByFile[0], []int64{4096}, "/f", dest, responder, nil)
	require.NoError(t, err)
	assert.Len(t, batches, 2) // two workers, each 2048 bytes

	fsReader := &fakeFSReader{data: data}
	var stopped atomic.Bool
	for _, b := range batches {
		require.NoError(t, b.Execute(context.Background(), fsReader, 2048, &stopped))
	}

	ev := responder.Pop()
	assert.Equal(t, respcode.Success, ev.Result)
	assert.Equal(t, 0, ev.SubIndex)
	assert.Equal(t, data, dest)
}

func TestSplitThreeSubRangesSingleWorker(t *testing.T) {
	data := makeFile(3000)
	dest := make([]byte, 3000)

	plan, err := assign.Plan([]string{"/f"}, []int64{0}, []int64{3000}, [][]byte{dest},
		assign.Config{Concurrency: 1, S3Concurrency: 1, FSBlockBytesize: 4096, S3BlockBytesize: 4096})
	require.NoError(t, err)

	responder := queue.NewResponder(3, nil)
	batches, err := Split(0, plan.ByFile[0], []int64{1000, 1000, 1000}, "/f", dest, responder, nil)
	require.NoError(t, err)
	require.Len(t, batches, 1)

	fsReader := &fakeFSReader{data: data}
	var stopped atomic.Bool
	require.NoError(t, batches[0].Execute(context.Background(), fsReader, 4096, &stopped))

	for i := 0; i < 3; i++ {
		ev := responder.Pop()
		assert.Equal(t, respcode.Success, ev.Result)
		assert.Equal(t, i, ev.SubIndex)
	}
	assert.Equal(t, data, dest)
}

func TestExecuteTruncatedFileReportsEofError(t *testing.T) {
	data := makeFile(4096)
	dest := make([]byte, 4096)

	plan, err := assign.Plan([]string{"/f"}, []int64{0}, []int64{4096}, [][]byte{dest},
		assign.Config{Concurrency: 1, S3Concurrency: 1, FSBlockBytesize: 4096, S3BlockBytesize: 4096})
	require.NoError(t, err)

	responder := queue.NewResponder(1, nil)
	batches, err := Split(0, plan.ByFile[0], []int64{4096}, "/f", dest, responder, nil)
	require.NoError(t, err)
	require.Len(t, batches, 1)

	fsReader := &fakeFSReader{data: data, truncateAt: 2048}
	var stopped atomic.Bool
	err = batches[0].Execute(context.Background(), fsReader, 4096, &stopped)
	assert.Error(t, err)

	ev := responder.Pop()
	assert.Equal(t, respcode.EofError, ev.Result)
}

func TestSplitWithoutSpansReturnsNoBatches(t *testing.T) {
	responder := queue.NewResponder(1, nil)
	batches, err := Split(0, nil, []int64{0}, "/f", nil, responder, nil)
	require.NoError(t, err)
	assert.Nil(t, batches)
}

func TestSplitTrailingZeroSizeSubRangeAfterSpansExhausted(t *testing.T) {
	data := makeFile(2048)
	dest := make([]byte, 2048)

	plan, err := assign.Plan([]string{"/f"}, []int64{0}, []int64{2048}, [][]byte{dest},
		assign.Config{Concurrency: 1, S3Concurrency: 1, FSBlockBytesize: 4096, S3BlockBytesize: 4096})
	require.NoError(t, err)
	require.Len(t, plan.ByFile[0], 1) // single worker, single span covering the whole file

	responder := queue.NewResponder(2, nil)
	batches, err := Split(0, plan.ByFile[0], []int64{2048, 0}, "/f", dest, responder, nil)
	require.NoError(t, err) // must not panic indexing spans past the last one
	require.Len(t, batches, 1)

	fsReader := &fakeFSReader{data: data}
	var stopped atomic.Bool
	require.NoError(t, batches[0].Execute(context.Background(), fsReader, 4096, &stopped))

	first := responder.Pop()
	assert.Equal(t, 0, first.SubIndex)
	assert.Equal(t, respcode.Success, first.Result)

	second := responder.Pop()
	assert.Equal(t, 1, second.SubIndex)
	assert.Equal(t, respcode.Success, second.Result)
	assert.Equal(t, data, dest)
}

func TestHandleErrorFailsRemainingTasks(t *testing.T) {
	data := makeFile(2048)
	dest := make([]byte, 2048)

	plan, err := assign.Plan([]string{"/f"}, []int64{0}, []int64{2048}, [][]byte{dest},
		assign.Config{Concurrency: 1, S3Concurrency: 1, FSBlockBytesize: 4096, S3BlockBytesize: 4096})
	require.NoError(t, err)

	responder := queue.NewResponder(2, nil)
	batches, err := Split(0, plan.ByFile[0], []int64{1024, 1024}, "/f", dest, responder, nil)
	require.NoError(t, err)
	require.Len(t, batches, 1)

	batches[0].HandleError(respcode.FinishedError)

	seen := 0
	for seen < 2 {
		ev := responder.Pop()
		require.NotEqual(t, respcode.FinishedError, respcode.Success) // sanity no-op
		assert.Equal(t, respcode.FinishedError, ev.Result)
		seen++
	}
}
