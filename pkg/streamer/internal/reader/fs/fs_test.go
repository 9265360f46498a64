package fs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/streamer/pkg/streamer/internal/reader"
	"github.com/marmos91/streamer/pkg/streamer/internal/respcode"
)

func writeTempFile(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.bin")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestReadExactRange(t *testing.T) {
	data := make([]byte, 4096)
	for i := range data {
		data[i] = byte(i)
	}
	path := writeTempFile(t, data)

	r := New(false)
	dest := make([]byte, 1024)
	n, code := r.Read(context.Background(), path, reader.Range{Offset: 1024, Size: 1024}, dest)

	require.Equal(t, respcode.Success, code)
	assert.Equal(t, int64(1024), n)
	assert.Equal(t, data[1024:2048], dest)
}

func TestReadTruncatedFileReportsEofError(t *testing.T) {
	data := make([]byte, 512)
	path := writeTempFile(t, data)

	r := New(false)
	dest := make([]byte, 1024)
	n, code := r.Read(context.Background(), path, reader.Range{Offset: 0, Size: 1024}, dest)

	assert.Equal(t, respcode.EofError, code)
	assert.Equal(t, int64(512), n)
}

func TestReadNonexistentFileReportsFileAccessError(t *testing.T) {
	r := New(false)
	dest := make([]byte, 16)
	_, code := r.Read(context.Background(), filepath.Join(t.TempDir(), "missing.bin"), reader.Range{Offset: 0, Size: 16}, dest)
	assert.Equal(t, respcode.FileAccessError, code)
}

func TestReadAtNonZeroOffsetSeeksFirst(t *testing.T) {
	data := make([]byte, 8192)
	for i := range data {
		data[i] = byte(i % 251)
	}
	path := writeTempFile(t, data)

	r := New(false)
	dest := make([]byte, 2048)
	n, code := r.Read(context.Background(), path, reader.Range{Offset: 6144, Size: 2048}, dest)

	require.Equal(t, respcode.Success, code)
	assert.Equal(t, int64(2048), n)
	assert.Equal(t, data[6144:8192], dest)
}

func TestIsObjectStorageFalse(t *testing.T) {
	r := New(false)
	assert.False(t, r.IsObjectStorage())
	assert.NoError(t, r.Close())
}
