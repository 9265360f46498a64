// Package fs implements the synchronous filesystem half of the Reader
// capability set. It is the only Reader that does not go through the
// pluggable backend ABI: a worker calls Read directly on its own goroutine
// and blocks inside the kernel read call.
package fs

import (
	"context"
	"errors"
	"io"
	"os"
	"runtime"

	"github.com/marmos91/streamer/pkg/bufpool"
	"github.com/marmos91/streamer/pkg/streamer/internal/reader"
	"github.com/marmos91/streamer/pkg/streamer/internal/respcode"
)

// directAlignment is the block alignment O_DIRECT reads require on Linux.
// A caller's destination window is offset into a much larger host buffer
// and is not guaranteed to start on a 512-byte boundary, so direct reads
// land in a pooled staging buffer first and are copied into dest.
const directAlignment = 512

// Reader opens files on demand and serves synchronous range reads.
// One Reader is constructed per Streamer and shared by all of its
// filesystem Workloads; it keeps no per-file state and opens the file on
// every Read.
type Reader struct {
	directIO bool
}

// New creates a filesystem Reader. directIO requests O_DIRECT on Linux
// when RUNAI_STREAMER_DIRECTIO=1 was set; platforms or filesystems that
// reject the flag fall back to buffered I/O silently.
func New(directIO bool) *Reader {
	return &Reader{directIO: directIO}
}

func (r *Reader) IsObjectStorage() bool { return false }

func (r *Reader) Close() error { return nil }

// Read opens path, seeks to rng.Offset, and reads exactly rng.Size bytes
// into dest. A short read is reported as EofError; any other failure to
// open or read is FileAccessError.
func (r *Reader) Read(ctx context.Context, path string, rng reader.Range, dest []byte) (int64, respcode.Code) {
	f, direct, code := r.open(path)
	if code != respcode.Success {
		return 0, code
	}
	defer f.Close()

	if _, err := f.Seek(rng.Offset, io.SeekStart); err != nil {
		return 0, respcode.FileAccessError
	}

	if !direct {
		return readInto(f, dest[:rng.Size])
	}
	return r.readDirect(f, dest[:rng.Size])
}

// readDirect stages the read through a pooled, alignment-sized buffer:
// O_DIRECT requires the kernel's destination buffer length to be a
// multiple of the device block size, which a caller's arbitrary sub-range
// length is not guaranteed to be.
func (r *Reader) readDirect(f *os.File, dest []byte) (int64, respcode.Code) {
	staged := alignUp(len(dest), directAlignment)
	buf := bufpool.Get(staged)
	defer bufpool.Put(buf)

	n, code := readInto(f, buf)
	if code != respcode.Success && code != respcode.EofError {
		return n, code
	}
	copied := n
	if copied > int64(len(dest)) {
		copied = int64(len(dest))
	}
	copy(dest, buf[:copied])
	if copied < int64(len(dest)) {
		return copied, respcode.EofError
	}
	return copied, respcode.Success
}

func readInto(f *os.File, dest []byte) (int64, respcode.Code) {
	n, err := io.ReadFull(f, dest)
	switch {
	case err == nil:
		return int64(n), respcode.Success
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		return int64(n), respcode.EofError
	default:
		return int64(n), respcode.FileAccessError
	}
}

func alignUp(n, align int) int {
	if n%align == 0 {
		return n
	}
	return (n/align + 1) * align
}

func (r *Reader) open(path string) (*os.File, bool, respcode.Code) {
	flags := os.O_RDONLY
	if r.directIO && runtime.GOOS == "linux" {
		if f, code := openDirect(path, flags); code == respcode.Success {
			return f, true, code
		}
		// fall through to buffered open; direct I/O is a best-effort hint
	}

	f, err := os.OpenFile(path, flags, 0)
	if err != nil {
		return nil, false, respcode.FileAccessError
	}
	return f, false, respcode.Success
}

func (r *Reader) AsyncRead(ctx context.Context, path string, rng reader.Range, dest []byte, globalID uint64) respcode.Code {
	panic("fs.Reader: AsyncRead is not supported on the synchronous filesystem path")
}

func (r *Reader) AsyncResponse(ctx context.Context) (reader.Completion, respcode.Code) {
	panic("fs.Reader: AsyncResponse is not supported on the synchronous filesystem path")
}
