// Package reader defines the Reader capability set a Batch drives: either
// a synchronous filesystem read or an asynchronous object-storage
// request/response pair. A concrete Reader implements only the half it
// supports; calling the other half is a programming error, matching the
// "tagged union, not real polymorphism" design of the backend it fronts.
package reader

import (
	"context"

	"github.com/marmos91/streamer/pkg/streamer/internal/respcode"
)

// Range is a byte range within one file.
type Range struct {
	Offset int64
	Size   int64
}

// Completion is one backend completion event, tagged with the GlobalID
// the engine stamped on the originating Task.
type Completion struct {
	GlobalID  uint64
	Result    respcode.Code
	BytesRead int64
}

// Reader is implemented once per backend kind (fs, s3, gcs, azure).
type Reader interface {
	// Read performs one synchronous read of rng from path into dest. Only
	// implemented by the filesystem reader.
	Read(ctx context.Context, path string, rng Range, dest []byte) (int64, respcode.Code)

	// AsyncRead starts one asynchronous read, tagging its completion with
	// globalID. Only implemented by object-storage readers.
	AsyncRead(ctx context.Context, path string, rng Range, dest []byte, globalID uint64) respcode.Code

	// AsyncResponse blocks for at least one completion (or returns
	// immediately with FinishedError once the reader has been cancelled
	// and no further completions will arrive).
	AsyncResponse(ctx context.Context) (Completion, respcode.Code)

	// IsObjectStorage reports which half of the capability set this
	// Reader actually implements.
	IsObjectStorage() bool

	// Close releases any backend resources (client handles) held by this
	// Reader.
	Close() error
}
