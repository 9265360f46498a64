// Package gcs implements the object-storage backend adapter over Google
// Cloud Storage using cloud.google.com/go/storage.
package gcs

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/marmos91/streamer/internal/logger"
	"github.com/marmos91/streamer/pkg/metrics"
	"github.com/marmos91/streamer/pkg/streamer/internal/backend"
	"github.com/marmos91/streamer/pkg/streamer/internal/reader"
	"github.com/marmos91/streamer/pkg/streamer/internal/respcode"
)

// Backend opens GCS clients.
type Backend struct {
	metrics metrics.EngineMetrics
}

// New creates a GCS Backend. m may be nil (metrics disabled).
func New(m metrics.EngineMetrics) *Backend {
	return &Backend{metrics: m}
}

func (b *Backend) Kind() string { return "gcs" }

func (b *Backend) OpenClient(ctx context.Context, cfg backend.ClientConfig) (backend.Client, error) {
	var opts []option.ClientOption
	if credFile := cfg.Params["credential_file"]; credFile != "" {
		opts = append(opts, option.WithCredentialsFile(credFile))
	}

	api, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs: new client: %w", err)
	}

	return newClient(api, b.metrics), nil
}

type client struct {
	api     *storage.Client
	metrics metrics.EngineMetrics

	completions chan reader.Completion
	inFlight    atomic.Int64
	cancelled   atomic.Bool
	wg          sync.WaitGroup
}

func newClient(api *storage.Client, m metrics.EngineMetrics) *client {
	return &client{api: api, metrics: m, completions: make(chan reader.Completion, 256)}
}

func (c *client) IsObjectStorage() bool { return true }

func (c *client) Read(ctx context.Context, path string, rng reader.Range, dest []byte) (int64, respcode.Code) {
	panic("gcs.client: Read (synchronous) is not supported on the object-storage path")
}

func (c *client) AsyncRead(ctx context.Context, path string, rng reader.Range, dest []byte, globalID uint64) respcode.Code {
	if c.cancelled.Load() {
		return respcode.FinishedError
	}

	bucket, object, err := parsePath(path)
	if err != nil {
		return respcode.InvalidParameterError
	}

	c.inFlight.Add(1)
	c.wg.Add(1)
	go c.doRead(ctx, bucket, object, rng, dest, globalID)
	return respcode.Success
}

func (c *client) doRead(ctx context.Context, bucket, object string, rng reader.Range, dest []byte, globalID uint64) {
	defer c.wg.Done()
	defer c.inFlight.Add(-1)

	start := time.Now()
	r, err := c.api.Bucket(bucket).Object(object).NewRangeReader(ctx, rng.Offset, rng.Size)

	result := respcode.Success
	var n int64
	if err != nil {
		result = respcode.FileAccessError
		logger.Errorf("gcs: NewRangeReader %s/%s offset=%d size=%d failed: %v", bucket, object, rng.Offset, rng.Size, err)
	} else {
		defer r.Close()
		var nn int
		nn, err = io.ReadFull(r, dest[:rng.Size])
		n = int64(nn)
		if err != nil {
			result = respcode.EofError
		}
	}

	if c.metrics != nil {
		c.metrics.ObserveBackendOp("gcs", "NewRangeReader", time.Since(start), respcode.AsError(result))
		c.metrics.RecordBytesTransferred("gcs", n)
	}

	if c.cancelled.Load() {
		result = respcode.FinishedError
	}

	c.completions <- reader.Completion{GlobalID: globalID, Result: result, BytesRead: n}
}

func (c *client) AsyncResponse(ctx context.Context) (reader.Completion, respcode.Code) {
	// inFlight is decremented only after a read's completion has already
	// been pushed to completions (see doRead), so once it reaches zero with
	// the channel drained every issued read has been delivered, cancelled
	// or not.
	if c.inFlight.Load() == 0 && len(c.completions) == 0 {
		return reader.Completion{}, respcode.FinishedError
	}

	select {
	case comp := <-c.completions:
		return comp, respcode.Success
	case <-ctx.Done():
		return reader.Completion{}, respcode.FinishedError
	}
}

func (c *client) Cancel() { c.cancelled.Store(true) }

func (c *client) Close() error {
	c.wg.Wait()
	return c.api.Close()
}

func parsePath(path string) (bucket, object string, err error) {
	if !strings.HasPrefix(path, "gs://") {
		return "", "", fmt.Errorf("not a gcs uri: %s", path)
	}
	rest := strings.TrimPrefix(path, "gs://")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("malformed gcs uri: %s", path)
	}
	return parts[0], parts[1], nil
}
