// Package azure implements the object-storage backend adapter over Azure
// Blob Storage using the azblob/azcore/azidentity SDKs.
package azure

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"

	"github.com/marmos91/streamer/internal/logger"
	"github.com/marmos91/streamer/pkg/metrics"
	"github.com/marmos91/streamer/pkg/streamer/internal/backend"
	"github.com/marmos91/streamer/pkg/streamer/internal/reader"
	"github.com/marmos91/streamer/pkg/streamer/internal/respcode"
)

// Backend opens Azure Blob clients.
type Backend struct {
	metrics metrics.EngineMetrics
}

// New creates an Azure Backend. m may be nil (metrics disabled).
func New(m metrics.EngineMetrics) *Backend {
	return &Backend{metrics: m}
}

func (b *Backend) Kind() string { return "azure" }

func (b *Backend) OpenClient(ctx context.Context, cfg backend.ClientConfig) (backend.Client, error) {
	accountName := cfg.Params["account_name"]
	endpoint := cfg.EndpointURL
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.blob.core.windows.net/", accountName)
	}

	var api *azblob.Client
	var err error
	if connStr := cfg.Params["connection_string"]; connStr != "" {
		api, err = azblob.NewClientFromConnectionString(connStr, nil)
	} else {
		var cred azcore.TokenCredential
		cred, err = azidentity.NewDefaultAzureCredential(nil)
		if err == nil {
			api, err = azblob.NewClient(endpoint, cred, nil)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("azure: new client: %w", err)
	}

	return newClient(api, b.metrics), nil
}

type client struct {
	api     *azblob.Client
	metrics metrics.EngineMetrics

	completions chan reader.Completion
	inFlight    atomic.Int64
	cancelled   atomic.Bool
	wg          sync.WaitGroup
}

func newClient(api *azblob.Client, m metrics.EngineMetrics) *client {
	return &client{api: api, metrics: m, completions: make(chan reader.Completion, 256)}
}

func (c *client) IsObjectStorage() bool { return true }

func (c *client) Read(ctx context.Context, path string, rng reader.Range, dest []byte) (int64, respcode.Code) {
	panic("azure.client: Read (synchronous) is not supported on the object-storage path")
}

func (c *client) AsyncRead(ctx context.Context, path string, rng reader.Range, dest []byte, globalID uint64) respcode.Code {
	if c.cancelled.Load() {
		return respcode.FinishedError
	}

	container, name, err := parsePath(path)
	if err != nil {
		return respcode.InvalidParameterError
	}

	c.inFlight.Add(1)
	c.wg.Add(1)
	go c.doRead(ctx, container, name, rng, dest, globalID)
	return respcode.Success
}

func (c *client) doRead(ctx context.Context, container, name string, rng reader.Range, dest []byte, globalID uint64) {
	defer c.wg.Done()
	defer c.inFlight.Add(-1)

	start := time.Now()
	count := rng.Size
	resp, err := c.api.DownloadStream(ctx, container, name, &azblob.DownloadStreamOptions{
		Range: blob.HTTPRange{Offset: rng.Offset, Count: count},
	})

	result := respcode.Success
	var n int64
	if err != nil {
		result = respcode.FileAccessError
		logger.Errorf("azure: DownloadStream %s/%s offset=%d size=%d failed: %v", container, name, rng.Offset, rng.Size, err)
	} else {
		body := resp.Body
		defer body.Close()
		var nn int
		nn, err = io.ReadFull(body, dest[:rng.Size])
		n = int64(nn)
		if err != nil {
			result = respcode.EofError
		}
	}

	if c.metrics != nil {
		c.metrics.ObserveBackendOp("azure", "DownloadStream", time.Since(start), respcode.AsError(result))
		c.metrics.RecordBytesTransferred("azure", n)
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
	return nil
}

// parsePath accepts both azure://container/blob and
// https://<account>.blob.core.windows.net/container/blob forms.
func parsePath(path string) (container, name string, err error) {
	var rest string
	switch {
	case strings.HasPrefix(path, "azure://"):
		rest = strings.TrimPrefix(path, "azure://")
	case strings.HasPrefix(path, "https://") && strings.Contains(path, ".blob.core.windows.net/"):
		idx := strings.Index(path, ".blob.core.windows.net/")
		rest = path[idx+len(".blob.core.windows.net/"):]
	default:
		return "", "", fmt.Errorf("not an azure blob uri: %s", path)
	}

	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("malformed azure blob uri: %s", path)
	}
	return parts[0], parts[1], nil
}
