// Package s3 implements the object-storage backend adapter over
// AWS S3 (and S3-compatible endpoints) using aws-sdk-go-v2.
package s3

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/marmos91/streamer/internal/logger"
	"github.com/marmos91/streamer/pkg/metrics"
	"github.com/marmos91/streamer/pkg/streamer/internal/backend"
	"github.com/marmos91/streamer/pkg/streamer/internal/reader"
	"github.com/marmos91/streamer/pkg/streamer/internal/respcode"
)

// Backend opens S3 clients. It is stateless; all per-credential caching
// happens one layer up in clientmgr.
type Backend struct {
	metrics metrics.EngineMetrics
}

// New creates an S3 Backend. m may be nil (metrics disabled).
func New(m metrics.EngineMetrics) *Backend {
	return &Backend{metrics: m}
}

func (b *Backend) Kind() string { return "s3" }

func (b *Backend) OpenClient(ctx context.Context, cfg backend.ClientConfig) (backend.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region, ok := cfg.Params["region"]; ok && region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if ak, sk := cfg.Params["access_key_id"], cfg.Params["secret_access_key"]; ak != "" && sk != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(ak, sk, cfg.Params["session_token"]),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3: load config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
		}
		if v := cfg.Params["use_virtual_addressing"]; v == "false" {
			o.UsePathStyle = true
		}
	})

	return newClient(client, b.metrics), nil
}

type pendingRead struct {
	path     string
	rng      reader.Range
	dest     []byte
	globalID uint64
}

type client struct {
	api     *s3.Client
	metrics metrics.EngineMetrics

	completions chan reader.Completion
	inFlight    atomic.Int64
	cancelled   atomic.Bool

	wg sync.WaitGroup
}

func newClient(api *s3.Client, m metrics.EngineMetrics) *client {
	return &client{
		api:         api,
		metrics:     m,
		completions: make(chan reader.Completion, 256),
	}
}

func (c *client) IsObjectStorage() bool { return true }

func (c *client) Read(ctx context.Context, path string, rng reader.Range, dest []byte) (int64, respcode.Code) {
	panic("s3.client: Read (synchronous) is not supported on the object-storage path")
}

func (c *client) AsyncRead(ctx context.Context, path string, rng reader.Range, dest []byte, globalID uint64) respcode.Code {
	if c.cancelled.Load() {
		return respcode.FinishedError
	}

	bucket, key, err := parsePath(path)
	if err != nil {
		return respcode.InvalidParameterError
	}

	c.inFlight.Add(1)
	c.wg.Add(1)
	go c.doRead(ctx, bucket, key, rng, dest, globalID)
	return respcode.Success
}

func (c *client) doRead(ctx context.Context, bucket, key string, rng reader.Range, dest []byte, globalID uint64) {
	defer c.wg.Done()
	defer c.inFlight.Add(-1)

	start := time.Now()
	rangeHeader := fmt.Sprintf("bytes=%d-%d", rng.Offset, rng.Offset+rng.Size-1)

	out, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Range:  aws.String(rangeHeader),
	})

	result := respcode.Success
	var n int64
	if err != nil {
		result = respcode.FileAccessError
		logger.Errorf("s3: GetObject %s/%s range %s failed: %v", bucket, key, rangeHeader, err)
	} else {
		defer out.Body.Close()
		var nn int
		nn, err = io.ReadFull(out.Body, dest[:rng.Size])
		n = int64(nn)
		if err != nil {
			result = respcode.EofError
		}
	}

	if c.metrics != nil {
		c.metrics.ObserveBackendOp("s3", "GetObject", time.Since(start), respcode.AsError(result))
		c.metrics.RecordBytesTransferred("s3", n)
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

func (c *client) Cancel() {
	c.cancelled.Store(true)
}

func (c *client) Close() error {
	c.wg.Wait()
	return nil
}

func parsePath(path string) (bucket, key string, err error) {
	if !strings.HasPrefix(path, "s3://") {
		return "", "", fmt.Errorf("not an s3 uri: %s", path)
	}
	u, err := url.Parse(path)
	if err != nil {
		return "", "", err
	}
	return u.Host, strings.TrimPrefix(u.Path, "/"), nil
}

