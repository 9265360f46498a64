// Package backend defines the pluggable backend adapter contract (§6):
// a uniform async-read / wait-for-completions interface implemented once
// per storage technology (S3, GCS, Azure). The filesystem path does not
// implement this interface — it is synchronous and handled directly by
// pkg/streamer/internal/reader/fs.
package backend

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/marmos91/streamer/pkg/streamer/internal/reader"
)

// ClientConfig mirrors the original `client_config` record: an endpoint,
// free-form key/value credential parameters, and sizing hints.
type ClientConfig struct {
	EndpointURL             string
	Params                  map[string]string
	DefaultStorageChunkSize int64
	MaxConcurrency          int
}

// Client is one opened, credentialed handle to an object-storage backend.
// It is the thing the Client Manager caches and hands out to Workloads.
type Client interface {
	reader.Reader

	// Cancel makes later AsyncRead calls fail with FinishedError; reads
	// already outstanding are not interrupted, run to completion, and are
	// reported with FinishedError. AsyncResponse returns FinishedError once
	// every issued read has been drained.
	Cancel()
}

// Backend opens Clients for one storage technology.
type Backend interface {
	// Kind is the short backend name used in metrics and logs: "s3",
	// "gcs", "azure".
	Kind() string

	// OpenClient creates (or the concrete backend may choose to reuse) a
	// credentialed client for cfg.
	OpenClient(ctx context.Context, cfg ClientConfig) (Client, error)
}

// CredentialFingerprint derives a stable cache key from a ClientConfig's
// endpoint and credential parameters, used by the Client Manager to key
// its cache without storing secrets as map keys verbatim.
func CredentialFingerprint(cfg ClientConfig) string {
	h := sha256.New()
	h.Write([]byte(cfg.EndpointURL + "|"))
	for _, k := range []string{"access_key_id", "account_name", "region", "session_token"} {
		h.Write([]byte(k + "=" + cfg.Params[k] + ";"))
	}
	return hex.EncodeToString(h.Sum(nil))
}
