// Package clientmgr implements the Client Manager: a process-wide pool of
// backend client handles keyed by credentials, with checkout/release and
// staleness invalidation when credentials rotate.
package clientmgr

import (
	"context"
	"fmt"
	"sync"

	"github.com/marmos91/streamer/pkg/streamer/internal/backend"
)

type entry struct {
	client      backend.Client
	fingerprint string
}

// Manager pools idle Clients per backend kind ("s3", "gcs", "azure"),
// keyed by credential fingerprint. Checkout hands out an exclusive Client
// to its caller — never one already checked out elsewhere — opening a new
// one when the pool for that kind is empty or its credentials have
// rotated; Release returns the Client for reuse by the next Checkout.
//
// Concurrent Workloads of the same kind therefore never contend over one
// Client's internal completion stream: each holds its own until Release.
type Manager struct {
	mu          sync.Mutex
	backends    map[string]backend.Backend
	available   map[string][]*entry
	fingerprint map[string]string         // credential fingerprint currently in use, by kind
	checkedOut  map[backend.Client]string // fingerprint each outstanding client was opened under
}

// New creates an empty Manager. Backends must be registered via Register
// before Checkout can open clients for their kind.
func New() *Manager {
	return &Manager{
		backends:    make(map[string]backend.Backend),
		available:   make(map[string][]*entry),
		fingerprint: make(map[string]string),
		checkedOut:  make(map[backend.Client]string),
	}
}

// Register makes b available under b.Kind().
func (m *Manager) Register(b backend.Backend) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backends[b.Kind()] = b
}

// Checkout hands the caller an idle Client for kind whose credentials
// match cfg, or opens a fresh one if the pool is empty. If cfg's
// credentials differ from the fingerprint currently in use for kind, every
// idle Client pooled under the old fingerprint is closed and discarded
// first. The returned Client is exclusively the caller's until Release.
func (m *Manager) Checkout(ctx context.Context, kind string, cfg backend.ClientConfig) (backend.Client, error) {
	fp := backend.CredentialFingerprint(cfg)

	m.mu.Lock()
	if cur, ok := m.fingerprint[kind]; ok && cur != fp {
		stale := m.available[kind]
		delete(m.available, kind)
		delete(m.fingerprint, kind)
		m.mu.Unlock()
		for _, e := range stale {
			_ = e.client.Close()
		}
		m.mu.Lock()
	}

	if pool := m.available[kind]; len(pool) > 0 {
		last := len(pool) - 1
		e := pool[last]
		m.available[kind] = pool[:last]
		m.checkedOut[e.client] = e.fingerprint
		m.mu.Unlock()
		return e.client, nil
	}

	b, ok := m.backends[kind]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("clientmgr: no backend registered for kind %q", kind)
	}

	client, err := b.OpenClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("clientmgr: open client for %q: %w", kind, err)
	}

	m.mu.Lock()
	m.fingerprint[kind] = fp
	m.checkedOut[client] = fp
	m.mu.Unlock()

	return client, nil
}

// Release returns a Client previously obtained from Checkout to the pool
// for kind, making it available to the next Checkout call. The fingerprint
// c was opened under is compared against kind's current fingerprint (which
// may have rotated since the checkout); a client whose credentials are no
// longer current is closed instead of pooled.
func (m *Manager) Release(kind string, c backend.Client) {
	m.mu.Lock()
	openedFP, tracked := m.checkedOut[c]
	delete(m.checkedOut, c)
	cur, ok := m.fingerprint[kind]
	stillCurrent := tracked && ok && openedFP == cur
	if stillCurrent {
		m.available[kind] = append(m.available[kind], &entry{client: c, fingerprint: openedFP})
	}
	m.mu.Unlock()

	if !stillCurrent {
		_ = c.Close()
	}
}

// CloseAll closes every pooled idle client, used at process shutdown.
// Clients still checked out (not yet Released) are the caller's
// responsibility to close.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	available := m.available
	m.available = make(map[string][]*entry)
	m.fingerprint = make(map[string]string)
	m.checkedOut = make(map[backend.Client]string)
	m.mu.Unlock()

	var firstErr error
	for _, pool := range available {
		for _, e := range pool {
			if err := e.client.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
