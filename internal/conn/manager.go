// Package conn owns gateway connection lifecycle. Managers are memoized by
// endpoint, serialize connect and disconnect, and carry the snapshot cache
// that the read services share.
package conn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/FeanorKingofNoldor/khazad-dum/internal/domain"
	"github.com/FeanorKingofNoldor/khazad-dum/internal/venue"
)

// ErrNotConnected is returned by session-scoped operations when the
// manager has no live session and connecting is not requested.
var ErrNotConnected = errors.New("not connected")

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

var (
	registryMu sync.Mutex
	registry   = make(map[venue.Endpoint]*Manager)
)

// Options tunes a Manager. Zero values take the defaults below.
type Options struct {
	CacheTTL          time.Duration // default 60s
	ConnectTimeout    time.Duration // default 30s
	DisconnectTimeout time.Duration // default 10s
}

func (o Options) withDefaults() Options {
	if o.CacheTTL == 0 {
		o.CacheTTL = 60 * time.Second
	}
	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = 30 * time.Second
	}
	if o.DisconnectTimeout == 0 {
		o.DisconnectTimeout = 10 * time.Second
	}
	return o
}

// Get returns the Manager for the endpoint, creating it on first use.
// Every caller asking for the same host, port, and client id shares one
// Manager and therefore one session and one cache. The dialer and options
// of the first call win; later calls for the same endpoint ignore theirs.
func Get(ep venue.Endpoint, dialer venue.Dialer, opts Options) *Manager {
	registryMu.Lock()
	defer registryMu.Unlock()

	if m, ok := registry[ep]; ok {
		return m
	}

	opts = opts.withDefaults()
	m := &Manager{
		ep:                ep,
		dialer:            dialer,
		connectTimeout:    opts.ConnectTimeout,
		disconnectTimeout: opts.DisconnectTimeout,
		cache:             newSnapshotCache(opts.CacheTTL),
		log: slog.Default().With(
			"component", "conn",
			"host", ep.Host,
			"port", ep.Port,
			"clientId", ep.ClientID,
		),
	}
	registry[ep] = m
	return m
}

// Reset drops all managers from the registry, disconnecting any that are
// connected. Intended for tests.
func Reset() {
	registryMu.Lock()
	managers := make([]*Manager, 0, len(registry))
	for _, m := range registry {
		managers = append(managers, m)
	}
	registry = make(map[venue.Endpoint]*Manager)
	registryMu.Unlock()

	ctx := context.Background()
	for _, m := range managers {
		_ = m.Disconnect(ctx)
	}
}

// ---------------------------------------------------------------------------
// Manager
// ---------------------------------------------------------------------------

// Manager owns one gateway connection: its session, its lifecycle locking,
// and its snapshot cache. All methods are safe for concurrent use.
type Manager struct {
	ep                venue.Endpoint
	dialer            venue.Dialer
	connectTimeout    time.Duration
	disconnectTimeout time.Duration
	cache             *snapshotCache
	log               *slog.Logger

	mu      sync.RWMutex
	session venue.Session
}

// Endpoint returns the endpoint this manager serves.
func (m *Manager) Endpoint() venue.Endpoint { return m.ep }

// SessionKind names the trading environment, "LIVE" or "PAPER".
func (m *Manager) SessionKind() string {
	if m.ep.Live() {
		return "LIVE"
	}
	return "PAPER"
}

// Connected reports whether a live session is held.
func (m *Manager) Connected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session != nil
}

// Connect establishes the session if one is not already held. Concurrent
// callers are serialized; only one dial happens and the rest observe its
// result. The dial is bounded by the connect timeout.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.RLock()
	if m.session != nil {
		m.mu.RUnlock()
		return nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Re-check under the write lock; another caller may have connected.
	if m.session != nil {
		return nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, m.connectTimeout)
	defer cancel()

	sess, err := m.dialer.Dial(dialCtx, m.ep)
	if err != nil {
		m.log.Error("connect failed", "error", err)
		return fmt.Errorf("connecting to %s:%d: %w", m.ep.Host, m.ep.Port, err)
	}

	m.session = sess
	m.log.Info("connected", "kind", m.SessionKind())
	return nil
}

// Disconnect closes the session if one is held and clears the cache.
// Disconnecting an already-disconnected manager is a no-op. The close is
// bounded by the disconnect timeout; the session is dropped even when the
// close reports an error.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return nil
	}

	closeCtx, cancel := context.WithTimeout(ctx, m.disconnectTimeout)
	defer cancel()

	err := m.session.Close(closeCtx)
	m.session = nil
	m.cache.clear()

	if err != nil {
		m.log.Warn("session close failed", "error", err)
		return fmt.Errorf("closing session: %w", err)
	}
	m.log.Info("disconnected")
	return nil
}

// WithSession runs fn against a live session, connecting first when
// necessary. The session is guaranteed to stay held for the duration of fn;
// a disconnect issued concurrently waits until fn returns.
func (m *Manager) WithSession(ctx context.Context, fn func(venue.Session) error) error {
	if err := m.Connect(ctx); err != nil {
		return err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.session == nil {
		return ErrNotConnected
	}
	return fn(m.session)
}

// Info describes the connection state for diagnostics.
func (m *Manager) Info() domain.ConnectionInfo {
	return domain.ConnectionInfo{
		Connected:   m.Connected(),
		SessionKind: m.SessionKind(),
		Host:        m.ep.Host,
		Port:        m.ep.Port,
		ClientID:    m.ep.ClientID,
		CacheItems:  m.cache.len(),
	}
}

// ---------------------------------------------------------------------------
// Cache surface
// ---------------------------------------------------------------------------

// CacheSet stores a snapshot under key, stamped now.
func (m *Manager) CacheSet(key string, value any) { m.cache.set(key, value) }

// CacheGet reads a snapshot if it is younger than the TTL.
func (m *Manager) CacheGet(key string) (any, bool) { return m.cache.get(key) }

// CacheValid reports whether key holds a fresh snapshot.
func (m *Manager) CacheValid(key string) bool { return m.cache.valid(key) }

// CacheClear drops the named snapshots, or every snapshot when no keys
// are given.
func (m *Manager) CacheClear(keys ...string) { m.cache.clear(keys...) }

// CacheLen reports the number of stored snapshots, fresh or stale.
func (m *Manager) CacheLen() int { return m.cache.len() }

// Cached reads a typed snapshot from the manager's cache. A fresh entry of
// the wrong type is a miss.
func Cached[T any](m *Manager, key string) (T, bool) {
	return cached[T](m.cache, key)
}
