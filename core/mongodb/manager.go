package mongodb

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"economy-store/core/dispatch"

	"go.uber.org/zap"
)

var (
	// ErrConnection indicates a transport or auth failure talking to the store.
	ErrConnection = errors.New("mongodb: connection failed")
	// ErrMaxAttempts indicates that consecutive failures exhausted the
	// reconnect budget; auto-reconnect has stopped and only an explicit
	// EnsureConnected will try again.
	ErrMaxAttempts = errors.New("mongodb: max reconnect attempts reached")
	// ErrNotConnected is returned when a handle is requested while the
	// manager is not connected.
	ErrNotConnected = errors.New("mongodb: not connected")
)

// State is the connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnectScheduled
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnectScheduled:
		return "reconnect_scheduled"
	default:
		return "unknown"
	}
}

// Dialer establishes a client handle. Replaced in tests.
type Dialer func(ctx context.Context, cfg Config) (Client, error)

// Manager owns the lifecycle of a single document store client: explicit
// state, bounded-timeout connects, and exponential-backoff auto-reconnect.
//
// All state transitions happen inside one mutex region; State and
// IsConnected are lock-free reads of the atomically published state.
type Manager struct {
	cfg  Config
	log  *zap.Logger
	disp *dispatch.Dispatcher
	dial Dialer

	state atomic.Int32

	mu        sync.Mutex
	client    Client
	attempts  int
	reconnect *dispatch.Handle
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithDialer replaces the production dialer.
func WithDialer(dial Dialer) ManagerOption {
	return func(m *Manager) { m.dial = dial }
}

// NewManager creates a Manager in the Disconnected state. Reconnects are
// scheduled on disp's worker context.
func NewManager(cfg Config, log *zap.Logger, disp *dispatch.Dispatcher, opts ...ManagerOption) *Manager {
	m := &Manager{
		cfg:  cfg,
		log:  log.With(zap.String("store", maskURI(cfg.URI)), zap.String("database", cfg.Name)),
		disp: disp,
		dial: Dial,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current lifecycle state without locking.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// IsConnected reports whether the manager currently holds a live handle.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// DatabaseName returns the configured database name.
func (m *Manager) DatabaseName() string {
	return m.cfg.Name
}

// Client returns the live client handle, or ErrNotConnected.
func (m *Manager) Client() (Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.State() != StateConnected || m.client == nil {
		return nil, ErrNotConnected
	}
	return m.client, nil
}

// Collection returns a handle to a named collection on the live client.
func (m *Manager) Collection(name string) (Collection, error) {
	cli, err := m.Client()
	if err != nil {
		return nil, err
	}
	return cli.Collection(name), nil
}

// Connect establishes a client handle and verifies it with a liveness probe.
// It is idempotent when already connected. On failure the attempt counter
// grows and, while it stays under the configured maximum, a reconnect is
// scheduled after min(cap, attempts*step) seconds. An explicit Connect call
// is always allowed to try, even after the reconnect budget is spent.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.State() == StateConnected {
		return nil
	}

	// A manual connect supersedes any pending reconnect timer.
	m.cancelReconnectLocked()
	m.state.Store(int32(StateConnecting))

	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout())
	defer cancel()

	cli, err := m.dial(dialCtx, m.cfg)
	if err == nil {
		err = cli.Ping(dialCtx)
		if err != nil {
			_ = cli.Disconnect(context.Background())
		}
	}

	if err != nil {
		m.attempts++
		m.state.Store(int32(StateDisconnected))
		m.log.Warn("store connection failed",
			zap.Int("attempt", m.attempts),
			zap.Error(err),
		)

		if m.attempts < m.cfg.MaxReconnectAttempts {
			m.scheduleReconnectLocked()
			return fmt.Errorf("%w: %v", ErrConnection, err)
		}
		m.log.Error("giving up on automatic reconnection",
			zap.Int("attempts", m.attempts),
		)
		return fmt.Errorf("%w after %d attempts: %v", ErrMaxAttempts, m.attempts, err)
	}

	m.client = cli
	m.attempts = 0
	m.state.Store(int32(StateConnected))
	m.log.Info("store connected")
	return nil
}

// EnsureConnected returns nil when a live, healthy handle exists, otherwise
// it connects. A failing health probe on an existing handle demotes the
// manager to Disconnected before reconnecting.
func (m *Manager) EnsureConnected(ctx context.Context) error {
	if m.IsConnected() {
		m.mu.Lock()
		cli := m.client
		m.mu.Unlock()

		if cli != nil {
			probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout())
			err := cli.Ping(probeCtx)
			cancel()
			if err == nil {
				return nil
			}
			m.log.Warn("health check failed, reconnecting", zap.Error(err))
			m.demote(cli)
		}
	}
	return m.Connect(ctx)
}

// demote drops a handle that failed its health probe. Another goroutine may
// have replaced the client already; only the observed handle is dropped.
func (m *Manager) demote(observed Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != observed {
		return
	}
	_ = m.client.Disconnect(context.Background())
	m.client = nil
	m.state.Store(int32(StateDisconnected))
}

// Disconnect releases the handle and cancels any scheduled reconnect. Safe
// to call when already disconnected.
func (m *Manager) Disconnect(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cancelReconnectLocked()
	if m.client != nil {
		if err := m.client.Disconnect(ctx); err != nil {
			m.log.Warn("error releasing store handle", zap.Error(err))
		}
		m.client = nil
	}
	m.state.Store(int32(StateDisconnected))
}

// scheduleReconnectLocked arms the single reconnect timer. Callers hold m.mu.
func (m *Manager) scheduleReconnectLocked() {
	delay := m.cfg.Backoff(m.attempts)
	m.state.Store(int32(StateReconnectScheduled))
	m.log.Info("reconnect scheduled", zap.Duration("delay", delay))

	m.reconnect = m.disp.RunWorkerDelayed(func(ctx context.Context) {
		if m.State() != StateReconnectScheduled {
			return
		}
		_ = m.Connect(context.Background())
	}, delay)
}

func (m *Manager) cancelReconnectLocked() {
	if m.reconnect != nil {
		m.reconnect.Cancel()
		m.reconnect = nil
	}
}

// maskURI strips credentials from a connection string before it reaches any
// log line or error message.
func maskURI(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		// Cannot parse, so do not risk leaking anything.
		if i := strings.Index(uri, "@"); i >= 0 {
			return "****@" + uri[i+1:]
		}
		return uri
	}
	if u.User != nil {
		if _, has := u.User.Password(); has {
			u.User = url.UserPassword(u.User.Username(), "xxxxx")
		}
	}
	masked := u.String()
	// url encodes the placeholder; keep the output readable.
	return strings.Replace(masked, "xxxxx", "****", 1)
}
