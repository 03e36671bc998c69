package broker

import (
	"context"
	"errors"
	"sync"
	"time"

	"storefront/internal/monitor"
	"storefront/pkg/log"
)

// State is the lifecycle state of a Manager.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// pendingSetup is the in-flight connection attempt every concurrent caller waits on.
type pendingSetup struct {
	done    chan struct{}
	channel Channel
	err     error
}

// Option configures a Manager.
type Option func(*Manager)

// WithSetup runs fn on every freshly opened channel before it is handed out,
// typically to declare exchanges. A failing setup fails the whole attempt.
func WithSetup(fn func(Channel) error) Option {
	return func(m *Manager) {
		m.setup = fn
	}
}

// WithDialTimeout bounds a single connection attempt.
func WithDialTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.dialTimeout = d
	}
}

// WithMetrics reports dials and state changes.
func WithMetrics(metrics *monitor.Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// Manager lazily opens one broker connection and channel and shares them.
//
// Concurrent callers arriving while disconnected share a single dial. A closed
// notification from the connection drops the cached state so the next call dials again;
// there is no background reconnect loop. Connection errors that do not close the
// connection are only logged.
type Manager struct {
	dialer      Dialer
	setup       func(Channel) error
	dialTimeout time.Duration
	metrics     *monitor.Metrics

	mu      sync.Mutex
	state   State
	pending *pendingSetup
	conn    Connection
	channel Channel
	closed  bool
}

// NewManager creates a manager in the disconnected state. Nothing is dialed until the
// first Channel call.
func NewManager(dialer Dialer, opts ...Option) *Manager {
	m := &Manager{
		dialer:      dialer,
		dialTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.metrics.SetBrokerState(int(StateDisconnected))
	return m
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Channel returns the shared channel, connecting first if needed. When connected it
// returns immediately. ctx only bounds the caller's wait; an attempt already in flight
// keeps going for the other waiters.
func (m *Manager) Channel(ctx context.Context) (Channel, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}

	switch m.state {
	case StateConnected:
		ch := m.channel
		m.mu.Unlock()
		return ch, nil
	case StateDisconnected:
		m.pending = &pendingSetup{done: make(chan struct{})}
		m.setState(StateConnecting)
		go m.connect(m.pending)
	}
	p := m.pending
	m.mu.Unlock()

	select {
	case <-p.done:
		return p.channel, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close drops the cached connection. Later Channel calls fail with ErrManagerClosed.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	conn, ch := m.conn, m.channel
	m.conn, m.channel = nil, nil
	if m.state == StateConnected {
		m.setState(StateDisconnected)
	}
	m.mu.Unlock()

	var errs []error
	if ch != nil {
		errs = append(errs, ch.Close())
	}
	if conn != nil {
		errs = append(errs, conn.Close())
	}
	return errors.Join(errs...)
}

func (m *Manager) connect(p *pendingSetup) {
	ctx, cancel := context.WithTimeout(context.Background(), m.dialTimeout)
	defer cancel()

	conn, ch, err := m.open(ctx)

	m.mu.Lock()
	if err == nil && m.closed {
		m.mu.Unlock()
		_ = ch.Close()
		_ = conn.Close()
		err = ErrManagerClosed
		m.mu.Lock()
	}

	m.pending = nil
	if err != nil {
		m.setState(StateDisconnected)
	} else {
		m.conn, m.channel = conn, ch
		m.setState(StateConnected)
	}
	p.channel, p.err = ch, err
	close(p.done)
	m.mu.Unlock()

	if err != nil {
		if !errors.Is(err, ErrManagerClosed) {
			log.WithError(err).Error("Failed to connect to message broker")
		}
		return
	}

	log.Info("Connected to message broker")
	go m.watch(conn)
}

func (m *Manager) open(ctx context.Context) (Connection, Channel, error) {
	conn, err := m.dialer.Dial(ctx)
	if err != nil {
		m.metrics.IncBrokerDial("error")
		return nil, nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		m.metrics.IncBrokerDial("error")
		_ = conn.Close()
		return nil, nil, err
	}

	if m.setup != nil {
		if err := m.setup(ch); err != nil {
			m.metrics.IncBrokerDial("error")
			_ = ch.Close()
			_ = conn.Close()
			return nil, nil, err
		}
	}

	m.metrics.IncBrokerDial("success")
	return conn, ch, nil
}

// watch follows one connection until it closes.
func (m *Manager) watch(conn Connection) {
	errs := conn.Errors()
	for {
		select {
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			log.WithError(err).Warn("Message broker connection error")
		case err := <-conn.Closed():
			fields := log.Fields{}
			if err != nil {
				fields["error"] = err.Error()
			}
			m.mu.Lock()
			current := m.conn == conn
			if current {
				m.conn, m.channel = nil, nil
				m.setState(StateDisconnected)
			}
			m.mu.Unlock()
			if current {
				log.WithFields(fields).Warn("Message broker connection closed, will reconnect on next publish")
			}
			return
		}
	}
}

// setState must be called with mu held.
func (m *Manager) setState(s State) {
	m.state = s
	m.metrics.SetBrokerState(int(s))
}
