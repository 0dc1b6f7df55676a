// Package gateway owns the lifecycle of the connection to a purchasing
// backend and its bounded reconnect policy.
package gateway

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zuko/billingz/event"
	"github.com/zuko/billingz/metrics"
	"github.com/zuko/billingz/platform"
)

type State uint8

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "disconnected"
	}
}

const (
	defaultRetryDelay  = 5 * time.Second
	defaultMaxAttempts = 3
)

type Option func(*Gateway)

func WithMaxAttempts(n int) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.maxAttempts = n
		}
	}
}

func WithRetryDelay(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.retryDelay = d
		}
	}
}

func WithMetrics(m *metrics.GatewayMetrics) Option {
	return func(g *Gateway) {
		g.metrics = m
	}
}

// Gateway drives one platform adapter through
// disconnected -> connecting -> connected, with bounded automatic retry on
// unexpected disconnection. Exhausting the retry budget leaves the gateway
// disconnected; the caller decides when to Connect again.
type Gateway struct {
	log     *zap.Logger
	adapter platform.Adapter
	metrics *metrics.GatewayMetrics

	mu            sync.Mutex
	state         State
	initialized   bool
	retryAttempts int
	maxAttempts   int
	retryDelay    time.Duration
	retryTimer    *time.Timer
	destroyed     bool

	ready *event.Observable[bool]
}

func New(log *zap.Logger, adapter platform.Adapter, opts ...Option) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}

	g := &Gateway{
		log:         log,
		adapter:     adapter,
		state:       StateDisconnected,
		initialized: true,
		maxAttempts: defaultMaxAttempts,
		retryDelay:  defaultRetryDelay,
		ready:       event.NewObservable[bool](),
	}
	for _, opt := range opts {
		opt(g)
	}

	return g
}

// Connect begins connection setup. No-op unless currently disconnected.
func (g *Gateway) Connect() {
	g.mu.Lock()
	if g.destroyed || g.state != StateDisconnected {
		g.mu.Unlock()
		return
	}
	g.state = StateConnecting
	g.mu.Unlock()

	g.adapter.StartConnection(context.Background(), (*stateListener)(g))
}

// Disconnect closes the gateway from any state. A closed gateway does not
// retry and ignores further Connect calls until a new gateway is built.
func (g *Gateway) Disconnect() {
	g.mu.Lock()
	g.state = StateClosed
	g.stopRetryLocked()
	g.mu.Unlock()

	g.adapter.EndConnection()
	_ = g.ready.Publish(false)
	g.metrics.SetConnected(false)
}

// CheckConnection is idempotent: a no-op when already connected, otherwise it
// triggers Connect.
func (g *Gateway) CheckConnection() {
	g.mu.Lock()
	connected := !g.initialized || g.state == StateConnected || g.state == StateConnecting || g.state == StateClosed
	g.mu.Unlock()

	if !connected {
		g.Connect()
	}
}

// IsReady requires all three: the gateway is initialized, the state machine is
// connected, and the vendor handle itself reports ready. State alone is not
// sufficient because the handle may have been invalidated externally.
func (g *Gateway) IsReady() bool {
	g.mu.Lock()
	initialized := g.initialized
	connected := g.state == StateConnected
	g.mu.Unlock()

	return initialized && connected && g.adapter.Ready()
}

func (g *Gateway) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.state
}

// ReadyUpdates observes connection readiness. Late subscribers receive the
// latest published value.
func (g *Gateway) ReadyUpdates() *event.Observable[bool] {
	return g.ready
}

// Destroy cancels pending retries and releases the connection. Idempotent.
func (g *Gateway) Destroy() {
	g.mu.Lock()
	if g.destroyed {
		g.mu.Unlock()
		return
	}
	g.destroyed = true
	g.initialized = false
	g.state = StateClosed
	g.stopRetryLocked()
	g.mu.Unlock()

	g.adapter.EndConnection()
	g.ready.Close()
	g.metrics.SetConnected(false)
}

// stateListener keeps the platform callbacks off the Gateway's exported
// method set.
type stateListener Gateway

func (l *stateListener) OnSetupFinished(err error) {
	g := (*Gateway)(l)

	g.mu.Lock()
	if g.destroyed || g.state == StateClosed {
		g.mu.Unlock()
		return
	}

	if err != nil {
		g.state = StateDisconnected
		g.mu.Unlock()

		g.log.Warn("Billing connection setup failed", zap.Error(err))
		_ = g.ready.Publish(false)
		g.metrics.SetConnected(false)
		return
	}

	g.state = StateConnected
	g.mu.Unlock()

	g.log.Debug("Billing connection established")
	_ = g.ready.Publish(true)
	g.metrics.SetConnected(true)
}

func (l *stateListener) OnDisconnected() {
	g := (*Gateway)(l)

	g.mu.Lock()
	if g.destroyed || g.state == StateClosed {
		g.mu.Unlock()
		return
	}

	g.state = StateDisconnected
	g.mu.Unlock()

	_ = g.ready.Publish(false)
	g.metrics.SetConnected(false)
	g.retry()
}

// retry schedules a reconnect after the backoff delay. The attempt budget
// spans the gateway's lifetime; successful reconnects do not replenish it.
func (g *Gateway) retry() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.destroyed || !g.initialized || g.state != StateDisconnected {
		return
	}

	g.retryAttempts++
	if g.retryAttempts > g.maxAttempts {
		g.log.Warn("Reconnect budget exhausted; staying disconnected",
			zap.Int("max_attempts", g.maxAttempts))
		return
	}

	g.log.Warn("Billing connection lost; scheduling reconnect",
		zap.Int("attempt", g.retryAttempts),
		zap.Duration("delay", g.retryDelay))
	g.metrics.IncReconnectAttempts()

	g.stopRetryLocked()
	g.retryTimer = time.AfterFunc(g.retryDelay, g.Connect)
}

// stopRetryLocked must be called with g.mu held.
func (g *Gateway) stopRetryLocked() {
	if g.retryTimer != nil {
		g.retryTimer.Stop()
		g.retryTimer = nil
	}
}
