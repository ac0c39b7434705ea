package fleet

import (
	"context"
	"sync"
	"time"

	"github.com/olavhq/olav/internal/olaverr"
	"github.com/olavhq/olav/pkg/ratelimit"
	"github.com/olavhq/olav/pkg/resilience"
)

// connState is one state in the per-device connection state machine
// (spec §4.2, "State machine (per device connection)"):
//
//	Disconnected --open--> Connecting --auth--> Ready --send--> Awaiting
//	    ^                      | fail            |                | reply
//	    |                      v                 |                v
//	    +---------- Dead <-----+                 +--------- Ready
type connState int

const (
	StateDisconnected connState = iota
	StateConnecting
	StateReady
	StateAwaiting
	StateDead
)

func (s connState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateAwaiting:
		return "awaiting"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// conn is one device's connection slot. All state transitions for a
// single device happen under mu, which also serializes commands sent
// through the connection per spec §4.2.1's ordering guarantee ("calls to
// the same device through the engine are serialized per connection").
type conn struct {
	mu       sync.Mutex
	device   Device
	session  Session
	state    connState
	lastUsed time.Time
	breaker  *resilience.CircuitBreaker
	limiter  *ratelimit.RateLimiter
}

// pool is the fleet-wide connection pool, keyed by device name. It owns
// opening, reusing, and idle-reaping connections; it never decides
// whether an operation is allowed (that's the capability registry) or how
// many times to retry a failed call (that's the orchestrator or caller),
// per §4.2's "the engine reports, it does not decide."
type pool struct {
	mu          sync.RWMutex
	conns       map[string]*conn
	transport    DeviceTransport
	idleTimeout  time.Duration
	breakerCfg   resilience.Config
	retryCfg     resilience.RetryConfig
	rateCfg      ratelimit.RateLimitConfig
	onStateGauge func(state string, delta int)

	stopOnce sync.Once
	stopCh   chan struct{}
}

func newPool(transport DeviceTransport, idleTimeout time.Duration, maxFailures int, requestsPerSecond float64, burst int, onStateGauge func(state string, delta int)) *pool {
	cfg := resilience.DefaultConfig()
	if maxFailures > 0 {
		cfg.MaxFailures = maxFailures
	}
	rateCfg := ratelimit.RateLimitConfig{RequestsPerSecond: requestsPerSecond, Burst: burst}
	p := &pool{
		conns:        map[string]*conn{},
		transport:    transport,
		idleTimeout:  idleTimeout,
		breakerCfg:   cfg,
		retryCfg:     resilience.DefaultRetryConfig(),
		rateCfg:      rateCfg,
		onStateGauge: onStateGauge,
		stopCh:       make(chan struct{}),
	}
	go p.reapLoop()
	return p
}

func (p *pool) connFor(device Device) *conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.conns[device.Name]
	if !ok {
		c = &conn{device: device, state: StateDisconnected, breaker: resilience.New(p.breakerCfg), limiter: ratelimit.New(p.rateCfg)}
		p.conns[device.Name] = c
	}
	return c
}

// waitRateLimit blocks until device's per-device token bucket admits the
// next command (spec DOMAIN STACK: golang.org/x/time/rate per-device rate
// limiting), or ctx is done first.
func (p *pool) waitRateLimit(ctx context.Context, device Device) error {
	return p.connFor(device).limiter.Wait(ctx)
}

// acquire returns a Ready session for device, opening one if needed. The
// returned unlock func must be called exactly once, regardless of outcome,
// to release the per-device serialization lock.
func (p *pool) acquire(ctx context.Context, device Device, connectTimeout time.Duration) (session Session, unlock func(), err error) {
	c := p.connFor(device)
	c.mu.Lock()
	unlock = c.mu.Unlock

	if c.state == StateReady && c.session != nil {
		c.lastUsed = time.Now()
		return c.session, unlock, nil
	}

	p.setState(c, StateConnecting)
	openCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	var session2 Session
	openErr := c.breaker.Execute(openCtx, func() error {
		return resilience.Retry(openCtx, p.retryCfg, func() error {
			s, err := p.transport.Open(openCtx, device)
			if err != nil {
				return err
			}
			session2 = s
			return nil
		})
	})
	if openErr != nil {
		p.setState(c, StateDead)
		p.delete(device.Name)
		if openErr == resilience.ErrCircuitOpen || openErr == resilience.ErrTooManyRequests {
			return nil, unlock, olaverr.Wrap(olaverr.Transport, "circuit open for device "+device.Name, openErr)
		}
		return nil, unlock, olaverr.Wrap(olaverr.Transport, "open session to "+device.Name, openErr)
	}

	c.session = session2
	c.lastUsed = time.Now()
	p.setState(c, StateReady)
	return c.session, unlock, nil
}

func (p *pool) delete(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.conns, name)
}

// markAwaiting/markReady/markDead record the command phase of a connection
// already held via acquire; the caller still holds the per-device lock.
func (p *pool) markAwaiting(device Device) {
	c := p.connFor(device)
	p.setState(c, StateAwaiting)
}

func (p *pool) markReady(device Device) {
	c := p.connFor(device)
	c.lastUsed = time.Now()
	p.setState(c, StateReady)
}

func (p *pool) markDead(device Device) {
	c := p.connFor(device)
	if c.session != nil {
		_ = p.transport.Close(c.session)
		c.session = nil
	}
	p.setState(c, StateDead)
	p.mu.Lock()
	delete(p.conns, device.Name)
	p.mu.Unlock()
}

func (p *pool) setState(c *conn, s connState) {
	if c.state == s {
		return
	}
	old := c.state
	c.state = s
	if p.onStateGauge != nil {
		p.onStateGauge(old.String(), -1)
		p.onStateGauge(s.String(), 1)
	}
}

// reapLoop closes Ready connections that have been idle longer than
// idleTimeout (spec §4.2, "Idle Ready connections are closed after a
// configurable idle window, default 300 s").
func (p *pool) reapLoop() {
	if p.idleTimeout <= 0 {
		return
	}
	ticker := time.NewTicker(p.idleTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.reapIdle()
		}
	}
}

func (p *pool) reapIdle() {
	p.mu.RLock()
	stale := make([]*conn, 0)
	now := time.Now()
	for _, c := range p.conns {
		c.mu.Lock()
		if c.state == StateReady && now.Sub(c.lastUsed) > p.idleTimeout {
			stale = append(stale, c)
		}
		c.mu.Unlock()
	}
	p.mu.RUnlock()

	for _, c := range stale {
		c.mu.Lock()
		if c.state == StateReady && now.Sub(c.lastUsed) > p.idleTimeout {
			if c.session != nil {
				_ = p.transport.Close(c.session)
				c.session = nil
			}
			p.setState(c, StateDisconnected)
			p.mu.Lock()
			delete(p.conns, c.device.Name)
			p.mu.Unlock()
		}
		c.mu.Unlock()
	}
}

// Stop closes every connection and stops the idle reaper. It is used by
// Engine.Stop.
func (p *pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})
	p.mu.Lock()
	defer p.mu.Unlock()
	for name, c := range p.conns {
		if c.session != nil {
			_ = p.transport.Close(c.session)
		}
		delete(p.conns, name)
	}
}

// snapshot returns the count of connections per state, for metrics/status
// reporting.
func (p *pool) snapshot() map[string]int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	counts := map[string]int{}
	for _, c := range p.conns {
		c.mu.Lock()
		counts[c.state.String()]++
		c.mu.Unlock()
	}
	return counts
}
