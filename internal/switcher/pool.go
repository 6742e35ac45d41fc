package switcher

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/FamiliaDusu/Ogaac-test/pkg/logging"
)

// Pool timing defaults.
const (
	DefaultConnectTimeout = 1500 * time.Millisecond
	DefaultIdleTTL        = 30 * time.Minute
	DefaultSweepInterval  = 10 * time.Minute
)

// DialFunc opens an identified connection to a target.
type DialFunc func(ctx context.Context, target Target) (Conn, error)

type poolEntry struct {
	conn     Conn
	lastUsed time.Time
}

// Pool keeps at most one live connection per endpoint+password pair.
// Concurrent callers for the same target share a single connect
// attempt, and connections unused past the idle TTL are swept.
type Pool struct {
	dial           DialFunc
	logger         logging.Logger
	connectTimeout time.Duration
	idleTTL        time.Duration
	sweepInterval  time.Duration

	group singleflight.Group

	connects  atomic.Uint64
	evictions atomic.Uint64

	mu    sync.Mutex
	conns map[string]*poolEntry

	stopOnce sync.Once
	stop     chan struct{}
}

// Option configures a Pool.
type Option func(*Pool)

// WithDialFunc replaces the default dialer.
func WithDialFunc(dial DialFunc) Option {
	return func(p *Pool) { p.dial = dial }
}

// WithConnectTimeout overrides the handshake timeout.
func WithConnectTimeout(d time.Duration) Option {
	return func(p *Pool) { p.connectTimeout = d }
}

// WithIdleTTL overrides the idle expiry and sweep cadence.
func WithIdleTTL(ttl, sweepInterval time.Duration) Option {
	return func(p *Pool) {
		p.idleTTL = ttl
		p.sweepInterval = sweepInterval
	}
}

// NewPool creates a pool and starts its idle sweeper.
func NewPool(logger logging.Logger, opts ...Option) *Pool {
	p := &Pool{
		logger:         logger,
		connectTimeout: DefaultConnectTimeout,
		idleTTL:        DefaultIdleTTL,
		sweepInterval:  DefaultSweepInterval,
		conns:          make(map[string]*poolEntry),
		stop:           make(chan struct{}),
	}
	p.dial = func(ctx context.Context, target Target) (Conn, error) {
		return Dial(ctx, target, logger)
	}
	for _, opt := range opts {
		opt(p)
	}
	go p.sweepLoop()
	return p
}

// With runs fn against the pooled connection for target, connecting
// first if needed. A transport error from fn drops the connection so
// the next caller reconnects; device rejections keep it pooled.
func (p *Pool) With(ctx context.Context, target Target, fn func(Conn) error) error {
	conn, err := p.acquire(ctx, target)
	if err != nil {
		return err
	}
	if err := fn(conn); err != nil {
		if !IsDeviceError(err) {
			p.drop(target.key(), conn)
		}
		return err
	}
	return nil
}

func (p *Pool) acquire(ctx context.Context, target Target) (Conn, error) {
	key := target.key()

	p.mu.Lock()
	if entry, ok := p.conns[key]; ok && entry.conn.Connected() {
		entry.lastUsed = time.Now()
		conn := entry.conn
		p.mu.Unlock()
		return conn, nil
	}
	p.mu.Unlock()

	v, err, _ := p.group.Do(key, func() (interface{}, error) {
		p.mu.Lock()
		if entry, ok := p.conns[key]; ok {
			if entry.conn.Connected() {
				entry.lastUsed = time.Now()
				conn := entry.conn
				p.mu.Unlock()
				return conn, nil
			}
			delete(p.conns, key)
		}
		p.mu.Unlock()

		dialCtx, cancel := context.WithTimeout(ctx, p.connectTimeout)
		defer cancel()
		conn, err := p.dial(dialCtx, target)
		if err != nil {
			p.logger.WithError(err).WithFields(logging.Fields{
				"endpoint": target.Endpoint,
			}).Warn("Device connect failed")
			return nil, err
		}

		p.connects.Add(1)
		p.mu.Lock()
		p.conns[key] = &poolEntry{conn: conn, lastUsed: time.Now()}
		p.mu.Unlock()
		return conn, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Conn), nil
}

func (p *Pool) drop(key string, conn Conn) {
	p.mu.Lock()
	if entry, ok := p.conns[key]; ok && entry.conn == conn {
		delete(p.conns, key)
		p.evictions.Add(1)
	}
	p.mu.Unlock()
	conn.Close()
}

// Size returns the number of pooled connections.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}

// Connects returns the total number of successful dials.
func (p *Pool) Connects() uint64 { return p.connects.Load() }

// Evictions returns the total number of connections removed by the
// sweeper or dropped after transport errors.
func (p *Pool) Evictions() uint64 { return p.evictions.Load() }

// Close shuts the sweeper down and closes every pooled connection.
func (p *Pool) Close() {
	p.stopOnce.Do(func() { close(p.stop) })
	p.mu.Lock()
	for key, entry := range p.conns {
		delete(p.conns, key)
		entry.conn.Close()
	}
	p.mu.Unlock()
}

func (p *Pool) sweepLoop() {
	ticker := time.NewTicker(p.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.sweep(time.Now())
		case <-p.stop:
			return
		}
	}
}

func (p *Pool) sweep(now time.Time) {
	var expired []Conn
	p.mu.Lock()
	for key, entry := range p.conns {
		if now.Sub(entry.lastUsed) > p.idleTTL || !entry.conn.Connected() {
			delete(p.conns, key)
			expired = append(expired, entry.conn)
		}
	}
	remaining := len(p.conns)
	p.evictions.Add(uint64(len(expired)))
	p.mu.Unlock()

	if len(expired) > 0 {
		p.logger.WithFields(logging.Fields{
			"closed":    len(expired),
			"remaining": remaining,
		}).Info("Swept idle device connections")
	}
	for _, conn := range expired {
		conn.Close()
	}
}
