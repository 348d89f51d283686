// Package pool manages a bounded set of gotds connections to one TDS
// server, handing them out to callers with Acquire/Release and
// transparently redialing on a server-initiated routing redirect.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	gotdserrors "github.com/ha1tch/gotds/pkg/errors"
	"github.com/ha1tch/gotds/pkg/log"
	"github.com/ha1tch/gotds/tds"
)

// Config configures a Pool.
type Config struct {
	Addr       string
	Handshake  tds.HandshakeOptions
	ConnOpts   []tds.ConnOption

	MinConns       int
	MaxConns       int
	IdleTimeout    time.Duration
	MaxLifetime    time.Duration
	AcquireTimeout time.Duration

	// ValidationQuery, if non-empty, is run as a SQLBATCH against an idle
	// connection before handing it out, to catch a half-dead socket the
	// server closed without the client noticing.
	ValidationQuery string

	Retry  RetryPolicy
	Logger *log.Logger
}

func (c *Config) setDefaults() {
	if c.MaxConns <= 0 {
		c.MaxConns = 10
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = 30 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 5 * time.Minute
	}
	if c.MaxLifetime <= 0 {
		c.MaxLifetime = time.Hour
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry = DefaultRetryPolicy()
	}
}

// PooledConn is a Pool-managed connection. Callers get one from
// Acquire and must Release it (not Close it) when done, unless the
// connection is unusable, in which case Discard removes it from the
// pool instead of returning it to the idle set.
type PooledConn struct {
	*tds.Conn
	pool      *Pool
	createdAt time.Time
	usedAt    time.Time
	prepared  *tds.PreparedStatementCache
	pipeline  *tds.Pipeline
}

// Prepared returns this connection's prepared-statement handle cache.
func (pc *PooledConn) Prepared() *tds.PreparedStatementCache { return pc.prepared }

// Pipeline returns this connection's request pipeline, lazily creating
// it on first use. Every caller holding this PooledConn shares the same
// Pipeline, so concurrent Execute calls against it serialize correctly.
func (pc *PooledConn) Pipeline() *tds.Pipeline {
	if pc.pipeline == nil {
		pc.pipeline = tds.NewPipeline(pc.Conn)
	}
	return pc.pipeline
}

func (pc *PooledConn) expired(maxLifetime time.Duration) bool {
	return maxLifetime > 0 && time.Since(pc.createdAt) > maxLifetime
}

func (pc *PooledConn) idleExpired(idleTimeout time.Duration) bool {
	return idleTimeout > 0 && time.Since(pc.usedAt) > idleTimeout
}

// Pool is a bounded connection pool to one TDS endpoint, following the
// same cond-var wait/signal shape a pgbouncer-style connection pool
// uses: idle connections sit in a LIFO slice, waiters block on a
// condition variable, and Release signals exactly one waiter to avoid
// a thundering herd.
type Pool struct {
	mu      sync.Mutex
	cond    *sync.Cond
	cfg     Config
	addr    string
	log     *log.Logger

	idle    []*PooledConn
	active  map[*PooledConn]struct{}
	total   int
	waiting int

	closed bool
	stopCh chan struct{}
}

// New creates a Pool and starts its background idle reaper. It does
// not pre-dial; the first Acquire call creates the first connection
// unless MinConns > 0, in which case warmUp dials MinConns connections
// in the background.
func New(cfg Config) *Pool {
	cfg.setDefaults()

	p := &Pool{
		cfg:    cfg,
		addr:   cfg.Addr,
		log:    cfg.Logger,
		active: make(map[*PooledConn]struct{}),
		stopCh: make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)

	go p.reapLoop()
	if cfg.MinConns > 0 {
		go p.warmUp()
	}

	return p
}

func (p *Pool) warmUp() {
	for i := 0; i < p.cfg.MinConns; i++ {
		p.mu.Lock()
		if p.closed || p.total >= p.cfg.MinConns {
			p.mu.Unlock()
			return
		}
		p.total++
		p.mu.Unlock()

		pc, err := p.dial(context.Background())
		if err != nil {
			p.mu.Lock()
			p.total--
			p.mu.Unlock()
			if p.log != nil {
				p.log.Pool().Warn("warm-up connection failed", "index", i+1, "err", err)
			}
			return
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			pc.Close()
			return
		}
		p.idle = append(p.idle, pc)
		p.mu.Unlock()
	}
}

// Acquire returns an idle connection, validating and discarding expired
// ones first, dialing a new one if under MaxConns, or waiting for a
// released connection otherwise. Acquire respects both ctx and the
// pool's configured AcquireTimeout, whichever elapses first.
func (p *Pool) Acquire(ctx context.Context) (*PooledConn, error) {
	deadline := time.Now().Add(p.cfg.AcquireTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	p.mu.Lock()
	for {
		select {
		case <-ctx.Done():
			p.mu.Unlock()
			return nil, ctx.Err()
		default:
		}

		if p.closed {
			p.mu.Unlock()
			return nil, gotdserrors.New(gotdserrors.ErrCodePoolShutdown, "pool closed").Build()
		}

		for len(p.idle) > 0 {
			pc := p.idle[len(p.idle)-1]
			p.idle = p.idle[:len(p.idle)-1]

			if pc.expired(p.cfg.MaxLifetime) || pc.idleExpired(p.cfg.IdleTimeout) {
				pc.Close()
				p.total--
				continue
			}

			if p.cfg.ValidationQuery != "" {
				if err := p.validate(ctx, pc); err != nil {
					pc.Close()
					p.total--
					continue
				}
			}

			pc.usedAt = time.Now()
			p.active[pc] = struct{}{}
			p.mu.Unlock()
			return pc, nil
		}

		if p.total < p.cfg.MaxConns {
			p.total++
			p.mu.Unlock()

			pc, err := p.dial(ctx)
			if err != nil {
				p.mu.Lock()
				p.total--
				p.mu.Unlock()
				return nil, err
			}

			p.mu.Lock()
			pc.usedAt = time.Now()
			p.active[pc] = struct{}{}
			p.mu.Unlock()
			return pc, nil
		}

		p.waiting++
		remaining := time.Until(deadline)
		if remaining <= 0 {
			p.waiting--
			p.mu.Unlock()
			return nil, gotdserrors.New(gotdserrors.ErrCodePoolExhausted, "acquire timeout: pool exhausted").Build()
		}

		timer := time.AfterFunc(remaining, func() { p.cond.Broadcast() })
		p.cond.Wait() // releases p.mu, reacquires on wake
		timer.Stop()
		p.waiting--

		if p.closed {
			p.mu.Unlock()
			return nil, gotdserrors.New(gotdserrors.ErrCodePoolShutdown, "pool closing").Build()
		}
		if time.Now().After(deadline) {
			p.mu.Unlock()
			return nil, gotdserrors.New(gotdserrors.ErrCodePoolExhausted, "acquire timeout: pool exhausted").Build()
		}
		// retry from the top, p.mu held
	}
}

// Release returns a healthy connection to the idle set. Release wakes
// exactly one waiter via Signal rather than Broadcast, so only one
// goroutine races for the freed slot.
func (p *Pool) Release(pc *PooledConn) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.active, pc)

	if p.closed || pc.expired(p.cfg.MaxLifetime) {
		pc.Close()
		p.total--
		p.cond.Signal()
		return
	}

	p.idle = append(p.idle, pc)
	p.cond.Signal()
}

// Discard removes a broken connection from the pool entirely instead of
// returning it to the idle set; callers should use this after an I/O
// error instead of Release.
func (p *Pool) Discard(pc *PooledConn) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.active, pc)
	pc.Close()
	p.total--
	p.cond.Signal()
}

// Stats reports a snapshot of pool occupancy.
type Stats struct {
	Active  int
	Idle    int
	Total   int
	Waiting int
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Active:  len(p.active),
		Idle:    len(p.idle),
		Total:   p.total,
		Waiting: p.waiting,
	}
}

// Close closes every idle connection immediately and waits (briefly)
// for active ones to be returned, force-closing any that are not.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.stopCh)
	p.cond.Broadcast()
	p.mu.Unlock()

	p.drain()
}

func (p *Pool) drain() {
	p.mu.Lock()
	for _, pc := range p.idle {
		pc.Close()
		p.total--
	}
	p.idle = p.idle[:0]
	activeCount := len(p.active)
	p.mu.Unlock()

	if activeCount == 0 {
		return
	}

	timeout := time.After(30 * time.Second)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.mu.Lock()
			if len(p.active) == 0 {
				p.mu.Unlock()
				return
			}
			p.mu.Unlock()
		case <-timeout:
			p.mu.Lock()
			for pc := range p.active {
				pc.Close()
				p.total--
			}
			p.active = make(map[*PooledConn]struct{})
			p.mu.Unlock()
			if p.log != nil {
				p.log.Pool().Warn("force-closed active connections after drain timeout")
			}
			return
		}
	}
}

func (p *Pool) reapLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.reapIdle()
		case <-p.stopCh:
			return
		}
	}
}

func (p *Pool) reapIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.idle) <= p.cfg.MinConns {
		return
	}

	kept := make([]*PooledConn, 0, len(p.idle))
	excess := len(p.idle) - p.cfg.MinConns
	for i, pc := range p.idle {
		if i < excess && (pc.idleExpired(p.cfg.IdleTimeout) || pc.expired(p.cfg.MaxLifetime)) {
			pc.Close()
			p.total--
		} else {
			kept = append(kept, pc)
		}
	}
	p.idle = kept
}

// dial opens and handshakes a new connection, retrying on a transient
// failure per p.cfg.Retry and following a server routing redirect by
// redialing the endpoint the server named instead of the original.
func (p *Pool) dial(ctx context.Context) (*PooledConn, error) {
	addr := p.addr
	var lastErr error

	for attempt := 1; attempt <= p.cfg.Retry.MaxAttempts; attempt++ {
		conn, err := tds.Dial(ctx, addr, p.cfg.ConnOpts...)
		if err == nil {
			err = conn.Handshake(ctx, p.cfg.Handshake)
		}

		if err == nil {
			return &PooledConn{
				Conn:      conn,
				pool:      p,
				createdAt: time.Now(),
				usedAt:    time.Now(),
				prepared:  tds.NewPreparedStatementCache(),
			}, nil
		}

		if conn != nil {
			conn.Close()
		}

		var routing *tds.RoutingError
		if gotdserrors.As(err, &routing) {
			addr = fmt.Sprintf("%s:%d", routing.Host, routing.Port)
			lastErr = err
			continue // redial the routed endpoint without counting against transient backoff
		}

		lastErr = err
		if !gotdserrors.IsTransient(err) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.cfg.Retry.Backoff(attempt)):
		}
	}

	return nil, lastErr
}

func (p *Pool) validate(ctx context.Context, pc *PooledConn) error {
	if err := pc.SendMessage(tds.PacketSQLBatch, tds.EncodeSQLBatch(0, p.cfg.ValidationQuery)); err != nil {
		return err
	}
	data, err := pc.ReadMessage(ctx)
	if err != nil {
		return err
	}
	parser := tds.NewParser(data)
	for {
		tok, err := parser.Next()
		if err != nil {
			break
		}
		if errTok, ok := tok.(tds.ErrorToken); ok {
			return errTok
		}
	}
	return nil
}
