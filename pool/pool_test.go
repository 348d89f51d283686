package pool

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/ha1tch/gotds/tds"
)

// listenAndAccept starts a local TCP listener that accepts every
// connection and closes it at once, standing in for a real TDS server
// for tests that only exercise pool bookkeeping and never send wire
// traffic.
func listenAndAccept(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	return ln.Addr().String()
}

func newTestPooledConn(t *testing.T, addr string) *PooledConn {
	t.Helper()
	conn, err := tds.Dial(context.Background(), addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	return &PooledConn{
		Conn:      conn,
		createdAt: time.Now(),
		usedAt:    time.Now(),
		prepared:  tds.NewPreparedStatementCache(),
	}
}

func newTestPool(t *testing.T, addr string) *Pool {
	t.Helper()
	p := New(Config{Addr: addr, MaxConns: 2})
	t.Cleanup(p.Close)
	return p
}

func TestPooledConnExpiry(t *testing.T) {
	pc := &PooledConn{createdAt: time.Now().Add(-2 * time.Hour), usedAt: time.Now().Add(-10 * time.Minute)}

	if !pc.expired(time.Hour) {
		t.Fatal("expired(1h) = false; want true for a connection created 2h ago")
	}
	if pc.expired(0) {
		t.Fatal("expired(0) = true; want false (0 disables lifetime expiry)")
	}
	if !pc.idleExpired(5 * time.Minute) {
		t.Fatal("idleExpired(5m) = false; want true for a connection idle 10m")
	}
	if pc.idleExpired(time.Hour) {
		t.Fatal("idleExpired(1h) = true; want false")
	}
}

func TestPoolAcquireFromIdleAndRelease(t *testing.T) {
	addr := listenAndAccept(t)
	p := newTestPool(t, addr)

	pc := newTestPooledConn(t, addr)
	p.mu.Lock()
	p.idle = append(p.idle, pc)
	p.total++
	p.mu.Unlock()

	got, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	if got != pc {
		t.Fatal("Acquire() returned a different connection than the idle one pushed")
	}

	stats := p.Stats()
	if stats.Active != 1 || stats.Idle != 0 || stats.Total != 1 {
		t.Fatalf("Stats() = %+v; want Active=1 Idle=0 Total=1", stats)
	}

	p.Release(got)
	stats = p.Stats()
	if stats.Active != 0 || stats.Idle != 1 {
		t.Fatalf("Stats() after Release = %+v; want Active=0 Idle=1", stats)
	}
}

func TestPoolDiscardRemovesConnectionEntirely(t *testing.T) {
	addr := listenAndAccept(t)
	p := newTestPool(t, addr)

	pc := newTestPooledConn(t, addr)
	p.mu.Lock()
	p.active[pc] = struct{}{}
	p.total++
	p.mu.Unlock()

	p.Discard(pc)

	stats := p.Stats()
	if stats.Active != 0 || stats.Idle != 0 || stats.Total != 0 {
		t.Fatalf("Stats() after Discard = %+v; want all zero", stats)
	}
}

func TestPoolAcquireDiscardsExpiredIdleConn(t *testing.T) {
	addr := listenAndAccept(t)
	p := newTestPool(t, addr)
	p.cfg.MaxLifetime = time.Minute

	stale := newTestPooledConn(t, addr)
	stale.createdAt = time.Now().Add(-time.Hour)
	fresh := newTestPooledConn(t, addr)

	p.mu.Lock()
	// stale sits on top of the LIFO idle slice, so Acquire pops and
	// discards it before reaching fresh underneath.
	p.idle = append(p.idle, fresh, stale)
	p.total += 2
	p.mu.Unlock()

	got, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	if got != fresh {
		t.Fatal("Acquire() should have discarded the expired connection and returned the one beneath it")
	}

	stats := p.Stats()
	if stats.Total != 1 {
		t.Fatalf("Stats().Total = %d; want 1 after discarding the expired idle connection", stats.Total)
	}
	p.Release(got)
}

// TestPoolAcquireTimesOutWhenExhausted sets up a pool that is already at
// MaxConns via direct bookkeeping (never dialing for real, since a real
// dial would perform a TDS handshake this test's bare-listener fake
// server can't answer) and confirms a second Acquire respects
// AcquireTimeout instead of blocking forever.
func TestPoolAcquireTimesOutWhenExhausted(t *testing.T) {
	addr := listenAndAccept(t)
	p := New(Config{Addr: addr, MaxConns: 1, AcquireTimeout: 50 * time.Millisecond})
	t.Cleanup(p.Close)

	pc := newTestPooledConn(t, addr)
	p.mu.Lock()
	p.active[pc] = struct{}{}
	p.total = 1
	p.mu.Unlock()

	_, err := p.Acquire(context.Background())
	if err == nil {
		t.Fatal("Acquire() on an exhausted pool should time out")
	}

	p.Release(pc)
}

func TestPoolAcquireAfterCloseFails(t *testing.T) {
	addr := listenAndAccept(t)
	p := New(Config{Addr: addr, MaxConns: 2})
	p.Close()

	if _, err := p.Acquire(context.Background()); err == nil {
		t.Fatal("Acquire() on a closed pool should fail")
	}
}

func TestRetryPolicyBackoffStaysWithinBounds(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 5, BaseDelay: 50 * time.Millisecond, MaxDelay: 2 * time.Second}

	for attempt := 1; attempt <= 10; attempt++ {
		d := policy.Backoff(attempt)
		if d < 0 || d > policy.MaxDelay {
			t.Fatalf("Backoff(%d) = %v; want within [0, %v]", attempt, d, policy.MaxDelay)
		}
	}
}
