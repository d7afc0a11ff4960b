package h2

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fakeConn() *Conn {
	return NewConn(NewMemoryTransport(), DefaultConfig())
}

func TestPoolAcquireDialsOnceThenReuses(t *testing.T) {
	cfg := DefaultConfig()
	p := NewPool(cfg)
	dials := 0
	p.Dial = func(OriginKey) (*Conn, error) {
		dials++
		return fakeConn(), nil
	}

	origin := OriginKey{Scheme: "https", Host: "example.com", Port: "443"}
	c1, err := p.Acquire(origin)
	require.NoError(t, err)
	p.Release(origin, c1, true, 10*time.Millisecond)

	c2, err := p.Acquire(origin)
	require.NoError(t, err)
	require.Same(t, c1, c2)
	require.Equal(t, 1, dials)
}

func TestPoolEvictsUnhealthyAndRedials(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConnectionPoolSize = 1
	p := NewPool(cfg)
	dials := 0
	p.Dial = func(OriginKey) (*Conn, error) {
		dials++
		return fakeConn(), nil
	}

	origin := OriginKey{Scheme: "https", Host: "example.com", Port: "443"}
	c1, err := p.Acquire(origin)
	require.NoError(t, err)

	// Drive the connection's health score below unhealthyScore.
	for i := 0; i < 10; i++ {
		p.Release(origin, c1, false, 0)
	}

	c2, err := p.Acquire(origin)
	require.NoError(t, err)
	require.NotSame(t, c1, c2)
	require.Equal(t, 2, dials)
}

func TestPoolCleanupExpiredClosesIdleConnections(t *testing.T) {
	cfg := DefaultConfig()
	p := NewPool(cfg)
	p.Dial = func(OriginKey) (*Conn, error) { return fakeConn(), nil }

	origin := OriginKey{Scheme: "https", Host: "example.com", Port: "443"}
	c1, err := p.Acquire(origin)
	require.NoError(t, err)
	p.Release(origin, c1, true, 0)

	time.Sleep(10 * time.Millisecond)
	p.CleanupExpired(5 * time.Millisecond)

	require.True(t, c1.IsClosed())
}
