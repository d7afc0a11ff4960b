package h2

import (
	"context"
	"crypto/tls"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

func TestNegotiatorRemembersWithinTTL(t *testing.T) {
	n := NewNegotiator(50 * time.Millisecond)
	n.Remember("example.com:443", ProtocolH2)

	proto, ok := n.Remembered("example.com:443")
	require.True(t, ok)
	require.Equal(t, ProtocolH2, proto)

	time.Sleep(60 * time.Millisecond)
	_, ok = n.Remembered("example.com:443")
	require.False(t, ok)
}

func TestNegotiatorDefaultsTTLWhenNonPositive(t *testing.T) {
	n := NewNegotiator(0)
	require.Equal(t, 10*time.Minute, n.ttl)
}

func TestFromALPNMapsH2AndFallsBackToH1(t *testing.T) {
	require.Equal(t, ProtocolH2, FromALPN(tls.ConnectionState{NegotiatedProtocol: "h2"}))
	require.Equal(t, ProtocolH1, FromALPN(tls.ConnectionState{NegotiatedProtocol: ""}))
	require.Equal(t, ProtocolH1, FromALPN(tls.ConnectionState{NegotiatedProtocol: "http/1.1"}))
}

// newFakeClient builds a Client whose pool dials directly into in-memory
// transports instead of real sockets, so Do can be exercised end to end
// without network I/O.
func newFakeClient(t *testing.T) (*Client, *MemoryTransport) {
	t.Helper()
	cfg := DefaultConfig()
	c := &Client{
		cfg:        cfg,
		negotiator: NewNegotiator(time.Minute),
		breakers:   NewBreakerRegistry(cfg),
	}
	c.pool = NewPool(cfg)

	var mt *MemoryTransport
	c.pool.Dial = func(OriginKey) (*Conn, error) {
		mt = NewMemoryTransport()
		conn := NewConn(mt, cfg)
		handshakeServer(t, mt)
		waitEstablished(t, conn)
		return conn, nil
	}
	return c, mt
}

func TestClientDoRoundTripsThroughPoolAndBreaker(t *testing.T) {
	c, _ := newFakeClient(t)

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	req.SetRequestURI("http://example.com/hello")
	req.Header.SetMethod("GET")
	res := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(res)

	origin := originOf(req)
	done := make(chan error, 1)
	go func() {
		done <- c.Do(context.Background(), req, res)
	}()

	// Find the transport the fake dialer just created.
	var mt *MemoryTransport
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.pool.mu.Lock()
		entries := c.pool.origins[origin]
		if len(entries) > 0 {
			mt = entries[0].conn.transport.(*MemoryTransport)
		}
		c.pool.mu.Unlock()
		if mt != nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.NotNil(t, mt, "pool never dialed a connection")

	hf := AcquireFrame(FrameHeadersType).(*HeadersFrame)
	hf.SetHeaderBlock(encodeServerResponseHeaders("200"))
	hf.SetEndHeaders(true)
	hf.SetEndStream(true)
	_, err := mt.WritePeerBytes(serializeFrame(t, 1, hf))
	require.NoError(t, err)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("client.Do never completed")
	}
	require.Equal(t, 200, res.StatusCode())

	stats := c.breakers.Get(origin.String()).Stats()
	require.Equal(t, BreakerClosed, stats.State)
}

func TestClientDoShortCircuitsWhenBreakerOpen(t *testing.T) {
	c, _ := newFakeClient(t)

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	req.SetRequestURI("http://example.com/")
	req.Header.SetMethod("GET")
	res := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(res)

	origin := originOf(req)
	breaker := c.breakers.Get(origin.String())
	for i := 0; i < c.cfg.CircuitBreakerFailureThreshold; i++ {
		breaker.RecordFailure(ErrUnknownFrameType)
	}
	require.Equal(t, BreakerOpen, breaker.Stats().State)

	err := c.Do(context.Background(), req, res)
	require.Error(t, err)
	var openErr *CircuitOpenError
	require.ErrorAs(t, err, &openErr)
}
