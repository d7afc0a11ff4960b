package h2

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/valyala/fasthttp"
)

// Dialer establishes a Transport for an origin, choosing between
// ALPN-negotiated TLS and cleartext h2c prior-knowledge (spec.md §4.9),
// generalizing the teacher's Dialer/tryDial split.
type Dialer struct {
	cfg       *Config
	TLSConfig *tls.Config
}

func NewDialer(cfg *Config) *Dialer {
	tlsCfg := &tls.Config{NextProtos: []string{"h2"}, InsecureSkipVerify: !cfg.VerifySSL}
	return &Dialer{cfg: cfg, TLSConfig: tlsCfg}
}

func (d *Dialer) Dial(ctx context.Context, origin OriginKey) (Transport, Protocol, error) {
	addr := net.JoinHostPort(origin.Host, origin.Port)
	dctx, cancel := context.WithTimeout(ctx, d.cfg.ConnectTimeout)
	defer cancel()

	if origin.Scheme == "http" || d.cfg.H2PriorKnowledge {
		conn, err := (&net.Dialer{}).DialContext(dctx, "tcp", addr)
		if err != nil {
			return nil, ProtocolUnknown, err
		}
		return NewNetTransport(conn), ProtocolH2C, nil
	}

	rawConn, err := (&net.Dialer{}).DialContext(dctx, "tcp", addr)
	if err != nil {
		return nil, ProtocolUnknown, err
	}
	tlsConn := tls.Client(rawConn, d.TLSConfig)
	if err := tlsConn.HandshakeContext(dctx); err != nil {
		rawConn.Close()
		return nil, ProtocolUnknown, err
	}
	proto := FromALPN(tlsConn.ConnectionState())
	return NewNetTransport(tlsConn), proto, nil
}

// Client ties together the connection pool, protocol negotiator and
// circuit breaker behind a single Do method. Do consults the breaker
// first, then the pool (which dials through the negotiator), then the
// translator and engine.
type Client struct {
	cfg      *Config
	dialer   *Dialer
	pool     *Pool
	negotiator *Negotiator
	breakers *BreakerRegistry
}

func NewClient(cfg *Config) *Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := &Client{
		cfg:        cfg,
		dialer:     NewDialer(cfg),
		negotiator: NewNegotiator(10 * time.Minute),
		breakers:   NewBreakerRegistry(cfg),
	}
	c.pool = NewPool(cfg)
	c.pool.Dial = c.dial
	return c
}

func (c *Client) dial(origin OriginKey) (*Conn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
	defer cancel()

	if proto, ok := c.negotiator.Remembered(origin.String()); ok && proto == ProtocolH1 {
		return nil, NewConnError(HTTP11Required, "origin previously negotiated http/1.1")
	}

	t, proto, err := c.dialer.Dial(ctx, origin)
	if err != nil {
		return nil, err
	}
	if proto == ProtocolH1 {
		c.negotiator.Remember(origin.String(), proto)
		t.Close()
		return nil, NewConnError(HTTP11Required, "peer did not negotiate h2")
	}
	c.negotiator.Remember(origin.String(), proto)
	return NewConn(t, c.cfg), nil
}

func originOf(req *fasthttp.Request) OriginKey {
	scheme := "https"
	if s := req.URI().Scheme(); len(s) > 0 {
		scheme = string(s)
	}
	host := string(req.URI().Host())
	port := "443"
	if scheme == "http" {
		port = "80"
	}
	if h, p, err := net.SplitHostPort(host); err == nil {
		host, port = h, p
	}
	return OriginKey{Scheme: scheme, Host: host, Port: port}
}

// Do sends req and waits for res to be filled in, gated by the circuit
// breaker and routed through a pooled connection (spec.md §2, §4.5,
// §4.6).
func (c *Client) Do(ctx context.Context, req *fasthttp.Request, res *fasthttp.Response) error {
	origin := originOf(req)
	breaker := c.breakers.Get(origin.String())

	if !c.cfg.CircuitBreakerEnabled {
		return c.doOnce(ctx, origin, req, res)
	}

	if !breaker.ShouldAllow() {
		return &CircuitOpenError{Origin: origin.String()}
	}

	start := time.Now()
	err := c.doOnce(ctx, origin, req, res)
	rtt := time.Since(start)

	if err != nil {
		breaker.RecordFailure(err)
	} else {
		breaker.RecordSuccess()
	}
	_ = rtt
	return err
}

func (c *Client) doOnce(ctx context.Context, origin OriginKey, req *fasthttp.Request, res *fasthttp.Response) error {
	conn, err := c.pool.Acquire(origin)
	if err != nil {
		return err
	}

	deadline := c.cfg.DefaultTimeout
	rctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	start := time.Now()
	err = conn.RoundTrip(rctx, req, res)
	c.pool.Release(origin, conn, err == nil, time.Since(start))
	return err
}

// ConfigureClient installs this engine as hc's Transport, so an existing
// fasthttp.HostClient caller gains HTTP/2 without changing call sites
// (SPEC_FULL.md §3, grounded on the teacher's configure.go).
func ConfigureClient(hc *fasthttp.HostClient, cfg *Config) {
	client := NewClient(cfg)
	hc.Transport = func(req *fasthttp.Request, res *fasthttp.Response) error {
		return client.Do(context.Background(), req, res)
	}
}
