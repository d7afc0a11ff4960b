package h2

import (
	"bytes"
	"io"
	"net"
	"sync"
)

// Transport is the narrow byte-stream interface the engine consumes
// (spec.md §4.7). Concrete adapters wrap a TLS socket, a plain TCP
// socket (h2c prior knowledge), or an in-memory pipe for tests.
type Transport interface {
	io.Reader
	io.Writer
	Close() error
	IsClosed() bool
}

// netTransport adapts a net.Conn (already TLS-handshaked with ALPN "h2",
// or a plain cleartext TCP connection for h2c) to Transport.
type netTransport struct {
	conn net.Conn

	mu     sync.Mutex
	closed bool
}

// NewNetTransport wraps an established net.Conn. For TLS/ALPN, the
// handshake and ALPN negotiation are performed by the caller (spec.md
// §6: "the engine consumes a byte-stream transport that already
// negotiated ALPN") — this adapter does no TLS work itself.
func NewNetTransport(conn net.Conn) Transport {
	return &netTransport{conn: conn}
}

func (t *netTransport) Read(p []byte) (int, error)  { return t.conn.Read(p) }
func (t *netTransport) Write(p []byte) (int, error) { return t.conn.Write(p) }

func (t *netTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return t.conn.Close()
}

func (t *netTransport) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// MemoryTransport is the canonical deterministic test seam (spec.md §4.7,
// §9: "do not expose private mutable state of the engine to tests —
// inject peer behavior by writing into the adapter"). fromPeer is what a
// simulated peer writes (read by the engine); toPeer captures what the
// engine writes, for assertions.
type MemoryTransport struct {
	mu     sync.Mutex
	toPeer bytes.Buffer

	fromPeer *io.PipeReader
	fromPeerW *io.PipeWriter

	closed bool
}

func NewMemoryTransport() *MemoryTransport {
	r, w := io.Pipe()
	return &MemoryTransport{fromPeer: r, fromPeerW: w}
}

// WritePeerBytes injects bytes as if the simulated peer sent them.
func (m *MemoryTransport) WritePeerBytes(b []byte) (int, error) {
	return m.fromPeerW.Write(b)
}

// WrittenBytes returns everything the engine has written so far.
func (m *MemoryTransport) WrittenBytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]byte, m.toPeer.Len())
	copy(out, m.toPeer.Bytes())
	return out
}

func (m *MemoryTransport) Read(p []byte) (int, error) {
	return m.fromPeer.Read(p)
}

func (m *MemoryTransport) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.toPeer.Write(p)
}

func (m *MemoryTransport) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.fromPeerW.CloseWithError(io.EOF)
	return nil
}

func (m *MemoryTransport) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
