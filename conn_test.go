package h2

import (
	"bufio"
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

// serializeFrame renders a Frame body to raw wire bytes for a simulated
// peer write.
func serializeFrame(t *testing.T, streamID uint32, body Frame) []byte {
	t.Helper()
	fh := AcquireFrameHeader()
	fh.SetStream(streamID)
	fh.SetBody(body)
	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)
	_, err := fh.WriteTo(bw)
	require.NoError(t, err)
	require.NoError(t, bw.Flush())
	ReleaseFrameHeader(fh)
	return buf.Bytes()
}

func serverSettingsFrame(t *testing.T) []byte {
	sf := AcquireFrame(FrameSettingsType).(*SettingsFrame)
	return serializeFrame(t, 0, sf)
}

func serverSettingsAck(t *testing.T) []byte {
	sf := AcquireFrame(FrameSettingsType).(*SettingsFrame)
	sf.SetAck(true)
	return serializeFrame(t, 0, sf)
}

// handshakeServer sends an empty SETTINGS + SETTINGS ACK as the peer,
// which is enough to establish the connection (conn.go handleSettings
// marks established on the first non-ACK SETTINGS it processes).
func handshakeServer(t *testing.T, mt *MemoryTransport) {
	t.Helper()
	_, err := mt.WritePeerBytes(serverSettingsFrame(t))
	require.NoError(t, err)
	_, err = mt.WritePeerBytes(serverSettingsAck(t))
	require.NoError(t, err)
}

// waitEstablished blocks on conn.Established() with a test-safe timeout.
func waitEstablished(t *testing.T, conn *Conn) {
	t.Helper()
	select {
	case <-conn.Established():
	case <-time.After(2 * time.Second):
		t.Fatal("connection never established")
	}
}

func newTestConn(t *testing.T) (*Conn, *MemoryTransport) {
	t.Helper()
	mt := NewMemoryTransport()
	cfg := DefaultConfig()
	conn := NewConn(mt, cfg)
	handshakeServer(t, mt)
	waitEstablished(t, conn)
	return conn, mt
}

// encodeServerResponseHeaders builds an HPACK-encoded header block with
// the given :status and a content-type, using a fresh encoder (the simulated peer's own HPACK state,
// independent of the client's).
func encodeServerResponseHeaders(status string) []byte {
	enc := NewEncoder(4096)
	return enc.Encode(nil, []HeaderField{
		{Name: ":status", Value: status},
		{Name: "content-type", Value: "text/plain"},
	})
}

func TestBasicGetRoundTrip(t *testing.T) {
	conn, mt := newTestConn(t)

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	req.SetRequestURI("http://example.com/hello")
	req.Header.SetMethod("GET")

	res := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(res)

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		done <- conn.RoundTrip(ctx, req, res)
	}()

	// The client always opens its first stream as id 1.
	hf := AcquireFrame(FrameHeadersType).(*HeadersFrame)
	hf.SetHeaderBlock(encodeServerResponseHeaders("200"))
	hf.SetEndHeaders(true)
	_, err := mt.WritePeerBytes(serializeFrame(t, 1, hf))
	require.NoError(t, err)

	df := AcquireFrame(FrameData).(*DataFrame)
	df.SetData([]byte("hello world"))
	df.SetEndStream(true)
	_, err = mt.WritePeerBytes(serializeFrame(t, 1, df))
	require.NoError(t, err)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("round trip never completed")
	}

	require.Equal(t, 200, res.StatusCode())
	require.Equal(t, []byte("hello world"), res.Body())
}

func TestGoAwayFailsInFlightStreamsAbovePeerLastProcessed(t *testing.T) {
	conn, mt := newTestConn(t)

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	req.SetRequestURI("http://example.com/")
	req.Header.SetMethod("GET")
	res := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(res)

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		done <- conn.RoundTrip(ctx, req, res)
	}()

	time.Sleep(50 * time.Millisecond) // let RoundTrip enqueue its HEADERS

	gf := AcquireFrame(FrameGoAway).(*GoAwayFrame)
	gf.SetLastStreamID(0)
	gf.SetCode(NoError)
	_, err := mt.WritePeerBytes(serializeFrame(t, 0, gf))
	require.NoError(t, err)

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("round trip never completed after GOAWAY")
	}
}

func TestContinuationFloodTripsGoAway(t *testing.T) {
	conn, mt := newTestConn(t)

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	req.SetRequestURI("http://example.com/")
	req.Header.SetMethod("GET")
	res := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(res)

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		done <- conn.RoundTrip(ctx, req, res)
	}()

	hf := AcquireFrame(FrameHeadersType).(*HeadersFrame)
	hf.SetHeaderBlock(nil)
	hf.SetEndHeaders(false)
	_, err := mt.WritePeerBytes(serializeFrame(t, 1, hf))
	require.NoError(t, err)

	// one more than continuationMaxFrames, none carrying END_HEADERS.
	for i := 0; i < continuationMaxFrames+1; i++ {
		cf := AcquireFrame(FrameContinuation).(*ContinuationFrame)
		cf.SetHeaderBlock([]byte{0})
		cf.SetEndHeaders(false)
		if _, err := mt.WritePeerBytes(serializeFrame(t, 1, cf)); err != nil {
			break
		}
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("round trip never resolved after CONTINUATION flood")
	}

	select {
	case <-conn.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("connection was never torn down by the flood protection")
	}
}

func TestPingRoundTrip(t *testing.T) {
	conn, mt := newTestConn(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			br := bufio.NewReader(bytes.NewReader(mt.WrittenBytes()))
			for {
				fh, err := ReadFrameFrom(br, 0)
				if err != nil {
					break
				}
				if pf, ok := fh.Body().(*PingFrame); ok && !pf.Ack() {
					af := AcquireFrame(FramePing).(*PingFrame)
					af.SetData(pf.Data())
					af.SetAck(true)
					mt.WritePeerBytes(serializeFrame(t, 0, af))
					return
				}
			}
			time.Sleep(10 * time.Millisecond)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := conn.Ping(ctx)
	require.NoError(t, err)
	<-done
}
