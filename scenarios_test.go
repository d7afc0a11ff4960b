package h2

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

// TestOversizedDataTripsGoAway covers a DATA frame larger than the
// client's advertised MAX_FRAME_SIZE: a connection-level FrameSizeError
// that closes the connection outright.
func TestOversizedDataTripsGoAway(t *testing.T) {
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
	hf.SetHeaderBlock(encodeServerResponseHeaders("200"))
	hf.SetEndHeaders(true)
	_, err := mt.WritePeerBytes(serializeFrame(t, 1, hf))
	require.NoError(t, err)

	oversized := make([]byte, conn.local.MaxFrameSize+1)
	df := AcquireFrame(FrameData).(*DataFrame)
	df.SetData(oversized)
	_, err = mt.WritePeerBytes(serializeFrame(t, 1, df))
	require.NoError(t, err)

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("round trip never completed after oversized DATA")
	}

	select {
	case <-conn.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("connection was never torn down by the oversized frame")
	}
}

// TestSettingsAckWithPayloadTripsGoAway covers a SETTINGS ACK carrying a
// non-empty payload: malformed per RFC 7540 §6.5, a FrameSizeError.
func TestSettingsAckWithPayloadTripsGoAway(t *testing.T) {
	mt := NewMemoryTransport()
	cfg := DefaultConfig()
	conn := NewConn(mt, cfg)
	defer conn.Close()

	_, err := mt.WritePeerBytes(serverSettingsFrame(t))
	require.NoError(t, err)
	waitEstablished(t, conn)

	// A hand-built SETTINGS ACK with a 6-byte payload: malformed on the
	// wire in a way SettingsFrame's own Serialize (which always nils the
	// payload on an ACK) cannot produce, so the raw bytes are built by hand.
	raw := make([]byte, FrameHeaderLen+6)
	writeFrameHeaderBytes(raw[:FrameHeaderLen], 6, FrameSettingsType, FlagAck, 0)

	_, err = mt.WritePeerBytes(raw)
	require.NoError(t, err)

	select {
	case <-conn.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("connection was never torn down by the malformed SETTINGS ACK")
	}
}

// TestWindowUpdateZeroResetsOnlyTheStream covers a WINDOW_UPDATE with a
// zero increment on a stream: a stream-scoped ProtocolError, RST_STREAM
// only, connection stays usable.
func TestWindowUpdateZeroResetsOnlyTheStream(t *testing.T) {
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

	wf := AcquireFrame(FrameWindowUpdate).(*WindowUpdateFrame)
	wf.SetIncrement(0)
	_, err := mt.WritePeerBytes(serializeFrame(t, 1, wf))
	require.NoError(t, err)

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("round trip never completed after WINDOW_UPDATE(0)")
	}

	require.False(t, conn.IsClosed(), "connection must stay open after a stream-scoped error")

	// The connection is still usable: a fresh request opens a new stream
	// and completes normally.
	req2 := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req2)
	req2.SetRequestURI("http://example.com/again")
	req2.Header.SetMethod("GET")
	res2 := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(res2)

	done2 := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		done2 <- conn.RoundTrip(ctx, req2, res2)
	}()

	hf := AcquireFrame(FrameHeadersType).(*HeadersFrame)
	hf.SetHeaderBlock(encodeServerResponseHeaders("200"))
	hf.SetEndHeaders(true)
	hf.SetEndStream(true)
	_, err = mt.WritePeerBytes(serializeFrame(t, 3, hf))
	require.NoError(t, err)

	select {
	case err := <-done2:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("second round trip never completed on the surviving connection")
	}
	require.Equal(t, 200, res2.StatusCode())
}

// TestConcurrentStreamsCompleteIndependently covers three requests opened
// back to back, with the peer answering them out of order: every caller
// gets its own response and the client's stream ids stay 1, 3, 5.
func TestConcurrentStreamsCompleteIndependently(t *testing.T) {
	conn, mt := newTestConn(t)

	type result struct {
		res *fasthttp.Response
		err error
	}
	start := func(path string) chan result {
		ch := make(chan result, 1)
		req := fasthttp.AcquireRequest()
		req.SetRequestURI("http://example.com/" + path)
		req.Header.SetMethod("GET")
		res := fasthttp.AcquireResponse()
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			err := conn.RoundTrip(ctx, req, res)
			fasthttp.ReleaseRequest(req)
			ch <- result{res: res, err: err}
		}()
		return ch
	}

	d1 := start("a")
	time.Sleep(20 * time.Millisecond)
	d3 := start("b")
	time.Sleep(20 * time.Millisecond)
	d5 := start("c")
	time.Sleep(20 * time.Millisecond)

	respondOn := func(streamID uint32, body string) {
		hf := AcquireFrame(FrameHeadersType).(*HeadersFrame)
		hf.SetHeaderBlock(encodeServerResponseHeaders("200"))
		hf.SetEndHeaders(true)
		_, err := mt.WritePeerBytes(serializeFrame(t, streamID, hf))
		require.NoError(t, err)

		df := AcquireFrame(FrameData).(*DataFrame)
		df.SetData([]byte(body))
		df.SetEndStream(true)
		_, err = mt.WritePeerBytes(serializeFrame(t, streamID, df))
		require.NoError(t, err)
	}

	// Peer answers out of order: stream 3, then 1, then 5.
	respondOn(3, "second")
	respondOn(1, "first")
	respondOn(5, "third")

	wait := func(ch chan result, want string) {
		select {
		case r := <-ch:
			require.NoError(t, r.err)
			require.Equal(t, want, string(r.res.Body()))
			fasthttp.ReleaseResponse(r.res)
		case <-time.After(2 * time.Second):
			t.Fatal("stream never completed")
		}
	}
	wait(d1, "first")
	wait(d3, "second")
	wait(d5, "third")
}
