package h2

import (
	"bufio"
	"context"
	"sync"
	"time"

	"github.com/valyala/fasthttp"
)

const (
	continuationMaxFrames      = 10
	continuationMaxAccumulated = 16384
	continuationMaxSingle      = 8192
)

// Conn is one established HTTP/2 connection: the protocol engine of
// spec.md §4.5. One reader goroutine drains the transport, one writer
// goroutine drains an outbound frame queue; callers enqueue frames
// through RoundTrip (spec.md §5).
type Conn struct {
	transport Transport
	br        *bufio.Reader
	bw        *bufio.Writer

	cfg *Config

	localMu sync.Mutex
	local   Settings
	remote  Settings

	enc *Encoder
	dec *Decoder
	encMu sync.Mutex // the engine serializes all HPACK encode calls (spec.md §5)
	decMu sync.Mutex // ...and all decode calls

	flow    *connFlowController
	streams *streamRegistry

	// writeSeq serializes "allocate stream id + enqueue its HEADERS
	// frames", which is sufficient to guarantee ascending stream-id
	// emission order (spec.md §4.5, §5) without holding the lock across
	// flow-control waits for DATA frames.
	writeSeq sync.Mutex
	writeCh  chan *FrameHeader

	established   chan struct{}
	establishedOnce sync.Once

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error

	pingMu  sync.Mutex
	pending map[[8]byte]chan time.Time

	goAwayMu      sync.Mutex
	goAwayRecv    bool
	lastProcessed uint32

	contMu     sync.Mutex
	contStream uint32
	contFrames int
	contAccum  int

	OnRTT func(time.Duration)
}

// NewConn wires up a Conn over an already-connected Transport and starts
// its background read/write loops. cfg may be nil for DefaultConfig().
func NewConn(t Transport, cfg *Config) *Conn {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	local := DefaultSettings()
	local.MaxConcurrentStreams = cfg.MaxConcurrentStreams
	local.InitialWindowSize = cfg.InitialWindowSize
	local.MaxFrameSize = cfg.MaxFrameSize
	local.MaxHeaderListSize = cfg.MaxHeaderListSize
	// This client never accepts server push (pushpromise.go always rejects
	// PUSH_PROMISE), so it advertises ENABLE_PUSH=0 rather than relying on
	// the RFC 7540 §6.5.2 default of 1.
	local.EnablePush = false
	local.MarkAll()
	if cfg.MaxHeaderListSize == 0 {
		// 0 means "unbounded" in our own model, but on the wire omitting
		// the setting (rather than sending a literal 0) is what actually
		// communicates "no limit" to the peer (RFC 7540 §6.5.2).
		local.seen &^= seenMaxHeaderListSize
	}

	remote := DefaultSettings()

	c := &Conn{
		transport: t,
		br:        bufio.NewReaderSize(t, 64*1024),
		bw:        bufio.NewWriterSize(t, 64*1024),
		cfg:       cfg,
		local:     local,
		remote:    remote,
		enc:       NewEncoder(local.HeaderTableSize),
		dec:       NewDecoder(local.HeaderTableSize, local.MaxHeaderListSize),
		flow:      newConnFlowController(int32(remote.InitialWindowSize), int32(local.InitialWindowSize)),
		streams:   newStreamRegistry(),
		writeCh:   make(chan *FrameHeader, 64), // bounded: back-pressures producers (spec.md §9)
		established: make(chan struct{}),
		closed:      make(chan struct{}),
		pending:     make(map[[8]byte]chan time.Time),
	}

	// startup writes the client preface and initial SETTINGS synchronously,
	// before either background loop starts: writeLoop and startup both
	// write to c.bw, which bufio.Writer does not allow concurrently, and
	// the preface must reach the wire before anything else regardless
	// (RFC 7540 §3.5) — including a SETTINGS ACK that handleSettings
	// could otherwise enqueue the moment readLoop sees the peer's SETTINGS.
	c.startup()
	go c.writeLoop()
	go c.readLoop()

	return c
}

func (c *Conn) startup() {
	c.bw.WriteString(ClientPreface)

	// local.MarkAll (set in NewConn) flags every field as explicit, so
	// EncodeSettingsPayload emits the initial parameter set (minus
	// MAX_HEADER_LIST_SIZE when it is 0, which NewConn unflags); the
	// round trip through DecodeSettingsPayload reuses the same payload
	// parser the read path uses, rather than a second ad hoc encoding.
	payload := c.local.EncodeSettingsPayload(nil)
	pairs, _ := DecodeSettingsPayload(payload)

	fh := AcquireFrameHeader()
	sf := AcquireFrame(FrameSettingsType).(*SettingsFrame)
	sf.SetPairs(pairs)
	fh.SetBody(sf)
	fh.WriteTo(c.bw)
	c.bw.Flush()
}

// Established reports whether the peer's first SETTINGS has been
// received and ACKed (spec.md §4.5 step 4).
func (c *Conn) Established() <-chan struct{} { return c.established }

func (c *Conn) markEstablished() {
	c.establishedOnce.Do(func() { close(c.established) })
}

func (c *Conn) writeLoop() {
	for {
		select {
		case fh, ok := <-c.writeCh:
			if !ok {
				return
			}
			fh.WriteTo(c.bw)
			// drain any further already-queued frames before flushing,
			// so a burst of small frames costs one syscall.
			for drained := true; drained; {
				select {
				case fh2, ok := <-c.writeCh:
					if !ok {
						c.bw.Flush()
						return
					}
					fh2.WriteTo(c.bw)
				default:
					drained = false
				}
			}
			if err := c.bw.Flush(); err != nil {
				c.fail(&TransportError{Err: err})
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (c *Conn) enqueue(fh *FrameHeader) {
	select {
	case c.writeCh <- fh:
	case <-c.closed:
		ReleaseFrameHeader(fh)
	}
}

func (c *Conn) readLoop() {
	for {
		c.localMu.Lock()
		maxFrame := c.local.MaxFrameSize
		c.localMu.Unlock()

		fh, err := ReadFrameFrom(c.br, maxFrame)
		if err != nil {
			if fh != nil {
				ReleaseFrameHeader(fh)
			}
			if c.handleReadError(err) {
				return
			}
			continue
		}
		if err := c.dispatch(fh); err != nil {
			ReleaseFrameHeader(fh)
			if c.handleReadError(err) {
				return
			}
			continue
		}
		ReleaseFrameHeader(fh)
	}
}

// handleReadError reacts to an error surfaced while reading or dispatching
// one frame, and reports whether the read loop must stop. A StreamError
// is scoped to a single stream (RFC 7540 §5.4.2): it resets that stream
// with RST_STREAM and the connection stays open. Anything else —
// ErrUnknownFrameType aside, which is already fully handled by the frame
// parser — is connection-fatal and triggers GOAWAY plus teardown.
func (c *Conn) handleReadError(err error) bool {
	if err == ErrUnknownFrameType {
		return false
	}
	if se, ok := err.(*StreamError); ok {
		c.resetStream(se.StreamID, se.Code)
		return false
	}
	c.fail(err)
	return true
}

func (c *Conn) dispatch(fh *FrameHeader) error {
	if _, isCont := fh.Body().(*ContinuationFrame); !isCont {
		c.contMu.Lock()
		open := c.contStream != 0
		c.contMu.Unlock()
		if open {
			// A HEADERS block is open: RFC 7540 §6.10 allows nothing but its
			// own CONTINUATION frames until END_HEADERS, on pain of a
			// connection PROTOCOL_ERROR (spec.md §4.4) — this also catches a
			// frame for a different stream interleaved mid-block.
			return NewConnError(ProtocolError, "frame interleaved mid HEADERS/CONTINUATION sequence")
		}
	}

	switch b := fh.Body().(type) {
	case *SettingsFrame:
		return c.handleSettings(b)
	case *PingFrame:
		return c.handlePing(b)
	case *GoAwayFrame:
		return c.handleGoAway(b)
	case *WindowUpdateFrame:
		return c.handleWindowUpdate(fh.Stream(), b)
	case *RstStreamFrame:
		return c.handleRstStream(fh.Stream(), b)
	case *HeadersFrame:
		return c.handleHeaders(fh.Stream(), b)
	case *ContinuationFrame:
		return c.handleContinuation(fh.Stream(), b)
	case *DataFrame:
		return c.handleData(fh.Stream(), b)
	case *PriorityFrame:
		return nil // advisory only, already validated during parse
	case *PushPromiseFrame:
		return nil // Deserialize already returned the rejecting ConnError
	default:
		return nil
	}
}

func (c *Conn) handleSettings(s *SettingsFrame) error {
	if s.Ack() {
		return nil
	}

	c.localMu.Lock()
	oldInitWin := c.remote.InitialWindowSize
	err := c.remote.Apply(s.Pairs())
	newInitWin := c.remote.InitialWindowSize
	c.localMu.Unlock()
	if err != nil {
		return err
	}

	if newInitWin != oldInitWin {
		delta := int32(newInitWin) - int32(oldInitWin)
		if err := c.flow.adjustInitialWindow(delta); err != nil {
			return err
		}
	}

	for _, p := range s.Pairs() {
		if p.ID == SettingHeaderTableSize {
			c.encMu.Lock()
			c.enc.SetMaxDynamicTableSize(p.Value)
			c.encMu.Unlock()
		}
	}

	ack := AcquireFrameHeader()
	af := AcquireFrame(FrameSettingsType).(*SettingsFrame)
	af.SetAck(true)
	ack.SetBody(af)
	c.enqueue(ack)

	c.markEstablished()
	return nil
}

func (c *Conn) handlePing(p *PingFrame) error {
	if p.Ack() {
		c.pingMu.Lock()
		data := p.Data()
		ch, ok := c.pending[data]
		if ok {
			delete(c.pending, data)
		}
		c.pingMu.Unlock()
		if ok {
			ch <- time.Now()
		}
		return nil
	}

	fh := AcquireFrameHeader()
	af := AcquireFrame(FramePing).(*PingFrame)
	af.SetData(p.Data())
	af.SetAck(true)
	fh.SetBody(af)
	c.enqueue(fh)
	return nil
}

func (c *Conn) handleGoAway(g *GoAwayFrame) error {
	c.goAwayMu.Lock()
	c.goAwayRecv = true
	c.lastProcessed = g.LastStreamID()
	last := c.lastProcessed
	c.goAwayMu.Unlock()

	for _, s := range c.streams.all() {
		if s.id > last {
			s.complete(nil, NewStreamError(s.id, RefusedStreamError))
		}
	}
	return nil
}

func (c *Conn) handleWindowUpdate(streamID uint32, w *WindowUpdateFrame) error {
	if streamID == 0 {
		return c.flow.conn.addSend(int64(w.Increment()))
	}
	fw, ok := c.flow.get(streamID)
	if !ok {
		return nil
	}
	if err := fw.addSend(int64(w.Increment())); err != nil {
		c.resetStream(streamID, FlowControlError)
		return nil
	}
	return nil
}

func (c *Conn) handleRstStream(streamID uint32, r *RstStreamFrame) error {
	s, ok := c.streams.get(streamID)
	if !ok {
		return nil
	}
	s.setState(StateClosed)
	c.flow.remove(streamID)
	c.streams.remove(streamID)
	s.complete(nil, NewStreamError(streamID, r.Code()))
	return nil
}

func (c *Conn) handleHeaders(streamID uint32, h *HeadersFrame) error {
	s, ok := c.streams.get(streamID)
	if !ok {
		return nil // response for a stream we already cleaned up; ignore
	}

	c.contMu.Lock()
	if c.contStream != 0 && c.contStream != streamID {
		c.contMu.Unlock()
		return NewConnError(ProtocolError, "frame interleaved mid HEADERS/CONTINUATION sequence")
	}
	if len(h.HeaderBlock()) > c.cfg.ContinuationMaxSingle {
		c.contMu.Unlock()
		return NewConnError(ProtocolError, "HEADERS fragment exceeds single-fragment cap")
	}
	s.mu.Lock()
	s.contAccumulated = len(h.HeaderBlock())
	s.headerBlockBuf = append(s.headerBlockBuf[:0], h.HeaderBlock()...)
	s.mu.Unlock()

	if h.EndHeaders() {
		c.contStream = 0
		c.contFrames = 0
		c.contAccum = 0
		c.contMu.Unlock()
		return c.finishHeaders(s, h.EndStream())
	}
	c.contStream = streamID
	c.contFrames = 0
	c.contAccum = len(h.HeaderBlock())
	c.contMu.Unlock()

	s.mu.Lock()
	s.pendingEndStream = h.EndStream()
	s.mu.Unlock()
	return nil
}

func (c *Conn) handleContinuation(streamID uint32, cf *ContinuationFrame) error {
	c.contMu.Lock()
	if c.contStream != streamID {
		c.contMu.Unlock()
		return NewConnError(ProtocolError, "CONTINUATION without matching HEADERS")
	}
	c.contFrames++
	c.contAccum += len(cf.HeaderBlock())
	if c.contFrames > c.cfg.ContinuationMaxFrames || c.contAccum > c.cfg.ContinuationMaxAccumulated || len(cf.HeaderBlock()) > c.cfg.ContinuationMaxSingle {
		c.contMu.Unlock()
		return NewConnError(ProtocolError, "CONTINUATION flood limit exceeded")
	}
	endHeaders := cf.EndHeaders()
	if endHeaders {
		c.contStream = 0
		c.contFrames = 0
		c.contAccum = 0
	}
	c.contMu.Unlock()

	s, ok := c.streams.get(streamID)
	if !ok {
		return nil
	}
	s.mu.Lock()
	s.headerBlockBuf = append(s.headerBlockBuf, cf.HeaderBlock()...)
	endStream := s.pendingEndStream
	s.mu.Unlock()

	if endHeaders {
		return c.finishHeaders(s, endStream)
	}
	return nil
}

func (c *Conn) finishHeaders(s *Stream, endStream bool) error {
	c.decMu.Lock()
	var a responseAssembler
	resp := fasthttp.AcquireResponse()
	s.mu.Lock()
	block := append([]byte(nil), s.headerBlockBuf...)
	s.mu.Unlock()
	err := a.applyHeaders(c.dec, block, resp)
	c.decMu.Unlock()
	if err != nil {
		fasthttp.ReleaseResponse(resp)
		// HPACK failures desynchronize the shared dynamic table and are
		// always connection errors (RFC 7541 §6.2); a bad :status value
		// only invalidates this one stream.
		if _, ok := err.(*ConnError); ok {
			return err
		}
		c.resetStream(s.id, ProtocolError)
		return nil
	}

	s.setState(s.State().onRecvHeaders(endStream))
	if endStream {
		c.closeStreamRemote(s, resp)
	} else {
		s.mu.Lock()
		s.partial = resp
		s.mu.Unlock()
	}
	return nil
}

func (c *Conn) closeStreamRemote(s *Stream, resp *fasthttp.Response) {
	s.mu.Lock()
	if resp == nil {
		resp = s.partial
	}
	if s.body != nil && resp != nil {
		// Copy rather than alias (SetBodyRaw): s.body's backing array goes
		// back to bytebufferpool as soon as this stream is removed below,
		// and a concurrent stream can Get() and overwrite that same array
		// before the caller in RoundTrip has copied the response out.
		resp.SetBody(s.body.B)
	}
	s.mu.Unlock()

	next := s.State().onRecvEndStream()
	s.setState(next)
	if next == StateClosed {
		c.flow.remove(s.id)
		c.streams.remove(s.id)
	}
	s.complete(resp, nil)
}

func (c *Conn) handleData(streamID uint32, d *DataFrame) error {
	if fw, ok := c.flow.get(streamID); ok {
		if fw.recvConsume(int32(len(d.Data()))) {
			c.resetStream(streamID, FlowControlError)
			return nil
		}
	}
	if overflow := c.flow.conn.recvConsume(int32(len(d.Data()))); overflow {
		return NewConnError(FlowControlError, "connection receive window exceeded")
	}

	s, ok := c.streams.get(streamID)
	if !ok {
		return nil
	}
	s.mu.Lock()
	s.body.Write(d.Data())
	s.mu.Unlock()

	// The body is buffered and handed to the caller synchronously (no
	// lazy/streaming consumption), so bytes are "consumed" as soon as
	// they're received: charge-then-credit happens back to back and a
	// WINDOW_UPDATE is emitted as soon as the refill threshold is
	// crossed (spec.md §4.3).
	if fw, ok := c.flow.get(streamID); ok {
		if inc := fw.consume(int32(len(d.Data()))); inc > 0 {
			c.sendWindowUpdate(streamID, inc)
		}
	}
	if inc := c.flow.conn.consume(int32(len(d.Data()))); inc > 0 {
		c.sendWindowUpdate(0, inc)
	}

	if d.EndStream() {
		c.closeStreamRemote(s, nil)
	}
	return nil
}

func (c *Conn) sendWindowUpdate(streamID uint32, inc uint32) {
	fh := AcquireFrameHeader()
	fh.SetStream(streamID)
	wf := AcquireFrame(FrameWindowUpdate).(*WindowUpdateFrame)
	wf.SetIncrement(inc)
	fh.SetBody(wf)
	c.enqueue(fh)
}

func (c *Conn) resetStream(streamID uint32, code ErrorCode) {
	fh := AcquireFrameHeader()
	fh.SetStream(streamID)
	rf := AcquireFrame(FrameRstStream).(*RstStreamFrame)
	rf.SetCode(code)
	fh.SetBody(rf)
	c.enqueue(fh)

	if s, ok := c.streams.get(streamID); ok {
		s.setState(StateClosed)
		c.flow.remove(streamID)
		c.streams.remove(streamID)
		s.complete(nil, NewStreamError(streamID, code))
	}
}

// fail tears the connection down: emits GOAWAY (for a protocol-level
// ConnError) and fails every open stream (spec.md §4.5 "Errors").
func (c *Conn) fail(err error) {
	c.closeOnce.Do(func() {
		c.closeErr = err
		if ce, ok := err.(*ConnError); ok {
			fh := AcquireFrameHeader()
			gf := AcquireFrame(FrameGoAway).(*GoAwayFrame)
			gf.SetCode(ce.Code)
			c.goAwayMu.Lock()
			gf.SetLastStreamID(c.lastProcessed)
			c.goAwayMu.Unlock()
			fh.SetBody(gf)
			fh.WriteTo(c.bw)
			c.bw.Flush()
		}
		close(c.closed)
		c.transport.Close()
		streams := c.streams.all()
		for _, s := range streams {
			s.complete(nil, err)
		}
		// A failure with no in-flight stream to carry it back to a caller
		// (an idle pooled connection whose read loop just died) would
		// otherwise go unreported until the pool's next Acquire notices
		// the connection is closed; log it so it isn't silent until then.
		if len(streams) == 0 {
			if ce, ok := err.(*ConnError); !ok || ce.Code != NoError {
				DefaultLogger.Printf("h2: connection closed: %v", err)
			}
		}
	})
}

// Close shuts the connection down cleanly (no GOAWAY error code attached).
func (c *Conn) Close() error {
	c.fail(NewConnError(NoError, "closed by caller"))
	return c.closeErr
}

func (c *Conn) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Ping sends a PING and blocks until it is ACKed, ctx permitting, and
// reports round-trip time via OnRTT if set.
func (c *Conn) Ping(ctx context.Context) (time.Duration, error) {
	var payload [8]byte
	ch := make(chan time.Time, 1)
	start := time.Now()

	c.pingMu.Lock()
	c.pending[payload] = ch
	c.pingMu.Unlock()

	fh := AcquireFrameHeader()
	pf := AcquireFrame(FramePing).(*PingFrame)
	pf.SetData(payload)
	fh.SetBody(pf)
	c.enqueue(fh)

	select {
	case t := <-ch:
		rtt := t.Sub(start)
		if c.OnRTT != nil {
			c.OnRTT(rtt)
		}
		return rtt, nil
	case <-ctx.Done():
		return 0, &TimeoutError{Op: "ping"}
	case <-c.closed:
		return 0, c.closeErr
	}
}

// RoundTrip sends req and blocks for its response (spec.md §4.5, §4.6).
func (c *Conn) RoundTrip(ctx context.Context, req *fasthttp.Request, res *fasthttp.Response) error {
	select {
	case <-c.established:
	case <-ctx.Done():
		return &TimeoutError{Op: "wait for connection establishment"}
	case <-c.closed:
		return c.closeErr
	}

	c.localMu.Lock()
	sendInit := int32(c.remote.InitialWindowSize)
	recvInit := int32(c.local.InitialWindowSize)
	maxFrame := c.remote.MaxFrameSize
	c.localMu.Unlock()

	c.writeSeq.Lock()
	s, err := c.streams.allocate(nil, nil)
	if err != nil {
		c.writeSeq.Unlock()
		return err
	}
	fw := c.flow.newStream(s.id, sendInit, recvInit)
	s.send, s.recv = fw, fw

	c.encMu.Lock()
	frames, err := encodeRequestFrames(c.enc, s.id, req, maxFrame, c.cfg.EnableCompression)
	c.encMu.Unlock()
	if err != nil {
		c.writeSeq.Unlock()
		c.streams.remove(s.id)
		c.flow.remove(s.id)
		return err
	}

	s.setState(s.State().onSendHeaders(len(frames) > 0 && isEndStreamOnly(frames)))

	headerFrames, dataFrames := splitHeaderAndData(frames)
	for _, fh := range headerFrames {
		c.enqueue(fh)
	}
	c.writeSeq.Unlock()

	for _, fh := range dataFrames {
		df := fh.Body().(*DataFrame)
		n := int32(len(df.Data()))
		if !fw.waitForFull(n) || !c.flow.conn.waitForFull(n) {
			ReleaseFrameHeader(fh)
			return c.closeErr
		}
		c.enqueue(fh)
	}

	select {
	case <-s.Wait():
		resp, werr := s.Result()
		if werr != nil {
			return werr
		}
		resp.CopyTo(res)
		fasthttp.ReleaseResponse(resp)
		return nil
	case <-ctx.Done():
		c.resetStream(s.id, CancelError)
		return &TimeoutError{Op: "round trip"}
	case <-c.closed:
		return c.closeErr
	}
}

func isEndStreamOnly(frames []*FrameHeader) bool {
	if len(frames) == 0 {
		return false
	}
	hf, ok := frames[0].Body().(*HeadersFrame)
	return ok && hf.EndStream()
}

func splitHeaderAndData(frames []*FrameHeader) (headers, data []*FrameHeader) {
	for _, fh := range frames {
		switch fh.Body().(type) {
		case *DataFrame:
			data = append(data, fh)
		default:
			headers = append(headers, fh)
		}
	}
	return
}
