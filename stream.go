package h2

import (
	"sync"

	"github.com/valyala/bytebufferpool"
	"github.com/valyala/fasthttp"
)

// Stream is one multiplexed request/response exchange (spec.md §3, §4.4).
// Response delivery uses a one-shot channel rather than a condition
// variable so a single caller can select on it alongside a timeout or
// context cancellation (spec.md §9: "model each stream's response-wait
// as a one-shot completion primitive").
type Stream struct {
	id    uint32
	state StreamState
	mu    sync.Mutex

	send *flowWindow
	recv *flowWindow

	headers []HeaderField
	body    *bytebufferpool.ByteBuffer

	// headerBlockBuf accumulates a HEADERS+CONTINUATION sequence until
	// END_HEADERS; pendingEndStream remembers the HEADERS frame's
	// END_STREAM flag across that sequence; partial holds the response
	// once headers finish but before END_STREAM arrives (spec.md §4.4).
	headerBlockBuf   []byte
	pendingEndStream bool
	partial          *fasthttp.Response

	// contAccumulated records the length of the latest HEADERS fragment;
	// it is not read. CONTINUATION flood checks use Conn's own counters.
	contAccumulated int

	done   chan struct{}
	result *fasthttp.Response
	err    error
}

func newStream(id uint32, send, recv *flowWindow) *Stream {
	return &Stream{
		id:   id,
		send: send,
		recv: recv,
		body: bytebufferpool.Get(),
		done: make(chan struct{}),
	}
}

func (s *Stream) ID() uint32 { return s.id }

func (s *Stream) State() StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Stream) setState(next StreamState) {
	s.mu.Lock()
	s.state = next
	s.mu.Unlock()
}

// complete resolves the stream's one-shot signal with either a response
// or an error; only the first call has any effect.
func (s *Stream) complete(resp *fasthttp.Response, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return // already completed
	default:
	}
	s.result, s.err = resp, err
	close(s.done)
}

// Wait blocks until the stream completes, returning its channel so
// callers can select it against a timeout/context.
func (s *Stream) Wait() <-chan struct{} { return s.done }

func (s *Stream) Result() (*fasthttp.Response, error) {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result, s.err
}

func (s *Stream) release() {
	bytebufferpool.Put(s.body)
}

// streamRegistry owns all live streams for one connection plus the
// client-initiated id counter (spec.md §4.4).
type streamRegistry struct {
	mu       sync.Mutex
	streams  map[uint32]*Stream
	nextID   uint32
	lastPeer uint32
}

func newStreamRegistry() *streamRegistry {
	return &streamRegistry{
		streams: make(map[uint32]*Stream),
		nextID:  1,
	}
}

// allocate reserves the next odd client-initiated stream id (spec.md §4.4,
// invariant 1).
func (r *streamRegistry) allocate(send, recv *flowWindow) (*Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.nextID > 1<<31-1 {
		return nil, NewConnError(ProtocolError, "stream id space exhausted")
	}
	id := r.nextID
	r.nextID += 2
	s := newStream(id, send, recv)
	r.streams[id] = s
	return s, nil
}

func (r *streamRegistry) get(id uint32) (*Stream, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.streams[id]
	return s, ok
}

// remove deletes the stream record; the caller is responsible for also
// releasing flow-control state via connFlowController.remove.
func (r *streamRegistry) remove(id uint32) {
	r.mu.Lock()
	s, ok := r.streams[id]
	delete(r.streams, id)
	r.mu.Unlock()
	if ok {
		s.release()
	}
}

func (r *streamRegistry) all() []*Stream {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Stream, 0, len(r.streams))
	for _, s := range r.streams {
		out = append(out, s)
	}
	return out
}

// checkPeerInitiated validates a peer-initiated (even, or server-role
// response) stream id against RFC 7540 §5.1.1 monotonicity: a HEADERS
// referencing an id <= the last one we've already seen from this peer is
// a connection ProtocolError.
func (r *streamRegistry) checkPeerInitiated(id uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id <= r.lastPeer && r.lastPeer != 0 {
		return NewConnError(ProtocolError, "non-monotonic peer stream id")
	}
	r.lastPeer = id
	return nil
}
