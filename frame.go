package h2

import (
	"bufio"
	"io"
	"sync"

	"github.com/nyxhttp/h2/h2utils"
)

// FrameType is the one-byte frame type field (spec.md §3).
type FrameType uint8

const (
	FrameData         FrameType = 0x0
	FrameHeadersType  FrameType = 0x1
	FramePriority     FrameType = 0x2
	FrameRstStream    FrameType = 0x3
	FrameSettingsType FrameType = 0x4
	FramePushPromise  FrameType = 0x5
	FramePing         FrameType = 0x6
	FrameGoAway       FrameType = 0x7
	FrameWindowUpdate FrameType = 0x8
	FrameContinuation FrameType = 0x9

	frameTypeMax = FrameContinuation
)

func (t FrameType) String() string {
	switch t {
	case FrameData:
		return "DATA"
	case FrameHeadersType:
		return "HEADERS"
	case FramePriority:
		return "PRIORITY"
	case FrameRstStream:
		return "RST_STREAM"
	case FrameSettingsType:
		return "SETTINGS"
	case FramePushPromise:
		return "PUSH_PROMISE"
	case FramePing:
		return "PING"
	case FrameGoAway:
		return "GOAWAY"
	case FrameWindowUpdate:
		return "WINDOW_UPDATE"
	case FrameContinuation:
		return "CONTINUATION"
	default:
		return "UNKNOWN"
	}
}

// FrameFlags is the one-byte frame flags field. Only a subset of bits are
// named; meanings are per frame type (spec.md §3).
type FrameFlags uint8

const (
	FlagAck        FrameFlags = 0x1
	FlagEndStream  FrameFlags = 0x1
	FlagEndHeaders FrameFlags = 0x4
	FlagPadded     FrameFlags = 0x8
	FlagPriority   FrameFlags = 0x20
)

func (f FrameFlags) Has(flag FrameFlags) bool { return f&flag == flag }
func (f FrameFlags) Add(flag FrameFlags) FrameFlags { return f | flag }

// FrameHeaderLen is the fixed size of the 9-byte frame header
// (spec.md §3, §6).
const FrameHeaderLen = 9

// Frame is the typed payload of one HTTP/2 frame. Each frame type
// implements this to move between wire bytes and its own fields; the
// FrameHeader owns the 9-byte envelope (length/type/flags/stream id) and
// dispatches Serialize/Deserialize to the matching Frame (spec.md §4.1).
type Frame interface {
	Type() FrameType
	Reset()
	// Deserialize populates the frame from fh's already-read payload
	// and flags, validating per spec.md §4.1. It may inspect but not
	// retain fh beyond the call.
	Deserialize(fh *FrameHeader) error
	// Serialize renders the frame's fields into fh's payload buffer and
	// sets any flags on fh that the frame implies.
	Serialize(fh *FrameHeader)
}

var frameConstructors = [...]func() Frame{
	FrameData:         func() Frame { return &DataFrame{} },
	FrameHeadersType:  func() Frame { return &HeadersFrame{} },
	FramePriority:     func() Frame { return &PriorityFrame{} },
	FrameRstStream:    func() Frame { return &RstStreamFrame{} },
	FrameSettingsType: func() Frame { return &SettingsFrame{} },
	FramePushPromise:  func() Frame { return &PushPromiseFrame{} },
	FramePing:         func() Frame { return &PingFrame{} },
	FrameGoAway:       func() Frame { return &GoAwayFrame{} },
	FrameWindowUpdate: func() Frame { return &WindowUpdateFrame{} },
	FrameContinuation: func() Frame { return &ContinuationFrame{} },
}

var framePools [frameTypeMax + 1]sync.Pool

func init() {
	for t, ctor := range frameConstructors {
		ctor := ctor
		framePools[t].New = func() interface{} { return ctor() }
	}
}

// AcquireFrame returns a zeroed Frame payload of the given type from its
// type-specific pool.
func AcquireFrame(t FrameType) Frame {
	fr := framePools[t].Get().(Frame)
	fr.Reset()
	return fr
}

// ReleaseFrame returns fr to its type's pool.
func ReleaseFrame(fr Frame) {
	if fr == nil {
		return
	}
	framePools[fr.Type()].Put(fr)
}

var frameHeaderPool = sync.Pool{
	New: func() interface{} { return &FrameHeader{} },
}

// FrameHeader is the 9-byte frame envelope plus the decoded/to-be-encoded
// Frame body. Use AcquireFrameHeader/ReleaseFrameHeader to recycle it;
// a FrameHeader MUST NOT be used concurrently from multiple goroutines
// (spec.md §5: HPACK and frame codec calls are serialized per connection).
type FrameHeader struct {
	length uint32
	kind   FrameType
	flags  FrameFlags
	stream uint32

	maxLen uint32 // 0 == unbounded; otherwise the limit passed to ReadFrameFrom

	raw     [FrameHeaderLen]byte
	payload []byte

	body Frame
}

func AcquireFrameHeader() *FrameHeader {
	fh := frameHeaderPool.Get().(*FrameHeader)
	fh.Reset()
	return fh
}

func ReleaseFrameHeader(fh *FrameHeader) {
	if fh.body != nil {
		ReleaseFrame(fh.body)
	}
	frameHeaderPool.Put(fh)
}

func (fh *FrameHeader) Reset() {
	fh.length = 0
	fh.kind = 0
	fh.flags = 0
	fh.stream = 0
	fh.maxLen = 0
	fh.payload = fh.payload[:0]
	fh.body = nil
}

func (fh *FrameHeader) Type() FrameType     { return fh.kind }
func (fh *FrameHeader) Flags() FrameFlags   { return fh.flags }
func (fh *FrameHeader) SetFlags(f FrameFlags) { fh.flags = f }
func (fh *FrameHeader) Stream() uint32      { return fh.stream }
func (fh *FrameHeader) SetStream(id uint32) { fh.stream = id & (1<<31 - 1) }
func (fh *FrameHeader) Len() int            { return int(fh.length) }
func (fh *FrameHeader) Payload() []byte     { return fh.payload }
func (fh *FrameHeader) Body() Frame         { return fh.body }

// SetBody attaches fr as the frame's typed payload; its Type() determines
// the wire frame type byte.
func (fh *FrameHeader) SetBody(fr Frame) {
	fh.kind = fr.Type()
	fh.body = fr
}

func (fh *FrameHeader) setPayload(b []byte) {
	fh.payload = append(fh.payload[:0], b...)
	fh.length = uint32(len(fh.payload))
}

// appendPayload appends b to the frame's payload, enforcing the
// negotiated MAX_FRAME_SIZE if one was set (§4.1: "length ≤ peer's
// MAX_FRAME_SIZE").
func (fh *FrameHeader) appendPayload(b []byte) error {
	if fh.maxLen > 0 && uint32(len(fh.payload)+len(b)) > fh.maxLen {
		return ErrPayloadExceeds
	}
	fh.payload = append(fh.payload, b...)
	fh.length = uint32(len(fh.payload))
	return nil
}

func parseFrameHeaderBytes(h []byte) (length uint32, kind FrameType, flags FrameFlags, stream uint32) {
	length = h2utils.BytesToUint24(h[:3])
	kind = FrameType(h[3])
	flags = FrameFlags(h[4])
	stream = h2utils.BytesToUint32(h[5:9]) & (1<<31 - 1) // clear the reserved bit on read
	return
}

func writeFrameHeaderBytes(h []byte, length uint32, kind FrameType, flags FrameFlags, stream uint32) {
	h2utils.Uint24ToBytes(h[:3], length)
	h[3] = byte(kind)
	h[4] = byte(flags)
	h2utils.Uint32ToBytes(h[5:9], stream) // top bit always zero: stream ids never set it
}

// ReadFrameFrom reads one frame header + payload from br, enforcing a
// maximum payload length of max bytes (Conn passes our local
// MAX_FRAME_SIZE; 0 == unbounded). Unknown frame types are consumed and
// reported via ErrUnknownFrameType so the caller can silently continue
// (RFC 7540 §4.1: "implementations MUST ignore and discard frames of
// unknown type").
func ReadFrameFrom(br *bufio.Reader, max uint32) (*FrameHeader, error) {
	fh := AcquireFrameHeader()
	fh.maxLen = max

	header, err := br.Peek(FrameHeaderLen)
	if err != nil {
		ReleaseFrameHeader(fh)
		return nil, err
	}
	br.Discard(FrameHeaderLen)

	fh.length, fh.kind, fh.flags, fh.stream = parseFrameHeaderBytes(header)

	if max != 0 && fh.length > max {
		io.CopyN(io.Discard, br, int64(fh.length))
		ReleaseFrameHeader(fh)
		return nil, NewConnError(FrameSizeError, "frame exceeds MAX_FRAME_SIZE")
	}

	if fh.length > 0 {
		fh.payload = h2utils.Resize(fh.payload, int(fh.length))
		if _, err := io.ReadFull(br, fh.payload); err != nil {
			ReleaseFrameHeader(fh)
			return nil, err
		}
	}

	if fh.kind > frameTypeMax {
		// unknown type: already consumed above, nothing more to do
		return fh, ErrUnknownFrameType
	}

	fh.body = AcquireFrame(fh.kind)
	if err := fh.body.Deserialize(fh); err != nil {
		ReleaseFrameHeader(fh)
		return nil, err
	}

	return fh, nil
}

// WriteTo serializes the frame body into the payload buffer and writes
// the 9-byte header followed by the payload.
func (fh *FrameHeader) WriteTo(bw *bufio.Writer) (int64, error) {
	if fh.body != nil {
		fh.body.Serialize(fh)
	}

	writeFrameHeaderBytes(fh.raw[:], fh.length, fh.kind, fh.flags, fh.stream)

	n, err := bw.Write(fh.raw[:])
	if err != nil {
		return int64(n), err
	}
	wb := int64(n)

	if len(fh.payload) > 0 {
		n, err = bw.Write(fh.payload)
		wb += int64(n)
	}
	return wb, err
}
