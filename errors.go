package h2

import (
	"errors"
	"fmt"
)

// ErrorCode is an HTTP/2 error code as carried on RST_STREAM and GOAWAY
// frames (https://httpwg.org/specs/rfc7540.html#ErrorCodes).
type ErrorCode uint32

const (
	NoError              ErrorCode = 0x0
	ProtocolError        ErrorCode = 0x1
	InternalError        ErrorCode = 0x2
	FlowControlError     ErrorCode = 0x3
	SettingsTimeoutError ErrorCode = 0x4
	StreamClosedError    ErrorCode = 0x5
	FrameSizeError       ErrorCode = 0x6
	RefusedStreamError   ErrorCode = 0x7
	CancelError          ErrorCode = 0x8
	CompressionError     ErrorCode = 0x9
	ConnectError         ErrorCode = 0xa
	EnhanceYourCalmError ErrorCode = 0xb
	InadequateSecurity   ErrorCode = 0xc
	HTTP11Required       ErrorCode = 0xd
)

var errCodeNames = [...]string{
	NoError:              "NO_ERROR",
	ProtocolError:        "PROTOCOL_ERROR",
	InternalError:        "INTERNAL_ERROR",
	FlowControlError:     "FLOW_CONTROL_ERROR",
	SettingsTimeoutError: "SETTINGS_TIMEOUT",
	StreamClosedError:    "STREAM_CLOSED",
	FrameSizeError:       "FRAME_SIZE_ERROR",
	RefusedStreamError:   "REFUSED_STREAM",
	CancelError:          "CANCEL",
	CompressionError:     "COMPRESSION_ERROR",
	ConnectError:         "CONNECT_ERROR",
	EnhanceYourCalmError: "ENHANCE_YOUR_CALM",
	InadequateSecurity:   "INADEQUATE_SECURITY",
	HTTP11Required:       "HTTP_1_1_REQUIRED",
}

func (c ErrorCode) String() string {
	if int(c) < len(errCodeNames) && errCodeNames[c] != "" {
		return errCodeNames[c]
	}
	return fmt.Sprintf("UNKNOWN_ERROR(0x%x)", uint32(c))
}

// Error reports the RFC-defined error code as an error value. Unknown
// codes still round-trip (RFC 7540 §7: unknown codes MUST be treated as
// equivalent to INTERNAL_ERROR by the receiver, but the wire value is
// preserved for diagnostics).
func (c ErrorCode) Error() string {
	return c.String()
}

// ErrScope distinguishes whether an error is fatal to one stream or to
// the whole connection (spec.md §7).
type ErrScope uint8

const (
	ScopeStream ErrScope = iota
	ScopeConnection
)

// ConnError is a connection-level HTTP/2 error: fatal to the connection.
// The engine reacts by emitting GOAWAY with Code and LastStreamID and
// closing the transport (spec.md §4.5, §7).
type ConnError struct {
	Code         ErrorCode
	LastStreamID uint32
	Msg          string
}

func (e *ConnError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("http2: connection error %s: %s", e.Code, e.Msg)
	}
	return fmt.Sprintf("http2: connection error %s", e.Code)
}

func NewConnError(code ErrorCode, msg string) *ConnError {
	return &ConnError{Code: code, Msg: msg}
}

// StreamError is a stream-level HTTP/2 error: fatal to one stream only.
// The engine reacts by emitting RST_STREAM with Code on StreamID
// (spec.md §4.5, §7).
type StreamError struct {
	StreamID uint32
	Code     ErrorCode
	Msg      string
}

func (e *StreamError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("http2: stream %d error %s: %s", e.StreamID, e.Code, e.Msg)
	}
	return fmt.Sprintf("http2: stream %d error %s", e.StreamID, e.Code)
}

func NewStreamError(id uint32, code ErrorCode) *StreamError {
	return &StreamError{StreamID: id, Code: code}
}

// TimeoutError is returned when a per-request or per-connect deadline
// elapses. On the wire it becomes StreamError{Code: CancelError}
// (spec.md §5, §7).
type TimeoutError struct {
	Op string
}

func (e *TimeoutError) Error() string { return "http2: " + e.Op + " timed out" }
func (e *TimeoutError) Timeout() bool { return true }

// CircuitOpenError is returned by Client.Do when the circuit breaker for
// the target origin is open; the request never touches the wire
// (spec.md §7, §4.10).
type CircuitOpenError struct {
	Origin string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("http2: circuit open for %s", e.Origin)
}

// TransportError wraps an underlying transport I/O failure. It always
// surfaces to callers as equivalent to a connection error (spec.md §7).
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "http2: transport error: " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

// Sentinel errors for malformed wire data, kept from the teacher's flat
// errors.go idiom (one var block of ErrXxx sentinels used across the
// frame/hpack codecs).
var (
	ErrUnknownFrameType = errors.New("h2: unknown frame type")
	ErrBadPreface       = errors.New("h2: bad connection preface")
	ErrFrameMismatch    = errors.New("h2: frame type mismatch from called function")
	ErrMissingBytes     = errors.New("h2: frame payload shorter than required")
	ErrBitOverflow      = errors.New("h2: hpack integer overflow")
	ErrPayloadExceeds   = errors.New("h2: frame payload exceeds negotiated maximum size")
	ErrFieldNotFound    = errors.New("h2: hpack indexed field not found")
	ErrHuffmanEOS       = errors.New("h2: huffman stream contains EOS symbol")
	ErrHuffmanPadding   = errors.New("h2: huffman padding longer than 7 bits or non-1 bits")
	ErrHeaderListSize   = errors.New("h2: header list exceeds MAX_HEADER_LIST_SIZE")
	ErrContinuationFlood = errors.New("h2: too many CONTINUATION frames")
)
