package h2

import "github.com/nyxhttp/h2/h2utils"

// HeadersFrame carries (a fragment of) an HPACK-encoded header block, plus
// optional padding and the PRIORITY sub-fields (RFC 7540 §6.2, spec.md §4.1).
type HeadersFrame struct {
	headerBlock []byte

	endStream  bool
	endHeaders bool
	padding    bool

	hasPriority bool
	exclusive   bool
	streamDep   uint32
	weight      uint8
}

func (f *HeadersFrame) Type() FrameType { return FrameHeadersType }

func (f *HeadersFrame) Reset() {
	f.headerBlock = f.headerBlock[:0]
	f.endStream = false
	f.endHeaders = false
	f.padding = false
	f.hasPriority = false
	f.exclusive = false
	f.streamDep = 0
	f.weight = 0
}

func (f *HeadersFrame) HeaderBlock() []byte       { return f.headerBlock }
func (f *HeadersFrame) SetHeaderBlock(b []byte)   { f.headerBlock = append(f.headerBlock[:0], b...) }
func (f *HeadersFrame) EndStream() bool           { return f.endStream }
func (f *HeadersFrame) SetEndStream(v bool)       { f.endStream = v }
func (f *HeadersFrame) EndHeaders() bool          { return f.endHeaders }
func (f *HeadersFrame) SetEndHeaders(v bool)      { f.endHeaders = v }

// Padding reports whether this frame will be sent with a random PADDED
// trailer (RFC 7540 §6.2). Off by default; callers opt in via
// SetPadding for traffic that wants frame-length obfuscation.
func (f *HeadersFrame) Padding() bool      { return f.padding }
func (f *HeadersFrame) SetPadding(v bool)  { f.padding = v }

func (f *HeadersFrame) Deserialize(fh *FrameHeader) error {
	if fh.Stream() == 0 {
		return NewConnError(ProtocolError, "HEADERS on stream 0")
	}
	flags := fh.Flags()
	f.endStream = flags.Has(FlagEndStream)
	f.endHeaders = flags.Has(FlagEndHeaders)

	payload := fh.Payload()

	if flags.Has(FlagPadded) {
		body, err := h2utils.CutPadding(payload, len(payload))
		if err != nil {
			return NewStreamError(fh.Stream(), ProtocolError)
		}
		payload = body
	}

	if flags.Has(FlagPriority) {
		if len(payload) < 5 {
			return NewConnError(FrameSizeError, "HEADERS priority fields truncated")
		}
		dep := h2utils.BytesToUint32(payload[:4])
		f.exclusive = dep&0x80000000 != 0
		f.streamDep = dep & (1<<31 - 1)
		f.weight = payload[4]
		f.hasPriority = true
		if f.streamDep == fh.Stream() {
			return NewStreamError(fh.Stream(), ProtocolError)
		}
		payload = payload[5:]
	}

	f.headerBlock = append(f.headerBlock[:0], payload...)
	return nil
}

func (f *HeadersFrame) Serialize(fh *FrameHeader) {
	flags := FrameFlags(0)
	if f.endStream {
		flags = flags.Add(FlagEndStream)
	}
	if f.endHeaders {
		flags = flags.Add(FlagEndHeaders)
	}
	if f.padding {
		flags = flags.Add(FlagPadded)
		f.headerBlock = h2utils.AddPadding(f.headerBlock)
	}
	fh.SetFlags(flags)
	fh.setPayload(f.headerBlock)
}
