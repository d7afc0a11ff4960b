package h2

import "github.com/nyxhttp/h2/h2utils"

// PushPromiseFrame announces a server-initiated stream the client did not
// request (RFC 7540 §6.6). This client advertises ENABLE_PUSH=0 and
// always treats an inbound PUSH_PROMISE as a connection ProtocolError
// (spec.md §4.1, Non-goals: "server push acceptance beyond
// protocol-correct rejection"); parsing is still implemented so the
// rejection can reference the promised stream id in diagnostics.
type PushPromiseFrame struct {
	promisedStreamID uint32
	headerBlock      []byte
	endHeaders       bool
}

func (f *PushPromiseFrame) Type() FrameType { return FramePushPromise }

func (f *PushPromiseFrame) Reset() {
	f.promisedStreamID = 0
	f.headerBlock = f.headerBlock[:0]
	f.endHeaders = false
}

func (f *PushPromiseFrame) PromisedStreamID() uint32 { return f.promisedStreamID }
func (f *PushPromiseFrame) HeaderBlock() []byte      { return f.headerBlock }
func (f *PushPromiseFrame) EndHeaders() bool         { return f.endHeaders }

func (f *PushPromiseFrame) Deserialize(fh *FrameHeader) error {
	if fh.Stream() == 0 {
		return NewConnError(ProtocolError, "PUSH_PROMISE on stream 0")
	}

	payload := fh.Payload()
	if fh.Flags().Has(FlagPadded) {
		body, err := h2utils.CutPadding(payload, len(payload))
		if err != nil {
			return NewStreamError(fh.Stream(), ProtocolError)
		}
		payload = body
	}
	if len(payload) < 4 {
		return NewConnError(FrameSizeError, "PUSH_PROMISE payload truncated")
	}

	f.promisedStreamID = h2utils.BytesToUint32(payload[:4]) & (1<<31 - 1)
	f.endHeaders = fh.Flags().Has(FlagEndHeaders)
	f.headerBlock = append(f.headerBlock[:0], payload[4:]...)

	// This client always runs with local ENABLE_PUSH=0; receiving a
	// PUSH_PROMISE at all is a protocol violation (RFC 7540 §6.6,
	// §8.2).
	return NewConnError(ProtocolError, "PUSH_PROMISE received with ENABLE_PUSH=0")
}

func (f *PushPromiseFrame) Serialize(fh *FrameHeader) {
	// This client never sends PUSH_PROMISE; Serialize exists only to
	// satisfy the Frame interface for symmetry with the decoder side.
	buf := h2utils.Resize(nil, 4+len(f.headerBlock))
	h2utils.Uint32ToBytes(buf[:4], f.promisedStreamID)
	copy(buf[4:], f.headerBlock)
	flags := FrameFlags(0)
	if f.endHeaders {
		flags = flags.Add(FlagEndHeaders)
	}
	fh.SetFlags(flags)
	fh.setPayload(buf)
}
