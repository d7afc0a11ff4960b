package h2

import "github.com/nyxhttp/h2/h2utils"

// WindowUpdateFrame grants additional send-window, connection-wide
// (stream id 0) or for a single stream (RFC 7540 §6.9).
type WindowUpdateFrame struct {
	increment uint32
}

func (f *WindowUpdateFrame) Type() FrameType        { return FrameWindowUpdate }
func (f *WindowUpdateFrame) Reset()                 { f.increment = 0 }
func (f *WindowUpdateFrame) Increment() uint32      { return f.increment }
func (f *WindowUpdateFrame) SetIncrement(n uint32)  { f.increment = n }

func (f *WindowUpdateFrame) Deserialize(fh *FrameHeader) error {
	if fh.Len() != 4 {
		return NewConnError(FrameSizeError, "WINDOW_UPDATE payload must be 4 bytes")
	}
	inc := h2utils.BytesToUint32(fh.Payload()) & (1<<31 - 1)
	if inc == 0 {
		if fh.Stream() == 0 {
			return NewConnError(ProtocolError, "WINDOW_UPDATE increment must not be zero")
		}
		return NewStreamError(fh.Stream(), ProtocolError)
	}
	f.increment = inc
	return nil
}

func (f *WindowUpdateFrame) Serialize(fh *FrameHeader) {
	buf := h2utils.Resize(nil, 4)
	h2utils.Uint32ToBytes(buf, f.increment&(1<<31-1))
	fh.setPayload(buf)
}
