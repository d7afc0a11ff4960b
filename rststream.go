package h2

import "github.com/nyxhttp/h2/h2utils"

// RstStreamFrame abruptly terminates a stream (RFC 7540 §6.4).
type RstStreamFrame struct {
	code ErrorCode
}

func (f *RstStreamFrame) Type() FrameType   { return FrameRstStream }
func (f *RstStreamFrame) Reset()            { f.code = 0 }
func (f *RstStreamFrame) Code() ErrorCode   { return f.code }
func (f *RstStreamFrame) SetCode(c ErrorCode) { f.code = c }

func (f *RstStreamFrame) Deserialize(fh *FrameHeader) error {
	if fh.Stream() == 0 {
		return NewConnError(ProtocolError, "RST_STREAM on stream 0")
	}
	if fh.Len() != 4 {
		return NewConnError(FrameSizeError, "RST_STREAM payload must be 4 bytes")
	}
	f.code = ErrorCode(h2utils.BytesToUint32(fh.Payload()))
	return nil
}

func (f *RstStreamFrame) Serialize(fh *FrameHeader) {
	buf := h2utils.Resize(nil, 4)
	h2utils.Uint32ToBytes(buf, uint32(f.code))
	fh.setPayload(buf)
}
