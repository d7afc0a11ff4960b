package h2

import "github.com/nyxhttp/h2/h2utils"

// GoAwayFrame tells the peer to stop creating streams beyond LastStreamID
// and reports why (RFC 7540 §6.8).
type GoAwayFrame struct {
	lastStreamID uint32
	code         ErrorCode
	debug        []byte
}

func (f *GoAwayFrame) Type() FrameType { return FrameGoAway }

func (f *GoAwayFrame) Reset() {
	f.lastStreamID = 0
	f.code = 0
	f.debug = f.debug[:0]
}

func (f *GoAwayFrame) LastStreamID() uint32     { return f.lastStreamID }
func (f *GoAwayFrame) SetLastStreamID(id uint32) { f.lastStreamID = id & (1<<31 - 1) }
func (f *GoAwayFrame) Code() ErrorCode           { return f.code }
func (f *GoAwayFrame) SetCode(c ErrorCode)       { f.code = c }
func (f *GoAwayFrame) Debug() []byte             { return f.debug }
func (f *GoAwayFrame) SetDebug(b []byte)         { f.debug = append(f.debug[:0], b...) }

func (f *GoAwayFrame) Deserialize(fh *FrameHeader) error {
	if fh.Stream() != 0 {
		return NewConnError(ProtocolError, "GOAWAY on non-zero stream")
	}
	if fh.Len() < 8 {
		return NewConnError(FrameSizeError, "GOAWAY payload shorter than 8 bytes")
	}
	payload := fh.Payload()
	// RFC 7540 §6.8: reserved bit + 31-bit last-stream-id, then 32-bit
	// error code, then opaque debug data. The last-stream-id and the
	// error code are distinct fields read from distinct byte ranges.
	f.lastStreamID = h2utils.BytesToUint32(payload[0:4]) & (1<<31 - 1)
	f.code = ErrorCode(h2utils.BytesToUint32(payload[4:8]))
	if len(payload) > 8 {
		f.debug = append(f.debug[:0], payload[8:]...)
	}
	return nil
}

func (f *GoAwayFrame) Serialize(fh *FrameHeader) {
	buf := h2utils.Resize(nil, 8+len(f.debug))
	h2utils.Uint32ToBytes(buf[:4], f.lastStreamID)
	h2utils.Uint32ToBytes(buf[4:8], uint32(f.code))
	copy(buf[8:], f.debug)
	fh.setPayload(buf)
}
