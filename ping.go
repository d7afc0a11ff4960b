package h2

// PingFrame is an 8-byte connection liveness/RTT probe (RFC 7540 §6.7).
type PingFrame struct {
	data [8]byte
	ack  bool
}

func (f *PingFrame) Type() FrameType { return FramePing }

func (f *PingFrame) Reset() {
	f.data = [8]byte{}
	f.ack = false
}

func (f *PingFrame) Data() [8]byte    { return f.data }
func (f *PingFrame) SetData(b [8]byte) { f.data = b }
func (f *PingFrame) Ack() bool        { return f.ack }
func (f *PingFrame) SetAck(v bool)    { f.ack = v }

func (f *PingFrame) Deserialize(fh *FrameHeader) error {
	if fh.Stream() != 0 {
		return NewConnError(ProtocolError, "PING on non-zero stream")
	}
	if fh.Len() != 8 {
		return NewConnError(FrameSizeError, "PING payload must be 8 bytes")
	}
	copy(f.data[:], fh.Payload())
	f.ack = fh.Flags().Has(FlagAck)
	return nil
}

func (f *PingFrame) Serialize(fh *FrameHeader) {
	flags := FrameFlags(0)
	if f.ack {
		flags = flags.Add(FlagAck)
	}
	fh.SetFlags(flags)
	fh.setPayload(f.data[:])
}
