package h2

// ContinuationFrame carries the tail of a header block too large for a
// single HEADERS/PUSH_PROMISE frame (RFC 7540 §6.10).
type ContinuationFrame struct {
	headerBlock []byte
	endHeaders  bool
}

func (f *ContinuationFrame) Type() FrameType { return FrameContinuation }

func (f *ContinuationFrame) Reset() {
	f.headerBlock = f.headerBlock[:0]
	f.endHeaders = false
}

func (f *ContinuationFrame) HeaderBlock() []byte { return f.headerBlock }
func (f *ContinuationFrame) EndHeaders() bool    { return f.endHeaders }
func (f *ContinuationFrame) SetEndHeaders(v bool) { f.endHeaders = v }
func (f *ContinuationFrame) SetHeaderBlock(b []byte) {
	f.headerBlock = append(f.headerBlock[:0], b...)
}

func (f *ContinuationFrame) Deserialize(fh *FrameHeader) error {
	if fh.Stream() == 0 {
		return NewConnError(ProtocolError, "CONTINUATION on stream 0")
	}
	f.endHeaders = fh.Flags().Has(FlagEndHeaders)
	f.headerBlock = append(f.headerBlock[:0], fh.Payload()...)
	return nil
}

func (f *ContinuationFrame) Serialize(fh *FrameHeader) {
	flags := FrameFlags(0)
	if f.endHeaders {
		flags = flags.Add(FlagEndHeaders)
	}
	fh.SetFlags(flags)
	fh.setPayload(f.headerBlock)
}
