package h2

import "github.com/nyxhttp/h2/h2utils"

// DataFrame carries a stream's body bytes (RFC 7540 §6.1, spec.md §4.1).
type DataFrame struct {
	data    []byte
	padded  bool
	padLen  uint8
	endStream bool
	padding bool
}

func (f *DataFrame) Type() FrameType { return FrameData }

func (f *DataFrame) Reset() {
	f.data = f.data[:0]
	f.padded = false
	f.padLen = 0
	f.endStream = false
	f.padding = false
}

func (f *DataFrame) Data() []byte      { return f.data }
func (f *DataFrame) SetData(b []byte)  { f.data = append(f.data[:0], b...) }
func (f *DataFrame) EndStream() bool   { return f.endStream }
func (f *DataFrame) SetEndStream(v bool) { f.endStream = v }

// Padding reports whether this frame will be sent with a random PADDED
// trailer (RFC 7540 §6.1). Off by default; callers opt in via
// SetPadding for traffic that wants frame-length obfuscation.
func (f *DataFrame) Padding() bool     { return f.padding }
func (f *DataFrame) SetPadding(v bool) { f.padding = v }

func (f *DataFrame) Deserialize(fh *FrameHeader) error {
	if fh.Stream() == 0 {
		return NewConnError(ProtocolError, "DATA on stream 0")
	}
	f.endStream = fh.Flags().Has(FlagEndStream)

	payload := fh.Payload()
	if fh.Flags().Has(FlagPadded) {
		body, err := h2utils.CutPadding(payload, len(payload))
		if err != nil {
			return NewStreamError(fh.Stream(), ProtocolError)
		}
		f.padded = true
		f.padLen = payload[0]
		f.data = append(f.data[:0], body...)
		return nil
	}

	f.data = append(f.data[:0], payload...)
	return nil
}

func (f *DataFrame) Serialize(fh *FrameHeader) {
	flags := FrameFlags(0)
	if f.endStream {
		flags = flags.Add(FlagEndStream)
	}
	if f.padding {
		flags = flags.Add(FlagPadded)
		f.data = h2utils.AddPadding(f.data)
	}
	fh.SetFlags(flags)
	fh.setPayload(f.data)
}
