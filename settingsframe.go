package h2

// SettingsFrame wraps the wire SETTINGS frame (RFC 7540 §6.5): either an
// ACK (empty payload) or a sequence of SettingPair values.
type SettingsFrame struct {
	ack   bool
	pairs []SettingPair
}

func (f *SettingsFrame) Type() FrameType { return FrameSettingsType }

func (f *SettingsFrame) Reset() {
	f.ack = false
	f.pairs = f.pairs[:0]
}

func (f *SettingsFrame) Ack() bool              { return f.ack }
func (f *SettingsFrame) SetAck(v bool)           { f.ack = v }
func (f *SettingsFrame) Pairs() []SettingPair    { return f.pairs }
func (f *SettingsFrame) SetPairs(p []SettingPair) { f.pairs = append(f.pairs[:0], p...) }

func (f *SettingsFrame) Deserialize(fh *FrameHeader) error {
	if fh.Stream() != 0 {
		return NewConnError(ProtocolError, "SETTINGS on non-zero stream")
	}
	if fh.Flags().Has(FlagAck) {
		if fh.Len() != 0 {
			return NewConnError(FrameSizeError, "SETTINGS ACK must be empty")
		}
		f.ack = true
		return nil
	}
	pairs, err := DecodeSettingsPayload(fh.Payload())
	if err != nil {
		return err
	}
	f.pairs = pairs
	return nil
}

func (f *SettingsFrame) Serialize(fh *FrameHeader) {
	if f.ack {
		fh.SetFlags(FlagAck)
		fh.setPayload(nil)
		return
	}
	fh.SetFlags(0)
	buf := make([]byte, 0, len(f.pairs)*6)
	for _, p := range f.pairs {
		buf = appendSetting(buf, p.ID, p.Value)
	}
	fh.setPayload(buf)
}
