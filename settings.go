package h2

import "github.com/nyxhttp/h2/h2utils"

// Settings parameter identifiers (https://httpwg.org/specs/rfc7540.html#SettingValues).
const (
	SettingHeaderTableSize      uint16 = 0x1
	SettingEnablePush           uint16 = 0x2
	SettingMaxConcurrentStreams uint16 = 0x3
	SettingInitialWindowSize    uint16 = 0x4
	SettingMaxFrameSize         uint16 = 0x5
	SettingMaxHeaderListSize    uint16 = 0x6
)

// Spec-defined defaults (spec.md §3).
const (
	defaultHeaderTableSize      uint32 = 4096
	defaultEnablePush           uint32 = 1
	defaultMaxConcurrentStreams uint32 = 100 // our advertised default (spec.md §6); RFC default is unbounded
	defaultInitialWindowSize    uint32 = 65535
	defaultMaxFrameSize         uint32 = 16384
	defaultMaxHeaderListSize    uint32 = 0 // 0 == unbounded

	maxWindowSize = 1<<31 - 1
	minFrameSize  = 1 << 14
	maxFrameSize  = 1<<24 - 1
)

// Settings is one side's view of the six SETTINGS parameters. A Conn
// holds two instances: local (what we advertise) and remote (what the
// peer advertised) — spec.md §3.
type Settings struct {
	HeaderTableSize      uint32
	EnablePush           bool
	MaxConcurrentStreams uint32
	InitialWindowSize    uint32
	MaxFrameSize         uint32
	MaxHeaderListSize    uint32 // 0 == unbounded

	// seen tracks which ids have been explicitly set, so EncodeSettingsPayload
	// only emits parameters that differ from "unset" rather than every field.
	seen uint8
}

const (
	seenHeaderTableSize = 1 << iota
	seenEnablePush
	seenMaxConcurrentStreams
	seenInitialWindowSize
	seenMaxFrameSize
	seenMaxHeaderListSize
)

// DefaultSettings returns the spec-mandated default parameter set.
func DefaultSettings() Settings {
	return Settings{
		HeaderTableSize:      defaultHeaderTableSize,
		EnablePush:           defaultEnablePush != 0,
		MaxConcurrentStreams: defaultMaxConcurrentStreams,
		InitialWindowSize:    defaultInitialWindowSize,
		MaxFrameSize:         defaultMaxFrameSize,
		MaxHeaderListSize:    defaultMaxHeaderListSize,
	}
}

func (s *Settings) CopyTo(dst *Settings) { *dst = *s }

// SettingPair is one (id, value) entry of a SETTINGS frame payload.
type SettingPair struct {
	ID    uint16
	Value uint32
}

// Apply merges the key/value pairs carried by a SETTINGS frame payload
// into s, per spec.md §3/§4.5. Unknown ids are ignored (RFC 7540 §6.5.2).
func (s *Settings) Apply(pairs []SettingPair) error {
	for _, p := range pairs {
		switch p.ID {
		case SettingHeaderTableSize:
			s.HeaderTableSize = p.Value
			s.seen |= seenHeaderTableSize
		case SettingEnablePush:
			if p.Value > 1 {
				return NewConnError(ProtocolError, "SETTINGS_ENABLE_PUSH must be 0 or 1")
			}
			s.EnablePush = p.Value != 0
			s.seen |= seenEnablePush
		case SettingMaxConcurrentStreams:
			s.MaxConcurrentStreams = p.Value
			s.seen |= seenMaxConcurrentStreams
		case SettingInitialWindowSize:
			if p.Value > maxWindowSize {
				return NewConnError(FlowControlError, "SETTINGS_INITIAL_WINDOW_SIZE exceeds 2^31-1")
			}
			s.InitialWindowSize = p.Value
			s.seen |= seenInitialWindowSize
		case SettingMaxFrameSize:
			if p.Value < minFrameSize || p.Value > maxFrameSize {
				return NewConnError(ProtocolError, "SETTINGS_MAX_FRAME_SIZE out of range")
			}
			s.MaxFrameSize = p.Value
			s.seen |= seenMaxFrameSize
		case SettingMaxHeaderListSize:
			s.MaxHeaderListSize = p.Value
			s.seen |= seenMaxHeaderListSize
		default:
			// unknown ids are ignored per RFC 7540 §6.5.2
		}
	}
	return nil
}

// DecodeSettingsPayload parses a SETTINGS frame payload (spec.md §4.1).
// Length not a multiple of 6 is a FrameSizeError connection error.
func DecodeSettingsPayload(b []byte) ([]SettingPair, error) {
	if len(b)%6 != 0 {
		return nil, NewConnError(FrameSizeError, "SETTINGS payload not a multiple of 6")
	}
	pairs := make([]SettingPair, 0, len(b)/6)
	for i := 0; i+6 <= len(b); i += 6 {
		pairs = append(pairs, SettingPair{
			ID:    h2utils.BytesToUint16(b[i : i+2]),
			Value: h2utils.BytesToUint32(b[i+2 : i+6]),
		})
	}
	return pairs, nil
}

// EncodeSettingsPayload serializes only the parameters explicitly set via
// Apply/MarkAll (so a freshly constructed client Settings only advertises
// what the caller configured, matching the teacher's "only emit non-zero
// fields" idiom in settings.go's Encode).
func (s *Settings) EncodeSettingsPayload(dst []byte) []byte {
	if s.seen&seenHeaderTableSize != 0 {
		dst = appendSetting(dst, SettingHeaderTableSize, s.HeaderTableSize)
	}
	if s.seen&seenEnablePush != 0 {
		v := uint32(0)
		if s.EnablePush {
			v = 1
		}
		dst = appendSetting(dst, SettingEnablePush, v)
	}
	if s.seen&seenMaxConcurrentStreams != 0 {
		dst = appendSetting(dst, SettingMaxConcurrentStreams, s.MaxConcurrentStreams)
	}
	if s.seen&seenInitialWindowSize != 0 {
		dst = appendSetting(dst, SettingInitialWindowSize, s.InitialWindowSize)
	}
	if s.seen&seenMaxFrameSize != 0 {
		dst = appendSetting(dst, SettingMaxFrameSize, s.MaxFrameSize)
	}
	if s.seen&seenMaxHeaderListSize != 0 {
		dst = appendSetting(dst, SettingMaxHeaderListSize, s.MaxHeaderListSize)
	}
	return dst
}

func appendSetting(dst []byte, id uint16, v uint32) []byte {
	dst = h2utils.AppendUint16Bytes(dst, id)
	return h2utils.AppendUint32Bytes(dst, v)
}

// MarkAll flags every field as explicitly set, so EncodeSettingsPayload
// emits the full parameter set (used for the client's initial local
// SETTINGS frame; NewConn then unflags MAX_HEADER_LIST_SIZE when it is 0).
func (s *Settings) MarkAll() {
	s.seen = seenHeaderTableSize | seenEnablePush | seenMaxConcurrentStreams |
		seenInitialWindowSize | seenMaxFrameSize | seenMaxHeaderListSize
}
