package h2

// StreamState is a stream's position in the RFC 7540 §5.1 state machine
// (spec.md §3, §4.4).
type StreamState uint8

const (
	StateIdle StreamState = iota
	StateReservedLocal
	StateReservedRemote
	StateOpen
	StateHalfClosedLocal
	StateHalfClosedRemote
	StateClosed
)

func (s StreamState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReservedLocal:
		return "reserved(local)"
	case StateReservedRemote:
		return "reserved(remote)"
	case StateOpen:
		return "open"
	case StateHalfClosedLocal:
		return "half-closed(local)"
	case StateHalfClosedRemote:
		return "half-closed(remote)"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// onSendHeaders computes the next state after we send HEADERS, per
// spec.md §4.4's abridged table / RFC 7540 §5.1.
func (s StreamState) onSendHeaders(endStream bool) StreamState {
	switch s {
	case StateIdle:
		if endStream {
			return StateHalfClosedLocal
		}
		return StateOpen
	default:
		return s
	}
}

// onRecvHeaders mirrors onSendHeaders for the receive direction.
func (s StreamState) onRecvHeaders(endStream bool) StreamState {
	switch s {
	case StateIdle:
		if endStream {
			return StateHalfClosedRemote
		}
		return StateOpen
	default:
		return s
	}
}

func (s StreamState) onSendEndStream() StreamState {
	switch s {
	case StateOpen:
		return StateHalfClosedLocal
	case StateHalfClosedRemote:
		return StateClosed
	default:
		return s
	}
}

func (s StreamState) onRecvEndStream() StreamState {
	switch s {
	case StateOpen:
		return StateHalfClosedRemote
	case StateHalfClosedLocal:
		return StateClosed
	default:
		return s
	}
}

func (s StreamState) onReset() StreamState { return StateClosed }

func (s StreamState) isClosed() bool { return s == StateClosed }
