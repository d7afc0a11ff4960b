package h2

import (
	"crypto/tls"
	"sync"
	"time"
)

// Protocol is the outcome of negotiating with an origin (spec.md §4.9).
type Protocol uint8

const (
	ProtocolUnknown Protocol = iota
	ProtocolH2
	ProtocolH1
	ProtocolH2C
)

func (p Protocol) String() string {
	switch p {
	case ProtocolH2:
		return "h2"
	case ProtocolH1:
		return "http/1.1"
	case ProtocolH2C:
		return "h2c"
	default:
		return "unknown"
	}
}

type negotiationMemo struct {
	proto     Protocol
	expiresAt time.Time
}

// Negotiator remembers, per origin, which protocol a previous connection
// attempt settled on, so later requests skip ALPN/ upgrade probing
// (spec.md §4.9). In h2c prior-knowledge mode the dial still records
// ProtocolH2C here, but that choice comes from configuration and is never
// negotiated on the wire (the deprecated Upgrade: h2c dance is never used).
type Negotiator struct {
	ttl time.Duration

	mu    sync.Mutex
	memos map[string]negotiationMemo
}

func NewNegotiator(ttl time.Duration) *Negotiator {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Negotiator{ttl: ttl, memos: make(map[string]negotiationMemo)}
}

// Remembered returns a still-fresh memo for origin, if any.
func (n *Negotiator) Remembered(origin string) (Protocol, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	m, ok := n.memos[origin]
	if !ok || time.Now().After(m.expiresAt) {
		return ProtocolUnknown, false
	}
	return m.proto, true
}

// Remember records the outcome of a fresh negotiation for origin.
func (n *Negotiator) Remember(origin string, proto Protocol) {
	n.mu.Lock()
	n.memos[origin] = negotiationMemo{proto: proto, expiresAt: time.Now().Add(n.ttl)}
	n.mu.Unlock()
}

// FromALPN maps a completed TLS handshake's negotiated protocol to our
// Protocol enum (spec.md §4.9: "uses the TLS adapter's ALPN result").
func FromALPN(state tls.ConnectionState) Protocol {
	switch state.NegotiatedProtocol {
	case "h2":
		return ProtocolH2
	default:
		return ProtocolH1
	}
}
