package h2

import "github.com/nyxhttp/h2/h2utils"

// PriorityFrame advises a stream dependency/weight (RFC 7540 §6.3).
// Prioritization is advisory; the engine parses and validates it but does
// not implement a scheduling tree (spec.md §4.1 asks only for validation).
type PriorityFrame struct {
	exclusive bool
	streamDep uint32
	weight    uint8
}

func (f *PriorityFrame) Type() FrameType { return FramePriority }

func (f *PriorityFrame) Reset() {
	f.exclusive = false
	f.streamDep = 0
	f.weight = 0
}

func (f *PriorityFrame) Deserialize(fh *FrameHeader) error {
	if fh.Stream() == 0 {
		return NewConnError(ProtocolError, "PRIORITY on stream 0")
	}
	if fh.Len() != 5 {
		return NewConnError(FrameSizeError, "PRIORITY payload must be 5 bytes")
	}
	payload := fh.Payload()
	dep := h2utils.BytesToUint32(payload[:4])
	f.exclusive = dep&0x80000000 != 0
	f.streamDep = dep & (1<<31 - 1)
	f.weight = payload[4]

	if f.streamDep == fh.Stream() {
		return NewStreamError(fh.Stream(), ProtocolError)
	}
	return nil
}

func (f *PriorityFrame) Serialize(fh *FrameHeader) {
	buf := h2utils.Resize(nil, 5)
	dep := f.streamDep
	if f.exclusive {
		dep |= 0x80000000
	}
	h2utils.Uint32ToBytes(buf[:4], dep)
	buf[4] = f.weight
	fh.setPayload(buf)
}
