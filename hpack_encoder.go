package h2

import "strings"

// Encoder is a per-connection, single-writer HPACK encoder (RFC 7541
// §6). Matches the teacher's AcquireHPACK/stateful-codec idiom: one
// instance lives for the connection's lifetime and is never used
// concurrently (spec.md §5: HPACK encode/decode calls are serialized by
// the engine).
type Encoder struct {
	dynamic     *dynamicTable
	pendingSize int32 // -1 == no pending size update
}

func NewEncoder(maxTableSize uint32) *Encoder {
	return &Encoder{dynamic: newDynamicTable(maxTableSize), pendingSize: -1}
}

// SetMaxDynamicTableSize records that the next encoded block must begin
// with a dynamic-table-size-update, per RFC 7541 §6.3. Typically called
// when the peer's SETTINGS_HEADER_TABLE_SIZE changes.
func (e *Encoder) SetMaxDynamicTableSize(n uint32) {
	e.pendingSize = int32(n)
}

// Encode appends the HPACK wire representation of fields to dst.
func (e *Encoder) Encode(dst []byte, fields []HeaderField) []byte {
	if e.pendingSize >= 0 {
		e.dynamic.SetMaxSize(uint32(e.pendingSize))
		dst = appendInt(dst, 5, 0x20, uint64(e.pendingSize))
		e.pendingSize = -1
	}

	for _, f := range fields {
		dst = e.encodeField(dst, f)
	}
	return dst
}

func (e *Encoder) encodeField(dst []byte, f HeaderField) []byte {
	if idx, ok := staticPairIndex[f.Name+"\x00"+f.Value]; ok {
		return appendInt(dst, 7, 0x80, uint64(idx))
	}
	if idx, ok := e.dynamic.FindFull(f.Name, f.Value); ok {
		return appendInt(dst, 7, 0x80, uint64(idx))
	}

	// Name-only hit: literal value with an indexed name reference.
	nameIdx, nameIndexed := staticNameIndex[f.Name]
	if !nameIndexed {
		if idx, ok := e.dynamic.FindName(f.Name); ok {
			nameIdx, nameIndexed = idx, true
		}
	}

	if f.Sensitive {
		dst = appendLiteralHeader(dst, nameIdx, nameIndexed, f.Name, f.Value, 4, 0x10)
		return dst
	}

	dst = appendLiteralHeader(dst, nameIdx, nameIndexed, f.Name, f.Value, 6, 0x40)
	e.dynamic.Insert(f.Name, f.Value)
	return dst
}

// appendLiteralHeader encodes a literal representation: indexed name (or
// literal name) + literal value, with the given prefix bit-width/flag
// pattern (6/0x40 for incremental indexing, 4/0x10 for never-indexed, 4/0
// for without-indexing — only the first two are used here).
func appendLiteralHeader(dst []byte, nameIdx int, nameIndexed bool, name, value string, prefixBits uint8, flag byte) []byte {
	if nameIndexed {
		dst = appendInt(dst, prefixBits, flag, uint64(nameIdx))
	} else {
		dst = appendInt(dst, prefixBits, flag, 0)
		dst = appendString(dst, name)
	}
	dst = appendString(dst, value)
	return dst
}

// appendString encodes s as an HPACK string literal, applying the
// Huffman heuristic of §4.2.1: skip Huffman coding for short strings or
// ones that already look high-entropy/base64 (Huffman coding would not
// shrink them, and computing + comparing anyway costs more than it
// saves).
func appendString(dst []byte, s string) []byte {
	if shouldHuffman(s) {
		hlen := huffmanEncodedLen(s)
		dst = appendInt(dst, 7, 0x80, uint64(hlen))
		return appendHuffman(dst, s)
	}
	dst = appendInt(dst, 7, 0, uint64(len(s)))
	return append(dst, s...)
}

func shouldHuffman(s string) bool {
	if len(s) < 8 {
		return false
	}
	if looksBase64ish(s) {
		return false
	}
	return true
}

// looksBase64ish reports whether s is mostly drawn from the base64
// alphabet, a cheap proxy for "already high entropy, Huffman coding
// won't help" (spec.md §4.2.1).
func looksBase64ish(s string) bool {
	hits := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '+' || c == '/' || c == '=' {
			hits++
		}
	}
	return float64(hits)/float64(len(s)) > 0.9 && strings.IndexByte(s, ' ') < 0
}
