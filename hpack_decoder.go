package h2

import "golang.org/x/net/http/httpguts"

// Decoder is a per-connection, single-writer HPACK decoder mirroring
// Encoder (RFC 7541 §6; spec.md §4.2).
type Decoder struct {
	dynamic       *dynamicTable
	maxHeaderList uint32 // 0 == unbounded
}

func NewDecoder(maxTableSize, maxHeaderListSize uint32) *Decoder {
	return &Decoder{
		dynamic:       newDynamicTable(maxTableSize),
		maxHeaderList: maxHeaderListSize,
	}
}

// SetMaxDynamicTableSize lowers/raises decode-side capacity (the decoder's
// table mirrors what WE told the peer we'd honor). Conn does not call it:
// the local HEADER_TABLE_SIZE is fixed when NewConn builds the decoder.
func (d *Decoder) SetMaxDynamicTableSize(n uint32) {
	d.dynamic.SetMaxSize(n)
}

// Decode parses one HPACK block (already reassembled from
// HEADERS+CONTINUATION fragments) into a header list.
func (d *Decoder) Decode(b []byte) ([]HeaderField, error) {
	var fields []HeaderField
	var listSize uint32
	sawRegular := false

	for len(b) > 0 {
		first := b[0]

		switch {
		case first&0x80 != 0: // indexed header field, RFC 7541 §6.1
			idx, n, err := readInt(b, 7)
			if err != nil {
				return nil, NewConnError(CompressionError, "bad indexed field")
			}
			b = b[n:]
			if idx == 0 {
				return nil, NewConnError(CompressionError, "indexed field index 0")
			}
			f, ok := d.lookup(int(idx))
			if !ok {
				return nil, NewConnError(CompressionError, "indexed field out of range")
			}
			if f.Value == "" {
				return nil, NewConnError(CompressionError, "indexed field has no value")
			}
			sawRegular = sawRegular || f.Name[0] != ':'
			if err := d.appendChecked(&fields, &listSize, f, sawRegular); err != nil {
				return nil, err
			}

		case first&0x40 != 0: // literal with incremental indexing, §6.2.1
			f, n, err := d.readLiteral(b, 6, &sawRegular)
			if err != nil {
				return nil, err
			}
			b = b[n:]
			if err := d.appendChecked(&fields, &listSize, f, sawRegular); err != nil {
				return nil, err
			}
			d.dynamic.Insert(f.Name, f.Value)

		case first&0x20 != 0: // dynamic table size update, §6.3
			if len(fields) > 0 {
				// a size update must precede any header representation
				return nil, NewConnError(CompressionError, "dynamic table size update after a header representation")
			}
			n, consumed, err := readInt(b, 5)
			if err != nil {
				return nil, NewConnError(CompressionError, "bad size update")
			}
			b = b[consumed:]
			if n > uint64(d.dynamic.maxSize) && d.dynamic.maxSize != 0 {
				// permitted only up to the SETTINGS-declared max; a larger
				// request is a protocol violation
				return nil, NewConnError(CompressionError, "size update exceeds negotiated max")
			}
			d.dynamic.SetMaxSize(uint32(n))

		case first&0x10 != 0: // literal never indexed, §6.2.3
			f, n, err := d.readLiteral(b, 4, &sawRegular)
			if err != nil {
				return nil, err
			}
			b = b[n:]
			f.Sensitive = true
			if err := d.appendChecked(&fields, &listSize, f, sawRegular); err != nil {
				return nil, err
			}

		default: // literal without indexing, §6.2.2
			f, n, err := d.readLiteral(b, 4, &sawRegular)
			if err != nil {
				return nil, err
			}
			b = b[n:]
			if err := d.appendChecked(&fields, &listSize, f, sawRegular); err != nil {
				return nil, err
			}
		}
	}

	return fields, nil
}

func (d *Decoder) lookup(idx int) (HeaderField, bool) {
	if idx >= 1 && idx <= staticTableLen {
		return staticTable[idx], true
	}
	return d.dynamic.Get(idx)
}

// readLiteral decodes a literal representation (indexed or literal name,
// literal value) with the given name-index prefix width.
func (d *Decoder) readLiteral(b []byte, prefixBits uint8, sawRegular *bool) (HeaderField, int, error) {
	nameIdx, n, err := readInt(b, prefixBits)
	if err != nil {
		return HeaderField{}, 0, NewConnError(CompressionError, "bad literal name index")
	}
	total := n

	var name string
	if nameIdx == 0 {
		s, consumed, err := readHpackString(b[total:])
		if err != nil {
			return HeaderField{}, 0, err
		}
		name = s
		total += consumed
	} else {
		f, ok := d.lookup(int(nameIdx))
		if !ok {
			return HeaderField{}, 0, NewConnError(CompressionError, "literal name index out of range")
		}
		name = f.Name
	}

	if err := validateFieldName(name); err != nil {
		return HeaderField{}, 0, err
	}
	if name[0] != ':' {
		*sawRegular = true
	} else if *sawRegular {
		return HeaderField{}, 0, NewConnError(ProtocolError, "pseudo-header after regular header")
	}

	value, consumed, err := readHpackString(b[total:])
	if err != nil {
		return HeaderField{}, 0, err
	}
	total += consumed

	return HeaderField{Name: name, Value: value}, total, nil
}

func readHpackString(b []byte) (string, int, error) {
	if len(b) == 0 {
		return "", 0, NewConnError(CompressionError, "truncated hpack string")
	}
	huff := b[0]&0x80 != 0
	l, n, err := readInt(b, 7)
	if err != nil {
		return "", 0, NewConnError(CompressionError, "bad hpack string length")
	}
	total := n
	if uint64(len(b)-total) < l {
		return "", 0, NewConnError(CompressionError, "hpack string length exceeds input")
	}
	raw := b[total : total+int(l)]
	total += int(l)

	if !huff {
		return string(raw), total, nil
	}
	s, err := decodeHuffman(raw)
	if err != nil {
		return "", 0, NewConnError(CompressionError, err.Error())
	}
	return s, total, nil
}

// appendChecked enforces the cumulative header-list size limit (§4.2,
// RFC 7541 §4.1's "size" accounting per field: name.len+value.len+32,
// same formula as the dynamic table) before appending f.
func (d *Decoder) appendChecked(fields *[]HeaderField, listSize *uint32, f HeaderField, sawRegular bool) error {
	*listSize += entrySize(f.Name, f.Value)
	if d.maxHeaderList > 0 && *listSize > d.maxHeaderList {
		return NewConnError(CompressionError, "header list exceeds MAX_HEADER_LIST_SIZE")
	}
	*fields = append(*fields, f)
	return nil
}

// validateFieldName enforces RFC 9113 §8.1.2: lowercase ALPHA/DIGIT and
// the token punctuation set, pseudo-headers may lead with ':'. Delegates
// the ASCII token classification to httpguts rather than re-implementing
// RFC 7230 token rules by hand.
func validateFieldName(name string) error {
	if name == "" {
		return NewConnError(CompressionError, "empty header name")
	}
	check := name
	if name[0] == ':' {
		check = name[1:]
		if check == "" {
			return NewConnError(CompressionError, "empty pseudo-header name")
		}
	}
	for i := 0; i < len(check); i++ {
		c := check[i]
		if c >= 'A' && c <= 'Z' {
			return NewConnError(CompressionError, "uppercase header name byte")
		}
	}
	if !httpguts.ValidHeaderFieldName(check) {
		return NewConnError(CompressionError, "invalid header name token")
	}
	return nil
}
