package h2

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHPACKRoundTrip(t *testing.T) {
	enc := NewEncoder(4096)
	dec := NewDecoder(4096, 0)

	fields := []HeaderField{
		{Name: ":method", Value: "GET"},
		{Name: ":scheme", Value: "https"},
		{Name: ":path", Value: "/"},
		{Name: ":authority", Value: "example.com"},
		{Name: "user-agent", Value: "nyxhttp/1.0-a-reasonably-long-value-to-huffman-code"},
		{Name: "x-custom", Value: "some value"},
	}

	block := enc.Encode(nil, fields)
	got, err := dec.Decode(block)
	require.NoError(t, err)
	require.Equal(t, fields, got)
}

func TestHPACKDynamicTableReuse(t *testing.T) {
	enc := NewEncoder(4096)
	dec := NewDecoder(4096, 0)

	fields := []HeaderField{{Name: "x-trace-id", Value: "abcdefg1234567"}}

	b1 := enc.Encode(nil, fields)
	b2 := enc.Encode(nil, fields)
	require.Less(t, len(b2), len(b1), "second occurrence should hit the dynamic table and shrink")

	got1, err := dec.Decode(b1)
	require.NoError(t, err)
	got2, err := dec.Decode(b2)
	require.NoError(t, err)
	require.Equal(t, fields, got1)
	require.Equal(t, fields, got2)
}

func TestDynamicTableSizeAccounting(t *testing.T) {
	dt := newDynamicTable(4096)
	dt.Insert("content-type", "text/plain")
	require.EqualValues(t, entrySize("content-type", "text/plain"), dt.Size())

	dt.Insert("x-a", "1")
	dt.Insert("x-b", "2")
	total := entrySize("content-type", "text/plain") + entrySize("x-a", "1") + entrySize("x-b", "2")
	require.EqualValues(t, total, dt.Size())
}

func TestDynamicTableEvictsOldestFirst(t *testing.T) {
	dt := newDynamicTable(entrySize("k1", "v")) // room for exactly one entry
	dt.Insert("k1", "v")
	_, ok := dt.FindFull("k1", "v")
	require.True(t, ok)

	dt.Insert("k2", "v")
	_, ok = dt.FindFull("k1", "v")
	require.False(t, ok, "oldest entry must be evicted to make room")
	_, ok = dt.FindFull("k2", "v")
	require.True(t, ok)
}

func TestIndexedFieldZeroIsCompressionError(t *testing.T) {
	dec := NewDecoder(4096, 0)
	_, err := dec.Decode([]byte{0x80}) // indexed, index 0
	require.Error(t, err)
	cerr, ok := err.(*ConnError)
	require.True(t, ok)
	require.Equal(t, CompressionError, cerr.Code)
}

func TestHeaderListSizeLimitEnforced(t *testing.T) {
	enc := NewEncoder(4096)
	dec := NewDecoder(4096, 10) // tiny cap

	block := enc.Encode(nil, []HeaderField{{Name: "x-long-header-name", Value: "a fairly long value"}})
	_, err := dec.Decode(block)
	require.Error(t, err)
	cerr, ok := err.(*ConnError)
	require.True(t, ok)
	require.Equal(t, CompressionError, cerr.Code)
}

func TestHuffmanRoundTrip(t *testing.T) {
	for _, s := range []string{"www.example.com", "no-cache", "custom-value", "a"} {
		dst := appendHuffman(nil, s)
		got, err := decodeHuffman(dst)
		require.NoError(t, err)
		require.Equal(t, s, got)
	}
}

func TestHuffmanHeuristicSkipsShortStrings(t *testing.T) {
	require.False(t, shouldHuffman("short"))
	require.True(t, shouldHuffman("a string long enough to be worth coding"))
}

func TestFieldNameValidationRejectsUppercase(t *testing.T) {
	err := validateFieldName("Content-Type")
	require.Error(t, err)
}

func TestFieldNameValidationAllowsPseudoHeaders(t *testing.T) {
	require.NoError(t, validateFieldName(":method"))
}
