package h2

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameHeaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)

	fh := AcquireFrameHeader()
	fh.SetStream(1)
	df := AcquireFrame(FrameData).(*DataFrame)
	df.SetData([]byte("hello"))
	df.SetEndStream(true)
	fh.SetBody(df)

	_, err := fh.WriteTo(bw)
	require.NoError(t, err)
	require.NoError(t, bw.Flush())

	br := bufio.NewReader(&buf)
	out, err := ReadFrameFrom(br, 0)
	require.NoError(t, err)
	require.Equal(t, FrameData, out.Type())
	require.Equal(t, uint32(1), out.Stream())

	gotData := out.Body().(*DataFrame)
	require.Equal(t, []byte("hello"), gotData.Data())
	require.True(t, gotData.EndStream())
}

func TestFrameHeaderPreservesReservedBitZero(t *testing.T) {
	buf := make([]byte, FrameHeaderLen)
	writeFrameHeaderBytes(buf, 0, FrameData, 0, 1<<31-1)
	require.Equal(t, byte(0), buf[5]&0x80, "reserved bit must always be zero on emission")

	_, _, _, stream := parseFrameHeaderBytes(buf)
	require.Equal(t, uint32(1<<31-1), stream)
}

func TestGoAwayDeserializeParsesBothFields(t *testing.T) {
	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)

	fh := AcquireFrameHeader()
	gf := AcquireFrame(FrameGoAway).(*GoAwayFrame)
	gf.SetLastStreamID(41)
	gf.SetCode(ProtocolError)
	gf.SetDebug([]byte("bye"))
	fh.SetBody(gf)
	_, err := fh.WriteTo(bw)
	require.NoError(t, err)
	require.NoError(t, bw.Flush())

	br := bufio.NewReader(&buf)
	out, err := ReadFrameFrom(br, 0)
	require.NoError(t, err)
	got := out.Body().(*GoAwayFrame)
	require.Equal(t, uint32(41), got.LastStreamID())
	require.Equal(t, ProtocolError, got.Code())
	require.Equal(t, []byte("bye"), got.Debug())
}

func TestWindowUpdateZeroIncrementIsStreamError(t *testing.T) {
	// A WINDOW_UPDATE with a zero increment is malformed (RFC 7540 §6.9);
	// construct the raw bytes directly: a 4-byte all-zero payload.
	h := make([]byte, FrameHeaderLen+4)
	writeFrameHeaderBytes(h[:FrameHeaderLen], 4, FrameWindowUpdate, 0, 1)

	br := bufio.NewReader(bytes.NewReader(h))
	_, err := ReadFrameFrom(br, 0)
	require.Error(t, err)
	serr, ok := err.(*StreamError)
	require.True(t, ok)
	require.Equal(t, ProtocolError, serr.Code)
}

func TestSettingsAckMustBeEmpty(t *testing.T) {
	h := make([]byte, FrameHeaderLen+6)
	writeFrameHeaderBytes(h[:FrameHeaderLen], 6, FrameSettingsType, FlagAck, 0)
	br := bufio.NewReader(bytes.NewReader(h))
	_, err := ReadFrameFrom(br, 0)
	require.Error(t, err)
	cerr, ok := err.(*ConnError)
	require.True(t, ok)
	require.Equal(t, FrameSizeError, cerr.Code)
}

func TestDataFramePaddingRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)

	fh := AcquireFrameHeader()
	fh.SetStream(1)
	df := AcquireFrame(FrameData).(*DataFrame)
	df.SetData([]byte("padded body"))
	df.SetEndStream(true)
	df.SetPadding(true)
	fh.SetBody(df)

	_, err := fh.WriteTo(bw)
	require.NoError(t, err)
	require.NoError(t, bw.Flush())

	br := bufio.NewReader(&buf)
	out, err := ReadFrameFrom(br, 0)
	require.NoError(t, err)
	got := out.Body().(*DataFrame)
	require.Equal(t, []byte("padded body"), got.Data())
}

func TestHeadersFramePaddingRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)

	fh := AcquireFrameHeader()
	fh.SetStream(1)
	hf := AcquireFrame(FrameHeadersType).(*HeadersFrame)
	hf.SetHeaderBlock([]byte("hpack-bytes"))
	hf.SetEndHeaders(true)
	hf.SetPadding(true)
	fh.SetBody(hf)

	_, err := fh.WriteTo(bw)
	require.NoError(t, err)
	require.NoError(t, bw.Flush())

	br := bufio.NewReader(&buf)
	out, err := ReadFrameFrom(br, 0)
	require.NoError(t, err)
	got := out.Body().(*HeadersFrame)
	require.Equal(t, []byte("hpack-bytes"), got.HeaderBlock())
}

func TestUnknownFrameTypeIsIgnored(t *testing.T) {
	h := make([]byte, FrameHeaderLen+3)
	writeFrameHeaderBytes(h[:FrameHeaderLen], 3, FrameType(200), 0, 0)
	br := bufio.NewReader(bytes.NewReader(h))
	_, err := ReadFrameFrom(br, 0)
	require.ErrorIs(t, err, ErrUnknownFrameType)
}
