package h2

import (
	"strconv"
	"strings"

	"github.com/nyxhttp/h2/h2utils"
	"github.com/valyala/fasthttp"
)

// connectionSpecificHeaders lists header names RFC 7540 §8.1.2.2 forbids
// in an HTTP/2 message (a hop-by-hop artifact of HTTP/1.1 framing).
var connectionSpecificHeaders = map[string]bool{
	"connection":        true,
	"keep-alive":        true,
	"proxy-connection":  true,
	"transfer-encoding": true,
	"upgrade":           true,
}

// trailersValue is compared against the "te" header's value with a
// case-insensitive, allocation-free byte compare (RFC 7540 §8.1.2.2
// permits only "te: trailers").
var trailersValue = []byte("trailers")

// buildHeaderBlock translates req into the HPACK header-field list the
// engine will encode, in RFC 7540 §8.1.2.3 pseudo-header-first order
// (spec.md §4.6). When enableCompression is set and the caller hasn't
// already supplied one, an Accept-Encoding header is added so the peer
// may compress the response body. The response body is stored as
// received: nothing in this module decompresses it.
func buildHeaderBlock(req *fasthttp.Request, enableCompression bool) ([]HeaderField, error) {
	method := string(req.Header.Method())
	scheme := "https"
	if scheme0 := req.URI().Scheme(); len(scheme0) > 0 {
		scheme = string(scheme0)
	}
	path := string(req.URI().RequestURI())
	if path == "" {
		path = "/"
	}
	authority := string(req.URI().Host())
	if authority == "" {
		authority = string(req.Header.Host())
	}

	if method != "CONNECT" && path == "" {
		return nil, NewStreamError(0, ProtocolError)
	}

	fields := make([]HeaderField, 0, 8+req.Header.Len())
	fields = append(fields,
		HeaderField{Name: ":method", Value: method},
		HeaderField{Name: ":scheme", Value: scheme},
	)
	if method != "CONNECT" {
		fields = append(fields, HeaderField{Name: ":path", Value: path})
	}
	if authority != "" {
		fields = append(fields, HeaderField{Name: ":authority", Value: authority})
	}

	var err error
	sawAcceptEncoding := false
	req.Header.VisitAll(func(k, v []byte) {
		if err != nil {
			return
		}
		name := strings.ToLower(string(k))
		if name == "host" {
			return // folded into :authority above
		}
		if connectionSpecificHeaders[name] {
			return
		}
		if name == "te" && !h2utils.EqualsFold(v, trailersValue) {
			return
		}
		if name == "accept-encoding" {
			sawAcceptEncoding = true
		}
		if verr := validateFieldName(name); verr != nil {
			err = verr
			return
		}
		sensitive := name == "authorization" || (name == "cookie" && len(v) > 20)
		fields = append(fields, HeaderField{Name: name, Value: string(v), Sensitive: sensitive})
	})
	if err != nil {
		return nil, err
	}

	if enableCompression && !sawAcceptEncoding {
		fields = append(fields, HeaderField{Name: "accept-encoding", Value: "gzip, deflate, br"})
	}

	return fields, nil
}

// encodeRequestFrames builds the HEADERS(+CONTINUATION) and DATA frames
// for one request, splitting the HPACK block across CONTINUATION frames
// so no single frame exceeds maxFrameSize (spec.md §4.6).
func encodeRequestFrames(enc *Encoder, streamID uint32, req *fasthttp.Request, maxFrameSize uint32, enableCompression bool) ([]*FrameHeader, error) {
	fields, err := buildHeaderBlock(req, enableCompression)
	if err != nil {
		return nil, err
	}

	block := enc.Encode(nil, fields)
	body := req.Body()
	hasBody := len(body) > 0

	var frames []*FrameHeader
	first := true
	for len(block) > 0 || first {
		n := uint32(len(block))
		if n > maxFrameSize {
			n = maxFrameSize
		}
		chunk := block[:n]
		block = block[n:]

		fh := AcquireFrameHeader()
		fh.SetStream(streamID)
		if first {
			hf := AcquireFrame(FrameHeadersType).(*HeadersFrame)
			hf.SetHeaderBlock(chunk)
			hf.SetEndHeaders(len(block) == 0)
			// END_STREAM is a HEADERS-frame-only flag (RFC 7540 §6.2):
			// whether the block spans CONTINUATION frames is orthogonal to
			// whether the request has a body, so it must not gate on
			// len(block) here, or a no-body request with a large header
			// block never half-closes the stream.
			hf.SetEndStream(!hasBody)
			fh.SetBody(hf)
		} else {
			cf := AcquireFrame(FrameContinuation).(*ContinuationFrame)
			cf.SetHeaderBlock(chunk)
			cf.SetEndHeaders(len(block) == 0)
			fh.SetBody(cf)
		}
		frames = append(frames, fh)
		first = false
	}

	if hasBody {
		for len(body) > 0 || len(frames) == 0 {
			n := uint32(len(body))
			if n > maxFrameSize {
				n = maxFrameSize
			}
			chunk := body[:n]
			body = body[n:]

			fh := AcquireFrameHeader()
			fh.SetStream(streamID)
			df := AcquireFrame(FrameData).(*DataFrame)
			df.SetData(chunk)
			df.SetEndStream(len(body) == 0)
			fh.SetBody(df)
			frames = append(frames, fh)
			if len(body) == 0 {
				break
			}
		}
	}

	return frames, nil
}

// responseAssembler accumulates decoded header fields and body bytes for
// one stream into a *fasthttp.Response (spec.md §4.6).
type responseAssembler struct {
	statusSeen bool
	status     int
}

// applyHeaders decodes and merges a reassembled HPACK block into resp,
// stripping pseudo-headers from the user-visible header map and
// extracting :status (spec.md §4.6).
func (a *responseAssembler) applyHeaders(dec *Decoder, block []byte, resp *fasthttp.Response) error {
	fields, err := dec.Decode(block)
	if err != nil {
		return err
	}
	for _, f := range fields {
		if strings.HasPrefix(f.Name, ":") {
			if f.Name == ":status" {
				code, convErr := strconv.Atoi(f.Value)
				if convErr != nil || code < 100 || code > 599 {
					return NewStreamError(0, ProtocolError)
				}
				a.status = code
				a.statusSeen = true
				resp.SetStatusCode(code)
			}
			continue
		}
		resp.Header.Add(f.Name, f.Value)
	}
	return nil
}
