// Package materialize converts a service response into the exact status,
// header set and framing an engine puts on the wire.
package materialize

import (
	"net/http"
	"strconv"
	"time"

	"go.keploy.io/httpengine/pkg/body"
	"go.keploy.io/httpengine/pkg/core/httperr"
	"go.keploy.io/httpengine/pkg/models"
	"golang.org/x/net/http/httpguts"
)

// Framing is how the body length is conveyed on the wire.
type Framing uint8

const (
	// FramingNone sends no body and no length header.
	FramingNone Framing = iota
	// FramingLength sends a Content-Length header.
	FramingLength
	// FramingChunked uses HTTP/1.1 chunked transfer coding. The engine emits
	// the Transfer-Encoding header itself.
	FramingChunked
	// FramingClose delimits the body by closing the connection (HTTP/1.0
	// streams and 101 responses).
	FramingClose
	// FramingStream relies on the protocol's own message framing (HTTP/2
	// DATA frames with END_STREAM).
	FramingStream
)

func (f Framing) String() string {
	switch f {
	case FramingNone:
		return "none"
	case FramingLength:
		return "length"
	case FramingChunked:
		return "chunked"
	case FramingClose:
		return "close"
	case FramingStream:
		return "stream"
	}
	return "unknown"
}

// Output is a response ready to be written.
type Output struct {
	Status  int
	Header  models.Header
	Framing Framing
	// Length is the announced body length; -1 when not announced.
	Length int64
	// Body is nil when nothing is transmitted, for HEAD requests included.
	Body body.Stream
}

// HasBody reports whether the engine must drain Body.
func (o *Output) HasBody() bool {
	return o.Body != nil
}

// Clock returns the time used for the Date header.
var Clock = time.Now

// connection-specific fields forbidden in HTTP/2 (RFC 9113 section 8.2.2).
var h2Forbidden = []string{"Connection", "Keep-Alive", "Proxy-Connection", "Transfer-Encoding", "Upgrade"}

// Materialize computes the wire form of resp for an exchange with the given
// version and request method. A status outside 100-999, a negative sized
// length or an invalid header is a failure. On failure the response body
// stream is released and the error is a *httperr.MaterializeError.
func Materialize(version models.Version, method models.Method, resp *models.Response) (*Output, error) {
	status := resp.StatusCode()
	header := resp.Header.Clone()
	bd := resp.Body

	header.Del("Content-Length")
	header.Del("Transfer-Encoding")
	if version == models.HTTP20 {
		for _, name := range h2Forbidden {
			header.Del(name)
		}
	}

	if status < 100 || status > 999 {
		_ = body.Close(bd.Stream())
		return nil, httperr.NewStatusError(status)
	}
	if err := validate(header); err != nil {
		_ = body.Close(bd.Stream())
		return nil, err
	}

	out := &Output{Status: status, Header: header, Length: -1}

	switch {
	case status == http.StatusSwitchingProtocols:
		// the connection is handed over, no length is announced
		if version == models.HTTP20 {
			out.Framing = FramingNone
			_ = body.Close(bd.Stream())
		} else {
			out.Framing = FramingClose
			out.Body = bd.Stream()
		}
	case !bodyAllowed(status):
		out.Framing = FramingNone
		_ = body.Close(bd.Stream())
	default:
		if err := frame(out, version, bd); err != nil {
			_ = body.Close(bd.Stream())
			return nil, err
		}
	}

	if method.IsHead() && out.Body != nil {
		_ = body.Close(out.Body)
		out.Body = nil
	}

	if !out.Header.Has("Date") {
		out.Header.Add("Date", Clock().UTC().Format(http.TimeFormat))
	}
	return out, nil
}

func frame(out *Output, version models.Version, bd body.Body) error {
	switch bd.Kind() {
	case body.KindEmpty:
		out.Framing = FramingLength
		out.Length = 0
	case body.KindFixed:
		out.Framing = FramingLength
		out.Length = bd.Len()
		if out.Length > 0 {
			out.Body = bd.Stream()
		}
	case body.KindSized:
		if bd.Len() < 0 {
			return httperr.NewLengthError(bd.Len())
		}
		out.Framing = FramingLength
		out.Length = bd.Len()
		out.Body = body.Limit(bd.Len(), bd.Stream())
	default:
		out.Body = bd.Stream()
		switch version {
		case models.HTTP20:
			out.Framing = FramingStream
		case models.HTTP10:
			out.Framing = FramingClose
		default:
			out.Framing = FramingChunked
		}
	}
	if out.Framing == FramingLength {
		out.Header.Set("Content-Length", strconv.FormatInt(out.Length, 10))
	}
	return nil
}

// bodyAllowed mirrors RFC 9110: 1xx, 204 and 304 never carry content.
func bodyAllowed(status int) bool {
	switch {
	case status >= 100 && status < 200:
		return false
	case status == http.StatusNoContent, status == http.StatusNotModified:
		return false
	}
	return true
}

func validate(h models.Header) error {
	for _, f := range h.Fields() {
		if !httpguts.ValidHeaderFieldName(f.Name) {
			return httperr.NewHeaderNameError(f.Name)
		}
		if !httpguts.ValidHeaderFieldValue(f.Value) {
			return httperr.NewHeaderValueError(f.Name)
		}
	}
	return nil
}
