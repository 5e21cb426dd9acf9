package models

import (
	"crypto/tls"
	"net"
	"net/url"

	"go.keploy.io/httpengine/pkg/body"
)

// Request is the protocol-neutral view of one exchange handed to a service.
// It is built once per exchange by the connection and owned by the service
// call; only the payload stream is consumed.
type Request struct {
	Method  Method
	URL     *url.URL
	Target  string
	Version Version
	Host    string
	Header  Header

	peer      net.Addr
	tls       *tls.ConnectionState
	extension any
	payload   body.Stream
}

// RequestParts carries what the engine decoded and what the connection knows.
type RequestParts struct {
	Method    Method
	Target    string
	URL       *url.URL
	Version   Version
	Host      string
	Header    Header
	Peer      net.Addr
	TLS       *tls.ConnectionState
	Extension any
	Payload   body.Stream
}

func NewRequest(p RequestParts) *Request {
	u := p.URL
	if u == nil {
		u = &url.URL{Path: "/"}
		if parsed, err := url.ParseRequestURI(p.Target); err == nil {
			u = parsed
		}
	}
	target := p.Target
	if target == "" {
		target = u.RequestURI()
	}
	payload := p.Payload
	if payload == nil {
		payload = body.None()
	}
	return &Request{
		Method:    p.Method,
		URL:       u,
		Target:    target,
		Version:   p.Version,
		Host:      p.Host,
		Header:    p.Header,
		peer:      p.Peer,
		tls:       p.TLS,
		extension: p.Extension,
		payload:   payload,
	}
}

// PeerAddr is the remote address of the underlying connection.
func (r *Request) PeerAddr() net.Addr {
	return r.peer
}

// TLS is the negotiated TLS state, nil on cleartext connections.
func (r *Request) TLS() *tls.ConnectionState {
	return r.tls
}

// Extension returns the value the on-connect hook produced for this
// connection. It is shared by every request of the connection and must be
// treated as read-only.
func (r *Request) Extension() any {
	return r.extension
}

// Payload returns the inbound body stream without transferring ownership.
func (r *Request) Payload() body.Stream {
	return r.payload
}

// TakePayload hands the inbound stream to the caller and leaves an exhausted
// stream in its place.
func (r *Request) TakePayload() body.Stream {
	s := r.payload
	r.payload = body.None()
	return s
}

func (r *Request) Path() string {
	if r.URL == nil {
		return ""
	}
	return r.URL.Path
}

func (r *Request) IsHead() bool {
	return r.Method.IsHead()
}

// ExtensionAs returns the connection extension value of req as a T.
func ExtensionAs[T any](req *Request) (T, bool) {
	v, ok := req.extension.(T)
	return v, ok
}
