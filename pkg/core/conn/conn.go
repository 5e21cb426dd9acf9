// Package conn holds the per-connection state shared by every exchange on a
// transport connection and builds the request context handed to services.
package conn

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.keploy.io/httpengine/pkg/body"
	"go.keploy.io/httpengine/pkg/core/materialize"
	"go.keploy.io/httpengine/pkg/models"
	"go.uber.org/zap"
)

// Protocol is the engine selected for a connection.
type Protocol uint8

const (
	ProtocolHTTP1 Protocol = iota + 1
	ProtocolHTTP2
)

func (p Protocol) String() string {
	switch p {
	case ProtocolHTTP1:
		return "http/1.1"
	case ProtocolHTTP2:
		return "h2"
	}
	return fmt.Sprintf("protocol(%d)", uint8(p))
}

// ProtocolFromALPN maps a negotiated ALPN identifier to a Protocol. Anything
// other than "h2", including no negotiation at all, means HTTP/1.x.
func ProtocolFromALPN(proto string) Protocol {
	if proto == models.ALPNHTTP2 {
		return ProtocolHTTP2
	}
	return ProtocolHTTP1
}

// Info describes a freshly accepted connection to the on-connect hook.
type Info struct {
	ID       string
	Peer     net.Addr
	Local    net.Addr
	Protocol Protocol
	TLS      *tls.ConnectionState
	Accepted time.Time
}

// OnConnect computes the extension value of a connection. It runs exactly
// once, before the first request is dispatched.
type OnConnect func(Info) any

// Connection is the shared state of one transport connection.
type Connection struct {
	info      Info
	extension any
	logger    *zap.Logger

	requests atomic.Int64
	inflight atomic.Int64
}

// New registers a connection and runs hook, if any, to compute its
// extension value.
func New(logger *zap.Logger, nc net.Conn, proto Protocol, state *tls.ConnectionState, hook OnConnect) *Connection {
	info := Info{
		ID:       uuid.NewString(),
		Peer:     nc.RemoteAddr(),
		Local:    nc.LocalAddr(),
		Protocol: proto,
		TLS:      state,
		Accepted: time.Now(),
	}
	c := &Connection{
		info:   info,
		logger: logger.With(zap.String("conn", info.ID), zap.Stringer("peer", info.Peer), zap.Stringer("proto", proto)),
	}
	if hook != nil {
		c.extension = hook(info)
	}
	return c
}

func (c *Connection) Info() Info {
	return c.info
}

func (c *Connection) ID() string {
	return c.info.ID
}

func (c *Connection) Protocol() Protocol {
	return c.info.Protocol
}

// Extension is the value the on-connect hook produced, nil without a hook.
func (c *Connection) Extension() any {
	return c.extension
}

// Logger is the connection-scoped logger.
func (c *Connection) Logger() *zap.Logger {
	return c.logger
}

// Requests is the number of requests built on this connection so far.
func (c *Connection) Requests() int64 {
	return c.requests.Load()
}

// Inflight is the number of exchanges currently being served.
func (c *Connection) Inflight() int64 {
	return c.inflight.Load()
}

// Begin marks an exchange as started; the returned func marks it finished.
func (c *Connection) Begin() func() {
	c.inflight.Add(1)
	return func() { c.inflight.Add(-1) }
}

// ExchangeHead is what an engine decoded from the request head.
type ExchangeHead struct {
	Method  models.Method
	Target  string
	URL     *url.URL
	Version models.Version
	Host    string
	Header  models.Header
}

// NewRequest attaches the connection facts to a decoded request head.
func (c *Connection) NewRequest(head ExchangeHead, payload body.Stream) *models.Request {
	c.requests.Add(1)
	return models.NewRequest(models.RequestParts{
		Method:    head.Method,
		Target:    head.Target,
		URL:       head.URL,
		Version:   head.Version,
		Host:      head.Host,
		Header:    head.Header,
		Peer:      c.info.Peer,
		TLS:       c.info.TLS,
		Extension: c.extension,
		Payload:   payload,
	})
}

// Exchanger runs the service pipeline for one request and returns the
// materialized response. It never returns nil.
type Exchanger interface {
	Exchange(ctx context.Context, c *Connection, head ExchangeHead, payload body.Stream) *materialize.Output
}

// ExchangerFunc adapts a function to Exchanger.
type ExchangerFunc func(ctx context.Context, c *Connection, head ExchangeHead, payload body.Stream) *materialize.Output

func (f ExchangerFunc) Exchange(ctx context.Context, c *Connection, head ExchangeHead, payload body.Stream) *materialize.Output {
	return f(ctx, c, head, payload)
}
