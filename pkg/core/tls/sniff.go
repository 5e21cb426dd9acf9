package tls

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"time"

	"go.keploy.io/httpengine/pkg/core/conn"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

// ErrTLSOnCleartext is returned when a TLS ClientHello reaches a cleartext
// listener.
var ErrTLSOnCleartext = errors.New("tls handshake received on a cleartext listener")

// sniff tells HTTP/2 prior-knowledge connections apart from HTTP/1.x on a
// cleartext listener by their first bytes. Whatever was read is replayed to
// the engine.
func (a *Adapter) sniff(ctx context.Context, raw net.Conn) (*Negotiated, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = raw.SetReadDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = raw.SetReadDeadline(time.Now()) })
	defer stop()

	preface := []byte(http2.ClientPreface)
	buf := make([]byte, 0, len(preface))
	proto := conn.ProtocolHTTP1
	for {
		n, err := raw.Read(buf[len(buf):cap(buf)])
		buf = buf[:len(buf)+n]
		if !bytes.HasPrefix(preface, buf) {
			break
		}
		if len(buf) == len(preface) {
			proto = conn.ProtocolHTTP2
			break
		}
		if err != nil {
			if errors.Is(err, io.EOF) && len(buf) > 0 {
				// a short request that happens to prefix the preface
				break
			}
			return nil, err
		}
	}
	stop()
	if IsTLSHandshake(buf) {
		return nil, ErrTLSOnCleartext
	}
	if err := raw.SetReadDeadline(time.Time{}); err != nil {
		return nil, err
	}

	a.logger.Debug("detected cleartext protocol", zap.Stringer("peer", raw.RemoteAddr()), zap.Stringer("proto", proto))
	return &Negotiated{Protocol: proto, Conn: newReplayConn(buf, raw)}, nil
}

// IsTLSHandshake reports whether data starts with a TLS handshake record.
func IsTLSHandshake(data []byte) bool {
	if len(data) < 3 {
		return false
	}
	return data[0] == 0x16 && data[1] == 0x03 && data[2] <= 0x03
}

// replayConn serves initial before reading from the wrapped connection.
type replayConn struct {
	net.Conn
	buf *bytes.Reader
}

func newReplayConn(initial []byte, c net.Conn) net.Conn {
	return &replayConn{
		Conn: c,
		buf:  bytes.NewReader(initial),
	}
}

func (r *replayConn) Read(p []byte) (int, error) {
	if r.buf.Len() > 0 {
		return r.buf.Read(p)
	}
	return r.Conn.Read(p)
}

// CloseWrite half-closes the wrapped connection when it supports it.
func (r *replayConn) CloseWrite() error {
	if cw, ok := r.Conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return r.Conn.Close()
}
