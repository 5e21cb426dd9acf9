// Package nethttp runs a net/http handler as a service. Responses are
// buffered until the handler returns or flushes; a flush switches the
// response to streaming.
package nethttp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"sort"
	"strconv"

	"go.keploy.io/httpengine/pkg/body"
	"go.keploy.io/httpengine/pkg/core/httperr"
	"go.keploy.io/httpengine/pkg/models"
	"go.uber.org/zap"
)

// streamHighWater bounds what a flushing handler may write ahead of the
// transport.
const streamHighWater = 64 << 10

type ctxKey struct{}

// Extension returns the connection extension value of a request served
// through the adapter.
func Extension(r *http.Request) any {
	return r.Context().Value(ctxKey{})
}

type Adapter struct {
	logger *zap.Logger
	h      http.Handler
}

func New(logger *zap.Logger, h http.Handler) *Adapter {
	return &Adapter{logger: logger, h: h}
}

func (a *Adapter) Call(ctx context.Context, req *models.Request) (*models.Response, error) {
	hr := toHTTPRequest(ctx, req)
	rw := newResponseWriter()

	done := make(chan error, 1)
	go func() {
		var err error
		defer func() {
			if r := recover(); r != nil {
				if r == http.ErrAbortHandler {
					err = fmt.Errorf("handler aborted")
				} else {
					a.logger.Error("handler panicked", zap.Any("panic", r))
					err = &httperr.PanicError{Value: r, Stack: debug.Stack()}
				}
			}
			rw.finish(err)
			done <- err
		}()
		a.h.ServeHTTP(rw, hr)
	}()

	select {
	case resp := <-rw.committed:
		return resp, nil
	case err := <-done:
		select {
		case resp := <-rw.committed:
			return resp, nil
		default:
		}
		if err != nil {
			return nil, err
		}
		return rw.buffered(), nil
	}
}

func toHTTPRequest(ctx context.Context, req *models.Request) *http.Request {
	h := make(http.Header, req.Header.Len())
	for _, f := range req.Header.Fields() {
		h.Add(f.Name, f.Value)
	}

	length := int64(-1)
	if v := req.Header.Get("Content-Length"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			length = n
		}
	}
	var rc io.ReadCloser = http.NoBody
	if length != 0 {
		rc = body.NewReader(ctx, req.TakePayload())
	}

	major, minor := 1, 1
	switch req.Version {
	case models.HTTP10:
		minor = 0
	case models.HTTP20:
		major, minor = 2, 0
	}

	hr := &http.Request{
		Method:        string(req.Method),
		URL:           req.URL,
		Proto:         req.Version.String(),
		ProtoMajor:    major,
		ProtoMinor:    minor,
		Header:        h,
		Body:          rc,
		ContentLength: length,
		Host:          req.Host,
		RequestURI:    req.Target,
		TLS:           req.TLS(),
	}
	if peer := req.PeerAddr(); peer != nil {
		hr.RemoteAddr = peer.String()
	}
	return hr.WithContext(context.WithValue(ctx, ctxKey{}, req.Extension()))
}

// responseWriter is used by the handler goroutine only. The response
// leaves it through committed or, once the handler returned, buffered.
type responseWriter struct {
	header      http.Header
	status      int
	wroteHeader bool
	buf         bytes.Buffer
	pipe        *body.Pipe
	committed   chan *models.Response
}

func newResponseWriter() *responseWriter {
	return &responseWriter{
		header:    make(http.Header),
		committed: make(chan *models.Response, 1),
	}
}

func (w *responseWriter) Header() http.Header {
	return w.header
}

func (w *responseWriter) WriteHeader(status int) {
	if w.wroteHeader {
		return
	}
	if status >= 100 && status < 200 && status != http.StatusSwitchingProtocols {
		// interim responses are not forwarded
		return
	}
	w.status = status
	w.wroteHeader = true
}

func (w *responseWriter) Write(p []byte) (int, error) {
	w.WriteHeader(http.StatusOK)
	if w.pipe != nil {
		return w.pipe.Write(p)
	}
	return w.buf.Write(p)
}

// Flush commits the head and streams everything written from now on.
func (w *responseWriter) Flush() {
	w.WriteHeader(http.StatusOK)
	if w.pipe != nil {
		return
	}
	w.pipe = body.NewBoundedPipe(streamHighWater, nil)
	if w.buf.Len() > 0 {
		_, _ = w.pipe.Write(w.buf.Bytes())
		w.buf.Reset()
	}

	b := w.builder()
	if n, err := strconv.ParseInt(w.header.Get("Content-Length"), 10, 64); err == nil && n >= 0 {
		w.committed <- b.Sized(n, w.pipe)
		return
	}
	w.committed <- b.Streaming(w.pipe)
}

func (w *responseWriter) finish(err error) {
	if w.pipe != nil {
		w.pipe.CloseWithError(err)
	}
}

func (w *responseWriter) buffered() *models.Response {
	w.WriteHeader(http.StatusOK)
	return w.builder().Body(w.buf.Bytes())
}

func (w *responseWriter) builder() *models.ResponseBuilder {
	b := models.NewBuilder(w.status)
	names := make([]string, 0, len(w.header))
	for name := range w.header {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, v := range w.header[name] {
			b.Header(name, v)
		}
	}
	return b
}
