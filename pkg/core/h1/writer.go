package h1

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"sync"
	"sync/atomic"

	"go.keploy.io/httpengine/pkg/body"
	"go.keploy.io/httpengine/pkg/core/materialize"
	"go.keploy.io/httpengine/pkg/models"
)

const crlf = "\r\n"

// exchange tracks one request/response pair on the connection.
type exchange struct {
	req    *http.Request
	bw     *bufio.Writer
	expect *continueReader

	mu        sync.Mutex
	responded bool
}

func (ex *exchange) startResponse() {
	ex.mu.Lock()
	ex.responded = true
	ex.mu.Unlock()
}

// sendContinue writes the interim 100 response unless the final response
// has already started.
func (ex *exchange) sendContinue() error {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	if ex.responded {
		return nil
	}
	if _, err := ex.bw.WriteString("HTTP/1.1 100 Continue" + crlf + crlf); err != nil {
		return err
	}
	return ex.bw.Flush()
}

// continueReader asks the client for the body on first read.
type continueReader struct {
	r  io.Reader
	ex *exchange

	once  sync.Once
	err   error
	wrote atomic.Bool
}

func (c *continueReader) Read(p []byte) (int, error) {
	c.once.Do(func() {
		c.err = c.ex.sendContinue()
		c.wrote.Store(c.err == nil)
	})
	if c.err != nil {
		return 0, c.err
	}
	return c.r.Read(p)
}

func (c *continueReader) sent() bool {
	return c.wrote.Load()
}

// copyFlush writes every body chunk through w and pushes it to the peer as
// soon as it is produced.
func copyFlush(ctx context.Context, w io.Writer, bw *bufio.Writer, s body.Stream) error {
	for {
		chunk, err := s.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if _, err := w.Write(chunk); err != nil {
			return err
		}
		if err := bw.Flush(); err != nil {
			return err
		}
	}
}

func writeHead(bw *bufio.Writer, version models.Version, out *materialize.Output, keepAlive bool) error {
	reason := http.StatusText(out.Status)
	if _, err := fmt.Fprintf(bw, "HTTP/1.1 %d %s%s", out.Status, reason, crlf); err != nil {
		return err
	}
	for _, f := range out.Header.Fields() {
		if _, err := bw.WriteString(f.Name + ": " + f.Value + crlf); err != nil {
			return err
		}
	}
	if out.Framing == materialize.FramingChunked {
		if _, err := bw.WriteString("Transfer-Encoding: chunked" + crlf); err != nil {
			return err
		}
	}
	if !out.Header.Has("Connection") && out.Status != http.StatusSwitchingProtocols {
		switch {
		case !keepAlive:
			if _, err := bw.WriteString("Connection: close" + crlf); err != nil {
				return err
			}
		case version == models.HTTP10:
			if _, err := bw.WriteString("Connection: keep-alive" + crlf); err != nil {
				return err
			}
		}
	}
	_, err := bw.WriteString(crlf)
	return err
}

// writeOutput puts a materialized response on the wire. A failing body
// stream aborts the response; the caller must close the connection then.
func writeOutput(ctx context.Context, bw *bufio.Writer, version models.Version, out *materialize.Output, keepAlive bool) error {
	if err := writeHead(bw, version, out, keepAlive); err != nil {
		if out.HasBody() {
			_ = body.Close(out.Body)
		}
		return err
	}
	if !out.HasBody() {
		return bw.Flush()
	}

	switch out.Framing {
	case materialize.FramingChunked:
		cw := httputil.NewChunkedWriter(bw)
		if err := copyFlush(ctx, cw, bw, out.Body); err != nil {
			_ = body.Close(out.Body)
			return err
		}
		if err := cw.Close(); err != nil {
			return err
		}
		// the chunked writer ends with the last-chunk line only
		if _, err := bw.WriteString(crlf); err != nil {
			return err
		}
	default:
		if err := copyFlush(ctx, bw, bw, out.Body); err != nil {
			_ = body.Close(out.Body)
			return err
		}
	}
	return bw.Flush()
}
