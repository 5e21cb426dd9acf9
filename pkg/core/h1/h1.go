// Package h1 serves HTTP/1.0 and HTTP/1.1 exchanges on a single connection.
package h1

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.keploy.io/httpengine/pkg/body"
	"go.keploy.io/httpengine/pkg/core/conn"
	"go.keploy.io/httpengine/pkg/core/httperr"
	"go.keploy.io/httpengine/pkg/core/materialize"
	"go.keploy.io/httpengine/pkg/models"
	"go.keploy.io/httpengine/utils"
	"go.uber.org/zap"
)

// Config tunes the HTTP/1 engine.
type Config struct {
	// MaxHeaderBytes bounds the request line plus header block.
	MaxHeaderBytes int `json:"maxHeaderBytes" yaml:"maxHeaderBytes" mapstructure:"maxHeaderBytes"`
	// KeepAlive allows more than one exchange per connection.
	KeepAlive bool `json:"keepAlive" yaml:"keepAlive" mapstructure:"keepAlive"`
	// MaxDrainBytes is how much unread request body is discarded to keep a
	// connection reusable. Larger leftovers close the connection.
	MaxDrainBytes int64 `json:"maxDrainBytes" yaml:"maxDrainBytes" mapstructure:"maxDrainBytes"`
	// ReadChunkSize is the size of request payload chunks.
	ReadChunkSize int `json:"readChunkSize" yaml:"readChunkSize" mapstructure:"readChunkSize"`
}

func DefaultConfig() Config {
	return Config{
		MaxHeaderBytes: http.DefaultMaxHeaderBytes,
		KeepAlive:      true,
		MaxDrainBytes:  256 << 10,
		ReadChunkSize:  body.DefaultChunkSize,
	}
}

type Engine struct {
	logger *zap.Logger
	cfg    Config
}

func New(logger *zap.Logger, cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.MaxHeaderBytes <= 0 {
		cfg.MaxHeaderBytes = def.MaxHeaderBytes
	}
	if cfg.MaxDrainBytes < 0 {
		cfg.MaxDrainBytes = 0
	}
	if cfg.ReadChunkSize <= 0 {
		cfg.ReadChunkSize = def.ReadChunkSize
	}
	return &Engine{logger: logger, cfg: cfg}
}

// headerSlack is read past MaxHeaderBytes before the head is rejected, so
// that a limit hit is told apart from a short read.
const headerSlack = 4096

// Serve runs exchanges on nc until the peer closes, keep-alive ends or ctx
// is cancelled. Exchanges on one connection are strictly sequential.
func (e *Engine) Serve(ctx context.Context, nc net.Conn, c *conn.Connection, x conn.Exchanger) error {
	logger := c.Logger()
	lr := &io.LimitedReader{R: nc, N: math.MaxInt64}
	br := bufio.NewReader(lr)
	bw := bufio.NewWriter(nc)

	stop := context.AfterFunc(ctx, func() { _ = nc.Close() })
	defer stop()

	for {
		lr.N = int64(e.cfg.MaxHeaderBytes) + headerSlack
		req, err := http.ReadRequest(br)
		if err != nil {
			return e.rejectHead(ctx, nc, bw, lr, err)
		}
		lr.N = math.MaxInt64

		version, err := models.ParseVersion(req.ProtoMajor, req.ProtoMinor)
		if err != nil {
			e.writeError(ctx, bw, httperr.New(http.StatusHTTPVersionNotSupported, err.Error()))
			lingerClose(nc)
			return nil
		}

		ex := &exchange{req: req, bw: bw}
		payload := body.Stream(body.None())
		if req.Body != nil && req.Body != http.NoBody {
			var r io.Reader = req.Body
			if expectsContinue(req) {
				ex.expect = &continueReader{r: req.Body, ex: ex}
				r = ex.expect
			}
			payload = body.FromReader(r, e.cfg.ReadChunkSize)
		}

		out := x.Exchange(ctx, c, headOf(req, version), payload)
		keepAlive := e.keepAlive(req, version, out)

		ex.startResponse()
		if err := writeOutput(ctx, bw, version, out, keepAlive); err != nil {
			return fmt.Errorf("failed to write response: %w", err)
		}
		logger.Debug("served exchange",
			zap.String("method", req.Method),
			zap.String("target", req.RequestURI),
			zap.Int("status", out.Status))

		if !keepAlive {
			return nil
		}
		if !e.drain(ex) {
			logger.Debug("closing connection with unread request body")
			return nil
		}
	}
}

func (e *Engine) rejectHead(ctx context.Context, nc net.Conn, bw *bufio.Writer, lr *io.LimitedReader, err error) error {
	switch {
	case lr.N <= 0:
		e.writeError(ctx, bw, httperr.New(http.StatusRequestHeaderFieldsTooLarge, "request header fields too large"))
		lingerClose(nc)
		return nil
	case errors.Is(err, io.EOF), utils.IsClosedConnError(err), ctx.Err() != nil:
		// peer closed between requests
		return nil
	case errors.Is(err, io.ErrUnexpectedEOF):
		return nil
	}
	e.writeError(ctx, bw, httperr.BadRequest("malformed request: "+err.Error()))
	lingerClose(nc)
	return nil
}

const (
	lingerTimeout = 500 * time.Millisecond
	lingerBytes   = 256 << 10
)

// lingerClose half-closes nc and discards what the peer is still sending so
// that the error response is not destroyed by a TCP reset.
func lingerClose(nc net.Conn) {
	cw, ok := nc.(interface{ CloseWrite() error })
	if !ok {
		return
	}
	if err := cw.CloseWrite(); err != nil {
		return
	}
	_ = nc.SetReadDeadline(time.Now().Add(lingerTimeout))
	_, _ = io.Copy(io.Discard, io.LimitReader(nc, lingerBytes))
}

// writeError answers a request that never reached the service. The
// connection is closed afterwards.
func (e *Engine) writeError(ctx context.Context, bw *bufio.Writer, herr *httperr.Error) {
	out, err := materialize.Materialize(models.HTTP11, models.MethodGet, httperr.FromServiceError(herr))
	if err != nil {
		utils.LogError(e.logger, err, "failed to materialize protocol error response")
		return
	}
	if err := writeOutput(ctx, bw, models.HTTP11, out, false); err != nil {
		utils.LogConnError(e.logger, err, "failed to write protocol error response")
	}
}

func (e *Engine) keepAlive(req *http.Request, version models.Version, out *materialize.Output) bool {
	switch {
	case !e.cfg.KeepAlive, req.Close:
		return false
	case out.Framing == materialize.FramingClose:
		return false
	case out.Status < 200:
		// a final 1xx leaves the peer unable to frame the next response
		return false
	case hasToken(out.Header.Values("Connection"), "close"):
		return false
	}
	if version == models.HTTP10 {
		return hasToken(req.Header.Values("Connection"), "keep-alive")
	}
	return true
}

// drain discards what the service left of the request body. It reports
// whether the connection can carry another request.
func (e *Engine) drain(ex *exchange) bool {
	if ex.expect != nil && !ex.expect.sent() {
		// the client is still waiting for 100 Continue and will not send
		return false
	}
	if ex.req.Body == nil || ex.req.Body == http.NoBody {
		return true
	}
	n, err := io.CopyN(io.Discard, ex.req.Body, e.cfg.MaxDrainBytes+1)
	if errors.Is(err, io.EOF) {
		return true
	}
	return err == nil && n <= e.cfg.MaxDrainBytes
}

func headOf(req *http.Request, version models.Version) conn.ExchangeHead {
	var h models.Header
	if req.Host != "" {
		h.Add("Host", req.Host)
	}
	names := make([]string, 0, len(req.Header))
	for name := range req.Header {
		names = append(names, name)
	}
	// net/http keeps values per name but not the order across names
	sort.Strings(names)
	for _, name := range names {
		for _, v := range req.Header[name] {
			h.Add(name, v)
		}
	}
	return conn.ExchangeHead{
		Method:  models.Method(req.Method),
		Target:  req.RequestURI,
		URL:     req.URL,
		Version: version,
		Host:    req.Host,
		Header:  h,
	}
}

func expectsContinue(req *http.Request) bool {
	return req.ProtoAtLeast(1, 1) && hasToken(req.Header.Values("Expect"), "100-continue")
}

func hasToken(values []string, token string) bool {
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}
