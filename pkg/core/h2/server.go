package h2

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"go.keploy.io/httpengine/pkg/body"
	"go.keploy.io/httpengine/pkg/core/conn"
	"go.keploy.io/httpengine/pkg/models"
	"go.keploy.io/httpengine/utils"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"
)

var (
	errConnClosed  = errors.New("h2: connection closed")
	errStreamReset = errors.New("h2: stream reset")
)

// serverConn is the state of one HTTP/2 connection.
//
// wmu serializes frame writes and guards the framer's write side, the hpack
// encoder and the buffered writer. mu guards everything else. The two are
// never held together.
type serverConn struct {
	ctx    context.Context
	engine *Engine
	cfg    Config
	nc     net.Conn
	c      *conn.Connection
	x      conn.Exchanger
	logger *zap.Logger

	br     *bufio.Reader
	framer *http2.Framer

	wmu  sync.Mutex
	bw   *bufio.Writer
	hbuf bytes.Buffer
	henc *hpack.Encoder

	mu                sync.Mutex
	cond              *sync.Cond
	streams           map[uint32]*stream
	maxClientStreamID uint32
	connSendWindow    int64
	connRecvWindow    int64
	peerInitialWindow int64
	peerMaxFrameSize  uint32
	closed            bool
	sentGoAway        bool

	wg sync.WaitGroup
}

func newServerConn(ctx context.Context, e *Engine, nc net.Conn, c *conn.Connection, x conn.Exchanger) *serverConn {
	sc := &serverConn{
		ctx:               ctx,
		engine:            e,
		cfg:               e.cfg,
		nc:                nc,
		c:                 c,
		x:                 x,
		logger:            c.Logger(),
		br:                bufio.NewReader(nc),
		bw:                bufio.NewWriter(nc),
		streams:           make(map[uint32]*stream),
		connSendWindow:    defaultWindowSize,
		connRecvWindow:    int64(e.cfg.ConnWindowSize),
		peerInitialWindow: defaultWindowSize,
		peerMaxFrameSize:  minMaxFrameSize,
	}
	sc.cond = sync.NewCond(&sc.mu)
	sc.henc = hpack.NewEncoder(&sc.hbuf)

	sc.framer = http2.NewFramer(sc.bw, sc.br)
	sc.framer.ReadMetaHeaders = hpack.NewDecoder(4096, nil)
	sc.framer.MaxHeaderListSize = e.cfg.MaxHeaderListSize
	sc.framer.SetMaxReadFrameSize(e.cfg.MaxFrameSize)
	return sc
}

// handshake consumes the client preface, announces our settings and
// requires the peer's first frame to be SETTINGS.
func (sc *serverConn) handshake() error {
	preface := make([]byte, len(http2.ClientPreface))
	if _, err := io.ReadFull(sc.br, preface); err != nil {
		return fmt.Errorf("failed to read client preface: %w", err)
	}
	if string(preface) != http2.ClientPreface {
		return fmt.Errorf("invalid client preface %q", preface)
	}

	settings := []http2.Setting{
		{ID: http2.SettingMaxFrameSize, Val: sc.cfg.MaxFrameSize},
		{ID: http2.SettingMaxConcurrentStreams, Val: sc.cfg.MaxConcurrentStreams},
		{ID: http2.SettingInitialWindowSize, Val: sc.cfg.InitialWindowSize},
		{ID: http2.SettingMaxHeaderListSize, Val: sc.cfg.MaxHeaderListSize},
	}
	err := sc.write(func(fr *http2.Framer) error {
		if err := fr.WriteSettings(settings...); err != nil {
			return err
		}
		if inc := sc.cfg.ConnWindowSize - defaultWindowSize; inc > 0 {
			return fr.WriteWindowUpdate(0, inc)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write server settings: %w", err)
	}

	f, err := sc.framer.ReadFrame()
	if err != nil {
		return fmt.Errorf("failed to read client settings: %w", err)
	}
	sf, ok := f.(*http2.SettingsFrame)
	if !ok || sf.IsAck() {
		sc.goAway(http2.ErrCodeProtocol)
		return fmt.Errorf("expected client SETTINGS, got %v", f.Header().Type)
	}
	return sc.processSettings(sf)
}

// write runs fn with exclusive access to the framer and flushes.
func (sc *serverConn) write(fn func(fr *http2.Framer) error) error {
	sc.wmu.Lock()
	defer sc.wmu.Unlock()
	if err := fn(sc.framer); err != nil {
		return err
	}
	return sc.bw.Flush()
}

func (sc *serverConn) serve() error {
	for {
		f, err := sc.framer.ReadFrame()
		if err != nil {
			var se http2.StreamError
			if errors.As(err, &se) {
				sc.resetStream(se.StreamID, se.Code)
				continue
			}
			var ce http2.ConnectionError
			if errors.As(err, &ce) {
				sc.goAway(http2.ErrCode(ce))
				return fmt.Errorf("h2 connection error: %w", err)
			}
			if utils.IsClosedConnError(err) || sc.ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to read frame: %w", err)
		}

		if err := sc.processFrame(f); err != nil {
			var ce http2.ConnectionError
			if errors.As(err, &ce) {
				sc.goAway(http2.ErrCode(ce))
			}
			return err
		}
	}
}

func (sc *serverConn) processFrame(f http2.Frame) error {
	switch f := f.(type) {
	case *http2.SettingsFrame:
		if f.IsAck() {
			return nil
		}
		return sc.processSettings(f)
	case *http2.MetaHeadersFrame:
		return sc.processHeaders(f)
	case *http2.DataFrame:
		return sc.processData(f)
	case *http2.WindowUpdateFrame:
		return sc.processWindowUpdate(f)
	case *http2.PingFrame:
		if f.IsAck() {
			return nil
		}
		return sc.write(func(fr *http2.Framer) error { return fr.WritePing(true, f.Data) })
	case *http2.RSTStreamFrame:
		sc.processReset(f)
		return nil
	case *http2.GoAwayFrame:
		sc.logger.Debug("peer sent GOAWAY", zap.Uint32("lastStream", f.LastStreamID), zap.Stringer("code", f.ErrCode))
		return nil
	case *http2.PushPromiseFrame:
		return http2.ConnectionError(http2.ErrCodeProtocol)
	default:
		// PRIORITY and unknown extension frames carry nothing we act on
		return nil
	}
}

func (sc *serverConn) processSettings(f *http2.SettingsFrame) error {
	err := f.ForeachSetting(func(s http2.Setting) error {
		if err := s.Valid(); err != nil {
			return err
		}
		switch s.ID {
		case http2.SettingInitialWindowSize:
			sc.mu.Lock()
			delta := int64(s.Val) - sc.peerInitialWindow
			sc.peerInitialWindow = int64(s.Val)
			for _, st := range sc.streams {
				st.sendWindow += delta
				if st.sendWindow > maxWindowSize {
					sc.mu.Unlock()
					return http2.ConnectionError(http2.ErrCodeFlowControl)
				}
			}
			sc.cond.Broadcast()
			sc.mu.Unlock()
		case http2.SettingMaxFrameSize:
			sc.mu.Lock()
			sc.peerMaxFrameSize = s.Val
			sc.mu.Unlock()
		case http2.SettingHeaderTableSize:
			sc.wmu.Lock()
			sc.henc.SetMaxDynamicTableSizeLimit(s.Val)
			sc.wmu.Unlock()
		}
		return nil
	})
	if err != nil {
		var ce http2.ConnectionError
		if errors.As(err, &ce) {
			return ce
		}
		return http2.ConnectionError(http2.ErrCodeProtocol)
	}
	return sc.write(func(fr *http2.Framer) error { return fr.WriteSettingsAck() })
}

func (sc *serverConn) processHeaders(f *http2.MetaHeadersFrame) error {
	id := f.StreamID
	if id%2 == 0 {
		return http2.ConnectionError(http2.ErrCodeProtocol)
	}

	sc.mu.Lock()
	if st, ok := sc.streams[id]; ok {
		reqDone := st.reqDone
		if !reqDone && f.StreamEnded() {
			st.reqDone = true
		}
		sc.mu.Unlock()
		if reqDone {
			sc.resetStream(id, http2.ErrCodeStreamClosed)
			return nil
		}
		if !f.StreamEnded() {
			sc.resetStream(id, http2.ErrCodeProtocol)
			return nil
		}
		// trailers end the request body
		st.finishPayload()
		return nil
	}
	if id <= sc.maxClientStreamID {
		sc.mu.Unlock()
		return http2.ConnectionError(http2.ErrCodeProtocol)
	}
	sc.maxClientStreamID = id
	refuse := sc.sentGoAway || uint32(len(sc.streams)) >= sc.cfg.MaxConcurrentStreams
	sc.mu.Unlock()

	if refuse {
		sc.resetStream(id, http2.ErrCodeRefusedStream)
		return nil
	}

	head, declared, err := sc.decodeHead(f)
	if err != nil {
		sc.logger.Debug("rejecting malformed request headers", zap.Uint32("stream", id), zap.Error(err))
		sc.resetStream(id, http2.ErrCodeProtocol)
		return nil
	}

	st := sc.newStream(id, declared)
	if f.StreamEnded() {
		st.reqDone = true
		st.finishPayload()
	}

	sc.mu.Lock()
	sc.streams[id] = st
	sc.mu.Unlock()

	sc.wg.Add(1)
	go sc.runStream(st, head, f.Truncated)
	return nil
}

// decodeHead validates the pseudo-header fields and builds the exchange
// head. It also returns the declared content-length, -1 when absent.
func (sc *serverConn) decodeHead(f *http2.MetaHeadersFrame) (conn.ExchangeHead, int64, error) {
	method := f.PseudoValue("method")
	path := f.PseudoValue("path")
	scheme := f.PseudoValue("scheme")
	authority := f.PseudoValue("authority")

	head := conn.ExchangeHead{Method: models.Method(method), Version: models.HTTP20}
	if method == "" {
		return head, -1, errors.New("missing :method")
	}
	if f.PseudoValue("status") != "" {
		return head, -1, errors.New(":status in a request")
	}

	declared := int64(-1)
	for _, hf := range f.RegularFields() {
		switch hf.Name {
		case "connection", "proxy-connection", "keep-alive", "transfer-encoding", "upgrade":
			return head, -1, fmt.Errorf("connection-specific field %q", hf.Name)
		case "te":
			if hf.Value != "trailers" {
				return head, -1, fmt.Errorf("invalid te value %q", hf.Value)
			}
		case "content-length":
			n, err := strconv.ParseInt(hf.Value, 10, 64)
			if err != nil || n < 0 || (declared >= 0 && n != declared) {
				return head, -1, fmt.Errorf("invalid content-length %q", hf.Value)
			}
			declared = n
		case "host":
			if authority == "" {
				authority = hf.Value
			}
		}
		head.Header.Add(sc.engine.canonicalName(hf.Name), hf.Value)
	}

	if method == string(models.MethodConnect) {
		if path != "" || scheme != "" || authority == "" {
			return head, -1, errors.New("malformed CONNECT request")
		}
		head.URL = &url.URL{Host: authority}
		head.Target = authority
	} else {
		if path == "" || scheme == "" {
			return head, -1, errors.New("missing :path or :scheme")
		}
		u, err := url.ParseRequestURI(path)
		if err != nil {
			return head, -1, fmt.Errorf("invalid :path: %w", err)
		}
		u.Scheme = scheme
		u.Host = authority
		head.URL = u
		head.Target = path
	}
	head.Host = authority
	return head, declared, nil
}

func (sc *serverConn) processData(f *http2.DataFrame) error {
	id := f.StreamID
	size := int64(f.Length)
	data := f.Data()

	sc.mu.Lock()
	if size > sc.connRecvWindow {
		sc.mu.Unlock()
		return http2.ConnectionError(http2.ErrCodeFlowControl)
	}
	sc.connRecvWindow -= size
	st, ok := sc.streams[id]
	if ok && st.reset {
		// frames in flight after a reset are dropped
		sc.mu.Unlock()
		sc.credit(nil, size)
		return nil
	}
	if !ok || st.reqDone {
		idle := id > sc.maxClientStreamID
		sc.mu.Unlock()
		if idle {
			return http2.ConnectionError(http2.ErrCodeProtocol)
		}
		sc.credit(nil, size)
		sc.resetStream(id, http2.ErrCodeStreamClosed)
		return nil
	}
	if size > st.recvWindow {
		sc.mu.Unlock()
		sc.credit(nil, size)
		sc.resetStream(id, http2.ErrCodeFlowControl)
		return nil
	}
	st.recvWindow -= size
	st.received += int64(len(data))
	overrun := st.declared >= 0 && st.received > st.declared
	ended := f.StreamEnded()
	if ended || overrun {
		st.reqDone = true
	}
	sc.mu.Unlock()

	if overrun {
		st.pipe.CloseWithError(&body.PayloadError{Kind: body.ErrKindOverflow, Err: errors.New("request body exceeds content-length")})
		sc.credit(nil, size)
		sc.resetStream(id, http2.ErrCodeProtocol)
		return nil
	}

	if len(data) > 0 {
		if _, err := st.pipe.Write(data); err != nil {
			// the service dropped the payload; the bytes are credited here
			sc.credit(st, int64(len(data)))
		}
	}
	if pad := size - int64(len(data)); pad > 0 {
		sc.credit(st, pad)
	}
	if ended {
		st.finishPayload()
	}
	return nil
}

func (sc *serverConn) processWindowUpdate(f *http2.WindowUpdateFrame) error {
	inc := int64(f.Increment)
	sc.mu.Lock()
	if f.StreamID == 0 {
		sc.connSendWindow += inc
		overflow := sc.connSendWindow > maxWindowSize
		sc.cond.Broadcast()
		sc.mu.Unlock()
		if overflow {
			return http2.ConnectionError(http2.ErrCodeFlowControl)
		}
		return nil
	}
	st, ok := sc.streams[f.StreamID]
	overflow := false
	if ok {
		st.sendWindow += inc
		overflow = st.sendWindow > maxWindowSize
		sc.cond.Broadcast()
	}
	sc.mu.Unlock()
	if overflow {
		sc.resetStream(f.StreamID, http2.ErrCodeFlowControl)
	}
	return nil
}

func (sc *serverConn) processReset(f *http2.RSTStreamFrame) {
	sc.mu.Lock()
	st, ok := sc.streams[f.StreamID]
	if ok {
		st.reset = true
		st.reqDone = true
		sc.cond.Broadcast()
	}
	sc.mu.Unlock()
	if !ok {
		return
	}
	st.pipe.CloseWithError(&body.PayloadError{Kind: body.ErrKindReset, Err: fmt.Errorf("stream reset by peer: %v", f.ErrCode)})
	st.cancel()
}

// credit returns n bytes of receive window to the peer. Stream credit is
// only sent while the stream can still receive data.
func (sc *serverConn) credit(st *stream, n int64) {
	if n <= 0 {
		return
	}
	sc.mu.Lock()
	if sc.closed {
		sc.mu.Unlock()
		return
	}
	sc.connRecvWindow += n
	streamCredit := st != nil && !st.reqDone && !st.closed
	if streamCredit {
		st.recvWindow += n
	}
	sc.mu.Unlock()

	err := sc.write(func(fr *http2.Framer) error {
		if err := fr.WriteWindowUpdate(0, uint32(n)); err != nil {
			return err
		}
		if streamCredit {
			return fr.WriteWindowUpdate(st.id, uint32(n))
		}
		return nil
	})
	if err != nil {
		utils.LogConnError(sc.logger, err, "failed to write WINDOW_UPDATE")
	}
}

// resetStream sends RST_STREAM and tears down local stream state.
func (sc *serverConn) resetStream(id uint32, code http2.ErrCode) {
	sc.mu.Lock()
	st, ok := sc.streams[id]
	if ok {
		st.reset = true
		st.reqDone = true
		sc.cond.Broadcast()
	}
	sc.mu.Unlock()
	if ok {
		st.pipe.CloseWithError(&body.PayloadError{Kind: body.ErrKindReset, Err: fmt.Errorf("stream reset: %v", code)})
		st.cancel()
	}
	err := sc.write(func(fr *http2.Framer) error { return fr.WriteRSTStream(id, code) })
	if err != nil {
		utils.LogConnError(sc.logger, err, "failed to write RST_STREAM", zap.Uint32("stream", id))
	}
}

// goAway tells the peer no new streams will be accepted. Only the first call
// sends a frame.
func (sc *serverConn) goAway(code http2.ErrCode) {
	sc.mu.Lock()
	if sc.sentGoAway || sc.closed {
		sc.mu.Unlock()
		return
	}
	sc.sentGoAway = true
	last := sc.maxClientStreamID
	sc.mu.Unlock()

	err := sc.write(func(fr *http2.Framer) error { return fr.WriteGoAway(last, code, nil) })
	if err != nil {
		utils.LogConnError(sc.logger, err, "failed to write GOAWAY")
	}
}

// shutdown closes the connection and waits for stream handlers.
func (sc *serverConn) shutdown() {
	sc.mu.Lock()
	sc.closed = true
	streams := make([]*stream, 0, len(sc.streams))
	for _, st := range sc.streams {
		streams = append(streams, st)
	}
	sc.cond.Broadcast()
	sc.mu.Unlock()

	for _, st := range streams {
		st.pipe.CloseWithError(&body.PayloadError{Kind: body.ErrKindIo, Err: errConnClosed})
		st.cancel()
	}
	_ = sc.nc.Close()
	sc.wg.Wait()
}

func lowerName(name string) string {
	for i := 0; i < len(name); i++ {
		if c := name[i]; 'A' <= c && c <= 'Z' {
			return strings.ToLower(name)
		}
	}
	return name
}
