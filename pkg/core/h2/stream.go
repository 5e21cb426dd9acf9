package h2

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"go.keploy.io/httpengine/pkg/body"
	"go.keploy.io/httpengine/pkg/core/conn"
	"go.keploy.io/httpengine/pkg/core/httperr"
	"go.keploy.io/httpengine/pkg/core/materialize"
	"go.keploy.io/httpengine/utils"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"
)

// stream is one request/response exchange. Fields below pipe are guarded by
// serverConn.mu.
type stream struct {
	id     uint32
	ctx    context.Context
	cancel context.CancelFunc
	pipe   *body.Pipe

	declared   int64
	received   int64
	recvWindow int64
	sendWindow int64
	reqDone    bool
	reset      bool
	closed     bool
}

func (sc *serverConn) newStream(id uint32, declared int64) *stream {
	ctx, cancel := context.WithCancel(sc.ctx)
	st := &stream{
		id:       id,
		ctx:      ctx,
		cancel:   cancel,
		declared: declared,
	}
	sc.mu.Lock()
	st.recvWindow = int64(sc.cfg.InitialWindowSize)
	st.sendWindow = sc.peerInitialWindow
	sc.mu.Unlock()
	st.pipe = body.NewPipe(func(n int) { sc.credit(st, int64(n)) })
	return st
}

// finishPayload ends the request body, checking it against content-length.
func (st *stream) finishPayload() {
	if st.declared >= 0 && st.received != st.declared {
		st.pipe.CloseWithError(&body.PayloadError{
			Kind: body.ErrKindIncomplete,
			Err:  fmt.Errorf("request body has %d of %d declared bytes", st.received, st.declared),
		})
		return
	}
	st.pipe.CloseWithError(nil)
}

func (sc *serverConn) runStream(st *stream, head conn.ExchangeHead, truncated bool) {
	defer sc.wg.Done()
	defer sc.closeStream(st)
	done := sc.c.Begin()
	defer done()

	var out *materialize.Output
	if truncated {
		out = sc.protocolError(head, http.StatusRequestHeaderFieldsTooLarge, "request header fields too large")
	} else {
		out = sc.x.Exchange(st.ctx, sc.c, head, st.pipe)
	}

	if err := sc.writeResponse(st, out); err != nil {
		switch {
		case errors.Is(err, errStreamReset), errors.Is(err, errConnClosed), utils.IsClosedConnError(err):
			sc.logger.Debug("response abandoned", zap.Uint32("stream", st.id), zap.Error(err))
		default:
			utils.LogError(sc.logger, err, "failed to stream response body", zap.Uint32("stream", st.id))
			sc.resetStream(st.id, http2.ErrCodeInternal)
		}
		return
	}
	sc.logger.Debug("served exchange",
		zap.Uint32("stream", st.id),
		zap.String("method", string(head.Method)),
		zap.String("target", head.Target),
		zap.Int("status", out.Status))
}

func (sc *serverConn) protocolError(head conn.ExchangeHead, status int, msg string) *materialize.Output {
	out, err := materialize.Materialize(head.Version, head.Method, httperr.FromServiceError(httperr.New(status, msg)))
	if err != nil {
		// the generated response carries only valid headers
		panic(err)
	}
	return out
}

// closeStream forgets st. A request body the service never finished is
// cancelled with RST_STREAM(NO_ERROR) once the response is complete.
func (sc *serverConn) closeStream(st *stream) {
	sc.mu.Lock()
	delete(sc.streams, st.id)
	st.closed = true
	abandoned := !st.reqDone && !st.reset && !sc.closed
	st.reqDone = true
	sc.mu.Unlock()

	_ = st.pipe.Close()
	st.cancel()
	if abandoned {
		err := sc.write(func(fr *http2.Framer) error { return fr.WriteRSTStream(st.id, http2.ErrCodeNo) })
		if err != nil {
			utils.LogConnError(sc.logger, err, "failed to write RST_STREAM", zap.Uint32("stream", st.id))
		}
	}
}

func (sc *serverConn) writeResponse(st *stream, out *materialize.Output) error {
	if !out.HasBody() {
		return sc.writeHeaders(st, out, true)
	}
	if err := sc.writeHeaders(st, out, false); err != nil {
		_ = body.Close(out.Body)
		return err
	}
	for {
		chunk, err := out.Body.Next(st.ctx)
		if errors.Is(err, io.EOF) {
			return sc.writeData(st, nil, true)
		}
		if err != nil {
			_ = body.Close(out.Body)
			if st.ctx.Err() != nil {
				return errStreamReset
			}
			return err
		}
		if err := sc.writeData(st, chunk, false); err != nil {
			_ = body.Close(out.Body)
			return err
		}
	}
}

// writeHeaders encodes the response head and sends it as one HEADERS frame
// followed by as many CONTINUATION frames as the peer's frame size needs.
func (sc *serverConn) writeHeaders(st *stream, out *materialize.Output, endStream bool) error {
	sc.mu.Lock()
	maxFrame := int(sc.peerMaxFrameSize)
	reset, closed := st.reset, sc.closed
	sc.mu.Unlock()
	if closed {
		return errConnClosed
	}
	if reset {
		return errStreamReset
	}

	sc.wmu.Lock()
	defer sc.wmu.Unlock()

	sc.hbuf.Reset()
	if err := sc.henc.WriteField(hpack.HeaderField{Name: ":status", Value: strconv.Itoa(out.Status)}); err != nil {
		return err
	}
	for _, f := range out.Header.Fields() {
		if err := sc.henc.WriteField(hpack.HeaderField{Name: lowerName(f.Name), Value: f.Value}); err != nil {
			return err
		}
	}

	block := sc.hbuf.Bytes()
	first := block
	if len(first) > maxFrame {
		first = block[:maxFrame]
	}
	block = block[len(first):]
	err := sc.framer.WriteHeaders(http2.HeadersFrameParam{
		StreamID:      st.id,
		BlockFragment: first,
		EndStream:     endStream,
		EndHeaders:    len(block) == 0,
	})
	if err != nil {
		return err
	}
	for len(block) > 0 {
		frag := block
		if len(frag) > maxFrame {
			frag = block[:maxFrame]
		}
		block = block[len(frag):]
		if err := sc.framer.WriteContinuation(st.id, len(block) == 0, frag); err != nil {
			return err
		}
	}
	return sc.bw.Flush()
}

// writeData sends data in DATA frames no larger than the peer's frame size
// and the available send windows. An empty data with endStream sends a bare
// END_STREAM frame.
func (sc *serverConn) writeData(st *stream, data []byte, endStream bool) error {
	if len(data) == 0 {
		if !endStream {
			return nil
		}
		return sc.write(func(fr *http2.Framer) error { return fr.WriteData(st.id, true, nil) })
	}
	for len(data) > 0 {
		n, err := sc.reserve(st, len(data))
		if err != nil {
			return err
		}
		chunk := data[:n]
		data = data[n:]
		last := endStream && len(data) == 0
		if err := sc.write(func(fr *http2.Framer) error { return fr.WriteData(st.id, last, chunk) }); err != nil {
			return err
		}
	}
	return nil
}

// reserve blocks until some send window is available on both the connection
// and st, then takes up to want bytes of it.
func (sc *serverConn) reserve(st *stream, want int) (int, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	for {
		switch {
		case sc.closed:
			return 0, errConnClosed
		case st.reset:
			return 0, errStreamReset
		}
		n := int64(want)
		n = min(n, sc.connSendWindow, st.sendWindow, int64(sc.peerMaxFrameSize))
		if n > 0 {
			sc.connSendWindow -= n
			st.sendWindow -= n
			return int(n), nil
		}
		sc.cond.Wait()
	}
}
