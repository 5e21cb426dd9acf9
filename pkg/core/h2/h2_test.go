package h2

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.keploy.io/httpengine/pkg/body"
	"go.keploy.io/httpengine/pkg/core/conn"
	"go.keploy.io/httpengine/pkg/core/materialize"
	"go.keploy.io/httpengine/pkg/models"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"
	"golang.org/x/sync/errgroup"
)

type handlerFunc func(ctx context.Context, req *models.Request) *models.Response

func startServer(t *testing.T, cfg Config, h handlerFunc) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		_ = ln.Close()
	})

	engine := New(zap.NewNop(), cfg)
	x := conn.ExchangerFunc(func(ctx context.Context, c *conn.Connection, head conn.ExchangeHead, payload body.Stream) *materialize.Output {
		resp := h(ctx, c.NewRequest(head, payload))
		out, err := materialize.Materialize(head.Version, head.Method, resp)
		if err != nil {
			panic(err)
		}
		return out
	})

	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer nc.Close()
				c := conn.New(zap.NewNop(), nc, conn.ProtocolHTTP2, nil, func(conn.Info) any { return 10 })
				_ = engine.Serve(ctx, nc, c, x)
			}()
		}
	}()
	return ln.Addr().String()
}

func h2cClient() *http.Client {
	return &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http2.Transport{
			AllowHTTP: true,
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, network, addr)
			},
		},
	}
}

func echo(ctx context.Context, req *models.Request) *models.Response {
	data, err := body.ReadAll(ctx, req.TakePayload())
	if err != nil {
		return models.NewBuilder(http.StatusBadRequest).BodyString(err.Error())
	}
	ext, _ := models.ExtensionAs[int](req)
	return models.Ok().
		Header("X-Version", req.Version.String()).
		Header("X-Extension", fmt.Sprint(ext)).
		Header("X-Peer", req.PeerAddr().String()).
		Body(data)
}

func TestServe_EchoAndConnectionFacts(t *testing.T) {
	addr := startServer(t, DefaultConfig(), echo)
	client := h2cClient()

	resp, err := client.Post("http://"+addr+"/echo", "text/plain", strings.NewReader("hello"))
	require.NoError(t, err)
	defer resp.Body.Close()

	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, 2, resp.ProtoMajor)
	assert.Equal(t, "hello", string(got))
	assert.Equal(t, "HTTP/2.0", resp.Header.Get("X-Version"))
	assert.Equal(t, "10", resp.Header.Get("X-Extension"))
	assert.NotEmpty(t, resp.Header.Get("X-Peer"))
	assert.EqualValues(t, 5, resp.ContentLength)
}

func TestServe_LargePayloadUnderFlowControl(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InitialWindowSize = defaultWindowSize
	cfg.ConnWindowSize = defaultWindowSize
	addr := startServer(t, cfg, echo)

	payload := bytes.Repeat([]byte("0123456789abcdef"), 40*1024)
	resp, err := h2cClient().Post("http://"+addr+"/", "application/octet-stream", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()

	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, len(payload), len(got))
	assert.True(t, bytes.Equal(payload, got))
}

func TestServe_StreamingResponse(t *testing.T) {
	addr := startServer(t, DefaultConfig(), func(_ context.Context, _ *models.Request) *models.Response {
		return models.Ok().Header("Transfer-Encoding", "chunked").Streaming(body.FromChunks([]byte("a"), []byte("b"), []byte("c")))
	})

	resp, err := h2cClient().Get("http://" + addr + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
	assert.Empty(t, resp.TransferEncoding)
	assert.Empty(t, resp.Header.Get("Transfer-Encoding"))
	assert.EqualValues(t, -1, resp.ContentLength)
}

func TestServe_ConcurrentStreams(t *testing.T) {
	addr := startServer(t, DefaultConfig(), echo)
	client := h2cClient()

	var g errgroup.Group
	for i := 0; i < 50; i++ {
		g.Go(func() error {
			msg := fmt.Sprintf("request-%d", i)
			resp, err := client.Post("http://"+addr+"/", "text/plain", strings.NewReader(msg))
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			got, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			if string(got) != msg {
				return fmt.Errorf("got %q, want %q", got, msg)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
}

func TestServe_LargeHeaderBlock(t *testing.T) {
	value := strings.Repeat("x", 1024)
	addr := startServer(t, DefaultConfig(), func(context.Context, *models.Request) *models.Response {
		b := models.Ok()
		for i := 0; i < 90; i++ {
			b.Header(fmt.Sprintf("X-Custom-%d", i), value)
		}
		return b.Finish()
	})

	resp, err := h2cClient().Get("http://" + addr + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)
	for i := 0; i < 90; i++ {
		assert.Equal(t, value, resp.Header.Get(fmt.Sprintf("X-Custom-%d", i)))
	}
}

func TestServe_ContentLengthMismatch(t *testing.T) {
	addr := startServer(t, DefaultConfig(), echo)
	rc := dialRaw(t, addr)

	rc.writeHeaders(t, 1, false, hpack.HeaderField{Name: "content-length", Value: "10"})
	require.NoError(t, rc.fr.WriteData(1, true, []byte("abc")))

	status, _ := rc.readResponse(t, 1)
	assert.Equal(t, "400", status)
}

// rawClient drives the server with hand-made frames, for responses the
// net/http client treats specially.
type rawClient struct {
	nc  net.Conn
	fr  *http2.Framer
	buf bytes.Buffer
	enc *hpack.Encoder
}

func dialRaw(t *testing.T, addr string) *rawClient {
	t.Helper()
	nc, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = nc.Close() })
	require.NoError(t, nc.SetDeadline(time.Now().Add(5*time.Second)))

	rc := &rawClient{nc: nc, fr: http2.NewFramer(nc, nc)}
	rc.fr.ReadMetaHeaders = hpack.NewDecoder(4096, nil)
	rc.enc = hpack.NewEncoder(&rc.buf)

	_, err = io.WriteString(nc, http2.ClientPreface)
	require.NoError(t, err)
	require.NoError(t, rc.fr.WriteSettings())
	return rc
}

func (rc *rawClient) writeHeaders(t *testing.T, id uint32, endStream bool, extra ...hpack.HeaderField) {
	t.Helper()
	rc.writeRequest(t, id, "GET", "/", endStream, extra...)
}

func (rc *rawClient) writeRequest(t *testing.T, id uint32, method, path string, endStream bool, extra ...hpack.HeaderField) {
	t.Helper()
	rc.buf.Reset()
	fields := append([]hpack.HeaderField{
		{Name: ":method", Value: method},
		{Name: ":path", Value: path},
		{Name: ":scheme", Value: "http"},
		{Name: ":authority", Value: "localhost"},
	}, extra...)
	for _, f := range fields {
		require.NoError(t, rc.enc.WriteField(f))
	}
	require.NoError(t, rc.fr.WriteHeaders(http2.HeadersFrameParam{
		StreamID:      id,
		BlockFragment: rc.buf.Bytes(),
		EndStream:     endStream,
		EndHeaders:    true,
	}))
}

// readResponse returns the status and regular fields of stream id, skipping
// unrelated frames. It acknowledges server SETTINGS.
func (rc *rawClient) readResponse(t *testing.T, id uint32) (string, []hpack.HeaderField) {
	t.Helper()
	for {
		f, err := rc.fr.ReadFrame()
		require.NoError(t, err)
		switch f := f.(type) {
		case *http2.SettingsFrame:
			if !f.IsAck() {
				require.NoError(t, rc.fr.WriteSettingsAck())
			}
		case *http2.MetaHeadersFrame:
			if f.StreamID == id {
				return f.PseudoValue("status"), f.RegularFields()
			}
		case *http2.RSTStreamFrame:
			if f.StreamID == id {
				t.Fatalf("stream %d reset: %v", id, f.ErrCode)
			}
		}
	}
}

// readReset waits for RST_STREAM on stream id and returns its code.
func (rc *rawClient) readReset(t *testing.T, id uint32) http2.ErrCode {
	t.Helper()
	for {
		f, err := rc.fr.ReadFrame()
		require.NoError(t, err)
		switch f := f.(type) {
		case *http2.SettingsFrame:
			if !f.IsAck() {
				require.NoError(t, rc.fr.WriteSettingsAck())
			}
		case *http2.RSTStreamFrame:
			if f.StreamID == id {
				return f.ErrCode
			}
		}
	}
}

func hasField(fields []hpack.HeaderField, name string) bool {
	for _, f := range fields {
		if f.Name == name {
			return true
		}
	}
	return false
}

func TestServe_NoLengthForBodylessStatuses(t *testing.T) {
	for _, status := range []int{100, 101, 102, 204} {
		for _, method := range []string{"GET", "HEAD"} {
			t.Run(fmt.Sprintf("%d %s", status, method), func(t *testing.T) {
				addr := startServer(t, DefaultConfig(), func(context.Context, *models.Request) *models.Response {
					return models.NewBuilder(status).Header("Content-Length", "10").BodyString("ignored")
				})
				rc := dialRaw(t, addr)
				rc.writeRequest(t, 1, method, "/", true)

				got, fields := rc.readResponse(t, 1)
				assert.Equal(t, fmt.Sprint(status), got)
				assert.False(t, hasField(fields, "content-length"))
				assert.False(t, hasField(fields, "transfer-encoding"))
			})
		}
	}
}

func TestServe_EmptyBodiesAnnounceZero(t *testing.T) {
	for _, status := range []int{200, 404} {
		addr := startServer(t, DefaultConfig(), func(context.Context, *models.Request) *models.Response {
			return models.NewBuilder(status).Finish()
		})
		rc := dialRaw(t, addr)
		rc.writeHeaders(t, 1, true)

		got, fields := rc.readResponse(t, 1)
		assert.Equal(t, fmt.Sprint(status), got)
		require.True(t, hasField(fields, "content-length"))
		for _, f := range fields {
			if f.Name == "content-length" {
				assert.Equal(t, "0", f.Value)
			}
		}
	}
}

func TestServe_RefusesStreamsOverLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrentStreams = 1
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	addr := startServer(t, cfg, func(ctx context.Context, _ *models.Request) *models.Response {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return models.Ok().Finish()
	})
	rc := dialRaw(t, addr)
	rc.writeHeaders(t, 1, true)
	rc.writeHeaders(t, 3, true)

	assert.Equal(t, http2.ErrCodeRefusedStream, rc.readReset(t, 3))
}

func TestServe_MalformedRequestIsReset(t *testing.T) {
	addr := startServer(t, DefaultConfig(), echo)
	rc := dialRaw(t, addr)
	rc.writeHeaders(t, 1, true, hpack.HeaderField{Name: "connection", Value: "keep-alive"})

	assert.Equal(t, http2.ErrCodeProtocol, rc.readReset(t, 1))
}

// failAfter yields first and then fails.
func failAfter(first string) body.Stream {
	sent := false
	return body.StreamFunc(func(context.Context) ([]byte, error) {
		if sent {
			return nil, errors.New("backend went away")
		}
		sent = true
		return []byte(first), nil
	})
}

func TestServe_FailingBodyResetsStream(t *testing.T) {
	addr := startServer(t, DefaultConfig(), func(context.Context, *models.Request) *models.Response {
		return models.Ok().Streaming(failAfter("partial"))
	})

	resp, err := h2cClient().Get("http://" + addr + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)

	got, err := io.ReadAll(resp.Body)
	assert.Equal(t, "partial", string(got))
	var se http2.StreamError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http2.ErrCodeInternal, se.Code)
}

func TestServe_FailingBodyLeavesSiblingsAlone(t *testing.T) {
	release := make(chan struct{})
	addr := startServer(t, DefaultConfig(), func(ctx context.Context, req *models.Request) *models.Response {
		if req.Path() == "/fail" {
			return models.Ok().Sized(20, failAfter("partial"))
		}
		select {
		case <-release:
		case <-ctx.Done():
		}
		return models.Ok().BodyString("sibling")
	})
	rc := dialRaw(t, addr)
	rc.writeRequest(t, 1, "GET", "/slow", true)
	rc.writeRequest(t, 3, "GET", "/fail", true)

	assert.Equal(t, http2.ErrCodeInternal, rc.readReset(t, 3))

	close(release)
	status, fields := rc.readResponse(t, 1)
	assert.Equal(t, "200", status)
	assert.True(t, hasField(fields, "content-length"))

	// the connection still takes new streams
	rc.writeRequest(t, 5, "GET", "/slow", true)
	status, _ = rc.readResponse(t, 5)
	assert.Equal(t, "200", status)
}

func TestCanonicalName(t *testing.T) {
	e := New(zap.NewNop(), Config{})
	assert.Equal(t, "Content-Type", e.canonicalName("content-type"))
	assert.Equal(t, "X-Custom-Header", e.canonicalName("x-custom-header"))
	assert.Equal(t, "Content-Type", e.canonicalName("content-type"))
	assert.Equal(t, 2, e.canon.Len())
}
