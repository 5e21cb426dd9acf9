package nethttp

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.keploy.io/httpengine/pkg/body"
	"go.keploy.io/httpengine/pkg/core/httperr"
	"go.keploy.io/httpengine/pkg/models"
	"go.uber.org/zap"
)

func newRequest(method models.Method, target string, payload body.Stream, fields ...models.Field) *models.Request {
	return models.NewRequest(models.RequestParts{
		Method:    method,
		Target:    target,
		Version:   models.HTTP20,
		Host:      "example.test",
		Header:    models.NewHeader(fields...),
		Peer:      &net.TCPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 5555},
		Extension: "conn-ext",
		Payload:   payload,
	})
}

func call(t *testing.T, h http.HandlerFunc, req *models.Request) (*models.Response, string) {
	t.Helper()
	resp, err := New(zap.NewNop(), h).Call(context.Background(), req)
	require.NoError(t, err)
	data, err := body.ReadAll(context.Background(), resp.Body.Stream())
	require.NoError(t, err)
	return resp, string(data)
}

func TestCall_RequestConversion(t *testing.T) {
	var seen *http.Request
	var payload []byte
	h := func(w http.ResponseWriter, r *http.Request) {
		seen = r
		payload, _ = io.ReadAll(r.Body)
	}
	req := newRequest(models.MethodPost, "/items?id=7", body.FromChunks([]byte("ab"), []byte("cd")),
		models.Field{Name: "Content-Type", Value: "text/plain"},
		models.Field{Name: "X-Multi", Value: "1"},
		models.Field{Name: "X-Multi", Value: "2"})

	call(t, h, req)

	require.NotNil(t, seen)
	assert.Equal(t, http.MethodPost, seen.Method)
	assert.Equal(t, "/items", seen.URL.Path)
	assert.Equal(t, "7", seen.URL.Query().Get("id"))
	assert.Equal(t, "/items?id=7", seen.RequestURI)
	assert.Equal(t, 2, seen.ProtoMajor)
	assert.Equal(t, "example.test", seen.Host)
	assert.Equal(t, "10.0.0.1:5555", seen.RemoteAddr)
	assert.Equal(t, []string{"1", "2"}, seen.Header.Values("X-Multi"))
	assert.Equal(t, "conn-ext", Extension(seen))
	assert.Equal(t, "abcd", string(payload))
}

func TestCall_BufferedResponse(t *testing.T) {
	resp, got := call(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-B", "b")
		w.Header().Set("X-A", "a")
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, "created")
	}, newRequest(models.MethodGet, "/", nil))

	assert.Equal(t, http.StatusCreated, resp.StatusCode())
	assert.Equal(t, body.KindFixed, resp.Body.Kind())
	assert.Equal(t, "created", got)
	names := []string{}
	for _, f := range resp.Header.Fields() {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"X-A", "X-B"}, names)
}

func TestCall_DefaultsToOK(t *testing.T) {
	resp, got := call(t, func(http.ResponseWriter, *http.Request) {}, newRequest(models.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode())
	assert.Equal(t, body.KindEmpty, resp.Body.Kind())
	assert.Empty(t, got)
}

func TestCall_InterimStatusIgnored(t *testing.T) {
	resp, _ := call(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusEarlyHints)
		w.WriteHeader(http.StatusAccepted)
	}, newRequest(models.MethodGet, "/", nil))
	assert.Equal(t, http.StatusAccepted, resp.StatusCode())
}

func TestCall_FlushStreams(t *testing.T) {
	release := make(chan struct{})
	h := func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "first ")
		w.(http.Flusher).Flush()
		<-release
		_, _ = io.WriteString(w, "second")
	}

	resp, err := New(zap.NewNop(), http.HandlerFunc(h)).Call(context.Background(), newRequest(models.MethodGet, "/", nil))
	require.NoError(t, err)
	assert.Equal(t, body.KindChunked, resp.Body.Kind())

	// the head is available before the handler finished
	chunk, err := resp.Body.Stream().Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first ", string(chunk))

	close(release)
	rest, err := body.ReadAll(context.Background(), resp.Body.Stream())
	require.NoError(t, err)
	assert.Equal(t, "second", string(rest))
}

func TestCall_FlushWithContentLength(t *testing.T) {
	resp, got := call(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Length", "5")
		w.(http.Flusher).Flush()
		_, _ = io.WriteString(w, "sized")
	}, newRequest(models.MethodGet, "/", nil))

	assert.Equal(t, body.KindSized, resp.Body.Kind())
	assert.EqualValues(t, 5, resp.Body.Len())
	assert.Equal(t, "sized", got)
}

func TestCall_Panic(t *testing.T) {
	_, err := New(zap.NewNop(), http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("kaput")
	})).Call(context.Background(), newRequest(models.MethodGet, "/", nil))

	var perr *httperr.PanicError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "kaput", perr.Value)
}

func TestCall_PanicAfterFlushFailsStream(t *testing.T) {
	resp, err := New(zap.NewNop(), http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "partial")
		w.(http.Flusher).Flush()
		panic("kaput")
	})).Call(context.Background(), newRequest(models.MethodGet, "/", nil))
	require.NoError(t, err)

	_, err = body.ReadAll(context.Background(), resp.Body.Stream())
	var perr *httperr.PanicError
	assert.True(t, errors.As(err, &perr))
}

func TestCall_StreamingWaitsForTransport(t *testing.T) {
	const chunks = 64
	chunk := make([]byte, 4<<10)
	var written atomic.Int64
	finished := make(chan struct{})
	h := func(w http.ResponseWriter, _ *http.Request) {
		defer close(finished)
		w.(http.Flusher).Flush()
		for i := 0; i < chunks; i++ {
			if _, err := w.Write(chunk); err != nil {
				return
			}
			written.Add(int64(len(chunk)))
		}
	}

	resp, err := New(zap.NewNop(), http.HandlerFunc(h)).Call(context.Background(), newRequest(models.MethodGet, "/", nil))
	require.NoError(t, err)

	select {
	case <-finished:
		t.Fatal("handler wrote its whole output while nothing drained the body")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Less(t, written.Load(), int64(chunks*len(chunk)))

	data, err := body.ReadAll(context.Background(), resp.Body.Stream())
	require.NoError(t, err)
	assert.Len(t, data, chunks*len(chunk))
	<-finished
}

func TestCall_NegativeContentLengthStreamsChunked(t *testing.T) {
	resp, got := call(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Length", "-1")
		w.(http.Flusher).Flush()
		_, _ = io.WriteString(w, "body")
	}, newRequest(models.MethodGet, "/", nil))

	assert.Equal(t, body.KindChunked, resp.Body.Kind())
	assert.Equal(t, "body", got)
}
