package dispatch

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.keploy.io/httpengine/pkg/body"
	"go.keploy.io/httpengine/pkg/core/conn"
	"go.keploy.io/httpengine/pkg/core/httperr"
	"go.keploy.io/httpengine/pkg/core/materialize"
	"go.keploy.io/httpengine/pkg/models"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newConn(t *testing.T, hook conn.OnConnect) *conn.Connection {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return conn.New(zap.NewNop(), a, conn.ProtocolHTTP2, nil, hook)
}

func head(method models.Method) conn.ExchangeHead {
	return conn.ExchangeHead{Method: method, Target: "/", Version: models.HTTP20}
}

func exchange(t *testing.T, svc Service, method models.Method) (*materialize.Output, string) {
	t.Helper()
	d := New(zap.NewNop(), svc, Options{})
	out := d.Exchange(context.Background(), newConn(t, nil), head(method), body.None())
	require.NotNil(t, out)
	if !out.HasBody() {
		return out, ""
	}
	data, err := body.ReadAll(context.Background(), out.Body)
	require.NoError(t, err)
	return out, string(data)
}

func TestExchange_ServiceResponse(t *testing.T) {
	out, got := exchange(t, ServiceFunc(func(context.Context, *models.Request) (*models.Response, error) {
		return models.Ok().Header("X-Test", "1").BodyString("hello"), nil
	}), models.MethodGet)

	assert.Equal(t, 200, out.Status)
	assert.Equal(t, "hello", got)
	assert.Equal(t, "5", out.Header.Get("Content-Length"))
	assert.Equal(t, "1", out.Header.Get("X-Test"))
}

func TestExchange_ServiceErrorIsTranslated(t *testing.T) {
	out, got := exchange(t, ServiceFunc(func(context.Context, *models.Request) (*models.Response, error) {
		return nil, httperr.BadRequest("error")
	}), models.MethodGet)

	assert.Equal(t, http.StatusBadRequest, out.Status)
	assert.Equal(t, "error", got)
	assert.Equal(t, "5", out.Header.Get("Content-Length"))
}

func TestExchange_ErrorResponseForHead(t *testing.T) {
	out, got := exchange(t, ServiceFunc(func(context.Context, *models.Request) (*models.Response, error) {
		return nil, errors.New("boom")
	}), models.MethodHead)

	assert.Equal(t, http.StatusInternalServerError, out.Status)
	assert.False(t, out.HasBody())
	assert.Empty(t, got)
	assert.Equal(t, "4", out.Header.Get("Content-Length"))
}

func TestExchange_PanicAndMissingResponse(t *testing.T) {
	out, got := exchange(t, ServiceFunc(func(context.Context, *models.Request) (*models.Response, error) {
		panic("kaput")
	}), models.MethodGet)
	assert.Equal(t, http.StatusInternalServerError, out.Status)
	assert.NotContains(t, got, "kaput")

	out, _ = exchange(t, ServiceFunc(func(context.Context, *models.Request) (*models.Response, error) {
		return nil, nil
	}), models.MethodGet)
	assert.Equal(t, http.StatusInternalServerError, out.Status)
}

func TestExchange_BrokenHeaderBecomesServerError(t *testing.T) {
	out, got := exchange(t, ServiceFunc(func(context.Context, *models.Request) (*models.Response, error) {
		return models.Ok().Header("X-Test", "1").Header("X-Broken", "a\nb").BodyString("never sent"), nil
	}), models.MethodGet)

	assert.Equal(t, http.StatusInternalServerError, out.Status)
	assert.Equal(t, "failed to parse header value", got)
	assert.False(t, out.Header.Has("X-Test"))
	assert.False(t, out.Header.Has("X-Broken"))
}

func TestExchange_MalformedResponseBecomesServerError(t *testing.T) {
	tests := []struct {
		name string
		resp *models.Response
		want string
	}{
		{name: "status below range", resp: models.NewBuilder(42).BodyString("ok"), want: "invalid response status"},
		{name: "status above range", resp: models.NewBuilder(1000).Finish(), want: "invalid response status"},
		{name: "negative status", resp: models.NewBuilder(-5).Finish(), want: "invalid response status"},
		{name: "negative length", resp: models.Ok().Sized(-1, body.None()), want: "invalid response content length"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, got := exchange(t, ServiceFunc(func(context.Context, *models.Request) (*models.Response, error) {
				return tt.resp, nil
			}), models.MethodGet)

			assert.Equal(t, http.StatusInternalServerError, out.Status)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExchange_ExtensionAndPayload(t *testing.T) {
	svc := ServiceFunc(func(ctx context.Context, req *models.Request) (*models.Response, error) {
		n, ok := models.ExtensionAs[int](req)
		if !ok {
			return nil, httperr.InternalServerError("no extension")
		}
		data, err := body.ReadAll(ctx, req.TakePayload())
		if err != nil {
			return nil, err
		}
		return models.Ok().Header("X-Extension", http.StatusText(200+n)).Body(data), nil
	})

	calls := 0
	c := newConn(t, func(conn.Info) any {
		calls++
		return 1
	})
	d := New(zap.NewNop(), svc, Options{})

	for i := 0; i < 3; i++ {
		out := d.Exchange(context.Background(), c, head(models.MethodPost), body.FromChunks([]byte("ab"), []byte("c")))
		data, err := body.ReadAll(context.Background(), out.Body)
		require.NoError(t, err)
		assert.Equal(t, "abc", string(data))
		assert.Equal(t, "Created", out.Header.Get("X-Extension"))
	}
	assert.Equal(t, 1, calls)
	assert.EqualValues(t, 3, c.Requests())
}

func TestExchange_PayloadErrorIsBadRequest(t *testing.T) {
	svc := ServiceFunc(func(ctx context.Context, req *models.Request) (*models.Response, error) {
		_, err := body.ReadAll(ctx, req.TakePayload())
		return nil, err
	})
	d := New(zap.NewNop(), svc, Options{})
	payload := body.Limit(10, body.Once([]byte("abc")))

	out := d.Exchange(context.Background(), newConn(t, nil), head(models.MethodPost), payload)
	assert.Equal(t, http.StatusBadRequest, out.Status)
}

func TestChain_Order(t *testing.T) {
	var trace []string
	layer := func(name string) Middleware {
		return func(next Service) Service {
			return ServiceFunc(func(ctx context.Context, req *models.Request) (*models.Response, error) {
				trace = append(trace, name)
				return next.Call(ctx, req)
			})
		}
	}
	svc := Chain(ServiceFunc(func(context.Context, *models.Request) (*models.Response, error) {
		trace = append(trace, "svc")
		return models.Ok().Finish(), nil
	}), layer("outer"), layer("inner"))

	_, err := svc.Call(context.Background(), models.NewRequest(models.RequestParts{Method: models.MethodGet, Target: "/"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"outer", "inner", "svc"}, trace)
}

func TestAccessLog(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	svc := Chain(ServiceFunc(func(_ context.Context, req *models.Request) (*models.Response, error) {
		if req.Path() == "/missing" {
			return nil, httperr.NotFound("missing")
		}
		return models.NewBuilder(http.StatusAccepted).Finish(), nil
	}), AccessLog(zap.New(core)))

	for _, target := range []string{"/ok", "/missing"} {
		req := models.NewRequest(models.RequestParts{
			Method:  models.MethodGet,
			Target:  target,
			Version: models.HTTP11,
			Peer:    &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 4000},
		})
		_, _ = svc.Call(context.Background(), req)
	}

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.EqualValues(t, http.StatusAccepted, entries[0].ContextMap()["status"])
	assert.Equal(t, "/ok", entries[0].ContextMap()["path"])
	assert.EqualValues(t, http.StatusNotFound, entries[1].ContextMap()["status"])
}

func TestServeConn_UnknownProtocol(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	d := New(zap.NewNop(), ServiceFunc(func(context.Context, *models.Request) (*models.Response, error) {
		return models.Ok().Finish(), nil
	}), Options{})
	assert.Error(t, d.ServeConn(context.Background(), a, conn.Protocol(9), nil))
}
