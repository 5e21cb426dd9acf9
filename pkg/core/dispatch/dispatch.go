// Package dispatch routes an accepted connection to the engine its
// negotiated protocol selects and runs every exchange through the service
// pipeline: request building, the service call, error translation and
// materialization.
package dispatch

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"runtime/debug"

	"go.keploy.io/httpengine/pkg/body"
	"go.keploy.io/httpengine/pkg/core/conn"
	"go.keploy.io/httpengine/pkg/core/h1"
	"go.keploy.io/httpengine/pkg/core/h2"
	"go.keploy.io/httpengine/pkg/core/httperr"
	"go.keploy.io/httpengine/pkg/core/materialize"
	"go.keploy.io/httpengine/pkg/models"
	"go.uber.org/zap"
)

// Service is the application: one request in, one response or error out.
// It may be called concurrently for requests of the same connection.
type Service interface {
	Call(ctx context.Context, req *models.Request) (*models.Response, error)
}

// ServiceFunc adapts a function to Service.
type ServiceFunc func(ctx context.Context, req *models.Request) (*models.Response, error)

func (f ServiceFunc) Call(ctx context.Context, req *models.Request) (*models.Response, error) {
	return f(ctx, req)
}

// Options configures a Dispatcher.
type Options struct {
	// OnConnect computes the per-connection extension value. Nil leaves it
	// unset.
	OnConnect conn.OnConnect
	H1        h1.Config
	H2        h2.Config
}

// engine is what both protocol engines provide.
type engine interface {
	Serve(ctx context.Context, nc net.Conn, c *conn.Connection, x conn.Exchanger) error
}

type Dispatcher struct {
	logger    *zap.Logger
	svc       Service
	onConnect conn.OnConnect
	engines   map[conn.Protocol]engine
}

func New(logger *zap.Logger, svc Service, opts Options) *Dispatcher {
	return &Dispatcher{
		logger:    logger,
		svc:       svc,
		onConnect: opts.OnConnect,
		engines: map[conn.Protocol]engine{
			conn.ProtocolHTTP1: h1.New(logger.Named("h1"), opts.H1),
			conn.ProtocolHTTP2: h2.New(logger.Named("h2"), opts.H2),
		},
	}
}

// ServeConn serves nc with the engine for proto until the connection ends.
// state is the negotiated TLS state, nil for cleartext connections. The
// caller keeps ownership of nc.
func (d *Dispatcher) ServeConn(ctx context.Context, nc net.Conn, proto conn.Protocol, state *tls.ConnectionState) error {
	e, ok := d.engines[proto]
	if !ok {
		return fmt.Errorf("no engine for protocol %v", proto)
	}
	c := conn.New(d.logger, nc, proto, state, d.onConnect)
	c.Logger().Debug("serving connection")
	if err := e.Serve(ctx, nc, c, d); err != nil {
		return err
	}
	c.Logger().Debug("connection finished", zap.Int64("requests", c.Requests()))
	return nil
}

// Exchange runs one request through the service and returns the wire form
// of its response. Every failure along the way becomes a response.
func (d *Dispatcher) Exchange(ctx context.Context, c *conn.Connection, head conn.ExchangeHead, payload body.Stream) *materialize.Output {
	req := c.NewRequest(head, payload)
	resp := d.call(ctx, c.Logger(), req)

	out, err := materialize.Materialize(head.Version, head.Method, resp)
	if err == nil {
		return out
	}
	c.Logger().Debug("response could not be encoded", zap.Int("status", resp.StatusCode()), zap.Error(err))

	out, err = materialize.Materialize(head.Version, head.Method, httperr.FromMaterializeError(err))
	if err != nil {
		// the replacement response only carries valid headers
		panic(err)
	}
	return out
}

// call invokes the service and turns errors, panics and missing responses
// into error responses.
func (d *Dispatcher) call(ctx context.Context, logger *zap.Logger, req *models.Request) (resp *models.Response) {
	defer func() {
		if r := recover(); r != nil {
			perr := &httperr.PanicError{Value: r, Stack: debug.Stack()}
			logger.Error("service panicked", zap.Any("panic", r), zap.ByteString("stack", perr.Stack))
			resp = httperr.FromPanic(perr)
		}
	}()

	resp, err := d.svc.Call(ctx, req)
	if err == nil && resp == nil {
		err = errors.New("service returned no response")
	}
	if err != nil {
		logger.Debug("service returned an error", zap.String("path", req.Path()), zap.Error(err))
		return httperr.FromServiceError(err)
	}
	return resp
}
