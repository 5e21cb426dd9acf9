// Package incoming accepts transport connections, negotiates their protocol
// and hands each one to the dispatcher on its own goroutine.
package incoming

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"go.keploy.io/httpengine/pkg/core/dispatch"
	coretls "go.keploy.io/httpengine/pkg/core/tls"
	"go.keploy.io/httpengine/utils"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	Addr string         `json:"addr" yaml:"addr" mapstructure:"addr"`
	TLS  coretls.Config `json:"tls" yaml:"tls" mapstructure:"tls"`
}

type Server struct {
	logger  *zap.Logger
	cfg     Config
	adapter *coretls.Adapter
	d       *dispatch.Dispatcher

	mu sync.Mutex
	ln net.Listener

	conns  sync.WaitGroup
	active atomic.Int64
}

func New(logger *zap.Logger, cfg Config, d *dispatch.Dispatcher) (*Server, error) {
	adapter, err := coretls.NewAdapter(logger.Named("tls"), cfg.TLS)
	if err != nil {
		return nil, err
	}
	return &Server{logger: logger, cfg: cfg, adapter: adapter, d: d}, nil
}

// Adapter is the transport negotiation in use.
func (s *Server) Adapter() *coretls.Adapter {
	return s.adapter
}

// Listen binds the configured address.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return NewListenError(s.cfg.Addr, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	return nil
}

// Addr is the bound address, nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Active is the number of connections being served.
func (s *Server) Active() int64 {
	return s.active.Load()
}

// Serve accepts connections until ctx is cancelled, then waits for the
// connections in flight to finish. It binds first if Listen was not called.
func (s *Server) Serve(ctx context.Context) error {
	if s.Addr() == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()

	scheme := "http"
	if s.cfg.TLS.Enabled {
		scheme = "https"
	}
	s.logger.Info("server listening", zap.String("addr", fmt.Sprintf("%s://%s", scheme, ln.Addr())))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		return ln.Close()
	})
	g.Go(func() error {
		return s.accept(ctx, ln)
	})

	err := g.Wait()
	s.conns.Wait()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (s *Server) accept(ctx context.Context, ln net.Listener) error {
	for {
		raw, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("failed to accept connection: %w", err)
		}

		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			defer utils.HandlePanic()
			s.handleConnection(ctx, raw)
		}()
	}
}

func (s *Server) handleConnection(ctx context.Context, raw net.Conn) {
	defer raw.Close()
	s.active.Add(1)
	defer s.active.Add(-1)

	n, err := s.adapter.Accept(ctx, raw)
	if err != nil {
		// the application never sees connections that fail to negotiate
		s.logger.Debug("dropping connection", zap.Error(err))
		return
	}
	defer n.Conn.Close()

	if err := s.d.ServeConn(ctx, n.Conn, n.Protocol, n.State); err != nil {
		utils.LogConnError(s.logger, err, "connection ended with an error", zap.Stringer("peer", raw.RemoteAddr()))
	}
}
