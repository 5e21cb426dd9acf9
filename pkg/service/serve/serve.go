// Package serve runs the demo application on the engine.
package serve

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.keploy.io/httpengine/config"
	"go.keploy.io/httpengine/pkg/core/dispatch"
	"go.keploy.io/httpengine/pkg/core/incoming"
	"go.keploy.io/httpengine/pkg/models"
	"go.keploy.io/httpengine/pkg/service/demo"
	"go.keploy.io/httpengine/utils"
	"go.keploy.io/httpengine/utils/log"
	"go.uber.org/zap"
)

// CAFileName is written to config.Path when the server mints its own
// certificates, so that clients can trust them.
const CAFileName = "httpengine-ca.pem"

type serve struct {
	logger  *zap.Logger
	config  *config.Config
	server  atomic.Pointer[incoming.Server]
	started time.Time
}

func New(logger *zap.Logger, cfg *config.Config) Service {
	return &serve{logger: logger, config: cfg}
}

type StatusResponse struct {
	Status            string `json:"status"`
	Addr              string `json:"addr"`
	TLS               bool   `json:"tls"`
	ActiveConnections int64  `json:"active_connections"`
	Uptime            string `json:"uptime"`
}

func (s *serve) Start(ctx context.Context) error {
	app := demo.New(s.logger.Named(log.ModuleService), s.statusRoutes)

	var svc dispatch.Service = app
	if s.config.Server.AccessLog {
		svc = dispatch.Chain(app, dispatch.AccessLog(s.logger.Named(log.ModuleServer)))
	}

	d := dispatch.New(s.logger.Named(log.ModuleDispatch), svc, dispatch.Options{
		OnConnect: demo.OnConnect,
		H1:        s.config.HTTP1,
		H2:        s.config.HTTP2,
	})

	srv, err := incoming.New(s.logger.Named(log.ModuleServer), incoming.Config{
		Addr: s.config.Server.Addr,
		TLS:  s.config.Server.TLS,
	}, d)
	if err != nil {
		return err
	}
	if err := srv.Listen(); err != nil {
		return err
	}
	if ca := srv.Adapter().CA(); ca != nil {
		if err := s.writeCA(ca.CertPEM()); err != nil {
			utils.LogError(s.logger, err, "failed to write the development CA")
		}
	}
	s.started = time.Now()
	s.server.Store(srv)

	if isTerminal() {
		s.printSummary(os.Stdout, srv.Addr())
	}

	scheme := "http"
	if s.config.Server.TLS.Enabled {
		scheme = models.DefaultScheme
	}
	s.logger.Info("server started",
		zap.String("addr", srv.Addr().String()),
		zap.String("status_endpoint", fmt.Sprintf("%s://%s/status", scheme, srv.Addr())))

	return srv.Serve(ctx)
}

func (s *serve) writeCA(pem []byte) error {
	dir := s.config.Path
	if dir == "" {
		dir = "."
	}
	path := filepath.Join(dir, CAFileName)
	if err := os.WriteFile(path, pem, 0o644); err != nil {
		return err
	}
	s.logger.Info("using a self-signed certificate; trust the development CA to avoid warnings",
		zap.String("ca", path))
	return nil
}

func (s *serve) statusRoutes(r chi.Router) {
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		status := StatusResponse{
			Status: "running",
			TLS:    s.config.Server.TLS.Enabled,
		}
		if srv := s.server.Load(); srv != nil {
			status.Addr = srv.Addr().String()
			status.ActiveConnections = srv.Active()
			status.Uptime = time.Since(s.started).Round(time.Second).String()
		}
		render.JSON(w, r, status)
	})
}
