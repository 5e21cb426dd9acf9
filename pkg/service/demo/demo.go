// Package demo is the application served by the serve command. A few
// routes are answered natively, the rest by a chi router behind the
// net/http adapter.
package demo

import (
	"context"
	"time"

	"github.com/go-chi/chi/v5"
	"go.keploy.io/httpengine/pkg/core/conn"
	"go.keploy.io/httpengine/pkg/core/dispatch"
	"go.keploy.io/httpengine/pkg/models"
	"go.keploy.io/httpengine/pkg/service/nethttp"
	"go.uber.org/zap"
)

// ConnInfo is the extension value attached to every connection.
type ConnInfo struct {
	ID       string    `json:"id"`
	Protocol string    `json:"protocol"`
	Accepted time.Time `json:"accepted"`
}

// OnConnect builds the ConnInfo of a new connection.
func OnConnect(info conn.Info) any {
	return &ConnInfo{
		ID:       info.ID,
		Protocol: info.Protocol.String(),
		Accepted: info.Accepted,
	}
}

type Service struct {
	logger   *zap.Logger
	fallback dispatch.Service
}

// New builds the demo service. mounts add routes next to the demo ones.
func New(logger *zap.Logger, mounts ...func(chi.Router)) *Service {
	r := chi.NewRouter()
	NewRouter(r, logger)
	for _, mount := range mounts {
		mount(r)
	}
	return &Service{logger: logger, fallback: nethttp.New(logger, r)}
}

func (s *Service) Call(ctx context.Context, req *models.Request) (*models.Response, error) {
	switch req.Path() {
	case "/echo":
		// the request payload is streamed straight back
		b := models.Ok()
		if ct := req.Header.Get("Content-Type"); ct != "" {
			b.ContentType(ct)
		}
		return b.Streaming(req.TakePayload()), nil
	case "/":
		return models.Ok().ContentType("text/plain; charset=utf-8").BodyString(models.ServerName + "\n"), nil
	}
	return s.fallback.Call(ctx, req)
}
