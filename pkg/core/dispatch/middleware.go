package dispatch

import (
	"context"
	"time"

	"go.keploy.io/httpengine/pkg/core/httperr"
	"go.keploy.io/httpengine/pkg/models"
	"go.uber.org/zap"
)

// Middleware wraps a Service.
type Middleware func(Service) Service

// Chain wraps svc so that mw[0] is the outermost layer.
func Chain(svc Service, mw ...Middleware) Service {
	for i := len(mw) - 1; i >= 0; i-- {
		svc = mw[i](svc)
	}
	return svc
}

// AccessLog logs one line per request once the service has answered. The
// status is the one the error translator will pick for failed calls.
func AccessLog(logger *zap.Logger) Middleware {
	return func(next Service) Service {
		return ServiceFunc(func(ctx context.Context, req *models.Request) (*models.Response, error) {
			start := time.Now()
			resp, err := next.Call(ctx, req)

			status := httperr.StatusOf(err)
			if err == nil && resp != nil {
				status = resp.StatusCode()
			}
			logger.Info("request",
				zap.String("method", string(req.Method)),
				zap.String("path", req.Path()),
				zap.Stringer("version", req.Version),
				zap.Int("status", status),
				zap.Duration("duration", time.Since(start)),
				zap.Stringer("peer", req.PeerAddr()))
			return resp, err
		})
	}
}
