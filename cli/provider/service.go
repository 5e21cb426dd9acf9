package provider

import (
	"context"
	"errors"

	"go.keploy.io/httpengine/config"
	"go.keploy.io/httpengine/pkg/service/serve"
	"go.keploy.io/httpengine/pkg/service/tools"
	"go.uber.org/zap"
)

type ServiceProvider struct {
	logger *zap.Logger
	cfg    *config.Config
}

func NewServiceProvider(logger *zap.Logger, cfg *config.Config) *ServiceProvider {
	return &ServiceProvider{
		logger: logger,
		cfg:    cfg,
	}
}

func (n *ServiceProvider) GetService(_ context.Context, cmd string) (interface{}, error) {
	switch cmd {
	case "serve":
		return serve.New(n.logger, n.cfg), nil
	case "config":
		return tools.New(n.logger), nil
	default:
		return nil, errors.New("invalid command")
	}
}
