package tools

import (
	"context"
	"fmt"
	"os"

	"go.keploy.io/httpengine/config"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ConfigGuide is appended to generated config files.
const ConfigGuide = `
# Visit https://pkg.go.dev/golang.org/x/net/http2 for what the http2 settings mean.
# server.tls.selfSigned mints certificates from a development CA written next
# to this file on startup. Set certFile and keyFile to use your own.
`

type Tools struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *Tools {
	return &Tools{logger: logger}
}

// CreateConfig writes configData, or the default config when it is empty,
// to filePath.
func (t *Tools) CreateConfig(_ context.Context, filePath string, configData string) error {
	var node yaml.Node

	if configData == "" {
		configData = config.GetDefaultConfig()
	}

	if err := yaml.Unmarshal([]byte(configData), &node); err != nil {
		return fmt.Errorf("failed to parse the config: %w", err)
	}
	if len(node.Content) == 0 {
		return fmt.Errorf("config is empty")
	}
	results, err := yaml.Marshal(node.Content[0])
	if err != nil {
		return fmt.Errorf("failed to marshal the config: %w", err)
	}

	finalOutput := append(results, []byte(ConfigGuide)...)
	if err := os.WriteFile(filePath, finalOutput, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	t.logger.Info("Config file generated successfully", zap.String("path", filePath))
	return nil
}
