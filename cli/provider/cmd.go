// Package provider wires cli commands to their flags and services.
package provider

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.keploy.io/httpengine/config"
	"go.keploy.io/httpengine/pkg/models"
	"go.keploy.io/httpengine/utils"
	"go.keploy.io/httpengine/utils/log"
	"go.uber.org/zap"
)

// ConfigFileName is looked up in --configPath and written by config --generate.
const ConfigFileName = "httpengine.yml"

func LogExample(example string) string {
	return fmt.Sprintf("Example usage: %s", example)
}

var RootCustomHelpTemplate = `{{.Short}}

Usage:{{if .Runnable}}
  {{.UseLine}}{{end}}{{if .HasAvailableSubCommands}}
  {{.CommandPath}} [command]{{end}}{{if gt (len .Aliases) 0}}

Aliases:
  {{.NameAndAliases}}{{end}}{{if .HasAvailableSubCommands}}

Available Commands:{{range .Commands}}{{if .IsAvailableCommand}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}{{end}}{{if .HasAvailableLocalFlags}}

Flags:
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasExample}}

Examples:
{{.Example}}{{end}}

Use "{{.CommandPath}} [command] --help" for more information about a command.
`

var RootExamples = `
  Serve:
	httpengine serve --addr :8443

  Serve cleartext:
	httpengine serve --addr :8080 --tls=false

  Generate-Config:
	httpengine config --generate --path "/path/to/localdir"
`

var VersionTemplate = `{{with .Version}}{{printf "httpengine %s" .}}{{end}}{{"\n"}}`

// flagKeys maps flags whose names differ from their config key.
var flagKeys = map[string]string{
	"addr":                 "server.addr",
	"accessLog":            "server.accessLog",
	"tls":                  "server.tls.enabled",
	"certFile":             "server.tls.certFile",
	"keyFile":              "server.tls.keyFile",
	"selfSigned":           "server.tls.selfSigned",
	"hosts":                "server.tls.hosts",
	"handshakeTimeout":     "server.tls.handshakeTimeout",
	"disableHTTP2":         "server.tls.disableHTTP2",
	"maxHeaderBytes":       "http1.maxHeaderBytes",
	"keepAlive":            "http1.keepAlive",
	"maxConcurrentStreams": "http2.maxConcurrentStreams",
	"debugModules":         "debugModules.include",
	"excludeModules":       "debugModules.exclude",
}

type CmdConfigurator struct {
	logger *zap.Logger
	cfg    *config.Config
	v      *viper.Viper
}

func NewCmdConfigurator(logger *zap.Logger, cfg *config.Config) *CmdConfigurator {
	return &CmdConfigurator{
		logger: logger,
		cfg:    cfg,
		v:      viper.New(),
	}
}

func (c *CmdConfigurator) AddFlags(cmd *cobra.Command) error {
	cfg := c.cfg
	switch cmd.Name() {
	case "config":
		cmd.Flags().StringP("path", "p", ".", "Path to local directory where generated config is stored")
		cmd.Flags().Bool("generate", false, "Generate a new configuration file")
		cmd.Flags().Bool("force", false, "Override an existing configuration file")
	case "serve":
		cmd.Flags().StringP("path", "p", ".", "Path to local directory where the development CA is written")
		cmd.Flags().StringP("addr", "a", cfg.Server.Addr, "Address to listen on")
		cmd.Flags().Bool("accessLog", cfg.Server.AccessLog, "Log one line per request")
		cmd.Flags().Bool("tls", cfg.Server.TLS.Enabled, "Serve TLS and negotiate the protocol with ALPN")
		cmd.Flags().String("certFile", cfg.Server.TLS.CertFile, "PEM certificate chain of the server")
		cmd.Flags().String("keyFile", cfg.Server.TLS.KeyFile, "PEM private key of the server")
		cmd.Flags().Bool("selfSigned", cfg.Server.TLS.SelfSigned, "Mint certificates from a development CA when no certificate is given")
		cmd.Flags().StringSlice("hosts", cfg.Server.TLS.Hosts, "Extra names and addresses for minted certificates")
		cmd.Flags().Duration("handshakeTimeout", cfg.Server.TLS.HandshakeTimeout, "Time allowed for the TLS handshake")
		cmd.Flags().Bool("disableHTTP2", cfg.Server.TLS.DisableHTTP2, "Offer only http/1.1 during ALPN")
		cmd.Flags().Int("maxHeaderBytes", cfg.HTTP1.MaxHeaderBytes, "Largest HTTP/1.1 request head accepted")
		cmd.Flags().Bool("keepAlive", cfg.HTTP1.KeepAlive, "Serve more than one HTTP/1.1 request per connection")
		cmd.Flags().Uint32("maxConcurrentStreams", cfg.HTTP2.MaxConcurrentStreams, "Streams a HTTP/2 client may open at once")
		err := cmd.Flags().MarkHidden("keepAlive")
		if err != nil {
			errMsg := "failed to mark keepAlive as hidden flag"
			utils.LogError(c.logger, err, errMsg)
			return errors.New(errMsg)
		}
	case "httpengine":
		cmd.PersistentFlags().Bool("debug", cfg.Debug, "Run in debug mode")
		cmd.PersistentFlags().StringSlice("debugModules", cfg.DebugModules.Include, "Limit debug logs to these loggers, e.g. dispatch.h2")
		cmd.PersistentFlags().StringSlice("excludeModules", cfg.DebugModules.Exclude, "Hide debug logs of these loggers")
		cmd.PersistentFlags().Bool("disableANSI", cfg.DisableANSI, "Disable colored output")
		cmd.PersistentFlags().String("configPath", ".", "Path to the local directory where the configuration file is stored")
	default:
		return errors.New("unknown command name")
	}
	return nil
}

func (c *CmdConfigurator) bindFlags(cmd *cobra.Command) error {
	var err error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		key := f.Name
		if k, ok := flagKeys[f.Name]; ok {
			key = k
		}
		err = c.v.BindPFlag(key, f)
	})
	return err
}

func (c *CmdConfigurator) ValidateFlags(_ context.Context, cmd *cobra.Command) error {
	if err := c.bindFlags(cmd); err != nil {
		errMsg := "failed to bind flags to config"
		utils.LogError(c.logger, err, errMsg)
		return errors.New(errMsg)
	}

	if cmd.Name() == "serve" {
		configPath, err := cmd.Flags().GetString("configPath")
		if err != nil {
			utils.LogError(c.logger, err, "failed to read the config path")
			return err
		}
		c.v.SetConfigFile(filepath.Join(configPath, ConfigFileName))
		if err := c.v.ReadInConfig(); err != nil {
			if !utils.CheckFileExists(filepath.Join(configPath, ConfigFileName)) {
				c.logger.Debug("config file not found; proceeding with flags only")
			} else {
				errMsg := "failed to read config file"
				utils.LogError(c.logger, err, errMsg)
				return errors.New(errMsg)
			}
		}
	}

	if err := c.v.Unmarshal(c.cfg); err != nil {
		errMsg := "failed to unmarshal the config"
		utils.LogError(c.logger, err, errMsg)
		return errors.New(errMsg)
	}

	if err := c.applyLogging(); err != nil {
		return err
	}
	c.logger.Debug("config has been initialised", zap.String("for cmd", cmd.Name()), zap.Any("config", c.cfg))

	if cmd.Name() == "serve" {
		if err := c.cfg.Validate(); err != nil {
			utils.LogError(c.logger, err, "invalid configuration")
			c.logger.Info(LogExample(cmd.Example))
			return err
		}
		absPath, err := filepath.Abs(c.cfg.Path)
		if err != nil {
			utils.LogError(c.logger, err, "failed to get the absolute path from relative path", zap.String("path", c.cfg.Path))
			return err
		}
		c.cfg.Path = absPath
	}
	return nil
}

// applyLogging rebuilds the shared logger in place so that every holder of
// it sees the configured level and output.
func (c *CmdConfigurator) applyLogging() error {
	if c.cfg.DisableANSI {
		log.DisableANSI()
		models.IsAnsiDisabled = true
		color.NoColor = true
	}

	var (
		logger *zap.Logger
		err    error
	)
	switch {
	case c.cfg.Debug && (len(c.cfg.DebugModules.Include) > 0 || len(c.cfg.DebugModules.Exclude) > 0):
		logger, err = log.SetDebugModules(c.cfg.DebugModules.Include, c.cfg.DebugModules.Exclude)
	case c.cfg.Debug:
		logger, err = log.ChangeLogLevel(zap.DebugLevel)
	case c.cfg.DisableANSI:
		logger, err = log.ChangeLogLevel(zap.InfoLevel)
	default:
		return nil
	}
	if err != nil {
		errMsg := "failed to change log level"
		utils.LogError(c.logger, err, errMsg)
		return errors.New(errMsg)
	}
	*c.logger = *logger
	return nil
}
