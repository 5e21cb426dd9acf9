// Package config provides configuration structures for the server.
package config

import (
	"errors"
	"fmt"

	"go.keploy.io/httpengine/pkg/core/h1"
	"go.keploy.io/httpengine/pkg/core/h2"
	coretls "go.keploy.io/httpengine/pkg/core/tls"
)

type Config struct {
	Path         string       `json:"path" yaml:"path" mapstructure:"path"`
	Debug        bool         `json:"debug" yaml:"debug" mapstructure:"debug"`
	DebugModules DebugModules `json:"debugModules" yaml:"debugModules" mapstructure:"debugModules"`
	DisableANSI  bool         `json:"disableANSI" yaml:"disableANSI" mapstructure:"disableANSI"`
	Server       Server       `json:"server" yaml:"server" mapstructure:"server"`
	HTTP1        h1.Config    `json:"http1" yaml:"http1" mapstructure:"http1"`
	HTTP2        h2.Config    `json:"http2" yaml:"http2" mapstructure:"http2"`
	ConfigPath   string       `json:"configPath" yaml:"configPath" mapstructure:"configPath"`
}

// DebugModules narrows debug logging to some logger names, see
// log.SetDebugModules.
type DebugModules struct {
	Include []string `json:"include" yaml:"include" mapstructure:"include"`
	Exclude []string `json:"exclude" yaml:"exclude" mapstructure:"exclude"`
}

type Server struct {
	Addr      string         `json:"addr" yaml:"addr" mapstructure:"addr"`
	TLS       coretls.Config `json:"tls" yaml:"tls" mapstructure:"tls"`
	AccessLog bool           `json:"accessLog" yaml:"accessLog" mapstructure:"accessLog"`
}

var (
	ErrNoAddr       = errors.New("server.addr must not be empty")
	ErrHalfKeyPair  = errors.New("server.tls.certFile and server.tls.keyFile must be set together")
	ErrNoServerCert = errors.New("server.tls is enabled without a certificate; set certFile and keyFile or selfSigned")
)

// Validate reports settings the server cannot start with.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return ErrNoAddr
	}
	tls := c.Server.TLS
	if (tls.CertFile == "") != (tls.KeyFile == "") {
		return ErrHalfKeyPair
	}
	if tls.Enabled && tls.CertFile == "" && !tls.SelfSigned {
		return ErrNoServerCert
	}
	if c.HTTP1.MaxHeaderBytes < 0 {
		return fmt.Errorf("http1.maxHeaderBytes must not be negative, got %d", c.HTTP1.MaxHeaderBytes)
	}
	return nil
}
