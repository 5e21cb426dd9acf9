// Package h2 serves HTTP/2 connections on top of the golang.org/x/net/http2
// framer. Every stream runs its exchange on its own goroutine; frame writes
// are serialized per connection.
package h2

import (
	"context"
	"net"
	"net/http"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.keploy.io/httpengine/pkg/core/conn"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

// Config tunes the HTTP/2 engine. Zero fields take the defaults.
type Config struct {
	MaxConcurrentStreams uint32 `json:"maxConcurrentStreams" yaml:"maxConcurrentStreams" mapstructure:"maxConcurrentStreams"`
	// MaxFrameSize is the largest frame payload accepted from the peer.
	MaxFrameSize uint32 `json:"maxFrameSize" yaml:"maxFrameSize" mapstructure:"maxFrameSize"`
	// InitialWindowSize is the receive window of every stream.
	InitialWindowSize uint32 `json:"initialWindowSize" yaml:"initialWindowSize" mapstructure:"initialWindowSize"`
	// ConnWindowSize is the receive window of the whole connection.
	ConnWindowSize    uint32 `json:"connWindowSize" yaml:"connWindowSize" mapstructure:"connWindowSize"`
	MaxHeaderListSize uint32 `json:"maxHeaderListSize" yaml:"maxHeaderListSize" mapstructure:"maxHeaderListSize"`
}

const (
	defaultWindowSize = 65535
	minMaxFrameSize   = 1 << 14
	maxMaxFrameSize   = 1<<24 - 1
	maxWindowSize     = 1<<31 - 1
	canonCacheSize    = 1024
)

func DefaultConfig() Config {
	return Config{
		MaxConcurrentStreams: 250,
		MaxFrameSize:         minMaxFrameSize,
		InitialWindowSize:    1 << 20,
		ConnWindowSize:       1 << 22,
		MaxHeaderListSize:    http.DefaultMaxHeaderBytes,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxConcurrentStreams == 0 {
		c.MaxConcurrentStreams = def.MaxConcurrentStreams
	}
	if c.MaxFrameSize < minMaxFrameSize || c.MaxFrameSize > maxMaxFrameSize {
		c.MaxFrameSize = def.MaxFrameSize
	}
	if c.InitialWindowSize == 0 || c.InitialWindowSize > maxWindowSize {
		c.InitialWindowSize = def.InitialWindowSize
	}
	if c.ConnWindowSize < defaultWindowSize || c.ConnWindowSize > maxWindowSize {
		c.ConnWindowSize = def.ConnWindowSize
	}
	if c.MaxHeaderListSize == 0 {
		c.MaxHeaderListSize = def.MaxHeaderListSize
	}
	return c
}

type Engine struct {
	logger *zap.Logger
	cfg    Config
	canon  *lru.Cache[string, string]
}

func New(logger *zap.Logger, cfg Config) *Engine {
	canon, err := lru.New[string, string](canonCacheSize)
	if err != nil {
		// only fails for a non-positive size
		panic(err)
	}
	return &Engine{logger: logger, cfg: cfg.withDefaults(), canon: canon}
}

// Serve runs the HTTP/2 connection on nc until the peer goes away, a
// connection error occurs or ctx is cancelled. It returns after every stream
// handler has finished.
func (e *Engine) Serve(ctx context.Context, nc net.Conn, c *conn.Connection, x conn.Exchanger) error {
	sc := newServerConn(ctx, e, nc, c, x)
	defer sc.shutdown()

	stop := context.AfterFunc(ctx, func() {
		sc.goAway(http2.ErrCodeNo)
		_ = nc.Close()
	})
	defer stop()

	if err := sc.handshake(); err != nil {
		return err
	}
	return sc.serve()
}

// canonicalName maps a lowercase HTTP/2 field name to its canonical
// HTTP/1 spelling.
func (e *Engine) canonicalName(name string) string {
	if v, ok := e.canon.Get(name); ok {
		return v
	}
	v := http.CanonicalHeaderKey(name)
	e.canon.Add(name, v)
	return v
}
