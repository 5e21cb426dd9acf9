// Package tls negotiates the transport of accepted connections: the TLS
// handshake with ALPN on secure listeners, or preface sniffing on cleartext
// ones. Either way the result names the protocol engine to run.
package tls

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/cloudflare/cfssl/helpers"
	"go.keploy.io/httpengine/pkg/core/conn"
	"go.keploy.io/httpengine/pkg/models"
	"go.uber.org/zap"
)

// Config controls transport negotiation.
type Config struct {
	Enabled  bool   `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	CertFile string `json:"certFile" yaml:"certFile" mapstructure:"certFile"`
	KeyFile  string `json:"keyFile" yaml:"keyFile" mapstructure:"keyFile"`
	// SelfSigned mints certificates from an in-memory development CA when
	// no certificate files are configured.
	SelfSigned bool `json:"selfSigned" yaml:"selfSigned" mapstructure:"selfSigned"`
	// Hosts are added to every minted certificate.
	Hosts            []string      `json:"hosts" yaml:"hosts" mapstructure:"hosts"`
	HandshakeTimeout time.Duration `json:"handshakeTimeout" yaml:"handshakeTimeout" mapstructure:"handshakeTimeout"`
	DisableHTTP2     bool          `json:"disableHTTP2" yaml:"disableHTTP2" mapstructure:"disableHTTP2"`
}

const defaultHandshakeTimeout = 10 * time.Second

// Negotiated is an accepted connection ready for its engine.
type Negotiated struct {
	Protocol conn.Protocol
	Conn     net.Conn
	// State is nil on cleartext connections.
	State *tls.ConnectionState
}

// HandshakeError reports a connection dropped before any request was read.
type HandshakeError struct {
	Peer net.Addr
	Err  error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("handshake with %v failed: %v", e.Peer, e.Err)
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}

var ErrNoCertificate = errors.New("tls is enabled but neither certificate files nor selfSigned are configured")

type Adapter struct {
	logger  *zap.Logger
	cfg     Config
	tlsConf *tls.Config
	ca      *DevCA
}

func NewAdapter(logger *zap.Logger, cfg Config) (*Adapter, error) {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	a := &Adapter{logger: logger, cfg: cfg}
	if !cfg.Enabled {
		return a, nil
	}

	protos := []string{models.ALPNHTTP2, models.ALPNHTTP11}
	if cfg.DisableHTTP2 {
		protos = []string{models.ALPNHTTP11}
	}
	a.tlsConf = &tls.Config{
		MinVersion: tls.VersionTLS12,
		NextProtos: protos,
	}

	switch {
	case cfg.CertFile != "" && cfg.KeyFile != "":
		cert, err := loadKeyPair(logger, cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, models.AppError{AppErrorType: models.ErrTLSConfig, Err: err}
		}
		a.tlsConf.Certificates = []tls.Certificate{cert}
	case cfg.SelfSigned:
		ca, err := NewDevCA(logger, cfg.Hosts)
		if err != nil {
			return nil, models.AppError{AppErrorType: models.ErrTLSConfig, Err: err}
		}
		a.ca = ca
		a.tlsConf.GetCertificate = ca.GetCertificate
	default:
		return nil, models.AppError{AppErrorType: models.ErrTLSConfig, Err: ErrNoCertificate}
	}
	return a, nil
}

// CA is the development CA, nil unless certificates are self-signed.
func (a *Adapter) CA() *DevCA {
	return a.ca
}

// Accept negotiates the protocol of raw. On failure raw is closed and the
// error is a *HandshakeError.
func (a *Adapter) Accept(ctx context.Context, raw net.Conn) (*Negotiated, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.HandshakeTimeout)
	defer cancel()

	var (
		n   *Negotiated
		err error
	)
	if a.tlsConf == nil {
		n, err = a.sniff(ctx, raw)
	} else {
		n, err = a.handshake(ctx, raw)
	}
	if err != nil {
		_ = raw.Close()
		return nil, &HandshakeError{Peer: raw.RemoteAddr(), Err: err}
	}
	return n, nil
}

func (a *Adapter) handshake(ctx context.Context, raw net.Conn) (*Negotiated, error) {
	tc := tls.Server(raw, a.tlsConf)
	if err := tc.HandshakeContext(ctx); err != nil {
		return nil, err
	}
	state := tc.ConnectionState()
	a.logger.Debug("tls handshake complete",
		zap.Stringer("peer", raw.RemoteAddr()),
		zap.String("alpn", state.NegotiatedProtocol),
		zap.String("sni", state.ServerName))
	return &Negotiated{
		Protocol: conn.ProtocolFromALPN(state.NegotiatedProtocol),
		Conn:     tc,
		State:    &state,
	}, nil
}

func loadKeyPair(logger *zap.Logger, certFile, keyFile string) (tls.Certificate, error) {
	certPEM, err := os.ReadFile(certFile)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to read certificate: %w", err)
	}
	keyPEM, err := os.ReadFile(keyFile)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to read private key: %w", err)
	}

	chain, err := helpers.ParseCertificatesPEM(certPEM)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to parse certificate: %w", err)
	}
	if _, err := helpers.ParsePrivateKeyPEM(keyPEM); err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to parse private key: %w", err)
	}
	notAfter := helpers.ExpiryTime(chain)
	if time.Now().After(notAfter) {
		logger.Warn("serving an expired certificate", zap.String("certFile", certFile), zap.Time("notAfter", notAfter))
	}
	return tls.X509KeyPair(certPEM, keyPEM)
}
