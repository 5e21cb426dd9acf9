package tls

import (
	"crypto"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cloudflare/cfssl/csr"
	"github.com/cloudflare/cfssl/helpers"
	"github.com/cloudflare/cfssl/initca"
	cfsslLog "github.com/cloudflare/cfssl/log"
	"github.com/cloudflare/cfssl/signer"
	"github.com/cloudflare/cfssl/signer/local"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.keploy.io/httpengine/pkg/models"
	"go.uber.org/zap"
)

const (
	defaultServerName = "localhost"
	certCacheSize     = 256
	// certificates are backdated to tolerate clock skew between peers
	certBackdate = time.Hour
	certLifetime = 365 * 24 * time.Hour
)

var setLogLevelOnce sync.Once

// DevCA is an in-memory certificate authority that signs a server
// certificate per SNI name on first use.
type DevCA struct {
	logger  *zap.Logger
	hosts   []string
	certPEM []byte
	cert    *x509.Certificate
	signer  *local.Signer

	mu    sync.Mutex
	cache *lru.Cache[string, *tls.Certificate]
}

// NewDevCA generates a fresh CA. hosts are added as subject alternative
// names to every certificate it signs.
func NewDevCA(logger *zap.Logger, hosts []string) (*DevCA, error) {
	setLogLevelOnce.Do(func() {
		// cfssl logs every CSR and signature at info level
		cfsslLog.Level = cfsslLog.LevelError
	})

	certPEM, _, keyPEM, err := initca.New(&csr.CertificateRequest{
		CN:         models.ServerName + " development CA",
		Names:      []csr.Name{{O: models.ServerName}},
		KeyRequest: csr.NewKeyRequest(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate CA: %w", err)
	}
	cert, err := helpers.ParseCertificatePEM(certPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CA certificate: %w", err)
	}
	key, err := helpers.ParsePrivateKeyPEM(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CA private key: %w", err)
	}
	cryptoSigner, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("CA private key of type %T cannot sign", key)
	}
	s, err := local.NewSigner(cryptoSigner, cert, signer.DefaultSigAlgo(cryptoSigner), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create signer: %w", err)
	}
	cache, err := lru.New[string, *tls.Certificate](certCacheSize)
	if err != nil {
		return nil, err
	}
	return &DevCA{
		logger:  logger,
		hosts:   hosts,
		certPEM: certPEM,
		cert:    cert,
		signer:  s,
		cache:   cache,
	}, nil
}

// CertPEM is the CA certificate clients must trust.
func (ca *DevCA) CertPEM() []byte {
	return ca.certPEM
}

// Pool is a certificate pool holding only the CA.
func (ca *DevCA) Pool() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(ca.cert)
	return pool
}

// GetCertificate serves as tls.Config.GetCertificate.
func (ca *DevCA) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	name := strings.ToLower(hello.ServerName)
	if name == "" {
		name = defaultServerName
	}
	return ca.CertFor(name)
}

// CertFor returns the cached certificate for name, signing one if needed.
func (ca *DevCA) CertFor(name string) (*tls.Certificate, error) {
	if c, ok := ca.cache.Get(name); ok {
		return c, nil
	}

	// signing is serialized so concurrent handshakes for one name sign once
	ca.mu.Lock()
	defer ca.mu.Unlock()
	if c, ok := ca.cache.Get(name); ok {
		return c, nil
	}

	hosts := []string{name}
	if name == defaultServerName {
		hosts = append(hosts, "127.0.0.1", "::1")
	}
	for _, h := range ca.hosts {
		if h != name {
			hosts = append(hosts, h)
		}
	}

	req := &csr.CertificateRequest{
		CN:         name,
		Hosts:      hosts,
		KeyRequest: csr.NewKeyRequest(),
	}
	csrPEM, keyPEM, err := csr.ParseRequest(req)
	if err != nil {
		return nil, fmt.Errorf("failed to create server CSR: %w", err)
	}

	now := time.Now()
	certPEM, err := ca.signer.Sign(signer.SignRequest{
		Hosts:     hosts,
		Request:   string(csrPEM),
		NotBefore: now.Add(-certBackdate),
		NotAfter:  now.Add(certLifetime),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to sign server certificate: %w", err)
	}
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to load server certificate: %w", err)
	}

	ca.logger.Debug("signed development certificate", zap.String("name", name), zap.Strings("hosts", hosts))
	ca.cache.Add(name, &cert)
	return &cert, nil
}
