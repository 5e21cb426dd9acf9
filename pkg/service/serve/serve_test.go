package serve

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.keploy.io/httpengine/config"
	"go.keploy.io/httpengine/pkg/core/incoming"
	"go.uber.org/zap"
)

func start(t *testing.T, cfg *config.Config) (*serve, *incoming.Server) {
	t.Helper()
	s := New(zap.NewNop(), cfg).(*serve)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})

	require.Eventually(t, func() bool { return s.server.Load() != nil }, 5*time.Second, 10*time.Millisecond)
	return s, s.server.Load()
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.New()
	cfg.Path = t.TempDir()
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Server.AccessLog = false
	return cfg
}

func TestStart_Cleartext(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.TLS.Enabled = false
	_, srv := start(t, cfg)
	base := "http://" + srv.Addr().String()

	resp, err := http.Get(base + "/health")
	require.NoError(t, err)
	data, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(data))

	resp, err = http.Get(base + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	var status StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, "running", status.Status)
	assert.Equal(t, srv.Addr().String(), status.Addr)
	assert.False(t, status.TLS)
	assert.GreaterOrEqual(t, status.ActiveConnections, int64(1))

	_, err = os.Stat(filepath.Join(cfg.Path, CAFileName))
	assert.True(t, os.IsNotExist(err))
}

func TestStart_SelfSignedWritesCA(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.AccessLog = true
	_, srv := start(t, cfg)

	pem, err := os.ReadFile(filepath.Join(cfg.Path, CAFileName))
	require.NoError(t, err)
	pool := x509.NewCertPool()
	require.True(t, pool.AppendCertsFromPEM(pem))

	client := &http.Client{Transport: &http.Transport{
		TLSClientConfig:   &tls.Config{RootCAs: pool, ServerName: "localhost"},
		ForceAttemptHTTP2: true,
	}}
	defer client.CloseIdleConnections()

	resp, err := client.Get("https://" + srv.Addr().String() + "/hello")
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "HTTP/2.0", resp.Proto)
	assert.Equal(t, "hello from HTTP/2.0\n", string(data))
}

func TestStart_ListenError(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.TLS.Enabled = false
	_, srv := start(t, cfg)

	other := config.New()
	other.Server.Addr = srv.Addr().String()
	other.Server.TLS.Enabled = false
	err := New(zap.NewNop(), other).Start(context.Background())

	var lerr *incoming.ListenError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, incoming.ErrCodePortInUse, lerr.Code)
}

func TestPrintSummary(t *testing.T) {
	cfg := config.New()
	s := New(zap.NewNop(), cfg).(*serve)
	addr := &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 8443}

	var buf bytes.Buffer
	s.printSummary(&buf, addr)
	out := buf.String()
	assert.Contains(t, out, "127.0.0.1:8443")
	assert.Contains(t, out, "self-signed")
	assert.Contains(t, out, "h2, http/1.1")
	assert.Contains(t, out, "250")

	cfg.Server.TLS.Enabled = false
	buf.Reset()
	s.printSummary(&buf, addr)
	assert.Contains(t, buf.String(), "cleartext")
}
