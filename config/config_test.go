package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "empty addr", mutate: func(c *Config) { c.Server.Addr = "" }, wantErr: ErrNoAddr},
		{name: "cert without key", mutate: func(c *Config) { c.Server.TLS.CertFile = "server.crt" }, wantErr: ErrHalfKeyPair},
		{name: "key without cert", mutate: func(c *Config) { c.Server.TLS.KeyFile = "server.key" }, wantErr: ErrHalfKeyPair},
		{
			name: "tls without certificate source",
			mutate: func(c *Config) {
				c.Server.TLS.SelfSigned = false
			},
			wantErr: ErrNoServerCert,
		},
		{
			name: "cleartext needs no certificate",
			mutate: func(c *Config) {
				c.Server.TLS.Enabled = false
				c.Server.TLS.SelfSigned = false
			},
		},
		{
			name: "key pair files",
			mutate: func(c *Config) {
				c.Server.TLS.SelfSigned = false
				c.Server.TLS.CertFile = "server.crt"
				c.Server.TLS.KeyFile = "server.key"
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := New()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	t.Run("negative header limit", func(t *testing.T) {
		cfg := New()
		cfg.HTTP1.MaxHeaderBytes = -1
		assert.ErrorContains(t, cfg.Validate(), "maxHeaderBytes")
	})
}
