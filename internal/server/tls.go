package server

import (
	"crypto/tls"
	"fmt"

	"github.com/victorgomez09/escuela/internal/config"
)

const TLSMinVersion = tls.VersionTLS12

// TLS 1.2 suites offered when TLS is enabled. TLS 1.3 suites are not
// configurable and always on.
var DefaultCiphers = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
}

// newTLSConfig loads the configured key pair. It returns nil when TLS is
// disabled.
func newTLSConfig(cfg config.TLS) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate: %w", err)
	}
	return &tls.Config{
		MinVersion:   TLSMinVersion,
		CipherSuites: DefaultCiphers,
		Certificates: []tls.Certificate{cert},
	}, nil
}
