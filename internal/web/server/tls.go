package server

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/crypto/acme/autocert"

	"github.com/foxzi/flint/internal/web/config"
)

// CertificateInfo describes one certificate the server presents.
type CertificateInfo struct {
	Domain   string
	NotAfter time.Time
	DaysLeft int
}

func newCertManager(cfg config.ACMEConfig) *autocert.Manager {
	return &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		Email:      cfg.Email,
		HostPolicy: autocert.HostWhitelist(cfg.Domains...),
		Cache:      autocert.DirCache(cfg.CacheDir),
	}
}

// tlsConfig returns the listener TLS config, or nil when TLS is off. With
// ACME enabled the returned handler answers HTTP-01 challenges and
// redirects everything else to HTTPS.
func tlsConfig(cfg config.TLSConfig) (*tls.Config, http.Handler, error) {
	if !cfg.Enabled {
		return nil, nil, nil
	}
	if cfg.ACME.Enabled {
		m := newCertManager(cfg.ACME)
		return &tls.Config{GetCertificate: m.GetCertificate, MinVersion: tls.VersionTLS12}, m.HTTPHandler(nil), nil
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load TLS certificate: %w", err)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}, nil, nil
}

// Certificates reports the certificates configured for cfg without
// contacting Let's Encrypt. Domains not yet issued are skipped.
func Certificates(ctx context.Context, cfg config.TLSConfig) ([]CertificateInfo, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	if !cfg.ACME.Enabled {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS certificate: %w", err)
		}
		info, err := describe(cert, "")
		if err != nil {
			return nil, err
		}
		return []CertificateInfo{info}, nil
	}

	cache := autocert.DirCache(cfg.ACME.CacheDir)
	var infos []CertificateInfo
	for _, domain := range cfg.ACME.Domains {
		data, err := cache.Get(ctx, domain)
		if err != nil {
			continue
		}
		// autocert stores the key and chain in one PEM file
		cert, err := tls.X509KeyPair(data, data)
		if err != nil {
			continue
		}
		info, err := describe(cert, domain)
		if err != nil {
			continue
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func describe(cert tls.Certificate, domain string) (CertificateInfo, error) {
	if len(cert.Certificate) == 0 {
		return CertificateInfo{}, fmt.Errorf("empty certificate chain")
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return CertificateInfo{}, fmt.Errorf("failed to parse certificate: %w", err)
	}
	if domain == "" {
		domain = leaf.Subject.CommonName
		if len(leaf.DNSNames) > 0 {
			domain = leaf.DNSNames[0]
		}
	}
	return CertificateInfo{
		Domain:   domain,
		NotAfter: leaf.NotAfter,
		DaysLeft: int(time.Until(leaf.NotAfter).Hours() / 24),
	}, nil
}
