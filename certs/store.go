package certs

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"

	"github.com/harborgrid/harbormaster/interfaces"
)

// Store resolves certificate reference URIs to TLS server configurations.
//
// Supported schemes:
//   - file:// - PEM files on the local filesystem
//   - vault:// - HashiCorp Vault KV v2 secrets
//   - selfsigned:// - ephemeral certificates generated at resolve time
type Store struct {
	log *slog.Logger
}

var _ interfaces.CertificateSource = (*Store)(nil)

// NewStore creates a certificate store.
func NewStore(log *slog.Logger) *Store {
	return &Store{log: log}
}

// CertificateFor resolves a certificate reference into a TLS configuration.
// Malformed references and unsupported schemes wrap
// interfaces.ErrInvalidCertificateRef.
func (s *Store) CertificateFor(ctx context.Context, ref string) (*tls.Config, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidCertificateRef, err)
	}

	var cert tls.Certificate
	switch strings.ToLower(u.Scheme) {
	case "file":
		cert, err = s.fileCertificate(u)
	case "vault":
		cert, err = s.vaultCertificate(ctx, u)
	case "selfsigned":
		cert, err = s.selfSignedCertificate(u)
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", interfaces.ErrInvalidCertificateRef, u.Scheme)
	}
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// fileCertificate loads a certificate from PEM files.
// URI format: file:///path/to/cert.pem?key=/path/to/key.pem
// Without the key parameter the certificate file must also hold the key.
func (s *Store) fileCertificate(u *url.URL) (tls.Certificate, error) {
	certPath := u.Path
	if u.Host != "" {
		certPath = u.Host + "/" + strings.TrimPrefix(certPath, "/")
	}
	if certPath == "" {
		return tls.Certificate{}, fmt.Errorf("%w: empty path in %s", interfaces.ErrInvalidCertificateRef, u.String())
	}

	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("reading certificate file: %w", err)
	}

	keyPEM := certPEM
	if keyPath := u.Query().Get("key"); keyPath != "" {
		keyPEM, err = os.ReadFile(keyPath)
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("reading key file: %w", err)
		}
	}

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("parsing certificate key pair: %w", err)
	}

	s.log.Debug("Loaded certificate from file", slog.String("path", certPath))
	return cert, nil
}

// vaultCertificate reads a certificate from a Vault KV v2 secret holding
// PEM-encoded "cert" and "key" fields.
// URI format: vault://vault.example.com:8200/secret/path/to/cert?scheme=http
// The client authenticates through the standard VAULT_TOKEN environment.
func (s *Store) vaultCertificate(ctx context.Context, u *url.URL) (tls.Certificate, error) {
	scheme := u.Query().Get("scheme")
	if scheme == "" {
		scheme = "https"
	}

	segments := strings.SplitN(strings.Trim(u.Path, "/"), "/", 2)
	if len(segments) < 2 || segments[0] == "" || segments[1] == "" {
		return tls.Certificate{}, fmt.Errorf("%w: vault reference needs mount and secret path: %s",
			interfaces.ErrInvalidCertificateRef, u.String())
	}
	mountPath, secretPath := segments[0], segments[1]

	config := api.DefaultConfig()
	config.Address = fmt.Sprintf("%s://%s", scheme, u.Host)
	config.HttpClient = &http.Client{Timeout: 30 * time.Second}

	client, err := api.NewClient(config)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("creating vault client: %w", err)
	}

	path := fmt.Sprintf("%s/data/%s", mountPath, secretPath)
	secret, err := client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("reading certificate from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return tls.Certificate{}, fmt.Errorf("certificate not found in vault at %s", path)
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return tls.Certificate{}, fmt.Errorf("unexpected data format in vault response")
	}

	certPEM, ok := data["cert"].(string)
	if !ok {
		return tls.Certificate{}, fmt.Errorf("cert field missing in vault secret at %s", path)
	}
	keyPEM, ok := data["key"].(string)
	if !ok {
		return tls.Certificate{}, fmt.Errorf("key field missing in vault secret at %s", path)
	}

	cert, err := tls.X509KeyPair([]byte(certPEM), []byte(keyPEM))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("parsing certificate key pair: %w", err)
	}

	s.log.Debug("Loaded certificate from vault", slog.String("path", path))
	return cert, nil
}

// selfSignedCertificate generates an ephemeral certificate.
// URI format: selfsigned://common-name
func (s *Store) selfSignedCertificate(u *url.URL) (tls.Certificate, error) {
	cn := u.Host
	if cn == "" {
		return tls.Certificate{}, fmt.Errorf("%w: selfsigned reference needs a common name: %s",
			interfaces.ErrInvalidCertificateRef, u.String())
	}

	cert, err := SelfSigned(cn)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("generating self-signed certificate: %w", err)
	}

	s.log.Debug("Generated self-signed certificate", slog.String("commonName", cn))
	return cert, nil
}
