// Package tlsconf builds the server- and client-side tls.Config values
// used by the interception layer.
package tlsconf

import (
	"crypto/tls"
	"crypto/x509"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/snigate/snigate/internal/errx"
	"github.com/snigate/snigate/pkg/api"
)

// LoadCertificate reads a certificate (and key, when keyPath is set;
// otherwise the certificate file must carry both) from disk. An
// unreadable file surfaces as the underlying I/O error; a readable but
// unparseable one surfaces as api.ErrCertificateLoad so startup can
// abort instead of serving without a usable certificate.
func LoadCertificate(certPath, keyPath string) (*tls.Certificate, error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, err
	}
	keyPEM := certPEM
	if keyPath != "" {
		keyPEM, err = os.ReadFile(keyPath)
		if err != nil {
			return nil, err
		}
	}

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, errx.Wrap(api.ErrCertificateLoad, err)
	}
	return &cert, nil
}

// Server returns a server-side config presenting cert. TLS 1.2 is the
// floor; the key log stays nil unless explicitly provided.
func Server(cert *tls.Certificate, keyLog io.Writer) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{*cert},
		MinVersion:   tls.VersionTLS12,
		KeyLogWriter: keyLog,
	}
}

// Client returns a client-side config for the outbound leg. With verify
// off the config skips both hostname checking and chain verification;
// hostname checking is never left enabled on its own, since a config
// that verifies names against arbitrary intercepted certificates would
// fail every connection. ServerName still carries the SNI to present.
func Client(verify bool, customCA *x509.CertPool, serverName string, keyLog io.Writer) *tls.Config {
	cfg := &tls.Config{
		ServerName:   serverName,
		MinVersion:   tls.VersionTLS12,
		KeyLogWriter: keyLog,
	}
	if !verify {
		cfg.InsecureSkipVerify = true
		return cfg
	}
	cfg.RootCAs = customCA
	return cfg
}

// OpenKeyLog opens (appending) the TLS session-secret export file.
// Diagnostic facility: it defeats confidentiality for anyone who can
// read the file, so callers enable it only on explicit configuration.
func OpenKeyLog(path string) (io.Writer, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, err
	}
	logrus.WithField("path", path).Warn("TLS key logging enabled, session secrets are being exported")
	return f, nil
}
