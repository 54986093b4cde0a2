// Package certauth owns the local root certificate authority and the
// on-disk cache of leaf certificates it signs. The root key is the
// source of truth; cache files are disposable and re-minted on demand.
package certauth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/snigate/snigate/internal/errx"
	"github.com/snigate/snigate/pkg/api"
)

// rootValidity stays under the 39-month CA/Browser Forum cap.
const rootValidity = 3 * 365 * 24 * time.Hour

type Authority struct {
	caCert   *x509.Certificate
	caKey    *rsa.PrivateKey
	rootPath string
	cacheDir string

	issue singleflight.Group
	log   *logrus.Entry
}

type Options struct {
	// Name becomes the root certificate's common name and organization.
	Name string
	// RootPath is the single PEM file holding key then certificate.
	RootPath string
	// CacheDir receives one PEM file per leaf cache key.
	CacheDir string
	// Force regenerates the root even when RootPath already holds one.
	Force bool
}

// New loads the root material from disk or generates and persists it on
// first run. An unparseable root file aborts rather than regenerating:
// a silently replaced root invalidates every leaf a client has already
// trusted. Pass Force to regenerate deliberately.
func New(opts Options) (*Authority, error) {
	a := &Authority{
		rootPath: opts.RootPath,
		cacheDir: opts.CacheDir,
		log:      logrus.WithField("component", "certauth"),
	}
	if err := os.MkdirAll(opts.CacheDir, 0o755); err != nil {
		return nil, err
	}

	if !opts.Force {
		if _, err := os.Stat(opts.RootPath); err == nil {
			key, cert, err := readKeyAndCert(opts.RootPath)
			if err != nil {
				return nil, errx.Wrap(api.ErrCorruptRootMaterial, err)
			}
			a.caKey, a.caCert = key, cert
			a.log.WithField("path", opts.RootPath).Debug("loaded root CA")
			return a, nil
		}
	}

	if err := a.generateRoot(opts.Name); err != nil {
		return nil, err
	}
	if err := writeKeyAndCert(opts.RootPath, a.caKey, a.caCert.Raw); err != nil {
		return nil, err
	}
	a.log.WithField("path", opts.RootPath).Info("generated root CA")
	return a, nil
}

func (a *Authority) generateRoot(name string) error {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return err
	}
	a.caKey = key

	serialNumber, _ := rand.Int(rand.Reader, big.NewInt(1<<62))

	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{name},
			CommonName:   name,
		},
		NotBefore:             time.Now().Add(-5 * time.Minute), // Allow for clock skew
		NotAfter:              time.Now().Add(rootValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLen:            0,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return err
	}

	a.caCert, err = x509.ParseCertificate(certDER)
	return err
}

// CACert returns the root certificate. Read-only after New.
func (a *Authority) CACert() *x509.Certificate { return a.caCert }

// CACertPEM returns the root certificate alone, for trust installation.
func (a *Authority) CACertPEM() []byte { return certPEM(a.caCert.Raw) }

// LeafPath returns the cache file path a cache key maps to.
func (a *Authority) LeafPath(cacheKey string) string {
	return filepath.Join(a.cacheDir, sanitizeKey(cacheKey)+".pem")
}
