package certauth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"os"
	"strings"
	"time"

	"github.com/snigate/snigate/internal/errx"
	"github.com/snigate/snigate/pkg/api"
	"github.com/snigate/snigate/pkg/domain"
)

const leafValidity = 3 * 365 * 24 * time.Hour

// Leaf is an issued (or cache-loaded) server certificate.
type Leaf struct {
	Path        string
	SANs        []string
	Certificate *tls.Certificate
}

// PeerCertFunc fetches the destination's real certificate so selected
// extensions can be carried into the minted leaf. Called only on a
// cache miss.
type PeerCertFunc func() (*x509.Certificate, error)

// IssueOrGetLeaf returns the leaf for cacheKey, minting one when the
// cache has no usable entry. SANs are the parent-plus-wildcard pairs of
// every hostname given. With overwrite set the cache entry is replaced
// unconditionally (the default certificate's domain list changed);
// otherwise an existing entry is returned byte-identical. Every fresh
// issuance uses a new keypair. Concurrent calls for one cache key
// collapse into a single issuance.
func (a *Authority) IssueOrGetLeaf(hostnames []string, cacheKey string, overwrite bool) (*Leaf, error) {
	return a.IssueOrGetLeafWithPeer(hostnames, cacheKey, overwrite, nil, nil)
}

// IssueOrGetLeafWithPeer is IssueOrGetLeaf plus extension copying from
// the destination's certificate. A failed fetch downgrades to a plain
// issuance so the handshake still succeeds.
func (a *Authority) IssueOrGetLeafWithPeer(hostnames []string, cacheKey string, overwrite bool, fetchPeer PeerCertFunc, skipOIDs []string) (*Leaf, error) {
	v, err, _ := a.issue.Do(sanitizeKey(cacheKey), func() (any, error) {
		return a.issueOrGetLeaf(hostnames, cacheKey, overwrite, fetchPeer, skipOIDs)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Leaf), nil
}

func (a *Authority) issueOrGetLeaf(hostnames []string, cacheKey string, overwrite bool, fetchPeer PeerCertFunc, skipOIDs []string) (*Leaf, error) {
	path := a.LeafPath(cacheKey)

	if !overwrite {
		if leaf, err := a.loadLeaf(path); err == nil {
			return leaf, nil
		} else if !os.IsNotExist(err) {
			// The cache is not a source of truth; anything unreadable
			// is a miss and gets overwritten below.
			a.log.WithError(err).WithField("path", path).Warn("unreadable cached certificate, re-issuing")
		}
	}

	sans := sanList(hostnames)
	dnsNames, ipAddrs := splitSANs(sans)

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, errx.Wrap(api.ErrCertificateIssuance, err)
	}

	serialNumber, _ := rand.Int(rand.Reader, big.NewInt(1<<62))

	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			CommonName: commonName(sans, cacheKey),
		},
		DNSNames:    dnsNames,
		IPAddresses: ipAddrs,
		NotBefore:   time.Now().Add(-5 * time.Minute), // Allow for clock skew
		NotAfter:    time.Now().Add(leafValidity),
		KeyUsage:    x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	if fetchPeer != nil {
		if peer, err := fetchPeer(); err != nil {
			a.log.WithError(err).WithField("cache_key", cacheKey).Warn("peer certificate fetch failed, issuing without copied extensions")
		} else {
			CopyExtensions(peer, template, skipOIDs)
		}
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, a.caCert, &key.PublicKey, a.caKey)
	if err != nil {
		return nil, errx.Wrap(api.ErrCertificateIssuance, err)
	}

	if err := writeKeyAndCert(path, key, certDER); err != nil {
		return nil, errx.Wrap(api.ErrCertificateIssuance, err)
	}

	a.log.WithFields(map[string]any{
		"cache_key": cacheKey,
		"sans":      sans,
	}).Info("issued leaf certificate")

	return &Leaf{
		Path: path,
		SANs: sans,
		Certificate: &tls.Certificate{
			Certificate: [][]byte{certDER, a.caCert.Raw},
			PrivateKey:  key,
		},
	}, nil
}

func (a *Authority) loadLeaf(path string) (*Leaf, error) {
	key, cert, err := readKeyAndCert(path)
	if err != nil {
		return nil, err
	}
	sans := make([]string, 0, len(cert.DNSNames)+len(cert.IPAddresses))
	sans = append(sans, cert.DNSNames...)
	for _, ip := range cert.IPAddresses {
		sans = append(sans, ip.String())
	}
	return &Leaf{
		Path: path,
		SANs: sans,
		Certificate: &tls.Certificate{
			Certificate: [][]byte{cert.Raw, a.caCert.Raw},
			PrivateKey:  key,
			Leaf:        cert,
		},
	}, nil
}

// sanList expands each hostname into its SAN pair and deduplicates
// while preserving first-seen order.
func sanList(hostnames []string) []string {
	seen := make(map[string]bool)
	var sans []string
	for _, h := range hostnames {
		for _, san := range domain.SANEntries(h) {
			if san == "" || seen[san] {
				continue
			}
			seen[san] = true
			sans = append(sans, san)
		}
	}
	return sans
}

func splitSANs(sans []string) (dnsNames []string, ipAddrs []net.IP) {
	for _, san := range sans {
		if ip := net.ParseIP(san); ip != nil {
			ipAddrs = append(ipAddrs, ip)
			continue
		}
		dnsNames = append(dnsNames, san)
	}
	return dnsNames, ipAddrs
}

func commonName(sans []string, fallback string) string {
	for _, san := range sans {
		if !strings.HasPrefix(san, "*.") {
			return san
		}
	}
	if len(sans) > 0 {
		return sans[0]
	}
	return fallback
}

// sanitizeKey maps a cache key onto a safe file name. Keys derive from
// the client-supplied SNI, which the TLS stack passes through almost
// unfiltered, so everything outside the hostname alphabet is replaced:
// path separators and dot-dot segments must never reach filepath.Join.
func sanitizeKey(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
		case r == ':':
			b.WriteByte('-')
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
