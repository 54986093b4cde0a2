package intercept

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"io"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/snigate/snigate/pkg/api"
	"github.com/snigate/snigate/pkg/certauth"
	"github.com/snigate/snigate/pkg/domain"
	"github.com/snigate/snigate/pkg/outbound"
	"github.com/snigate/snigate/pkg/tlsconf"
)

// peerFetchTimeout bounds the optional destination-certificate fetch
// that runs inside the handshake path.
const peerFetchTimeout = 5 * time.Second

// certResolver implements the per-handshake certificate decision. The
// TLS stack calls GetConfigForClient once the ClientHello is parsed and
// before any certificate is sent, so the config returned here is the
// one the peer actually sees.
type certResolver struct {
	cfg       *api.Config
	authority *certauth.Authority
	slot      *HostnameSlot
	keyLog    io.Writer
	dialer    *outbound.Dialer
	log       *logrus.Entry

	customConfig *tls.Config

	// Default-certificate mode state. domains accumulates every
	// hostname folded into the shared certificate.
	mu            sync.Mutex
	domains       []string
	defaultLeaf   *certauth.Leaf
	defaultConfig *tls.Config
	capWarned     map[string]bool
}

func newCertResolver(cfg *api.Config, authority *certauth.Authority, slot *HostnameSlot, keyLog io.Writer) (*certResolver, error) {
	r := &certResolver{
		cfg:       cfg,
		authority: authority,
		slot:      slot,
		keyLog:    keyLog,
		log:       logrus.WithField("component", "intercept"),
		capWarned: make(map[string]bool),
	}
	if cfg.FetchCertificateFromDestination {
		r.dialer = outbound.NewDialer(cfg.ForwardingDNSServers, keyLog)
	}

	switch {
	case cfg.CustomCertificateUsage:
		cert, err := tlsconf.LoadCertificate(cfg.CustomCertificatePath, cfg.CustomPrivateKeyPath)
		if err != nil {
			return nil, err
		}
		r.customConfig = tlsconf.Server(cert, keyLog)

	case cfg.DefaultCertificateUsage:
		r.domains = append(r.domains, cfg.DefaultCertificateDomains...)
		leaf, err := authority.IssueOrGetLeaf(r.initialDomains(), cfg.DefaultCertificateName, true)
		if err != nil {
			return nil, err
		}
		r.defaultLeaf = leaf
		r.defaultConfig = tlsconf.Server(leaf.Certificate, keyLog)
	}
	return r, nil
}

// initialDomains guarantees the default certificate is issuable even
// with an empty configured domain list.
func (r *certResolver) initialDomains() []string {
	if len(r.domains) > 0 {
		return r.domains
	}
	return []string{"localhost"}
}

// GetConfigForClient resolves the effective hostname, publishes it to
// the shared slot, and returns the config carrying the certificate for
// this connection. Hostname fallback order: SNI, then the slot's
// last-known value (a DNS observer may have written it), then the fixed
// sentinel so downstream consumers can tell "no hostname" apart from a
// real one.
func (r *certResolver) GetConfigForClient(hello *tls.ClientHelloInfo) (*tls.Config, error) {
	hostname := hello.ServerName
	if hostname == "" {
		hostname = r.slot.Get()
	}
	if hostname == "" {
		hostname = api.HostnameUnknown
	}
	r.slot.Set(hostname)

	switch {
	case r.cfg.CustomCertificateUsage:
		return r.customConfig, nil
	case r.cfg.CertificatePerDomain:
		return r.leafConfig(hostname, helloPort(hello))
	default:
		return r.sharedConfig(hostname, helloPort(hello))
	}
}

// leafConfig serves the per-domain mode: one cached certificate per
// registrable domain, issued on first contact. When configured, a cache
// miss first fetches the destination's real certificate on the same
// port so its supported extensions ride along into the minted leaf.
func (r *certResolver) leafConfig(hostname string, port int) (*tls.Config, error) {
	var fetch certauth.PeerCertFunc
	if r.dialer != nil && hostname != api.HostnameUnknown {
		host := hostname
		fetch = func() (*x509.Certificate, error) {
			ctx, cancel := context.WithTimeout(context.Background(), peerFetchTimeout)
			defer cancel()
			return r.dialer.FetchPeerCertificate(ctx, host, port)
		}
	}

	leaf, err := r.authority.IssueOrGetLeafWithPeer([]string{hostname}, domain.Parent(hostname), false, fetch, r.cfg.SkipExtensionIDs)
	if err != nil {
		r.log.WithError(err).WithField("hostname", hostname).Error("leaf issuance failed, handshake will fail")
		return nil, err
	}
	return tlsconf.Server(leaf.Certificate, r.keyLog), nil
}

func helloPort(hello *tls.ClientHelloInfo) int {
	if hello != nil && hello.Conn != nil {
		if addr, ok := hello.Conn.LocalAddr().(*net.TCPAddr); ok {
			return addr.Port
		}
	}
	return 443
}

// sharedConfig serves the default-certificate mode. Without addons the
// shared certificate is served as-is. With addons an uncovered hostname
// is folded into the domain list and the certificate re-issued, until
// the SAN cap is reached; past the cap the connection falls back to a
// per-domain leaf so its handshake still presents a matching name.
func (r *certResolver) sharedConfig(hostname string, port int) (*tls.Config, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.cfg.DefaultCertificateAddons || domain.Covered(hostname, r.defaultLeaf.SANs) {
		return r.defaultConfig, nil
	}

	if len(r.domains) >= r.cfg.DefaultCertificateMaxDomains {
		if !r.capWarned[hostname] {
			r.capWarned[hostname] = true
			r.log.WithFields(logrus.Fields{
				"hostname": hostname,
				"cap":      r.cfg.DefaultCertificateMaxDomains,
			}).Warn("default certificate domain cap reached, issuing per-domain certificate")
		}
		return r.leafConfig(hostname, port)
	}

	domains := append(r.domains, hostname)
	leaf, err := r.authority.IssueOrGetLeaf(domains, r.cfg.DefaultCertificateName, true)
	if err != nil {
		r.log.WithError(err).WithField("hostname", hostname).Error("default certificate re-issuance failed")
		return nil, err
	}
	r.domains = domains
	r.defaultLeaf = leaf
	r.defaultConfig = tlsconf.Server(leaf.Certificate, r.keyLog)
	return r.defaultConfig, nil
}
