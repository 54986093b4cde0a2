// Package outbound originates the proxy's own TLS connections, used to
// fetch a destination's real certificate so its identity can be carried
// into a minted leaf. The outbound leg never validates the peer.
package outbound

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"syscall"
	"time"

	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"

	"github.com/snigate/snigate/internal/errx"
	"github.com/snigate/snigate/pkg/tlsconf"
)

const defaultDialTimeout = 10 * time.Second

type Dialer struct {
	// DNSServers, when non-empty, are queried directly for the first A
	// record instead of the system resolver. Needed when the system
	// resolver points back at the interceptor itself.
	DNSServers []string
	Timeout    time.Duration
	KeyLog     io.Writer

	log *logrus.Entry
}

func NewDialer(dnsServers []string, keyLog io.Writer) *Dialer {
	return &Dialer{
		DNSServers: dnsServers,
		Timeout:    defaultDialTimeout,
		KeyLog:     keyLog,
		log:        logrus.WithField("component", "outbound"),
	}
}

// Connect dials hostname:port and completes a TLS handshake presenting
// hostname as SNI without validating the returned certificate. When DNS
// override servers are configured the connection goes to the resolved
// IP while the hostname is still sent in the ClientHello.
func (d *Dialer) Connect(ctx context.Context, hostname string, port int) (*tls.Conn, error) {
	target := hostname
	if len(d.DNSServers) > 0 {
		ip, err := d.Resolve(ctx, hostname)
		if err != nil {
			return nil, err
		}
		target = ip.String()
	}

	nd := &net.Dialer{Timeout: d.timeout()}
	raw, err := nd.DialContext(ctx, "tcp", net.JoinHostPort(target, strconv.Itoa(port)))
	if err != nil {
		return nil, classifyDialError(err)
	}

	conn := tls.Client(raw, tlsconf.Client(false, nil, hostname, d.KeyLog))
	if err := conn.HandshakeContext(ctx); err != nil {
		raw.Close()
		return nil, classifyDialError(err)
	}
	return conn, nil
}

// FetchPeerCertificate connects just long enough to read the leaf
// certificate the destination presents.
func (d *Dialer) FetchPeerCertificate(ctx context.Context, hostname string, port int) (*x509.Certificate, error) {
	conn, err := d.Connect(ctx, hostname, port)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	certs := conn.ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return nil, ErrNoPeerCertificate
	}
	d.log.WithFields(logrus.Fields{
		"hostname": hostname,
		"subject":  certs[0].Subject.CommonName,
	}).Debug("fetched peer certificate")
	return certs[0], nil
}

// Resolve queries the configured DNS servers in order and returns the
// first A record of the first server that answers.
func (d *Dialer) Resolve(ctx context.Context, hostname string) (net.IP, error) {
	client := &dns.Client{Timeout: d.timeout()}
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(hostname), dns.TypeA)

	var lastErr error
	for _, server := range d.DNSServers {
		addr := server
		if _, _, err := net.SplitHostPort(server); err != nil {
			addr = net.JoinHostPort(server, "53")
		}

		reply, _, err := client.ExchangeContext(ctx, msg, addr)
		if err != nil {
			lastErr = classifyResolveError(err)
			continue
		}
		switch reply.Rcode {
		case dns.RcodeSuccess:
		case dns.RcodeNameError:
			return nil, errx.With(ErrNXDomain, ": %s", hostname)
		case dns.RcodeRefused:
			lastErr = errx.With(ErrResolverRefused, ": %s", server)
			continue
		default:
			lastErr = fmt.Errorf("DNS rcode %s from %s", dns.RcodeToString[reply.Rcode], server)
			continue
		}

		for _, rr := range reply.Answer {
			if a, ok := rr.(*dns.A); ok {
				return a.A, nil
			}
		}
		lastErr = errx.With(ErrNoARecord, ": %s", hostname)
	}
	if lastErr == nil {
		lastErr = errx.With(ErrNoARecord, ": %s", hostname)
	}
	return nil, lastErr
}

func (d *Dialer) timeout() time.Duration {
	if d.Timeout > 0 {
		return d.Timeout
	}
	return defaultDialTimeout
}

// classifyDialError maps transport failures onto the fixed error set so
// each failure class logs distinctly. Unrecognized errors pass through
// unchanged rather than being collapsed into a generic bucket.
func classifyDialError(err error) error {
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return errx.Wrap(ErrConnectionRefused, err)
	case errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNABORTED) || errors.Is(err, syscall.EPIPE):
		return errx.Wrap(ErrConnectionAborted, err)
	default:
		return err
	}
}

func classifyResolveError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errx.Wrap(ErrResolverTimeout, err)
	}
	return err
}
