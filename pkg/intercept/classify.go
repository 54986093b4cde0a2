package intercept

import (
	"crypto/tls"
	"errors"
	"io"
	"net"
	"os"
	"syscall"

	"github.com/snigate/snigate/pkg/api"
)

// Alerts a client sends when it does not trust the presented chain
// (RFC 5246 §7.2.2): unknown_ca(48), or bad_certificate(42) from Go
// clients. Routine with interception: every client without the root
// installed produces one.
const (
	badCertificateAlert = tls.AlertError(42)
	unknownCAAlert      = tls.AlertError(48)
)

// Classify maps a handshake-time failure onto the fixed error taxonomy.
// It runs at the accept boundary; nothing above it sees raw TLS errors.
func Classify(err error) api.ErrorClass {
	if err == nil {
		return api.ErrorClassNone
	}

	var recordErr tls.RecordHeaderError
	var alert tls.AlertError
	switch {
	case errors.Is(err, api.ErrCertificateIssuance):
		return api.ErrorClassIssuanceFailed
	case errors.As(err, &recordErr):
		// The peer spoke something other than TLS, almost always plain
		// HTTP aimed at a TLS port.
		return api.ErrorClassHTTPOnTLSPort
	case errors.As(err, &alert):
		// Only the QUIC path wraps received alerts as tls.AlertError.
		if alert == unknownCAAlert || alert == badCertificateAlert {
			return api.ErrorClassUnknownCA
		}
		return api.ErrorClassHandshakeGeneric
	case isUntrustedChainAlert(err):
		return api.ErrorClassUnknownCA
	case errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF):
		return api.ErrorClassTLSEOF
	case errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNABORTED) || errors.Is(err, syscall.EPIPE):
		return api.ErrorClassPeerAbort
	case errors.Is(err, os.ErrNotExist):
		return api.ErrorClassCertFileVanished
	default:
		return api.ErrorClassHandshakeGeneric
	}
}

// isUntrustedChainAlert matches a fatal alert received over TCP. The
// handshake surfaces it as a net.OpError with Op "remote error"
// wrapping an unexported alert type, so the alert value itself is only
// reachable through its text.
func isUntrustedChainAlert(err error) bool {
	var opErr *net.OpError
	if !errors.As(err, &opErr) || opErr.Op != "remote error" || opErr.Err == nil {
		return false
	}
	switch opErr.Err.Error() {
	case "tls: bad certificate", "tls: unknown certificate authority":
		return true
	}
	return false
}
