package api

import "time"

// ErrorClass tags the outcome of one accept attempt. Handshake failures
// are classified into this fixed set at the accept boundary instead of
// being propagated upward.
type ErrorClass string

const (
	ErrorClassNone             ErrorClass = ""
	ErrorClassPeerAbort        ErrorClass = "peer_abort"
	ErrorClassTLSEOF           ErrorClass = "tls_eof"
	ErrorClassUnknownCA        ErrorClass = "unknown_ca"
	ErrorClassHTTPOnTLSPort    ErrorClass = "http_on_tls_port"
	ErrorClassCertFileVanished ErrorClass = "certificate_file_vanished"
	ErrorClassIssuanceFailed   ErrorClass = "issuance_failed"
	ErrorClassHandshakeGeneric ErrorClass = "handshake_generic"
)

// AcceptRecord is emitted once per accept attempt, successful or not.
type AcceptRecord struct {
	Timestamp    time.Time  `json:"timestamp"`
	ConnectionID string     `json:"connection_id"`
	Hostname     string     `json:"hostname"`
	Port         int        `json:"port"`
	PeerAddress  string     `json:"peer_address,omitempty"`
	ProcessName  string     `json:"process_name,omitempty"`
	ErrorClass   ErrorClass `json:"error_class,omitempty"`
	Error        string     `json:"error,omitempty"`
}

// Failed reports whether the record describes a failed accept.
func (r *AcceptRecord) Failed() bool { return r.ErrorClass != ErrorClassNone }
