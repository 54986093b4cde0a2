package outbound

import "errors"

var (
	ErrNXDomain          = errors.New("hostname does not exist")
	ErrNoARecord         = errors.New("no A record in DNS answer")
	ErrResolverTimeout   = errors.New("DNS resolution timed out")
	ErrResolverRefused   = errors.New("DNS server refused the query")
	ErrConnectionRefused = errors.New("connection refused by destination")
	ErrConnectionAborted = errors.New("connection aborted or reset by destination")
	ErrNoPeerCertificate = errors.New("destination presented no certificate")
)
