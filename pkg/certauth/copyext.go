package certauth

import (
	"crypto/x509"
	"encoding/asn1"
)

var oidExtKeyUsage = asn1.ObjectIdentifier{2, 5, 29, 37}

// CopyExtensions carries supported X.509 extensions from a fetched peer
// certificate into a template about to be signed. The supported set is
// enumerated, currently Extended Key Usage only. Extensions whose OID
// appears in skipOIDs, and any extension kind outside the set, are
// dropped silently rather than copied blind.
func CopyExtensions(peer, template *x509.Certificate, skipOIDs []string) {
	skip := make(map[string]bool, len(skipOIDs))
	for _, oid := range skipOIDs {
		skip[oid] = true
	}

	for _, ext := range peer.Extensions {
		if skip[ext.Id.String()] {
			continue
		}
		if ext.Id.Equal(oidExtKeyUsage) {
			template.ExtKeyUsage = peer.ExtKeyUsage
			template.UnknownExtKeyUsage = peer.UnknownExtKeyUsage
		}
	}
}
