// Package domain computes the parent (registrable-adjacent) form of a
// hostname for wildcard certificate construction. All lookups run
// against the offline public-suffix list so nothing here ever touches
// the network; this code runs inside the TLS handshake path.
package domain

import (
	"net"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Parent returns the hostname with exactly its leftmost label removed,
// provided the remainder is still at least a registrable domain. Hosts
// that are IP literals, single labels, already registrable domains, or
// carry a suffix unknown to the ICANN section of the public-suffix list
// are returned unchanged.
//
//	a.b.example.com -> b.example.com
//	api.example.com -> example.com
//	example.com     -> example.com
//	localhost       -> localhost
func Parent(host string) string {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if !Wildcardable(host) {
		return host
	}
	etld1, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil || host == etld1 {
		return host
	}
	_, rest, ok := strings.Cut(host, ".")
	if !ok || len(rest) < len(etld1) {
		return host
	}
	return rest
}

// Wildcardable reports whether host may be covered by a wildcard SAN.
// IP literals, dot-less names, and names whose public suffix is not an
// ICANN-registered one are opaque: they get a literal SAN only.
func Wildcardable(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if host == "" || net.ParseIP(host) != nil {
		return false
	}
	if !strings.Contains(host, ".") {
		return false
	}
	suffix, icann := publicsuffix.PublicSuffix(host)
	if !icann || host == suffix {
		return false
	}
	return true
}

// SANEntries returns the subject-alternative-name set to embed in a
// certificate covering host: the parent domain plus its wildcard form,
// or the host itself when no wildcard applies.
func SANEntries(host string) []string {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if !Wildcardable(host) {
		return []string{host}
	}
	parent := Parent(host)
	return []string{parent, "*." + parent}
}

// Covered reports whether host is matched by any name in sans, with
// TLS wildcard semantics: "*.example.com" matches exactly one extra
// label, never the bare parent and never nested subdomains.
func Covered(host string, sans []string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	for _, san := range sans {
		if matchesSAN(strings.ToLower(san), host) {
			return true
		}
	}
	return false
}

func matchesSAN(san, host string) bool {
	if san == host {
		return true
	}
	base, ok := strings.CutPrefix(san, "*.")
	if !ok {
		return false
	}
	label, rest, ok := strings.Cut(host, ".")
	return ok && label != "" && rest == base
}
