package api

import (
	"time"

	"github.com/snigate/snigate/internal/errx"
)

// HostnameUnknown is recorded as the destination hostname when a
// handshake carries no SNI and no DNS hint has been observed. Statistics
// consumers match on this literal to count hostname-less connections.
const HostnameUnknown = "domain_is_empty_in_sni_and_dns"

// DefaultMaxDefaultCertDomains bounds the shared default certificate's
// SAN list. Hostnames seen past the cap get a per-domain leaf instead.
const DefaultMaxDefaultCertDomains = 50

type Config struct {
	ListeningInterface string `json:"listening_interface" mapstructure:"listening_interface"`
	ListeningPorts     []int  `json:"listening_port_list" mapstructure:"listening_port_list"`

	// Certificate modes. Exactly one must be enabled.
	DefaultCertificateUsage   bool     `json:"default_server_certificate_usage" mapstructure:"default_server_certificate_usage"`
	DefaultCertificateName    string   `json:"default_server_certificate_name" mapstructure:"default_server_certificate_name"`
	DefaultCertificateDomains []string `json:"default_certificate_domain_list" mapstructure:"default_certificate_domain_list"`
	CertificatePerDomain      bool     `json:"sni_create_server_certificate_for_each_domain" mapstructure:"sni_create_server_certificate_for_each_domain"`
	CustomCertificateUsage    bool     `json:"custom_server_certificate_usage" mapstructure:"custom_server_certificate_usage"`
	CustomCertificatePath     string   `json:"custom_server_certificate_path" mapstructure:"custom_server_certificate_path"`
	CustomPrivateKeyPath      string   `json:"custom_private_key_path" mapstructure:"custom_private_key_path"`

	// DefaultCertificateAddons lets the default multi-domain certificate
	// accumulate newly observed domains at handshake time.
	DefaultCertificateAddons     bool `json:"sni_default_server_certificate_addons" mapstructure:"sni_default_server_certificate_addons"`
	DefaultCertificateMaxDomains int  `json:"default_certificate_max_domains" mapstructure:"default_certificate_max_domains"`

	CAName         string `json:"ca_name" mapstructure:"ca_name"`
	CAPath         string `json:"ca_path" mapstructure:"ca_path"`
	CacheDirectory string `json:"certificate_cache_directory" mapstructure:"certificate_cache_directory"`

	// FetchCertificateFromDestination makes per-domain issuance connect
	// out to the real destination and carry supported extensions of its
	// certificate into the minted leaf.
	FetchCertificateFromDestination bool     `json:"sni_get_server_certificate_from_server_socket" mapstructure:"sni_get_server_certificate_from_server_socket"`
	ForwardingDNSServers            []string `json:"forwarding_dns_service_ipv4_list" mapstructure:"forwarding_dns_service_ipv4_list"`
	SkipExtensionIDs                []string `json:"skip_extension_id_list" mapstructure:"skip_extension_id_list"`

	// KeyLogPath, when set, exports TLS session secrets for offline
	// decryption. Diagnostic only; never enabled by default.
	KeyLogPath string `json:"key_log_path,omitempty" mapstructure:"key_log_path"`

	ResolveProcessNames bool          `json:"resolve_process_names" mapstructure:"resolve_process_names"`
	AcceptTimeout       time.Duration `json:"-" mapstructure:"-"`

	StatsDBPath     string `json:"stats_db_path" mapstructure:"stats_db_path"`
	EventSocketPath string `json:"event_socket_path" mapstructure:"event_socket_path"`
	LogLevel        string `json:"log_level" mapstructure:"log_level"`
}

func DefaultConfig() *Config {
	return &Config{
		ListeningInterface:           "0.0.0.0",
		ListeningPorts:               []int{443},
		DefaultCertificateUsage:      true,
		DefaultCertificateName:       "default",
		DefaultCertificateMaxDomains: DefaultMaxDefaultCertDomains,
		CAName:                       "snigate root",
		CAPath:                       "ca.pem",
		CacheDirectory:               "certs",
		LogLevel:                     "info",
	}
}

// Validate checks the certificate-mode matrix before any socket is
// bound: exactly one mode, addons only with the default certificate,
// and a certificate path whenever the custom mode is chosen.
func (c *Config) Validate() error {
	if len(c.ListeningPorts) == 0 {
		return ErrNoListeningPorts
	}
	for _, p := range c.ListeningPorts {
		if p < 1 || p > 65535 {
			return errx.With(ErrPortOutOfRange, ": %d", p)
		}
	}

	modes := 0
	for _, on := range []bool{c.DefaultCertificateUsage, c.CertificatePerDomain, c.CustomCertificateUsage} {
		if on {
			modes++
		}
	}
	switch {
	case modes == 0:
		return ErrNoCertificateMode
	case modes > 1:
		return ErrCertificateModeConflict
	}

	if c.DefaultCertificateAddons && !c.DefaultCertificateUsage {
		return ErrAddonsRequireDefault
	}
	if c.CustomCertificateUsage && c.CustomCertificatePath == "" {
		return ErrCustomCertPathRequired
	}
	if c.DefaultCertificateUsage && c.DefaultCertificateName == "" {
		return ErrDefaultCertNameRequired
	}
	if c.DefaultCertificateMaxDomains < 1 {
		return ErrMaxDomainsOutOfRange
	}
	return nil
}
