package api

import "errors"

var (
	ErrInvalidConfig           = errors.New("invalid configuration")
	ErrNoListeningPorts        = errors.New("listening_port_list must not be empty")
	ErrPortOutOfRange          = errors.New("listening port out of range")
	ErrNoCertificateMode       = errors.New("no certificate mode enabled")
	ErrCertificateModeConflict = errors.New("more than one certificate mode enabled")
	ErrAddonsRequireDefault    = errors.New("certificate addons require the default certificate mode")
	ErrCustomCertPathRequired  = errors.New("custom certificate mode requires custom_server_certificate_path")
	ErrDefaultCertNameRequired = errors.New("default certificate mode requires default_server_certificate_name")
	ErrMaxDomainsOutOfRange    = errors.New("default_certificate_max_domains must be at least 1")

	ErrCorruptRootMaterial  = errors.New("root CA material exists but cannot be parsed")
	ErrCertificateIssuance  = errors.New("leaf certificate issuance failed")
	ErrCertificateLoad      = errors.New("certificate or key cannot be parsed")
	ErrBind                 = errors.New("cannot bind listening port")
	ErrBindAddressInUse     = errors.New("listening address already in use")
	ErrBindPermissionDenied = errors.New("binding listening port not permitted")
)
