package api

import (
	"errors"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name: "no ports",
			mutate: func(c *Config) {
				c.ListeningPorts = nil
			},
			wantErr: ErrNoListeningPorts,
		},
		{
			name: "port out of range",
			mutate: func(c *Config) {
				c.ListeningPorts = []int{70000}
			},
			wantErr: ErrPortOutOfRange,
		},
		{
			name: "no mode",
			mutate: func(c *Config) {
				c.DefaultCertificateUsage = false
			},
			wantErr: ErrNoCertificateMode,
		},
		{
			name: "two modes",
			mutate: func(c *Config) {
				c.CertificatePerDomain = true
			},
			wantErr: ErrCertificateModeConflict,
		},
		{
			name: "addons without default mode",
			mutate: func(c *Config) {
				c.DefaultCertificateUsage = false
				c.CertificatePerDomain = true
				c.DefaultCertificateAddons = true
			},
			wantErr: ErrAddonsRequireDefault,
		},
		{
			name: "custom mode without path",
			mutate: func(c *Config) {
				c.DefaultCertificateUsage = false
				c.CustomCertificateUsage = true
			},
			wantErr: ErrCustomCertPathRequired,
		},
		{
			name: "custom mode with path",
			mutate: func(c *Config) {
				c.DefaultCertificateUsage = false
				c.CustomCertificateUsage = true
				c.CustomCertificatePath = "/etc/snigate/custom.pem"
			},
		},
		{
			name: "default mode without name",
			mutate: func(c *Config) {
				c.DefaultCertificateName = ""
			},
			wantErr: ErrDefaultCertNameRequired,
		},
		{
			name: "zero domain cap",
			mutate: func(c *Config) {
				c.DefaultCertificateMaxDomains = 0
			},
			wantErr: ErrMaxDomainsOutOfRange,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
