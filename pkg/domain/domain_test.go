package domain

import "testing"

func TestParent(t *testing.T) {
	tests := []struct {
		host string
		want string
	}{
		{"a.b.example.com", "b.example.com"},
		{"api.service.example.com", "service.example.com"},
		{"api.example.com", "example.com"},
		{"example.com", "example.com"},
		{"localhost", "localhost"},
		{"192.168.1.1", "192.168.1.1"},
		{"a.example.co.uk", "example.co.uk"},
		{"example.co.uk", "example.co.uk"},
		{"WWW.Example.COM", "example.com"},
		{"foo.bar.internal", "foo.bar.internal"}, // unknown suffix stays opaque
	}
	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			if got := Parent(tt.host); got != tt.want {
				t.Errorf("Parent(%q) = %q, want %q", tt.host, got, tt.want)
			}
		})
	}
}

func TestSANEntries(t *testing.T) {
	tests := []struct {
		host string
		want []string
	}{
		{"api.service.example.com", []string{"service.example.com", "*.service.example.com"}},
		{"example.com", []string{"example.com", "*.example.com"}},
		{"localhost", []string{"localhost"}},
		{"10.0.0.1", []string{"10.0.0.1"}},
		{"printer.lan", []string{"printer.lan"}},
	}
	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			got := SANEntries(tt.host)
			if len(got) != len(tt.want) {
				t.Fatalf("SANEntries(%q) = %v, want %v", tt.host, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("SANEntries(%q)[%d] = %q, want %q", tt.host, i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestCovered(t *testing.T) {
	sans := []string{"example.com", "*.example.com"}

	tests := []struct {
		host string
		want bool
	}{
		{"example.com", true},
		{"www.example.com", true},
		{"a.b.example.com", false}, // wildcards span one label only
		{"example.org", false},
		{"notexample.com", false},
	}
	for _, tt := range tests {
		if got := Covered(tt.host, sans); got != tt.want {
			t.Errorf("Covered(%q) = %v, want %v", tt.host, got, tt.want)
		}
	}
}
