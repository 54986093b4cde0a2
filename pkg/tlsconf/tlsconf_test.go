package tlsconf

import (
	"crypto/tls"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/snigate/snigate/pkg/api"
	"github.com/snigate/snigate/pkg/certauth"
)

func issueTestLeaf(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	a, err := certauth.New(certauth.Options{
		Name:     "test root",
		RootPath: filepath.Join(dir, "ca.pem"),
		CacheDir: dir,
	})
	if err != nil {
		t.Fatal(err)
	}
	leaf, err := a.IssueOrGetLeaf([]string{"example.com"}, "example.com", false)
	if err != nil {
		t.Fatal(err)
	}
	return leaf.Path
}

func TestLoadCertificateCombinedFile(t *testing.T) {
	path := issueTestLeaf(t)

	cert, err := LoadCertificate(path, "")
	if err != nil {
		t.Fatalf("LoadCertificate: %v", err)
	}
	if len(cert.Certificate) == 0 {
		t.Fatal("no certificate chain loaded")
	}
}

func TestLoadCertificateMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.pem")
	if err := os.WriteFile(path, []byte("definitely not a certificate"), 0o600); err != nil {
		t.Fatal(err)
	}

	_, err := LoadCertificate(path, "")
	if !errors.Is(err, api.ErrCertificateLoad) {
		t.Fatalf("want ErrCertificateLoad, got %v", err)
	}
}

func TestLoadCertificateMissingIsIOError(t *testing.T) {
	_, err := LoadCertificate(filepath.Join(t.TempDir(), "missing.pem"), "")
	if err == nil {
		t.Fatal("expected an error")
	}
	if errors.Is(err, api.ErrCertificateLoad) {
		t.Fatal("missing file must surface as I/O, not parse failure")
	}
}

func TestServerConfigFloor(t *testing.T) {
	path := issueTestLeaf(t)
	cert, err := LoadCertificate(path, "")
	if err != nil {
		t.Fatal(err)
	}

	cfg := Server(cert, nil)
	if cfg.MinVersion != tls.VersionTLS12 {
		t.Errorf("MinVersion = %x, want TLS 1.2", cfg.MinVersion)
	}
	if cfg.KeyLogWriter != nil {
		t.Error("key log writer must stay off by default")
	}
}

func TestClientConfigInsecure(t *testing.T) {
	cfg := Client(false, nil, "example.com", nil)
	if !cfg.InsecureSkipVerify {
		t.Error("verify-off client config must skip verification")
	}
	if cfg.ServerName != "example.com" {
		t.Errorf("ServerName = %q", cfg.ServerName)
	}
}
