package certauth

import (
	"bytes"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/snigate/snigate/pkg/api"
)

func newTestAuthority(t *testing.T) *Authority {
	t.Helper()
	dir := t.TempDir()
	a, err := New(Options{
		Name:     "test root",
		RootPath: filepath.Join(dir, "ca.pem"),
		CacheDir: filepath.Join(dir, "certs"),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestRootPersistsAcrossOpens(t *testing.T) {
	dir := t.TempDir()
	opts := Options{
		Name:     "test root",
		RootPath: filepath.Join(dir, "ca.pem"),
		CacheDir: filepath.Join(dir, "certs"),
	}

	a1, err := New(opts)
	if err != nil {
		t.Fatalf("first New: %v", err)
	}
	a2, err := New(opts)
	if err != nil {
		t.Fatalf("second New: %v", err)
	}

	if !bytes.Equal(a1.CACert().Raw, a2.CACert().Raw) {
		t.Error("root certificate changed across loads")
	}
	if !a1.CACert().IsCA {
		t.Error("root certificate is not a CA")
	}
}

func TestCorruptRootAborts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ca.pem")
	if err := os.WriteFile(path, []byte("not pem at all"), 0o600); err != nil {
		t.Fatal(err)
	}

	_, err := New(Options{Name: "x", RootPath: path, CacheDir: dir})
	if !errors.Is(err, api.ErrCorruptRootMaterial) {
		t.Fatalf("want ErrCorruptRootMaterial, got %v", err)
	}
}

func TestIssuanceIdempotent(t *testing.T) {
	a := newTestAuthority(t)

	first, err := a.IssueOrGetLeaf([]string{"api.service.example.com"}, "service.example.com", false)
	if err != nil {
		t.Fatalf("first issue: %v", err)
	}
	second, err := a.IssueOrGetLeaf([]string{"api.service.example.com"}, "service.example.com", false)
	if err != nil {
		t.Fatalf("second issue: %v", err)
	}

	if !bytes.Equal(first.Certificate.Certificate[0], second.Certificate.Certificate[0]) {
		t.Error("second call re-signed instead of returning the cached certificate")
	}
}

func TestOverwriteReissues(t *testing.T) {
	a := newTestAuthority(t)

	first, err := a.IssueOrGetLeaf([]string{"example.com"}, "default", true)
	if err != nil {
		t.Fatal(err)
	}
	second, err := a.IssueOrGetLeaf([]string{"example.com", "example.org"}, "default", true)
	if err != nil {
		t.Fatal(err)
	}

	if bytes.Equal(first.Certificate.Certificate[0], second.Certificate.Certificate[0]) {
		t.Error("overwrite did not produce a new certificate")
	}
	wantSANs := []string{"example.com", "*.example.com", "example.org", "*.example.org"}
	if len(second.SANs) != len(wantSANs) {
		t.Fatalf("SANs = %v, want %v", second.SANs, wantSANs)
	}
	for i, san := range wantSANs {
		if second.SANs[i] != san {
			t.Errorf("SANs[%d] = %q, want %q", i, second.SANs[i], san)
		}
	}
}

func TestSANWildcardPair(t *testing.T) {
	a := newTestAuthority(t)

	leaf, err := a.IssueOrGetLeaf([]string{"api.service.example.com"}, "service.example.com", false)
	if err != nil {
		t.Fatal(err)
	}

	cert, err := x509.ParseCertificate(leaf.Certificate.Certificate[0])
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]bool{"service.example.com": true, "*.service.example.com": true}
	if len(cert.DNSNames) != len(want) {
		t.Fatalf("DNSNames = %v, want exactly %v", cert.DNSNames, want)
	}
	for _, name := range cert.DNSNames {
		if !want[name] {
			t.Errorf("unexpected SAN %q", name)
		}
	}
}

func TestSingleLabelPassthrough(t *testing.T) {
	a := newTestAuthority(t)

	leaf, err := a.IssueOrGetLeaf([]string{"localhost"}, "localhost", false)
	if err != nil {
		t.Fatal(err)
	}

	cert, err := x509.ParseCertificate(leaf.Certificate.Certificate[0])
	if err != nil {
		t.Fatal(err)
	}
	if len(cert.DNSNames) != 1 || cert.DNSNames[0] != "localhost" {
		t.Errorf("DNSNames = %v, want exactly [localhost]", cert.DNSNames)
	}
	if len(cert.IPAddresses) != 0 {
		t.Errorf("unexpected IP SANs %v", cert.IPAddresses)
	}
}

func TestIPLiteralSAN(t *testing.T) {
	a := newTestAuthority(t)

	leaf, err := a.IssueOrGetLeaf([]string{"10.1.2.3"}, "10.1.2.3", false)
	if err != nil {
		t.Fatal(err)
	}
	cert, err := x509.ParseCertificate(leaf.Certificate.Certificate[0])
	if err != nil {
		t.Fatal(err)
	}
	if len(cert.IPAddresses) != 1 || cert.IPAddresses[0].String() != "10.1.2.3" {
		t.Errorf("IPAddresses = %v, want [10.1.2.3]", cert.IPAddresses)
	}
	if len(cert.DNSNames) != 0 {
		t.Errorf("unexpected DNS SANs %v", cert.DNSNames)
	}
}

func TestConcurrentFirstContactIssuesOnce(t *testing.T) {
	a := newTestAuthority(t)

	const workers = 50
	leaves := make([]*Leaf, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			leaves[i], errs[i] = a.IssueOrGetLeaf([]string{"fresh.example.net"}, "example.net", false)
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		if !bytes.Equal(leaves[i].Certificate.Certificate[0], leaves[0].Certificate.Certificate[0]) {
			t.Fatalf("worker %d received a different certificate", i)
		}
	}

	entries, err := os.ReadDir(a.cacheDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("cache holds %d files, want 1", len(entries))
	}
}

func TestCorruptCacheIsMiss(t *testing.T) {
	a := newTestAuthority(t)

	if _, err := a.IssueOrGetLeaf([]string{"example.com"}, "example.com", false); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(a.LeafPath("example.com"), []byte("garbage"), 0o600); err != nil {
		t.Fatal(err)
	}

	leaf, err := a.IssueOrGetLeaf([]string{"example.com"}, "example.com", false)
	if err != nil {
		t.Fatalf("corrupt cache should re-issue, got %v", err)
	}
	if _, err := x509.ParseCertificate(leaf.Certificate.Certificate[0]); err != nil {
		t.Fatalf("re-issued certificate unparseable: %v", err)
	}
}

func TestIssueWithPeerCopiesEKU(t *testing.T) {
	a := newTestAuthority(t)

	peer := &x509.Certificate{
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		Extensions:  []pkix.Extension{{Id: oidExtKeyUsage}},
	}
	fetch := func() (*x509.Certificate, error) { return peer, nil }

	leaf, err := a.IssueOrGetLeafWithPeer([]string{"copy.example.com"}, "example.com", false, fetch, nil)
	if err != nil {
		t.Fatal(err)
	}

	cert, err := x509.ParseCertificate(leaf.Certificate.Certificate[0])
	if err != nil {
		t.Fatal(err)
	}
	if len(cert.ExtKeyUsage) != 2 {
		t.Errorf("ExtKeyUsage = %v, want the peer's usages carried over", cert.ExtKeyUsage)
	}
}

func TestIssueWithPeerFetchFailureStillIssues(t *testing.T) {
	a := newTestAuthority(t)

	fetch := func() (*x509.Certificate, error) { return nil, errors.New("connection refused") }

	leaf, err := a.IssueOrGetLeafWithPeer([]string{"plain.example.com"}, "example.com", false, fetch, nil)
	if err != nil {
		t.Fatalf("fetch failure must not fail issuance: %v", err)
	}
	if len(leaf.SANs) == 0 {
		t.Error("no SANs issued")
	}
}

func TestTraversalCacheKeyStaysInCacheDir(t *testing.T) {
	a := newTestAuthority(t)

	leaf, err := a.IssueOrGetLeaf([]string{"../../../escaped"}, "../../../escaped", false)
	if err != nil {
		t.Fatal(err)
	}

	if dir := filepath.Dir(leaf.Path); dir != a.cacheDir {
		t.Fatalf("leaf written to %q, want inside %q", leaf.Path, a.cacheDir)
	}
	if base := filepath.Base(leaf.Path); base != ".._.._.._escaped.pem" {
		t.Errorf("cache file name = %q, want path separators sanitized", base)
	}

	entries, err := os.ReadDir(a.cacheDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("cache holds %d files, want 1", len(entries))
	}
}

func TestSanitizedCacheFileName(t *testing.T) {
	a := newTestAuthority(t)

	leaf, err := a.IssueOrGetLeaf([]string{"2001:db8::1"}, "2001:db8::1", false)
	if err != nil {
		t.Fatal(err)
	}
	base := filepath.Base(leaf.Path)
	if base != "2001-db8--1.pem" {
		t.Errorf("cache file name = %q, want colons sanitized", base)
	}
}
