package certauth

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
)

var (
	errNoPrivateKey  = errors.New("no private key block in PEM file")
	errNoCertificate = errors.New("no certificate block in PEM file")
	errNotRSAKey     = errors.New("private key is not RSA")
)

// writeKeyAndCert persists key followed by certificate into one PEM
// file, written to a temp file first and renamed into place so readers
// never observe a partial write. Key material, so 0600.
func writeKeyAndCert(path string, key *rsa.PrivateKey, certDER []byte) error {
	var buf []byte
	buf = append(buf, pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})...)
	buf = append(buf, certPEM(certDER)...)

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// readKeyAndCert parses a PEM file holding a private key and a
// certificate, in either order. Unparseable content is an error; the
// caller decides whether that means corruption or a cache miss.
func readKeyAndCert(path string) (*rsa.PrivateKey, *x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}

	var key *rsa.PrivateKey
	var cert *x509.Certificate
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		switch block.Type {
		case "RSA PRIVATE KEY":
			key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
			if err != nil {
				return nil, nil, err
			}
		case "PRIVATE KEY":
			parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
			if err != nil {
				return nil, nil, err
			}
			rsaKey, ok := parsed.(*rsa.PrivateKey)
			if !ok {
				return nil, nil, errNotRSAKey
			}
			key = rsaKey
		case "CERTIFICATE":
			cert, err = x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, nil, err
			}
		}
	}
	if key == nil {
		return nil, nil, errNoPrivateKey
	}
	if cert == nil {
		return nil, nil, errNoCertificate
	}
	return key, cert, nil
}

func certPEM(certDER []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: certDER,
	})
}
