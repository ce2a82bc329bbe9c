// Package keys reads unit key pairs from caller-held material.
package keys

import (
	"bytes"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"

	"github.com/oxygenesis/enrollment/internal/domain"
)

const (
	PrivateKeyFile  = "id_rsa"
	PublicKeySuffix = ".pub"
)

var (
	ErrEmpty       = errors.New("empty key data")
	ErrMissingPEM  = errors.New("no PEM data found")
	ErrNotRSA      = errors.New("not an RSA key")
	ErrUnsupported = errors.New("unsupported key encoding")
)

var readFile = os.ReadFile

// ParsePrivateKey accepts PKCS#1 ("RSA PRIVATE KEY") and PKCS#8
// ("PRIVATE KEY") PEM blocks.
func ParsePrivateKey(data []byte) (*rsa.PrivateKey, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &domain.KeyFormatError{Op: "parse private key", Err: ErrEmpty}
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, &domain.KeyFormatError{Op: "parse private key", Err: ErrMissingPEM}
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, &domain.KeyFormatError{Op: "parse private key", Err: err}
		}
		return key, nil
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, &domain.KeyFormatError{Op: "parse private key", Err: err}
		}
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, &domain.KeyFormatError{Op: "parse private key", Err: ErrNotRSA}
		}
		return rsaKey, nil
	default:
		return nil, &domain.KeyFormatError{Op: "parse private key", Err: fmt.Errorf("%w: %q", ErrUnsupported, block.Type)}
	}
}

// ParsePublicKey accepts PEM "PUBLIC KEY" (PKIX), PEM "RSA PUBLIC KEY"
// holding either PKCS#1 or PKIX DER, and OpenSSH "ssh-rsa" lines.
func ParsePublicKey(data []byte) (*rsa.PublicKey, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, &domain.KeyFormatError{Op: "parse public key", Err: ErrEmpty}
	}
	if bytes.HasPrefix(data, []byte("ssh-")) {
		return parseAuthorizedKey(data)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, &domain.KeyFormatError{Op: "parse public key", Err: ErrMissingPEM}
	}

	switch block.Type {
	case "PUBLIC KEY":
		return parsePKIX(block.Bytes)
	case "RSA PUBLIC KEY":
		// the normalized enrollment encoding carries PKIX DER under this header
		if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
			return key, nil
		}
		return parsePKIX(block.Bytes)
	default:
		return nil, &domain.KeyFormatError{Op: "parse public key", Err: fmt.Errorf("%w: %q", ErrUnsupported, block.Type)}
	}
}

func parsePKIX(der []byte) (*rsa.PublicKey, error) {
	key, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, &domain.KeyFormatError{Op: "parse public key", Err: err}
	}
	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, &domain.KeyFormatError{Op: "parse public key", Err: ErrNotRSA}
	}
	return rsaKey, nil
}

func parseAuthorizedKey(line []byte) (*rsa.PublicKey, error) {
	key, _, _, _, err := ssh.ParseAuthorizedKey(line)
	if err != nil {
		return nil, &domain.KeyFormatError{Op: "parse ssh public key", Err: err}
	}
	cryptoKey, ok := key.(ssh.CryptoPublicKey)
	if !ok {
		return nil, &domain.KeyFormatError{Op: "parse ssh public key", Err: ErrUnsupported}
	}
	rsaKey, ok := cryptoKey.CryptoPublicKey().(*rsa.PublicKey)
	if !ok {
		return nil, &domain.KeyFormatError{Op: "parse ssh public key", Err: ErrNotRSA}
	}
	return rsaKey, nil
}

// Matches reports whether pub is the public half of priv.
func Matches(pub *rsa.PublicKey, priv *rsa.PrivateKey) bool {
	if pub == nil || priv == nil || pub.N == nil || priv.N == nil {
		return false
	}
	return pub.E == priv.E && pub.N.Cmp(priv.N) == 0
}

// Load reads a key pair. When publicPath is empty or does not exist the
// public key is taken from the private key.
func Load(privatePath, publicPath string) (domain.KeyPair, error) {
	privPEM, err := readFile(privatePath)
	if err != nil {
		return domain.KeyPair{}, fmt.Errorf("reading private key: %w", err)
	}
	priv, err := ParsePrivateKey(privPEM)
	if err != nil {
		return domain.KeyPair{}, fmt.Errorf("%s: %w", privatePath, err)
	}
	pair := domain.KeyPair{Public: &priv.PublicKey, Private: priv}
	if publicPath == "" {
		return pair, nil
	}

	pubData, err := readFile(publicPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return pair, nil
	case err != nil:
		return domain.KeyPair{}, fmt.Errorf("reading public key: %w", err)
	}
	pub, err := ParsePublicKey(pubData)
	if err != nil {
		return domain.KeyPair{}, fmt.Errorf("%s: %w", publicPath, err)
	}
	if !Matches(pub, priv) {
		return domain.KeyPair{}, &domain.KeyFormatError{Op: "match " + publicPath, Err: domain.ErrKeyPairMismatch}
	}
	pair.Public = pub
	return pair, nil
}

// LoadDir loads dir/id_rsa and dir/id_rsa.pub.
func LoadDir(dir string) (domain.KeyPair, error) {
	priv := filepath.Join(dir, PrivateKeyFile)
	return Load(priv, priv+PublicKeySuffix)
}
