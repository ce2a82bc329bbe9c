package crypto

import (
	"bytes"
	"crypto"
	"crypto/rsa"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"

	"github.com/oxygenesis/enrollment/internal/domain"
	"github.com/oxygenesis/enrollment/internal/keys"
)

// Hasher is used for both the fingerprint and the signed digest.
const Hasher = crypto.SHA256

const (
	genericPublicKeyHeader = "PUBLIC KEY"
	rsaPublicKeyHeader     = "RSA PUBLIC KEY"
)

var marshalPKIXPublicKey = x509.MarshalPKIXPublicKey

var errInvalidPublicKey = errors.New("missing or degenerate RSA public key")

// NormalizeHeader rewrites a generic "PUBLIC KEY" PEM header to
// "RSA PUBLIC KEY" and leaves the PKIX body alone. Every enrolled
// fingerprint depends on this exact substitution. Text that already carries
// the RSA marker is returned unchanged.
func NormalizeHeader(text []byte) []byte {
	if bytes.Contains(text, []byte(rsaPublicKeyHeader)) {
		return text
	}
	return bytes.ReplaceAll(text, []byte(genericPublicKeyHeader), []byte(rsaPublicKeyHeader))
}

// CanonicalPublicKeyPEM returns the normalized PEM text of pub without a
// trailing newline.
func CanonicalPublicKeyPEM(pub *rsa.PublicKey) ([]byte, error) {
	if pub == nil || pub.N == nil || pub.N.Sign() <= 0 || pub.E < 2 {
		return nil, &domain.KeyFormatError{Op: "serialize public key", Err: errInvalidPublicKey}
	}
	der, err := marshalPKIXPublicKey(pub)
	if err != nil {
		return nil, &domain.KeyFormatError{Op: "serialize public key", Err: err}
	}
	text := pem.EncodeToMemory(&pem.Block{Type: genericPublicKeyHeader, Bytes: der})
	return bytes.TrimRight(NormalizeHeader(text), "\n"), nil
}

// Fingerprint is the lowercase hex SHA-256 of a canonical encoding.
func Fingerprint(encoding []byte) string {
	h := Hasher.New()
	h.Write(encoding)
	return hex.EncodeToString(h.Sum(nil))
}

func ComposeIdentity(name, fingerprint string) string {
	return name + "@" + fingerprint
}

// Derive computes encoding, fingerprint and identity for pub. It is pure and
// deterministic.
func Derive(pub *rsa.PublicKey, name string) (domain.Derivation, error) {
	enc, err := CanonicalPublicKeyPEM(pub)
	if err != nil {
		return domain.Derivation{}, err
	}
	fp := Fingerprint(enc)
	return domain.Derivation{
		Encoding:    enc,
		Fingerprint: fp,
		Identity:    ComposeIdentity(name, fp),
	}, nil
}

// DeriveFromPEM parses a public key blob in any format keys.ParsePublicKey
// accepts, then derives from it.
func DeriveFromPEM(blob []byte, name string) (domain.Derivation, error) {
	pub, err := keys.ParsePublicKey(blob)
	if err != nil {
		return domain.Derivation{}, err
	}
	return Derive(pub, name)
}
