// Package testkeys holds fixed RSA key material for tests.
package testkeys

import (
	_ "embed"
	"os"
	"path/filepath"
	"testing"
)

// Name is the unit name the pinned fingerprint was computed for.
const Name = "test-unit"

// Fingerprint is SHA-256 over Canonical, computed once with openssl.
const Fingerprint = "e29ac345d4d4b6cb4ba6a2c0b73512a0ab7b2c1b08999f414a186e8b5eff6d2b"

// OtherFingerprint is the pinned fingerprint of OtherPrivateKey.
const OtherFingerprint = "96d16af65d99133d56d213e1aa94788cc82f95c1187504a71afcbd845e897fa9"

var (
	// PrivateKey is a 2048-bit PKCS#1 PEM key.
	//go:embed test-unit.key
	PrivateKey []byte

	// PrivateKeyPKCS8 is PrivateKey as PKCS#8.
	//go:embed test-unit.pk8
	PrivateKeyPKCS8 []byte

	// PublicKeyPKIX is the openssl -pubout form of PrivateKey.
	//go:embed test-unit.pem
	PublicKeyPKIX []byte

	// PublicKeySSH is the ssh-keygen -y form of PrivateKey.
	//go:embed test-unit.pub
	PublicKeySSH []byte

	// Canonical is the normalized encoding of PublicKeyPKIX.
	//go:embed test-unit.canonical
	Canonical []byte

	//go:embed other-unit.key
	OtherPrivateKey []byte

	// Truncated is the first 300 bytes of PrivateKey.
	//go:embed truncated.key
	Truncated []byte
)

// WriteFile writes data into a fresh temp dir and returns its path.
func WriteFile(t testing.TB, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}
