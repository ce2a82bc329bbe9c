package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"

	"github.com/oxygenesis/enrollment/internal/domain"
)

const (
	DefaultSaltLength  = 16
	AlgorithmRSASSAPSS = "RSASSA-PSS"
)

var signPSS = rsa.SignPSS

var errInvalidPrivateKey = errors.New("missing RSA private key")

// PSSSigner signs identities with RSASSA-PSS over SHA-256 and a fixed salt
// length. It never falls back to PKCS#1 v1.5.
type PSSSigner struct {
	priv *rsa.PrivateKey
	opts rsa.PSSOptions
}

// NewPSSSigner validates priv and returns a signer. A saltLength of 0 selects
// DefaultSaltLength.
func NewPSSSigner(priv *rsa.PrivateKey, saltLength int) (*PSSSigner, error) {
	if priv == nil || priv.N == nil {
		return nil, &domain.SigningError{Op: "new signer", Err: errInvalidPrivateKey}
	}
	if saltLength < 0 {
		return nil, &domain.SigningError{Op: "new signer", Err: fmt.Errorf("invalid salt length %d", saltLength)}
	}
	if saltLength == 0 {
		saltLength = DefaultSaltLength
	}
	if err := priv.Validate(); err != nil {
		return nil, &domain.SigningError{Op: "new signer", Err: err}
	}
	return &PSSSigner{
		priv: priv,
		opts: rsa.PSSOptions{SaltLength: saltLength, Hash: Hasher},
	}, nil
}

// SignIdentity signs SHA-256(identity). Each call draws a fresh salt.
func (s *PSSSigner) SignIdentity(identity string) ([]byte, error) {
	h := Hasher.New()
	h.Write([]byte(identity))
	sig, err := signPSS(rand.Reader, s.priv, Hasher, h.Sum(nil), &s.opts)
	if err != nil {
		return nil, &domain.SigningError{Op: "sign identity", Err: err}
	}
	return sig, nil
}

func (s *PSSSigner) VerifyIdentity(identity string, signature []byte) error {
	return VerifyIdentity(&s.priv.PublicKey, identity, signature, s.opts.SaltLength)
}

func (s *PSSSigner) SaltLength() int           { return s.opts.SaltLength }
func (s *PSSSigner) PublicKey() *rsa.PublicKey { return &s.priv.PublicKey }
func (s *PSSSigner) AlgorithmName() string     { return AlgorithmRSASSAPSS }

// VerifyIdentity checks a PSS signature the way the enrollment service does.
func VerifyIdentity(pub *rsa.PublicKey, identity string, signature []byte, saltLength int) error {
	if pub == nil {
		return errInvalidPublicKey
	}
	if saltLength == 0 {
		saltLength = DefaultSaltLength
	}
	h := Hasher.New()
	h.Write([]byte(identity))
	return rsa.VerifyPSS(pub, Hasher, h.Sum(nil), signature, &rsa.PSSOptions{SaltLength: saltLength, Hash: Hasher})
}

var _ domain.Signer = (*PSSSigner)(nil)
