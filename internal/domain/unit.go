package domain

import (
	"crypto/rsa"
	"time"
)

// KeyPair is caller-owned key material. The core only reads it.
type KeyPair struct {
	Public  *rsa.PublicKey
	Private *rsa.PrivateKey
}

// Derivation is the deterministic output of identity derivation.
type Derivation struct {
	Encoding    []byte
	Fingerprint string
	Identity    string
}

type Unit struct {
	Name            string     `json:"name"`
	Fingerprint     string     `json:"fingerprint"`
	Identity        string     `json:"identity"`
	PublicKeyPEM    string     `json:"public_key"`
	EnrollmentCount uint64     `json:"enrollment_count"`
	LastEnrolledAt  *time.Time `json:"last_enrolled_at,omitempty"`
	TokenExpiresAt  *time.Time `json:"token_expires_at,omitempty"`
	Token           string     `json:"-"`
}

// TokenValid reports whether the cached token can still be used at now.
func (u *Unit) TokenValid(now time.Time) bool {
	return u.Token != "" && u.TokenExpiresAt != nil && now.Before(*u.TokenExpiresAt)
}

// EnrollmentRequest is the body POSTed to the enrollment endpoint.
type EnrollmentRequest struct {
	Identity  string `json:"identity" validate:"required,contains=@"`
	PublicKey string `json:"public_key" validate:"required,base64"`
	Signature string `json:"signature" validate:"required,base64"`
}

// Enrollment is the outcome of one enrollment call.
type Enrollment struct {
	Identity   string         `json:"identity"`
	StatusCode int            `json:"status_code"`
	Response   map[string]any `json:"response,omitempty"`
	ExpiresAt  *time.Time     `json:"token_expires_at,omitempty"`
	Token      string         `json:"-"`
}
