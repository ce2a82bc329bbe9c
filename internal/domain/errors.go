package domain

import "errors"

var (
	ErrNotFound           = errors.New("unit not found")
	ErrAlreadyExists      = errors.New("unit already exists")
	ErrInvalidInput       = errors.New("invalid input")
	ErrKeyFormat          = errors.New("key format error")
	ErrSigning            = errors.New("signing error")
	ErrKeyPairMismatch    = errors.New("public and private key do not match")
	ErrEnrollmentRejected = errors.New("enrollment rejected")
)

// KeyFormatError reports key material that cannot be parsed or serialized.
type KeyFormatError struct {
	Op  string
	Err error
}

func (e *KeyFormatError) Error() string {
	if e.Err == nil {
		return "key format error: " + e.Op
	}
	return "key format error: " + e.Op + ": " + e.Err.Error()
}

func (e *KeyFormatError) Unwrap() error        { return e.Err }
func (e *KeyFormatError) Is(target error) bool { return target == ErrKeyFormat }

// SigningError reports a rejected signing operation.
type SigningError struct {
	Op  string
	Err error
}

func (e *SigningError) Error() string {
	if e.Err == nil {
		return "signing error: " + e.Op
	}
	return "signing error: " + e.Op + ": " + e.Err.Error()
}

func (e *SigningError) Unwrap() error        { return e.Err }
func (e *SigningError) Is(target error) bool { return target == ErrSigning }
