package domain

// Signer proves possession of a unit's private key.
type Signer interface {
	SignIdentity(identity string) ([]byte, error)
	VerifyIdentity(identity string, signature []byte) error
	AlgorithmName() string
}
