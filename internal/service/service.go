package service

import (
	"context"
	"crypto/rsa"

	"github.com/oxygenesis/enrollment/internal/domain"
	"github.com/oxygenesis/enrollment/internal/transport"
)

// Service registers units and enrolls them with the remote service.
type Service interface {
	RegisterUnit(name string, pair domain.KeyPair) (*domain.Unit, error)
	GetUnit(fingerprint string) (*domain.Unit, error)
	ListUnits() ([]*domain.Unit, error)
	BuildRequest(fingerprint string) (*domain.EnrollmentRequest, error)
	Enroll(ctx context.Context, fingerprint string) (*domain.Enrollment, error)
	Token(ctx context.Context, fingerprint string) (*domain.Enrollment, error)
}

type Middleware func(Service) Service

// SignerFactory abstracts signer creation.
type SignerFactory interface {
	NewSigner(priv *rsa.PrivateKey, saltLength int) (domain.Signer, error)
}

// Transport is the HTTP collaborator enrollment requests are handed to.
type Transport interface {
	Post(ctx context.Context, url string, body any) (*transport.Response, error)
}
