package storage

import "github.com/oxygenesis/enrollment/internal/domain"

// Repository persists registered units keyed by fingerprint.
// Update provides a per-unit critical section so enrollments of one unit
// are serialized while different units proceed in parallel.
type Repository interface {
	Create(unit *domain.Unit, signer domain.Signer) error
	Get(fingerprint string) (*domain.Unit, domain.Signer, error)
	List() ([]*domain.Unit, error)
	Update(fingerprint string, fn func(u *domain.Unit, signer domain.Signer) error) error
}
