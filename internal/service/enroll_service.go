package service

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/oxygenesis/enrollment/internal/crypto"
	"github.com/oxygenesis/enrollment/internal/domain"
	"github.com/oxygenesis/enrollment/internal/keys"
	"github.com/oxygenesis/enrollment/internal/storage"
	"github.com/oxygenesis/enrollment/pkg/logger"
)

const (
	DefaultEndpoint = "https://api.pwnagotchi.ai/api/v1/unit/enroll"
	DefaultTokenTTL = 30 * time.Minute
)

type Options struct {
	Endpoint   string
	SaltLength int
	// SelfCheck verifies every signature against the submitted public key
	// before the request leaves the process.
	SelfCheck bool
	TokenTTL  time.Duration
	// TokenDir, when set, keeps each unit's last enrollment response so a
	// restart reuses a still valid token.
	TokenDir string
	Logger   *logrus.Entry
	Now      func() time.Time
}

// PSSFactory builds crypto.PSSSigner instances.
type PSSFactory struct{}

func (PSSFactory) NewSigner(priv *rsa.PrivateKey, saltLength int) (domain.Signer, error) {
	return crypto.NewPSSSigner(priv, saltLength)
}

type UnitService struct {
	repo      storage.Repository
	signers   SignerFactory
	transport Transport
	validate  *validator.Validate
	logger    *logrus.Entry

	endpoint   string
	saltLength int
	selfCheck  bool
	tokenTTL   time.Duration
	tokenDir   string
	now        func() time.Time
}

func New(repo storage.Repository, signers SignerFactory, tr Transport, opts Options) *UnitService {
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultEndpoint
	}
	if opts.SaltLength == 0 {
		opts.SaltLength = crypto.DefaultSaltLength
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = DefaultTokenTTL
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &UnitService{
		repo:       repo,
		signers:    signers,
		transport:  tr,
		validate:   validator.New(),
		logger:     opts.Logger,
		endpoint:   opts.Endpoint,
		saltLength: opts.SaltLength,
		selfCheck:  opts.SelfCheck,
		tokenTTL:   opts.TokenTTL,
		tokenDir:   opts.TokenDir,
		now:        opts.Now,
	}
}

// RegisterUnit derives the identity of pair and keeps a signer for it. The
// name is used as given.
func (s *UnitService) RegisterUnit(name string, pair domain.KeyPair) (*domain.Unit, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: empty unit name", domain.ErrInvalidInput)
	}
	if pair.Private == nil {
		return nil, fmt.Errorf("%w: missing private key", domain.ErrInvalidInput)
	}
	pub := pair.Public
	if pub == nil {
		pub = &pair.Private.PublicKey
	}

	d, err := crypto.Derive(pub, name)
	if err != nil {
		return nil, err
	}
	if !keys.Matches(pub, pair.Private) {
		return nil, &domain.KeyFormatError{Op: "register " + d.Identity, Err: domain.ErrKeyPairMismatch}
	}
	signer, err := s.signers.NewSigner(pair.Private, s.saltLength)
	if err != nil {
		return nil, err
	}

	unit := &domain.Unit{
		Name:         name,
		Fingerprint:  d.Fingerprint,
		Identity:     d.Identity,
		PublicKeyPEM: string(d.Encoding),
	}
	s.restoreToken(unit)
	if err := s.repo.Create(unit, signer); err != nil {
		return nil, err
	}
	s.logger.WithField("unit", unit.Identity).Infof("unit registered (%s)", signer.AlgorithmName())
	return unit, nil
}

func (s *UnitService) GetUnit(fingerprint string) (*domain.Unit, error) {
	unit, _, err := s.repo.Get(normalizeFingerprint(fingerprint))
	return unit, err
}

func (s *UnitService) ListUnits() ([]*domain.Unit, error) {
	return s.repo.List()
}

// BuildRequest returns a complete enrollment request with a fresh signature.
func (s *UnitService) BuildRequest(fingerprint string) (*domain.EnrollmentRequest, error) {
	unit, signer, err := s.repo.Get(normalizeFingerprint(fingerprint))
	if err != nil {
		return nil, err
	}
	return s.buildRequest(unit, signer)
}

func (s *UnitService) buildRequest(unit *domain.Unit, signer domain.Signer) (*domain.EnrollmentRequest, error) {
	sig, err := signer.SignIdentity(unit.Identity)
	if err != nil {
		return nil, err
	}
	if s.selfCheck {
		if err := s.verify(unit, sig); err != nil {
			return nil, err
		}
	}

	req := &domain.EnrollmentRequest{
		Identity:  unit.Identity,
		PublicKey: base64.StdEncoding.EncodeToString([]byte(unit.PublicKeyPEM)),
		Signature: base64.StdEncoding.EncodeToString(sig),
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	s.logger.WithField("unit", unit.Identity).Debugf("SIGN(%s) = %s", unit.Identity, req.Signature)
	return req, nil
}

// verify checks sig the way the enrollment service will: against the key
// parsed back from the public_key field.
func (s *UnitService) verify(unit *domain.Unit, sig []byte) error {
	pub, err := keys.ParsePublicKey([]byte(unit.PublicKeyPEM))
	if err != nil {
		return err
	}
	if err := crypto.VerifyIdentity(pub, unit.Identity, sig, s.saltLength); err != nil {
		return fmt.Errorf("%w: self-check failed for %s: %v", domain.ErrKeyPairMismatch, unit.Identity, err)
	}
	return nil
}

// Enroll submits one freshly signed request. A non-2xx answer is returned
// together with ErrEnrollmentRejected; nothing is retried.
func (s *UnitService) Enroll(ctx context.Context, fingerprint string) (*domain.Enrollment, error) {
	var out *domain.Enrollment
	err := s.repo.Update(normalizeFingerprint(fingerprint), func(u *domain.Unit, signer domain.Signer) error {
		var err error
		out, err = s.enroll(ctx, u, signer)
		return err
	})
	if err != nil {
		if errors.Is(err, domain.ErrEnrollmentRejected) {
			return out, err
		}
		return nil, err
	}
	return out, nil
}

// enroll runs under the unit lock and updates u on success.
func (s *UnitService) enroll(ctx context.Context, u *domain.Unit, signer domain.Signer) (*domain.Enrollment, error) {
	req, err := s.buildRequest(u, signer)
	if err != nil {
		return nil, err
	}

	log := s.logger.WithField("unit", u.Identity)
	log.Infof("enrolling to %s", s.endpoint)
	res, err := s.transport.Post(ctx, s.endpoint, req)
	if err != nil {
		return nil, fmt.Errorf("posting enrollment: %w", err)
	}

	out := &domain.Enrollment{Identity: u.Identity, StatusCode: res.StatusCode, Response: res.Body}
	if !res.Success() {
		log.Warnf("enrollment rejected: %d %v", res.StatusCode, res.Body["error"])
		return out, fmt.Errorf("%w: %d %v", domain.ErrEnrollmentRejected, res.StatusCode, res.Body["error"])
	}

	now := s.now()
	u.EnrollmentCount++
	u.LastEnrolledAt = &now
	if token, ok := res.Body["token"].(string); ok && token != "" {
		exp := tokenExpiry(token, now, s.tokenTTL)
		u.Token, u.TokenExpiresAt = token, &exp
		out.Token, out.ExpiresAt = token, &exp
		log.Debugf("new token, expires at %s", exp.Format(time.RFC3339))
		s.saveToken(u, res.Raw)
	}
	return out, nil
}

// Token returns the cached bearer token of a unit, enrolling when there is
// none or it has expired. The check and the enrollment share the unit lock,
// so concurrent callers enroll once.
func (s *UnitService) Token(ctx context.Context, fingerprint string) (*domain.Enrollment, error) {
	var out *domain.Enrollment
	err := s.repo.Update(normalizeFingerprint(fingerprint), func(u *domain.Unit, signer domain.Signer) error {
		if u.TokenValid(s.now()) {
			out = &domain.Enrollment{Identity: u.Identity, Token: u.Token, ExpiresAt: u.TokenExpiresAt}
			return nil
		}
		var err error
		out, err = s.enroll(ctx, u, signer)
		return err
	})
	if err != nil {
		return nil, err
	}
	if out.Token == "" {
		return nil, fmt.Errorf("%w: response carried no token", domain.ErrEnrollmentRejected)
	}
	return out, nil
}

func normalizeFingerprint(fp string) string {
	return strings.ToLower(strings.TrimSpace(fp))
}

var _ Service = (*UnitService)(nil)
