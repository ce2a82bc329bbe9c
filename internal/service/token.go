package service

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/oxygenesis/enrollment/internal/domain"
)

// tokenExpiry reads the expiry of an enrollment token without verifying it;
// the unit has no way to verify the server's HMAC. pwngrid issues an RFC 3339
// "expires_at" claim, standard tokens carry "exp". Anything else falls back
// to now+ttl.
func tokenExpiry(token string, now time.Time, ttl time.Duration) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := new(jwt.Parser).ParseUnverified(token, claims); err != nil {
		return now.Add(ttl)
	}
	if raw, ok := claims["expires_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return t
		}
	}
	if exp, ok := claims["exp"].(float64); ok {
		return time.Unix(int64(exp), 0)
	}
	return now.Add(ttl)
}

func (s *UnitService) tokenPath(fingerprint string) string {
	return filepath.Join(s.tokenDir, fingerprint+".json")
}

// restoreToken loads the last enrollment response of u from the token
// directory when it still holds a valid token. Errors only get logged.
func (s *UnitService) restoreToken(u *domain.Unit) {
	if s.tokenDir == "" {
		return
	}
	path := s.tokenPath(u.Fingerprint)
	info, err := os.Stat(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warnf("error reading %s: %s", path, err)
		}
		return
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		s.logger.Warnf("error reading %s: %s", path, err)
		return
	}
	var saved struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(raw, &saved); err != nil || saved.Token == "" {
		s.logger.Warnf("error decoding %s: %v", path, err)
		return
	}

	exp := tokenExpiry(saved.Token, info.ModTime(), s.tokenTTL)
	if !s.now().Before(exp) {
		s.logger.Debugf("token in %s is expired", path)
		return
	}
	u.Token, u.TokenExpiresAt = saved.Token, &exp
	s.logger.WithField("unit", u.Identity).Debugf("loaded token from %s", path)
}

func (s *UnitService) saveToken(u *domain.Unit, raw []byte) {
	if s.tokenDir == "" {
		return
	}
	path := s.tokenPath(u.Fingerprint)
	if err := os.MkdirAll(s.tokenDir, 0o700); err != nil {
		s.logger.Warnf("error saving token to %s: %s", path, err)
		return
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		s.logger.Warnf("error saving token to %s: %s", path, err)
	}
}
