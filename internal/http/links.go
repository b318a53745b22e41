package http

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var errInvalidLink = errors.New("invalid or expired download link")

type fileClaims struct {
	File string `json:"file"`
	jwt.RegisteredClaims
}

// LinkSigner issues expiring tokens that authorise one file download. A
// signer with an empty secret issues nothing and accepts every request.
type LinkSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewLinkSigner(secret string, ttl time.Duration) *LinkSigner {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &LinkSigner{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (s *LinkSigner) Enabled() bool {
	return s != nil && len(s.secret) > 0
}

// Sign returns a token bound to the job and file name.
func (s *LinkSigner) Sign(jobID, file string) (string, error) {
	if !s.Enabled() {
		return "", nil
	}
	now := s.now()
	claims := fileClaims{
		File: file,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   jobID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign download link: %w", err)
	}
	return token, nil
}

// Verify checks that token was issued for jobID and file and has not expired.
func (s *LinkSigner) Verify(token, jobID, file string) error {
	if !s.Enabled() {
		return nil
	}
	if token == "" {
		return errInvalidLink
	}

	var claims fileClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return fmt.Errorf("%w: %v", errInvalidLink, err)
	}
	if claims.File != file || claims.Subject != jobID {
		return errInvalidLink
	}
	return nil
}
