// Package apitoken verifies the single shared bearer token against its
// bcrypt hash. Single-user deployments either set a hash or run open.
package apitoken

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidToken = errors.New("invalid api token")

type Verifier struct {
	hash string
}

// NewVerifier takes the bcrypt hash of the accepted token. An empty hash
// disables verification.
func NewVerifier(hash string) *Verifier {
	return &Verifier{hash: hash}
}

// Enabled reports whether a token is required at all.
func (v *Verifier) Enabled() bool {
	return v.hash != ""
}

// Verify checks the presented token. Always nil when verification is
// disabled.
func (v *Verifier) Verify(token string) error {
	if !v.Enabled() {
		return nil
	}
	if err := bcrypt.CompareHashAndPassword([]byte(v.hash), []byte(token)); err != nil {
		return ErrInvalidToken
	}
	return nil
}

// HashToken produces a bcrypt hash suitable for MUSE_API_TOKEN_HASH.
func HashToken(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
