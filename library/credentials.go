package library

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// CredentialVerifier hashes and checks passwords. Verify returns (false, nil) on a
// plain mismatch; any other failure is an error and must not be read as a mismatch.
type CredentialVerifier interface {
	Hash(password string) (string, error)
	Verify(password, digest string) (bool, error)
}

// BcryptVerifier implements CredentialVerifier with bcrypt.
type BcryptVerifier struct {
	Cost int
}

func (v BcryptVerifier) Hash(password string) (string, error) {
	cost := v.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	digest, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(digest), nil
}

func (v BcryptVerifier) Verify(password, digest string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(digest), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, err
	}
}
