// Package cryptox holds the secrets used by transfers: share tokens and
// salted password verifiers.
package cryptox

import (
	"errors"

	"github.com/dmitrijs2005/sharedrop/internal/common"
	"golang.org/x/crypto/bcrypt"
)

// ShareTokenBytes is the entropy of a share token (256 bits).
const ShareTokenBytes = 32

// PasswordCost is the bcrypt work factor for transfer passwords.
var PasswordCost = bcrypt.DefaultCost

// NewShareToken returns a fresh unguessable share token, hex encoded.
func NewShareToken() (string, error) {
	return common.MakeRandHexString(ShareTokenBytes)
}

// HashPassword returns a salted verifier for password. The plaintext is never
// stored anywhere.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("empty password")
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), PasswordCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// VerifyPassword reports whether password matches the stored verifier.
// A missing verifier never matches.
func VerifyPassword(verifier, password string) bool {
	if verifier == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(verifier), []byte(password)) == nil
}
