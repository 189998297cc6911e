// Package auth issues and checks the two kinds of HS256 tokens the server
// deals with: sender tokens (who is uploading) and download grants (which
// share a confirmed downloader may fetch).
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/sharedrop/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

const grantSubject = "download"

// Claims carries the sender identity. Tokens are minted by the identity
// service that shares our secret; GenerateToken exists for tools and tests.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

// GrantClaims binds a download grant to one share token.
type GrantClaims struct {
	jwt.RegisteredClaims
	ShareToken string `json:"share"`
}

func GenerateToken(email string, secretKey []byte, validity time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(validity)),
		},
		Email: email,
	})
	return token.SignedString(secretKey)
}

// ParseSender returns the sender email carried by tokenString.
func ParseSender(tokenString string, secretKey []byte) (string, error) {
	claims := &Claims{}
	if err := parse(tokenString, claims, secretKey); err != nil {
		return "", err
	}
	if claims.Email == "" {
		return "", common.ErrInvalidToken
	}
	return claims.Email, nil
}

func GenerateGrant(shareToken string, secretKey []byte, validity time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, GrantClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   grantSubject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(validity)),
		},
		ShareToken: shareToken,
	})
	return token.SignedString(secretKey)
}

// ParseGrant checks that grant is valid for shareToken.
func ParseGrant(grant, shareToken string, secretKey []byte) error {
	claims := &GrantClaims{}
	if err := parse(grant, claims, secretKey); err != nil {
		return err
	}
	if claims.Subject != grantSubject || claims.ShareToken != shareToken {
		return common.ErrInvalidToken
	}
	return nil
}

func parse(tokenString string, claims jwt.Claims, secretKey []byte) error {
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secretKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return fmt.Errorf("%w: expired", common.ErrInvalidToken)
		}
		return fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
	}
	if !token.Valid {
		return common.ErrInvalidToken
	}
	return nil
}
