// Package auth carries the identity of the caller saving items: JWT claims
// listing the libraries the user may write, and the edit check run before
// every save.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/refstore/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// Claims is the standard claim set plus the user id and writable libraries.
type Claims struct {
	jwt.RegisteredClaims
	UserID            int64   `json:"uid"`
	WritableLibraries []int64 `json:"libs,omitempty"`
}

// CanWrite reports whether libraryID is among the writable libraries.
func (c *Claims) CanWrite(libraryID int64) bool {
	for _, id := range c.WritableLibraries {
		if id == libraryID {
			return true
		}
	}
	return false
}

func GenerateToken(userID int64, libraries []int64, secretKey []byte, validityDuration time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validityDuration)),
		},
		UserID:            userID,
		WritableLibraries: libraries,
	})

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// ParseToken verifies tokenString. Every failure matches common.ErrInvalidToken;
// expiry additionally matches jwt.ErrTokenExpired.
func ParseToken(tokenString string, secretKey []byte) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, errors.Join(common.ErrInvalidToken, err)
	}

	if !token.Valid {
		return nil, common.ErrInvalidToken
	}

	return claims, nil
}
