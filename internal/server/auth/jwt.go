// Package auth mints and verifies the signed credentials used by the session
// layer: short-lived access tokens, longer-lived refresh tokens carrying a
// unique token id, and purpose-scoped password reset tokens. All tokens are
// HS256 JWTs; verification is stateless, revocation checks live elsewhere.
package auth

import (
	"errors"
	"time"

	"github.com/dmitrijs2005/webchat/internal/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims includes the standard registered claims plus the user id the token
// was issued for. Refresh tokens also populate RegisteredClaims.ID (jti);
// password reset tokens set Purpose so they cannot pass as access tokens.
type Claims struct {
	jwt.RegisteredClaims
	UserID  string `json:"uid"`
	Purpose string `json:"purpose,omitempty"`
}

const purposePasswordReset = "password_reset"

func sign(claims Claims, secretKey []byte) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secretKey)
}

func parse(tokenString string, secretKey []byte) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secretKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.ErrTokenExpired
		}
		return nil, common.ErrInvalidToken
	}
	if !token.Valid {
		return nil, common.ErrInvalidToken
	}
	return claims, nil
}

// GenerateAccessToken mints a short-lived access token for userID.
func GenerateAccessToken(userID string, secretKey []byte, validity time.Duration) (string, error) {
	return sign(Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validity)),
		},
		UserID: userID,
	}, secretKey)
}

// GenerateRefreshToken mints a refresh token for userID and returns both the
// signed token and its unique token id (jti). The jti is what the revocation
// list stores.
func GenerateRefreshToken(userID string, secretKey []byte, validity time.Duration) (token string, tokenID string, err error) {
	tokenID = uuid.NewString()
	token, err = sign(Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tokenID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validity)),
		},
		UserID: userID,
	}, secretKey)
	if err != nil {
		return "", "", err
	}
	return token, tokenID, nil
}

// GeneratePasswordResetToken mints a purpose-scoped token for the reset-link
// email. It never grants session access.
func GeneratePasswordResetToken(userID string, secretKey []byte, validity time.Duration) (string, error) {
	return sign(Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validity)),
		},
		UserID:  userID,
		Purpose: purposePasswordReset,
	}, secretKey)
}

// GetUserIDFromToken verifies an access token and returns its subject user id.
// Expired tokens yield common.ErrTokenExpired, anything else malformed yields
// common.ErrInvalidToken.
func GetUserIDFromToken(tokenString string, secretKey []byte) (string, error) {
	claims, err := parse(tokenString, secretKey)
	if err != nil {
		return "", err
	}
	if claims.Purpose != "" {
		return "", common.ErrInvalidToken
	}
	return claims.UserID, nil
}

// ParseRefreshToken verifies a refresh token and returns its subject user id
// and token id. Tokens without a jti are rejected: they are access tokens.
func ParseRefreshToken(tokenString string, secretKey []byte) (userID string, tokenID string, err error) {
	claims, err := parse(tokenString, secretKey)
	if err != nil {
		if errors.Is(err, common.ErrTokenExpired) {
			return "", "", common.ErrRefreshTokenExpired
		}
		return "", "", err
	}
	if claims.ID == "" || claims.Purpose != "" {
		return "", "", common.ErrInvalidToken
	}
	return claims.UserID, claims.ID, nil
}

// ParsePasswordResetToken verifies a reset token and returns its subject.
func ParsePasswordResetToken(tokenString string, secretKey []byte) (string, error) {
	claims, err := parse(tokenString, secretKey)
	if err != nil {
		return "", err
	}
	if claims.Purpose != purposePasswordReset {
		return "", common.ErrInvalidToken
	}
	return claims.UserID, nil
}
