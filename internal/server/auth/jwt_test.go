package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/webchat/internal/common"
)

func TestGenerateAndParseAccessToken(t *testing.T) {
	t.Parallel()

	secret := []byte("super-secret")
	userID := "user-123"

	tok, err := GenerateAccessToken(userID, secret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateAccessToken error: %v", err)
	}

	gotUserID, err := GetUserIDFromToken(tok, secret)
	if err != nil {
		t.Fatalf("GetUserIDFromToken error: %v", err)
	}
	if gotUserID != userID {
		t.Fatalf("userID mismatch: got %q want %q", gotUserID, userID)
	}
}

func TestGetUserIDFromToken_Expired(t *testing.T) {
	t.Parallel()

	tok, err := GenerateAccessToken("u1", []byte("secret"), -1*time.Second)
	if err != nil {
		t.Fatalf("GenerateAccessToken error: %v", err)
	}

	_, err = GetUserIDFromToken(tok, []byte("secret"))
	if !errors.Is(err, common.ErrTokenExpired) {
		t.Fatalf("expected common.ErrTokenExpired, got %v", err)
	}
}

func TestGetUserIDFromToken_WrongSecret(t *testing.T) {
	t.Parallel()

	tok, err := GenerateAccessToken("u2", []byte("right-secret"), time.Hour)
	if err != nil {
		t.Fatalf("GenerateAccessToken error: %v", err)
	}

	if _, err := GetUserIDFromToken(tok, []byte("wrong-secret")); err == nil {
		t.Fatalf("expected error for invalid signature, got nil")
	}
}

func TestGetUserIDFromToken_MalformedString(t *testing.T) {
	t.Parallel()

	if _, err := GetUserIDFromToken("not.a.jwt", []byte("k")); err == nil {
		t.Fatalf("expected error for malformed token, got nil")
	}
}

func TestRefreshToken_RoundTrip(t *testing.T) {
	t.Parallel()

	secret := []byte("secret")
	tok, jti, err := GenerateRefreshToken("u3", secret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateRefreshToken error: %v", err)
	}
	if jti == "" {
		t.Fatalf("expected non-empty token id")
	}

	userID, gotJTI, err := ParseRefreshToken(tok, secret)
	if err != nil {
		t.Fatalf("ParseRefreshToken error: %v", err)
	}
	if userID != "u3" || gotJTI != jti {
		t.Fatalf("claims mismatch: got (%q,%q) want (%q,%q)", userID, gotJTI, "u3", jti)
	}
}

func TestRefreshToken_Expired(t *testing.T) {
	t.Parallel()

	tok, _, err := GenerateRefreshToken("u4", []byte("secret"), -1*time.Second)
	if err != nil {
		t.Fatalf("GenerateRefreshToken error: %v", err)
	}

	_, _, err = ParseRefreshToken(tok, []byte("secret"))
	if !errors.Is(err, common.ErrRefreshTokenExpired) {
		t.Fatalf("expected common.ErrRefreshTokenExpired, got %v", err)
	}
}

func TestParseRefreshToken_RejectsAccessToken(t *testing.T) {
	t.Parallel()

	// Access tokens have no jti, so they must not pass as refresh tokens.
	tok, err := GenerateAccessToken("u5", []byte("secret"), time.Hour)
	if err != nil {
		t.Fatalf("GenerateAccessToken error: %v", err)
	}

	if _, _, err := ParseRefreshToken(tok, []byte("secret")); !errors.Is(err, common.ErrInvalidToken) {
		t.Fatalf("expected common.ErrInvalidToken, got %v", err)
	}
}

func TestPasswordResetToken_NotValidForSessions(t *testing.T) {
	t.Parallel()

	secret := []byte("secret")
	tok, err := GeneratePasswordResetToken("u6", secret, time.Hour)
	if err != nil {
		t.Fatalf("GeneratePasswordResetToken error: %v", err)
	}

	if _, err := GetUserIDFromToken(tok, secret); !errors.Is(err, common.ErrInvalidToken) {
		t.Fatalf("reset token must not verify as access token, got %v", err)
	}

	userID, err := ParsePasswordResetToken(tok, secret)
	if err != nil {
		t.Fatalf("ParsePasswordResetToken error: %v", err)
	}
	if userID != "u6" {
		t.Fatalf("userID mismatch: got %q", userID)
	}
}
