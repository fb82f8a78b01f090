// Package revokedtokens declares the repository contract for the refresh-token
// revocation list. A refresh token's unique id (jti) lands here when the token
// is rotated away or the user logs out; a revoked id must never mint another
// access token.
package revokedtokens

import (
	"context"
	"time"
)

// Repository defines operations over the revocation list.
type Repository interface {
	// Revoke inserts tokenID into the list. The primary key on token_id makes
	// the insert the winner-picker for concurrent rotations: the second caller
	// gets common.ErrRefreshTokenRevoked.
	Revoke(ctx context.Context, tokenID string, userID string, expiresAt time.Time) error

	// PurgeExpired removes rows whose underlying tokens expired before now;
	// they can no longer verify, so keeping them is pointless.
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}
