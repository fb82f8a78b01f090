// Package users declares the repository contract for identity storage.
package users

import (
	"context"

	"github.com/dmitrijs2005/webchat/internal/server/models"
)

// Repository defines persistence operations over identities. Lookup methods
// return common.ErrorNotFound when no row matches; Create surfaces unique
// constraint violations as ErrUserNameTaken / ErrEmailTaken.
type Repository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByUserName(ctx context.Context, userName string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	ExistsByUserName(ctx context.Context, userName string) (bool, error)
	UpdatePassword(ctx context.Context, userID string, passwordHash string) error
	Search(ctx context.Context, query string, excludeID string, limit int) ([]*models.User, error)
}
