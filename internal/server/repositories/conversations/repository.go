// Package conversations declares the repository contract for the chat
// directory. The unique index on the ordered participant pair is the backstop
// that keeps "at most one private conversation per unordered pair" true under
// concurrent creation.
package conversations

import (
	"context"

	"github.com/dmitrijs2005/webchat/internal/server/models"
)

// Repository defines persistence operations over conversations.
type Repository interface {
	// GetOrCreate returns the conversation for the unordered pair {a, b},
	// creating it if absent. Concurrent calls for the same pair converge on
	// one row; the reported created flag is true for the caller whose insert
	// won. Callers must reject a == b before reaching storage.
	GetOrCreate(ctx context.Context, a, b string) (conv *models.Conversation, created bool, err error)

	// GetByID returns the conversation or common.ErrorNotFound.
	GetByID(ctx context.Context, id string) (*models.Conversation, error)

	// ListByUser returns the user's conversations, most recent activity first.
	ListByUser(ctx context.Context, userID string) ([]*models.Conversation, error)
}
