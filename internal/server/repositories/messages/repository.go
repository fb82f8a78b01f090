// Package messages declares the repository contract for conversation messages
// and per-user read marks.
package messages

import (
	"context"

	"github.com/dmitrijs2005/webchat/internal/server/models"
)

// Repository defines persistence operations over messages and read marks.
// Read-mark inserts are idempotent: duplicate attempts resolve to no-op.
type Repository interface {
	Create(ctx context.Context, conversationID, senderID, content string) (*models.Message, error)

	// ListByConversation returns all messages ordered by creation time
	// ascending, insertion order breaking ties.
	ListByConversation(ctx context.Context, conversationID string) ([]*models.Message, error)

	// MarkRead records that userID has observed messageID. Reports whether a
	// new mark was inserted.
	MarkRead(ctx context.Context, messageID int64, userID string) (bool, error)

	// MarkConversationRead bulk-marks every message in the conversation that
	// userID did not send and has not yet marked. Returns the number of new
	// marks.
	MarkConversationRead(ctx context.Context, conversationID, userID string) (int64, error)

	// CountUnread counts the conversation's messages from the other side that
	// userID has not marked yet.
	CountUnread(ctx context.Context, conversationID, userID string) (int64, error)
}
