package services

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/webchat/internal/common"
	"github.com/dmitrijs2005/webchat/internal/dbx"
	"github.com/dmitrijs2005/webchat/internal/logging"
	"github.com/dmitrijs2005/webchat/internal/server/models"
	"github.com/dmitrijs2005/webchat/internal/server/repositories/repomanager"
)

// ConversationSummary is a directory entry: the conversation plus the peer's
// resolved identity for display.
type ConversationSummary struct {
	ConversationID string `json:"conversation_id"`
	PeerID         string `json:"peer_id"`
	PeerUserName   string `json:"peer_username"`
	PeerFullName   string `json:"peer_full_name"`
	UnreadCount    int64  `json:"unread_count"`
}

// ChatService implements the conversation directory and message flow on top
// of the repositories. Participant checks happen here so that transports
// (HTTP and websocket) share a single authorization path.
type ChatService struct {
	db          dbx.DBTX
	repomanager repomanager.RepositoryManager
	logger      logging.Logger
}

func NewChatService(db dbx.DBTX, m repomanager.RepositoryManager, logger logging.Logger) *ChatService {
	return &ChatService{db: db, repomanager: m, logger: logger.With("module", "chat")}
}

// StartConversation returns the private conversation between the two users,
// creating it when absent. Self-conversations are rejected before storage.
func (s *ChatService) StartConversation(ctx context.Context, userID, otherID string) (*models.Conversation, error) {
	if userID == otherID {
		return nil, common.ErrSelfConversation
	}

	if _, err := s.repomanager.Users(s.db).GetByID(ctx, otherID); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorNotFound
		}
		return nil, common.ErrorInternal
	}

	conv, created, err := s.repomanager.Conversations(s.db).GetOrCreate(ctx, userID, otherID)
	if err != nil {
		return nil, common.ErrorInternal
	}
	if created {
		s.logger.Info(ctx, "conversation created", "conversation_id", conv.ID)
	}
	return conv, nil
}

// ListConversations returns the caller's conversations with peer identities
// resolved, most recent activity first.
func (s *ChatService) ListConversations(ctx context.Context, userID string) ([]*ConversationSummary, error) {
	convs, err := s.repomanager.Conversations(s.db).ListByUser(ctx, userID)
	if err != nil {
		return nil, common.ErrorInternal
	}

	users := s.repomanager.Users(s.db)
	msgs := s.repomanager.Messages(s.db)
	summaries := make([]*ConversationSummary, 0, len(convs))
	for _, conv := range convs {
		peerID := conv.Other(userID)
		peer, err := users.GetByID(ctx, peerID)
		if err != nil {
			// A deleted peer must not hide the rest of the directory.
			s.logger.Warn(ctx, "peer lookup failed", "user_id", peerID, "error", err)
			continue
		}
		unread, err := msgs.CountUnread(ctx, conv.ID, userID)
		if err != nil {
			return nil, common.ErrorInternal
		}
		summaries = append(summaries, &ConversationSummary{
			ConversationID: conv.ID,
			PeerID:         peer.ID,
			PeerUserName:   peer.UserName,
			PeerFullName:   peer.FullName(),
			UnreadCount:    unread,
		})
	}
	return summaries, nil
}

// ListMessages returns the conversation history for a participant and marks
// every message from the other side as read. Non-participants get
// common.ErrNotParticipant.
func (s *ChatService) ListMessages(ctx context.Context, conversationID, userID string) ([]*models.Message, error) {
	if err := s.requireParticipant(ctx, conversationID, userID); err != nil {
		return nil, err
	}

	msgs, err := s.repomanager.Messages(s.db).ListByConversation(ctx, conversationID)
	if err != nil {
		return nil, common.ErrorInternal
	}

	// Viewing the history is the read event.
	if _, err := s.repomanager.Messages(s.db).MarkConversationRead(ctx, conversationID, userID); err != nil {
		s.logger.Warn(ctx, "bulk read mark failed", "conversation_id", conversationID, "error", err)
	}

	return msgs, nil
}

// SendMessage persists a message from a participant.
func (s *ChatService) SendMessage(ctx context.Context, conversationID, senderID, content string) (*models.Message, error) {
	if err := s.requireParticipant(ctx, conversationID, senderID); err != nil {
		return nil, err
	}
	msg, err := s.repomanager.Messages(s.db).Create(ctx, conversationID, senderID, content)
	if err != nil {
		return nil, common.ErrorInternal
	}
	return msg, nil
}

// MarkRead records a single read mark. Repeats are no-ops.
func (s *ChatService) MarkRead(ctx context.Context, messageID int64, userID string) error {
	if _, err := s.repomanager.Messages(s.db).MarkRead(ctx, messageID, userID); err != nil {
		return common.ErrorInternal
	}
	return nil
}

// SearchUsers finds users matching the query, excluding the caller.
func (s *ChatService) SearchUsers(ctx context.Context, callerID, query string, limit int) ([]*models.User, error) {
	found, err := s.repomanager.Users(s.db).Search(ctx, query, callerID, limit)
	if err != nil {
		return nil, common.ErrorInternal
	}
	return found, nil
}

func (s *ChatService) requireParticipant(ctx context.Context, conversationID, userID string) error {
	conv, err := s.repomanager.Conversations(s.db).GetByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrorNotFound
		}
		return common.ErrorInternal
	}
	if !conv.Has(userID) {
		return common.ErrNotParticipant
	}
	return nil
}
