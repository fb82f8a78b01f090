package services

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/webchat/internal/common"
	"github.com/dmitrijs2005/webchat/internal/dbx"
	"github.com/dmitrijs2005/webchat/internal/logging"
	"github.com/dmitrijs2005/webchat/internal/server/models"
	"github.com/dmitrijs2005/webchat/internal/server/repositories/conversations"
	"github.com/dmitrijs2005/webchat/internal/server/repositories/messages"
	"github.com/dmitrijs2005/webchat/internal/server/repositories/revokedtokens"
	"github.com/dmitrijs2005/webchat/internal/server/repositories/users"
	"github.com/google/uuid"
)

// In-memory repository doubles mirroring the PostgreSQL unique-index
// behavior, so service tests exercise the same error paths.

type fakeUsers struct {
	mu    sync.Mutex
	byID  map[string]*models.User
	errOn string
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{byID: make(map[string]*models.User)}
}

func (f *fakeUsers) Create(ctx context.Context, user *models.User) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.byID {
		if u.UserName == user.UserName {
			return nil, users.ErrUserNameTaken
		}
		if u.Email == user.Email {
			return nil, users.ErrEmailTaken
		}
	}
	saved := *user
	saved.ID = uuid.NewString()
	saved.CreatedAt = time.Now()
	f.byID[saved.ID] = &saved
	return &saved, nil
}

func (f *fakeUsers) GetByID(ctx context.Context, id string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.byID[id]; ok {
		copied := *u
		return &copied, nil
	}
	return nil, common.ErrorNotFound
}

func (f *fakeUsers) GetByUserName(ctx context.Context, userName string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.byID {
		if u.UserName == userName {
			copied := *u
			return &copied, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeUsers) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.byID {
		if u.Email == email {
			copied := *u
			return &copied, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeUsers) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	if f.errOn == "ExistsByEmail" {
		return false, common.ErrorInternal
	}
	_, err := f.GetByEmail(ctx, email)
	if err == nil {
		return true, nil
	}
	return false, nil
}

func (f *fakeUsers) ExistsByUserName(ctx context.Context, userName string) (bool, error) {
	if f.errOn == "ExistsByUserName" {
		return false, common.ErrorInternal
	}
	_, err := f.GetByUserName(ctx, userName)
	if err == nil {
		return true, nil
	}
	return false, nil
}

func (f *fakeUsers) UpdatePassword(ctx context.Context, userID string, passwordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[userID]
	if !ok {
		return common.ErrorNotFound
	}
	u.PasswordHash = passwordHash
	return nil
}

func (f *fakeUsers) Search(ctx context.Context, query string, excludeID string, limit int) ([]*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var found []*models.User
	for _, u := range f.byID {
		if u.ID == excludeID {
			continue
		}
		if strings.Contains(strings.ToLower(u.UserName), strings.ToLower(query)) {
			copied := *u
			found = append(found, &copied)
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].UserName < found[j].UserName })
	if limit > 0 && len(found) > limit {
		found = found[:limit]
	}
	return found, nil
}

type fakeRevokedTokens struct {
	mu      sync.Mutex
	revoked map[string]bool
}

func newFakeRevokedTokens() *fakeRevokedTokens {
	return &fakeRevokedTokens{revoked: make(map[string]bool)}
}

func (f *fakeRevokedTokens) Revoke(ctx context.Context, tokenID string, userID string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.revoked[tokenID] {
		return common.ErrRefreshTokenRevoked
	}
	f.revoked[tokenID] = true
	return nil
}

func (f *fakeRevokedTokens) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

type fakeConversations struct {
	mu   sync.Mutex
	byID map[string]*models.Conversation
}

func newFakeConversations() *fakeConversations {
	return &fakeConversations{byID: make(map[string]*models.Conversation)}
}

func (f *fakeConversations) GetOrCreate(ctx context.Context, a, b string) (*models.Conversation, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	low, high := models.OrderPair(a, b)
	for _, c := range f.byID {
		if c.UserLow == low && c.UserHigh == high {
			copied := *c
			return &copied, false, nil
		}
	}
	conv := &models.Conversation{
		ID:        uuid.NewString(),
		UserLow:   low,
		UserHigh:  high,
		CreatedAt: time.Now(),
	}
	f.byID[conv.ID] = conv
	copied := *conv
	return &copied, true, nil
}

func (f *fakeConversations) GetByID(ctx context.Context, id string) (*models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.byID[id]; ok {
		copied := *c
		return &copied, nil
	}
	return nil, common.ErrorNotFound
}

func (f *fakeConversations) ListByUser(ctx context.Context, userID string) ([]*models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var found []*models.Conversation
	for _, c := range f.byID {
		if c.Has(userID) {
			copied := *c
			found = append(found, &copied)
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].CreatedAt.After(found[j].CreatedAt) })
	return found, nil
}

type fakeMessages struct {
	mu     sync.Mutex
	nextID int64
	msgs   []*models.Message
	reads  map[string]bool
}

func newFakeMessages() *fakeMessages {
	return &fakeMessages{reads: make(map[string]bool)}
}

func (f *fakeMessages) Create(ctx context.Context, conversationID, senderID, content string) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	msg := &models.Message{
		ID:             f.nextID,
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      time.Now(),
	}
	f.msgs = append(f.msgs, msg)
	copied := *msg
	return &copied, nil
}

func (f *fakeMessages) ListByConversation(ctx context.Context, conversationID string) ([]*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var found []*models.Message
	for _, m := range f.msgs {
		if m.ConversationID == conversationID {
			copied := *m
			found = append(found, &copied)
		}
	}
	return found, nil
}

func (f *fakeMessages) MarkRead(ctx context.Context, messageID int64, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := fmt.Sprintf("%d/%s", messageID, userID)
	if f.reads[key] {
		return false, nil
	}
	f.reads[key] = true
	return true, nil
}

func (f *fakeMessages) CountUnread(ctx context.Context, conversationID, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for _, m := range f.msgs {
		if m.ConversationID != conversationID || m.SenderID == userID {
			continue
		}
		if !f.reads[fmt.Sprintf("%d/%s", m.ID, userID)] {
			count++
		}
	}
	return count, nil
}

func (f *fakeMessages) MarkConversationRead(ctx context.Context, conversationID, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var marked int64
	for _, m := range f.msgs {
		if m.ConversationID != conversationID || m.SenderID == userID {
			continue
		}
		key := fmt.Sprintf("%d/%s", m.ID, userID)
		if !f.reads[key] {
			f.reads[key] = true
			marked++
		}
	}
	return marked, nil
}

type fakeRepoManager struct {
	users         *fakeUsers
	revokedTokens *fakeRevokedTokens
	conversations *fakeConversations
	messages      *fakeMessages
}

func newFakeRepoManager() *fakeRepoManager {
	return &fakeRepoManager{
		users:         newFakeUsers(),
		revokedTokens: newFakeRevokedTokens(),
		conversations: newFakeConversations(),
		messages:      newFakeMessages(),
	}
}

func (m *fakeRepoManager) RunMigrations(ctx context.Context, db *sql.DB) error { return nil }

func (m *fakeRepoManager) Users(db dbx.DBTX) users.Repository { return m.users }

func (m *fakeRepoManager) RevokedTokens(db dbx.DBTX) revokedtokens.Repository {
	return m.revokedTokens
}

func (m *fakeRepoManager) Conversations(db dbx.DBTX) conversations.Repository {
	return m.conversations
}

func (m *fakeRepoManager) Messages(db dbx.DBTX) messages.Repository { return m.messages }

// fakeNotifier records every notification synchronously.
type fakeNotifier struct {
	mu        sync.Mutex
	otps      []string
	welcomes  []string
	returns   []string
	resetURLs []string
}

func (f *fakeNotifier) SendOTP(ctx context.Context, email, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.otps = append(f.otps, email+":"+code)
	return nil
}

func (f *fakeNotifier) SendWelcome(ctx context.Context, email string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.welcomes = append(f.welcomes, email)
}

func (f *fakeNotifier) SendWelcomeBack(ctx context.Context, email string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.returns = append(f.returns, email)
}

func (f *fakeNotifier) SendPasswordReset(ctx context.Context, email, userName, resetURL string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resetURLs = append(f.resetURLs, resetURL)
}

func discardLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewJSONHandler(io.Discard, nil)))
}
