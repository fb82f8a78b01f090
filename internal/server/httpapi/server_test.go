package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/webchat/internal/common"
	"github.com/dmitrijs2005/webchat/internal/dbx"
	"github.com/dmitrijs2005/webchat/internal/logging"
	"github.com/dmitrijs2005/webchat/internal/server/config"
	"github.com/dmitrijs2005/webchat/internal/server/models"
	"github.com/dmitrijs2005/webchat/internal/server/otp"
	"github.com/dmitrijs2005/webchat/internal/server/repositories/conversations"
	"github.com/dmitrijs2005/webchat/internal/server/repositories/messages"
	"github.com/dmitrijs2005/webchat/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/webchat/internal/server/repositories/revokedtokens"
	"github.com/dmitrijs2005/webchat/internal/server/repositories/users"
	"github.com/dmitrijs2005/webchat/internal/server/services"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// In-memory persistence backing full request flows through the real services.

type memStore struct {
	mu      sync.Mutex
	users   map[string]*models.User
	revoked map[string]bool
	convs   map[string]*models.Conversation
	msgs    []*models.Message
	nextMsg int64
	reads   map[string]bool
}

func newMemStore() *memStore {
	return &memStore{
		users:   make(map[string]*models.User),
		revoked: make(map[string]bool),
		convs:   make(map[string]*models.Conversation),
		reads:   make(map[string]bool),
	}
}

func (s *memStore) RunMigrations(ctx context.Context, db *sql.DB) error { return nil }

func (s *memStore) Users(db dbx.DBTX) users.Repository                 { return (*memUsers)(s) }
func (s *memStore) RevokedTokens(db dbx.DBTX) revokedtokens.Repository { return (*memRevoked)(s) }
func (s *memStore) Conversations(db dbx.DBTX) conversations.Repository { return (*memConvs)(s) }
func (s *memStore) Messages(db dbx.DBTX) messages.Repository           { return (*memMsgs)(s) }

var _ repomanager.RepositoryManager = (*memStore)(nil)

type memUsers memStore

func (s *memUsers) Create(ctx context.Context, user *models.User) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
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
	s.users[saved.ID] = &saved
	copied := saved
	return &copied, nil
}

func (s *memUsers) GetByID(ctx context.Context, id string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		copied := *u
		return &copied, nil
	}
	return nil, common.ErrorNotFound
}

func (s *memUsers) GetByUserName(ctx context.Context, userName string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.UserName == userName {
			copied := *u
			return &copied, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (s *memUsers) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			copied := *u
			return &copied, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (s *memUsers) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	_, err := s.GetByEmail(ctx, email)
	return err == nil, nil
}

func (s *memUsers) ExistsByUserName(ctx context.Context, userName string) (bool, error) {
	_, err := s.GetByUserName(ctx, userName)
	return err == nil, nil
}

func (s *memUsers) UpdatePassword(ctx context.Context, userID string, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return common.ErrorNotFound
	}
	u.PasswordHash = passwordHash
	return nil
}

func (s *memUsers) Search(ctx context.Context, query string, excludeID string, limit int) ([]*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found []*models.User
	for _, u := range s.users {
		if u.ID == excludeID {
			continue
		}
		if strings.Contains(strings.ToLower(u.UserName), strings.ToLower(query)) {
			copied := *u
			found = append(found, &copied)
		}
	}
	if limit > 0 && len(found) > limit {
		found = found[:limit]
	}
	return found, nil
}

type memRevoked memStore

func (s *memRevoked) Revoke(ctx context.Context, tokenID string, userID string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.revoked[tokenID] {
		return common.ErrRefreshTokenRevoked
	}
	s.revoked[tokenID] = true
	return nil
}

func (s *memRevoked) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

type memConvs memStore

func (s *memConvs) GetOrCreate(ctx context.Context, a, b string) (*models.Conversation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	low, high := models.OrderPair(a, b)
	for _, c := range s.convs {
		if c.UserLow == low && c.UserHigh == high {
			copied := *c
			return &copied, false, nil
		}
	}
	conv := &models.Conversation{ID: uuid.NewString(), UserLow: low, UserHigh: high, CreatedAt: time.Now()}
	s.convs[conv.ID] = conv
	copied := *conv
	return &copied, true, nil
}

func (s *memConvs) GetByID(ctx context.Context, id string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.convs[id]; ok {
		copied := *c
		return &copied, nil
	}
	return nil, common.ErrorNotFound
}

func (s *memConvs) ListByUser(ctx context.Context, userID string) ([]*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found []*models.Conversation
	for _, c := range s.convs {
		if c.Has(userID) {
			copied := *c
			found = append(found, &copied)
		}
	}
	return found, nil
}

type memMsgs memStore

func (s *memMsgs) Create(ctx context.Context, conversationID, senderID, content string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextMsg++
	msg := &models.Message{
		ID:             s.nextMsg,
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      time.Now(),
	}
	s.msgs = append(s.msgs, msg)
	copied := *msg
	return &copied, nil
}

func (s *memMsgs) ListByConversation(ctx context.Context, conversationID string) ([]*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found []*models.Message
	for _, m := range s.msgs {
		if m.ConversationID == conversationID {
			copied := *m
			found = append(found, &copied)
		}
	}
	return found, nil
}

func (s *memMsgs) MarkRead(ctx context.Context, messageID int64, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := fmt.Sprintf("%s/%d", userID, messageID)
	if s.reads[key] {
		return false, nil
	}
	s.reads[key] = true
	return true, nil
}

func (s *memMsgs) MarkConversationRead(ctx context.Context, conversationID, userID string) (int64, error) {
	return 0, nil
}

func (s *memMsgs) CountUnread(ctx context.Context, conversationID, userID string) (int64, error) {
	return 0, nil
}

type capturingSender struct {
	mu    sync.Mutex
	codes map[string]string
}

func (c *capturingSender) SendOTP(ctx context.Context, email, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.codes == nil {
		c.codes = make(map[string]string)
	}
	c.codes[email] = code
	return nil
}

func (c *capturingSender) SendWelcome(ctx context.Context, email string)     {}
func (c *capturingSender) SendWelcomeBack(ctx context.Context, email string) {}
func (c *capturingSender) SendPasswordReset(ctx context.Context, email, userName, resetURL string) {
}

func (c *capturingSender) code(email string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.codes[email]
}

type testEnv struct {
	ts     *httptest.Server
	sender *capturingSender
	store  *memStore
	cfg    *config.Config
	users  *services.UserService
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWith(t, func(*config.Config) {})
}

// newTestEnvWith lets a test tweak the config before the server is built,
// e.g. to shorten token lifetimes.
func newTestEnvWith(t *testing.T, tweak func(*config.Config)) *testEnv {
	t.Helper()

	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(io.Discard, nil)))
	store := newMemStore()
	sender := &capturingSender{}
	otpStore := otp.NewMemoryStore()
	wf := otp.NewWorkflow(otpStore, store.Users(nil), sender, logger, 300*time.Second, 0)

	cfg := &config.Config{
		SecretKey:                    "test-secret",
		AccessTokenValidityDuration:  5 * time.Minute,
		RefreshTokenValidityDuration: 7 * 24 * time.Hour,
		BaseURL:                      "http://localhost:8080",
		DevMode:                      true,
	}
	tweak(cfg)

	userSvc := services.NewUserService(nil, store, wf, sender, logger, cfg)
	chatSvc := services.NewChatService(nil, store, logger)
	srv := NewServer(userSvc, chatSvc, wf, logger, cfg)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{ts: ts, sender: sender, store: store, cfg: cfg, users: userSvc}
}

// registerUser runs the full OTP and registration flow for a fresh account.
func (e *testEnv) registerUser(t *testing.T, userName, email, password string) {
	t.Helper()

	resp := e.postForm(t, nil, "/otp/request", url.Values{"email": {email}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	code := e.sender.code(strings.ToLower(email))
	require.NotEmpty(t, code)

	resp = e.postForm(t, nil, "/register", url.Values{
		"username":         {userName},
		"email":            {email},
		"password":         {password},
		"confirm_password": {password},
		"otp":              {code},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()
}

// loginClient returns an http.Client with a cookie jar holding a fresh
// session for the user.
func (e *testEnv) loginClient(t *testing.T, identifier, password string) *http.Client {
	t.Helper()

	client := newCookieClient(t)
	resp := e.postForm(t, client, "/login", url.Values{
		"username": {identifier},
		"password": {password},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	return client
}

func (e *testEnv) postForm(t *testing.T, client *http.Client, path string, values url.Values) *http.Response {
	t.Helper()
	if client == nil {
		client = e.ts.Client()
	}
	resp, err := client.PostForm(e.ts.URL+path, values)
	require.NoError(t, err)
	return resp
}

func (e *testEnv) get(t *testing.T, client *http.Client, path string) *http.Response {
	t.Helper()
	if client == nil {
		client = e.ts.Client()
	}
	resp, err := client.Get(e.ts.URL + path)
	require.NoError(t, err)
	return resp
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func newCookieClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}
