// Package httpapi exposes the authentication and chat operations over HTTP
// and websocket. Identity rides in a pair of HttpOnly cookies; the session
// middleware refreshes the pair transparently when the access token expires.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrijs2005/webchat/internal/common"
	"github.com/dmitrijs2005/webchat/internal/logging"
	"github.com/dmitrijs2005/webchat/internal/server/config"
	"github.com/dmitrijs2005/webchat/internal/server/models"
	"github.com/dmitrijs2005/webchat/internal/server/otp"
	"github.com/dmitrijs2005/webchat/internal/server/services"
)

const searchResultLimit = 10

// Server routes HTTP and websocket traffic to the services.
type Server struct {
	users  *services.UserService
	chat   *services.ChatService
	otp    *otp.Workflow
	hub    *hub
	logger logging.Logger

	devMode              bool
	refreshTokenValidity time.Duration
}

func NewServer(users *services.UserService, chat *services.ChatService, wf *otp.Workflow, logger logging.Logger, cfg *config.Config) *Server {
	return &Server{
		users:                users,
		chat:                 chat,
		otp:                  wf,
		hub:                  newHub(),
		logger:               logger.With("module", "httpapi"),
		devMode:              cfg.DevMode,
		refreshTokenValidity: cfg.RefreshTokenValidityDuration,
	}
}

// Handler builds the route table wrapped in the session middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /otp/request", s.handleOTPRequest)
	mux.HandleFunc("POST /register", s.handleRegister)
	mux.HandleFunc("POST /login", s.handleLogin)
	mux.HandleFunc("POST /logout", s.handleLogout)
	mux.HandleFunc("POST /password/reset/request", s.handlePasswordResetRequest)
	mux.HandleFunc("POST /password/reset/confirm", s.handlePasswordResetConfirm)

	mux.HandleFunc("GET /chat/start/{id}", s.requireAuth(s.handleStartConversation))
	mux.HandleFunc("POST /chat/start/{id}", s.requireAuth(s.handleStartConversation))
	mux.HandleFunc("GET /chat/conversations", s.requireAuth(s.handleListConversations))
	mux.HandleFunc("GET /chat/conversations/{id}/messages", s.requireAuth(s.handleListMessages))
	mux.HandleFunc("GET /chat/users/search", s.requireAuth(s.handleSearchUsers))

	// The websocket endpoint sits outside the session middleware: its
	// identity binds once at handshake time, and a stale cookie must yield
	// an anonymous connection rather than a rejected upgrade.
	root := http.NewServeMux()
	root.Handle("GET /ws", s.websocketHandler())
	root.Handle("/", s.session(mux))
	return root
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeMessage(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusOK, map[string]string{"message": msg})
}

// decodeForm reads fields from either a JSON body or form data, so browser
// forms and API clients hit the same handlers.
func decodeForm(r *http.Request) (map[string]string, error) {
	values := make(map[string]string)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&values); err != nil {
			return nil, err
		}
		return values, nil
	}
	if err := r.ParseForm(); err != nil {
		return nil, err
	}
	for key := range r.PostForm {
		values[key] = r.PostForm.Get(key)
	}
	return values, nil
}

func (s *Server) handleOTPRequest(w http.ResponseWriter, r *http.Request) {
	form, err := decodeForm(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed request")
		return
	}

	email := form["email"]
	if strings.TrimSpace(email) == "" {
		writeError(w, http.StatusBadRequest, "Email is required")
		return
	}

	delivered, err := s.otp.RequestCode(r.Context(), email)
	switch {
	case errors.Is(err, otp.ErrAlreadyRegistered):
		writeError(w, http.StatusBadRequest, "Email already registered")
		return
	case errors.Is(err, otp.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "Please wait before requesting another code")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if !delivered {
		// The code was stored; only delivery failed. The user may retry.
		writeMessage(w, "Email failed to send!")
		return
	}
	writeMessage(w, "OTP sent")
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	form, err := decodeForm(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed request")
		return
	}

	user, err := s.users.Register(r.Context(), services.RegisterInput{
		UserName:        form["username"],
		Email:           form["email"],
		Password:        form["password"],
		ConfirmPassword: form["confirm_password"],
		OTP:             form["otp"],
	})
	if err != nil {
		var verrs services.ValidationErrors
		if errors.As(err, &verrs) {
			writeJSON(w, http.StatusBadRequest, map[string]any{"errors": verrs})
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.logger.Info(r.Context(), "user registered", "user_id", user.ID)
	writeJSON(w, http.StatusCreated, map[string]string{
		"id":       user.ID,
		"username": user.UserName,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	form, err := decodeForm(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed request")
		return
	}

	user, pair, err := s.users.Login(r.Context(), form["username"], form["password"])
	if err != nil {
		if errors.Is(err, common.ErrInvalidLoginPassword) {
			writeError(w, http.StatusUnauthorized, "Invalid username/email or password")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.setAuthCookies(w, pair)
	writeJSON(w, http.StatusOK, map[string]string{
		"id":       user.ID,
		"username": user.UserName,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if refresh, err := r.Cookie(refreshCookieName); err == nil {
		s.users.Logout(r.Context(), refresh.Value)
	}
	s.clearAuthCookies(w)
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (s *Server) handlePasswordResetRequest(w http.ResponseWriter, r *http.Request) {
	form, err := decodeForm(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed request")
		return
	}
	if strings.TrimSpace(form["email"]) == "" {
		writeError(w, http.StatusBadRequest, "Email is required")
		return
	}

	// The response never reveals whether the address is registered.
	s.users.RequestPasswordReset(r.Context(), form["email"])
	writeMessage(w, "If an account exists for that email, a reset link has been sent.")
}

func (s *Server) handlePasswordResetConfirm(w http.ResponseWriter, r *http.Request) {
	form, err := decodeForm(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed request")
		return
	}

	err = s.users.ConfirmPasswordReset(r.Context(), form["token"], form["password"], form["confirm_password"])
	if err != nil {
		var verrs services.ValidationErrors
		switch {
		case errors.As(err, &verrs):
			writeJSON(w, http.StatusBadRequest, map[string]any{"errors": verrs})
		case errors.Is(err, common.ErrInvalidToken):
			writeError(w, http.StatusBadRequest, "Invalid or expired reset link")
		default:
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeMessage(w, "Password has been reset")
}

func (s *Server) handleStartConversation(w http.ResponseWriter, r *http.Request) {
	user := principalFrom(r.Context())
	otherID := r.PathValue("id")

	conv, err := s.chat.StartConversation(r.Context(), user.ID, otherID)
	if err != nil {
		switch {
		case errors.Is(err, common.ErrSelfConversation):
			writeError(w, http.StatusBadRequest, "cannot start a conversation with yourself")
		case errors.Is(err, common.ErrorNotFound):
			writeError(w, http.StatusNotFound, "user not found")
		default:
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	if r.Method == http.MethodGet {
		http.Redirect(w, r, "/chat/conversations/"+conv.ID+"/messages", http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"conversation_id": conv.ID})
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	user := principalFrom(r.Context())

	summaries, err := s.chat.ListConversations(r.Context(), user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": summaries})
}

// messageView is the wire shape of a message. Sender carries the
// username; sender_id rides along for clients that key on IDs.
type messageView struct {
	ID        int64     `json:"id"`
	SenderID  string    `json:"sender_id"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	IsOwn     bool      `json:"is_own"`
}

func toMessageViews(msgs []*models.Message, viewerID string) []messageView {
	views := make([]messageView, 0, len(msgs))
	for _, m := range msgs {
		views = append(views, messageView{
			ID:        m.ID,
			SenderID:  m.SenderID,
			Sender:    m.SenderName,
			Content:   m.Content,
			Timestamp: m.CreatedAt,
			IsOwn:     m.SenderID == viewerID,
		})
	}
	return views
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	user := principalFrom(r.Context())
	conversationID := r.PathValue("id")

	msgs, err := s.chat.ListMessages(r.Context(), conversationID, user.ID)
	if err != nil {
		switch {
		case errors.Is(err, common.ErrorNotFound):
			writeError(w, http.StatusNotFound, "conversation not found")
		case errors.Is(err, common.ErrNotParticipant):
			writeError(w, http.StatusForbidden, "not a conversation participant")
		default:
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": toMessageViews(msgs, user.ID)})
}

func (s *Server) handleSearchUsers(w http.ResponseWriter, r *http.Request) {
	user := principalFrom(r.Context())

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeJSON(w, http.StatusOK, map[string]any{"users": []any{}})
		return
	}

	found, err := s.chat.SearchUsers(r.Context(), user.ID, query, searchResultLimit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	type userView struct {
		ID       string `json:"id"`
		UserName string `json:"username"`
		FullName string `json:"full_name"`
	}
	views := make([]userView, 0, len(found))
	for _, u := range found {
		views = append(views, userView{ID: u.ID, UserName: u.UserName, FullName: u.FullName()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": views})
}
