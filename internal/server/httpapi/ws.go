package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/dmitrijs2005/webchat/internal/common"
	"github.com/dmitrijs2005/webchat/internal/server/models"
	"golang.org/x/net/websocket"
	"golang.org/x/time/rate"
)

const (
	maxFramePayloadBytes   = 16 * 1024
	maxFramesPerSecond     = 40
	maxDecodeErrorsPerConn = 3
	maxMessageBodyRunes    = 2000
)

type wsFrame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type wsErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type joinPayload struct {
	ConversationID string `json:"conversation_id"`
}

type sendPayload struct {
	Body string `json:"body"`
}

type joinedPayload struct {
	ConversationID string `json:"conversation_id"`
	ServerTime     string `json:"server_time"`
}

type historyPayload struct {
	ConversationID string        `json:"conversation_id"`
	Messages       []messageView `json:"messages"`
}

// peer serializes frame writes to one websocket connection.
type peer struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

func newPeer(encoder *json.Encoder) *peer {
	return &peer{encoder: encoder}
}

func (p *peer) writeFrame(frame wsFrame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.encoder.Encode(frame)
}

func (p *peer) writeError(requestID, code, message string) error {
	return p.writeFrame(wsFrame{
		Type:      "chat.error",
		RequestID: requestID,
		Payload:   mustJSON(wsErrorPayload{Code: code, Message: message}),
	})
}

// room tracks the live subscribers of one conversation, keyed to the user
// each socket belongs to. Message persistence lives in the chat service; the
// room only fans frames out.
type room struct {
	mu             sync.Mutex
	conversationID string
	subscribers    map[*peer]string
}

func (r *room) join(p *peer, userID string) {
	r.mu.Lock()
	r.subscribers[p] = userID
	r.mu.Unlock()
}

func (r *room) leave(p *peer) bool {
	r.mu.Lock()
	delete(r.subscribers, p)
	empty := len(r.subscribers) == 0
	r.mu.Unlock()
	return empty
}

// broadcastMessage fans a persisted message out to every subscriber, with
// is_own computed from each recipient's perspective.
func (r *room) broadcastMessage(msg *models.Message) {
	r.mu.Lock()
	subscribers := make(map[*peer]string, len(r.subscribers))
	for p, userID := range r.subscribers {
		subscribers[p] = userID
	}
	r.mu.Unlock()

	for p, userID := range subscribers {
		views := toMessageViews([]*models.Message{msg}, userID)
		_ = p.writeFrame(wsFrame{
			Type:    "chat.message",
			Payload: mustJSON(views[0]),
		})
	}
}

type hub struct {
	mu    sync.Mutex
	rooms map[string]*room
}

func newHub() *hub {
	return &hub{rooms: make(map[string]*room)}
}

func (h *hub) room(conversationID string) *room {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[conversationID]
	if !ok {
		r = &room{conversationID: conversationID, subscribers: make(map[*peer]string)}
		h.rooms[conversationID] = r
	}
	return r
}

func (h *hub) release(r *room, p *peer) {
	if r == nil {
		return
	}
	if r.leave(p) {
		h.mu.Lock()
		if current, ok := h.rooms[r.conversationID]; ok && current == r {
			delete(h.rooms, r.conversationID)
		}
		h.mu.Unlock()
	}
}

type wsIdentityKey struct{}

// websocketHandler binds the connection identity exactly once, from the
// access cookie at handshake time. A missing or stale cookie yields an
// anonymous connection rather than a rejected upgrade; the identity is never
// re-validated for the lifetime of the socket.
func (s *Server) websocketHandler() http.Handler {
	wsHandler := websocket.Handler(func(conn *websocket.Conn) {
		s.handleWSConn(conn)
	})

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var user *models.User
		if cookie, err := r.Cookie(accessCookieName); err == nil {
			if resolved, err := s.users.VerifyAccess(r.Context(), cookie.Value); err == nil {
				user = resolved
			}
		}
		if user != nil {
			r = r.WithContext(context.WithValue(r.Context(), wsIdentityKey{}, user))
		}
		wsHandler.ServeHTTP(w, r)
	})
}

type wsSession struct {
	user *models.User
	peer *peer
	room *room
}

func (s *Server) handleWSConn(conn *websocket.Conn) {
	defer func() {
		_ = conn.Close()
	}()

	session := &wsSession{peer: newPeer(json.NewEncoder(conn))}
	ctx := context.Background()
	if request := conn.Request(); request != nil {
		ctx = request.Context()
		if user, ok := request.Context().Value(wsIdentityKey{}).(*models.User); ok {
			session.user = user
		}
	}
	defer func() {
		s.hub.release(session.room, session.peer)
	}()

	decoder := json.NewDecoder(conn)
	limiter := rate.NewLimiter(rate.Limit(maxFramesPerSecond), maxFramesPerSecond)
	decodeErrors := 0

	for {
		var frame wsFrame
		if err := decoder.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			decodeErrors++
			_ = session.peer.writeError("", "INVALID_ARGUMENT", "invalid frame payload")
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		if len(frame.Payload) > maxFramePayloadBytes {
			_ = session.peer.writeError(frame.RequestID, "INVALID_ARGUMENT", "payload too large")
			continue
		}
		if !limiter.Allow() {
			_ = session.peer.writeError(frame.RequestID, "RESOURCE_EXHAUSTED", "rate limit exceeded")
			return
		}

		switch frame.Type {
		case "chat.join":
			s.handleJoinFrame(ctx, session, frame)
		case "chat.send":
			s.handleSendFrame(ctx, session, frame)
		case "chat.history":
			s.handleHistoryFrame(ctx, session, frame)
		default:
			_ = session.peer.writeError(frame.RequestID, "INVALID_ARGUMENT", "unsupported frame type")
		}
	}
}

func (s *Server) requireWSIdentity(session *wsSession, requestID string) bool {
	if session.user == nil {
		_ = session.peer.writeError(requestID, "UNAUTHENTICATED", "authentication required")
		return false
	}
	return true
}

// handleJoinFrame subscribes the connection to a conversation and replays its
// history. Joining counts as viewing, so the peer's messages come back
// marked read.
func (s *Server) handleJoinFrame(ctx context.Context, session *wsSession, frame wsFrame) {
	if !s.requireWSIdentity(session, frame.RequestID) {
		return
	}

	var payload joinPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = session.peer.writeError(frame.RequestID, "INVALID_ARGUMENT", "invalid join payload")
		return
	}
	conversationID := strings.TrimSpace(payload.ConversationID)
	if conversationID == "" {
		_ = session.peer.writeError(frame.RequestID, "INVALID_ARGUMENT", "conversation_id is required")
		return
	}

	msgs, err := s.chat.ListMessages(ctx, conversationID, session.user.ID)
	if err != nil {
		switch {
		case errors.Is(err, common.ErrNotParticipant):
			_ = session.peer.writeError(frame.RequestID, "FORBIDDEN", "not a conversation participant")
		case errors.Is(err, common.ErrorNotFound):
			_ = session.peer.writeError(frame.RequestID, "NOT_FOUND", "conversation not found")
		default:
			_ = session.peer.writeError(frame.RequestID, "UNAVAILABLE", "conversation lookup failed")
		}
		return
	}

	r := s.hub.room(conversationID)
	previous := session.room
	session.room = r
	if previous != nil && previous != r {
		s.hub.release(previous, session.peer)
	}
	r.join(session.peer, session.user.ID)

	_ = session.peer.writeFrame(wsFrame{
		Type:      "chat.joined",
		RequestID: frame.RequestID,
		Payload: mustJSON(joinedPayload{
			ConversationID: conversationID,
			ServerTime:     time.Now().UTC().Format(time.RFC3339),
		}),
	})
	_ = session.peer.writeFrame(wsFrame{
		Type: "chat.history",
		Payload: mustJSON(historyPayload{
			ConversationID: conversationID,
			Messages:       toMessageViews(msgs, session.user.ID),
		}),
	})
}

func (s *Server) handleSendFrame(ctx context.Context, session *wsSession, frame wsFrame) {
	if !s.requireWSIdentity(session, frame.RequestID) {
		return
	}

	var payload sendPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = session.peer.writeError(frame.RequestID, "INVALID_ARGUMENT", "invalid send payload")
		return
	}

	body := strings.TrimSpace(payload.Body)
	if body == "" {
		_ = session.peer.writeError(frame.RequestID, "INVALID_ARGUMENT", "body is required")
		return
	}
	if utf8.RuneCountInString(body) > maxMessageBodyRunes {
		_ = session.peer.writeError(frame.RequestID, "INVALID_ARGUMENT", "body must be at most 2000 characters")
		return
	}

	r := session.room
	if r == nil {
		_ = session.peer.writeError(frame.RequestID, "FORBIDDEN", "must join a conversation before sending")
		return
	}

	msg, err := s.chat.SendMessage(ctx, r.conversationID, session.user.ID, body)
	if err != nil {
		if errors.Is(err, common.ErrNotParticipant) {
			_ = session.peer.writeError(frame.RequestID, "FORBIDDEN", "not a conversation participant")
			return
		}
		_ = session.peer.writeError(frame.RequestID, "UNAVAILABLE", "message could not be saved")
		return
	}
	msg.SenderName = session.user.UserName

	_ = session.peer.writeFrame(wsFrame{
		Type:      "chat.ack",
		RequestID: frame.RequestID,
		Payload:   mustJSON(map[string]any{"message_id": msg.ID}),
	})

	r.broadcastMessage(msg)
}

func (s *Server) handleHistoryFrame(ctx context.Context, session *wsSession, frame wsFrame) {
	if !s.requireWSIdentity(session, frame.RequestID) {
		return
	}

	r := session.room
	if r == nil {
		_ = session.peer.writeError(frame.RequestID, "FORBIDDEN", "must join a conversation before requesting history")
		return
	}

	msgs, err := s.chat.ListMessages(ctx, r.conversationID, session.user.ID)
	if err != nil {
		_ = session.peer.writeError(frame.RequestID, "UNAVAILABLE", "conversation lookup failed")
		return
	}
	_ = session.peer.writeFrame(wsFrame{
		Type:      "chat.history",
		RequestID: frame.RequestID,
		Payload: mustJSON(historyPayload{
			ConversationID: r.conversationID,
			Messages:       toMessageViews(msgs, session.user.ID),
		}),
	})
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
