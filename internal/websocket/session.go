package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"ai-ragchat-be/internal/pkg/logger"
	"ai-ragchat-be/pkg/apperr"
	"ai-ragchat-be/pkg/rag/history"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

type State int32

const (
	StateOpen State = iota
	StateAuthenticating
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateAuthenticating:
		return "AUTHENTICATING"
	case StateActive:
		return "ACTIVE"
	default:
		return "CLOSED"
	}
}

// Conn is the part of a websocket connection a session uses. Satisfied by
// *websocket.Conn from gofiber/websocket.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Authenticator validates the credential of the authenticate frame.
type Authenticator interface {
	Validate(token string) (uuid.UUID, error)
}

// ChatService runs turns for a bound conversation.
type ChatService interface {
	// OpenConversation binds the requested conversation, creating it for
	// the user when it does not exist yet. An empty id creates a new one.
	OpenConversation(ctx context.Context, userID uuid.UUID, conversationID string) (string, error)
	HandleTurn(ctx context.Context, userID uuid.UUID, conversationID, content string) (*history.Message, error)
}

type outbound struct {
	payload   []byte
	closeCode int
	reason    string
}

// Session is one channel: OPEN -> AUTHENTICATING -> ACTIVE -> CLOSED.
// Inbound chat frames are handled one at a time on the reading goroutine,
// so a turn finishes before the next frame is read. All writes go through
// the single writer goroutine.
type Session struct {
	id     string
	conn   Conn
	hub    *Hub
	auth   Authenticator
	chat   ChatService
	logger logger.ILogger

	requestedConversation string
	conversationID        string
	userID                uuid.UUID
	registered            bool

	// sendTimeout bounds how long a reply waits for room in out
	sendTimeout time.Duration

	state   atomic.Int32
	out     chan outbound
	done    chan struct{}
	closing sync.Once
	cancel  context.CancelFunc
}

func NewSession(conn Conn, hub *Hub, auth Authenticator, chat ChatService, conversationID string, log logger.ILogger) *Session {
	return &Session{
		id:                    uuid.NewString(),
		conn:                  conn,
		hub:                   hub,
		auth:                  auth,
		chat:                  chat,
		logger:                log,
		requestedConversation: conversationID,
		sendTimeout:           writeWait,
		out:                   make(chan outbound, sendBuffer),
		done:                  make(chan struct{}),
		cancel:                func() {},
	}
}

func (s *Session) ID() string             { return s.id }
func (s *Session) State() State           { return State(s.state.Load()) }
func (s *Session) UserID() uuid.UUID      { return s.userID }
func (s *Session) ConversationID() string { return s.conversationID }

// Run drives the session until the channel closes. It returns after the
// writer has stopped.
func (s *Session) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	defer cancel()

	go s.writePump()
	defer s.finish()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	if !s.authenticate(ctx) {
		return
	}
	s.readPump(ctx)
}

func (s *Session) authenticate(ctx context.Context) bool {
	s.state.Store(int32(StateAuthenticating))

	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	_, raw, err := s.conn.ReadMessage()
	if err != nil {
		return false
	}

	var frame InboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil || frame.Type != FrameAuthenticate || frame.Token == "" {
		s.logger.Warn("Session", "First frame is not a valid authenticate frame", map[string]interface{}{"session": s.id})
		s.closeWith(CloseAuthRequired, "authentication required")
		return false
	}

	userID, err := s.auth.Validate(frame.Token)
	if err != nil {
		s.logger.Warn("Session", "Authentication failed", map[string]interface{}{"session": s.id, "error": err.Error()})
		s.closeWith(CloseAuthRequired, "authentication required")
		return false
	}

	convID, err := s.chat.OpenConversation(ctx, userID, s.requestedConversation)
	if err != nil {
		if apperr.IsNotFound(err) {
			s.closeWith(CloseConversationDenied, "conversation not accessible")
		} else {
			s.logger.Error("Session", "Failed to open conversation", map[string]interface{}{"session": s.id, "error": err.Error()})
			s.sendError(apperr.KindOf(err), "")
			s.closeWith(CloseInternalError, "internal error")
		}
		return false
	}

	s.userID = userID
	s.conversationID = convID
	s.hub.Register(userID, s)
	s.registered = true

	// a newer session may already have pre-empted this one
	if !s.state.CompareAndSwap(int32(StateAuthenticating), int32(StateActive)) {
		return false
	}
	s.logger.Info("Session", "Session active", map[string]interface{}{
		"session": s.id, "user_id": userID, "conversation_id": convID,
	})
	return true
}

func (s *Session) readPump(ctx context.Context) {
	for {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				s.logger.Warn("Session", "Unexpected close", map[string]interface{}{"session": s.id, "error": err.Error()})
			}
			return
		}
		if s.State() != StateActive {
			return
		}

		var frame InboundFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			s.closeWith(CloseMalformedFrame, "malformed frame")
			return
		}
		if !s.handleFrame(ctx, frame) {
			return
		}
	}
}

// handleFrame runs one turn and reports whether the channel stays open.
func (s *Session) handleFrame(ctx context.Context, frame InboundFrame) (keepOpen bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Session", "Turn panicked", map[string]interface{}{"session": s.id, "panic": fmt.Sprint(r)})
			s.sendError(apperr.KindUnknown, "")
			s.closeWith(CloseInternalError, "internal error")
			keepOpen = false
		}
	}()

	if frame.Type != "" && frame.Type != FrameMessage {
		s.sendError(apperr.KindPermanent, fmt.Sprintf("unsupported frame type %q", frame.Type))
		return true
	}
	if strings.TrimSpace(frame.Content) == "" {
		s.sendError(apperr.KindPermanent, "message content is empty")
		return true
	}

	answer, err := s.chat.HandleTurn(ctx, s.userID, s.conversationID, frame.Content)
	if err != nil {
		return s.fail(err)
	}

	return s.reply(ChatFrame{
		Message: MessagePayload{
			Role:    string(answer.Role),
			Content: answer.Content,
			Context: answer.Context,
		},
		ConversationID: s.conversationID,
	})
}

// fail decides what the client sees for a failed turn. The error itself is
// only logged; the client gets the fixed message for its kind.
func (s *Session) fail(err error) bool {
	kind := apperr.KindOf(err)
	fields := map[string]interface{}{"session": s.id, "kind": kind.String(), "error": err.Error()}

	switch kind {
	case apperr.KindTransient, apperr.KindPermanent:
		s.logger.Warn("Session", "Turn failed", fields)
		return s.sendError(kind, "")
	case apperr.KindNotFound:
		s.logger.Warn("Session", "Conversation disappeared", fields)
		s.sendError(kind, "")
		s.closeWith(CloseConversationDenied, "conversation not accessible")
		return false
	default:
		s.logger.Error("Session", "Turn failed with unclassified error", fields)
		s.sendError(kind, "")
		s.closeWith(CloseInternalError, "internal error")
		return false
	}
}

func clientMessage(kind apperr.Kind) string {
	switch kind {
	case apperr.KindTransient:
		return "the assistant is temporarily unavailable, please retry"
	case apperr.KindPermanent:
		return "the message could not be processed"
	case apperr.KindNotFound:
		return "conversation not accessible"
	default:
		return "internal error"
	}
}

// sendError reports a failure to the client. An empty message selects the
// fixed text for the kind.
func (s *Session) sendError(kind apperr.Kind, message string) bool {
	if message == "" {
		message = clientMessage(kind)
	}
	return s.reply(ErrorFrame{
		Type: FrameError,
		Error: ErrorPayload{
			Kind:      kind.String(),
			Message:   message,
			Retryable: kind == apperr.KindTransient,
		},
		ConversationID: s.conversationID,
	})
}

// reply queues a frame answering the client and reports whether the channel
// stays open. A client that leaves the buffer full for sendTimeout is
// disconnected rather than silently missing the frame.
func (s *Session) reply(v interface{}) bool {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("Session", "Failed to encode frame", map[string]interface{}{"session": s.id, "error": err.Error()})
		return true
	}
	if s.State() == StateClosed {
		return false
	}

	timer := time.NewTimer(s.sendTimeout)
	defer timer.Stop()
	select {
	case <-s.done:
		return false
	case s.out <- outbound{payload: data}:
		return true
	case <-timer.C:
		s.logger.Warn("Session", "Client is not reading, closing", map[string]interface{}{
			"session": s.id, "buffered": len(s.out),
		})
		s.closeWith(CloseInternalError, "send buffer full")
		return false
	}
}

// enqueue hands a pushed frame to the writer. It never blocks: frames for a
// closed or saturated session are dropped and the caller decides how to
// report it.
func (s *Session) enqueue(data []byte) bool {
	if s.State() == StateClosed {
		return false
	}
	select {
	case <-s.done:
		return false
	case s.out <- outbound{payload: data}:
		return true
	default:
		return false
	}
}

// closeWith moves the session to CLOSED and asks the writer to send a close
// frame. Only the first call has an effect.
func (s *Session) closeWith(code int, reason string) {
	s.closing.Do(func() {
		s.state.Store(int32(StateClosed))
		s.cancel()
		select {
		case s.out <- outbound{closeCode: code, reason: reason}:
		default:
			s.conn.Close()
		}
	})
}

func (s *Session) finish() {
	if s.registered {
		s.hub.Unregister(s.userID, s)
	}
	s.closeWith(websocket.CloseNormalClosure, "")

	select {
	case <-s.done:
	case <-time.After(writeWait):
		s.conn.Close()
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
		close(s.done)
	}()

	for {
		select {
		case msg := <-s.out:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if msg.closeCode != 0 {
				s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(msg.closeCode, msg.reason))
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg.payload); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
