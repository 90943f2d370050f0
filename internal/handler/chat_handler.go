package handler

import (
	"context"

	"ai-ragchat-be/internal/pkg/logger"
	"ai-ragchat-be/internal/pkg/serverutils"
	internalWS "ai-ragchat-be/internal/websocket"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// ChatHandler upgrades realtime chat channels. Credentials travel in the
// first frame, not in the handshake, so the upgrade itself is unauthenticated.
type ChatHandler struct {
	hub    *internalWS.Hub
	auth   *serverutils.TokenValidator
	chat   internalWS.ChatService
	logger logger.ILogger
}

func NewChatHandler(hub *internalWS.Hub, auth *serverutils.TokenValidator, chat internalWS.ChatService, log logger.ILogger) *ChatHandler {
	return &ChatHandler{
		hub:    hub,
		auth:   auth,
		chat:   chat,
		logger: log,
	}
}

// ServeWs binds the channel to the conversation in the path, or to a new
// one when the path has none.
func (h *ChatHandler) ServeWs(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	return websocket.New(func(conn *websocket.Conn) {
		conversationID := conn.Params("conversation_id")
		session := internalWS.NewSession(conn, h.hub, h.auth, h.chat, conversationID, h.logger)

		h.logger.Info("ChatHandler", "Channel opened", map[string]interface{}{
			"session":         session.ID(),
			"conversation_id": conversationID,
			"remote":          conn.RemoteAddr().String(),
		})
		session.Run(context.Background())
		h.logger.Info("ChatHandler", "Channel closed", map[string]interface{}{
			"session": session.ID(),
			"user_id": session.UserID(),
		})
	})(c)
}

func (h *ChatHandler) RegisterRoutes(router fiber.Router) {
	router.Get("/ws/chat/:conversation_id?", h.ServeWs)
}
