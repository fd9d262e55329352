package handlers

import (
	"errors"
	"strconv"
	"strings"

	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/saeid-a/CoachLedger/internal/middleware"
	realtimews "github.com/saeid-a/CoachLedger/internal/websocket"
	"github.com/saeid-a/CoachLedger/pkg/utils"
)

type RealtimeHandler struct {
	hub        *realtimews.Hub
	authorizer realtimews.Authorizer
	jwtSecret  string
}

func NewRealtimeHandler(hub *realtimews.Hub, authorizer realtimews.Authorizer, jwtSecret string) *RealtimeHandler {
	return &RealtimeHandler{
		hub:        hub,
		authorizer: authorizer,
		jwtSecret:  jwtSecret,
	}
}

// WebSocketAuth authenticates the upgrade request. Browsers cannot set
// headers on websocket requests, so the token may come as ?token=.
func (h *RealtimeHandler) WebSocketAuth(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{"error": "WebSocket upgrade required"})
	}

	claims, err := h.parseWSClaims(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid or expired token"})
	}
	actorID, err := strconv.ParseInt(claims.UserID, 10, 64)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	if channel := strings.TrimSpace(c.Query("channel")); channel != "" {
		allowed, err := h.authorizer.CanSubscribe(c.Context(), actorID, claims.Role, channel)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to authorize channel"})
		}
		if !allowed {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
		}
		c.Locals("channel", channel)
	}

	c.Locals(middleware.LocalUserID, claims.UserID)
	c.Locals(middleware.LocalRole, claims.Role)
	return c.Next()
}

func (h *RealtimeHandler) HandleWebSocket(conn *websocket.Conn) {
	userID, _ := conn.Locals(middleware.LocalUserID).(string)
	role, _ := conn.Locals(middleware.LocalRole).(string)
	client := realtimews.NewClient(h.hub, conn, userID)

	h.hub.Register(client)
	if channel, ok := conn.Locals("channel").(string); ok {
		h.hub.Subscribe(client, channel)
	}
	go client.WritePump()
	client.ReadPump(h.authorizer, role)
}

func (h *RealtimeHandler) parseWSClaims(c *fiber.Ctx) (*utils.Claims, error) {
	tokenString := strings.TrimSpace(c.Query("token"))
	if tokenString == "" {
		authHeader := strings.TrimSpace(c.Get("Authorization"))
		if authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) == 2 && parts[0] == "Bearer" {
				tokenString = parts[1]
			}
		}
	}

	if tokenString == "" {
		return nil, errors.New("missing token")
	}

	return utils.ValidateToken(tokenString, h.jwtSecret)
}
