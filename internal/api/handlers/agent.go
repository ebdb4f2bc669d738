package handlers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/carelink/carelink-ai/internal/agent"
	"github.com/carelink/carelink-ai/internal/conversation"
	"github.com/carelink/carelink-ai/internal/services"
)

// Chat handles one conversational turn.
func Chat(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req struct {
			Message   string `json:"message"`
			SessionID string `json:"session_id"`
			UserID    string `json:"user_id"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}
		if strings.TrimSpace(req.Message) == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "message is required",
			})
		}

		result := svc.Agent.Chat(c.Context(), agent.ChatInput{
			SessionID: req.SessionID,
			OwnerID:   req.UserID,
			Text:      req.Message,
		})

		return c.JSON(result)
	}
}

// GetSession returns session info without the full message history.
func GetSession(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		session, err := svc.Conversations.GetSession(c.Context(), c.Params("id"))
		if errors.Is(err, conversation.ErrSessionNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Session not found",
			})
		}
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": err.Error(),
			})
		}

		return c.JSON(fiber.Map{
			"session_id":    session.ID,
			"user_id":       session.OwnerID,
			"state":         session.State,
			"message_count": len(session.Messages),
			"created_at":    session.CreatedAt,
			"updated_at":    session.UpdatedAt,
		})
	}
}

// GetSessionHistory returns the message history of a session.
func GetSessionHistory(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		limit := c.QueryInt("limit", 0)

		messages, err := svc.Conversations.ContextMessages(c.Context(), c.Params("id"), limit)
		if errors.Is(err, conversation.ErrSessionNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Session not found",
			})
		}
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": err.Error(),
			})
		}

		return c.JSON(fiber.Map{
			"session_id": c.Params("id"),
			"messages":   messages,
			"count":      len(messages),
		})
	}
}

// ClearSession empties a session's history but keeps the session alive.
func ClearSession(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		existed, err := svc.Conversations.ClearMessages(c.Context(), c.Params("id"))
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": err.Error(),
			})
		}

		return c.JSON(fiber.Map{
			"session_id": c.Params("id"),
			"cleared":    existed,
		})
	}
}

// DeleteSession removes a session entirely.
func DeleteSession(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		existed, err := svc.Conversations.DeleteSession(c.Context(), c.Params("id"))
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		if !existed {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Session not found",
			})
		}

		return c.JSON(fiber.Map{
			"session_id": c.Params("id"),
			"deleted":    true,
		})
	}
}
