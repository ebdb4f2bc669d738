package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/carelink/carelink-ai/internal/knowledge"
	"github.com/carelink/carelink-ai/internal/services"
)

// IngestDocument adds one document to the knowledge base.
func IngestDocument(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req knowledge.Document
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}
		if strings.TrimSpace(req.Content) == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "content is required",
			})
		}

		result, err := svc.Knowledge.Ingest(c.Context(), req)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": err.Error(),
			})
		}

		return c.JSON(result)
	}
}

// IngestBatch adds several documents, reporting a per-document tally.
func IngestBatch(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req struct {
			Documents []knowledge.Document `json:"documents"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}
		if len(req.Documents) == 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "documents is required",
			})
		}

		return c.JSON(svc.Knowledge.IngestBatch(c.Context(), req.Documents))
	}
}

// SearchKnowledge runs a similarity search without answer synthesis.
func SearchKnowledge(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req struct {
			Query          string  `json:"query"`
			TopK           int     `json:"top_k"`
			ScoreThreshold float64 `json:"score_threshold"`
			Category       string  `json:"category"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}
		if strings.TrimSpace(req.Query) == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "query is required",
			})
		}

		results, err := svc.Knowledge.Search(c.Context(), req.Query, req.TopK, req.ScoreThreshold, req.Category)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": err.Error(),
			})
		}

		return c.JSON(fiber.Map{
			"results": results,
			"count":   len(results),
		})
	}
}

// QueryKnowledge retrieves context and synthesizes an answer.
func QueryKnowledge(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req struct {
			Question       string `json:"question"`
			TopK           int    `json:"top_k"`
			Category       string `json:"category"`
			IncludeSources *bool  `json:"include_sources"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}
		if strings.TrimSpace(req.Question) == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "question is required",
			})
		}

		answer, err := svc.Knowledge.AnswerQuestion(c.Context(), req.Question, req.TopK, req.Category)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": err.Error(),
			})
		}

		// Sources are included unless the caller opts out.
		sources := answer.Sources
		if req.IncludeSources != nil && !*req.IncludeSources {
			sources = nil
		}

		return c.JSON(fiber.Map{
			"answer":        answer.Text,
			"sources":       sources,
			"has_context":   answer.HasContext,
			"context_count": len(answer.Sources),
			"disclaimer":    knowledge.Disclaimer,
		})
	}
}

// GetKnowledgeStats reports knowledge base totals.
func GetKnowledgeStats(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		stats, err := svc.Knowledge.GetStats(c.Context())
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		return c.JSON(stats)
	}
}

// DeleteDocument removes all chunks of one document.
func DeleteDocument(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		deleted, err := svc.Knowledge.DeleteDoc(c.Context(), c.Params("id"))
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		if deleted == 0 {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Document not found",
			})
		}

		return c.JSON(fiber.Map{
			"doc_id":         c.Params("id"),
			"chunks_deleted": deleted,
		})
	}
}
