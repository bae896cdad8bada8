package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/case-review/backend/internal/vocabulary"
	"github.com/case-review/backend/pkg/logger"
)

type VocabularyHandler struct {
	holder *vocabulary.Holder
}

func NewVocabularyHandler(holder *vocabulary.Holder) *VocabularyHandler {
	return &VocabularyHandler{
		holder: holder,
	}
}

func (h *VocabularyHandler) Get(c *fiber.Ctx) error {
	snap := h.holder.Current()
	return c.JSON(fiber.Map{
		"size": snap.Len(),
		"tags": snap.All(),
	})
}

// Reload swaps in a freshly loaded vocabulary. On failure the previous one
// stays in use.
func (h *VocabularyHandler) Reload(c *fiber.Ctx) error {
	if err := h.holder.Reload(c.Context()); err != nil {
		status := fiber.StatusInternalServerError
		if errors.Is(err, vocabulary.ErrNoLoader) {
			status = fiber.StatusConflict
		}
		logger.Error("Failed to reload vocabulary", zap.Error(err))
		return c.Status(status).JSON(fiber.Map{
			"error":  "Failed to reload vocabulary",
			"detail": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"status": "reloaded",
		"size":   h.holder.Current().Len(),
	})
}
