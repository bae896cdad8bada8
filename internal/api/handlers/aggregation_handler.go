package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/case-review/backend/internal/aggregation"
	"github.com/case-review/backend/pkg/logger"
)

// Aggregator recomputes the cross-case summary.
type Aggregator interface {
	Aggregate(ctx context.Context) (*aggregation.Aggregation, error)
}

type AggregationHandler struct {
	aggregator Aggregator
}

func NewAggregationHandler(aggregator Aggregator) *AggregationHandler {
	return &AggregationHandler{
		aggregator: aggregator,
	}
}

// Aggregate returns the summary as JSON, or as the plain-text report when
// called with ?format=text.
func (h *AggregationHandler) Aggregate(c *fiber.Ctx) error {
	agg, err := h.aggregator.Aggregate(c.Context())
	if err != nil {
		logger.Error("Failed to aggregate analyses", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to aggregate analyses",
		})
	}

	if c.Query("format") == "text" {
		c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
		return c.SendString(aggregation.Report(agg))
	}

	return c.JSON(agg)
}
