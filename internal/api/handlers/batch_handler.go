package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/case-review/backend/internal/batch"
	"github.com/case-review/backend/internal/middleware/validation"
	"github.com/case-review/backend/internal/review"
	"github.com/case-review/backend/pkg/logger"
)

// BatchRunner starts background analysis batches and tracks them.
type BatchRunner interface {
	StartBatch(caseNumbers []string, opts review.BatchOptions) *batch.Run
	Registry() *batch.Registry
}

type BatchHandler struct {
	runner BatchRunner
}

func NewBatchHandler(runner BatchRunner) *BatchHandler {
	return &BatchHandler{
		runner: runner,
	}
}

// Submit expects validation.BatchBody to have run first.
func (h *BatchHandler) Submit(c *fiber.Ctx) error {
	req, ok := c.Locals(validation.LocalsBatch).(validation.BatchRequest)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid batch request",
		})
	}

	run := h.runner.StartBatch(req.CaseNumbers, review.BatchOptions{
		Concurrency: req.Concurrency,
		Force:       req.Force,
	})

	logger.Info("Batch submitted",
		zap.String("run_id", run.ID),
		zap.Int("cases", len(req.CaseNumbers)),
		zap.Bool("force", req.Force),
	)

	return c.Status(fiber.StatusAccepted).JSON(run.Snapshot())
}

func (h *BatchHandler) Get(c *fiber.Ctx) error {
	run, ok := h.runner.Registry().Get(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Batch not found",
		})
	}

	return c.JSON(fiber.Map{
		"run":  run.Snapshot(),
		"done": run.Done(),
	})
}
