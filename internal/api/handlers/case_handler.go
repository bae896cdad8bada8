package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/case-review/backend/internal/analyzer"
	"github.com/case-review/backend/internal/casecontext"
	"github.com/case-review/backend/internal/llm"
	"github.com/case-review/backend/internal/review"
	"github.com/case-review/backend/internal/storage/models"
	"github.com/case-review/backend/internal/storage/sqlite"
	"github.com/case-review/backend/pkg/logger"
)

// CaseReviewer is the part of the review service the case routes call.
type CaseReviewer interface {
	AnalyzeCase(ctx context.Context, caseNumber string) (*models.CaseAnalysis, error)
	BucketiseCase(ctx context.Context, caseNumber string) (*analyzer.Result[*models.BucketVerdict], error)
	ValidateKBRelevance(ctx context.Context, caseNumber string) (*analyzer.Result[*models.RelevanceVerdict], error)
	ValidateJIRARelevance(ctx context.Context, caseNumber string) (*analyzer.Result[*models.RelevanceVerdict], error)
}

type CaseHandler struct {
	reviewer CaseReviewer
}

func NewCaseHandler(reviewer CaseReviewer) *CaseHandler {
	return &CaseHandler{
		reviewer: reviewer,
	}
}

func (h *CaseHandler) Analyze(c *fiber.Ctx) error {
	caseNumber := c.Params("caseNumber")

	analysis, err := h.reviewer.AnalyzeCase(c.Context(), caseNumber)
	if err != nil {
		return caseError(c, caseNumber, "Failed to analyze case", err)
	}

	return c.JSON(analysis)
}

func (h *CaseHandler) Bucketise(c *fiber.Ctx) error {
	caseNumber := c.Params("caseNumber")

	result, err := h.reviewer.BucketiseCase(c.Context(), caseNumber)
	if err != nil {
		return caseError(c, caseNumber, "Failed to bucketise case", err)
	}

	return c.JSON(fiber.Map{
		"caseNumber": caseNumber,
		"bucket":     result.Value,
		"warnings":   result.Warnings,
		"usage":      result.Usage,
		"model":      result.Model,
	})
}

func (h *CaseHandler) KBRelevance(c *fiber.Ctx) error {
	return h.relevance(c, h.reviewer.ValidateKBRelevance)
}

func (h *CaseHandler) JIRARelevance(c *fiber.Ctx) error {
	return h.relevance(c, h.reviewer.ValidateJIRARelevance)
}

func (h *CaseHandler) relevance(c *fiber.Ctx, validate func(context.Context, string) (*analyzer.Result[*models.RelevanceVerdict], error)) error {
	caseNumber := c.Params("caseNumber")

	result, err := validate(c.Context(), caseNumber)
	if err != nil {
		return caseError(c, caseNumber, "Failed to validate relevance", err)
	}

	return c.JSON(fiber.Map{
		"caseNumber": caseNumber,
		"relevance":  result.Value,
		"warnings":   result.Warnings,
		"usage":      result.Usage,
		"model":      result.Model,
	})
}

// caseError maps pipeline failures onto HTTP statuses.
func caseError(c *fiber.Ctx, caseNumber, message string, err error) error {
	status := fiber.StatusInternalServerError
	body := fiber.Map{"error": message, "caseNumber": caseNumber}

	var missing *casecontext.MissingFieldError
	var failed *analyzer.Error
	switch {
	case errors.Is(err, review.ErrCaseNotFound), errors.Is(err, sqlite.ErrCaseNotFound):
		status = fiber.StatusNotFound
		body["error"] = "Case not found"
	case errors.As(err, &missing):
		status = fiber.StatusUnprocessableEntity
		body["field"] = missing.Field
		body["detail"] = err.Error()
	case errors.Is(err, llm.ErrConfiguration), errors.Is(err, review.ErrNoCaseSource):
		status = fiber.StatusServiceUnavailable
		body["detail"] = err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		status = fiber.StatusGatewayTimeout
	case errors.As(err, &failed):
		status = fiber.StatusBadGateway
		body["analyzer"] = failed.Analyzer
		body["detail"] = err.Error()
	}

	if status >= fiber.StatusInternalServerError {
		logger.CaseFailure(caseNumber, err)
	} else {
		logger.Warn(message, zap.String("case_number", caseNumber), zap.Error(err))
	}

	return c.Status(status).JSON(body)
}
