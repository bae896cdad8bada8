package validation

import (
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// LocalsBatch is where BatchBody leaves the validated request.
const LocalsBatch = "batch_request"

var caseNumberPattern = regexp.MustCompile(`^[0-9]{1,12}$`)

type Config struct {
	MaxBatchSize        int
	AllowedContentTypes []string
	Logger              *zap.Logger
}

func (cfg Config) withDefaults() Config {
	if cfg.MaxBatchSize == 0 {
		cfg.MaxBatchSize = 500
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{"application/json"}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return cfg
}

// BatchRequest is the body of a batch submission.
type BatchRequest struct {
	CaseNumbers []string `json:"caseNumbers"`
	Force       bool     `json:"force"`
	Concurrency int      `json:"concurrency"`
}

func ValidCaseNumber(s string) bool {
	return caseNumberPattern.MatchString(s)
}

// Middleware rejects write requests with an unexpected content type.
func Middleware(cfg Config) fiber.Handler {
	cfg = cfg.withDefaults()

	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodPost || c.Method() == fiber.MethodPut {
			contentType := c.Get("Content-Type")
			if contentType != "" {
				allowed := false
				for _, allowedType := range cfg.AllowedContentTypes {
					if strings.Contains(contentType, allowedType) {
						allowed = true
						break
					}
				}
				if !allowed {
					return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
						"error": "Unsupported content type",
					})
				}
			}
		}
		return c.Next()
	}
}

// CaseNumberParam validates the :caseNumber route parameter. It must be
// registered on the route itself so the parameter is bound.
func CaseNumberParam(cfg Config) fiber.Handler {
	cfg = cfg.withDefaults()

	return func(c *fiber.Ctx) error {
		caseNumber := strings.TrimSpace(c.Params("caseNumber"))
		if !ValidCaseNumber(caseNumber) {
			cfg.Logger.Warn("Rejected case number",
				zap.String("ip", c.IP()),
				zap.String("case_number", caseNumber),
			)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Case number must be 1 to 12 digits",
			})
		}
		return c.Next()
	}
}

// BatchBody parses and validates a batch submission, dropping duplicate
// case numbers while keeping their first position.
func BatchBody(cfg Config) fiber.Handler {
	cfg = cfg.withDefaults()

	return func(c *fiber.Ctx) error {
		var req BatchRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid JSON format",
			})
		}

		if len(req.CaseNumbers) == 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "caseNumbers is required",
			})
		}

		seen := make(map[string]bool, len(req.CaseNumbers))
		cleaned := make([]string, 0, len(req.CaseNumbers))
		for _, cn := range req.CaseNumbers {
			cn = strings.TrimSpace(cn)
			if !ValidCaseNumber(cn) {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error":      "Invalid case number",
					"caseNumber": cn,
				})
			}
			if seen[cn] {
				continue
			}
			seen[cn] = true
			cleaned = append(cleaned, cn)
		}

		if len(cleaned) > cfg.MaxBatchSize {
			return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
				"error": "Batch exceeds maximum size",
				"max":   cfg.MaxBatchSize,
			})
		}

		if req.Concurrency < 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "concurrency must not be negative",
			})
		}

		req.CaseNumbers = cleaned
		c.Locals(LocalsBatch, req)
		return c.Next()
	}
}
