package vocabulary

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/case-review/backend/pkg/logger"
)

// Schedule reloads the holder on a standard 5-field cron expression until
// Stop is called. An empty expression disables scheduling and returns nil.
func Schedule(h *Holder, expr string) (*cron.Cron, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		logger.Info("Vocabulary reload schedule disabled")
		return nil, nil
	}

	c := cron.New()
	_, err := c.AddFunc(expr, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := h.Reload(ctx); err != nil {
			logger.Warn("Scheduled vocabulary reload failed", zap.Error(err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid vocabulary reload schedule %q: %w", expr, err)
	}

	c.Start()
	logger.Info("Vocabulary reload scheduled", zap.String("cron", expr))
	return c, nil
}
