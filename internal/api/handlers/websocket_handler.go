package handlers

import (
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/case-review/backend/internal/batch"
	"github.com/case-review/backend/pkg/logger"
)

// WebSocketHandler streams batch progress to dashboards.
type WebSocketHandler struct {
	registry *batch.Registry
}

func NewWebSocketHandler(registry *batch.Registry) *WebSocketHandler {
	return &WebSocketHandler{
		registry: registry,
	}
}

// HandleProgress sends a snapshot, then one message per settled case, then
// a final snapshot once the run is done.
func (h *WebSocketHandler) HandleProgress(c *websocket.Conn) {
	runID := c.Params("id")
	logger.Info("WebSocket connection established", zap.String("run_id", runID))

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed", zap.String("run_id", runID))
	}()

	run, ok := h.registry.Get(runID)
	if !ok {
		h.sendError(c, "Batch not found")
		return
	}

	events, cancel := h.registry.Subscribe(runID)
	defer cancel()

	if err := h.sendSnapshot(c, "snapshot", run); err != nil {
		logger.Error("Failed to send snapshot", zap.Error(err))
		return
	}

	for p := range events {
		if err := h.sendProgress(c, p); err != nil {
			logger.Error("Failed to send progress", zap.Error(err))
			return
		}
	}

	if err := h.sendSnapshot(c, "complete", run); err != nil {
		logger.Error("Failed to send completion", zap.Error(err))
	}
}

func (h *WebSocketHandler) sendProgress(c *websocket.Conn, p batch.Progress) error {
	msg := map[string]interface{}{
		"type":     "progress",
		"progress": p,
	}

	return c.WriteJSON(msg)
}

func (h *WebSocketHandler) sendSnapshot(c *websocket.Conn, msgType string, run *batch.Run) error {
	msg := map[string]interface{}{
		"type": msgType,
		"run":  run.Snapshot(),
		"done": run.Done(),
	}

	return c.WriteJSON(msg)
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errorMsg string) {
	msg := map[string]interface{}{
		"type":  "error",
		"error": errorMsg,
	}

	c.WriteJSON(msg)
}
