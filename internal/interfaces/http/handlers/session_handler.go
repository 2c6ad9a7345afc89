package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aomi-labs/orchestrator/internal/application/runtime"
	"github.com/aomi-labs/orchestrator/internal/domain/sysevent"
)

// SessionHandler implements the session-oriented HTTP surface: one agent
// per session, chat/state/interrupt/system-event against a shared Runtime.
type SessionHandler struct {
	rt     *runtime.Runtime
	logger *zap.Logger
}

// NewSessionHandler returns a handler driving rt.
func NewSessionHandler(rt *runtime.Runtime, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{rt: rt, logger: logger.With(zap.String("handler", "session"))}
}

// chatRequest is the JSON body for POST /api/chat.
type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message" binding:"required"`
}

// Chat handles POST /api/chat.
func (h *SessionHandler) Chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	snap, sessionID, err := h.rt.Chat(c.Request.Context(), req.SessionID, req.Message)
	if err != nil && !errors.Is(err, runtime.ErrAlreadyProcessing) {
		h.logger.Error("chat turn failed", zap.String("session_id", sessionID), zap.Error(err))
	}
	c.JSON(http.StatusOK, snap)
}

// GetState handles GET /api/state?session_id=....
func (h *SessionHandler) GetState(c *gin.Context) {
	sessionID := c.Query("session_id")
	snap, err := h.rt.GetState(sessionID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown session_id"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// Interrupt handles POST /api/interrupt.
func (h *SessionHandler) Interrupt(c *gin.Context) {
	var req struct {
		SessionID string `json:"session_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	snap, err := h.rt.Interrupt(req.SessionID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown session_id"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// SystemEvent handles POST /api/system/event.
func (h *SessionHandler) SystemEvent(c *gin.Context) {
	var req struct {
		SessionID string        `json:"session_id" binding:"required"`
		Event     sysevent.Event `json:"event" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	eventType, err := h.rt.SystemEvent(req.SessionID, req.Event)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "forbidden_event"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"queued": true, "event_type": eventType})
}

// ChatStream handles GET /api/chat/stream?session_id=...: an SSE feed of
// the session's snapshot at ~10Hz, per spec §6.1.
func (h *SessionHandler) ChatStream(c *gin.Context) {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id is required"})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap, err := h.rt.GetState(sessionID)
			if err != nil {
				c.SSEvent("error", gin.H{"error": "unknown session_id"})
				c.Writer.Flush()
				return
			}
			c.SSEvent("snapshot", snap)
			c.Writer.Flush()
		}
	}
}
