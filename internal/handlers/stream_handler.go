package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/xpanvictor/relay/internal/domains/stream"
	"github.com/xpanvictor/relay/internal/types"
	"github.com/xpanvictor/relay/pkg/Logger"
	"github.com/xpanvictor/relay/pkg/provider"
)

type StreamHandler struct {
	streamService stream.StreamService
	connections   map[string]provider.Connection
	logger        *Logger.Logger
}

func NewStreamHandler(
	streamService stream.StreamService,
	connections map[string]provider.Connection,
	logger *Logger.Logger,
) *StreamHandler {
	return &StreamHandler{
		streamService: streamService,
		connections:   connections,
		logger:        logger,
	}
}

// StreamMessageRequest is the inbound payload for one streamed completion.
type StreamMessageRequest struct {
	SessionID        string              `json:"sessionId" binding:"required"`
	ConnectionID     string              `json:"connectionId" binding:"required"`
	Provider         string              `json:"provider" binding:"required"`
	ModelID          string              `json:"modelId" binding:"required"`
	ClientMessageID  string              `json:"clientMessageId" binding:"required"`
	Messages         []types.ChatMessage `json:"messages" binding:"required"`
	ReasoningEnabled bool                `json:"reasoningEnabled"`
	MaxTokens        int                 `json:"maxTokens"`
	Temperature      *float64            `json:"temperature"`
}

// CancelStreamRequest targets a live stream by any of its three identities.
type CancelStreamRequest struct {
	SessionID         string `json:"sessionId" binding:"required"`
	MessageID         *uint  `json:"messageId"`
	ClientMessageID   string `json:"clientMessageId"`
	AssistantClientID string `json:"assistantClientId"`
}

// sseEmitter adapts a gin response writer to the delivery contract. Every
// event is one `data:` frame followed by an immediate flush.
type sseEmitter struct {
	mu      sync.Mutex
	w       gin.ResponseWriter
	flusher http.Flusher
	wrote   bool
}

func newSSEEmitter(c *gin.Context) (*sseEmitter, bool) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		return nil, false
	}
	return &sseEmitter{w: c.Writer, flusher: flusher}, true
}

func (e *sseEmitter) Write(ev types.StreamEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := fmt.Fprintf(e.w, "data: %s\n\n", data); err != nil {
		return err
	}
	e.wrote = true
	e.flusher.Flush()
	return nil
}

func (e *sseEmitter) WriteComment() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := fmt.Fprint(e.w, ": keepalive\n\n"); err != nil {
		return err
	}
	e.wrote = true
	e.flusher.Flush()
	return nil
}

func (e *sseEmitter) started() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.wrote
}

// StreamMessage streams one assistant reply over SSE
// @Summary Stream an assistant reply
// @Description Opens a server-sent-event stream carrying content and reasoning deltas, usage and lifecycle events for one completion
// @Tags Stream
// @Accept json
// @Produce text/event-stream
// @Security BearerAuth
// @Param request body StreamMessageRequest true "Streaming request"
// @Success 200 {string} string "SSE event stream"
// @Failure 400 {object} ErrorResponse "Invalid request data"
// @Failure 401 {object} ErrorResponse "Caller not authenticated"
// @Failure 404 {object} ErrorResponse "Unknown provider"
// @Failure 429 {object} ErrorResponse "Too many concurrent streams"
// @Router /stream/message [post]
func (h *StreamHandler) StreamMessage(c *gin.Context) {
	actor, ok := ExtractActor(c)
	if !ok {
		return
	}

	var req StreamMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request data",
			Details: err.Error(),
		})
		return
	}
	sessionID, err := uuid.Parse(req.SessionID)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid session id"})
		return
	}
	conn, ok := h.connections[req.Provider]
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Unknown provider: " + req.Provider})
		return
	}

	em, ok := newSSEEmitter(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Streaming unsupported by connection"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	err = h.streamService.Stream(c.Request.Context(), stream.StreamRequest{
		Actor: actor,
		Session: types.Session{
			ID:           sessionID,
			ConnectionID: req.ConnectionID,
			Provider:     req.Provider,
			ModelID:      req.ModelID,
			History:      req.Messages,
		},
		Connection:       conn,
		ClientMessageID:  req.ClientMessageID,
		ReasoningEnabled: req.ReasoningEnabled,
		MaxTokens:        req.MaxTokens,
		Temperature:      req.Temperature,
	}, em)

	if err != nil && !em.started() {
		if err == stream.ErrTooManyStreams {
			c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: "Too many concurrent streams, retry later"})
			return
		}
		h.logger.Errorf("stream failed before first event: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Internal server error"})
		return
	}
	if err != nil {
		// terminal error already delivered as an event on the open stream
		h.logger.Debugf("stream ended with error after delivery: %v", err)
	}
}

// CancelStream requests cancellation of a live stream
// @Summary Cancel a live stream
// @Description Marks the targeted stream cancelled; the stream finishes with a stop event and a cancelled terminal state. Unknown targets are remembered briefly so a cancel racing the stream start still lands
// @Tags Stream
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body CancelStreamRequest true "Cancellation target"
// @Success 202 {object} CancelResponse "Cancellation recorded"
// @Failure 400 {object} ErrorResponse "Invalid request data"
// @Failure 401 {object} ErrorResponse "Caller not authenticated"
// @Router /stream/cancel [post]
func (h *StreamHandler) CancelStream(c *gin.Context) {
	if _, ok := ExtractActor(c); !ok {
		return
	}

	var req CancelStreamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request data",
			Details: err.Error(),
		})
		return
	}
	sessionID, err := uuid.Parse(req.SessionID)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid session id"})
		return
	}
	if req.MessageID == nil && req.ClientMessageID == "" && req.AssistantClientID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "At least one message identifier required"})
		return
	}

	live := h.streamService.Cancel(sessionID, stream.CancelRef{
		MessageID:         req.MessageID,
		ClientMessageID:   req.ClientMessageID,
		AssistantClientID: req.AssistantClientID,
	})

	msg := "cancellation recorded for a later stream"
	if live {
		msg = "live stream cancelled"
	}
	c.JSON(http.StatusAccepted, CancelResponse{Cancelled: live, Message: msg})
}
