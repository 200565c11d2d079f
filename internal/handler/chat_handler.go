package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/ciphermg101/smartHIVE-sub000/internal/apperrors"
	"github.com/ciphermg101/smartHIVE-sub000/internal/event"
	"github.com/ciphermg101/smartHIVE-sub000/internal/middleware"
	"github.com/ciphermg101/smartHIVE-sub000/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Broadcaster pushes socket-observable changes made over REST to the
// apartment room, so socket clients see the same stream regardless of which
// transport originated the change.
type Broadcaster interface {
	PublishToApartment(apartmentID string, name string, payload any)
}

type ChatHandler interface {
	CreateMessage(c *gin.Context)
	GetMessages(c *gin.Context)
	GetUnreadCount(c *gin.Context)
	GetMessage(c *gin.Context)
	MarkMessageRead(c *gin.Context)
	MarkAllRead(c *gin.Context)
	ReactToMessage(c *gin.Context)
	ListReactions(c *gin.Context)
	DeleteMessage(c *gin.Context)
}

type chatHandler struct {
	service     service.ChatService
	broadcaster Broadcaster
	logger      *zap.Logger
}

func NewChatHandler(svc service.ChatService, broadcaster Broadcaster, logger *zap.Logger) ChatHandler {
	return &chatHandler{
		service:     svc,
		broadcaster: broadcaster,
		logger:      logger,
	}
}

type createMessageRequest struct {
	ApartmentID string         `json:"apartmentId" binding:"required"`
	Content     string         `json:"content" binding:"required"`
	Type        string         `json:"type"`
	ReplyTo     string         `json:"replyTo"`
	Metadata    map[string]any `json:"metadata"`
}

type reactRequest struct {
	Emoji string `json:"emoji" binding:"required"`
}

// CreateMessage handles POST /chat
func (h *chatHandler) CreateMessage(c *gin.Context) {
	var req createMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, apperrors.Validation("invalid request body: %v", err))
		return
	}

	msg, err := h.service.CreateMessage(c.Request.Context(), middleware.AccountID(c), service.CreateMessageInput{
		ApartmentID: req.ApartmentID,
		Content:     req.Content,
		Type:        req.Type,
		ReplyTo:     req.ReplyTo,
		Metadata:    req.Metadata,
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	h.broadcaster.PublishToApartment(req.ApartmentID, event.EventNewMessage, msg)
	h.respond(c, http.StatusCreated, msg)
}

// GetMessages handles GET /chat/:id with cursor pagination query params.
func (h *chatHandler) GetMessages(c *gin.Context) {
	apartmentID := c.Param("id")

	limit := int64(service.DefaultPageSize)
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 1 || parsed > service.MaxPageSize {
			h.fail(c, apperrors.Validation("limit must be a number between 1 and %d", service.MaxPageSize))
			return
		}
		limit = parsed
	}

	var before *time.Time
	if raw := c.Query("before"); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			h.fail(c, apperrors.Validation("before must be an ISO timestamp"))
			return
		}
		before = &parsed
	}

	page, err := h.service.GetRecentMessages(c.Request.Context(), middleware.AccountID(c), apartmentID, limit, before)
	if err != nil {
		h.fail(c, err)
		return
	}

	h.respond(c, http.StatusOK, page)
}

// GetUnreadCount handles GET /chat/:id/unread-count
func (h *chatHandler) GetUnreadCount(c *gin.Context) {
	count, err := h.service.GetUnreadCount(c.Request.Context(), middleware.AccountID(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}

	h.respond(c, http.StatusOK, gin.H{"unreadCount": count})
}

// GetMessage handles GET /chat/message/:messageId
func (h *chatHandler) GetMessage(c *gin.Context) {
	msg, err := h.service.GetMessageByID(c.Request.Context(), middleware.AccountID(c), c.Param("messageId"))
	if err != nil {
		h.fail(c, err)
		return
	}

	h.respond(c, http.StatusOK, msg)
}

// MarkMessageRead handles POST /chat/message/:messageId/read
func (h *chatHandler) MarkMessageRead(c *gin.Context) {
	ack, err := h.service.MarkMessageAsRead(c.Request.Context(), middleware.AccountID(c), c.Param("messageId"))
	if err != nil {
		h.fail(c, err)
		return
	}

	h.broadcaster.PublishToApartment(ack.ApartmentID.Hex(), event.EventMessageRead, event.MessageReadPayload{
		MessageID:    ack.MessageID.Hex(),
		ApartmentID:  ack.ApartmentID.Hex(),
		MembershipID: ack.MembershipID,
		ReadAt:       ack.ReadAt,
	})
	h.respond(c, http.StatusOK, gin.H{"read": true})
}

// MarkAllRead handles POST /chat/:id/mark-all-read
func (h *chatHandler) MarkAllRead(c *gin.Context) {
	apartmentID := c.Param("id")
	if err := h.service.BulkMarkAsRead(c.Request.Context(), middleware.AccountID(c), apartmentID); err != nil {
		h.fail(c, err)
		return
	}

	h.respond(c, http.StatusOK, gin.H{"read": true})
}

// ReactToMessage handles POST /chat/message/:messageId/react
func (h *chatHandler) ReactToMessage(c *gin.Context) {
	var req reactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, apperrors.Validation("emoji is required"))
		return
	}

	msg, err := h.service.AddReaction(c.Request.Context(), middleware.AccountID(c), c.Param("messageId"), req.Emoji)
	if err != nil {
		h.fail(c, err)
		return
	}

	h.broadcaster.PublishToApartment(msg.ApartmentID.Hex(), event.EventMessageReaction, msg)
	h.respond(c, http.StatusOK, msg)
}

// ListReactions handles GET /chat/:id/reactions. It returns the raw reaction
// list; clients collapse duplicates for display with the model aggregation.
func (h *chatHandler) ListReactions(c *gin.Context) {
	reactions, err := h.service.ListReactions(c.Request.Context(), middleware.AccountID(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}

	h.respond(c, http.StatusOK, reactions)
}

// DeleteMessage handles DELETE /chat/:id. Only owner and caretaker
// memberships may delete; the service enforces the role check.
func (h *chatHandler) DeleteMessage(c *gin.Context) {
	if err := h.service.DeleteMessage(c.Request.Context(), middleware.AccountID(c), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// -----------------------------------------------------------------------------
// Response envelope
// -----------------------------------------------------------------------------

func (h *chatHandler) respond(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{
		"success": true,
		"data":    data,
	})
}

func (h *chatHandler) fail(c *gin.Context, err error) {
	status := apperrors.StatusCode(err)
	message := err.Error()

	if status == http.StatusInternalServerError {
		h.logger.Error("unhandled error", zap.Error(err), zap.String("path", c.FullPath()))
		if gin.Mode() == gin.ReleaseMode {
			message = "Internal server error"
		}
	}

	c.JSON(status, gin.H{
		"success":    false,
		"statusCode": status,
		"message":    message,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}
