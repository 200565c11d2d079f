package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ciphermg101/smartHIVE-sub000/internal/apperrors"
	"github.com/ciphermg101/smartHIVE-sub000/internal/model"
	"github.com/ciphermg101/smartHIVE-sub000/internal/repo"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 100
)

// CreateMessageInput carries a send-message request from either transport.
type CreateMessageInput struct {
	ApartmentID string
	Content     string
	Type        string
	ReplyTo     string
	Metadata    map[string]any
}

// MessagePage is one page of backward cursor pagination. Messages are in
// ascending creation order for display; the client supplies the createdAt of
// the oldest message it has as the next `before`.
type MessagePage struct {
	Messages []model.Message `json:"messages"`
	HasMore  bool            `json:"hasMore"`
}

// ReadAck describes a successfully recorded read receipt, with enough
// context for the gateway to broadcast it to the apartment room.
type ReadAck struct {
	MessageID    primitive.ObjectID
	ApartmentID  primitive.ObjectID
	MembershipID primitive.ObjectID
	ReadAt       time.Time
}

// ChatService is the business logic for chat messages. Every operation
// resolves and checks the caller's membership before touching the store.
type ChatService interface {
	CreateMessage(ctx context.Context, accountID string, in CreateMessageInput) (*model.Message, error)
	GetRecentMessages(ctx context.Context, accountID, apartmentID string, limit int64, before *time.Time) (*MessagePage, error)
	GetMessageByID(ctx context.Context, accountID, messageID string) (*model.Message, error)
	MarkMessageAsRead(ctx context.Context, accountID, messageID string) (*ReadAck, error)
	BulkMarkAsRead(ctx context.Context, accountID, apartmentID string) error
	GetUnreadCount(ctx context.Context, accountID, apartmentID string) (int64, error)
	AddReaction(ctx context.Context, accountID, messageID, emoji string) (*model.Message, error)
	ListReactions(ctx context.Context, accountID, messageID string) ([]model.Reaction, error)
	DeleteMessage(ctx context.Context, accountID, messageID string) error
}

type chatService struct {
	messages    repo.MessageRepository
	memberships repo.MembershipRepository
	authorizer  Authorizer
	logger      *zap.Logger
}

func NewChatService(messages repo.MessageRepository, memberships repo.MembershipRepository, authorizer Authorizer, logger *zap.Logger) ChatService {
	return &chatService{
		messages:    messages,
		memberships: memberships,
		authorizer:  authorizer,
		logger:      logger,
	}
}

// -----------------------------------------------------------------------------
// CreateMessage
// -----------------------------------------------------------------------------

func (s *chatService) CreateMessage(ctx context.Context, accountID string, in CreateMessageInput) (*model.Message, error) {
	apartmentID, err := parseObjectID(in.ApartmentID, "apartmentId")
	if err != nil {
		return nil, err
	}

	if err := model.ValidateContent(in.Content); err != nil {
		return nil, apperrors.Validation("%v", err)
	}

	msgType := in.Type
	if msgType == "" {
		msgType = model.MessageTypeText
	}
	if !model.ValidMessageType(msgType) {
		return nil, apperrors.Validation("invalid message type %q", in.Type)
	}

	membership, err := s.authorizer.Authorize(ctx, accountID, apartmentID)
	if err != nil {
		return nil, err
	}

	var replyTo *primitive.ObjectID
	if in.ReplyTo != "" {
		id, err := parseObjectID(in.ReplyTo, "replyTo")
		if err != nil {
			return nil, err
		}
		exists, err := s.messages.Exists(ctx, id)
		if err != nil {
			return nil, apperrors.Internal("reply lookup failed", err)
		}
		if !exists {
			return nil, apperrors.Validation("replyTo message does not exist")
		}
		replyTo = &id
	}

	now := time.Now().UTC()
	msg := &model.Message{
		ApartmentID: apartmentID,
		SenderID:    membership.ID,
		Content:     in.Content,
		Type:        msgType,
		Status:      model.MessageStatusSent,
		ReadBy:      []model.ReadReceipt{},
		Reactions:   []model.Reaction{},
		ReplyTo:     replyTo,
		Metadata:    in.Metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	id, err := s.messages.Insert(ctx, msg)
	if err != nil {
		return nil, apperrors.Internal("failed to persist message", err)
	}
	msg.ID = id
	msg.Sender = membership.SenderInfo()

	return msg, nil
}

// -----------------------------------------------------------------------------
// Pagination
// -----------------------------------------------------------------------------

func (s *chatService) GetRecentMessages(ctx context.Context, accountID, apartmentID string, limit int64, before *time.Time) (*MessagePage, error) {
	aptID, err := parseObjectID(apartmentID, "apartmentId")
	if err != nil {
		return nil, err
	}

	if _, err := s.authorizer.Authorize(ctx, accountID, aptID); err != nil {
		return nil, err
	}

	limit = clampLimit(limit)

	messages, hasMore, err := s.messages.FindPage(ctx, aptID, limit, before)
	if err != nil {
		return nil, apperrors.Internal("failed to fetch messages", err)
	}

	// The store returns newest first for pagination; flip to ascending for
	// display.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	s.resolveSenders(ctx, messages)

	return &MessagePage{Messages: messages, HasMore: hasMore}, nil
}

func (s *chatService) GetMessageByID(ctx context.Context, accountID, messageID string) (*model.Message, error) {
	msg, err := s.fetchAuthorized(ctx, accountID, messageID)
	if err != nil {
		return nil, err
	}

	if sender, err := s.memberships.FindByID(ctx, msg.SenderID); err == nil {
		msg.Sender = sender.SenderInfo()
	}
	return msg, nil
}

// -----------------------------------------------------------------------------
// Read receipts
// -----------------------------------------------------------------------------

func (s *chatService) MarkMessageAsRead(ctx context.Context, accountID, messageID string) (*ReadAck, error) {
	msg, err := s.fetchAuthorized(ctx, accountID, messageID)
	if err != nil {
		return nil, err
	}

	membership, err := s.authorizer.Authorize(ctx, accountID, msg.ApartmentID)
	if err != nil {
		return nil, err
	}

	receipt := model.ReadReceipt{MembershipID: membership.ID, ReadAt: time.Now().UTC()}
	if _, err := s.messages.MarkRead(ctx, msg.ID, receipt); err != nil {
		return nil, apperrors.Internal("failed to mark message read", err)
	}

	// Double reads are a no-op, never an error.
	return &ReadAck{
		MessageID:    msg.ID,
		ApartmentID:  msg.ApartmentID,
		MembershipID: membership.ID,
		ReadAt:       receipt.ReadAt,
	}, nil
}

func (s *chatService) BulkMarkAsRead(ctx context.Context, accountID, apartmentID string) error {
	aptID, err := parseObjectID(apartmentID, "apartmentId")
	if err != nil {
		return err
	}

	membership, err := s.authorizer.Authorize(ctx, accountID, aptID)
	if err != nil {
		return err
	}

	if _, err := s.messages.MarkAllRead(ctx, aptID, membership.ID, time.Now().UTC()); err != nil {
		return apperrors.Internal("failed to bulk mark read", err)
	}
	return nil
}

func (s *chatService) GetUnreadCount(ctx context.Context, accountID, apartmentID string) (int64, error) {
	aptID, err := parseObjectID(apartmentID, "apartmentId")
	if err != nil {
		return 0, err
	}

	membership, err := s.authorizer.Authorize(ctx, accountID, aptID)
	if err != nil {
		return 0, err
	}

	count, err := s.messages.CountUnread(ctx, aptID, membership.ID)
	if err != nil {
		return 0, apperrors.Internal("failed to count unread messages", err)
	}
	return count, nil
}

// -----------------------------------------------------------------------------
// Reactions
// -----------------------------------------------------------------------------

func (s *chatService) AddReaction(ctx context.Context, accountID, messageID, emoji string) (*model.Message, error) {
	if strings.TrimSpace(emoji) == "" {
		return nil, apperrors.Validation("emoji cannot be empty")
	}

	msg, err := s.fetchAuthorized(ctx, accountID, messageID)
	if err != nil {
		return nil, err
	}

	membership, err := s.authorizer.Authorize(ctx, accountID, msg.ApartmentID)
	if err != nil {
		return nil, err
	}

	reaction := model.Reaction{
		UserID:    membership.ID,
		Emoji:     emoji,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.messages.AddReaction(ctx, msg.ID, reaction); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, apperrors.NotFound("message not found")
		}
		return nil, apperrors.Internal("failed to add reaction", err)
	}

	updated, err := s.messages.FindByID(ctx, msg.ID)
	if err != nil {
		return nil, apperrors.Internal("failed to reload message", err)
	}
	if sender, err := s.memberships.FindByID(ctx, updated.SenderID); err == nil {
		updated.Sender = sender.SenderInfo()
	}
	return updated, nil
}

func (s *chatService) ListReactions(ctx context.Context, accountID, messageID string) ([]model.Reaction, error) {
	msg, err := s.fetchAuthorized(ctx, accountID, messageID)
	if err != nil {
		return nil, err
	}
	return msg.Reactions, nil
}

// -----------------------------------------------------------------------------
// Delete
// -----------------------------------------------------------------------------

func (s *chatService) DeleteMessage(ctx context.Context, accountID, messageID string) error {
	id, err := parseObjectID(messageID, "messageId")
	if err != nil {
		return err
	}

	msg, err := s.messages.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return apperrors.NotFound("message not found")
		}
		return apperrors.Internal("message lookup failed", err)
	}

	if _, err := s.authorizer.Authorize(ctx, accountID, msg.ApartmentID, model.RoleOwner, model.RoleCaretaker); err != nil {
		return err
	}

	// Hard delete. Replies that reference this message keep their reply_to;
	// clients filter dangling references at read time.
	if err := s.messages.Delete(ctx, id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return apperrors.NotFound("message not found")
		}
		return apperrors.Internal("failed to delete message", err)
	}

	s.logger.Info("message deleted",
		zap.String("message_id", messageID),
		zap.String("apartment_id", msg.ApartmentID.Hex()),
	)
	return nil
}

// -----------------------------------------------------------------------------
// Private Helper Methods
// -----------------------------------------------------------------------------

// fetchAuthorized loads a message and verifies the caller holds an active
// membership in its apartment. Messages in apartments the caller is not a
// member of surface as not found, never as forbidden.
func (s *chatService) fetchAuthorized(ctx context.Context, accountID, messageID string) (*model.Message, error) {
	id, err := parseObjectID(messageID, "messageId")
	if err != nil {
		return nil, err
	}

	msg, err := s.messages.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, apperrors.NotFound("message not found")
		}
		return nil, apperrors.Internal("message lookup failed", err)
	}

	if _, err := s.authorizer.Authorize(ctx, accountID, msg.ApartmentID); err != nil {
		if apperrors.IsNotFound(err) {
			return nil, apperrors.NotFound("message not found")
		}
		return nil, err
	}

	return msg, nil
}

// resolveSenders joins sender display fields onto each message. Lookups are
// cached per call; a missing membership leaves the field nil.
func (s *chatService) resolveSenders(ctx context.Context, messages []model.Message) {
	cache := make(map[primitive.ObjectID]*model.SenderInfo)
	for i := range messages {
		if info, ok := cache[messages[i].SenderID]; ok {
			messages[i].Sender = info
			continue
		}
		membership, err := s.memberships.FindByID(ctx, messages[i].SenderID)
		if err != nil {
			cache[messages[i].SenderID] = nil
			continue
		}
		info := membership.SenderInfo()
		cache[messages[i].SenderID] = info
		messages[i].Sender = info
	}
}

func clampLimit(limit int64) int64 {
	if limit <= 0 {
		return DefaultPageSize
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}

func parseObjectID(hex, field string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(hex)
	if err != nil {
		return primitive.NilObjectID, apperrors.Validation("invalid %s", field)
	}
	return id, nil
}
