package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ciphermg101/smartHIVE-sub000/internal/db"
	"github.com/ciphermg101/smartHIVE-sub000/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

var (
	ErrNotFound           = errors.New("document not found")
	ErrInvalidMessage     = errors.New("invalid message: message cannot be nil")
	ErrInvalidApartmentID = errors.New("invalid apartment ID: cannot be empty")
	ErrOperationTimeout   = errors.New("operation timeout exceeded")
)

const (
	defaultWriteTimeout = 5 * time.Second
	defaultReadTimeout  = 30 * time.Second

	maxRetries     = 3
	baseRetryDelay = 100 * time.Millisecond
	maxRetryDelay  = 2 * time.Second
)

type messageRepository struct {
	mongoRepo *db.Repository[model.Message]
	logger    *zap.Logger
}

type MessageRepository interface {
	Insert(ctx context.Context, msg *model.Message) (primitive.ObjectID, error)
	FindByID(ctx context.Context, id primitive.ObjectID) (*model.Message, error)
	FindPage(ctx context.Context, apartmentID primitive.ObjectID, limit int64, before *time.Time) ([]model.Message, bool, error)
	MarkRead(ctx context.Context, id primitive.ObjectID, receipt model.ReadReceipt) (bool, error)
	MarkAllRead(ctx context.Context, apartmentID, membershipID primitive.ObjectID, at time.Time) (int64, error)
	CountUnread(ctx context.Context, apartmentID, membershipID primitive.ObjectID) (int64, error)
	AddReaction(ctx context.Context, id primitive.ObjectID, reaction model.Reaction) error
	Delete(ctx context.Context, id primitive.ObjectID) error
	Exists(ctx context.Context, id primitive.ObjectID) (bool, error)
}

func NewMessageRepository(repo *db.Repository[model.Message], logger *zap.Logger) MessageRepository {
	return &messageRepository{
		mongoRepo: repo,
		logger:    logger,
	}
}

// -----------------------------------------------------------------------------
// Insert
// -----------------------------------------------------------------------------

func (m *messageRepository) Insert(ctx context.Context, msg *model.Message) (primitive.ObjectID, error) {
	if msg == nil {
		return primitive.NilObjectID, ErrInvalidMessage
	}
	if msg.ApartmentID.IsZero() {
		return primitive.NilObjectID, ErrInvalidApartmentID
	}

	ctx, cancel := m.ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			if err := m.waitForRetry(ctx, attempt); err != nil {
				return primitive.NilObjectID, err
			}
		}

		result, err := m.mongoRepo.Create(ctx, *msg)
		if err == nil {
			insertedID := primitive.NilObjectID
			if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
				insertedID = oid
			}

			m.logger.Info("message inserted successfully",
				zap.String("inserted_id", insertedID.Hex()),
				zap.String("apartment_id", msg.ApartmentID.Hex()),
				zap.Int("attempt", attempt+1),
			)
			return insertedID, nil
		}

		lastErr = err
		if !m.isRetryableError(err) {
			break
		}

		m.logger.Warn("insert attempt failed, retrying",
			zap.Error(err),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", maxRetries),
		)
	}

	m.logger.Error("failed to insert message after all retries",
		zap.Error(lastErr),
		zap.String("apartment_id", msg.ApartmentID.Hex()),
	)

	return primitive.NilObjectID, fmt.Errorf("insert message failed: %w", lastErr)
}

// -----------------------------------------------------------------------------
// Reads
// -----------------------------------------------------------------------------

func (m *messageRepository) FindByID(ctx context.Context, id primitive.ObjectID) (*model.Message, error) {
	ctx, cancel := m.ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	msg, err := m.mongoRepo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, m.handleReadError(err, id.Hex())
	}
	return msg, nil
}

// FindPage returns up to limit messages for the apartment, newest first,
// optionally restricted to created_at < before. It fetches one extra document
// to decide hasMore without a second count query.
func (m *messageRepository) FindPage(ctx context.Context, apartmentID primitive.ObjectID, limit int64, before *time.Time) ([]model.Message, bool, error) {
	ctx, cancel := m.ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	fb := db.NewFilter().ObjectID("apartment_id", apartmentID)
	if before != nil {
		fb.Lt("created_at", *before)
	}
	filter := fb.Build()

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(limit + 1)

	messages, err := m.mongoRepo.Find(ctx, filter, opts)
	if err != nil {
		return nil, false, m.handleReadError(err, apartmentID.Hex())
	}

	hasMore := int64(len(messages)) > limit
	if hasMore {
		messages = messages[:limit]
	}

	m.logger.Debug("messages page fetched",
		zap.String("apartment_id", apartmentID.Hex()),
		zap.Int("count", len(messages)),
		zap.Bool("has_more", hasMore),
	)

	return messages, hasMore, nil
}

func (m *messageRepository) CountUnread(ctx context.Context, apartmentID, membershipID primitive.ObjectID) (int64, error) {
	ctx, cancel := m.ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().
		ObjectID("apartment_id", apartmentID).
		NotElemMatch("read_by", bson.M{"membership_id": membershipID}).
		Build()

	count, err := m.mongoRepo.Count(ctx, filter)
	if err != nil {
		return 0, m.handleReadError(err, apartmentID.Hex())
	}
	return count, nil
}

func (m *messageRepository) Exists(ctx context.Context, id primitive.ObjectID) (bool, error) {
	ctx, cancel := m.ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	return m.mongoRepo.Exists(ctx, db.NewFilter().ObjectID("_id", id).Build())
}

// -----------------------------------------------------------------------------
// Read receipts
// -----------------------------------------------------------------------------

// MarkRead appends the receipt only when the membership has no entry yet. The
// guard lives in the filter, so concurrent read-marks from two connections
// cannot produce a duplicate entry. Returns false when the receipt was
// already present.
func (m *messageRepository) MarkRead(ctx context.Context, id primitive.ObjectID, receipt model.ReadReceipt) (bool, error) {
	ctx, cancel := m.ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	filter := db.NewFilter().
		ObjectID("_id", id).
		NotElemMatch("read_by", bson.M{"membership_id": receipt.MembershipID}).
		Build()
	update := bson.M{
		"$push": bson.M{"read_by": receipt},
		"$set":  bson.M{"updated_at": receipt.ReadAt},
	}

	result, err := m.mongoRepo.UpdateOneRaw(ctx, filter, update)
	if err != nil {
		m.logger.Error("failed to mark message read",
			zap.Error(err),
			zap.String("message_id", id.Hex()),
		)
		return false, fmt.Errorf("mark read failed: %w", err)
	}

	return result.ModifiedCount > 0, nil
}

// MarkAllRead applies the same guarded append to every unread message in the
// apartment. Each document update is atomic; the whole set is best effort and
// self-healing on retry.
func (m *messageRepository) MarkAllRead(ctx context.Context, apartmentID, membershipID primitive.ObjectID, at time.Time) (int64, error) {
	ctx, cancel := m.ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	filter := db.NewFilter().
		ObjectID("apartment_id", apartmentID).
		NotElemMatch("read_by", bson.M{"membership_id": membershipID}).
		Build()
	update := bson.M{
		"$push": bson.M{"read_by": model.ReadReceipt{MembershipID: membershipID, ReadAt: at}},
		"$set":  bson.M{"updated_at": at},
	}

	result, err := m.mongoRepo.UpdateManyRaw(ctx, filter, update)
	if err != nil {
		m.logger.Error("failed to bulk mark read",
			zap.Error(err),
			zap.String("apartment_id", apartmentID.Hex()),
		)
		return 0, fmt.Errorf("bulk mark read failed: %w", err)
	}

	m.logger.Debug("bulk mark read applied",
		zap.String("apartment_id", apartmentID.Hex()),
		zap.Int64("modified", result.ModifiedCount),
	)

	return result.ModifiedCount, nil
}

// -----------------------------------------------------------------------------
// Reactions
// -----------------------------------------------------------------------------

// AddReaction appends the raw reaction entry. No uniqueness is enforced at
// write time; duplicate (user, emoji) pairs are collapsed at display time.
func (m *messageRepository) AddReaction(ctx context.Context, id primitive.ObjectID, reaction model.Reaction) error {
	ctx, cancel := m.ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	update := bson.M{
		"$push": bson.M{"reactions": reaction},
		"$set":  bson.M{"updated_at": reaction.CreatedAt},
	}

	result, err := m.mongoRepo.UpdateOneRaw(ctx, db.NewFilter().ObjectID("_id", id).Build(), update)
	if err != nil {
		m.logger.Error("failed to add reaction",
			zap.Error(err),
			zap.String("message_id", id.Hex()),
		)
		return fmt.Errorf("add reaction failed: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// -----------------------------------------------------------------------------
// Delete
// -----------------------------------------------------------------------------

// Delete hard-deletes the message. Messages replying to it keep their
// reply_to reference; dangling replies are tolerated at read time.
func (m *messageRepository) Delete(ctx context.Context, id primitive.ObjectID) error {
	ctx, cancel := m.ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	result, err := m.mongoRepo.DeleteByID(ctx, id)
	if err != nil {
		m.logger.Error("failed to delete message",
			zap.Error(err),
			zap.String("message_id", id.Hex()),
		)
		return fmt.Errorf("delete message failed: %w", err)
	}
	if result.DeletedCount == 0 {
		return ErrNotFound
	}

	m.logger.Info("message deleted", zap.String("message_id", id.Hex()))
	return nil
}

// -----------------------------------------------------------------------------
// Private Helper Methods
// -----------------------------------------------------------------------------

func (m *messageRepository) ensureTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, hadDeadline := ctx.Deadline(); hadDeadline {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func (m *messageRepository) waitForRetry(ctx context.Context, attempt int) error {
	delay := time.Duration(1<<uint(attempt)) * baseRetryDelay
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("retry wait cancelled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func (m *messageRepository) isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}

	return mongo.IsTimeout(err) || mongo.IsNetworkError(err)
}

func (m *messageRepository) handleReadError(err error, id string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		m.logger.Error("read timeout", zap.String("id", id))
		return ErrOperationTimeout
	}

	if errors.Is(err, context.Canceled) {
		m.logger.Debug("read cancelled", zap.String("id", id))
		return err
	}

	m.logger.Error("read failed", zap.Error(err), zap.String("id", id))
	return fmt.Errorf("read messages failed: %w", err)
}
