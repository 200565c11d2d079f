package repo

import (
	"context"
	"errors"

	"github.com/ciphermg101/smartHIVE-sub000/internal/db"
	"github.com/ciphermg101/smartHIVE-sub000/internal/model"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

type MembershipRepository interface {
	// FindActive resolves the active membership for (accountID, apartmentID).
	FindActive(ctx context.Context, accountID string, apartmentID primitive.ObjectID) (*model.Membership, error)
	FindByID(ctx context.Context, id primitive.ObjectID) (*model.Membership, error)
}

type membershipRepository struct {
	mongoRepo *db.Repository[model.Membership]
	logger    *zap.Logger
}

func NewMembershipRepository(repo *db.Repository[model.Membership], logger *zap.Logger) MembershipRepository {
	return &membershipRepository{
		mongoRepo: repo,
		logger:    logger,
	}
}

func (r *membershipRepository) FindActive(ctx context.Context, accountID string, apartmentID primitive.ObjectID) (*model.Membership, error) {
	if accountID == "" {
		return nil, ErrNotFound
	}

	filter := db.NewFilter().
		Eq("account_id", accountID).
		ObjectID("apartment_id", apartmentID).
		Eq("status", model.MembershipActive).
		Build()

	membership, err := r.mongoRepo.FindOne(ctx, filter)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			r.logger.Debug("no active membership",
				zap.String("account_id", accountID),
				zap.String("apartment_id", apartmentID.Hex()),
			)
			return nil, ErrNotFound
		}
		r.logger.Error("failed to fetch membership",
			zap.String("account_id", accountID),
			zap.String("apartment_id", apartmentID.Hex()),
			zap.Error(err),
		)
		return nil, err
	}

	return membership, nil
}

func (r *membershipRepository) FindByID(ctx context.Context, id primitive.ObjectID) (*model.Membership, error) {
	membership, err := r.mongoRepo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return membership, nil
}
