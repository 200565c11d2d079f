package service

import (
	"context"
	"errors"

	"github.com/ciphermg101/smartHIVE-sub000/internal/apperrors"
	"github.com/ciphermg101/smartHIVE-sub000/internal/model"
	"github.com/ciphermg101/smartHIVE-sub000/internal/repo"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Authorizer gates every apartment-scoped chat operation. It resolves the
// caller's active membership for the apartment; the membership id becomes the
// effective sender/reader identity for the operation.
type Authorizer interface {
	// Authorize returns the active membership for (accountID, apartmentID),
	// a NotFound error when none exists, or a Forbidden error when the
	// membership's role is not in requiredRoles. An empty requiredRoles set
	// allows any role. Pure lookup, no side effects.
	Authorize(ctx context.Context, accountID string, apartmentID primitive.ObjectID, requiredRoles ...model.Role) (*model.Membership, error)
}

type authorizer struct {
	memberships repo.MembershipRepository
	logger      *zap.Logger
}

func NewAuthorizer(memberships repo.MembershipRepository, logger *zap.Logger) Authorizer {
	return &authorizer{
		memberships: memberships,
		logger:      logger,
	}
}

func (a *authorizer) Authorize(ctx context.Context, accountID string, apartmentID primitive.ObjectID, requiredRoles ...model.Role) (*model.Membership, error) {
	membership, err := a.memberships.FindActive(ctx, accountID, apartmentID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, apperrors.NotFound("no active membership for this apartment")
		}
		return nil, apperrors.Internal("membership lookup failed", err)
	}

	if len(requiredRoles) == 0 {
		return membership, nil
	}

	for _, role := range requiredRoles {
		if membership.Role == role {
			return membership, nil
		}
	}

	a.logger.Debug("role not permitted",
		zap.String("account_id", accountID),
		zap.String("apartment_id", apartmentID.Hex()),
		zap.String("role", string(membership.Role)),
	)
	return nil, apperrors.Forbidden("role %q is not permitted to perform this action", membership.Role)
}
