package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Role is a closed enumeration of apartment roles.
type Role string

const (
	RoleOwner     Role = "owner"
	RoleCaretaker Role = "caretaker"
	RoleTenant    Role = "tenant"
)

func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleCaretaker, RoleTenant:
		return true
	}
	return false
}

// Membership status values.
const (
	MembershipActive   = "active"
	MembershipInvited  = "invited"
	MembershipInactive = "inactive"
)

// Membership is a user's role-scoped identity within one apartment. Its id is
// the effective sender/reader identity for all chat operations; a user with
// memberships in N apartments has N distinct sender identities.
type Membership struct {
	ID          primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	AccountID   string             `json:"accountId" bson:"account_id"`
	ApartmentID primitive.ObjectID `json:"apartmentId" bson:"apartment_id"`
	Role        Role               `json:"role" bson:"role"`
	Status      string             `json:"status" bson:"status"`
	DisplayName string             `json:"displayName" bson:"display_name"`
	Avatar      string             `json:"avatar" bson:"avatar"`
	CreatedAt   time.Time          `json:"createdAt" bson:"created_at"`
	UpdatedAt   *time.Time         `json:"updatedAt" bson:"updated_at"`
}

// SenderInfo projects the membership into message display fields.
func (m *Membership) SenderInfo() *SenderInfo {
	return &SenderInfo{
		MembershipID: m.ID,
		Name:         m.DisplayName,
		Avatar:       m.Avatar,
		Role:         m.Role,
	}
}
