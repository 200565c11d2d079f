package model

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	MessageTypeText   = "text"
	MessageTypeImage  = "image"
	MessageTypeFile   = "file"
	MessageTypeSystem = "system"

	MessageStatusSent      = "sent"
	MessageStatusDelivered = "delivered"
	MessageStatusRead      = "read"

	MaxContentLength = 5000
)

var (
	ErrEmptyContent   = errors.New("message content cannot be empty")
	ErrContentTooLong = errors.New("message content exceeds maximum length")
	ErrInvalidType    = errors.New("invalid message type")
)

// Message represents a chat message in MongoDB. A message belongs to exactly
// one apartment and is never re-parented.
type Message struct {
	ID          primitive.ObjectID  `json:"id" bson:"_id,omitempty"`
	ApartmentID primitive.ObjectID  `json:"apartmentId" bson:"apartment_id"`
	SenderID    primitive.ObjectID  `json:"senderId" bson:"sender_id"`
	Content     string              `json:"content" bson:"content"`
	Type        string              `json:"type" bson:"type"`
	Status      string              `json:"status" bson:"status"`
	ReadBy      []ReadReceipt       `json:"readBy" bson:"read_by"`
	ReplyTo     *primitive.ObjectID `json:"replyTo,omitempty" bson:"reply_to,omitempty"`
	Reactions   []Reaction          `json:"reactions" bson:"reactions"`
	Metadata    map[string]any      `json:"metadata,omitempty" bson:"metadata,omitempty"`
	CreatedAt   time.Time           `json:"createdAt" bson:"created_at"`
	UpdatedAt   time.Time           `json:"updatedAt" bson:"updated_at"`

	// Sender display fields resolved from the membership at read time,
	// never persisted with the message.
	Sender *SenderInfo `json:"sender,omitempty" bson:"-"`
}

// ReadReceipt records that one membership has read the message. Receipts are
// append-only; a membership appears at most once.
type ReadReceipt struct {
	MembershipID primitive.ObjectID `json:"membershipId" bson:"membership_id"`
	ReadAt       time.Time          `json:"readAt" bson:"read_at"`
}

// Reaction is a raw reaction entry in insertion order. A (userId, emoji) pair
// may repeat in storage; deduplication happens at aggregation time.
type Reaction struct {
	UserID    primitive.ObjectID `json:"userId" bson:"user_id"`
	Emoji     string             `json:"emoji" bson:"emoji"`
	CreatedAt time.Time          `json:"createdAt" bson:"created_at"`
}

// SenderInfo is the display projection of the authoring membership.
type SenderInfo struct {
	MembershipID primitive.ObjectID `json:"membershipId"`
	Name         string             `json:"name"`
	Avatar       string             `json:"avatar,omitempty"`
	Role         Role               `json:"role"`
}

// ReactionCount is one aggregated reaction row for display.
type ReactionCount struct {
	Emoji   string               `json:"emoji"`
	Count   int                  `json:"count"`
	UserIDs []primitive.ObjectID `json:"userIds"`
}

// ValidMessageType reports whether t is one of the supported message types.
func ValidMessageType(t string) bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeFile, MessageTypeSystem:
		return true
	}
	return false
}

// ValidateContent enforces the 1..5000 character bound on message content.
func ValidateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return ErrContentTooLong
	}
	return nil
}

// ReadByMembership reports whether the membership already has a read receipt.
func (m *Message) ReadByMembership(membershipID primitive.ObjectID) bool {
	for _, r := range m.ReadBy {
		if r.MembershipID == membershipID {
			return true
		}
	}
	return false
}

// AggregateReactions collapses raw reaction entries into per-emoji counts.
// Duplicate (userId, emoji) pairs count once and each user is listed once per
// emoji; emoji order follows first appearance in the raw list.
func AggregateReactions(reactions []Reaction) []ReactionCount {
	type key struct {
		user  primitive.ObjectID
		emoji string
	}

	seen := make(map[key]struct{}, len(reactions))
	index := make(map[string]int)
	out := make([]ReactionCount, 0)

	for _, r := range reactions {
		k := key{user: r.UserID, emoji: r.Emoji}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}

		i, ok := index[r.Emoji]
		if !ok {
			index[r.Emoji] = len(out)
			out = append(out, ReactionCount{Emoji: r.Emoji})
			i = len(out) - 1
		}
		out[i].Count++
		out[i].UserIDs = append(out[i].UserIDs, r.UserID)
	}

	return out
}
