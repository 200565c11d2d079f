package event

import (
	"encoding/json"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Client -> server events
const (
	EventJoinApartment   = "join-apartment"
	EventLeaveApartment  = "leave-apartment"
	EventSendMessage     = "send-message"
	EventMarkMessageRead = "mark-message-read"
	EventReactToMessage  = "react-to-message"
	EventTypingStart     = "typing-start"
	EventTypingStop      = "typing-stop"
)

// Server -> client events
const (
	EventJoinedApartment   = "joined-apartment"
	EventLeftApartment     = "left-apartment"
	EventUserJoined        = "user-joined"
	EventUserLeft          = "user-left"
	EventUserDisconnected  = "user-disconnected"
	EventNewMessage        = "new-message"
	EventMessageRead       = "message-read"
	EventMessageReaction   = "message-reaction"
	EventUserTyping        = "user-typing"
	EventUserStoppedTyping = "user-stopped-typing"
	EventError             = "error"
)

// WsEvent is the envelope every socket frame uses in both directions.
type WsEvent struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// New marshals a payload into an outbound event envelope.
func New(name string, payload any) (WsEvent, error) {
	if payload == nil {
		return WsEvent{Event: name}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return WsEvent{}, err
	}
	return WsEvent{Event: name, Payload: data}, nil
}

// Inbound payloads

type JoinApartmentPayload struct {
	ApartmentID string `json:"apartmentId"`
}

type LeaveApartmentPayload struct {
	ApartmentID string `json:"apartmentId"`
}

type SendMessagePayload struct {
	ApartmentID string         `json:"apartmentId"`
	Content     string         `json:"content"`
	Type        string         `json:"type,omitempty"`
	ReplyTo     string         `json:"replyTo,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type MarkMessageReadPayload struct {
	MessageID string `json:"messageId"`
}

type ReactToMessagePayload struct {
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
}

type TypingPayload struct {
	ApartmentID string `json:"apartmentId"`
}

// Outbound payloads

type ApartmentAck struct {
	ApartmentID string `json:"apartmentId"`
}

type UserPresencePayload struct {
	ApartmentID  string             `json:"apartmentId"`
	MembershipID primitive.ObjectID `json:"membershipId,omitempty"`
	AccountID    string             `json:"accountId"`
	Name         string             `json:"name,omitempty"`
}

type MessageReadPayload struct {
	MessageID    string             `json:"messageId"`
	ApartmentID  string             `json:"apartmentId"`
	MembershipID primitive.ObjectID `json:"membershipId"`
	ReadAt       time.Time          `json:"readAt"`
}

type TypingBroadcast struct {
	ApartmentID  string             `json:"apartmentId"`
	MembershipID primitive.ObjectID `json:"membershipId"`
	Name         string             `json:"name,omitempty"`
}

// ErrorPayload is sent back to the originating socket only; a service failure
// never interrupts the room broadcast for other members.
type ErrorPayload struct {
	Message string `json:"message"`
}
