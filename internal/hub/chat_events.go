package hub

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ciphermg101/smartHIVE-sub000/internal/event"
	"github.com/ciphermg101/smartHIVE-sub000/internal/service"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

const handlerTimeout = 10 * time.Second

// ChatEvents dispatches chat-related socket events. Every handler follows
// the same sequence: authorize, invoke the service, and broadcast only after
// the service call succeeded. Service errors go back to the originating
// socket alone and never interrupt the room.
type ChatEvents struct {
	hub        *Hub
	chat       service.ChatService
	authorizer service.Authorizer
	logger     *zap.Logger
}

// NewChatEvents creates the dispatcher.
// Note: Call SetHub() after creating Hub to complete the initialization.
func NewChatEvents(chat service.ChatService, authorizer service.Authorizer, logger *zap.Logger) *ChatEvents {
	return &ChatEvents{
		chat:       chat,
		authorizer: authorizer,
		logger:     logger,
	}
}

// SetHub sets the hub reference. Must be called after Hub is created.
func (ce *ChatEvents) SetHub(hub *Hub) {
	ce.hub = hub
}

// Handle processes one inbound socket event.
func (ce *ChatEvents) Handle(ev event.WsEvent, c *Client) {
	switch ev.Event {
	case event.EventJoinApartment:
		ce.handleJoinApartment(ev, c)
	case event.EventLeaveApartment:
		ce.handleLeaveApartment(ev, c)
	case event.EventSendMessage:
		ce.handleSendMessage(ev, c)
	case event.EventMarkMessageRead:
		ce.handleMarkMessageRead(ev, c)
	case event.EventReactToMessage:
		ce.handleReactToMessage(ev, c)
	case event.EventTypingStart:
		ce.handleTyping(ev, c, event.EventUserTyping)
	case event.EventTypingStop:
		ce.handleTyping(ev, c, event.EventUserStoppedTyping)
	default:
		ce.logger.Debug("unknown event type", zap.String("event", ev.Event))
		ce.sendError(c, "unknown event type")
	}
}

func (ce *ChatEvents) handleJoinApartment(ev event.WsEvent, c *Client) {
	var payload event.JoinApartmentPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil || payload.ApartmentID == "" {
		ce.sendError(c, "invalid join-apartment payload")
		return
	}

	apartmentID, err := primitive.ObjectIDFromHex(payload.ApartmentID)
	if err != nil {
		ce.sendError(c, "invalid apartmentId")
		return
	}
	// room keys derive from the canonical hex form, never the raw input
	canonical := apartmentID.Hex()

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	membership, err := ce.authorizer.Authorize(ctx, c.AccountID(), apartmentID)
	if err != nil {
		ce.sendError(c, err.Error())
		return
	}

	room := ApartmentRoom(canonical)
	ce.hub.JoinRoom(c, room)
	c.trackRoom(room, membership)

	ce.sendEvent(c, event.EventJoinedApartment, event.ApartmentAck{ApartmentID: canonical})
	ce.hub.Publish(room, event.EventUserJoined, event.UserPresencePayload{
		ApartmentID:  canonical,
		MembershipID: membership.ID,
		AccountID:    c.AccountID(),
		Name:         membership.DisplayName,
	}, c.ID)
}

func (ce *ChatEvents) handleLeaveApartment(ev event.WsEvent, c *Client) {
	var payload event.LeaveApartmentPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil || payload.ApartmentID == "" {
		ce.sendError(c, "invalid leave-apartment payload")
		return
	}

	apartmentID, err := primitive.ObjectIDFromHex(payload.ApartmentID)
	if err != nil {
		ce.sendError(c, "invalid apartmentId")
		return
	}
	canonical := apartmentID.Hex()

	membership := c.Membership(canonical)
	room := ApartmentRoom(canonical)

	ce.hub.LeaveRoom(c, room)
	c.untrackRoom(room, canonical)

	ce.sendEvent(c, event.EventLeftApartment, event.ApartmentAck{ApartmentID: canonical})

	presence := event.UserPresencePayload{
		ApartmentID: canonical,
		AccountID:   c.AccountID(),
	}
	if membership != nil {
		presence.MembershipID = membership.ID
		presence.Name = membership.DisplayName
	}
	ce.hub.Publish(room, event.EventUserLeft, presence, c.ID)
}

func (ce *ChatEvents) handleSendMessage(ev event.WsEvent, c *Client) {
	var payload event.SendMessagePayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		ce.sendError(c, "invalid send-message payload")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	msg, err := ce.chat.CreateMessage(ctx, c.AccountID(), service.CreateMessageInput{
		ApartmentID: payload.ApartmentID,
		Content:     payload.Content,
		Type:        payload.Type,
		ReplyTo:     payload.ReplyTo,
		Metadata:    payload.Metadata,
	})
	if err != nil {
		ce.sendError(c, err.Error())
		return
	}

	// Persisted; now fan out to everyone in the room, sender included. The
	// room key comes from the stored id so the casing of the inbound hex
	// string cannot split the room.
	ce.hub.Publish(ApartmentRoom(msg.ApartmentID.Hex()), event.EventNewMessage, msg, "")
}

func (ce *ChatEvents) handleMarkMessageRead(ev event.WsEvent, c *Client) {
	var payload event.MarkMessageReadPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil || payload.MessageID == "" {
		ce.sendError(c, "invalid mark-message-read payload")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	ack, err := ce.chat.MarkMessageAsRead(ctx, c.AccountID(), payload.MessageID)
	if err != nil {
		ce.sendError(c, err.Error())
		return
	}

	apartmentID := ack.ApartmentID.Hex()
	ce.hub.Publish(ApartmentRoom(apartmentID), event.EventMessageRead, event.MessageReadPayload{
		MessageID:    ack.MessageID.Hex(),
		ApartmentID:  apartmentID,
		MembershipID: ack.MembershipID,
		ReadAt:       ack.ReadAt,
	}, c.ID)
}

func (ce *ChatEvents) handleReactToMessage(ev event.WsEvent, c *Client) {
	var payload event.ReactToMessagePayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil || payload.MessageID == "" {
		ce.sendError(c, "invalid react-to-message payload")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	msg, err := ce.chat.AddReaction(ctx, c.AccountID(), payload.MessageID, payload.Emoji)
	if err != nil {
		ce.sendError(c, err.Error())
		return
	}

	ce.hub.Publish(ApartmentRoom(msg.ApartmentID.Hex()), event.EventMessageReaction, msg, "")
}

// handleTyping is ephemeral: no persistence, broadcast straight to the room
// excluding the sender.
func (ce *ChatEvents) handleTyping(ev event.WsEvent, c *Client, outbound string) {
	var payload event.TypingPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil || payload.ApartmentID == "" {
		ce.sendError(c, "invalid typing payload")
		return
	}

	apartmentID, err := primitive.ObjectIDFromHex(payload.ApartmentID)
	if err != nil {
		ce.sendError(c, "invalid apartmentId")
		return
	}
	canonical := apartmentID.Hex()

	membership := c.Membership(canonical)
	if membership == nil {
		ce.sendError(c, "join the apartment before typing")
		return
	}

	ce.hub.Publish(ApartmentRoom(canonical), outbound, event.TypingBroadcast{
		ApartmentID:  canonical,
		MembershipID: membership.ID,
		Name:         membership.DisplayName,
	}, c.ID)
}

func (ce *ChatEvents) sendEvent(c *Client, name string, payload any) {
	ev, err := event.New(name, payload)
	if err != nil {
		ce.logger.Error("failed to marshal event", zap.String("event", name), zap.Error(err))
		return
	}
	c.SafeSend(ev, sendTimeout)
}

func (ce *ChatEvents) sendError(c *Client, message string) {
	ce.sendEvent(c, event.EventError, event.ErrorPayload{Message: message})
}
