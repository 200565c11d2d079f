package hub

import (
	"context"
	"crypto/sha1"
	"encoding/binary"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ciphermg101/smartHIVE-sub000/internal/auth"
	"github.com/ciphermg101/smartHIVE-sub000/internal/event"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	shardCount = 64 // tune: 16/64/128 depending on load
)

// ApartmentRoom derives the room name for an apartment. Rooms map 1:1 to
// apartments.
func ApartmentRoom(apartmentID string) string {
	return "apartment:" + apartmentID
}

// AccountRoom is the private per-account room joined at handshake time.
func AccountRoom(accountID string) string {
	return "account:" + accountID
}

type inboundMessage struct {
	event  event.WsEvent
	client *Client
}

type roomBucket struct {
	sync.RWMutex
	rooms map[string]map[string]*Client
}

// EventHandler processes inbound socket events on behalf of the hub.
type EventHandler interface {
	Handle(ev event.WsEvent, c *Client)
}

// Hub owns the in-memory room registry for this process. Connection
// lifecycle (register, join, leave, disconnect) drives explicit add/remove
// operations; there is no cross-process fan-out.
type Hub struct {
	shards     [shardCount]*roomBucket
	register   chan *Client
	unregister chan *Client
	inbound    chan inboundMessage

	events         EventHandler
	verifier       *auth.TokenVerifier
	allowedOrigins []string
	upgrader       websocket.Upgrader
	logger         *zap.Logger

	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
}

func NewHub(verifier *auth.TokenVerifier, events EventHandler, logger *zap.Logger, allowedOrigins []string) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		register:       make(chan *Client, 1024),
		unregister:     make(chan *Client, 1024),
		inbound:        make(chan inboundMessage, 4096), // buffer for burst handling
		events:         events,
		verifier:       verifier,
		allowedOrigins: allowedOrigins,
		logger:         logger,
		ctx:            ctx,
		cancel:         cancel,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}

	for i := 0; i < shardCount; i++ {
		h.shards[i] = &roomBucket{
			rooms: make(map[string]map[string]*Client),
		}
	}

	// run manager loop
	go h.run()

	// start worker loop
	for i := 0; i < workerPoolSize; i++ {
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			for {
				select {
				case <-h.ctx.Done():
					return
				case in, ok := <-h.inbound:
					if !ok {
						return
					}
					h.events.Handle(in.event, in.client)
				}
			}
		}()
	}

	return h
}

func (h *Hub) run() {
	for {
		select {
		case <-h.ctx.Done():
			return
		case c := <-h.register:
			h.addClient(c)
		case c := <-h.unregister:
			h.removeClient(c)
		}
	}
}

func getShard(room string) uint32 {
	if room == "" {
		return 0
	}

	sum := sha1.Sum([]byte(room))
	return binary.BigEndian.Uint32(sum[:4]) % shardCount
}

// addClient places a freshly authenticated connection into its private
// account room.
func (h *Hub) addClient(c *Client) {
	h.joinRoom(c, AccountRoom(c.accountID))
}

// removeClient notifies every apartment room the connection was part of that
// the user disconnected, then releases all room memberships.
func (h *Hub) removeClient(c *Client) {
	for _, room := range c.JoinedRooms() {
		h.leaveRoom(c, room)

		if apartmentID, ok := apartmentFromRoom(room); ok {
			payload := event.UserPresencePayload{
				ApartmentID: apartmentID,
				AccountID:   c.accountID,
			}
			if m := c.Membership(apartmentID); m != nil {
				payload.MembershipID = m.ID
				payload.Name = m.DisplayName
			}
			h.Publish(room, event.EventUserDisconnected, payload, c.ID)
		}
	}

	c.Close()
	h.logger.Info("client removed",
		zap.String("client_id", c.ID),
		zap.String("account_id", c.accountID),
	)
}

func apartmentFromRoom(room string) (string, bool) {
	const prefix = "apartment:"
	if len(room) > len(prefix) && room[:len(prefix)] == prefix {
		return room[len(prefix):], true
	}
	return "", false
}

// JoinRoom adds the connection to a room and records it on the client.
func (h *Hub) JoinRoom(c *Client, room string) {
	h.joinRoom(c, room)
}

func (h *Hub) joinRoom(c *Client, room string) {
	b := h.shards[getShard(room)]
	b.Lock()
	defer b.Unlock()

	members, ok := b.rooms[room]
	if !ok {
		members = make(map[string]*Client)
		b.rooms[room] = members
	}

	members[c.ID] = c
	h.logger.Debug("client joined room",
		zap.String("client_id", c.ID),
		zap.String("room", room),
	)
}

// LeaveRoom removes the connection from a room.
func (h *Hub) LeaveRoom(c *Client, room string) {
	h.leaveRoom(c, room)
}

func (h *Hub) leaveRoom(c *Client, room string) {
	b := h.shards[getShard(room)]
	b.Lock()
	defer b.Unlock()

	if members, ok := b.rooms[room]; ok {
		delete(members, c.ID)
		if len(members) == 0 {
			delete(b.rooms, room)
		}
	}
}

// RoomAccounts returns the distinct account ids currently joined to a room.
func (h *Hub) RoomAccounts(room string) []string {
	b := h.shards[getShard(room)]
	b.RLock()
	defer b.RUnlock()

	seen := make(map[string]struct{})
	accounts := make([]string, 0)
	for _, c := range b.rooms[room] {
		if _, dup := seen[c.accountID]; dup {
			continue
		}
		seen[c.accountID] = struct{}{}
		accounts = append(accounts, c.accountID)
	}
	return accounts
}

// Publish marshals a payload and fans it out to every socket in the room,
// optionally excluding one client. Delivery is best effort: a socket gone at
// broadcast time misses the event and reconciles over REST on reconnect.
func (h *Hub) Publish(room string, name string, payload any, excludeClientID string) {
	ev, err := event.New(name, payload)
	if err != nil {
		h.logger.Error("failed to marshal event", zap.String("event", name), zap.Error(err))
		return
	}
	h.publishToRoom(room, ev, excludeClientID)
}

// PublishToApartment implements the REST handler's broadcaster.
func (h *Hub) PublishToApartment(apartmentID string, name string, payload any) {
	h.Publish(ApartmentRoom(apartmentID), name, payload, "")
}

func (h *Hub) publishToRoom(room string, ev event.WsEvent, excludeClientID string) {
	b := h.shards[getShard(room)]

	// collect clients while holding RLock
	b.RLock()
	members, ok := b.rooms[room]
	if !ok || len(members) == 0 {
		b.RUnlock()
		return
	}

	clients := make([]*Client, 0, len(members))
	for _, c := range members {
		if c.ID == excludeClientID {
			continue
		}
		clients = append(clients, c)
	}
	b.RUnlock()

	// deliver to clients without holding the lock; a client disconnecting
	// between snapshot and delivery is skipped via its context
	for _, c := range clients {
		select {
		case <-c.ctx.Done():
		case c.egress <- ev:
		case <-time.After(sendTimeout):
			h.logger.Warn("egress full",
				zap.String("client_id", c.ID),
				zap.String("room", room),
			)
			if kickOnFull {
				h.unregister <- c
			}
		}
	}
}

// Stop shuts the hub down. Safe to call more than once; the container and the
// server shutdown path both reach it.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		h.cancel()

		for _, shard := range h.shards {
			shard.RLock()
			for _, members := range shard.rooms {
				for _, client := range members {
					client.Close()
				}
			}
			shard.RUnlock()
		}

		close(h.inbound)
		h.wg.Wait()
	})
}

// checkOrigin whitelists the configured browser origins. Requests without an
// Origin header (native apps, server-side clients) pass; an empty whitelist
// allows any origin for local development.
func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.allowedOrigins) == 0 {
		return true
	}
	for _, allowed := range h.allowedOrigins {
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}
	return false
}

// ServeWS authenticates the handshake against the identity provider and, on
// success, upgrades the connection and registers the client. Failures close
// the connection before any room state exists.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	token, err := auth.ExtractTokenFromRequest(r)
	if err != nil {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	accountID, err := h.verifier.Verify(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	RegisterClient(accountID, conn, h)
}
