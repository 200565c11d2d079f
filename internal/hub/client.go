package hub

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/ciphermg101/smartHIVE-sub000/internal/event"
	"github.com/ciphermg101/smartHIVE-sub000/internal/model"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	// tuning parameters
	writeWait          = 10 * time.Second       // time allowed to write a message to the peer
	pongWait           = 20 * time.Second       // time allowed to read the next pong message from the peer
	pingInterval       = (pongWait * 9) / 10    // send pings to peer with this period
	maxMessageSize     = 64 * 1024              // max inbound message size (64KB)
	sendBufSize        = 256                    // per-connection outbound buffer size
	workerPoolSize     = 16                     // number of workers to process inbound messages
	sendTimeout        = 2 * time.Second        // timeout for enqueuing outbound messages
	kickOnFull         = true                   // when true, disconnect client when egress is full
	registerTimeout    = 5 * time.Second        // timeout for client registration
	unregisterTimeout  = 5 * time.Second        // timeout for client unregistration
	inboundSendTimeout = 500 * time.Millisecond // timeout for sending to inbound channel
)

// Client is one authenticated socket connection. A connection may be joined
// to multiple apartment rooms at once, one membership per apartment.
type Client struct {
	ID        string
	accountID string
	conn      *websocket.Conn
	manager   *Hub
	egress    chan event.WsEvent

	// joined rooms and resolved memberships, keyed by apartment id hex
	rooms       map[string]struct{}
	memberships map[string]*model.Membership
	stateMu     sync.RWMutex

	cancel         context.CancelFunc
	ctx            context.Context
	once           sync.Once
	connClosed     chan struct{}
	connClosedOnce sync.Once
	closed         bool
	closedMu       sync.RWMutex
}

// RegisterClient creates a new client for an authenticated connection and
// starts its read/write pumps.
func RegisterClient(accountID string, conn *websocket.Conn, h *Hub) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	clientID := uuid.New().String()

	client := &Client{
		ID:          clientID,
		accountID:   accountID,
		conn:        conn,
		manager:     h,
		egress:      make(chan event.WsEvent, sendBufSize),
		rooms:       make(map[string]struct{}),
		memberships: make(map[string]*model.Membership),
		cancel:      cancel,
		ctx:         ctx,
		connClosed:  make(chan struct{}),
	}

	select {
	case h.register <- client:
		go client.ReadMessages()
		go client.WriteMessage()
		h.logger.Info("client registered",
			zap.String("client_id", clientID),
			zap.String("account_id", accountID),
		)
		return client
	case <-time.After(registerTimeout):
		h.logger.Warn("failed to register client: timeout", zap.String("client_id", clientID))
		cancel()
		conn.Close()
		return nil
	}
}

func (c *Client) AccountID() string {
	return c.accountID
}

func (c *Client) ReadMessages() {
	defer func() {
		select {
		case c.manager.unregister <- c:
		case <-time.After(unregisterTimeout):
			c.manager.logger.Warn("failed to unregister client: timeout", zap.String("client_id", c.ID))
		}
		c.Close()
	}()

	c.conn.SetReadLimit(int64(maxMessageSize))
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(c.pongHandler)

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
			var ev event.WsEvent

			if err := c.conn.ReadJSON(&ev); err != nil {
				if websocket.IsCloseError(err,
					websocket.CloseNormalClosure,
					websocket.CloseGoingAway,
					websocket.CloseAbnormalClosure,
				) {
					c.manager.logger.Debug("client disconnected", zap.String("client_id", c.ID))
					return
				}

				if websocket.IsUnexpectedCloseError(err,
					websocket.CloseInternalServerErr,
					websocket.CloseProtocolError,
				) {
					c.manager.logger.Warn("unexpected close", zap.String("client_id", c.ID), zap.Error(err))
				}

				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					c.manager.logger.Debug("client timed out", zap.String("client_id", c.ID))
					return
				}

				c.manager.logger.Debug("error reading from client", zap.String("client_id", c.ID), zap.Error(err))
				return
			}

			// Non-blocking send into inbound processing queue to avoid
			// blocking the reader
			select {
			case c.manager.inbound <- inboundMessage{client: c, event: ev}:
			case <-time.After(inboundSendTimeout):
				c.manager.logger.Warn("inbound send timeout, dropping client", zap.String("client_id", c.ID))
				c.cancel()
				c.conn.Close()
			case <-c.ctx.Done():
				return
			}
		}
	}
}

func (c *Client) WriteMessage() {
	ticker := time.NewTicker(pingInterval)

	defer func() {
		ticker.Stop()
		c.Close()
		_ = c.conn.Close()

		c.connClosedOnce.Do(func() {
			close(c.connClosed)
		})
	}()

	for {
		select {
		case <-c.ctx.Done():
			if err := c.conn.WriteMessage(websocket.CloseMessage, nil); err != nil {
				c.manager.logger.Debug("connection closed", zap.Error(err))
			}
			return
		case ev := <-c.egress:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				c.manager.logger.Debug("write error", zap.String("client_id", c.ID), zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.manager.logger.Debug("ping error", zap.String("client_id", c.ID), zap.Error(err))
				return
			}
		}
	}
}

func (c *Client) pongHandler(string) error {
	return c.conn.SetReadDeadline(time.Now().Add(pongWait))
}

// Send enqueues an outbound event, disconnecting the client when its egress
// buffer stays full past the send timeout.
func (c *Client) Send(ev event.WsEvent) {
	select {
	case <-c.ctx.Done():
		return
	default:
	}

	select {
	case c.egress <- ev:
	case <-time.After(sendTimeout):
		c.manager.logger.Warn("egress full, disconnecting client", zap.String("client_id", c.ID))
		select {
		case c.manager.unregister <- c:
		case <-time.After(unregisterTimeout):
			c.manager.logger.Warn("failed to unregister client: timeout", zap.String("client_id", c.ID))
		}
	case <-c.ctx.Done():
		// client already closed
	}
}

// SafeSend attempts to send an event to the client's egress channel.
// Returns true if sent successfully, false if client is closed or timeout.
func (c *Client) SafeSend(ev event.WsEvent, timeout time.Duration) bool {
	if c.IsClosed() {
		return false
	}

	select {
	case <-c.ctx.Done():
		return false
	case c.egress <- ev:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Close signals shutdown. The egress channel is never closed: a broadcast
// snapshotted before the disconnect may still attempt a send, and a send on a
// closed channel would panic the process. Senders and the write pump observe
// ctx instead; the buffered channel is simply abandoned.
func (c *Client) Close() {
	c.once.Do(func() {
		c.closedMu.Lock()
		c.closed = true
		c.closedMu.Unlock()

		c.cancel()

		// Wait for WriteMessage to close conn, or force close after timeout
		go func() {
			select {
			case <-c.connClosed:
			case <-time.After(5 * time.Second):
				_ = c.conn.Close()
				c.manager.logger.Warn("safety timeout: force closed connection", zap.String("client_id", c.ID))
			}
		}()
	})
}

func (c *Client) IsClosed() bool {
	c.closedMu.RLock()
	defer c.closedMu.RUnlock()
	return c.closed
}

// -----------------------------------------------------------------
// Room and membership state
// -----------------------------------------------------------------

func (c *Client) trackRoom(room string, membership *model.Membership) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.rooms[room] = struct{}{}
	if membership != nil {
		c.memberships[membership.ApartmentID.Hex()] = membership
	}
}

func (c *Client) untrackRoom(room string, apartmentID string) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	delete(c.rooms, room)
	delete(c.memberships, apartmentID)
}

// JoinedRooms returns a snapshot of the rooms the client is part of.
func (c *Client) JoinedRooms() []string {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	rooms := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		rooms = append(rooms, room)
	}
	return rooms
}

// Membership returns the resolved membership for an apartment the client has
// joined, or nil.
func (c *Client) Membership(apartmentID string) *model.Membership {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.memberships[apartmentID]
}
