package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"soop-chat/backend/internal/models"
	"soop-chat/backend/internal/repository"
	"soop-chat/backend/internal/service"
	"soop-chat/backend/pkg/logger"
	wire "soop-chat/backend/pkg/ws"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum frame size allowed from peer
	maxMessageSize = 64 * 1024

	// Upper bound for one inbound frame's store and bus work
	opTimeout = 15 * time.Second
)

// ConnState is the lifecycle position of a gateway connection. Connections
// only exist once authenticated; the handshake rejects everything else.
type ConnState string

const (
	StateAuthenticated ConnState = "AUTHENTICATED"
	StateSubscribed    ConnState = "SUBSCRIBED"
	StateClosed        ConnState = "CLOSED"
)

// Client is one authenticated gateway connection
type Client struct {
	ID     string
	UserID uint

	conn    *websocket.Conn
	send    chan []byte
	hub     *Hub
	chat    ChatHandler
	limiter *rate.Limiter
	log     *logger.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(ctx context.Context, id string, userID uint, conn *websocket.Conn, hub *Hub, chat ChatHandler, cfg GatewayConfig, log *logger.Logger) *Client {
	ctx, cancel := context.WithCancel(ctx)
	return &Client{
		ID:      id,
		UserID:  userID,
		conn:    conn,
		send:    make(chan []byte, cfg.QueueSize),
		hub:     hub,
		chat:    chat,
		limiter: rate.NewLimiter(rate.Limit(cfg.SendRate), cfg.SendBurst),
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// State reports where the connection is in its lifecycle
func (c *Client) State() ConnState {
	select {
	case <-c.done:
		return StateClosed
	default:
	}
	if c.hub.subscriptions(c) > 0 {
		return StateSubscribed
	}
	return StateAuthenticated
}

// enqueue hands a frame to the write pump. A client whose queue is full is
// too slow to keep up and gets disconnected.
func (c *Client) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- data:
		return true
	default:
		c.log.Warn("Send queue full, closing slow client")
		c.close(websocket.ClosePolicyViolation, "slow consumer")
		return false
	}
}

func (c *Client) reply(frame wire.Outbound) {
	data, err := json.Marshal(frame)
	if err != nil {
		c.log.Error("Failed to encode frame", "type", frame.Type, "error", err.Error())
		return
	}
	c.enqueue(data)
}

func (c *Client) replyError(roomID uint, ref string, err error) {
	appErr := service.ToAppError(err)
	c.reply(wire.ErrorFrame(roomID, appErr.Code, appErr.Message, ref))
}

// close moves the connection to CLOSED and releases its subscriptions. Safe to
// call from any goroutine and more than once.
func (c *Client) close(code int, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		c.cancel()
		c.hub.unregister(c)

		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		c.conn.Close()
		c.log.Info("Connection closed", "reason", reason)
	})
}

// readPump processes inbound frames one at a time, which keeps a connection's
// sends in the order they arrived.
func (c *Client) readPump() {
	defer c.close(websocket.CloseNormalClosure, "disconnect")

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.log.Warn("Unexpected close", "error", err.Error())
			}
			return
		}

		var in wire.Inbound
		if err := json.Unmarshal(data, &in); err != nil {
			c.reply(wire.ErrorFrame(0, "BAD_FRAME", "Frame is not valid JSON", ""))
			continue
		}

		if !c.handle(in) {
			return
		}
	}
}

// handle runs one inbound frame; false ends the read loop
func (c *Client) handle(in wire.Inbound) bool {
	ctx, cancel := context.WithTimeout(c.ctx, opTimeout)
	defer cancel()

	switch in.Type {
	case wire.TypeSubscribe:
		c.subscribe(ctx, in)
	case wire.TypeUnsubscribe:
		c.hub.detach(c, in.RoomID)
		c.reply(wire.Outbound{Type: wire.TypeUnsubscribed, RoomID: in.RoomID})
	case wire.TypeSend:
		c.sendMessage(ctx, in)
	case wire.TypeRead:
		if err := c.chat.MarkRead(ctx, in.RoomID, in.MessageID, c.UserID); err != nil {
			c.replyError(in.RoomID, in.MessageID, err)
			return true
		}
		c.reply(wire.Outbound{Type: wire.TypeReadDone, RoomID: in.RoomID, Ref: in.MessageID})
	case wire.TypeReadAll:
		n, err := c.chat.MarkAllRead(ctx, in.RoomID, c.UserID)
		if err != nil {
			c.replyError(in.RoomID, in.Type, err)
			return true
		}
		c.reply(wire.Outbound{Type: wire.TypeReadDone, RoomID: in.RoomID, Updated: &n})
	case wire.TypeHistory:
		c.history(ctx, in)
	case wire.TypePing:
		c.reply(wire.Outbound{Type: wire.TypePong})
	case wire.TypeLogout:
		c.close(websocket.CloseNormalClosure, "logout")
		return false
	default:
		c.reply(wire.ErrorFrame(in.RoomID, "UNKNOWN_TYPE", "Unknown frame type", in.Type))
	}
	return true
}

func (c *Client) subscribe(ctx context.Context, in wire.Inbound) {
	if err := c.chat.Authorize(ctx, in.RoomID, c.UserID); err != nil {
		c.log.Debug("Subscribe refused", "room_id", in.RoomID, "error", err.Error())
		c.replyError(in.RoomID, in.Type, err)
		return
	}
	c.hub.attach(c, in.RoomID)
	c.log.Debug("Subscribed", "room_id", in.RoomID)
	c.reply(wire.Outbound{Type: wire.TypeSubscribed, RoomID: in.RoomID})
}

func (c *Client) sendMessage(ctx context.Context, in wire.Inbound) {
	ref := in.ClientMsgID
	if !c.limiter.Allow() {
		c.reply(wire.ErrorFrame(in.RoomID, "RATE_LIMITED", "Too many messages, slow down", ref))
		return
	}

	msg, err := c.chat.Send(ctx, in.RoomID, c.UserID, in.Body)
	if err != nil {
		c.replyError(in.RoomID, ref, err)
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		c.log.Error("Failed to encode ack", "message_id", msg.ID, "error", err.Error())
		return
	}
	c.reply(wire.Outbound{Type: wire.TypeAck, RoomID: in.RoomID, ClientMsgID: ref, Message: data})
}

func (c *Client) history(ctx context.Context, in wire.Inbound) {
	page, err := c.chat.History(ctx, in.RoomID, c.UserID, repository.ListOptions{
		Order:  models.ParseSortOrder(in.Order),
		Limit:  in.Limit,
		Cursor: in.Cursor,
	})
	if err != nil {
		c.replyError(in.RoomID, in.Type, err)
		return
	}

	data, err := json.Marshal(page.Messages)
	if err != nil {
		c.log.Error("Failed to encode history", "room_id", in.RoomID, "error", err.Error())
		return
	}
	c.reply(wire.Outbound{Type: wire.TypeHistory, RoomID: in.RoomID, Messages: data, NextCursor: page.NextCursor})
}

// writePump is the only writer of data frames on the connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			if err := c.writeFrame(websocket.TextMessage, message); err != nil {
				c.close(websocket.CloseAbnormalClosure, "write failed")
				return
			}

			// Drain what queued up meanwhile, one frame each
			n := len(c.send)
			for i := 0; i < n; i++ {
				if err := c.writeFrame(websocket.TextMessage, <-c.send); err != nil {
					c.close(websocket.CloseAbnormalClosure, "write failed")
					return
				}
			}

		case <-ticker.C:
			if err := c.writeFrame(websocket.PingMessage, nil); err != nil {
				c.close(websocket.CloseAbnormalClosure, "ping failed")
				return
			}

		case <-c.done:
			return
		}
	}
}

// writeFrame gives every frame its own write deadline
func (c *Client) writeFrame(messageType int, data []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}
