package server

import (
	"errors"
	"io"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/Tyrowin/hearth/internal/logging"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 25 * time.Second
	pongWait   = 45 * time.Second

	sendBufferSize = 256
)

// eventHandler processes one decoded inbound frame for a client.
type eventHandler interface {
	Handle(c *Client, env Envelope)
}

// Client is one WebSocket connection.
type Client struct {
	id             string
	name           string
	addr           string
	conn           *websocket.Conn
	send           chan []byte
	hub            *Hub
	handler        eventHandler
	maxMessageSize int64
}

// NewClient wraps conn. A nil conn is allowed for clients that are only
// ever read through their send channel.
func NewClient(id, name, addr string, conn *websocket.Conn, hub *Hub, handler eventHandler, maxMessageSize int64) *Client {
	if conn != nil && maxMessageSize > 0 {
		conn.SetReadLimit(maxMessageSize)
	}
	return &Client{
		id:             id,
		name:           name,
		addr:           addr,
		conn:           conn,
		send:           make(chan []byte, sendBufferSize),
		hub:            hub,
		handler:        handler,
		maxMessageSize: maxMessageSize,
	}
}

// start launches the pumps. It runs on the hub goroutine, so the wait
// group is never added to while shutdown waits on it. Socketless clients
// have no pumps.
func (c *Client) start() {
	if c.conn == nil {
		return
	}
	c.hub.wg.Add(2)
	go func() {
		defer c.hub.wg.Done()
		c.writePump()
	}()
	go func() {
		defer c.hub.wg.Done()
		c.readPump()
	}()
}

func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Warn().Err(err).Str("conn_id", c.id).Msg("failed to set initial read deadline")
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

// handleReadError logs err at a level matching how surprising it is.
func (c *Client) handleReadError(err error) {
	log := logging.Logger().With().Str("conn_id", c.id).Str("addr", c.addr).Logger()

	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		log.Warn().Int64("limit", c.maxMessageSize).Msg("frame exceeded maximum size")
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		log.Debug().Err(err).Msg("client disconnected")
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		log.Debug().Err(err).Msg("connection closed")
	case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure):
		log.Warn().Err(err).Msg("unexpected websocket close")
	default:
		log.Debug().Err(err).Msg("websocket read ended")
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.closeConnection()
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil || env.Type == "" {
			logging.Debug().Str("conn_id", c.id).Msg("dropping undecodable frame")
			continue
		}
		c.handler.Handle(c, env)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when
// the pump should stop.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		logging.Debug().Err(err).Str("conn_id", c.id).Msg("error closing connection")
	}
}

// handleMessage writes message, then anything else already queued, one
// frame each. It returns false if the connection should be closed.
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if !ok {
		return c.writeCloseMessage()
	}
	if !c.writeFrame(message) {
		return false
	}
	return c.writeQueuedMessages()
}

func (c *Client) writeQueuedMessages() bool {
	n := len(c.send)
	for i := 0; i < n; i++ {
		message, ok := <-c.send
		if !ok {
			return c.writeCloseMessage()
		}
		if !c.writeFrame(message) {
			return false
		}
	}
	return true
}

func (c *Client) writeFrame(message []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return false
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			logging.Debug().Err(err).Str("conn_id", c.id).Msg("error writing message")
		}
		return false
	}
	return true
}

func (c *Client) writeCloseMessage() bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")); err != nil {
		if !isExpectedCloseError(err) {
			logging.Debug().Err(err).Str("conn_id", c.id).Msg("error writing close message")
		}
	}
	return false
}

// handlePing keeps the connection alive.
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		logging.Debug().Err(err).Str("conn_id", c.id).Msg("error writing ping")
		return false
	}
	return true
}
