package ws

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameBytes  = 2048 // inbound frames share the send-message body cap
	sendBufferSize = 128
)

// InboundFrame is the envelope clients write on the socket. Only the
// "sendMessage" action is understood; anything else gets an error frame back.
type InboundFrame struct {
	Action         string `json:"action"`
	ConversationID string `json:"conversationId"`
	Text           string `json:"text,omitempty"`
	FileKey        string `json:"fileKey,omitempty"`
}

// FrameHandler processes one inbound frame from the given connection and
// returns the payload to echo back to the sender (an ack or an error frame).
type FrameHandler func(connectionID string, frame InboundFrame) []byte

// Client wraps one WebSocket session. Outbound writes go through a buffered
// channel so the hub and fan-out engine never block on a slow reader; a full
// buffer closes the connection to keep backpressure bounded.
type Client struct {
	ConnectionID string
	UserID       string

	conn    *websocket.Conn
	send    chan []byte
	closed  chan struct{}
	once    sync.Once
	onFrame FrameHandler
	onClose func()
}

// NewClient constructs a Client for an upgraded connection. onFrame handles
// inbound frames; onClose runs exactly once when the session ends (driving
// the disconnect lifecycle).
func NewClient(connectionID, userID string, conn *websocket.Conn, onFrame FrameHandler, onClose func()) *Client {
	return &Client{
		ConnectionID: connectionID,
		UserID:       userID,
		conn:         conn,
		send:         make(chan []byte, sendBufferSize),
		closed:       make(chan struct{}),
		onFrame:      onFrame,
		onClose:      onClose,
	}
}

// Start launches the read and write pumps. Call exactly once.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

// Send enqueues payload for delivery to this client. It fails when the
// session is closing or the client is too slow to drain its buffer.
func (c *Client) Send(payload []byte) error {
	select {
	case <-c.closed:
		return errors.New("connection closed")
	default:
	}
	select {
	case c.send <- payload:
		return nil
	default:
		c.Close()
		return errors.New("send buffer full")
	}
}

// Close terminates the session. Safe to call multiple times.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.closed)
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
		_ = c.conn.Close()
		if c.onClose != nil {
			c.onClose()
		}
	})
}

func (c *Client) readPump() {
	defer c.Close()

	c.conn.SetReadLimit(maxFrameBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var frame InboundFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			_ = c.Send([]byte(`{"type":"error","code":"bad_request","message":"invalid json"}`))
			continue
		}
		if frame.Action != "sendMessage" {
			_ = c.Send([]byte(`{"type":"error","code":"bad_request","message":"unsupported action"}`))
			continue
		}
		if c.onFrame != nil {
			if reply := c.onFrame(c.ConnectionID, frame); reply != nil {
				_ = c.Send(reply)
			}
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.closed:
			return
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
