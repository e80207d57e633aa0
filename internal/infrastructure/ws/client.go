package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	defaultSendBuffer = 64
)

type ClientOptions struct {
	SendBuffer int
	MaxPayload int64
}

// Client is one WebSocket connection. Outbound frames go through a bounded
// buffer drained by WritePump; ReadPump runs on the caller's goroutine.
type Client struct {
	ID string

	conn       *connWrapper
	send       chan *WSMessage
	codec      Codec
	maxPayload int64
	closeOnce  sync.Once
	closed     chan struct{}
}

func NewClient(conn *websocket.Conn, id string, codec Codec, opts ClientOptions) *Client {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	if codec == nil {
		codec = JSON
	}

	return &Client{
		ID:         id,
		conn:       newConnWrapper(conn),
		send:       make(chan *WSMessage, opts.SendBuffer),
		codec:      codec,
		maxPayload: opts.MaxPayload,
		closed:     make(chan struct{}),
	}
}

func (c *Client) Codec() Codec {
	return c.codec
}

// Enqueue never blocks. It reports false when the buffer is full or the
// client is closed.
func (c *Client) Enqueue(msg *WSMessage) bool {
	select {
	case <-c.closed:
		return false
	default:
	}

	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// WriteNow writes msg directly, bypassing the send buffer.
func (c *Client) WriteNow(msg *WSMessage) error {
	data, err := msg.Encode(c.codec)
	if err != nil {
		return err
	}
	return c.conn.WriteFrame(c.codec.MessageType(), data)
}

func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
	})
}

func (c *Client) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.closed:
			return
		case msg := <-c.send:
			if err := c.WriteNow(msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WritePing(); err != nil {
				return
			}
		}
	}
}

type FrameHandler func(Frame)

// ReadPump decodes inbound frames until the connection ends. It returns an
// error only for unexpected closures.
func (c *Client) ReadPump(handle FrameHandler) error {
	defer c.Close()

	conn := c.conn.conn
	if c.maxPayload > 0 {
		conn.SetReadLimit(c.maxPayload)
	}
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				return err
			}
			return nil
		}

		codec, ok := CodecForMessageType(messageType)
		if !ok {
			continue
		}

		frame, err := codec.DecodeFrame(data)
		if err != nil {
			c.Enqueue(NewError("bad_frame", "frame could not be decoded"))
			continue
		}

		// Any inbound traffic proves the peer is alive.
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		handle(frame)
	}
}
