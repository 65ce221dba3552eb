package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultBufferSize   = 100
	defaultWriteTimeout = 5 * time.Second
)

// Connection implements the interfaces.Channel interface
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized to prevent race conditions
// Interface boundary maintained - no business logic in connection wrapper
type Connection struct {
	conn         *websocket.Conn
	writeCh      chan []byte // FUNCTIONAL DISCOVERY: buffered so a slow peer never blocks the sender's read loop
	writeTimeout time.Duration
	ctx          context.Context    // For cancellation
	cancel       context.CancelFunc // For cleanup
	closeOnce    sync.Once          // Ensure single close
}

// NewConnection creates a new WebSocket connection wrapper. Non-positive
// bufferSize or writeTimeout select the defaults.
func NewConnection(conn *websocket.Conn, bufferSize int, writeTimeout time.Duration) *Connection {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:         conn,
		writeCh:      make(chan []byte, bufferSize),
		writeTimeout: writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}

	// Start the single writer goroutine
	go c.writeLoop()

	return c
}

// ARCHITECTURAL DISCOVERY: Single writer goroutine pattern eliminates races.
// writeCh is never closed; producers select on ctx instead.
func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				_ = c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				// A broken socket fails every later write too, so stop here and
				// let queued producers see ErrConnectionClosed.
				_ = c.Close()
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// WriteJSON marshals v and queues it as one text frame.
func (c *Connection) WriteJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}
	return c.enqueue(data)
}

// WriteText queues a raw text frame.
func (c *Connection) WriteText(data []byte) error {
	return c.enqueue(data)
}

func (c *Connection) enqueue(data []byte) error {
	// Check if connection is closed
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	timer := time.NewTimer(c.writeTimeout)
	defer timer.Stop()

	select {
	case c.writeCh <- data:
		return nil
	case <-timer.C:
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// CloseWithReason sends a close frame before closing the socket.
func (c *Connection) CloseWithReason(code int, reason string) error {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout))
	return c.Close()
}

// ARCHITECTURAL DISCOVERY: Clean shutdown requires careful goroutine coordination
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		// Cancel context to stop goroutines
		c.cancel()

		// Close WebSocket connection
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

// Done is closed once the connection has been closed.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}
