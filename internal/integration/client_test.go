package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"coachrelay/pkg/types"
)

// Frame is one inbound message as the client saw it.
type Frame struct {
	Raw      []byte
	Tag      string
	Received time.Time
}

// coachClient is a WebSocket client playing one side of a session.
type coachClient struct {
	Role      types.Role
	SessionID string
	ServerURL string

	conn   *websocket.Conn
	frames chan Frame
	errors chan error
	done   chan struct{}

	writeMu sync.Mutex
}

func newCoachClient(role types.Role, sessionID, serverURL string) *coachClient {
	return &coachClient{
		Role:      role,
		SessionID: sessionID,
		ServerURL: serverURL,
		frames:    make(chan Frame, 100),
		errors:    make(chan error, 10),
		done:      make(chan struct{}),
	}
}

// Connect dials /ws/{session_id}/{role} and starts the read loop.
func (c *coachClient) Connect(ctx context.Context) error {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = fmt.Sprintf("/ws/%s/%s", url.PathEscape(c.SessionID), c.Role)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	c.conn = conn
	go c.readLoop()
	return nil
}

func (c *coachClient) readLoop() {
	defer close(c.done)
	for {
		_ = c.conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case c.errors <- err:
			default:
			}
			return
		}

		frame := Frame{Raw: data, Received: time.Now()}
		var tagged struct {
			T string `json:"t"`
		}
		if json.Unmarshal(data, &tagged) == nil {
			frame.Tag = tagged.T
		}

		select {
		case c.frames <- frame:
		default:
			// Channel full, drop message (shouldn't happen in tests)
			select {
			case c.errors <- fmt.Errorf("frame buffer full"):
			default:
			}
		}
	}
}

// Ask sends a typed question event.
func (c *coachClient) Ask(text string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(map[string]string{"type": "question", "text": text})
}

// SendRaw sends a text frame the relay should pass through untouched.
func (c *coachClient) SendRaw(payload string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, []byte(payload))
}

// Next returns the next frame or an error once timeout passes.
func (c *coachClient) Next(timeout time.Duration) (Frame, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case err := <-c.errors:
		return Frame{}, err
	case <-time.After(timeout):
		return Frame{}, fmt.Errorf("%s %s: no frame within %s", c.SessionID, c.Role, timeout)
	}
}

// Expect skips frames until one carries tag, decoding it into v when non-nil.
func (c *coachClient) Expect(tag string, v interface{}, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("%s %s: no %q frame within %s", c.SessionID, c.Role, tag, timeout)
		}
		f, err := c.Next(remaining)
		if err != nil {
			return err
		}
		if f.Tag != tag {
			continue
		}
		if v == nil {
			return nil
		}
		return json.Unmarshal(f.Raw, v)
	}
}

func (c *coachClient) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	<-c.done
	return err
}
