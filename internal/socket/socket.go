package socket

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 5120
)

// Event names are the wire contract with the socket server.
const (
	EventConnected       = "connected"
	EventDisconnect      = "disconnect"
	EventJoinChat        = "joinChat"
	EventLeaveChat       = "leaveChat"
	EventNewChat         = "newChat"
	EventTyping          = "typing"
	EventStopTyping      = "stopTyping"
	EventMessageReceived = "messageReceived"
	EventMessageDeleted  = "messageDeleted"
	EventUpdateGroupName = "updateGroupName"
)

var ErrNotConnected = errors.New("socket: not connected")

// Frame is the JSON envelope for every event in either direction.
type Frame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type Handler func(payload json.RawMessage)

// Subscription identifies one registered handler so it can be removed again.
type Subscription struct {
	event string
	id    int
}

// Conn is the client's single persistent connection. It does not reconnect on
// its own; after a disconnect dispatch the owner must Dial again.
type Conn struct {
	mu        sync.Mutex
	ws        *websocket.Conn
	connected bool
	send      chan []byte
	done      chan struct{}

	hmu      sync.Mutex
	handlers map[string]map[int]Handler
	nextID   int
}

func New() *Conn {
	return &Conn{
		handlers: make(map[string]map[int]Handler),
	}
}

// Dial establishes the connection, authenticating with the session token in
// the query string, and starts the read and write pumps.
func (c *Conn) Dial(ctx context.Context, rawURL, token string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return errors.New("socket: already connected")
	}
	c.mu.Unlock()

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.ws = ws
	c.connected = true
	c.send = make(chan []byte, 256)
	c.done = make(chan struct{})
	send, done := c.send, c.done
	c.mu.Unlock()

	go c.readPump(ws)
	go c.writePump(ws, send, done)
	return nil
}

func (c *Conn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Close tears the connection down. Safe to call repeatedly and while already
// disconnected.
func (c *Conn) Close() error {
	if c.teardown(nil) {
		c.dispatch(EventDisconnect, nil)
	}
	return nil
}

// teardown transitions to disconnected exactly once per dial. ws narrows the
// teardown to a specific connection (the read pump must not tear down a
// successor); nil means "whatever is current".
func (c *Conn) teardown(ws *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return false
	}
	if ws != nil && ws != c.ws {
		return false
	}
	c.connected = false
	close(c.done)
	c.ws.Close()
	c.ws = nil
	return true
}

// Emit sends an outbound event, fire and forget. While disconnected sends are
// dropped and ErrNotConnected is returned; there is no queueing.
func (c *Conn) Emit(event string, payload any) error {
	frame := Frame{Event: event}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		frame.Payload = raw
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return ErrNotConnected
	}
	select {
	case c.send <- data:
	default:
		log.Printf("[socket] send buffer full, dropping %q", event)
	}
	return nil
}

func (c *Conn) On(event string, h Handler) Subscription {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	if c.handlers[event] == nil {
		c.handlers[event] = make(map[int]Handler)
	}
	c.nextID++
	c.handlers[event][c.nextID] = h
	return Subscription{event: event, id: c.nextID}
}

func (c *Conn) Off(sub Subscription) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	if set, ok := c.handlers[sub.event]; ok {
		delete(set, sub.id)
	}
}

func (c *Conn) dispatch(event string, payload json.RawMessage) {
	c.hmu.Lock()
	set := c.handlers[event]
	hs := make([]Handler, 0, len(set))
	for _, h := range set {
		hs = append(hs, h)
	}
	c.hmu.Unlock()

	for _, h := range hs {
		h(payload)
	}
}

func (c *Conn) readPump(ws *websocket.Conn) {
	ws.SetReadLimit(maxMessageSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			break
		}
		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Printf("[socket] bad frame: %v", err)
			continue
		}
		c.dispatch(frame.Event, frame.Payload)
	}
	if c.teardown(ws) {
		c.dispatch(EventDisconnect, nil)
	}
}

func (c *Conn) writePump(ws *websocket.Conn, send chan []byte, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case data := <-send:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			ws.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
