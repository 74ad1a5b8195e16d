// Package api provides the HTTP API handlers and WebSocket support of the
// stream grid
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Spatial-NVR/streamgrid/internal/grid"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origins are enforced by the CORS layer for the REST API; the grid
		// view may be embedded from any dashboard host
		return true
	},
}

// MessageType represents the type of WebSocket message
type MessageType string

const (
	MessageTypeGridState MessageType = "grid_state"
	MessageTypeAlert     MessageType = "alert"
	MessageTypeError     MessageType = "error"
	MessageTypeMount     MessageType = "mount"
	MessageTypeUnmount   MessageType = "unmount"
	MessageTypePing      MessageType = "ping"
	MessageTypePong      MessageType = "pong"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// Mounts tracks which clients show which cameras
type Mounts interface {
	Mount(clientID, cameraID string) bool
	Unmount(clientID, cameraID string) bool
	UnmountClient(clientID string) []string
}

// StreamControl connects and disconnects camera streams
type StreamControl interface {
	Connect(ctx context.Context, id string) error
	Disconnect(ctx context.Context, id string) error
}

// Client represents a WebSocket client
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// enqueue queues data for the write pump without blocking. It reports
// false when the buffer is full or the client was closed.
func (c *Client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// close ends the write pump. Safe to call more than once.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Hub maintains the set of active clients and broadcasts messages. A
// client mounting a camera's video element is what brings the camera's
// stream up; the last client to unmount it takes it down.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	logger     *slog.Logger

	mounts  Mounts
	streams StreamControl

	stateMu sync.RWMutex
	state   []byte
}

// NewHub creates a new WebSocket hub
func NewHub(mounts Mounts) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     slog.Default().With("component", "websocket-hub"),
		mounts:     mounts,
	}
}

// SetStreams sets the stream control. Must be called before Run.
func (h *Hub) SetStreams(streams StreamControl) {
	h.streams = streams
}

// Run starts the hub's main loop
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				client.close()
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()

			h.stateMu.RLock()
			if h.state != nil {
				client.enqueue(h.state)
			}
			h.stateMu.RUnlock()
			h.logger.Debug("Client connected", "client", client.id, "total_clients", count)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.close()
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("Client disconnected", "client", client.id, "total_clients", count)
			go h.release(client.id)

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				if !client.enqueue(message) {
					h.logger.Warn("Client buffer full, dropping message", "client", client.id)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// release disconnects every camera only the departed client was showing
func (h *Hub) release(clientID string) {
	for _, cameraID := range h.mounts.UnmountClient(clientID) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := h.streams.Disconnect(ctx, cameraID); err != nil {
			h.logger.Debug("Failed to disconnect camera", "camera", cameraID, "error", err)
		}
		cancel()
	}
}

// Broadcast sends a message to all connected clients
func (h *Hub) Broadcast(msg Message) {
	msg.Timestamp = time.Now()
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal broadcast message", "error", err)
		return
	}
	h.send(data)
}

func (h *Hub) send(data []byte) {
	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn("Broadcast channel full, dropping message")
	}
}

// BroadcastState publishes a grid view and keeps it for clients that
// connect later. It never blocks.
func (h *Hub) BroadcastState(s grid.State) {
	data, err := json.Marshal(Message{
		Type:      MessageTypeGridState,
		Timestamp: time.Now(),
		Data:      s,
	})
	if err != nil {
		h.logger.Error("Failed to marshal grid state", "error", err)
		return
	}

	h.stateMu.Lock()
	h.state = data
	h.stateMu.Unlock()
	h.send(data)
}

// Notify implements grid.Notifier
func (h *Hub) Notify(n grid.Notification) {
	h.Broadcast(AlertMessage(n))
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket handles WebSocket connections
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade connection", "error", err)
		return
	}

	client := &Client{
		id:   uuid.NewString(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, 256),
	}

	select {
	case h.register <- client:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump pumps messages from the WebSocket connection to the hub
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("WebSocket read error", "error", err)
			}
			break
		}

		c.handleMessage(message)
	}
}

// writePump pumps messages from the hub to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				// Hub closed the channel
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage handles incoming messages from the client
func (c *Client) handleMessage(data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.reply(ErrorMessage("invalid message"))
		return
	}

	switch msg.Type {
	case MessageTypePing:
		c.reply(Message{Type: MessageTypePong})

	case MessageTypeMount:
		cameraID := cameraOf(msg)
		if cameraID == "" {
			c.reply(ErrorMessage("mount requires cameraId"))
			return
		}
		if !c.hub.mounts.Mount(c.id, cameraID) {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.hub.streams.Connect(ctx, cameraID); err != nil {
			c.hub.mounts.Unmount(c.id, cameraID)
			c.reply(ErrorMessage(err.Error()))
		}

	case MessageTypeUnmount:
		cameraID := cameraOf(msg)
		if cameraID == "" || !c.hub.mounts.Unmount(c.id, cameraID) {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.hub.streams.Disconnect(ctx, cameraID); err != nil {
			c.reply(ErrorMessage(err.Error()))
		}

	default:
		c.reply(ErrorMessage("unknown message type " + string(msg.Type)))
	}
}

func (c *Client) reply(msg Message) {
	msg.Timestamp = time.Now()
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if !c.enqueue(data) {
		c.hub.logger.Debug("Dropping reply", "client", c.id, "type", msg.Type)
	}
}

func cameraOf(msg Message) string {
	data, ok := msg.Data.(map[string]interface{})
	if !ok {
		return ""
	}
	id, _ := data["cameraId"].(string)
	return id
}

// AlertMessage creates an alert message
func AlertMessage(n grid.Notification) Message {
	return Message{
		Type: MessageTypeAlert,
		Data: map[string]interface{}{
			"camera_id": n.CameraID,
			"title":     n.Title,
			"alert":     n.Alert,
		},
	}
}

// ErrorMessage creates an error message
func ErrorMessage(message string) Message {
	return Message{
		Type: MessageTypeError,
		Data: map[string]interface{}{
			"message": message,
		},
	}
}
