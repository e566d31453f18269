package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"ollamachat/internal/domain/ports"
	"ollamachat/internal/pkg/constants"
	"ollamachat/internal/pkg/logutil"
)

// ErrHubBusy is returned when the broadcast queue is full and an event was dropped.
var ErrHubBusy = errors.New("websocket hub queue full")

// Client-facing event types that are not conversation events.
const (
	EventConnected = "connection_established"
	EventPong      = "pong"
	EventJoined    = "room_joined"
)

// Client represents a WebSocket client connection. An empty Room receives
// every event; otherwise only events of that conversation and events that
// belong to no conversation.
type Client struct {
	ID   string
	Room string
	Conn *websocket.Conn
	Send chan ports.Event
	Hub  *Hub
}

type roomChange struct {
	client *Client
	room   string
}

// Hub manages WebSocket connections and fans conversation events out to
// them. Membership is only changed by the Run loop.
type Hub struct {
	clients    map[*Client]struct{}
	rooms      map[string]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	join       chan roomChange
	broadcast  chan ports.Event
	done       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex
	dropped    atomic.Int64
	upgrader   websocket.Upgrader
	logger     *logutil.Logger
}

var _ ports.EventPublisher = (*Hub)(nil)

// NewHub creates a new WebSocket hub
func NewHub(logger *logutil.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		rooms:      make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		join:       make(chan roomChange),
		broadcast:  make(chan ports.Event, constants.WebSocketSendBuffer),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logutil.OrGlobal(logger).Component("websocket"),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.register:
			h.add(client)
			h.logger.Debug("WebSocket client connected", logutil.Fields{"client_id": client.ID, "room": client.Room})
			h.sendTo(client, ports.NewEvent(EventConnected, client.Room, map[string]string{"client_id": client.ID}))

		case client := <-h.unregister:
			h.remove(client)

		case change := <-h.join:
			h.move(change.client, change.room)
			h.sendTo(change.client, ports.NewEvent(EventJoined, change.room, nil))

		case event := <-h.broadcast:
			h.deliver(event)

		case <-ctx.Done():
			h.stopOnce.Do(func() { close(h.done) })
			h.closeAll()
			h.logger.Info("WebSocket hub shutting down")
			return
		}
	}
}

// submit hands a request to the Run loop unless it has stopped.
func submit[T any](h *Hub, ch chan<- T, v T) bool {
	select {
	case ch <- v:
		return true
	case <-h.done:
		return false
	}
}

// PublishEvent queues an event for delivery. It never blocks: when the
// queue is full the event is dropped and ErrHubBusy returned.
func (h *Hub) PublishEvent(ctx context.Context, event ports.Event) error {
	select {
	case h.broadcast <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		h.dropped.Add(1)
		return ErrHubBusy
	}
}

func (h *Hub) add(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client] = struct{}{}
	h.addToRoom(client, client.Room)
}

func (h *Hub) addToRoom(client *Client, room string) {
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Client]struct{})
	}
	h.rooms[room][client] = struct{}{}
}

func (h *Hub) removeFromRoom(client *Client) {
	members := h.rooms[client.Room]
	delete(members, client)
	if len(members) == 0 {
		delete(h.rooms, client.Room)
	}
}

func (h *Hub) move(client *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; !ok {
		return
	}
	h.removeFromRoom(client)
	client.Room = room
	h.addToRoom(client, room)
}

// remove drops a client and closes its send channel. It is safe to call twice.
func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(client)
}

func (h *Hub) removeLocked(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	h.removeFromRoom(client)
	close(client.Send)
	h.logger.Debug("WebSocket client disconnected", logutil.Fields{"client_id": client.ID})
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		h.removeLocked(client)
	}
}

// deliver sends event to its audience. Clients whose buffer is full are
// disconnected rather than slowing everybody else down.
func (h *Hub) deliver(event ports.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, client := range h.audience(event) {
		select {
		case client.Send <- event:
		default:
			h.logger.Warn("Dropping slow WebSocket client", logutil.Fields{"client_id": client.ID})
			h.removeLocked(client)
		}
	}
}

func (h *Hub) audience(event ports.Event) []*Client {
	var out []*Client
	if event.ConversationID == "" {
		for client := range h.clients {
			out = append(out, client)
		}
		return out
	}
	for client := range h.rooms[event.ConversationID] {
		out = append(out, client)
	}
	for client := range h.rooms[""] {
		out = append(out, client)
	}
	return out
}

func (h *Hub) sendTo(client *Client, event ports.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; !ok {
		return
	}
	select {
	case client.Send <- event:
	default:
		h.removeLocked(client)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stats returns connection statistics
func (h *Hub) Stats() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()

	roomStats := make(map[string]int, len(h.rooms))
	for room, clients := range h.rooms {
		if room == "" {
			room = "*"
		}
		roomStats[room] = len(clients)
	}

	return map[string]interface{}{
		"total_connections": len(h.clients),
		"rooms":             roomStats,
		"dropped_events":    h.dropped.Load(),
		"timestamp":         time.Now(),
	}
}

// HandleWebSocket upgrades the request and joins the room named by the
// room query parameter.
func (h *Hub) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", logutil.Fields{"error": err.Error()})
		return
	}

	client := &Client{
		ID:   uuid.NewString(),
		Room: c.Query("room"),
		Conn: conn,
		Send: make(chan ports.Event, constants.WebSocketSendBuffer),
		Hub:  h,
	}
	if !submit(h, h.register, client) {
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// clientMessage is what clients may send: {"type":"ping"} or
// {"type":"join","room":"<conversation id>"}.
type clientMessage struct {
	Type string `json:"type"`
	Room string `json:"room,omitempty"`
}

// readPump handles reading messages from the WebSocket connection
func (c *Client) readPump() {
	defer func() {
		submit(c.Hub, c.Hub.unregister, c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(constants.WebSocketMaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(constants.WebSocketPongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(constants.WebSocketPongWait))
		return nil
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.Debug("WebSocket read error", logutil.Fields{"client_id": c.ID, "error": err.Error()})
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		c.handleMessage(msg)
	}
}

func (c *Client) handleMessage(msg clientMessage) {
	switch msg.Type {
	case "ping":
		c.Hub.sendTo(c, ports.NewEvent(EventPong, "", map[string]string{"client_id": c.ID}))
	case "join":
		submit(c.Hub, c.Hub.join, roomChange{client: c, room: msg.Room})
	}
}

// writePump handles writing messages to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(constants.WebSocketPingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteJSON(event); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
