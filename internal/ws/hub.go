package ws

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"portal-chat/internal/models"
	"portal-chat/internal/observability"
)

const writeWait = 10 * time.Second

type client struct {
	conn    *websocket.Conn
	info    ConnInfo
	writeMu sync.Mutex
}

func (c *client) write(f models.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(f)
}

// Hub maintains the live connections of every room.
type Hub struct {
	rooms map[int64]map[*websocket.Conn]*client
	mu    sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{rooms: make(map[int64]map[*websocket.Conn]*client)}
}

// AddClient registers a websocket connection to a room.
func (h *Hub) AddClient(roomID int64, conn *websocket.Conn, info ConnInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[roomID]; !ok {
		h.rooms[roomID] = make(map[*websocket.Conn]*client)
	}
	h.rooms[roomID][conn] = &client{conn: conn, info: info}
}

// RemoveClient removes a room websocket connection.
func (h *Hub) RemoveClient(roomID int64, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.rooms[roomID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.rooms, roomID)
		}
	}
}

// Count returns the number of connections in a room.
func (h *Hub) Count(roomID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// Send writes a frame to one connection of the room.
func (h *Hub) Send(roomID int64, conn *websocket.Conn, f models.Frame) error {
	h.mu.RLock()
	c, ok := h.rooms[roomID][conn]
	h.mu.RUnlock()
	if !ok {
		return websocket.ErrCloseSent
	}
	return c.write(f)
}

// Broadcast sends a frame to every connection of the room.
func (h *Hub) Broadcast(roomID int64, f models.Frame) {
	h.broadcast(roomID, nil, f)
}

// BroadcastExcept sends a frame to every connection of the room but one.
func (h *Hub) BroadcastExcept(roomID int64, except *websocket.Conn, f models.Frame) {
	h.broadcast(roomID, except, f)
}

// BroadcastMessage sends a stored message to all clients in a room.
func (h *Hub) BroadcastMessage(roomID int64, msg models.Message) {
	h.Broadcast(roomID, models.Frame{Type: models.FrameChatMessage, RoomID: roomID, Message: &msg}.Stamp(time.Now()))
}

// BroadcastRead notifies clients that messages were read.
func (h *Hub) BroadcastRead(roomID int64, messageIDs []int64, at time.Time) {
	if len(messageIDs) == 0 {
		return
	}
	h.Broadcast(roomID, models.Frame{Type: models.FrameMessagesRead, RoomID: roomID, MessageIDs: messageIDs}.Stamp(at))
}

// BroadcastDeletion notifies clients of a soft delete.
func (h *Hub) BroadcastDeletion(roomID int64, msg models.Message) {
	h.Broadcast(roomID, models.Frame{Type: models.FrameMessageDeleted, RoomID: roomID, Message: &msg}.Stamp(time.Now()))
}

func (h *Hub) broadcast(roomID int64, except *websocket.Conn, f models.Frame) {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.rooms[roomID]))
	for conn, c := range h.rooms[roomID] {
		if conn != except {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.write(f); err != nil {
			log.Printf("websocket write error: %v", err)
			c.conn.Close()
			h.RemoveClient(roomID, c.conn)
			observability.IncWSEvent("room", "ws_error")
			publishWSEvent(context.Background(), "ws_error", roomID, c.info, err.Error())
		}
	}
}
