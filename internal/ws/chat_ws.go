package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"portal-chat/internal/models"
	"portal-chat/internal/observability"
	"portal-chat/internal/repositories"
)

// Error codes sent in error frames.
const (
	CodeInvalidJSON     = "INVALID_JSON"
	CodeProcessingError = "PROCESSING_ERROR"
	CodeUnsupportedType = "UNSUPPORTED_TYPE"
)

// ChatWebSocketHandler handles room websocket connections.
type ChatWebSocketHandler struct {
	hub          *Hub
	rooms        repositories.RoomRepository
	messages     repositories.MessageRepository
	recentLimit  int
	heartbeat    time.Duration
	frameTimeout time.Duration
}

// NewChatWebSocketHandler constructs a ChatWebSocketHandler. New
// connections receive the last recentLimit messages and a heartbeat frame
// every heartbeat interval.
func NewChatWebSocketHandler(hub *Hub, rooms repositories.RoomRepository, messages repositories.MessageRepository, recentLimit int, heartbeat time.Duration) *ChatWebSocketHandler {
	if recentLimit <= 0 {
		recentLimit = 50
	}
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	return &ChatWebSocketHandler{
		hub:          hub,
		rooms:        rooms,
		messages:     messages,
		recentLimit:  recentLimit,
		heartbeat:    heartbeat,
		frameTimeout: 10 * time.Second,
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle upgrades the connection and registers the client in its room.
func (h *ChatWebSocketHandler) Handle(c *gin.Context) {
	roomID, err := strconv.ParseInt(c.Param("room_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}
	user, err := parseParticipant(c.Query("user_id"), c.Query("user_type"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, span := otel.Tracer("portal-chat/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	room, err := h.rooms.GetRoom(ctx, roomID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrRoomNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "room not found"})
		return
	}
	if !room.HasParticipant(user) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a room participant"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	meta := observability.MetaFromRequest(c.Request)
	info := ConnInfo{
		ConnID:      newConnID(),
		User:        user,
		UserName:    c.Query("user_name"),
		IP:          meta.IP,
		UserAgent:   meta.UserAgent,
		RequestID:   meta.RequestID,
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	h.hub.AddClient(roomID, conn, info)

	observability.IncWSActive("room")
	observability.IncWSEvent("room", "ws_connect")
	publishWSEvent(ctx, "ws_connect", roomID, info, "")

	// the handshake span ends with this handler; the session outlives it
	go h.serve(context.WithoutCancel(ctx), roomID, conn, info)
}

func (h *ChatWebSocketHandler) serve(ctx context.Context, roomID int64, conn *websocket.Conn, info ConnInfo) {
	done := make(chan struct{})
	var closeReason string
	defer func() {
		close(done)
		h.hub.RemoveClient(roomID, conn)
		observability.DecWSActive("room")
		observability.IncWSEvent("room", "ws_disconnect")
		publishWSEvent(ctx, "ws_disconnect", roomID, info, closeReason)
		conn.Close()
	}()

	_ = h.hub.Send(roomID, conn, models.Frame{
		Type:         models.FrameConnectionEstablished,
		RoomID:       roomID,
		ConnectionID: info.ConnID,
	}.Stamp(time.Now()))

	recent, err := h.messages.Recent(ctx, roomID, h.recentLimit)
	if err != nil {
		log.Printf("load recent messages room=%d: %v", roomID, err)
	} else {
		_ = h.hub.Send(roomID, conn, models.Frame{Type: models.FrameRecentMessages, RoomID: roomID, Messages: recent}.Stamp(time.Now()))
	}

	go h.heartbeatLoop(roomID, conn, done)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent("room", "ws_error")
				publishWSEvent(ctx, "ws_error", roomID, info, closeReason)
			}
			return
		}

		var f models.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			h.sendError(roomID, conn, CodeInvalidJSON, "invalid JSON format", "")
			continue
		}
		frameCtx, cancel := context.WithTimeout(ctx, h.frameTimeout)
		code, err := h.handleFrame(frameCtx, roomID, conn, info, f)
		cancel()
		if err != nil {
			log.Printf("ws frame %q room=%d: %v", f.Type, roomID, err)
			h.sendError(roomID, conn, code, err.Error(), f.ClientID)
		}
	}
}

func (h *ChatWebSocketHandler) handleFrame(ctx context.Context, roomID int64, conn *websocket.Conn, info ConnInfo, f models.Frame) (string, error) {
	switch f.Type {
	case models.FrameChatMessage:
		content := strings.TrimSpace(f.Content)
		if content == "" {
			return CodeProcessingError, errors.New("message content is required")
		}
		msg, err := h.messages.CreateMessage(ctx, models.Message{
			RoomID:     roomID,
			SenderID:   info.User.ID,
			SenderRole: info.User.Role,
			SenderName: senderName(info, f),
			Content:    content,
			ClientID:   f.ClientID,
		})
		if err != nil {
			return CodeProcessingError, errors.New("failed to store message")
		}
		h.hub.BroadcastMessage(roomID, msg)
		observability.IncWSEvent("room", "message")
		observability.PublishMessageEvent(ctx, "message_created", msg, info.RequestID, info.TraceID)
	case models.FrameTyping:
		h.hub.BroadcastExcept(roomID, conn, models.Frame{
			Type:       models.FrameTypingIndicator,
			RoomID:     roomID,
			SenderID:   info.User.ID,
			SenderRole: info.User.Role,
			SenderName: senderName(info, f),
			IsTyping:   f.IsTyping,
		}.Stamp(time.Now()))
	case models.FrameMarkRead:
		ids, at, err := h.messages.MarkRead(ctx, roomID, info.User)
		if err != nil {
			return CodeProcessingError, errors.New("failed to mark messages read")
		}
		h.hub.BroadcastRead(roomID, ids, at)
	case models.FramePing:
		return "", h.hub.Send(roomID, conn, models.Frame{Type: models.FramePong}.Stamp(time.Now()))
	case models.FrameHeartbeat:
	default:
		return CodeUnsupportedType, errors.New("unsupported frame type")
	}
	return "", nil
}

func (h *ChatWebSocketHandler) heartbeatLoop(roomID int64, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case now := <-ticker.C:
			if err := h.hub.Send(roomID, conn, models.Frame{Type: models.FrameHeartbeat}.Stamp(now)); err != nil {
				return
			}
		}
	}
}

// sendError reports a failed frame. clientID echoes the correlation id of a
// refused chat_message so the sender can flag it unsent.
func (h *ChatWebSocketHandler) sendError(roomID int64, conn *websocket.Conn, code, msg, clientID string) {
	_ = h.hub.Send(roomID, conn, models.Frame{Type: models.FrameError, Code: code, Error: msg, ClientID: clientID}.Stamp(time.Now()))
}

func senderName(info ConnInfo, f models.Frame) string {
	if info.UserName != "" {
		return info.UserName
	}
	return f.SenderName
}
