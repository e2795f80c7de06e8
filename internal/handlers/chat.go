package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"portal-chat/internal/api"
	"portal-chat/internal/models"
	"portal-chat/internal/observability"
	"portal-chat/internal/repositories"
	"portal-chat/internal/telemetry"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// Broadcaster pushes changes to the live connections of a room.
type Broadcaster interface {
	BroadcastMessage(roomID int64, msg models.Message)
	BroadcastRead(roomID int64, messageIDs []int64, at time.Time)
	BroadcastDeletion(roomID int64, msg models.Message)
}

// ChatHandler manages the room and message endpoints.
type ChatHandler struct {
	rooms    repositories.RoomRepository
	messages repositories.MessageRepository
	hub      Broadcaster
	audit    *telemetry.AuditEmitter
}

// NewChatHandler builds a ChatHandler. audit may be nil.
func NewChatHandler(rooms repositories.RoomRepository, messages repositories.MessageRepository, hub Broadcaster, audit *telemetry.AuditEmitter) *ChatHandler {
	return &ChatHandler{
		rooms:    rooms,
		messages: messages,
		hub:      hub,
		audit:    audit,
	}
}

// ListRooms returns the rooms of the user named by user_type and user_id.
func (h *ChatHandler) ListRooms(c *gin.Context) {
	userType, userID := c.Query("user_type"), c.Query("user_id")
	if userType == "" || userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_type and user_id parameters are required"})
		return
	}
	user, ok := parseUser(c, userID, userType)
	if !ok {
		return
	}

	rooms, err := h.rooms.ListRooms(c.Request.Context(), user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load rooms"})
		return
	}
	if rooms == nil {
		rooms = []models.Room{}
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

// Notifications returns the unread summary of the user named by user_type
// and user_id: the total and one entry per room with unread messages.
func (h *ChatHandler) Notifications(c *gin.Context) {
	userType, userID := c.Query("user_type"), c.Query("user_id")
	if userType == "" || userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_type and user_id parameters are required"})
		return
	}
	user, ok := parseUser(c, userID, userType)
	if !ok {
		return
	}

	rooms, err := h.rooms.Notifications(c.Request.Context(), user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load notifications"})
		return
	}
	summary := models.NotificationSummary{Notifications: rooms}
	if summary.Notifications == nil {
		summary.Notifications = []models.RoomNotification{}
	}
	summary.TotalUnread = summary.Total()
	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"total_unread":  summary.TotalUnread,
		"notifications": summary.Notifications,
	})
}

// ListStudents returns the students staff can message, each with the room
// they share with recipient_type (admin by default).
func (h *ChatHandler) ListStudents(c *gin.Context) {
	role := models.Role(c.DefaultQuery("recipient_type", string(models.RoleAdmin)))
	if !role.IsStaff() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "recipient_type must be admin, faculty, or principal"})
		return
	}

	students, err := h.rooms.ListStudents(c.Request.Context(), role)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load students"})
		return
	}
	if students == nil {
		students = []models.StudentEntry{}
	}
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"students":    students,
		"total_count": len(students),
	})
}

// CreateRoom creates or returns the room between a student and a staff role.
func (h *ChatHandler) CreateRoom(c *gin.Context) {
	var req models.CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil && req.StudentID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "student_id is required"})
		return
	}
	if !req.StaffRole.IsStaff() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "recipient_type must be admin, faculty, or principal"})
		return
	}

	room, created, err := h.rooms.CreateOrGetRoom(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create room"})
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"room": room, "created": created})
}

// GetRoomMessages returns one page of a room's history. Page 1 holds the
// newest messages; each page is ordered oldest first.
func (h *ChatHandler) GetRoomMessages(c *gin.Context) {
	roomID, err := strconv.ParseInt(c.Param("room_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid page"})
		return
	}
	pageSize, err := strconv.Atoi(c.DefaultQuery("page_size", strconv.Itoa(defaultPageSize)))
	if err != nil || pageSize < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid page_size"})
		return
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	room, err := h.rooms.GetRoom(c.Request.Context(), roomID)
	if err != nil {
		respondRoomError(c, err)
		return
	}
	msgs, total, err := h.messages.ListPage(c.Request.Context(), roomID, page, pageSize)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}

	offset := (page - 1) * pageSize
	c.JSON(http.StatusOK, api.Page{
		Room:     room,
		Messages: msgs,
		Pagination: api.Pagination{
			Page:          page,
			PageSize:      pageSize,
			TotalMessages: total,
			TotalPages:    (total + pageSize - 1) / pageSize,
			HasNext:       offset+pageSize < total,
			HasPrevious:   page > 1,
		},
	})
}

// SendMessage stores a message posted over HTTP and broadcasts it.
func (h *ChatHandler) SendMessage(c *gin.Context) {
	var req api.SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return
	}
	sender := models.Participant{ID: req.SenderID, Role: req.SenderRole}
	if !sender.Role.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid sender_type"})
		return
	}
	if !h.requireParticipant(c, req.RoomID, sender) {
		return
	}

	msg, err := h.messages.CreateMessage(c.Request.Context(), models.Message{
		RoomID:     req.RoomID,
		SenderID:   sender.ID,
		SenderRole: sender.Role,
		SenderName: req.SenderName,
		Content:    content,
		ClientID:   req.ClientID,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store message"})
		return
	}

	h.hub.BroadcastMessage(req.RoomID, msg)
	observability.PublishMessageEvent(c.Request.Context(), "message_created", msg, requestIDFromContext(c), traceIDFromContext(c))
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

// MarkRead marks the other side's messages in a room as read.
func (h *ChatHandler) MarkRead(c *gin.Context) {
	var req api.ReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "room_id, user_type, and user_id are required"})
		return
	}
	reader := models.Participant{ID: req.UserID, Role: req.UserType}
	if !reader.Role.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_type"})
		return
	}
	if !h.requireParticipant(c, req.RoomID, reader) {
		return
	}

	ids, at, err := h.messages.MarkRead(c.Request.Context(), req.RoomID, reader)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mark messages read"})
		return
	}
	h.hub.BroadcastRead(req.RoomID, ids, at)
	c.JSON(http.StatusOK, gin.H{"marked": len(ids)})
}

// DeleteMessage soft-deletes a message. Only its sender may delete it, and
// only once.
func (h *ChatHandler) DeleteMessage(c *gin.Context) {
	var req api.DeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message_id, user_type, and user_id are required"})
		return
	}
	requester := models.Participant{ID: req.UserID, Role: req.UserType}

	msg, err := h.messages.GetMessage(c.Request.Context(), req.MessageID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrMessageNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "message not found"})
		return
	}
	if msg.Sender() != requester {
		c.JSON(http.StatusForbidden, gin.H{"error": "you can only delete your own messages"})
		return
	}
	if msg.Deleted() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is already deleted"})
		return
	}

	deleted, err := h.messages.SoftDelete(c.Request.Context(), req.MessageID, requester)
	if err != nil {
		switch {
		case errors.Is(err, repositories.ErrAlreadyDeleted):
			c.JSON(http.StatusBadRequest, gin.H{"error": "message is already deleted"})
		case errors.Is(err, repositories.ErrMessageNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not delete message"})
		}
		return
	}

	h.hub.BroadcastDeletion(deleted.RoomID, deleted)
	observability.PublishMessageEvent(c.Request.Context(), "message_deleted", deleted, requestIDFromContext(c), traceIDFromContext(c))
	h.audit.MessageDeleted(c.Request.Context(), deleted, requestIDFromContext(c))
	c.JSON(http.StatusOK, gin.H{"deleted_message": deleted})
}

func (h *ChatHandler) requireParticipant(c *gin.Context, roomID int64, user models.Participant) bool {
	room, err := h.rooms.GetRoom(c.Request.Context(), roomID)
	if err != nil {
		respondRoomError(c, err)
		return false
	}
	if !room.HasParticipant(user) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a room participant"})
		return false
	}
	return true
}

func respondRoomError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, repositories.ErrRoomNotFound) {
		status = http.StatusNotFound
	}
	c.JSON(status, gin.H{"error": "room not found"})
}

func parseUser(c *gin.Context, userID, userType string) (models.Participant, bool) {
	id, err := strconv.ParseInt(userID, 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_id"})
		return models.Participant{}, false
	}
	role, err := models.ParseRole(userType)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return models.Participant{}, false
	}
	return models.Participant{ID: id, Role: role}, true
}

// RegisterChatRoutes mounts the chat endpoints on group.
func RegisterChatRoutes(group *gin.RouterGroup, h *ChatHandler) {
	group.GET("/rooms/", h.ListRooms)
	group.POST("/rooms/", h.CreateRoom)
	group.GET("/notifications/", h.Notifications)
	group.GET("/students/", h.ListStudents)
	group.GET("/rooms/:room_id/", h.GetRoomMessages)
	group.POST("/send-message/", h.SendMessage)
	group.POST("/mark-read/", h.MarkRead)
	group.POST("/delete-message/", h.DeleteMessage)
}
