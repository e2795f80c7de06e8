package ws

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"portal-chat/internal/mocks"
	"portal-chat/internal/models"
	"portal-chat/internal/repositories"
)

var testTime = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

var testRoom = models.Room{ID: 42, StudentID: 7, StudentName: "Asha", StaffID: 3, StaffRole: models.RoleAdmin}

type wsFixture struct {
	srv      *httptest.Server
	hub      *Hub
	rooms    *mocks.RoomRepositoryMock
	messages *mocks.MessageRepositoryMock
}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	f := &wsFixture{
		hub:      NewHub(),
		rooms:    new(mocks.RoomRepositoryMock),
		messages: new(mocks.MessageRepositoryMock),
	}
	handler := NewChatWebSocketHandler(f.hub, f.rooms, f.messages, 50, time.Hour)
	r := gin.New()
	r.GET("/ws/chat/:room_id/", handler.Handle)
	f.srv = httptest.NewServer(r)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *wsFixture) dial(t *testing.T, query string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws/chat/42/?" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if conn != nil {
		t.Cleanup(func() { conn.Close() })
	}
	return conn, resp, err
}

func readFrame(t *testing.T, conn *websocket.Conn) models.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f models.Frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

// readUntil skips frames until one of type typ arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) models.Frame {
	t.Helper()
	for {
		if f := readFrame(t, conn); f.Type == typ {
			return f
		}
	}
}

func (f *wsFixture) connect(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	conn, _, err := f.dial(t, query)
	require.NoError(t, err)
	assert.Equal(t, models.FrameConnectionEstablished, readFrame(t, conn).Type)
	assert.Equal(t, models.FrameRecentMessages, readFrame(t, conn).Type)
	return conn
}

func TestWSConnectSendsRecentMessages(t *testing.T) {
	f := newWSFixture(t)
	recent := []models.Message{{ID: 1, RoomID: 42, Content: "a"}, {ID: 2, RoomID: 42, Content: "b"}}
	f.rooms.On("GetRoom", mock.Anything, int64(42)).Return(testRoom, nil)
	f.messages.On("Recent", mock.Anything, int64(42), 50).Return(recent, nil)

	conn, _, err := f.dial(t, "user_id=7&user_type=student&user_name=Asha")
	require.NoError(t, err)

	established := readFrame(t, conn)
	assert.Equal(t, models.FrameConnectionEstablished, established.Type)
	assert.NotEmpty(t, established.ConnectionID)

	history := readFrame(t, conn)
	assert.Equal(t, models.FrameRecentMessages, history.Type)
	assert.Len(t, history.Messages, 2)
	require.Eventually(t, func() bool { return f.hub.Count(42) == 1 }, time.Second, 5*time.Millisecond)
}

func TestWSRejectsNonParticipant(t *testing.T) {
	f := newWSFixture(t)
	f.rooms.On("GetRoom", mock.Anything, int64(42)).Return(testRoom, nil)

	_, resp, err := f.dial(t, "user_id=8&user_type=student")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestWSRejectsUnknownRoom(t *testing.T) {
	f := newWSFixture(t)
	f.rooms.On("GetRoom", mock.Anything, int64(42)).Return(nil, repositories.ErrRoomNotFound)

	_, resp, err := f.dial(t, "user_id=7&user_type=student")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWSRejectsBadIdentity(t *testing.T) {
	f := newWSFixture(t)
	_, resp, err := f.dial(t, "user_id=7&user_type=parent")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWSChatMessageEchoesClientID(t *testing.T) {
	f := newWSFixture(t)
	f.rooms.On("GetRoom", mock.Anything, int64(42)).Return(testRoom, nil)
	f.messages.On("Recent", mock.Anything, int64(42), 50).Return([]models.Message{}, nil)
	f.messages.On("CreateMessage", mock.Anything, mock.MatchedBy(func(m models.Message) bool {
		return m.RoomID == 42 && m.SenderID == 7 && m.SenderRole == models.RoleStudent &&
			m.Content == "hello" && m.ClientID == "c-1" && m.SenderName == "Asha"
	})).Return(models.Message{ID: 101, RoomID: 42, SenderID: 7, SenderRole: models.RoleStudent, Content: "hello", ClientID: "c-1"}, nil).Once()

	student := f.connect(t, "user_id=7&user_type=student&user_name=Asha")
	admin := f.connect(t, "user_id=3&user_type=admin&user_name=Office")
	require.Eventually(t, func() bool { return f.hub.Count(42) == 2 }, time.Second, 5*time.Millisecond)

	// sender identity comes from the connection, not the frame
	require.NoError(t, student.WriteJSON(models.Frame{Type: models.FrameChatMessage, Content: " hello ", ClientID: "c-1", SenderID: 99}))

	for _, conn := range []*websocket.Conn{student, admin} {
		echo := readUntil(t, conn, models.FrameChatMessage)
		require.NotNil(t, echo.Message)
		assert.Equal(t, int64(101), echo.Message.ID)
		assert.Equal(t, "c-1", echo.Message.ClientID)
	}
	f.messages.AssertExpectations(t)
}

func TestWSTypingGoesToOtherConnections(t *testing.T) {
	f := newWSFixture(t)
	f.rooms.On("GetRoom", mock.Anything, int64(42)).Return(testRoom, nil)
	f.messages.On("Recent", mock.Anything, int64(42), 50).Return([]models.Message{}, nil)

	student := f.connect(t, "user_id=7&user_type=student&user_name=Asha")
	admin := f.connect(t, "user_id=3&user_type=admin&user_name=Office")
	require.Eventually(t, func() bool { return f.hub.Count(42) == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, student.WriteJSON(models.Frame{Type: models.FrameTyping, IsTyping: true}))
	indicator := readUntil(t, admin, models.FrameTypingIndicator)
	assert.True(t, indicator.IsTyping)
	assert.Equal(t, int64(7), indicator.SenderID)
	assert.Equal(t, "Asha", indicator.SenderName)

	// the sender gets its pong but never its own indicator
	require.NoError(t, student.WriteJSON(models.Frame{Type: models.FramePing}))
	assert.Equal(t, models.FramePong, readFrame(t, student).Type)
}

func TestWSErrorFrames(t *testing.T) {
	f := newWSFixture(t)
	f.rooms.On("GetRoom", mock.Anything, int64(42)).Return(testRoom, nil)
	f.messages.On("Recent", mock.Anything, int64(42), 50).Return([]models.Message{}, nil)

	conn := f.connect(t, "user_id=7&user_type=student")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	errFrame := readFrame(t, conn)
	assert.Equal(t, models.FrameError, errFrame.Type)
	assert.Equal(t, CodeInvalidJSON, errFrame.Code)

	require.NoError(t, conn.WriteJSON(models.Frame{Type: "presence"}))
	assert.Equal(t, CodeUnsupportedType, readFrame(t, conn).Code)

	require.NoError(t, conn.WriteJSON(models.Frame{Type: models.FrameChatMessage, Content: "  "}))
	assert.Equal(t, CodeProcessingError, readFrame(t, conn).Code)
}

func TestWSStoreFailureEchoesClientID(t *testing.T) {
	f := newWSFixture(t)
	f.rooms.On("GetRoom", mock.Anything, int64(42)).Return(testRoom, nil)
	f.messages.On("Recent", mock.Anything, int64(42), 50).Return([]models.Message{}, nil)
	f.messages.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, errors.New("db down")).Once()

	conn := f.connect(t, "user_id=7&user_type=student")
	require.NoError(t, conn.WriteJSON(models.Frame{Type: models.FrameChatMessage, Content: "hello", ClientID: "c-9"}))

	errFrame := readUntil(t, conn, models.FrameError)
	assert.Equal(t, CodeProcessingError, errFrame.Code)
	assert.Equal(t, "c-9", errFrame.ClientID)
}

func TestWSMarkReadBroadcastsReceipts(t *testing.T) {
	f := newWSFixture(t)
	f.rooms.On("GetRoom", mock.Anything, int64(42)).Return(testRoom, nil)
	f.messages.On("Recent", mock.Anything, int64(42), 50).Return([]models.Message{}, nil)
	f.messages.On("MarkRead", mock.Anything, int64(42), models.Participant{ID: 3, Role: models.RoleAdmin}).
		Return([]int64{5, 6}, testTime, nil).Once()

	conn := f.connect(t, "user_id=3&user_type=admin")
	require.NoError(t, conn.WriteJSON(models.Frame{Type: models.FrameMarkRead}))

	read := readUntil(t, conn, models.FrameMessagesRead)
	assert.Equal(t, []int64{5, 6}, read.MessageIDs)
	require.NotNil(t, read.Timestamp)
	assert.True(t, read.Timestamp.Equal(testTime))
}

func TestWSServerHeartbeat(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rooms := new(mocks.RoomRepositoryMock)
	messages := new(mocks.MessageRepositoryMock)
	rooms.On("GetRoom", mock.Anything, int64(42)).Return(testRoom, nil)
	messages.On("Recent", mock.Anything, int64(42), 50).Return([]models.Message{}, nil)

	r := gin.New()
	r.GET("/ws/chat/:room_id/", NewChatWebSocketHandler(NewHub(), rooms, messages, 50, 20*time.Millisecond).Handle)
	srv := httptest.NewServer(r)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/chat/42/?user_id=7&user_type=student", nil)
	require.NoError(t, err)
	defer conn.Close()

	hb := readUntil(t, conn, models.FrameHeartbeat)
	assert.NotNil(t, hb.Timestamp)
}
