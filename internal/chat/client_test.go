package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"portal-chat/internal/api"
	"portal-chat/internal/mocks"
	"portal-chat/internal/models"
)

func TestClientRoom42Scenario(t *testing.T) {
	release := make(chan struct{})
	srv, _ := socketServer(t, func(conn *websocket.Conn) {
		s := staff()
		_ = conn.WriteJSON(models.Frame{Type: models.FrameConnectionEstablished, RoomID: 42, ConnectionID: "conn-1"})
		_ = conn.WriteJSON(models.Frame{Type: models.FrameRecentMessages, RoomID: 42, Messages: []models.Message{
			msgAt(3, 3, s), msgAt(1, 1, s), msgAt(2, 2, s),
		}})
		for {
			var f models.Frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			if f.Type != models.FrameChatMessage {
				continue
			}
			<-release
			echo := msgAt(101, 10, models.Participant{ID: f.SenderID, Role: f.SenderRole})
			echo.Content = f.Content
			echo.ClientID = f.ClientID
			_ = conn.WriteJSON(models.Frame{Type: models.FrameChatMessage, RoomID: 42, Message: &echo})
		}
	})

	svc := new(mocks.APIServiceMock)
	svc.On("FetchMessages", mock.Anything, int64(42), 1, DefaultPageSize).Return(api.Page{}, nil).Once()
	svc.On("MarkRead", mock.Anything, int64(42), mock.Anything).Return(nil)

	rec := &stateRecorder{}
	c := New(studentSession(t, srv.URL), svc, Options{OnState: rec.record})
	assert.Equal(t, models.ConnectionClosed, c.ConnectionState().Status)
	assert.Equal(t, 0, c.Unread(42))

	require.NoError(t, c.OpenRoom(context.Background(), 42))
	require.Eventually(t, func() bool {
		return c.ConnectionState().Status == models.ConnectionOpen
	}, waitFor, tick)
	assert.Equal(t, []models.ConnectionStatus{
		models.ConnectionClosed,
		models.ConnectionConnecting,
		models.ConnectionOpen,
	}, rec.statuses()[:3])

	require.Eventually(t, func() bool {
		return len(c.Messages()) == 3
	}, waitFor, tick)
	assert.Equal(t, []int64{1, 2, 3}, ids(c.Messages()))

	sent, err := c.Send(context.Background(), "hello")
	require.NoError(t, err)
	assert.True(t, sent.Pending())
	msgs := c.Messages()
	require.Len(t, msgs, 4)
	assert.True(t, msgs[3].Pending())
	assert.Equal(t, "hello", msgs[3].Content)
	assert.Equal(t, sent.ClientID, msgs[3].ClientID)

	close(release)
	require.Eventually(t, func() bool {
		msgs := c.Messages()
		return len(msgs) == 4 && msgs[3].ID == 101
	}, waitFor, tick)
	assert.Equal(t, []int64{1, 2, 3, 101}, ids(c.Messages()))
	assert.Equal(t, models.StatusSent, c.Messages()[3].Status)
	svc.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything)

	c.Close()
	assert.Equal(t, models.ConnectionClosed, c.ConnectionState().Status)
	assert.Equal(t, 0, c.Unread(42))
}

func TestClientRoomSwitchCancelsPreviousTimers(t *testing.T) {
	svc := new(mocks.APIServiceMock)
	svc.On("FetchMessages", mock.Anything, mock.Anything, 1, DefaultPageSize).Return(api.Page{}, nil)
	svc.On("MarkRead", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	clock := newClockOnly()
	dialer := &failingDialer{}
	c := New(studentSession(t, "http://portal.local"), svc, Options{Dialer: dialer, Clock: clock})

	require.NoError(t, c.OpenRoom(context.Background(), 1))
	require.Eventually(t, func() bool {
		return c.ConnectionState().ReconnectAttempt == 1
	}, waitFor, tick)

	c.Typing()
	require.NoError(t, c.OpenRoom(context.Background(), 2))
	require.Eventually(t, func() bool {
		s := c.ConnectionState()
		return s.RoomID == 2 && s.ReconnectAttempt == 1
	}, waitFor, tick)

	assert.Equal(t, []time.Duration{time.Second}, clock.Delays())
	clock.Advance(time.Second)
	require.Eventually(t, func() bool {
		return len(dialer.calls()) == 3
	}, waitFor, tick)
	assert.Contains(t, dialer.calls()[0], "/ws/chat/1/")
	for _, url := range dialer.calls()[1:] {
		assert.Contains(t, url, "/ws/chat/2/")
	}
	c.Close()
	assert.Empty(t, clock.Delays())
}

func TestClientSendWithoutRoom(t *testing.T) {
	c := New(studentSession(t, "http://portal.local"), new(mocks.APIServiceMock), Options{})
	_, err := c.Send(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrNoActiveRoom)
	_, err = c.LoadOlder(context.Background())
	assert.ErrorIs(t, err, ErrNoActiveRoom)
	assert.Error(t, c.OpenRoom(context.Background(), 0))
}

func TestClientDispatchesFrames(t *testing.T) {
	var mu sync.Mutex
	var reported []error
	svc := new(mocks.APIServiceMock)
	svc.On("MarkRead", mock.Anything, int64(42), mock.Anything).Return(nil)
	c := New(studentSession(t, "http://portal.local"), svc, Options{
		OnError: func(err error) {
			mu.Lock()
			defer mu.Unlock()
			reported = append(reported, err)
		},
	})
	_, sched := newManualScheduler()
	c.roomID = 42
	c.sched = sched
	c.store.Reset(42)
	c.typing.Attach(42, sched)
	c.receipts.Activate(42)

	s := staff()
	c.handleFrame(42, models.Frame{Type: models.FrameRecentMessages, Messages: []models.Message{msgAt(1, 1, s)}})
	c.handleFrame(42, typingFrame(true))
	require.Len(t, c.TypingUsers(), 1)

	incoming := msgAt(2, 2, s)
	c.handleFrame(42, models.Frame{Type: models.FrameChatMessage, Message: &incoming})
	assert.Empty(t, c.TypingUsers())
	assert.Equal(t, []int64{1, 2}, ids(c.Messages()))

	readAt := epoch.Add(time.Hour)
	c.handleFrame(42, models.Frame{Type: models.FrameMessagesRead, MessageIDs: []int64{1}, Timestamp: &readAt})
	assert.Equal(t, readAt, *c.Messages()[0].ReadAt)

	c.handleFrame(42, models.Frame{Type: models.FrameMessageDeleted, Message: &models.Message{ID: 2, DeletedAt: &readAt}})
	assert.Equal(t, models.DeletedPlaceholder, c.Messages()[1].Content)

	c.handleFrame(7, models.Frame{Type: models.FrameRecentMessages})
	assert.Len(t, c.Messages(), 2)

	c.handleFrame(42, models.Frame{Type: "presence"})
	c.handleFrame(42, models.Frame{Type: models.FrameChatMessage})
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, reported, 2)
	var perr *ProtocolError
	assert.True(t, errors.As(reported[0], &perr))
	assert.Equal(t, "presence", perr.Type)
	c.receipts.Wait()
}

func TestClientErrorFrameFlagsMessageUnsent(t *testing.T) {
	var mu sync.Mutex
	var reported []error
	c := New(studentSession(t, "http://portal.local"), new(mocks.APIServiceMock), Options{
		OnError: func(err error) {
			mu.Lock()
			defer mu.Unlock()
			reported = append(reported, err)
		},
	})
	c.roomID = 42
	c.store.Reset(42)
	c.store.AppendPending(models.Message{RoomID: 42, Content: "hello", ClientID: "c-1"})

	c.handleFrame(42, models.Frame{Type: models.FrameError, Code: "PROCESSING_ERROR", Error: "failed to store message", ClientID: "c-1"})

	msg, ok := c.store.GetPending("c-1")
	require.True(t, ok)
	assert.Equal(t, models.StatusUnsent, msg.Status)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, reported, 1)
	var derr *DeliveryError
	require.True(t, errors.As(reported[0], &derr))
	assert.Equal(t, "c-1", derr.ClientID)
}

func TestClientDeleteForeignMessage(t *testing.T) {
	svc := new(mocks.APIServiceMock)
	c := New(studentSession(t, "http://portal.local"), svc, Options{})
	c.store.Replace(42, []models.Message{msgAt(1, 1, staff())})

	err := c.Delete(context.Background(), 1)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	svc.AssertNotCalled(t, "DeleteMessage", mock.Anything, mock.Anything, mock.Anything)
}

func TestClientRefreshUnread(t *testing.T) {
	svc := new(mocks.APIServiceMock)
	svc.On("Notifications", mock.Anything, models.Participant{ID: 7, Role: models.RoleStudent}).Return(models.NotificationSummary{
		TotalUnread:   3,
		Notifications: []models.RoomNotification{{RoomID: 42, UnreadCount: 3}},
	}, nil).Once()
	c := New(studentSession(t, "http://portal.local"), svc, Options{})

	total, err := c.RefreshUnread(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Equal(t, 3, c.Unread(42))
	assert.Equal(t, 3, c.TotalUnread())
}

func TestClientListStudentsStaffOnly(t *testing.T) {
	svc := new(mocks.APIServiceMock)
	c := New(studentSession(t, "http://portal.local"), svc, Options{})

	_, err := c.ListStudents(context.Background())
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	svc.AssertNotCalled(t, "ListStudents", mock.Anything, mock.Anything)
}
