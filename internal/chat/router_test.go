package chat

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"portal-chat/internal/api"
	"portal-chat/internal/mocks"
	"portal-chat/internal/models"
)

type fixedStatus models.ConnectionStatus

func (s fixedStatus) Status(int64) models.ConnectionStatus {
	return models.ConnectionStatus(s)
}

type fakeSocket struct {
	mu     sync.Mutex
	sent   []Outgoing
	typing []bool
	err    error
}

func (f *fakeSocket) Name() string { return "socket" }

func (f *fakeSocket) SendMessage(_ context.Context, out Outgoing) (models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, out)
	if f.err != nil {
		return models.Message{}, f.err
	}
	return out.pending(), nil
}

func (f *fakeSocket) SendTyping(_ context.Context, _ int64, _ models.Participant, _ string, isTyping bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing = append(f.typing, isTyping)
	return f.err
}

func newTestRouter(t *testing.T, status models.ConnectionStatus, socket *fakeSocket, svc *mocks.APIServiceMock) (*Router, *Store) {
	store := NewStore(svc, nil)
	store.Reset(42)
	r := NewRouter(studentSession(t, "http://portal.local"), fixedStatus(status), socket, NewHTTPTransport(svc), store)
	r.newID = func() string { return "c-1" }
	return r, store
}

func TestRouterSendWhileNotOpenUsesHTTPOnly(t *testing.T) {
	for _, status := range []models.ConnectionStatus{
		models.ConnectionClosed,
		models.ConnectionConnecting,
		models.ConnectionError,
		models.ConnectionDisconnected,
	} {
		t.Run(string(status), func(t *testing.T) {
			svc := new(mocks.APIServiceMock)
			socket := &fakeSocket{}
			router, store := newTestRouter(t, status, socket, svc)

			stored := msgAt(55, 1, models.Participant{ID: 7, Role: models.RoleStudent})
			stored.ClientID = "c-1"
			svc.On("SendMessage", mock.Anything, mock.MatchedBy(func(req api.SendRequest) bool {
				return req.RoomID == 42 && req.Content == "hi" && req.ClientID == "c-1" && req.SenderRole == models.RoleStudent
			})).Return(stored, nil).Once()

			msg, err := router.Send(context.Background(), 42, "  hi ")
			require.NoError(t, err)
			assert.Equal(t, int64(55), msg.ID)

			assert.Empty(t, socket.sent)
			svc.AssertNumberOfCalls(t, "SendMessage", 1)
			assert.Equal(t, []int64{55}, ids(store.Messages()))
		})
	}
}

func TestRouterSendWhileOpenIsOptimistic(t *testing.T) {
	svc := new(mocks.APIServiceMock)
	socket := &fakeSocket{}
	router, store := newTestRouter(t, models.ConnectionOpen, socket, svc)

	msg, err := router.Send(context.Background(), 42, "hello")
	require.NoError(t, err)
	assert.True(t, msg.Pending())
	assert.Equal(t, "c-1", msg.ClientID)

	require.Len(t, socket.sent, 1)
	assert.Equal(t, "c-1", socket.sent[0].ClientID)
	msgs := store.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, models.StatusPending, msgs[0].Status)
	svc.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything)
}

func TestRouterSocketFailureFallsBackWithSameClientID(t *testing.T) {
	svc := new(mocks.APIServiceMock)
	socket := &fakeSocket{err: errors.New("broken pipe")}
	router, store := newTestRouter(t, models.ConnectionOpen, socket, svc)

	stored := msgAt(60, 1, models.Participant{ID: 7, Role: models.RoleStudent})
	stored.ClientID = "c-1"
	svc.On("SendMessage", mock.Anything, mock.MatchedBy(func(req api.SendRequest) bool {
		return req.ClientID == "c-1"
	})).Return(stored, nil).Once()

	msg, err := router.Send(context.Background(), 42, "hello")
	require.NoError(t, err)
	assert.Equal(t, int64(60), msg.ID)
	assert.Equal(t, []int64{60}, ids(store.Messages()))
}

func TestRouterHTTPFailureKeepsMessageUnsent(t *testing.T) {
	svc := new(mocks.APIServiceMock)
	router, store := newTestRouter(t, models.ConnectionDisconnected, &fakeSocket{}, svc)

	svc.On("SendMessage", mock.Anything, mock.Anything).Return(nil, &api.Error{Status: 500, Message: "boom"}).Once()

	msg, err := router.Send(context.Background(), 42, "hello")
	var derr *DeliveryError
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, "c-1", derr.ClientID)
	assert.Equal(t, models.StatusUnsent, msg.Status)

	kept, ok := store.GetPending("c-1")
	require.True(t, ok)
	assert.Equal(t, models.StatusUnsent, kept.Status)
	assert.Equal(t, "hello", kept.Content)

	stored := msgAt(61, 1, models.Participant{ID: 7, Role: models.RoleStudent})
	stored.ClientID = "c-1"
	svc.On("SendMessage", mock.Anything, mock.Anything).Return(stored, nil).Once()

	resent, err := router.Resend(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Equal(t, int64(61), resent.ID)
	assert.Equal(t, []int64{61}, ids(store.Messages()))
}

func TestRouterHTTPSendOutlivesCancelledContext(t *testing.T) {
	svc := new(mocks.APIServiceMock)
	router, _ := newTestRouter(t, models.ConnectionClosed, &fakeSocket{}, svc)

	svc.On("SendMessage", mock.MatchedBy(func(ctx context.Context) bool {
		return ctx.Err() == nil
	}), mock.Anything).Return(msgAt(70, 1, models.Participant{ID: 7, Role: models.RoleStudent}), nil).Once()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := router.Send(ctx, 42, "hello")
	require.NoError(t, err)
	svc.AssertExpectations(t)
}

func TestRouterRejectsEmptyMessage(t *testing.T) {
	svc := new(mocks.APIServiceMock)
	socket := &fakeSocket{}
	router, _ := newTestRouter(t, models.ConnectionOpen, socket, svc)

	_, err := router.Send(context.Background(), 42, "   ")
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "content", verr.Field)
	assert.Empty(t, socket.sent)

	_, err = router.Send(context.Background(), 0, "hi")
	assert.ErrorIs(t, err, ErrNoActiveRoom)
}

func TestRouterResendRequiresUnsentMessage(t *testing.T) {
	router, _ := newTestRouter(t, models.ConnectionOpen, &fakeSocket{}, new(mocks.APIServiceMock))
	_, err := router.Resend(context.Background(), "missing")
	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestRouterTypingDroppedWithoutSocket(t *testing.T) {
	socket := &fakeSocket{}
	router, _ := newTestRouter(t, models.ConnectionDisconnected, socket, new(mocks.APIServiceMock))
	router.SendTyping(context.Background(), 42, true)
	assert.Empty(t, socket.typing)

	open, _ := newTestRouter(t, models.ConnectionOpen, socket, new(mocks.APIServiceMock))
	open.SendTyping(context.Background(), 42, true)
	assert.Equal(t, []bool{true}, socket.typing)
}
