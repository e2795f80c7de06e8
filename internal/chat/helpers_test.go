package chat

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"portal-chat/internal/models"
	"portal-chat/internal/scheduler"
	"portal-chat/internal/session"
)

var epoch = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func studentSession(t *testing.T, baseURL string) *session.Session {
	t.Helper()
	sess, err := session.New(7, models.RoleStudent, "Asha", baseURL, "", nil)
	require.NoError(t, err)
	return sess
}

func staff() models.Participant {
	return models.Participant{ID: 3, Role: models.RoleAdmin}
}

func msgAt(id int64, minute int, sender models.Participant) models.Message {
	return models.Message{
		ID:         id,
		RoomID:     42,
		SenderID:   sender.ID,
		SenderRole: sender.Role,
		Content:    "m",
		CreatedAt:  epoch.Add(time.Duration(minute) * time.Minute),
	}
}

func ids(msgs []models.Message) []int64 {
	out := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

type failingDialer struct {
	mu   sync.Mutex
	urls []string
}

func (d *failingDialer) DialContext(_ context.Context, url string, _ http.Header) (*websocket.Conn, *http.Response, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, url)
	return nil, nil, errors.New("connection refused")
}

func (d *failingDialer) calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.urls...)
}

type stateRecorder struct {
	mu     sync.Mutex
	states []models.ConnectionState
}

func (r *stateRecorder) record(s models.ConnectionState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *stateRecorder) statuses() []models.ConnectionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.ConnectionStatus, 0, len(r.states))
	for _, s := range r.states {
		out = append(out, s.Status)
	}
	return out
}

func (r *stateRecorder) last() models.ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.states) == 0 {
		return models.ConnectionState{}
	}
	return r.states[len(r.states)-1]
}

func newManualScheduler() (*scheduler.ManualClock, *scheduler.Scheduler) {
	clock := scheduler.NewManualClock(epoch)
	return clock, scheduler.New(clock)
}

func newClockOnly() *scheduler.ManualClock {
	return scheduler.NewManualClock(epoch)
}
