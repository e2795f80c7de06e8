package chat

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portal-chat/internal/models"
)

type emitted struct {
	mu     sync.Mutex
	events []bool
}

func (e *emitted) emit(_ int64, isTyping bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, isTyping)
}

func (e *emitted) get() []bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]bool(nil), e.events...)
}

func typingFrame(isTyping bool) models.Frame {
	s := staff()
	return models.Frame{
		Type:       models.FrameTypingIndicator,
		SenderID:   s.ID,
		SenderRole: s.Role,
		SenderName: "Office",
		IsTyping:   isTyping,
	}
}

func TestTypingRemoteClearsAfterExpiry(t *testing.T) {
	clock, sched := newManualScheduler()
	tc := NewTypingCoordinator(models.Participant{ID: 7, Role: models.RoleStudent}, func(int64, bool) {}, nil)
	tc.Attach(42, sched)

	tc.Remote(typingFrame(true))
	active := tc.Active()
	require.Len(t, active, 1)
	assert.Equal(t, "Office", active[0].UserName)
	assert.Equal(t, epoch.Add(TypingExpiry), active[0].ExpiresAt)

	clock.Advance(2999 * time.Millisecond)
	assert.Len(t, tc.Active(), 1)
	clock.Advance(time.Millisecond)
	assert.Empty(t, tc.Active())
}

func TestTypingRemoteRenewalExtendsIndicator(t *testing.T) {
	clock, sched := newManualScheduler()
	tc := NewTypingCoordinator(models.Participant{ID: 7, Role: models.RoleStudent}, func(int64, bool) {}, nil)
	tc.Attach(42, sched)

	tc.Remote(typingFrame(true))
	clock.Advance(2 * time.Second)
	tc.Remote(typingFrame(true))
	clock.Advance(2 * time.Second)
	assert.Len(t, tc.Active(), 1)
	clock.Advance(time.Second)
	assert.Empty(t, tc.Active())
}

func TestTypingRemoteStopAndOwnFrames(t *testing.T) {
	_, sched := newManualScheduler()
	tc := NewTypingCoordinator(staff(), func(int64, bool) {}, nil)
	tc.Attach(42, sched)

	tc.Remote(typingFrame(true))
	assert.Empty(t, tc.Active(), "own typing frames are ignored")

	other := NewTypingCoordinator(models.Participant{ID: 7, Role: models.RoleStudent}, func(int64, bool) {}, nil)
	other.Attach(42, sched)
	other.Remote(typingFrame(true))
	other.Remote(typingFrame(false))
	assert.Empty(t, other.Active())
	assert.False(t, sched.Pending(expiryKey(staff())))
}

func TestTypingLocalDebounce(t *testing.T) {
	clock, sched := newManualScheduler()
	out := &emitted{}
	tc := NewTypingCoordinator(models.Participant{ID: 7, Role: models.RoleStudent}, out.emit, nil)
	tc.Attach(42, sched)

	tc.InputChanged()
	clock.Advance(500 * time.Millisecond)
	tc.InputChanged()
	clock.Advance(500 * time.Millisecond)
	tc.InputChanged()
	assert.Equal(t, []bool{true}, out.get())

	clock.Advance(999 * time.Millisecond)
	assert.Equal(t, []bool{true}, out.get())
	clock.Advance(time.Millisecond)
	assert.Equal(t, []bool{true, false}, out.get())
	assert.False(t, tc.LocalActive())
}

func TestTypingStopLocalOnSend(t *testing.T) {
	clock, sched := newManualScheduler()
	out := &emitted{}
	tc := NewTypingCoordinator(models.Participant{ID: 7, Role: models.RoleStudent}, out.emit, nil)
	tc.Attach(42, sched)

	tc.InputChanged()
	tc.StopLocal()
	tc.StopLocal()
	clock.Advance(5 * time.Second)
	assert.Equal(t, []bool{true, false}, out.get())
}

func TestTypingDetachCancelsTimers(t *testing.T) {
	clock, sched := newManualScheduler()
	out := &emitted{}
	tc := NewTypingCoordinator(models.Participant{ID: 7, Role: models.RoleStudent}, out.emit, nil)
	tc.Attach(42, sched)

	tc.InputChanged()
	tc.Remote(typingFrame(true))
	require.Equal(t, 2, sched.Len())

	tc.Detach()
	assert.Equal(t, 0, sched.Len())
	assert.Empty(t, tc.Active())
	clock.Advance(10 * time.Second)
	assert.Equal(t, []bool{true}, out.get())
}
