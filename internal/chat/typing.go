package chat

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"portal-chat/internal/models"
	"portal-chat/internal/scheduler"
)

const (
	// TypingIdleTimeout is the input pause after which typing stops.
	TypingIdleTimeout = 1000 * time.Millisecond
	// TypingExpiry clears a remote indicator that was not renewed.
	TypingExpiry = 3000 * time.Millisecond

	keyTypingStop = "typing.stop"
)

// TypingCoordinator debounces local typing signals and expires remote ones.
type TypingCoordinator struct {
	self     models.Participant
	emit     func(roomID int64, isTyping bool)
	onChange func([]models.TypingState)

	mu     sync.Mutex
	roomID int64
	sched  *scheduler.Scheduler
	active bool
	remote map[models.Participant]models.TypingState
}

// NewTypingCoordinator creates a coordinator for self. emit sends local
// typing start and stop events.
func NewTypingCoordinator(self models.Participant, emit func(int64, bool), onChange func([]models.TypingState)) *TypingCoordinator {
	return &TypingCoordinator{
		self:     self,
		emit:     emit,
		onChange: onChange,
		remote:   make(map[models.Participant]models.TypingState),
	}
}

// Attach binds the coordinator to a room session.
func (t *TypingCoordinator) Attach(roomID int64, sched *scheduler.Scheduler) {
	t.Detach()
	t.mu.Lock()
	t.roomID = roomID
	t.sched = sched
	t.mu.Unlock()
}

// Detach forgets the current room and its indicators. Timers stay in the
// room's scheduler, which the owner closes.
func (t *TypingCoordinator) Detach() {
	t.mu.Lock()
	if t.sched != nil {
		t.sched.Cancel(keyTypingStop)
		for p := range t.remote {
			t.sched.Cancel(expiryKey(p))
		}
	}
	hadRemote := len(t.remote) > 0
	t.roomID = 0
	t.sched = nil
	t.active = false
	t.remote = make(map[models.Participant]models.TypingState)
	t.mu.Unlock()
	if hadRemote {
		t.changed()
	}
}

// InputChanged records a keystroke. The first keystroke after idle emits
// typing start; typing stop follows TypingIdleTimeout after the last one.
func (t *TypingCoordinator) InputChanged() {
	t.mu.Lock()
	if t.sched == nil {
		t.mu.Unlock()
		return
	}
	roomID, sched := t.roomID, t.sched
	start := !t.active
	t.active = true
	sched.After(keyTypingStop, TypingIdleTimeout, func() {
		t.stop(roomID)
	})
	t.mu.Unlock()

	if start {
		t.emit(roomID, true)
	}
}

// StopLocal emits typing stop immediately if typing was active.
func (t *TypingCoordinator) StopLocal() {
	t.mu.Lock()
	roomID := t.roomID
	t.mu.Unlock()
	t.stop(roomID)
}

func (t *TypingCoordinator) stop(roomID int64) {
	t.mu.Lock()
	if t.roomID != roomID || !t.active {
		t.mu.Unlock()
		return
	}
	t.active = false
	if t.sched != nil {
		t.sched.Cancel(keyTypingStop)
	}
	t.mu.Unlock()
	t.emit(roomID, false)
}

// LocalActive reports whether this user is currently typing.
func (t *TypingCoordinator) LocalActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// Remote applies an inbound typing_indicator frame.
func (t *TypingCoordinator) Remote(f models.Frame) {
	who := models.Participant{ID: f.SenderID, Role: f.SenderRole}
	if who == t.self {
		return
	}
	if !f.IsTyping {
		t.Clear(who)
		return
	}

	t.mu.Lock()
	if t.sched == nil {
		t.mu.Unlock()
		return
	}
	roomID, sched := t.roomID, t.sched
	t.remote[who] = models.TypingState{
		RoomID:    roomID,
		UserID:    f.SenderID,
		UserName:  f.SenderName,
		IsTyping:  true,
		ExpiresAt: sched.Now().Add(TypingExpiry),
	}
	sched.After(expiryKey(who), TypingExpiry, func() {
		t.expire(roomID, who)
	})
	t.mu.Unlock()
	t.changed()
}

// Clear removes the indicator of who, e.g. when their message arrives.
func (t *TypingCoordinator) Clear(who models.Participant) {
	t.mu.Lock()
	_, ok := t.remote[who]
	delete(t.remote, who)
	if t.sched != nil {
		t.sched.Cancel(expiryKey(who))
	}
	t.mu.Unlock()
	if ok {
		t.changed()
	}
}

func (t *TypingCoordinator) expire(roomID int64, who models.Participant) {
	t.mu.Lock()
	if t.roomID != roomID {
		t.mu.Unlock()
		return
	}
	_, ok := t.remote[who]
	delete(t.remote, who)
	t.mu.Unlock()
	if ok {
		t.changed()
	}
}

// Active returns the remote users currently typing, by user id.
func (t *TypingCoordinator) Active() []models.TypingState {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]models.TypingState, 0, len(t.remote))
	for _, s := range t.remote {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (t *TypingCoordinator) changed() {
	if t.onChange != nil {
		t.onChange(t.Active())
	}
}

func expiryKey(p models.Participant) string {
	return fmt.Sprintf("typing.expire.%s.%d", p.Role, p.ID)
}
