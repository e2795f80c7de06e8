package chat

import (
	"context"
	"fmt"
	"log"
	"sync"

	"portal-chat/internal/api"
	"portal-chat/internal/models"
	"portal-chat/internal/observability"
)

// ReceiptTracker keeps unread counts and batches mark-read calls per room.
// Counts drop to zero optimistically whatever the call outcome.
type ReceiptTracker struct {
	api      api.Service
	reader   models.Participant
	onChange func(roomID int64, unread int)

	mu       sync.Mutex
	active   int64
	unread   map[int64]int
	inflight map[int64]bool
	again    map[int64]bool
	wg       sync.WaitGroup
}

// NewReceiptTracker tracks unread messages addressed to reader.
func NewReceiptTracker(svc api.Service, reader models.Participant, onChange func(int64, int)) *ReceiptTracker {
	return &ReceiptTracker{
		api:      svc,
		reader:   reader,
		onChange: onChange,
		unread:   make(map[int64]int),
		inflight: make(map[int64]bool),
		again:    make(map[int64]bool),
	}
}

// Seed takes unread counts from a room listing. The active room stays at
// zero.
func (r *ReceiptTracker) Seed(rooms []models.Room) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, room := range rooms {
		if room.ID == r.active {
			continue
		}
		n := room.UnreadCount
		if n < 0 {
			n = 0
		}
		r.unread[room.ID] = n
	}
}

// Refresh replaces the unread counts with the server's summary. Rooms not
// listed there have nothing unread; the active room stays at zero. It
// returns the new total.
func (r *ReceiptTracker) Refresh(ctx context.Context) (int, error) {
	summary, err := r.api.Notifications(ctx, r.reader)
	if err != nil {
		return 0, fmt.Errorf("load unread summary: %w", err)
	}

	counts := make(map[int64]int, len(summary.Notifications))
	for _, n := range summary.Notifications {
		if n.UnreadCount > 0 {
			counts[n.RoomID] = n.UnreadCount
		}
	}

	r.mu.Lock()
	delete(counts, r.active)
	var changed []int64
	for id, old := range r.unread {
		if counts[id] != old {
			changed = append(changed, id)
		}
	}
	for id := range counts {
		if _, known := r.unread[id]; !known {
			changed = append(changed, id)
		}
	}
	for id := range r.unread {
		if id != r.active {
			r.unread[id] = 0
		}
	}
	total := 0
	for id, n := range counts {
		r.unread[id] = n
		total += n
	}
	r.mu.Unlock()

	for _, id := range changed {
		r.notify(id, counts[id])
	}
	return total, nil
}

// Activate makes roomID the active room and marks it read.
func (r *ReceiptTracker) Activate(roomID int64) {
	r.mu.Lock()
	r.active = roomID
	r.mu.Unlock()
	r.MarkRead(roomID)
}

// Deactivate leaves the active room.
func (r *ReceiptTracker) Deactivate() {
	r.mu.Lock()
	r.active = 0
	r.mu.Unlock()
}

// OnIncoming counts a message from the other party. In the active room it
// triggers a mark-read instead.
func (r *ReceiptTracker) OnIncoming(msg models.Message) {
	if msg.Sender() == r.reader || msg.Deleted() {
		return
	}
	r.mu.Lock()
	if msg.RoomID == r.active {
		r.mu.Unlock()
		r.MarkRead(msg.RoomID)
		return
	}
	r.unread[msg.RoomID]++
	n := r.unread[msg.RoomID]
	r.mu.Unlock()
	r.notify(msg.RoomID, n)
}

// MarkRead zeroes the unread count and tells the server. While a call for
// the room is in flight, further requests collapse into one follow-up.
func (r *ReceiptTracker) MarkRead(roomID int64) {
	if roomID == 0 {
		return
	}
	r.mu.Lock()
	changed := r.unread[roomID] != 0
	r.unread[roomID] = 0
	if r.inflight[roomID] {
		r.again[roomID] = true
		r.mu.Unlock()
		if changed {
			r.notify(roomID, 0)
		}
		return
	}
	r.inflight[roomID] = true
	r.wg.Add(1)
	r.mu.Unlock()
	if changed {
		r.notify(roomID, 0)
	}
	go r.run(roomID)
}

func (r *ReceiptTracker) run(roomID int64) {
	defer r.wg.Done()
	for {
		if err := r.api.MarkRead(context.Background(), roomID, r.reader); err != nil {
			observability.IncMarkReadFailure()
			log.Printf("mark read failed room=%d: %v", roomID, err)
		}
		r.mu.Lock()
		if r.again[roomID] {
			r.again[roomID] = false
			r.mu.Unlock()
			continue
		}
		r.inflight[roomID] = false
		r.mu.Unlock()
		return
	}
}

// Wait blocks until no mark-read call is in flight.
func (r *ReceiptTracker) Wait() {
	r.wg.Wait()
}

// Unread returns the unread count of roomID.
func (r *ReceiptTracker) Unread(roomID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unread[roomID]
}

// TotalUnread sums every room's unread count.
func (r *ReceiptTracker) TotalUnread() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, n := range r.unread {
		total += n
	}
	return total
}

func (r *ReceiptTracker) notify(roomID int64, n int) {
	if r.onChange != nil {
		r.onChange(roomID, n)
	}
}
