package chat

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"portal-chat/internal/api"
	"portal-chat/internal/models"
)

// Store keeps the message timeline of the active room, oldest first.
// Confirmed ids are unique; a pending message is keyed by its ClientID
// until the server confirms it.
type Store struct {
	api      api.Service
	onChange func([]models.Message)

	mu       sync.RWMutex
	roomID   int64
	messages []models.Message
	page     int
	pageSize int
	hasOlder bool
}

// NewStore creates an empty store. onChange, if set, receives a snapshot
// after every mutation.
func NewStore(svc api.Service, onChange func([]models.Message)) *Store {
	return &Store{api: svc, onChange: onChange}
}

// Reset empties the store for roomID.
func (s *Store) Reset(roomID int64) {
	s.mu.Lock()
	s.roomID = roomID
	s.messages = nil
	s.page = 0
	s.hasOlder = false
	s.mu.Unlock()
	s.changed()
}

// RoomID returns the room the store currently holds.
func (s *Store) RoomID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roomID
}

// Messages returns a copy of the timeline.
func (s *Store) Messages() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Message(nil), s.messages...)
}

// Get returns the confirmed message with id.
func (s *Store) Get(id int64) (models.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexByID(id); i >= 0 {
		return s.messages[i], true
	}
	return models.Message{}, false
}

// GetPending returns the unconfirmed message with clientID.
func (s *Store) GetPending(clientID string) (models.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexByClientID(clientID); i >= 0 {
		return s.messages[i], true
	}
	return models.Message{}, false
}

// HasOlder reports whether the server has history beyond what is loaded.
func (s *Store) HasOlder() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasOlder
}

// FetchPage loads one page of history. Page 1 replaces the timeline, later
// pages are prepended.
func (s *Store) FetchPage(ctx context.Context, roomID int64, page, pageSize int) (api.Pagination, error) {
	if page < 1 {
		return api.Pagination{}, &ValidationError{Field: "page", Reason: "must be at least 1"}
	}
	if pageSize < 1 {
		return api.Pagination{}, &ValidationError{Field: "page_size", Reason: "must be at least 1"}
	}

	result, err := s.api.FetchMessages(ctx, roomID, page, pageSize)
	if err != nil {
		return api.Pagination{}, fmt.Errorf("fetch page %d of room %d: %w", page, roomID, err)
	}

	s.mu.Lock()
	if page == 1 {
		s.replaceLocked(roomID, result.Messages)
	} else {
		if roomID != s.roomID {
			s.mu.Unlock()
			return result.Pagination, nil
		}
		s.prependLocked(result.Messages)
	}
	s.page = page
	s.pageSize = pageSize
	s.hasOlder = result.Pagination.HasNext
	s.mu.Unlock()

	s.changed()
	return result.Pagination, nil
}

// LoadOlder fetches the page after the last one loaded. It returns false
// when there is nothing older.
func (s *Store) LoadOlder(ctx context.Context) (bool, error) {
	s.mu.RLock()
	roomID, page, size, more := s.roomID, s.page, s.pageSize, s.hasOlder
	s.mu.RUnlock()
	if roomID == 0 {
		return false, ErrNoActiveRoom
	}
	if !more || page == 0 {
		return false, nil
	}
	if _, err := s.FetchPage(ctx, roomID, page+1, size); err != nil {
		return false, err
	}
	return true, nil
}

// Replace applies a recent_messages window. The timeline is swapped for msgs
// unless older pages of the same room are loaded, in which case msgs are
// merged so a reconnect replay keeps the history already paged in.
func (s *Store) Replace(roomID int64, msgs []models.Message) {
	s.mu.Lock()
	if roomID == s.roomID && s.page > 1 {
		s.mergeLocked(msgs)
	} else {
		s.replaceLocked(roomID, msgs)
	}
	s.mu.Unlock()
	s.changed()
}

// AppendPending adds an optimistic message from this client.
func (s *Store) AppendPending(msg models.Message) {
	msg.ID = 0
	msg.Status = models.StatusPending
	s.mu.Lock()
	if s.indexByClientID(msg.ClientID) < 0 {
		s.messages = append(s.messages, msg)
	}
	s.mu.Unlock()
	s.changed()
}

// Reconcile confirms the pending message clientID with the server copy. If
// no pending message matches, the confirmed message is inserted unless its
// id is already present. It reports whether a pending message was replaced.
func (s *Store) Reconcile(clientID string, confirmed models.Message) bool {
	confirmed.Status = models.StatusSent
	s.mu.Lock()
	pending := -1
	if clientID != "" {
		pending = s.indexByClientID(clientID)
	}
	existing := s.indexByID(confirmed.ID)
	replaced := false
	switch {
	case existing >= 0 && pending >= 0:
		s.messages = append(s.messages[:pending], s.messages[pending+1:]...)
	case pending >= 0:
		s.messages[pending] = confirmed
		replaced = true
	case existing < 0:
		s.messages = append(s.messages, confirmed)
	}
	s.mu.Unlock()
	s.changed()
	return replaced
}

// Insert adds a message pushed by the server. Known ids are ignored.
func (s *Store) Insert(msg models.Message) bool {
	if msg.ClientID != "" && s.Reconcile(msg.ClientID, msg) {
		return true
	}
	s.mu.Lock()
	if msg.ID == 0 || s.indexByID(msg.ID) >= 0 {
		s.mu.Unlock()
		return false
	}
	msg.Status = models.StatusSent
	s.messages = append(s.messages, msg)
	s.mu.Unlock()
	s.changed()
	return true
}

// MarkUnsent flags a message the server never accepted. A message not in
// the store yet is appended.
func (s *Store) MarkUnsent(msg models.Message) {
	s.mu.Lock()
	if i := s.indexByClientID(msg.ClientID); i >= 0 {
		s.messages[i].Status = models.StatusUnsent
	} else {
		msg.ID = 0
		msg.Status = models.StatusUnsent
		s.messages = append(s.messages, msg)
	}
	s.mu.Unlock()
	s.changed()
}

// FailPending flags the pending message clientID unsent after the server
// refused it. It reports false if no pending message matches.
func (s *Store) FailPending(clientID string) bool {
	s.mu.Lock()
	i := s.indexByClientID(clientID)
	if i >= 0 {
		s.messages[i].Status = models.StatusUnsent
	}
	s.mu.Unlock()
	if i >= 0 {
		s.changed()
	}
	return i >= 0
}

// MarkPending flips an unsent message back to pending before a retry.
func (s *Store) MarkPending(clientID string) bool {
	s.mu.Lock()
	i := s.indexByClientID(clientID)
	if i >= 0 {
		s.messages[i].Status = models.StatusPending
	}
	s.mu.Unlock()
	if i >= 0 {
		s.changed()
	}
	return i >= 0
}

// MarkRead sets ReadAt on the given messages. Deleted messages are left
// untouched.
func (s *Store) MarkRead(ids []int64, at time.Time) int {
	s.mu.Lock()
	n := 0
	for _, id := range ids {
		i := s.indexByID(id)
		if i < 0 || s.messages[i].Deleted() || s.messages[i].ReadAt != nil {
			continue
		}
		readAt := at
		s.messages[i].ReadAt = &readAt
		n++
	}
	s.mu.Unlock()
	if n > 0 {
		s.changed()
	}
	return n
}

// ApplyDeletion soft-deletes a message locally. It reports false if the
// message is unknown or already deleted.
func (s *Store) ApplyDeletion(id int64, at time.Time) bool {
	s.mu.Lock()
	i := s.indexByID(id)
	ok := i >= 0 && s.messages[i].MarkDeleted(at)
	s.mu.Unlock()
	if ok {
		s.changed()
	}
	return ok
}

// DeleteMessage soft-deletes a message sent by requester. Every check runs
// before the network call.
func (s *Store) DeleteMessage(ctx context.Context, id int64, requester models.Participant) error {
	msg, ok := s.Get(id)
	if !ok {
		return &ValidationError{Field: "message_id", Reason: "message not found"}
	}
	if msg.Sender() != requester {
		return &ValidationError{Field: "message_id", Reason: "only the sender can delete a message"}
	}
	if msg.Deleted() {
		return &ValidationError{Field: "message_id", Reason: "message is already deleted"}
	}

	deleted, err := s.api.DeleteMessage(ctx, id, requester)
	if err != nil {
		return fmt.Errorf("delete message %d: %w", id, err)
	}
	at := time.Now()
	if deleted.DeletedAt != nil {
		at = *deleted.DeletedAt
	}
	s.ApplyDeletion(id, at)
	return nil
}

func (s *Store) replaceLocked(roomID int64, msgs []models.Message) {
	incoming := dedupeSorted(msgs)
	seen := make(map[string]bool, len(incoming))
	for i := range incoming {
		incoming[i].Status = models.StatusSent
		if incoming[i].ClientID != "" {
			seen[incoming[i].ClientID] = true
		}
	}
	if roomID == s.roomID {
		for _, m := range s.messages {
			if m.Pending() && !seen[m.ClientID] {
				incoming = append(incoming, m)
			}
		}
	}
	s.roomID = roomID
	s.messages = incoming
}

// mergeLocked upserts msgs by id, confirms matching pending messages and keeps
// the timeline ordered with unconfirmed messages last.
func (s *Store) mergeLocked(msgs []models.Message) {
	for _, m := range dedupeSorted(msgs) {
		m.Status = models.StatusSent
		if i := s.indexByID(m.ID); i >= 0 {
			s.messages[i] = m
			continue
		}
		if i := s.indexByClientID(m.ClientID); i >= 0 {
			s.messages[i] = m
			continue
		}
		s.messages = append(s.messages, m)
	}
	sort.SliceStable(s.messages, func(i, j int) bool {
		a, b := s.messages[i], s.messages[j]
		if a.Pending() || b.Pending() {
			return !a.Pending() && b.Pending()
		}
		if a.CreatedAt.Equal(b.CreatedAt) {
			return a.ID < b.ID
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}

func (s *Store) prependLocked(older []models.Message) {
	filtered := make([]models.Message, 0, len(older))
	for _, m := range dedupeSorted(older) {
		if s.indexByID(m.ID) >= 0 {
			continue
		}
		m.Status = models.StatusSent
		filtered = append(filtered, m)
	}
	s.messages = append(filtered, s.messages...)
}

func (s *Store) indexByID(id int64) int {
	if id == 0 {
		return -1
	}
	for i := range s.messages {
		if s.messages[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) indexByClientID(clientID string) int {
	if clientID == "" {
		return -1
	}
	for i := range s.messages {
		if s.messages[i].Pending() && s.messages[i].ClientID == clientID {
			return i
		}
	}
	return -1
}

func (s *Store) changed() {
	if s.onChange != nil {
		s.onChange(s.Messages())
	}
}

// dedupeSorted orders confirmed messages by time then id and drops repeats.
func dedupeSorted(msgs []models.Message) []models.Message {
	out := make([]models.Message, 0, len(msgs))
	seen := make(map[int64]bool, len(msgs))
	for _, m := range msgs {
		if m.ID == 0 || seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
