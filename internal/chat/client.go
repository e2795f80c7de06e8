// Package chat is the messaging core of the portal: one live room
// connection with HTTP fallback, an ordered message store, typing
// indicators, read receipts and the room list.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"portal-chat/internal/api"
	"portal-chat/internal/models"
	"portal-chat/internal/scheduler"
	"portal-chat/internal/session"
)

// DefaultPageSize matches the backend's recent_messages window.
const DefaultPageSize = 50

// Options configures a Client. Listener callbacks may run on any goroutine
// and must not call back into the Client synchronously.
type Options struct {
	Dialer     Dialer
	Clock      scheduler.Clock
	Connection ConnectionConfig
	PageSize   int

	OnMessages func([]models.Message)
	OnState    func(models.ConnectionState)
	OnTyping   func([]models.TypingState)
	OnUnread   func(roomID int64, unread int)
	OnError    func(error)
}

// Client ties the components together for one signed-in user.
type Client struct {
	sess *session.Session
	svc  api.Service
	opts Options

	conn     *ConnectionManager
	router   *Router
	store    *Store
	registry *Registry
	typing   *TypingCoordinator
	receipts *ReceiptTracker

	mu     sync.Mutex
	roomID int64
	sched  *scheduler.Scheduler

	stateMu sync.Mutex
	state   models.ConnectionState
}

// New creates a client for sess talking to svc.
func New(sess *session.Session, svc api.Service, opts Options) *Client {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	c := &Client{
		sess:  sess,
		svc:   svc,
		opts:  opts,
		state: models.ConnectionState{Status: models.ConnectionClosed},
	}
	c.store = NewStore(svc, opts.OnMessages)
	c.conn = NewConnectionManager(sess, opts.Dialer, opts.Connection, c.handleFrame, c.stateChanged)
	c.router = NewRouter(sess, c.conn, NewSocketTransport(c.conn), NewHTTPTransport(svc), c.store)
	c.receipts = NewReceiptTracker(svc, sess.Identity(), opts.OnUnread)
	c.registry = NewRegistry(svc, sess, c.receipts)
	c.typing = NewTypingCoordinator(sess.Identity(), func(roomID int64, isTyping bool) {
		c.router.SendTyping(context.Background(), roomID, isTyping)
	}, opts.OnTyping)
	return c
}

// ListRooms returns the user's rooms ordered for display.
func (c *Client) ListRooms(ctx context.Context) ([]models.Room, error) {
	return c.registry.ListRooms(ctx)
}

// CreateOrGetRoom returns the room between studentID and role.
func (c *Client) CreateOrGetRoom(ctx context.Context, studentID int64, role models.Role) (models.Room, error) {
	return c.registry.CreateOrGet(ctx, studentID, role)
}

// OpenRoom makes roomID the active room. The previous room's connection is
// closed normally and all of its timers are cancelled. The first page of
// history is loaded before the connection opens.
func (c *Client) OpenRoom(ctx context.Context, roomID int64) error {
	if roomID <= 0 {
		return &ValidationError{Field: "room_id", Reason: "must be positive"}
	}
	c.leave()
	sched := scheduler.New(c.opts.Clock)
	c.mu.Lock()
	c.roomID = roomID
	c.sched = sched
	c.mu.Unlock()

	c.store.Reset(roomID)
	c.typing.Attach(roomID, sched)
	if _, err := c.store.FetchPage(ctx, roomID, 1, c.opts.PageSize); err != nil {
		log.Printf("initial history for room %d not loaded: %v", roomID, err)
		c.reportError(err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.roomID != roomID || c.sched != sched {
		return fmt.Errorf("room %d was replaced while opening", roomID)
	}
	c.conn.Open(roomID, sched)
	c.receipts.Activate(roomID)
	return nil
}

// ActiveRoom returns the active room id, or zero.
func (c *Client) ActiveRoom() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

// Send sends content to the active room.
func (c *Client) Send(ctx context.Context, content string) (models.Message, error) {
	roomID := c.ActiveRoom()
	if roomID == 0 {
		return models.Message{}, ErrNoActiveRoom
	}
	c.typing.StopLocal()
	return c.router.Send(ctx, roomID, content)
}

// Resend retries a message flagged unsent.
func (c *Client) Resend(ctx context.Context, clientID string) (models.Message, error) {
	return c.router.Resend(ctx, clientID)
}

// Typing records local input in the active room.
func (c *Client) Typing() {
	c.typing.InputChanged()
}

// LoadOlder loads the next page of older history.
func (c *Client) LoadOlder(ctx context.Context) (bool, error) {
	return c.store.LoadOlder(ctx)
}

// Delete soft-deletes one of the user's own messages.
func (c *Client) Delete(ctx context.Context, messageID int64) error {
	return c.store.DeleteMessage(ctx, messageID, c.sess.Identity())
}

// MarkRead marks the active room read.
func (c *Client) MarkRead() {
	c.receipts.MarkRead(c.ActiveRoom())
}

// Messages returns the active room's timeline, oldest first.
func (c *Client) Messages() []models.Message {
	return c.store.Messages()
}

// HasOlder reports whether older history can be loaded.
func (c *Client) HasOlder() bool {
	return c.store.HasOlder()
}

// TypingUsers returns the remote users currently typing.
func (c *Client) TypingUsers() []models.TypingState {
	return c.typing.Active()
}

// Unread returns the unread count of roomID.
func (c *Client) Unread(roomID int64) int {
	return c.receipts.Unread(roomID)
}

// RefreshUnread reloads unread counts from the server's summary and returns
// the total.
func (c *Client) RefreshUnread(ctx context.Context) (int, error) {
	return c.receipts.Refresh(ctx)
}

// ListStudents returns the students a staff user can open a room with.
func (c *Client) ListStudents(ctx context.Context) ([]models.StudentEntry, error) {
	if !c.sess.Role.IsStaff() {
		return nil, &ValidationError{Field: "user_type", Reason: "only staff can list students"}
	}
	return c.svc.ListStudents(ctx, c.sess.Role)
}

// TotalUnread sums unread counts over all known rooms.
func (c *Client) TotalUnread() int {
	return c.receipts.TotalUnread()
}

// ConnectionState returns the last reported connection state.
func (c *Client) ConnectionState() models.ConnectionState {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

// Close leaves the active room. Pending timers are cancelled and the
// connection is closed normally.
func (c *Client) Close() {
	c.leave()
	c.receipts.Wait()
}

func (c *Client) leave() {
	c.mu.Lock()
	roomID, sched := c.roomID, c.sched
	c.roomID = 0
	c.sched = nil
	c.mu.Unlock()
	if roomID == 0 {
		return
	}
	c.typing.StopLocal()
	c.conn.Close()
	if sched != nil {
		sched.Close()
	}
	c.typing.Detach()
	c.receipts.Deactivate()
}

func (c *Client) stateChanged(s models.ConnectionState) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
	if c.opts.OnState != nil {
		c.opts.OnState(s)
	}
}

func (c *Client) handleFrame(roomID int64, f models.Frame) {
	if roomID != c.ActiveRoom() {
		return
	}
	switch f.Type {
	case models.FrameConnectionEstablished:
		log.Printf("chat room=%d connection established id=%s", roomID, f.ConnectionID)
	case models.FrameRecentMessages:
		c.store.Replace(roomID, f.Messages)
	case models.FrameChatMessage:
		if f.Message == nil {
			c.protocolError(f.Type, errors.New("missing message"))
			return
		}
		msg := *f.Message
		if msg.RoomID == 0 {
			msg.RoomID = roomID
		}
		c.store.Insert(msg)
		c.typing.Clear(msg.Sender())
		c.receipts.OnIncoming(msg)
	case models.FrameMessagesRead:
		at := time.Now()
		if f.Timestamp != nil {
			at = *f.Timestamp
		}
		c.store.MarkRead(f.MessageIDs, at)
	case models.FrameTypingIndicator:
		c.typing.Remote(f)
	case models.FrameMessageDeleted:
		if f.Message == nil || f.Message.ID == 0 {
			c.protocolError(f.Type, errors.New("missing message id"))
			return
		}
		at := time.Now()
		if f.Message.DeletedAt != nil {
			at = *f.Message.DeletedAt
		}
		c.store.ApplyDeletion(f.Message.ID, at)
	case models.FrameError:
		log.Printf("chat server error room=%d code=%s client_id=%s: %s", roomID, f.Code, f.ClientID, f.Error)
		if f.ClientID != "" && c.store.FailPending(f.ClientID) {
			c.reportError(&DeliveryError{ClientID: f.ClientID, Err: fmt.Errorf("server error %s: %s", f.Code, f.Error)})
			return
		}
		c.reportError(fmt.Errorf("server error %s: %s", f.Code, f.Error))
	default:
		c.protocolError(f.Type, errors.New("unsupported frame type"))
	}
}

func (c *Client) protocolError(frameType string, err error) {
	perr := &ProtocolError{Type: frameType, Err: err}
	logProtocolError(perr)
	c.reportError(perr)
}

func (c *Client) reportError(err error) {
	if c.opts.OnError != nil {
		c.opts.OnError(err)
	}
}
