package chat

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"portal-chat/internal/models"
	"portal-chat/internal/observability"
	"portal-chat/internal/session"
)

// StatusSource reports the connection status of a room.
type StatusSource interface {
	Status(roomID int64) models.ConnectionStatus
}

// Router picks the transport for every outgoing message and typing event:
// the socket while the room connection is open, HTTP otherwise.
type Router struct {
	conn   StatusSource
	socket Transport
	http   Transport
	store  *Store
	sess   *session.Session
	now    func() time.Time
	newID  func() string
}

// NewRouter wires the two transports to the store.
func NewRouter(sess *session.Session, conn StatusSource, socket, http Transport, store *Store) *Router {
	return &Router{
		conn:   conn,
		socket: socket,
		http:   http,
		store:  store,
		sess:   sess,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Send delivers content to roomID. Over the socket the message is appended
// as pending and returned immediately; over HTTP the call waits for the
// stored message. In-flight HTTP sends outlive ctx cancellation.
func (r *Router) Send(ctx context.Context, roomID int64, content string) (models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return models.Message{}, &ValidationError{Field: "content", Reason: "message is empty"}
	}
	if roomID == 0 {
		return models.Message{}, ErrNoActiveRoom
	}
	out := Outgoing{
		RoomID:     roomID,
		Content:    content,
		ClientID:   r.newID(),
		Sender:     r.sess.Identity(),
		SenderName: r.sess.Name,
		CreatedAt:  r.now(),
	}
	return r.deliver(ctx, out, false)
}

// Resend retries a message flagged unsent, keeping its correlation id.
func (r *Router) Resend(ctx context.Context, clientID string) (models.Message, error) {
	msg, ok := r.store.GetPending(clientID)
	if !ok || msg.Status != models.StatusUnsent {
		return models.Message{}, &ValidationError{Field: "client_id", Reason: "no unsent message with this id"}
	}
	r.store.MarkPending(clientID)
	out := Outgoing{
		RoomID:     msg.RoomID,
		Content:    msg.Content,
		ClientID:   msg.ClientID,
		Sender:     msg.Sender(),
		SenderName: msg.SenderName,
		CreatedAt:  msg.CreatedAt,
	}
	return r.deliver(ctx, out, true)
}

func (r *Router) deliver(ctx context.Context, out Outgoing, stored bool) (models.Message, error) {
	if r.conn.Status(out.RoomID) == models.ConnectionOpen {
		if !stored {
			r.store.AppendPending(out.pending())
			stored = true
		}
		msg, err := r.socket.SendMessage(ctx, out)
		if err == nil {
			observability.IncMessageSent(r.socket.Name())
			return msg, nil
		}
		observability.IncSendFailure(r.socket.Name())
		log.Printf("socket send failed, falling back to http client_id=%s: %v", out.ClientID, err)
	}
	return r.deliverHTTP(ctx, out, stored)
}

func (r *Router) deliverHTTP(ctx context.Context, out Outgoing, stored bool) (models.Message, error) {
	msg, err := r.http.SendMessage(context.WithoutCancel(ctx), out)
	if err != nil {
		observability.IncSendFailure(r.http.Name())
		failed := out.pending()
		failed.Status = models.StatusUnsent
		if stored || r.store.RoomID() == out.RoomID {
			r.store.MarkUnsent(failed)
		}
		return failed, &DeliveryError{ClientID: out.ClientID, Err: err}
	}
	observability.IncMessageSent(r.http.Name())
	msg.Status = models.StatusSent
	if r.store.RoomID() == out.RoomID {
		r.store.Reconcile(out.ClientID, msg)
	}
	return msg, nil
}

// SendTyping pushes a typing event over the socket. Without an open socket
// the event is dropped.
func (r *Router) SendTyping(ctx context.Context, roomID int64, isTyping bool) {
	if roomID == 0 || r.conn.Status(roomID) != models.ConnectionOpen {
		observability.IncTypingDropped()
		return
	}
	if err := r.socket.SendTyping(ctx, roomID, r.sess.Identity(), r.sess.Name, isTyping); err != nil {
		observability.IncTypingDropped()
		log.Printf("typing event dropped room=%d: %v", roomID, err)
	}
}
