package chat

import (
	"context"
	"time"

	"portal-chat/internal/api"
	"portal-chat/internal/models"
)

// Outgoing is a message authored on this client.
type Outgoing struct {
	RoomID     int64
	Content    string
	ClientID   string
	Sender     models.Participant
	SenderName string
	CreatedAt  time.Time
}

func (o Outgoing) pending() models.Message {
	return models.Message{
		RoomID:     o.RoomID,
		SenderID:   o.Sender.ID,
		SenderRole: o.Sender.Role,
		SenderName: o.SenderName,
		Content:    o.Content,
		ClientID:   o.ClientID,
		CreatedAt:  o.CreatedAt,
		Status:     models.StatusPending,
	}
}

// Transport delivers outgoing traffic. A socket transport returns the
// message still pending; an HTTP transport returns the stored message.
type Transport interface {
	Name() string
	SendMessage(ctx context.Context, out Outgoing) (models.Message, error)
	SendTyping(ctx context.Context, roomID int64, sender models.Participant, name string, isTyping bool) error
}

// FrameSender pushes frames on the live connection.
type FrameSender interface {
	Send(f models.Frame) error
}

type socketTransport struct {
	conn FrameSender
}

// NewSocketTransport sends over the room connection.
func NewSocketTransport(conn FrameSender) Transport {
	return &socketTransport{conn: conn}
}

func (t *socketTransport) Name() string { return "socket" }

func (t *socketTransport) SendMessage(_ context.Context, out Outgoing) (models.Message, error) {
	err := t.conn.Send(models.Frame{
		Type:       models.FrameChatMessage,
		RoomID:     out.RoomID,
		Content:    out.Content,
		ClientID:   out.ClientID,
		SenderID:   out.Sender.ID,
		SenderRole: out.Sender.Role,
		SenderName: out.SenderName,
	}.Stamp(out.CreatedAt))
	if err != nil {
		return models.Message{}, err
	}
	return out.pending(), nil
}

func (t *socketTransport) SendTyping(_ context.Context, roomID int64, sender models.Participant, name string, isTyping bool) error {
	return t.conn.Send(models.Frame{
		Type:       models.FrameTyping,
		RoomID:     roomID,
		SenderID:   sender.ID,
		SenderRole: sender.Role,
		SenderName: name,
		IsTyping:   isTyping,
	})
}

type httpTransport struct {
	api api.Service
}

// NewHTTPTransport sends through the collaborator send endpoint.
func NewHTTPTransport(svc api.Service) Transport {
	return &httpTransport{api: svc}
}

func (t *httpTransport) Name() string { return "http" }

func (t *httpTransport) SendMessage(ctx context.Context, out Outgoing) (models.Message, error) {
	return t.api.SendMessage(ctx, api.SendRequest{
		RoomID:     out.RoomID,
		Content:    out.Content,
		SenderID:   out.Sender.ID,
		SenderRole: out.Sender.Role,
		SenderName: out.SenderName,
		ClientID:   out.ClientID,
	})
}

func (t *httpTransport) SendTyping(context.Context, int64, models.Participant, string, bool) error {
	return errNoTypingRoute
}
