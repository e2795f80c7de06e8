package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"portal-chat/internal/models"
	"portal-chat/internal/observability"
	"portal-chat/internal/session"
)

// Client talks to the collaborator endpoints over JSON.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a client for the session's backend. The session cookie is
// sent with every request.
func NewClient(sess *session.Session, timeout time.Duration) (*Client, error) {
	jar, err := sess.CookieJar()
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	return &Client{
		baseURL: sess.BaseURL,
		http: &http.Client{
			Timeout:   timeout,
			Jar:       jar,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}, nil
}

// ListRooms returns the rooms visible to user.
func (c *Client) ListRooms(ctx context.Context, user models.Participant) ([]models.Room, error) {
	q := url.Values{}
	q.Set("user_type", string(user.Role))
	q.Set("user_id", strconv.FormatInt(user.ID, 10))

	var resp struct {
		Rooms []models.Room `json:"rooms"`
	}
	if err := c.do(ctx, "list_rooms", http.MethodGet, "/api/chat/rooms/?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Rooms, nil
}

// CreateOrGetRoom returns the room for the pair, creating it if needed.
func (c *Client) CreateOrGetRoom(ctx context.Context, req models.CreateRoomRequest) (models.Room, bool, error) {
	var resp struct {
		Room    models.Room `json:"room"`
		Created bool        `json:"created"`
	}
	if err := c.do(ctx, "create_room", http.MethodPost, "/api/chat/rooms/", req, &resp); err != nil {
		return models.Room{}, false, err
	}
	return resp.Room, resp.Created, nil
}

// FetchMessages returns one page of history. Page 1 is the newest.
func (c *Client) FetchMessages(ctx context.Context, roomID int64, page, pageSize int) (Page, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(pageSize))

	var resp Page
	path := fmt.Sprintf("/api/chat/rooms/%d/?%s", roomID, q.Encode())
	if err := c.do(ctx, "fetch_messages", http.MethodGet, path, nil, &resp); err != nil {
		return Page{}, err
	}
	return resp, nil
}

// SendMessage stores a message through the HTTP fallback.
func (c *Client) SendMessage(ctx context.Context, req SendRequest) (models.Message, error) {
	var resp struct {
		Message models.Message `json:"message"`
	}
	if err := c.do(ctx, "send_message", http.MethodPost, "/api/chat/send-message/", req, &resp); err != nil {
		return models.Message{}, err
	}
	return resp.Message, nil
}

// MarkRead marks the other side's messages in the room as read.
func (c *Client) MarkRead(ctx context.Context, roomID int64, reader models.Participant) error {
	req := ReadRequest{RoomID: roomID, UserID: reader.ID, UserType: reader.Role}
	return c.do(ctx, "mark_read", http.MethodPost, "/api/chat/mark-read/", req, nil)
}

// DeleteMessage soft-deletes a message sent by requester.
func (c *Client) DeleteMessage(ctx context.Context, messageID int64, requester models.Participant) (models.Message, error) {
	req := DeleteRequest{MessageID: messageID, UserID: requester.ID, UserType: requester.Role}
	var resp struct {
		Message models.Message `json:"deleted_message"`
	}
	if err := c.do(ctx, "delete_message", http.MethodPost, "/api/chat/delete-message/", req, &resp); err != nil {
		return models.Message{}, err
	}
	return resp.Message, nil
}

// Notifications returns the unread summary of user.
func (c *Client) Notifications(ctx context.Context, user models.Participant) (models.NotificationSummary, error) {
	q := url.Values{}
	q.Set("user_type", string(user.Role))
	q.Set("user_id", strconv.FormatInt(user.ID, 10))

	var resp models.NotificationSummary
	if err := c.do(ctx, "notifications", http.MethodGet, "/api/chat/notifications/?"+q.Encode(), nil, &resp); err != nil {
		return models.NotificationSummary{}, err
	}
	return resp, nil
}

// ListStudents returns the students staff of staffRole can open a room with.
func (c *Client) ListStudents(ctx context.Context, staffRole models.Role) ([]models.StudentEntry, error) {
	q := url.Values{}
	q.Set("recipient_type", string(staffRole))

	var resp struct {
		Students []models.StudentEntry `json:"students"`
	}
	if err := c.do(ctx, "list_students", http.MethodGet, "/api/chat/students/?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Students, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	ctx, span := otel.Tracer("portal-chat/api").Start(ctx, "api."+op)
	defer span.End()
	span.SetAttributes(attribute.String("http.route", path))

	start := time.Now()
	err := c.roundTrip(ctx, method, path, body, out)
	observability.ObserveAPICall(op, err, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var payload struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&payload)
		if payload.Error == "" {
			payload.Error = http.StatusText(resp.StatusCode)
		}
		return &Error{Status: resp.StatusCode, Message: payload.Error}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

var _ Service = (*Client)(nil)
