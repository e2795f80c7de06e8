// Package session carries the identity and endpoints of the signed-in portal
// user. It is passed explicitly to the messaging core.
package session

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"

	"portal-chat/internal/models"
)

// Session is the signed-in user and how to reach the chat backend.
type Session struct {
	UserID    int64
	Role      models.Role
	Name      string
	BaseURL   string
	SocketURL string
	Cookie    *http.Cookie
}

// New validates the identity and endpoints.
func New(userID int64, role models.Role, name, baseURL, socketURL string, cookie *http.Cookie) (*Session, error) {
	if userID <= 0 {
		return nil, errors.New("user id is required")
	}
	if !role.Valid() {
		return nil, fmt.Errorf("invalid role %q", role)
	}
	if _, err := url.Parse(baseURL); err != nil || baseURL == "" {
		return nil, fmt.Errorf("invalid base url %q", baseURL)
	}
	if socketURL == "" {
		socketURL = defaultSocketURL(baseURL)
	}
	return &Session{
		UserID:    userID,
		Role:      role,
		Name:      name,
		BaseURL:   strings.TrimRight(baseURL, "/"),
		SocketURL: strings.TrimRight(socketURL, "/"),
		Cookie:    cookie,
	}, nil
}

// Identity returns the user as a participant.
func (s *Session) Identity() models.Participant {
	return models.Participant{ID: s.UserID, Role: s.Role}
}

// RoomSocketURL is the connection endpoint of a room.
func (s *Session) RoomSocketURL(roomID int64) string {
	q := url.Values{}
	q.Set("user_id", strconv.FormatInt(s.UserID, 10))
	q.Set("user_type", string(s.Role))
	if s.Name != "" {
		q.Set("user_name", s.Name)
	}
	return fmt.Sprintf("%s/ws/chat/%d/?%s", s.SocketURL, roomID, q.Encode())
}

// Header returns the handshake headers, carrying the session cookie.
func (s *Session) Header() http.Header {
	h := http.Header{}
	if s.Cookie != nil {
		h.Set("Cookie", s.Cookie.String())
	}
	return h
}

// CookieJar returns a jar pre-loaded with the session cookie for BaseURL.
func (s *Session) CookieJar() (http.CookieJar, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	if s.Cookie == nil {
		return jar, nil
	}
	u, err := url.Parse(s.BaseURL)
	if err != nil {
		return nil, err
	}
	jar.SetCookies(u, []*http.Cookie{s.Cookie})
	return jar, nil
}

func defaultSocketURL(baseURL string) string {
	switch {
	case strings.HasPrefix(baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(baseURL, "https://")
	case strings.HasPrefix(baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(baseURL, "http://")
	}
	return baseURL
}
