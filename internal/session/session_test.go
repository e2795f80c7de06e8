package session

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portal-chat/internal/models"
)

func TestNewDerivesSocketURL(t *testing.T) {
	s, err := New(7, models.RoleStudent, "Asha", "http://portal.local:8000/", "", nil)
	require.NoError(t, err)

	assert.Equal(t, "http://portal.local:8000", s.BaseURL)
	assert.Equal(t, "ws://portal.local:8000", s.SocketURL)
	assert.Equal(t, "ws://portal.local:8000/ws/chat/42/?user_id=7&user_name=Asha&user_type=student", s.RoomSocketURL(42))
}

func TestNewRejectsInvalidIdentity(t *testing.T) {
	_, err := New(0, models.RoleStudent, "", "http://x", "", nil)
	assert.Error(t, err)

	_, err = New(1, models.Role("parent"), "", "http://x", "", nil)
	assert.Error(t, err)
}

func TestHeaderCarriesCookie(t *testing.T) {
	s, err := New(3, models.RoleAdmin, "", "https://portal", "", &http.Cookie{Name: "sessionid", Value: "abc"})
	require.NoError(t, err)

	assert.Equal(t, "wss://portal", s.SocketURL)
	assert.Equal(t, "sessionid=abc", s.Header().Get("Cookie"))
	assert.Equal(t, models.Participant{ID: 3, Role: models.RoleAdmin}, s.Identity())
}
