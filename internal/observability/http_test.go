package observability

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetaFromRequestPrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest("GET", "/ws/chat/1/", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.7, 172.16.0.1")
	req.Header.Set("X-Request-Id", "req-1")
	req.Header.Set("User-Agent", "portal/1.0")

	meta := MetaFromRequest(req)
	assert.Equal(t, RequestMeta{RequestID: "req-1", IP: "10.0.0.7", UserAgent: "portal/1.0"}, meta)
}

func TestIPFromRequestUsesRemoteAddr(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "192.168.1.4:5555"
	assert.Equal(t, "192.168.1.4", IPFromRequest(req))
}

func TestBuildHeadersSkipsEmpty(t *testing.T) {
	assert.Equal(t, map[string]string{"trace_id": "t"}, BuildHeaders("", "t"))
}
