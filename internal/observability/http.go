package observability

import (
	"net"
	"net/http"
	"strings"
)

// RequestMeta is what the websocket handshake records about the caller.
type RequestMeta struct {
	RequestID string
	IP        string
	UserAgent string
}

// MetaFromRequest extracts request metadata for logs and events.
func MetaFromRequest(r *http.Request) RequestMeta {
	return RequestMeta{
		RequestID: r.Header.Get("X-Request-Id"),
		IP:        IPFromRequest(r),
		UserAgent: r.UserAgent(),
	}
}

func IPFromRequest(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}
