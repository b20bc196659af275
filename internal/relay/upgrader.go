package relay

import (
	"net/http"
	"os"
	"strings"

	"github.com/gorilla/websocket"
)

// OriginAllowed reports whether a browser Origin value may talk to this
// server. Localhost variants are always accepted for development; additional
// origins come from the comma-separated ALLOWED_ORIGINS environment variable.
// An empty origin is allowed because non-browser clients send no Origin
// header. Shared between the WebSocket upgrader and the CORS middleware so
// the two surfaces cannot drift apart.
func OriginAllowed(origin string) bool {
	if origin == "" {
		return true
	}
	if strings.Contains(origin, "localhost") || strings.Contains(origin, "127.0.0.1") {
		return true
	}
	for _, allowed := range strings.Split(os.Getenv("ALLOWED_ORIGINS"), ",") {
		if allowed = strings.TrimSpace(allowed); allowed != "" && origin == allowed {
			return true
		}
	}
	return false
}

var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return OriginAllowed(r.Header.Get("Origin"))
	},
}
