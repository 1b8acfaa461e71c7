package httpserver

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"github.com/leadline-labs/leadline/internal/platform/requestid"
)

func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// WriteError writes the standard error envelope.
func WriteError(w http.ResponseWriter, r *http.Request, status int, code string) {
	WriteJSON(w, status, map[string]any{
		"error":      code,
		"request_id": r.Header.Get(requestid.Header),
	})
}

// ClientIP returns the remote peer address without its port.
func ClientIP(r *http.Request) net.IP {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	return net.ParseIP(addr)
}
