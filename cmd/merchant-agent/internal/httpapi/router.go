package httpapi

import (
	"net/http"

	"github.com/ap2-labs/ap2-reference/internal/a2a"
)

func NewRouter(msgHandler *a2a.MessageHandler, baseURL string) http.Handler {
	h := NewHandlers(msgHandler, baseURL)
	mux := http.NewServeMux()

	mux.HandleFunc("POST /a2a/message", h.A2AMessage)
	mux.HandleFunc("GET /.well-known/agent-card.json", h.AgentCard)
	mux.HandleFunc("GET /health", h.Health)

	return mux
}
