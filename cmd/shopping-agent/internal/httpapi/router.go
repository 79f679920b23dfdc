package httpapi

import (
	"net/http"

	"github.com/ap2-labs/ap2-reference/cmd/shopping-agent/internal/service"
	"github.com/ap2-labs/ap2-reference/internal/a2a"
)

func NewRouter(msgHandler *a2a.MessageHandler, baseURL string, svc *service.Service) http.Handler {
	h := NewHandlers(msgHandler, baseURL, svc)
	mux := http.NewServeMux()

	mux.HandleFunc("POST /checkout", h.Checkout)
	mux.HandleFunc("POST /challenges/{id}/complete", h.CompleteChallenge)
	mux.HandleFunc("POST /a2a/message", h.A2AMessage)
	mux.HandleFunc("GET /.well-known/agent-card.json", h.AgentCard)
	mux.HandleFunc("GET /health", h.Health)

	return mux
}
