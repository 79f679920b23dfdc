package httpapi

import (
	"net/http"

	"github.com/ap2-labs/ap2-reference/cmd/payment-processor/internal/service"
	"github.com/ap2-labs/ap2-reference/internal/a2a"
)

func NewRouter(msgHandler *a2a.MessageHandler, baseURL string, svc *service.Service, internalAuthToken string) http.Handler {
	h := NewHandlers(msgHandler, baseURL, svc)
	mux := http.NewServeMux()

	mux.Handle("POST /a2a/message", requireBearer(internalAuthToken, http.HandlerFunc(h.A2AMessage)))
	mux.HandleFunc("POST /challenges/{id}/complete", h.CompleteChallenge)
	mux.HandleFunc("GET /.well-known/agent-card.json", h.AgentCard)
	mux.HandleFunc("GET /health", h.Health)

	return mux
}

// requireBearer guards the internal-only A2A endpoint with a shared
// bearer token. An empty token disables the check (the default).
func requireBearer(token string, next http.Handler) http.Handler {
	if token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
