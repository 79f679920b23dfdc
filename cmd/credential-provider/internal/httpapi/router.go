package httpapi

import (
	"net/http"

	"github.com/ap2-labs/ap2-reference/cmd/credential-provider/internal/service"
	"github.com/ap2-labs/ap2-reference/internal/a2a"
)

func NewRouter(svc *service.Service, msgHandler *a2a.MessageHandler, baseURL string) http.Handler {
	h := NewHandlers(svc, msgHandler, baseURL)
	mux := http.NewServeMux()

	mux.HandleFunc("POST /a2a/message", h.A2AMessage)
	mux.HandleFunc("GET /payment-methods", h.ListMethods)
	mux.HandleFunc("POST /payment-methods/tokenize", h.Tokenize)
	mux.HandleFunc("POST /credentials", h.RequestPaymentCredentials)
	mux.HandleFunc("POST /verify/attestation", h.VerifyDeviceAttestation)
	mux.HandleFunc("GET /.well-known/agent-card.json", h.AgentCard)
	mux.HandleFunc("GET /health", h.Health)

	return mux
}
