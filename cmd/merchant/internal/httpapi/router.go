package httpapi

import (
	"net/http"

	"github.com/ap2-labs/ap2-reference/cmd/merchant/internal/service"
	"github.com/ap2-labs/ap2-reference/internal/a2a"
	"github.com/ap2-labs/ap2-reference/internal/didresolver"
)

func NewRouter(svc *service.Service, msgHandler *a2a.MessageHandler, baseURL string, registry *didresolver.MerchantRegistry, selfDID string) http.Handler {
	h := NewHandlers(svc, msgHandler, baseURL, registry, selfDID)
	mux := http.NewServeMux()

	mux.HandleFunc("POST /a2a/message", h.A2AMessage)
	mux.HandleFunc("GET /products", h.ListProducts)
	mux.HandleFunc("POST /sign/cart", h.SignCart)
	mux.HandleFunc("GET /cart-mandates/{id}", h.GetCartMandate)
	mux.HandleFunc("POST /cart-mandates/{id}/approve", h.ApproveCart)
	mux.HandleFunc("POST /cart-mandates/{id}/reject", h.RejectCart)
	mux.HandleFunc("GET /.well-known/agent-card.json", h.AgentCard)
	mux.HandleFunc("GET /health", h.Health)

	return mux
}
