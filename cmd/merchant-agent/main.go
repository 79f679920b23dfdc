// Command merchant-agent runs the AP2 Merchant Agent role:
// deterministic candidate-cart generation, parallel merchant-signing
// fan-out, and relaying the shopper's PaymentMandate on to the Payment
// Processor.
// Bootstrap order: config, logger, keys, clients, service, router,
// graceful HTTP shutdown.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ap2-labs/ap2-reference/cmd/merchant-agent/internal/clients"
	"github.com/ap2-labs/ap2-reference/cmd/merchant-agent/internal/config"
	"github.com/ap2-labs/ap2-reference/cmd/merchant-agent/internal/httpapi"
	"github.com/ap2-labs/ap2-reference/cmd/merchant-agent/internal/service"
	"github.com/ap2-labs/ap2-reference/internal/a2a"
	"github.com/ap2-labs/ap2-reference/internal/ap2"
	"github.com/ap2-labs/ap2-reference/internal/didresolver"
	"github.com/ap2-labs/ap2-reference/internal/httpclient"
	"github.com/ap2-labs/ap2-reference/internal/keystore"
	"github.com/ap2-labs/ap2-reference/internal/nonce"
)

func main() {
	cfg := config.Load()

	logLevel := slog.LevelInfo
	if cfg.Environment != "production" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	slog.Info("starting merchant-agent", "environment", cfg.Environment, "port", cfg.Port, "merchant_url", cfg.MerchantURL)

	keys := didresolver.New()
	ks, err := keystore.New(cfg.KeyDir)
	if err != nil {
		slog.Error("failed to open key store", "error", err)
		os.Exit(1)
	}
	priv, err := ks.LoadOrCreateEd25519("merchant-agent_envelope", cfg.KeyPassphrase)
	if err != nil {
		slog.Error("failed to load envelope signing key", "error", err)
		os.Exit(1)
	}
	envelopeSigner := ap2.NewEd25519Signer(priv)
	keys.Register(&didresolver.Document{
		ID: cfg.DID,
		VerificationMethod: []didresolver.VerificationMethod{{
			ID:           cfg.DID + "#envelope",
			Type:         "Ed25519VerificationKey2020",
			Controller:   cfg.DID,
			PublicKeyPEM: envelopeSigner.PublicKeyEncoded(),
		}},
	})

	nonces := nonce.New(0)
	msgHandler := a2a.New(cfg.DID, envelopeSigner, nonces, keys)

	merchantClient := clients.NewMerchantClient(cfg.MerchantURL)
	var ppAuth httpclient.AuthProvider
	if cfg.InternalAuthToken != "" {
		ppAuth = &httpclient.BearerTokenAuth{Token: cfg.InternalAuthToken}
	}
	ppClient := clients.NewPaymentProcessorClient(cfg.PaymentProcessorURL, cfg.PaymentProcessorDID, msgHandler, ppAuth)
	svc := service.New(merchantClient, ppClient, cfg.MerchantID, cfg.CandidateCartTTL)

	msgHandler.RegisterHandler("ap2.mandates.IntentMandate", httpapi.NewIntentMandateHandler(svc))
	msgHandler.RegisterHandler("ap2.requests.ProductSearch", httpapi.NewProductSearchHandler(svc))
	msgHandler.RegisterHandler("ap2.requests.CartRequest", httpapi.NewCartRequestHandler(svc))
	msgHandler.RegisterHandler("ap2.requests.CartSelection", httpapi.NewCartSelectionHandler())
	msgHandler.RegisterHandler("ap2.mandates.PaymentMandate", httpapi.NewPaymentMandateHandler(svc))

	router := httpapi.NewRouter(msgHandler, cfg.BaseURL)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}
