// Command credential-provider runs the AP2 Credential Provider role
//: payment method listing, tokenization, credential
// release, and device attestation verification.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ap2-labs/ap2-reference/cmd/credential-provider/internal/config"
	"github.com/ap2-labs/ap2-reference/cmd/credential-provider/internal/httpapi"
	"github.com/ap2-labs/ap2-reference/cmd/credential-provider/internal/service"
	"github.com/ap2-labs/ap2-reference/cmd/credential-provider/internal/store"
	"github.com/ap2-labs/ap2-reference/internal/a2a"
	"github.com/ap2-labs/ap2-reference/internal/ap2"
	"github.com/ap2-labs/ap2-reference/internal/audit"
	"github.com/ap2-labs/ap2-reference/internal/didresolver"
	"github.com/ap2-labs/ap2-reference/internal/keystore"
	"github.com/ap2-labs/ap2-reference/internal/nonce"
)

func main() {
	cfg := config.Load()

	logLevel := slog.LevelInfo
	if cfg.Environment == "development" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	slog.Info("starting credential-provider", "environment", cfg.Environment, "port", cfg.Port)

	st := store.New()
	st.SeedDemoData("demo-user")

	keys := didresolver.New()
	ks, err := keystore.New(cfg.KeyDir)
	if err != nil {
		slog.Error("failed to open key store", "error", err)
		os.Exit(1)
	}
	priv, err := ks.LoadOrCreateEd25519("credential-provider_envelope", cfg.KeyPassphrase)
	if err != nil {
		slog.Error("failed to load envelope signing key", "error", err)
		os.Exit(1)
	}
	signer := ap2.NewEd25519Signer(priv)
	keys.Register(&didresolver.Document{
		ID: cfg.DID,
		VerificationMethod: []didresolver.VerificationMethod{{
			ID:           cfg.DID + "#envelope",
			Type:         "Ed25519VerificationKey2020",
			Controller:   cfg.DID,
			PublicKeyPEM: signer.PublicKeyEncoded(),
		}},
	})

	pub := audit.NewPublisher("credential-provider")

	svc := service.New(st, keys, pub, cfg.HighRiskThreshold, cfg.ProviderID)

	nonces := nonce.New(0)
	msgHandler := a2a.New(cfg.DID, signer, nonces, keys)
	msgHandler.RegisterHandler("ap2.mandates.PaymentMandate", httpapi.NewPaymentMandateHandler(svc))

	router := httpapi.NewRouter(svc, msgHandler, cfg.BaseURL)

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
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}
