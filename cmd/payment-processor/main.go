// Command payment-processor runs the AP2 Payment Processor role
//: chain verification, credential round-trips with the
// Credential Provider, and the authorize/capture/refund state machine.
// Bootstrap order: config, logger, store, service, router, graceful
// HTTP shutdown.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ap2-labs/ap2-reference/cmd/payment-processor/internal/config"
	"github.com/ap2-labs/ap2-reference/cmd/payment-processor/internal/httpapi"
	"github.com/ap2-labs/ap2-reference/cmd/payment-processor/internal/service"
	"github.com/ap2-labs/ap2-reference/internal/a2a"
	"github.com/ap2-labs/ap2-reference/internal/ap2"
	"github.com/ap2-labs/ap2-reference/internal/audit"
	"github.com/ap2-labs/ap2-reference/internal/didresolver"
	"github.com/ap2-labs/ap2-reference/internal/httpclient"
	"github.com/ap2-labs/ap2-reference/internal/keystore"
	"github.com/ap2-labs/ap2-reference/internal/ledger"
	"github.com/ap2-labs/ap2-reference/internal/nonce"
	"github.com/ap2-labs/ap2-reference/internal/verifier"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	cfg := config.Load()

	logLevel := slog.LevelInfo
	if cfg.Environment != "production" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	slog.Info("starting payment-processor", "environment", cfg.Environment, "port", cfg.Port)

	ctx := context.Background()
	store, err := newLedgerStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize ledger store", "error", err)
		os.Exit(1)
	}

	keys := didresolver.New()
	ks, err := keystore.New(cfg.KeyDir)
	if err != nil {
		slog.Error("failed to open key store", "error", err)
		os.Exit(1)
	}
	priv, err := ks.LoadOrCreateEd25519("payment-processor_envelope", cfg.KeyPassphrase)
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

	nonces := nonce.New(0)
	v := verifier.New(keys)
	pub := audit.NewPublisher("payment-processor")
	cp := httpclient.NewClient("credential-provider", 30*time.Second)

	svc := service.New(store, v, cp, cfg.CredentialProviderURL, pub)

	msgHandler := a2a.New(cfg.DID, signer, nonces, keys)
	msgHandler.RegisterHandler("ap2.mandates.PaymentMandate", httpapi.NewPaymentMandateHandler(svc))

	router := httpapi.NewRouter(msgHandler, cfg.BaseURL, svc, cfg.InternalAuthToken)

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

func newLedgerStore(ctx context.Context, cfg config.Config) (ledger.Store, error) {
	if cfg.StoreType != "mongo" {
		return ledger.NewMemoryStore(), nil
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, err
	}
	return ledger.NewMongoStore(ctx, client.Database(cfg.MongoDB))
}
