// Command merchant runs the AP2 Merchant role: unsigned
// CartMandate validation, inventory reservation, and cart signing,
// exposed over both POST /sign/cart and the A2A envelope.
// Bootstrap order: config, logger, store, keys, service, router,
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

	"github.com/ap2-labs/ap2-reference/cmd/merchant/internal/config"
	"github.com/ap2-labs/ap2-reference/cmd/merchant/internal/httpapi"
	"github.com/ap2-labs/ap2-reference/cmd/merchant/internal/service"
	"github.com/ap2-labs/ap2-reference/cmd/merchant/internal/store"
	"github.com/ap2-labs/ap2-reference/internal/a2a"
	"github.com/ap2-labs/ap2-reference/internal/ap2"
	"github.com/ap2-labs/ap2-reference/internal/audit"
	"github.com/ap2-labs/ap2-reference/internal/didresolver"
	"github.com/ap2-labs/ap2-reference/internal/keystore"
	"github.com/ap2-labs/ap2-reference/internal/money"
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

	slog.Info("starting merchant", "environment", cfg.Environment, "port", cfg.Port, "manual_approval", cfg.ManualApproval)

	st := store.New()
	st.SeedCatalog(demoCatalog())

	ks, err := keystore.New(cfg.KeyDir)
	if err != nil {
		slog.Error("failed to open key store", "error", err)
		os.Exit(1)
	}
	mandateKey, err := ks.LoadOrCreateECDSA("merchant_mandate", cfg.KeyPassphrase)
	if err != nil {
		slog.Error("failed to load mandate signing key", "error", err)
		os.Exit(1)
	}
	mandateSigner := ap2.NewECDSASigner(mandateKey)

	keys := didresolver.New()
	priv, err := ks.LoadOrCreateEd25519("merchant_envelope", cfg.KeyPassphrase)
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

	// The merchant registers its own DID-registry row; the
	// mandate-signing key is the row's verification method, and the
	// trust_score is surfaced read-only in the agent card.
	registry := didresolver.NewMerchantRegistry()
	registry.Upsert(didresolver.MerchantRecord{
		DID:                  cfg.DID,
		Name:                 cfg.MerchantName,
		Endpoint:             cfg.BaseURL,
		PublicKeyPEM:         mandateSigner.PublicKeyEncoded(),
		VerificationMethodID: cfg.DID + "#mandate",
		Status:               "active",
		TrustScore:           cfg.TrustScore,
	})
	if rec, ok := registry.Get(cfg.DID); ok {
		keys.Register(rec.Document())
	}

	pub := audit.NewPublisher("merchant")
	svc := service.New(st, mandateSigner, cfg.MerchantID, cfg.MerchantName, cfg.ManualApproval, cfg.MaxCartTTL, pub)

	nonces := nonce.New(0)
	msgHandler := a2a.New(cfg.DID, envelopeSigner, nonces, keys)
	msgHandler.RegisterHandler("ap2.mandates.CartMandate", httpapi.NewCartMandateHandler(svc))

	router := httpapi.NewRouter(svc, msgHandler, cfg.BaseURL, registry, cfg.DID)

	sweepCtx, cancelSweep := context.WithCancel(context.Background())
	defer cancelSweep()
	go runSweeper(sweepCtx, svc, cfg.MaxCartTTL, cfg.SweepInterval)

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
	cancelSweep()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}

// runSweeper periodically releases reservations held by carts that have
// sat pending_merchant_signature past ttl.
func runSweeper(ctx context.Context, svc *service.Service, ttl, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if swept := svc.Sweep(ttl); swept > 0 {
				slog.Info("swept expired cart reservations", "count", swept)
			}
		}
	}
}

func demoCatalog() []store.Product {
	return []store.Product{
		{SKU: "shoe-trail-runner", Name: "Trail Runner Sneaker", Category: "footwear", Brand: "TrailCo", UnitPrice: money.MustNew("89.99", "USD"), InventoryCount: 50, PopularityRank: 1},
		{SKU: "shoe-road-runner", Name: "Road Runner Sneaker", Category: "footwear", Brand: "TrailCo", UnitPrice: money.MustNew("74.50", "USD"), InventoryCount: 40, PopularityRank: 2},
		{SKU: "shoe-trail-elite", Name: "Trail Elite Sneaker", Category: "footwear", Brand: "SummitGear", UnitPrice: money.MustNew("149.00", "USD"), InventoryCount: 20, PopularityRank: 5},
		{SKU: "sock-merino", Name: "Merino Wool Socks", Category: "footwear", Brand: "TrailCo", UnitPrice: money.MustNew("14.99", "USD"), InventoryCount: 200, PopularityRank: 3},
		{SKU: "insole-gel", Name: "Gel Comfort Insole", Category: "footwear", Brand: "ComfortFit", UnitPrice: money.MustNew("9.99", "USD"), InventoryCount: 150, PopularityRank: 4},
		{SKU: "shoe-budget-trainer", Name: "Budget Trainer", Category: "footwear", Brand: "ValueStep", UnitPrice: money.MustNew("29.99", "USD"), InventoryCount: 100, PopularityRank: 6},
	}
}
