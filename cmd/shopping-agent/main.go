// Command shopping-agent runs the AP2 Shopping Agent role:
// build and sign the user's IntentMandate, collect and select a cart
// candidate from the Merchant Agent, tokenize a payment method with the
// Credential Provider, simulate a device attestation, assemble and sign
// the PaymentMandate, and submit it on for settlement.
// Bootstrap order: config, logger, keys, DID self-registration,
// clients, service, router, graceful HTTP shutdown.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ap2-labs/ap2-reference/cmd/shopping-agent/internal/clients"
	"github.com/ap2-labs/ap2-reference/cmd/shopping-agent/internal/config"
	"github.com/ap2-labs/ap2-reference/cmd/shopping-agent/internal/httpapi"
	"github.com/ap2-labs/ap2-reference/cmd/shopping-agent/internal/service"
	"github.com/ap2-labs/ap2-reference/internal/a2a"
	"github.com/ap2-labs/ap2-reference/internal/agentcard"
	"github.com/ap2-labs/ap2-reference/internal/ap2"
	"github.com/ap2-labs/ap2-reference/internal/didresolver"
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

	slog.Info("starting shopping-agent", "environment", cfg.Environment, "port", cfg.Port, "merchant_agent_url", cfg.MerchantAgentURL)

	keys := didresolver.New()
	ks, err := keystore.New(cfg.KeyDir)
	if err != nil {
		slog.Error("failed to open key store", "error", err)
		os.Exit(1)
	}
	priv, err := ks.LoadOrCreateEd25519("shopping-agent_envelope", cfg.KeyPassphrase)
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

	// userSigner and deviceSigner stand in for the off-band WebAuthn/
	// passkey user signature and the device attestation: running
	// end-to-end without a real browser/authenticator in the loop, the
	// agent holds both demo keys itself, same as CP and PP hold their
	// own Ed25519 envelope keys at startup.
	userKey, err := ks.LoadOrCreateECDSA("shopping-agent_user", cfg.KeyPassphrase)
	if err != nil {
		slog.Error("failed to load user signing key", "error", err)
		os.Exit(1)
	}
	userSigner := ap2.NewECDSASigner(userKey)

	deviceKey, err := ks.LoadOrCreateECDSA("shopping-agent_device", cfg.KeyPassphrase)
	if err != nil {
		slog.Error("failed to load device signing key", "error", err)
		os.Exit(1)
	}
	deviceSigner := ap2.NewECDSASigner(deviceKey)

	// Startup peer discovery: fetch each sibling's agent card and warn
	// when one is unreachable or does not advertise the AP2 extension.
	// Peers may come up later, so failures are non-fatal.
	go discoverPeers(cfg)

	maClient := clients.NewMerchantAgentClient(cfg.MerchantAgentURL, cfg.MerchantAgentDID, msgHandler)
	merchantClient := clients.NewMerchantClient(cfg.MerchantURL)
	cpClient := clients.NewCredentialProviderClient(cfg.CredentialProviderURL)
	ppClient := clients.NewPaymentProcessorClient(cfg.PaymentProcessorURL)

	svc := service.New(
		maClient, merchantClient, cpClient, ppClient,
		userSigner, deviceSigner, cfg.DID+"#device", cfg.DefaultUserID,
		cfg.CartPollInterval, cfg.CartPollTimeout, cfg.IntentTTL,
	)

	msgHandler.RegisterHandler("ap2.mandates.CartMandate", httpapi.NewCartMandateHandler())
	msgHandler.RegisterHandler("ap2.responses.ProductList", httpapi.NewProductListHandler())
	msgHandler.RegisterHandler("ap2.responses.SignatureResponse", httpapi.NewSignatureResponseHandler())

	router := httpapi.NewRouter(msgHandler, cfg.BaseURL, svc)

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

func discoverPeers(cfg config.Config) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	peerURLs := []string{cfg.MerchantAgentURL, cfg.MerchantURL, cfg.CredentialProviderURL, cfg.PaymentProcessorURL}
	resolver := agentcard.NewResolver()
	cards, errs := resolver.ResolveMultiple(ctx, peerURLs)
	for i, card := range cards {
		if errs[i] != nil {
			slog.Warn("peer agent card unavailable", "url", peerURLs[i], "error", errs[i])
			continue
		}
		hasAP2 := false
		for _, ext := range card.Capabilities.Extensions {
			if ext.URI == agentcard.AP2ExtensionURI {
				hasAP2 = true
				break
			}
		}
		if !hasAP2 {
			slog.Warn("peer does not advertise the AP2 extension", "name", card.Name, "url", peerURLs[i])
			continue
		}
		slog.Info("discovered AP2 peer", "name", card.Name, "url", peerURLs[i], "skills", len(card.Skills))
	}
}
