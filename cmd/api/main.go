package main

import (
	"context"
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/punchamoorthee/paybridge/internal/account"
	"github.com/punchamoorthee/paybridge/internal/alert"
	"github.com/punchamoorthee/paybridge/internal/api"
	"github.com/punchamoorthee/paybridge/internal/config"
	"github.com/punchamoorthee/paybridge/internal/ledger"
	"github.com/punchamoorthee/paybridge/internal/logging"
	"github.com/punchamoorthee/paybridge/internal/payment"
	"github.com/punchamoorthee/paybridge/internal/provider"
	"github.com/punchamoorthee/paybridge/internal/store"
	"github.com/punchamoorthee/paybridge/internal/vault"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	sealer, err := vault.NewFromBase64(cfg.VaultKey)
	if err != nil {
		log.Fatalf("Unusable vault key: %v", err)
	}

	db, err := store.New(context.Background(), cfg.DBSource)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer db.Close()

	alerts := alert.New(cfg.AlertWebhookURL, logger)
	defer alerts.Close()

	// Initialize Layers
	factory := provider.DefaultFactory()
	engine := account.NewEngine(db, sealer, factory, cfg.ProviderTimeout, logger)
	sessions := account.NewSessionCache(engine, cfg.ProviderTimeout, logger)
	linker := account.NewLinker(db, sealer, factory, sessions, cfg.OTPTimeout, cfg.ProviderTimeout, logger)
	recorder := ledger.New(db, logger)
	orchestrator := payment.NewOrchestrator(sessions, db, recorder, alerts, payment.Config{
		FeeRate:        cfg.FeeRate,
		DefaultProxy:   cfg.DefaultProxy,
		PlatformUserID: cfg.PlatformUserID,
		CallTimeout:    cfg.ProviderTimeout,
	}, logger)

	handler := api.NewHandler(linker, orchestrator, recorder, alerts, logger)

	// Router
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})
	handler.Register(r)

	logger.Info("server starting", "port", cfg.Port, "environment", cfg.Env)
	if err := http.ListenAndServe(":"+cfg.Port, r); err != nil {
		log.Fatal(err)
	}
}
