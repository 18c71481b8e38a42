// Command copytrader is the daemon entrypoint.
//
// Boot sequence:
//  1. flag.Parse() – read -config
//  2. config.Load(path) – parse YAML, substitute ${ENV_VAR}s, validate
//  3. botlog.New(cfg.LogLevel) – structured logger
//  4. orchestrator.New(cfg, log) – build shared transport + one Engine per pair
//  5. start the /healthz + /metrics HTTP server
//  6. orchestrator.Start(ctx) – bring up every pair
//  7. block until SIGINT/SIGTERM, then orchestrator.Stop() and shut the server down
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chidi150c/hyperliquid-copytrader/internal/botlog"
	"github.com/chidi150c/hyperliquid-copytrader/internal/config"
	"github.com/chidi150c/hyperliquid-copytrader/internal/orchestrator"
)

func main() {
	var configPath string
	var healthAddr string
	flag.StringVar(&configPath, "config", "config.yaml", "path to the daemon's YAML configuration")
	flag.StringVar(&healthAddr, "addr", ":9090", "address for the /healthz and /metrics server")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := botlog.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("botlog: %v", err)
	}
	defer logger.Sync()

	orch, err := orchestrator.New(cfg, logger)
	if err != nil {
		logger.Errorw("orchestrator init failed", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		for _, st := range orch.Status() {
			if st.State == "error" {
				w.WriteHeader(http.StatusServiceUnavailable)
				fmt.Fprintf(w, "pair %s: %s\n", st.PairID, st.State)
				return
			}
		}
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: healthAddr, Handler: mux}
	go func() {
		logger.Infow("serving health/metrics", "addr", healthAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorw("health server failed", "error", err)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	orch.Start(ctx)
	logger.Infow("copytrader running", "pairs", len(orch.Status()))

	<-ctx.Done()
	logger.Infow("shutdown signal received, stopping")
	orch.Stop()

	shutdownCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
	defer c()
	_ = srv.Shutdown(shutdownCtx)
}
