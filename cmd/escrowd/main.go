package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"veilmarket/config"
	"veilmarket/confidential"
	"veilmarket/core/events"
	"veilmarket/gateway"
	"veilmarket/native/arbiter"
	"veilmarket/native/escrow"
	"veilmarket/native/reputation"
	"veilmarket/observability"
	"veilmarket/observability/logging"
	"veilmarket/storage"
)

func main() {
	configPath := flag.String("config", "./config.toml", "path to the TOML configuration file")
	env := flag.String("env", "", "deployment environment label for log lines")
	flag.Parse()

	logger := logging.Setup("escrowd", *env)

	if err := run(*configPath, logger); err != nil {
		logger.Error("escrowd exited", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, logger *slog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.JWTSecret == "" {
		return errors.New("config: JWTSecret is required")
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	store, err := storage.Open(filepath.Join(cfg.DataDir, "state.db"))
	if err != nil {
		return err
	}
	defer store.Close()

	conf, err := confidential.NewMemoryLedger("CSOL")
	if err != nil {
		return err
	}

	treasury, err := config.ParseAddress(cfg.Treasury)
	if err != nil {
		return err
	}
	authority := treasury
	if cfg.Authority != "" {
		if authority, err = config.ParseAddress(cfg.Authority); err != nil {
			return err
		}
	}

	pool := arbiter.NewPool(authority)
	for _, entry := range cfg.Arbiters {
		addr, err := config.ParseAddress(entry.Address)
		if err != nil {
			return err
		}
		if err := pool.Add(authority, addr, big.NewInt(entry.Stake)); err != nil {
			return fmt.Errorf("register arbiter %s: %w", entry.Address, err)
		}
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewEventMetrics(registry)

	rep := reputation.NewLedger(store)

	engine := escrow.NewEngine()
	engine.SetState(store)
	engine.SetConfidential(conf)
	engine.SetReputation(rep)
	engine.SetArbiters(pool)
	engine.SetParams(cfg.Params())
	engine.SetTreasury(treasury)
	engine.SetAuthority(authority)
	engine.SetEmitter(events.Multi(metrics, observability.NewEventLogger(logger)))

	auth, err := gateway.NewAuthenticator([]byte(cfg.JWTSecret))
	if err != nil {
		return err
	}
	server := gateway.NewServer(engine, rep, auth, gateway.NewRateLimiter(cfg.RateLimitPerMinute), logger)
	server.SetFaucet(conf)
	server.SetMetricsRegistry(registry)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("gateway listening", "addr", cfg.ListenAddress)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return group.Wait()
}
