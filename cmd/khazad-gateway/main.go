package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/FeanorKingofNoldor/khazad-dum/internal/config"
	"github.com/FeanorKingofNoldor/khazad-dum/internal/facade"
	"github.com/FeanorKingofNoldor/khazad-dum/internal/util"
	"github.com/FeanorKingofNoldor/khazad-dum/internal/venue"
)

var errConnectFailed = errors.New("gateway connect failed")

func main() {
	cfgPath := flag.String("config", "", "path to YAML config (env-only when empty)")
	once := flag.Bool("once", false, "fetch one portfolio snapshot and exit")
	flag.Parse()

	if *cfgPath == "" {
		if p := os.Getenv("KHAZAD_CONFIG"); p != "" {
			*cfgPath = p
		}
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	var dialer venue.Dialer
	if cfg.Broker.DryRun {
		slog.Info("dry-run mode, using simulated venue")
		dialer = venue.NewSimDialer(100_000)
	} else {
		dialer = venue.NewAlpacaDialer(cfg.Broker.APIKey, cfg.Broker.APISecret)
	}

	gw, err := facade.New(cfg, dialer)
	if err != nil {
		log.Fatalf("failed to build gateway: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// The manager never retries a failed dial; the retry policy lives here.
	err = util.Retry(ctx, 3, 2*time.Second, func() error {
		if !gw.Connect(ctx) {
			return errConnectFailed
		}
		return nil
	})
	if err != nil || !gw.Connected() {
		log.Fatalf("failed to connect to gateway at %s:%d", cfg.Broker.Host, cfg.Broker.Port)
	}
	defer gw.Close(context.Background())

	info := gw.ConnectionInfo()
	slog.Info("gateway connected",
		"kind", info.SessionKind,
		"host", info.Host,
		"port", info.Port,
		"clientId", info.ClientID,
	)

	snapshot := gw.PortfolioDataSync(ctx)
	slog.Info("portfolio snapshot",
		"source", snapshot.Source,
		"positions", snapshot.Summary.TotalPositions,
		"openOrders", snapshot.Summary.OpenOrderCount,
		"netLiquidation", snapshot.Summary.NetLiquidation,
		"riskUtilization", snapshot.Summary.RiskUtilization,
	)

	if *once {
		return
	}

	// Refresh on the cache TTL until signalled.
	ttl := time.Duration(cfg.Cache.TTLSeconds) * time.Second
	ticker := time.NewTicker(ttl)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("shutting down")
			return
		case <-ticker.C:
			snapshot := gw.CompleteData(ctx, true)
			slog.Info("portfolio refreshed",
				"source", snapshot.Source,
				"positions", snapshot.Summary.TotalPositions,
				"openOrders", snapshot.Summary.OpenOrderCount,
			)
		}
	}
}
