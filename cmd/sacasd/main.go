// Command sacasd runs the SACAS simulation daemon: agent registry,
// weather, production ticks, and the combat API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sacaslabs/sacas-daemon/internal/api"
	"github.com/sacaslabs/sacas-daemon/internal/config"
	"github.com/sacaslabs/sacas-daemon/internal/cooldown"
	"github.com/sacaslabs/sacas-daemon/internal/economy"
	"github.com/sacaslabs/sacas-daemon/internal/engine"
	"github.com/sacaslabs/sacas-daemon/internal/entropy"
	"github.com/sacaslabs/sacas-daemon/internal/parasite"
	"github.com/sacaslabs/sacas-daemon/internal/persistence"
	"github.com/sacaslabs/sacas-daemon/internal/persistence/eventlog"
	"github.com/sacaslabs/sacas-daemon/internal/registry"
	"github.com/sacaslabs/sacas-daemon/internal/topology"
	"github.com/sacaslabs/sacas-daemon/internal/weather"
)

func main() {
	configPath := flag.String("config", "sacas.yaml", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}
	slog.Info("sacas daemon starting",
		"port", cfg.Port,
		"db", cfg.DBPath,
		"seed", cfg.Seed,
		"tick", cfg.TickInterval(),
	)

	// ── Database ──────────────────────────────────────────────────────
	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			slog.Error("failed to create database directory", "dir", dir, "error", err)
			os.Exit(1)
		}
	}
	db, err := persistence.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// ── Entropy ───────────────────────────────────────────────────────
	// random.org when a key is configured; crypto/rand otherwise.
	src := entropy.FromClient(entropy.NewClient(cfg.RandomOrgKey))
	if cfg.RandomOrgKey == "" {
		slog.Info("SACAS_RANDOM_ORG_KEY not set, using local entropy")
	}

	// ── World ─────────────────────────────────────────────────────────
	reg := registry.NewStore()
	cds := cooldown.NewManager()
	wc := weather.NewController(src)
	ledger := parasite.NewLedger()
	noise := topology.NewNoiseField(cfg.Seed)

	core := engine.NewCore(reg, cds, wc, ledger, noise, src)

	if err := db.LoadWorld(core); err != nil {
		slog.Error("failed to load world", "error", err)
		os.Exit(1)
	}
	slog.Info("world loaded",
		"agents", reg.Len(),
		"contracts", len(ledger.All()),
		"regime", wc.Current().Regime.String(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Event journal ────────────────────────────────────────────────
	stopJournal := func() {}
	if cfg.EventLogDir != "" {
		journal := eventlog.NewWriter(cfg.EventLogDir)
		sub, ch := core.Events.Subscribe()
		go journal.Drain(ch)
		stopJournal = func() {
			core.Events.Unsubscribe(sub)
			journal.Close()
		}
		slog.Info("event journal enabled", "dir", cfg.EventLogDir)
	}

	// ── Background loops ─────────────────────────────────────────────
	go wc.Run(ctx, cfg.WeatherCheckEvery())

	sched := economy.NewScheduler(reg, ledger, wc)
	sched.Interval = cfg.TickInterval()
	go sched.Run(ctx)

	go func() {
		ticker := time.NewTicker(cfg.SaveEvery())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := db.SaveWorld(core); err != nil {
					slog.Error("periodic save failed", "error", err)
				}
			}
		}
	}()

	// ── HTTP API ──────────────────────────────────────────────────────
	if cfg.AdminKey == "" {
		slog.Warn("SACAS_ADMIN_KEY not set, admin endpoints disabled")
	}
	apiServer := &api.Server{
		Core:     core,
		DB:       db,
		Port:     cfg.Port,
		AdminKey: cfg.AdminKey,
	}
	apiServer.Start()

	fmt.Printf("sacas-daemon up: %d agents, API at http://localhost:%d/api/v1/status\n",
		reg.Len(), cfg.Port)

	// ── Shutdown ──────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("received signal, shutting down", "signal", sig)
	cancel()
	stopJournal()

	if err := db.SaveWorld(core); err != nil {
		slog.Error("final save failed", "error", err)
	}
	slog.Info("world saved, goodbye")
}
