// Command worldsim runs the world-history simulation.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/talgya/worldhistory/internal/api"
	"github.com/talgya/worldhistory/internal/config"
	"github.com/talgya/worldhistory/internal/engine"
	"github.com/talgya/worldhistory/internal/entropy"
	"github.com/talgya/worldhistory/internal/persistence"
	"github.com/talgya/worldhistory/internal/persistence/snapshot"
	"github.com/talgya/worldhistory/internal/telemetry"
	"github.com/talgya/worldhistory/internal/world"
)

func main() {
	configPath := flag.String("config", "", "Path to config.yaml (empty = use defaults)")
	seed := flag.Int64("seed", 0, "World seed (0 = use config, then a fresh random seed)")
	fromSnapshot := flag.String("snapshot", "", "Restore from a snapshot file (\"latest\" = newest in snapshot dir)")
	outputDir := flag.String("output-dir", "", "Output directory for census CSV and config (overrides config)")
	maxDays := flag.Int64("max-days", 0, "Stop after N simulated days (0 = unlimited)")
	headless := flag.Bool("headless", false, "Run without the HTTP API")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *seed != 0 {
		cfg.SetSeed(*seed)
	}
	if *outputDir != "" {
		cfg.Telemetry.OutputDir = *outputDir
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Derived.LogLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("worldhistory: prominence and polity simulation")

	// ── Database ──────────────────────────────────────────────────────
	if err := os.MkdirAll(filepath.Dir(cfg.Persistence.DBPath), 0755); err != nil {
		slog.Error("failed to create data directory", "error", err)
		os.Exit(1)
	}
	db, err := persistence.Open(cfg.Persistence.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("database opened", "path", cfg.Persistence.DBPath)

	// ── Load or Generate World State ─────────────────────────────────
	sim, err := loadOrGenerate(cfg, db, *fromSnapshot)
	if err != nil {
		slog.Error("failed to start world", "error", err)
		os.Exit(1)
	}
	slog.Info("world ready",
		"seed", sim.Seed,
		"units", sim.Stats.Units,
		"polities", sim.Stats.Polities,
		"sim_time", engine.SimTime(sim.Date()),
	)
	logTerrain(sim.Map)

	// ── Telemetry ─────────────────────────────────────────────────────
	out, err := telemetry.NewOutputManager(cfg.Telemetry.OutputDir)
	if err != nil {
		slog.Error("failed to create output manager", "error", err)
		os.Exit(1)
	}
	defer out.Close()
	if err := out.WriteConfig(cfg); err != nil {
		slog.Error("failed to write config", "error", err)
	}
	if out != nil {
		slog.Info("census output enabled", "dir", out.Dir())
	}

	// ── Engine ────────────────────────────────────────────────────────
	eng := engine.NewEngine(sim, cfg.Engine.Interval, cfg.Engine.DaysPerStep)
	eng.SetSpeed(cfg.Engine.Speed)

	startDate := sim.Date()
	lastSave, lastCensus := startDate, startDate
	eng.OnStep = func(date int64, fired int) {
		if cfg.Telemetry.CensusEvery > 0 && date-lastCensus >= cfg.Telemetry.CensusEvery {
			lastCensus = date
			rows, summary := telemetry.Collect(sim)
			if err := out.WriteCensus(rows); err != nil {
				slog.Error("census write failed", "error", err)
			}
			if err := out.WriteWorld(summary); err != nil {
				slog.Error("world write failed", "error", err)
			}
		}
		if cfg.Engine.SaveEvery > 0 && date-lastSave >= cfg.Engine.SaveEvery {
			lastSave = date
			if err := db.SaveWorldState(sim); err != nil {
				slog.Error("periodic save failed", "error", err)
			}
		}
		if *maxDays > 0 && date-startDate >= *maxDays {
			slog.Info("reached max days", "days", *maxDays)
			eng.Stop()
		}
	}
	eng.OnYear = func(date int64) {
		if cfg.Persistence.SnapshotDir == "" {
			return
		}
		path := snapshot.Path(cfg.Persistence.SnapshotDir, date)
		if err := snapshot.Write(path, sim.State()); err != nil {
			slog.Error("yearly snapshot failed", "error", err)
			return
		}
		slog.Info("snapshot written", "path", path, "sim_time", engine.SimTime(date))
	}

	// ── HTTP API ──────────────────────────────────────────────────────
	var apiServer *api.Server
	if !*headless {
		if cfg.API.AdminKey == "" {
			slog.Warn("admin_key not set, admin POST endpoints will be disabled")
		}
		apiServer = &api.Server{
			Sim:         sim,
			Eng:         eng,
			DB:          db,
			SnapshotDir: cfg.Persistence.SnapshotDir,
			Port:        cfg.API.Port,
			AdminKey:    cfg.API.AdminKey,
			RelayKey:    cfg.API.RelayKey,
		}
		apiServer.Start()
		fmt.Printf("API: http://localhost:%d/api/v1/status\n", cfg.API.Port)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Printf("\nThe world is alive: %d polities across %d units.\n", sim.Stats.Polities, sim.Stats.Units)
	if startDate > 0 {
		fmt.Printf("Resuming from %s\n", engine.SimTime(startDate))
	}
	fmt.Println("Starting simulation... (Ctrl+C to stop)")

	runErr := eng.Run(ctx)
	if runErr != nil {
		slog.Error("simulation halted", "error", runErr)
	}

	if apiServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("API shutdown failed", "error", err)
		}
		cancel()
	}

	slog.Info("final save...")
	if err := db.SaveWorldState(sim); err != nil {
		slog.Error("final save failed", "error", err)
	}

	fmt.Println("Simulation stopped. World state saved.")
	if runErr != nil {
		os.Exit(1)
	}
}

// loadOrGenerate restores the world from a snapshot file or the database,
// or generates and saves a new one.
func loadOrGenerate(cfg *config.Config, db *persistence.DB, fromSnapshot string) (*engine.Simulation, error) {
	if fromSnapshot != "" {
		path := fromSnapshot
		if path == "latest" {
			latest, err := snapshot.Latest(cfg.Persistence.SnapshotDir)
			if err != nil {
				return nil, err
			}
			if latest == "" {
				return nil, errors.New("no snapshot found in " + cfg.Persistence.SnapshotDir)
			}
			path = latest
		}
		st, h, err := snapshot.Read(path)
		if err != nil {
			return nil, fmt.Errorf("read snapshot %s: %w", path, err)
		}
		slog.Info("restoring from snapshot", "path", path, "date", h.Date, "polities", h.Polities)
		return engine.Restore(cfg, st)
	}

	if db.HasWorldState() {
		slog.Info("found saved world state, loading...")
		st, err := db.LoadWorldState()
		if err != nil {
			return nil, fmt.Errorf("load world state: %w", err)
		}
		return engine.Restore(cfg, st)
	}

	slog.Info("no saved state found, generating new world...")
	if cfg.World.Seed == 0 {
		cfg.SetSeed(entropy.CryptoSeed())
	}
	sim, err := engine.Generate(cfg)
	if err != nil {
		return nil, err
	}
	if err := db.SaveWorldState(sim); err != nil {
		slog.Error("initial save failed", "error", err)
	}
	return sim, nil
}

// logTerrain logs how many units of each terrain type the map holds.
func logTerrain(m *world.Map) {
	counts := world.TerrainCounts(m)
	for t := world.TerrainPlains; t <= world.TerrainOcean; t++ {
		if counts[t] > 0 {
			slog.Info("terrain", "type", world.TerrainName(t), "units", counts[t])
		}
	}
}
