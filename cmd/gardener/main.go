// Command gardener runs the world steward. It observes world state,
// triages it, and acts via the admin API.
package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/talgya/worldhistory/internal/gardener"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Configuration from environment.
	apiURL := envOrDefault("WORLDSIM_API_URL", "http://localhost:8080")
	adminKey := os.Getenv("WORLDSIM_ADMIN_KEY")
	memoryPath := envOrDefault("GARDENER_MEMORY", "gardener_memory.json")
	intervalMin := envIntOrDefault("GARDENER_INTERVAL", 60)

	if adminKey == "" {
		slog.Error("WORLDSIM_ADMIN_KEY is required")
		os.Exit(1)
	}

	interval := time.Duration(intervalMin) * time.Minute

	slog.Info("gardener starting",
		"api_url", apiURL,
		"interval", interval,
	)

	observer := gardener.NewObserver(apiURL)
	actor := gardener.NewActor(apiURL, adminKey)
	mem := gardener.LoadMemory(memoryPath)

	slog.Info("waiting for worldsim API...")
	waitForAPI(apiURL)

	// Run first cycle immediately.
	runCycle(observer, actor, mem)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			runCycle(observer, actor, mem)
		case sig := <-sigCh:
			slog.Info("received signal, shutting down", "signal", sig)
			fmt.Println("Gardener stopped.")
			return
		}
	}
}

// runCycle executes one observe, decide, act cycle.
func runCycle(observer *gardener.Observer, actor *gardener.Actor, mem *gardener.CycleMemory) {
	snap, err := observer.Observe()
	if err != nil {
		slog.Error("observation failed", "error", err)
		return
	}
	health := gardener.Triage(snap)
	slog.Info("observation complete",
		"sim_time", snap.Status.SimTime,
		"polities", health.Polities,
		"collapses", health.Collapses,
		"largest_share", fmt.Sprintf("%.2f", health.LargestShare),
		"crisis", health.CrisisLevel,
	)

	decision := gardener.Decide(health, mem)
	slog.Info("decision made", "action", decision.Action, "rationale", decision.Rationale)

	if _, err := actor.Act(decision); err != nil {
		slog.Error("action failed", "action", decision.Action, "error", err)
		return
	}

	mem.Record(gardener.CycleRecord{
		Date:         health.Date,
		Action:       decision.Action,
		Polities:     health.Polities,
		Collapses:    health.Collapses,
		LargestShare: health.LargestShare,
		CrisisLevel:  health.CrisisLevel,
		Rationale:    decision.Rationale,
	})
	mem.Save()
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOrDefault(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

// waitForAPI polls the worldsim status endpoint with exponential backoff
// until it responds. Exits after 5 minutes if the API never becomes ready.
func waitForAPI(apiURL string) {
	backoff := 2 * time.Second
	maxBackoff := 30 * time.Second
	deadline := time.Now().Add(5 * time.Minute)

	for {
		resp, err := http.Get(apiURL + "/api/v1/status")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				slog.Info("worldsim API is ready")
				return
			}
		}
		if time.Now().After(deadline) {
			slog.Error("worldsim API did not become ready within 5 minutes")
			os.Exit(1)
		}
		slog.Info("worldsim not ready, retrying...", "backoff", backoff)
		time.Sleep(backoff)
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
