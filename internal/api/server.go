// Package api provides the HTTP API for querying world state.
// GET endpoints are public (read-only observation).
// POST endpoints require a bearer token (admin control plane).
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/talgya/worldhistory/internal/engine"
	"github.com/talgya/worldhistory/internal/persistence"
	"github.com/talgya/worldhistory/internal/persistence/snapshot"
	"github.com/talgya/worldhistory/internal/polity"
	"github.com/talgya/worldhistory/internal/world"
)

// Server serves the world state over HTTP.
type Server struct {
	Sim         *engine.Simulation
	Eng         *engine.Engine
	DB          *persistence.DB // optional
	SnapshotDir string          // empty disables snapshot files
	Port        int
	AdminKey    string // Bearer token for POST endpoints. Empty = POST disabled.
	RelayKey    string // Bearer token for the chronicle stream. Empty = streaming disabled.

	streams streamCounter
	srv     *http.Server
}

// Handler builds the request router.
func (s *Server) Handler() http.Handler {
	snapshotLimiter := NewRateLimiter(6, time.Hour)
	streamLimiter := NewRateLimiter(30, time.Minute)

	mux := http.NewServeMux()

	// Public endpoints (GET, read-only).
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/stats", s.handleStats)
	mux.HandleFunc("GET /api/v1/polities", s.handlePolities)
	mux.HandleFunc("GET /api/v1/polity/{id}", s.handlePolityDetail)
	mux.HandleFunc("GET /api/v1/unit/{id}", s.handleUnitDetail)
	mux.HandleFunc("GET /api/v1/events", s.handleEvents)
	mux.HandleFunc("GET /api/v1/chronicle", s.handleChronicle)
	mux.HandleFunc("GET /api/v1/speed", s.handleSpeed)

	// Chronicle stream (websocket, requires relay token).
	mux.HandleFunc("GET /api/v1/stream", RateLimitMiddleware(streamLimiter, s.handleStream))

	// Admin endpoints (POST, require bearer token).
	mux.HandleFunc("POST /api/v1/speed", s.adminOnly(s.handleSpeed))
	mux.HandleFunc("POST /api/v1/snapshot", s.adminOnly(RateLimitMiddleware(snapshotLimiter, s.handleSnapshot)))
	mux.HandleFunc("POST /api/v1/intervention", s.adminOnly(s.handleIntervention))

	return corsMiddleware(mux)
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() {
	addr := fmt.Sprintf(":%d", s.Port)
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "", "relay_auth", s.RelayKey != "")

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
}

// Shutdown stops the server started by Start.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Set CORS_ORIGINS env var to a comma-separated list of allowed origins.
// Localhost dev servers are always allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:4173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// bearerMatches returns true if the request carries key as a bearer token.
func bearerMatches(r *http.Request, key string) bool {
	auth := r.Header.Get("Authorization")
	return key != "" && strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == key
}

// adminOnly wraps a handler to require bearer token auth on POST requests.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if s.AdminKey == "" {
				http.Error(w, "admin endpoints disabled (no admin key set)", http.StatusForbidden)
				return
			}
			if !bearerMatches(r, s.AdminKey) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) speed() float64 {
	if s.Eng == nil {
		return 0
	}
	return s.Eng.Speed()
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var status map[string]any
	s.Sim.View(func(sim *engine.Simulation) {
		status = map[string]any{
			"name":           "worldhistory",
			"seed":           sim.Seed,
			"date":           sim.Stats.Date,
			"sim_time":       engine.SimTime(sim.Stats.Date),
			"speed":          s.speed(),
			"units":          sim.Stats.Units,
			"population":     sim.Stats.Population,
			"polities":       sim.Stats.Polities,
			"clusters":       sim.Stats.Clusters,
			"pending_events": sim.Stats.PendingEvents,
		}
		terrain := make(map[string]int)
		for t, n := range world.TerrainCounts(sim.Map) {
			terrain[world.TerrainName(t)] = n
		}
		status["terrain"] = terrain
	})
	writeJSON(w, status)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var stats engine.SimStats
	s.Sim.View(func(sim *engine.Simulation) {
		stats = sim.Stats
	})
	writeJSON(w, stats)
}

type politySummary struct {
	ID       polity.ID     `json:"id"`
	Name     string        `json:"name"`
	Core     world.UnitID  `json:"core"`
	Founded  int64         `json:"founded"`
	Entries  int           `json:"entries"`
	Clusters int           `json:"clusters"`
	Factions int           `json:"factions"`
	Census   polity.Census `json:"census"`
}

func summarize(p *polity.Polity) politySummary {
	return politySummary{
		ID:       p.ID,
		Name:     p.Name,
		Core:     p.Core,
		Founded:  p.Founded,
		Entries:  p.Entries(),
		Clusters: p.ClusterCount(),
		Factions: len(p.Factions),
		Census:   p.Census(),
	}
}

func (s *Server) handlePolities(w http.ResponseWriter, r *http.Request) {
	result := []politySummary{}
	s.Sim.View(func(sim *engine.Simulation) {
		for _, p := range sim.Field.Polities() {
			result = append(result, summarize(p))
		}
	})
	writeJSON(w, result)
}

func (s *Server) handlePolityDetail(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid polity id", http.StatusBadRequest)
		return
	}

	type clusterInfo struct {
		ID      polity.ClusterID `json:"id"`
		Size    int              `json:"size"`
		Census  polity.Census    `json:"census"`
		Members []world.UnitID   `json:"members"`
	}
	type polityDetail struct {
		politySummary
		FactionList []*polity.Faction `json:"faction_list"`
		ClusterList []clusterInfo     `json:"cluster_list"`
	}

	var detail *polityDetail
	s.Sim.View(func(sim *engine.Simulation) {
		p := sim.Field.Polity(polity.ID(id))
		if p == nil {
			return
		}
		detail = &polityDetail{
			politySummary: summarize(p),
			FactionList:   p.Factions,
			ClusterList:   []clusterInfo{},
		}
		for _, c := range sim.Field.Clusters(p.ID) {
			detail.ClusterList = append(detail.ClusterList, clusterInfo{
				ID:      c.ID,
				Size:    c.Len(),
				Census:  c.Census(),
				Members: c.Members(),
			})
		}
	})
	if detail == nil {
		http.Error(w, "polity not found", http.StatusNotFound)
		return
	}
	writeJSON(w, detail)
}

// finite maps an unreachable distance to -1; JSON has no infinity.
func finite(d float64) float64 {
	if math.IsInf(d, 0) {
		return -1
	}
	return d
}

func (s *Server) handleUnitDetail(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 32)
	if err != nil {
		http.Error(w, "invalid unit id", http.StatusBadRequest)
		return
	}

	type prominence struct {
		Polity          polity.ID        `json:"polity"`
		Name            string           `json:"name"`
		Value           float64          `json:"value"`
		CoreDistance    float64          `json:"core_distance"`    // -1 when cut off
		FactionDistance float64          `json:"faction_distance"` // -1 when cut off
		AdminCost       float64          `json:"admin_cost"`
		Cluster         polity.ClusterID `json:"cluster"`
	}
	type unitDetail struct {
		ID         world.UnitID   `json:"id"`
		Q          int            `json:"q"`
		R          int            `json:"r"`
		Terrain    world.Terrain  `json:"terrain"`
		Population float64        `json:"population"`
		Capacity   float64        `json:"capacity"`
		Neighbors  []world.UnitID `json:"neighbors"`
		Total      float64        `json:"total_prominence"`
		Prominence []prominence   `json:"prominence"`
	}

	var detail *unitDetail
	s.Sim.View(func(sim *engine.Simulation) {
		u := sim.Map.Get(world.UnitID(id))
		if u == nil {
			return
		}
		detail = &unitDetail{
			ID:         u.ID,
			Q:          u.Coord.Q,
			R:          u.Coord.R,
			Terrain:    u.Terrain,
			Population: u.Population,
			Capacity:   u.Capacity,
			Total:      sim.Field.UnitSum(u.ID),
			Prominence: []prominence{},
		}
		for _, e := range u.Edges {
			detail.Neighbors = append(detail.Neighbors, e.To)
		}
		for _, e := range sim.Field.Entries(u.ID) {
			name := ""
			if p := sim.Field.Polity(e.Polity); p != nil {
				name = p.Name
			}
			detail.Prominence = append(detail.Prominence, prominence{
				Polity:          e.Polity,
				Name:            name,
				Value:           e.Value,
				CoreDistance:    finite(e.CoreDistance),
				FactionDistance: finite(e.FactionDistance),
				AdminCost:       e.AdminCost,
				Cluster:         e.Cluster,
			})
		}
		sort.Slice(detail.Prominence, func(i, j int) bool {
			return detail.Prominence[i].Value > detail.Prominence[j].Value
		})
	})
	if detail == nil {
		http.Error(w, "unit not found", http.StatusNotFound)
		return
	}
	writeJSON(w, detail)
}

func queryLimit(r *http.Request, def, max int) int {
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= max {
			return n
		}
	}
	return def
}

// handleEvents lists pending scheduled events in firing order.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 50, 1000)

	type pending struct {
		ID     uint64 `json:"id"`
		Date   int64  `json:"date"`
		Kind   string `json:"kind"`
		Owner  string `json:"owner"`
		Target uint64 `json:"target,omitempty"`
	}

	result := []pending{}
	s.Sim.View(func(sim *engine.Simulation) {
		for _, ev := range sim.Sched.Pending() {
			if len(result) == limit {
				break
			}
			result = append(result, pending{
				ID:     uint64(ev.ID),
				Date:   int64(ev.Date),
				Kind:   sim.Sched.KindName(ev.Kind),
				Owner:  ev.Owner.String(),
				Target: ev.Target,
			})
		}
	})
	writeJSON(w, result)
}

// handleChronicle returns notable events, newest first. Events not yet
// flushed to storage come before stored ones.
func (s *Server) handleChronicle(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 50, 500)
	category := r.URL.Query().Get("category")

	result := []engine.Event{}
	keep := func(e engine.Event) bool {
		return category == "" || e.Category == category
	}
	s.Sim.View(func(sim *engine.Simulation) {
		for i := len(sim.Chronicle) - 1; i >= 0 && len(result) < limit; i-- {
			if keep(sim.Chronicle[i]) {
				result = append(result, sim.Chronicle[i])
			}
		}
	})

	if s.DB != nil && len(result) < limit {
		stored, err := s.DB.RecentChronicle(limit)
		if err != nil {
			slog.Error("chronicle query failed", "error", err)
		}
		for _, e := range stored {
			if len(result) == limit {
				break
			}
			if keep(e) {
				result = append(result, e)
			}
		}
	}
	writeJSON(w, result)
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		var req struct {
			Speed float64 `json:"speed"`
		}
		if err := decodeRequest(r, speedSchema, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if s.Eng == nil {
			http.Error(w, "engine not running", http.StatusServiceUnavailable)
			return
		}
		s.Eng.SetSpeed(req.Speed)
		slog.Info("speed changed", "speed", req.Speed)
	}

	writeJSON(w, map[string]float64{"speed": s.speed()})
}

// handleSnapshot saves the world to the database and writes a snapshot file.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil && s.SnapshotDir == "" {
		http.Error(w, "persistence not available", http.StatusServiceUnavailable)
		return
	}

	st := s.Sim.State()
	result := map[string]any{"date": st.Date}

	if s.DB != nil {
		if err := s.DB.SaveCaptured(s.Sim, st); err != nil {
			slog.Error("snapshot save failed", "error", err)
			http.Error(w, "snapshot failed", http.StatusInternalServerError)
			return
		}
		result["database"] = true
	}
	if s.SnapshotDir != "" {
		path := snapshot.Path(s.SnapshotDir, st.Date)
		if err := snapshot.Write(path, st); err != nil {
			slog.Error("snapshot write failed", "error", err, "path", path)
			http.Error(w, "snapshot failed", http.StatusInternalServerError)
			return
		}
		result["file"] = path
	}

	slog.Info("snapshot saved", "date", st.Date)
	writeJSON(w, result)
}

// handleIntervention applies an admin action to the world.
func (s *Server) handleIntervention(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type string       `json:"type"`
		Unit world.UnitID `json:"unit"`
	}
	if err := decodeRequest(r, interventionSchema, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	switch req.Type {
	case "remove_unit":
		exists := false
		s.Sim.View(func(sim *engine.Simulation) {
			exists = sim.Map.Get(req.Unit) != nil
		})
		if !exists {
			http.Error(w, "unit not found", http.StatusNotFound)
			return
		}
		s.Sim.RemoveUnit(req.Unit)
		slog.Info("intervention", "type", req.Type, "unit", req.Unit)
	}

	writeJSON(w, map[string]any{"type": req.Type, "unit": req.Unit, "date": s.Sim.Date()})
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		slog.Error("encode response", "error", err)
	}
}
