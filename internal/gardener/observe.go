// Package gardener implements the world steward. It observes world state
// via the API, triages it with fixed rules, and acts through the admin
// endpoints.
package gardener

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// WorldSnapshot holds all data collected during an observation cycle.
type WorldSnapshot struct {
	Status    WorldStatus      `json:"status"`
	Polities  []PolityInfo     `json:"polities"`
	Chronicle []ChronicleEntry `json:"chronicle"`
}

// WorldStatus mirrors GET /api/v1/status.
type WorldStatus struct {
	Name          string  `json:"name"`
	Seed          int64   `json:"seed"`
	Date          int64   `json:"date"`
	SimTime       string  `json:"sim_time"`
	Speed         float64 `json:"speed"`
	Units         int     `json:"units"`
	Population    float64 `json:"population"`
	Polities      int     `json:"polities"`
	Clusters      int     `json:"clusters"`
	PendingEvents int     `json:"pending_events"`
}

// PolityInfo mirrors items from GET /api/v1/polities.
type PolityInfo struct {
	ID       uint64 `json:"id"`
	Name     string `json:"name"`
	Entries  int    `json:"entries"`
	Clusters int    `json:"clusters"`
	Factions int    `json:"factions"`
	Census   struct {
		Population float64 `json:"population"`
		Area       float64 `json:"area"`
		Prominence float64 `json:"prominence"`
	} `json:"census"`
}

// ChronicleEntry mirrors items from GET /api/v1/chronicle.
type ChronicleEntry struct {
	Date        int64  `json:"date"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// Observer fetches world state from the API.
type Observer struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewObserver creates an Observer targeting the given API base URL.
func NewObserver(baseURL string) *Observer {
	return &Observer{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Observe fetches status, polities and recent chronicle entries.
func (o *Observer) Observe() (*WorldSnapshot, error) {
	snap := &WorldSnapshot{}

	if err := o.fetchJSON("/api/v1/status", &snap.Status); err != nil {
		return nil, fmt.Errorf("fetch status: %w", err)
	}
	if err := o.fetchJSON("/api/v1/polities", &snap.Polities); err != nil {
		return nil, fmt.Errorf("fetch polities: %w", err)
	}
	if err := o.fetchJSON("/api/v1/chronicle?category=polity&limit=200", &snap.Chronicle); err != nil {
		return nil, fmt.Errorf("fetch chronicle: %w", err)
	}

	return snap, nil
}

// fetchJSON GETs a path and decodes the JSON response into target.
func (o *Observer) fetchJSON(path string, target any) error {
	resp, err := o.HTTPClient.Get(o.BaseURL + path)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("GET %s returned %d: %s", path, resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
