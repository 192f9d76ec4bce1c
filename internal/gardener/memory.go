package gardener

import (
	"encoding/json"
	"log/slog"
	"os"
)

const maxRecords = 50

// CycleRecord captures what happened in a single gardener cycle.
type CycleRecord struct {
	Date         int64   `json:"date"`
	Action       string  `json:"action"`
	Polities     int     `json:"polities"`
	Collapses    int     `json:"collapses"`
	LargestShare float64 `json:"largest_share"`
	CrisisLevel  string  `json:"crisis_level"`
	Rationale    string  `json:"rationale,omitempty"`
}

// CycleMemory manages a ring of recent gardener cycle records.
type CycleMemory struct {
	path    string
	Records []CycleRecord `json:"records"`
}

// LoadMemory reads the memory file from disk. Returns empty memory if not found.
func LoadMemory(path string) *CycleMemory {
	data, err := os.ReadFile(path)
	if err != nil {
		return &CycleMemory{path: path}
	}
	mem := CycleMemory{path: path}
	if err := json.Unmarshal(data, &mem); err != nil {
		slog.Warn("gardener memory corrupted, starting fresh", "error", err)
		return &CycleMemory{path: path}
	}
	return &mem
}

// Save writes the memory to disk.
func (m *CycleMemory) Save() {
	if m.path == "" {
		return
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		slog.Error("failed to marshal gardener memory", "error", err)
		return
	}
	if err := os.WriteFile(m.path, data, 0644); err != nil {
		slog.Error("failed to write gardener memory", "error", err)
	}
}

// Record adds a cycle record, trimming to maxRecords.
func (m *CycleMemory) Record(r CycleRecord) {
	m.Records = append(m.Records, r)
	if len(m.Records) > maxRecords {
		m.Records = m.Records[len(m.Records)-maxRecords:]
	}
}

// LastAction returns the most recent record with the given action.
func (m *CycleMemory) LastAction(action string) (CycleRecord, bool) {
	if m == nil {
		return CycleRecord{}, false
	}
	for i := len(m.Records) - 1; i >= 0; i-- {
		if m.Records[i].Action == action {
			return m.Records[i], true
		}
	}
	return CycleRecord{}, false
}
