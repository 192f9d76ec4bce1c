package telemetry

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"

	"github.com/talgya/worldhistory/internal/config"
)

// OutputManager appends census rows to census.csv and world rows to world.csv.
type OutputManager struct {
	dir        string
	censusFile *os.File
	worldFile  *os.File

	// Track if headers have been written
	censusHeaderWritten bool
	worldHeaderWritten  bool
}

// NewOutputManager creates a new output manager and initializes the output directory.
// Returns nil if dir is empty (output disabled).
func NewOutputManager(dir string) (*OutputManager, error) {
	if dir == "" {
		return nil, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	om := &OutputManager{dir: dir}

	f, err := os.Create(filepath.Join(dir, "census.csv"))
	if err != nil {
		return nil, fmt.Errorf("creating census.csv: %w", err)
	}
	om.censusFile = f

	f, err = os.Create(filepath.Join(dir, "world.csv"))
	if err != nil {
		om.censusFile.Close()
		return nil, fmt.Errorf("creating world.csv: %w", err)
	}
	om.worldFile = f

	return om, nil
}

// WriteConfig saves the current configuration as YAML.
func (om *OutputManager) WriteConfig(cfg *config.Config) error {
	if om == nil {
		return nil
	}
	return cfg.WriteYAML(filepath.Join(om.dir, "config.yaml"))
}

// WriteCensus appends polity census rows to census.csv.
func (om *OutputManager) WriteCensus(rows []CensusRow) error {
	if om == nil || len(rows) == 0 {
		return nil
	}

	if !om.censusHeaderWritten {
		// First write includes headers
		if err := gocsv.Marshal(rows, om.censusFile); err != nil {
			return fmt.Errorf("writing census: %w", err)
		}
		om.censusHeaderWritten = true
		return nil
	}
	if err := gocsv.MarshalWithoutHeaders(rows, om.censusFile); err != nil {
		return fmt.Errorf("writing census: %w", err)
	}
	return nil
}

// WriteWorld appends a world summary row to world.csv.
func (om *OutputManager) WriteWorld(row WorldRow) error {
	if om == nil {
		return nil
	}

	records := []WorldRow{row}
	if !om.worldHeaderWritten {
		if err := gocsv.Marshal(records, om.worldFile); err != nil {
			return fmt.Errorf("writing world: %w", err)
		}
		om.worldHeaderWritten = true
		return nil
	}
	if err := gocsv.MarshalWithoutHeaders(records, om.worldFile); err != nil {
		return fmt.Errorf("writing world: %w", err)
	}
	return nil
}

// Dir returns the output directory path.
func (om *OutputManager) Dir() string {
	if om == nil {
		return ""
	}
	return om.dir
}

// Close flushes and closes all output files.
func (om *OutputManager) Close() error {
	if om == nil {
		return nil
	}

	var firstErr error
	for _, f := range []*os.File{om.censusFile, om.worldFile} {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
