// Package snapshot writes whole-world snapshots as zstd-compressed files:
// one JSON header line followed by a gob-encoded engine.State.
package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/zstd"

	"github.com/talgya/worldhistory/internal/engine"
)

// Version is the current snapshot format version.
const Version = 1

// Header is the human-readable first line of a snapshot.
type Header struct {
	Version  int   `json:"version"`
	Seed     int64 `json:"seed"`
	Date     int64 `json:"date"`
	Polities int   `json:"polities"`
	Events   int   `json:"events"`
}

type snapshotV1 struct {
	Header Header
	State  engine.State
}

// Path returns the conventional file name for a snapshot taken on date.
func Path(dir string, date int64) string {
	return filepath.Join(dir, fmt.Sprintf("world-%010d.snap.zst", date))
}

// Write stores st at path, creating parent directories as needed.
func Write(path string, st engine.State) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	snap := snapshotV1{
		Header: Header{
			Version:  Version,
			Seed:     st.Seed,
			Date:     st.Date,
			Polities: len(st.Field.Polities),
			Events:   len(st.Events),
		},
		State: st,
	}
	hb, err := json.Marshal(snap.Header)
	if err != nil {
		enc.Close()
		return err
	}
	if _, err := bw.Write(append(hb, '\n')); err != nil {
		enc.Close()
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		enc.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return f.Close()
}

// Read loads a snapshot.
func Read(path string) (engine.State, Header, error) {
	var snap snapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap.State, snap.Header, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap.State, snap.Header, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)
	line, err := br.ReadBytes('\n')
	if err != nil {
		return snap.State, snap.Header, fmt.Errorf("read header: %w", err)
	}
	var h Header
	if err := json.Unmarshal(line, &h); err != nil {
		return snap.State, snap.Header, fmt.Errorf("parse header: %w", err)
	}
	if h.Version != Version {
		return snap.State, h, fmt.Errorf("snapshot version %d, want %d", h.Version, Version)
	}

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap.State, h, fmt.Errorf("gob decode: %w", err)
	}
	return snap.State, snap.Header, nil
}

// ReadHeader decodes only the header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()

	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("parse header: %w", err)
	}
	return h, nil
}

// Latest returns the path of the newest snapshot in dir, or "" if none.
func Latest(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "world-*.snap.zst"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", nil
	}
	// Zero-padded dates sort lexically.
	sort.Strings(matches)
	return matches[len(matches)-1], nil
}
