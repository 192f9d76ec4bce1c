// Package persistence provides SQLite-based world state storage.
package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/worldhistory/internal/engine"
	"github.com/talgya/worldhistory/internal/polity"
	"github.com/talgya/worldhistory/internal/schedule"
	"github.com/talgya/worldhistory/internal/world"
)

// DB wraps a SQLite connection for world state persistence.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS units (
		id INTEGER PRIMARY KEY,
		population REAL NOT NULL,
		last_update INTEGER NOT NULL,
		removed INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS polities (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		core_unit INTEGER NOT NULL,
		founded INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS factions (
		id INTEGER PRIMARY KEY,
		polity_id INTEGER NOT NULL,
		position INTEGER NOT NULL,
		name TEXT NOT NULL,
		core_unit INTEGER NOT NULL,
		influence REAL NOT NULL,
		founded INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS prominence (
		unit_id INTEGER NOT NULL,
		polity_id INTEGER NOT NULL,
		value REAL NOT NULL,
		core_distance REAL NOT NULL,
		faction_distance REAL NOT NULL,
		PRIMARY KEY (unit_id, polity_id)
	);

	CREATE TABLE IF NOT EXISTS clusters (
		id INTEGER PRIMARY KEY,
		polity_id INTEGER NOT NULL,
		position INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS cluster_members (
		cluster_id INTEGER NOT NULL,
		position INTEGER NOT NULL,
		unit_id INTEGER NOT NULL,
		PRIMARY KEY (cluster_id, position)
	);

	CREATE TABLE IF NOT EXISTS scheduled_events (
		position INTEGER PRIMARY KEY,
		id INTEGER NOT NULL,
		owner_type INTEGER NOT NULL,
		owner_id INTEGER NOT NULL,
		target INTEGER NOT NULL,
		trigger_date INTEGER NOT NULL,
		kind INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chronicle (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		date INTEGER NOT NULL,
		description TEXT NOT NULL,
		category TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS world_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_chronicle_date ON chronicle(date);
	CREATE INDEX IF NOT EXISTS idx_factions_polity ON factions(polity_id);
	CREATE INDEX IF NOT EXISTS idx_clusters_polity ON clusters(polity_id);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// fieldMeta is the scalar part of polity.State.
type fieldMeta struct {
	Date        int64            `json:"date"`
	LastUpdate  int64            `json:"last_update"`
	NextPolity  polity.ID        `json:"next_polity"`
	NextFaction polity.FactionID `json:"next_faction"`
	NextCluster polity.ClusterID `json:"next_cluster"`
	Highs       polity.Highs     `json:"highs"`
}

// SaveWorldState captures the simulation and writes it as a full replace.
func (db *DB) SaveWorldState(sim *engine.Simulation) error {
	return db.SaveCaptured(sim, sim.State())
}

// SaveCaptured writes st, already captured from sim, then moves sim's
// pending chronicle into storage. The chronicle is drained only once the
// state is stored, and handed back to sim if its own insert fails.
func (db *DB) SaveCaptured(sim *engine.Simulation, st engine.State) error {
	if err := db.SaveState(st); err != nil {
		return err
	}
	events := sim.DrainChronicle()
	if err := db.SaveChronicle(events); err != nil {
		sim.RequeueChronicle(events)
		return fmt.Errorf("save chronicle: %w", err)
	}
	return nil
}

// SaveState writes st in one transaction, replacing any previous world.
func (db *DB) SaveState(st engine.State) error {
	slog.Info("saving world state",
		"date", st.Date,
		"polities", len(st.Field.Polities),
		"entries", len(st.Field.Entries),
		"events", len(st.Events),
	)

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"units", "polities", "factions", "prominence", "clusters", "cluster_members", "scheduled_events"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	if err := saveUnits(tx, st.Units); err != nil {
		return fmt.Errorf("save units: %w", err)
	}
	if err := saveField(tx, st.Field); err != nil {
		return fmt.Errorf("save field: %w", err)
	}
	if err := saveEvents(tx, st.Events); err != nil {
		return fmt.Errorf("save events: %w", err)
	}

	gen, err := json.Marshal(st.Gen)
	if err != nil {
		return err
	}
	field, err := json.Marshal(fieldMeta{
		Date:        st.Field.Date,
		LastUpdate:  st.Field.LastUpdate,
		NextPolity:  st.Field.NextPolity,
		NextFaction: st.Field.NextFaction,
		NextCluster: st.Field.NextCluster,
		Highs:       st.Field.Highs,
	})
	if err != nil {
		return err
	}
	meta := map[string]string{
		"seed":          strconv.FormatInt(st.Seed, 10),
		"date":          strconv.FormatInt(st.Date, 10),
		"next_event_id": strconv.FormatUint(uint64(st.NextEventID), 10),
		"gen_config":    string(gen),
		"field":         string(field),
	}
	for k, v := range meta {
		if _, err := tx.Exec("INSERT OR REPLACE INTO world_meta (key, value) VALUES (?, ?)", k, v); err != nil {
			return fmt.Errorf("save meta %s: %w", k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	slog.Info("world state saved")
	return nil
}

func saveUnits(tx *sqlx.Tx, units []engine.UnitRecord) error {
	stmt, err := tx.Preparex("INSERT INTO units (id, population, last_update, removed) VALUES (?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, u := range units {
		if _, err := stmt.Exec(u.ID, u.Population, u.LastUpdate, u.Removed); err != nil {
			return fmt.Errorf("insert unit %d: %w", u.ID, err)
		}
	}
	return nil
}

func saveField(tx *sqlx.Tx, st polity.State) error {
	for _, p := range st.Polities {
		if _, err := tx.Exec("INSERT INTO polities (id, name, core_unit, founded) VALUES (?, ?, ?, ?)",
			p.ID, p.Name, p.Core, p.Founded); err != nil {
			return fmt.Errorf("insert polity %d: %w", p.ID, err)
		}
	}
	for i, f := range st.Factions {
		if _, err := tx.Exec(`INSERT INTO factions
			(id, polity_id, position, name, core_unit, influence, founded)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			f.ID, f.Polity, i, f.Name, f.Core, f.Influence, f.Founded); err != nil {
			return fmt.Errorf("insert faction %d: %w", f.ID, err)
		}
	}

	stmt, err := tx.Preparex(`INSERT INTO prominence
		(unit_id, polity_id, value, core_distance, faction_distance)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, e := range st.Entries {
		if _, err := stmt.Exec(e.Unit, e.Polity, e.Value, e.CoreDistance, e.FactionDistance); err != nil {
			return fmt.Errorf("insert entry %d/%d: %w", e.Unit, e.Polity, err)
		}
	}

	members, err := tx.Preparex("INSERT INTO cluster_members (cluster_id, position, unit_id) VALUES (?, ?, ?)")
	if err != nil {
		return err
	}
	defer members.Close()
	for i, c := range st.Clusters {
		if _, err := tx.Exec("INSERT INTO clusters (id, polity_id, position) VALUES (?, ?, ?)", c.ID, c.Polity, i); err != nil {
			return fmt.Errorf("insert cluster %d: %w", c.ID, err)
		}
		for j, u := range c.Members {
			if _, err := members.Exec(c.ID, j, u); err != nil {
				return fmt.Errorf("insert cluster %d member %d: %w", c.ID, u, err)
			}
		}
	}
	return nil
}

func saveEvents(tx *sqlx.Tx, records []schedule.Record) error {
	stmt, err := tx.Preparex(`INSERT INTO scheduled_events
		(position, id, owner_type, owner_id, target, trigger_date, kind)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, r := range records {
		if _, err := stmt.Exec(i, r.ID, r.OwnerType, r.OwnerID, r.Target, r.Date, r.Kind); err != nil {
			return fmt.Errorf("insert event %d: %w", r.ID, err)
		}
	}
	return nil
}

// SaveChronicle appends notable events.
func (db *DB) SaveChronicle(events []engine.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, e := range events {
		_, err := tx.Exec(
			"INSERT INTO chronicle (date, description, category) VALUES (?, ?, ?)",
			e.Date, e.Description, e.Category,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// RecentChronicle returns the most recent N chronicle events, newest first.
func (db *DB) RecentChronicle(limit int) ([]engine.Event, error) {
	var events []engine.Event
	err := db.conn.Select(&events,
		"SELECT date, description, category FROM chronicle ORDER BY id DESC LIMIT ?",
		limit,
	)
	return events, err
}

// SaveMeta stores a key-value pair in world metadata.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO world_meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM world_meta WHERE key = ?", key)
	return value, err
}

// HasWorldState reports whether a saved world exists.
func (db *DB) HasWorldState() bool {
	_, err := db.GetMeta("seed")
	return err == nil
}

// LoadWorldState reads the saved world. Rows are returned in the order
// they were saved, which Restore relies on for cluster and event order.
func (db *DB) LoadWorldState() (engine.State, error) {
	var st engine.State

	seed, err := db.GetMeta("seed")
	if errors.Is(err, sql.ErrNoRows) {
		return st, fmt.Errorf("no saved world")
	}
	if err != nil {
		return st, err
	}
	if st.Seed, err = strconv.ParseInt(seed, 10, 64); err != nil {
		return st, fmt.Errorf("meta seed: %w", err)
	}
	date, err := db.GetMeta("date")
	if err != nil {
		return st, fmt.Errorf("meta date: %w", err)
	}
	if st.Date, err = strconv.ParseInt(date, 10, 64); err != nil {
		return st, fmt.Errorf("meta date: %w", err)
	}
	next, err := db.GetMeta("next_event_id")
	if err != nil {
		return st, fmt.Errorf("meta next_event_id: %w", err)
	}
	n, err := strconv.ParseUint(next, 10, 64)
	if err != nil {
		return st, fmt.Errorf("meta next_event_id: %w", err)
	}
	st.NextEventID = schedule.EventID(n)

	if err := db.getJSONMeta("gen_config", &st.Gen); err != nil {
		return st, err
	}
	var fm fieldMeta
	if err := db.getJSONMeta("field", &fm); err != nil {
		return st, err
	}
	st.Field = polity.State{
		Date:        fm.Date,
		LastUpdate:  fm.LastUpdate,
		NextPolity:  fm.NextPolity,
		NextFaction: fm.NextFaction,
		NextCluster: fm.NextCluster,
		Highs:       fm.Highs,
	}

	if err := db.conn.Select(&st.Units,
		"SELECT id, population, last_update, removed FROM units ORDER BY id"); err != nil {
		return st, fmt.Errorf("load units: %w", err)
	}
	if err := db.conn.Select(&st.Field.Polities,
		"SELECT id, name, core_unit, founded FROM polities ORDER BY id"); err != nil {
		return st, fmt.Errorf("load polities: %w", err)
	}
	if err := db.conn.Select(&st.Field.Factions,
		"SELECT id, polity_id, name, core_unit, influence, founded FROM factions ORDER BY polity_id, position"); err != nil {
		return st, fmt.Errorf("load factions: %w", err)
	}
	if err := db.conn.Select(&st.Field.Entries,
		`SELECT unit_id, polity_id, value, core_distance, faction_distance
		 FROM prominence ORDER BY unit_id, polity_id`); err != nil {
		return st, fmt.Errorf("load prominence: %w", err)
	}
	if err := db.loadClusters(&st.Field); err != nil {
		return st, fmt.Errorf("load clusters: %w", err)
	}
	if err := db.conn.Select(&st.Events,
		`SELECT id, owner_type, owner_id, target, trigger_date, kind
		 FROM scheduled_events ORDER BY position`); err != nil {
		return st, fmt.Errorf("load events: %w", err)
	}

	slog.Info("world state loaded", "date", st.Date, "polities", len(st.Field.Polities), "events", len(st.Events))
	return st, nil
}

func (db *DB) loadClusters(st *polity.State) error {
	var clusters []struct {
		ID     polity.ClusterID `db:"id"`
		Polity polity.ID        `db:"polity_id"`
	}
	if err := db.conn.Select(&clusters, "SELECT id, polity_id FROM clusters ORDER BY position"); err != nil {
		return err
	}
	var members []struct {
		Cluster polity.ClusterID `db:"cluster_id"`
		Unit    world.UnitID     `db:"unit_id"`
	}
	if err := db.conn.Select(&members,
		"SELECT cluster_id, unit_id FROM cluster_members ORDER BY cluster_id, position"); err != nil {
		return err
	}

	byCluster := make(map[polity.ClusterID][]world.UnitID, len(clusters))
	for _, m := range members {
		byCluster[m.Cluster] = append(byCluster[m.Cluster], m.Unit)
	}
	for _, c := range clusters {
		st.Clusters = append(st.Clusters, polity.ClusterRecord{ID: c.ID, Polity: c.Polity, Members: byCluster[c.ID]})
	}
	return nil
}

func (db *DB) getJSONMeta(key string, v any) error {
	raw, err := db.GetMeta(key)
	if err != nil {
		return fmt.Errorf("meta %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("meta %s: %w", key, err)
	}
	return nil
}
