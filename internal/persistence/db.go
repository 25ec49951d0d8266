// Package persistence provides SQLite-based world state storage. Saves
// are full replacements inside one transaction per table; the event table
// is append-only.
package persistence

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/sacaslabs/sacas-daemon/internal/cooldown"
	"github.com/sacaslabs/sacas-daemon/internal/engine"
	"github.com/sacaslabs/sacas-daemon/internal/parasite"
	"github.com/sacaslabs/sacas-daemon/internal/registry"
	"github.com/sacaslabs/sacas-daemon/internal/topology"
	"github.com/sacaslabs/sacas-daemon/internal/weather"
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
	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		karma INTEGER NOT NULL,
		pos_x REAL NOT NULL,
		pos_y REAL NOT NULL,
		entropy INTEGER NOT NULL,
		network_quality REAL NOT NULL,
		def_l1 INTEGER NOT NULL,
		def_l2 INTEGER NOT NULL,
		def_l3 INTEGER NOT NULL,
		reserve INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS contracts (
		victim TEXT PRIMARY KEY,
		master TEXT NOT NULL,
		established TEXT NOT NULL,
		tax_rate REAL NOT NULL,
		total_collected INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS cooldowns (
		agent TEXT NOT NULL,
		action TEXT NOT NULL,
		ready_at TEXT NOT NULL,
		PRIMARY KEY (agent, action)
	);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		seq INTEGER NOT NULL,
		time TEXT NOT NULL,
		category TEXT NOT NULL,
		agent TEXT,
		description TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS world_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_contracts_master ON contracts(master);
	CREATE INDEX IF NOT EXISTS idx_events_category ON events(category);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// SaveAgents writes all agents to the database (full replace).
func (db *DB) SaveAgents(agents []registry.Agent) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM agents"); err != nil {
		return err
	}

	stmt, err := tx.Preparex(`INSERT INTO agents
		(id, karma, pos_x, pos_y, entropy, network_quality,
		 def_l1, def_l2, def_l3, reserve, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, a := range agents {
		_, err := stmt.Exec(
			string(a.ID), a.Karma, a.Position.X, a.Position.Y,
			a.Entropy, a.NetworkQuality,
			a.Defense.L1, a.Defense.L2, a.Defense.L3, a.Reserve,
			a.CreatedAt.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("insert agent %s: %w", a.ID, err)
		}
	}
	return tx.Commit()
}

// SaveContracts writes all active contracts (full replace).
func (db *DB) SaveContracts(contracts []parasite.Contract) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM contracts"); err != nil {
		return err
	}

	for _, c := range contracts {
		_, err := tx.Exec(`INSERT INTO contracts
			(victim, master, established, tax_rate, total_collected)
			VALUES (?, ?, ?, ?, ?)`,
			string(c.Victim), string(c.Master),
			c.Established.UTC().Format(time.RFC3339Nano),
			c.TaxRate, c.TotalCollected,
		)
		if err != nil {
			return fmt.Errorf("insert contract %s: %w", c.Victim, err)
		}
	}
	return tx.Commit()
}

// SaveCooldowns writes all armed timers (full replace).
func (db *DB) SaveCooldowns(entries []cooldown.Entry) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM cooldowns"); err != nil {
		return err
	}

	for _, e := range entries {
		_, err := tx.Exec(
			"INSERT INTO cooldowns (agent, action, ready_at) VALUES (?, ?, ?)",
			string(e.Agent), string(e.Action), e.ReadyAt.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SaveWeather stores the weather snapshot as JSON metadata.
func (db *DB) SaveWeather(st weather.State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return db.SaveMeta("weather", string(data))
}

// SaveEvents appends events to the database.
func (db *DB) SaveEvents(events []engine.Event) error {
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
			"INSERT INTO events (seq, time, category, agent, description) VALUES (?, ?, ?, ?, ?)",
			e.Seq, e.Time.UTC().Format(time.RFC3339Nano), e.Category, string(e.Agent), e.Description,
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
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

// SaveWorld performs a full save of the simulation state.
func (db *DB) SaveWorld(c *engine.Core) error {
	agents := c.Registry.All()
	contracts := c.Ledger.All()
	slog.Info("saving world state", "agents", len(agents), "contracts", len(contracts))

	if err := db.SaveAgents(agents); err != nil {
		return fmt.Errorf("save agents: %w", err)
	}
	if err := db.SaveContracts(contracts); err != nil {
		return fmt.Errorf("save contracts: %w", err)
	}
	if err := db.SaveCooldowns(c.Cooldowns.Active()); err != nil {
		return fmt.Errorf("save cooldowns: %w", err)
	}
	if err := db.SaveWeather(c.Weather.Current()); err != nil {
		return fmt.Errorf("save weather: %w", err)
	}
	if err := db.SaveEvents(c.Events.Recent(200)); err != nil {
		return fmt.Errorf("save events: %w", err)
	}
	if err := db.SaveMeta("saved_at", time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("save meta: %w", err)
	}

	slog.Info("world state saved")
	return nil
}

type agentRow struct {
	ID             string  `db:"id"`
	Karma          uint64  `db:"karma"`
	PosX           float64 `db:"pos_x"`
	PosY           float64 `db:"pos_y"`
	Entropy        uint64  `db:"entropy"`
	NetworkQuality float64 `db:"network_quality"`
	DefL1          uint64  `db:"def_l1"`
	DefL2          uint64  `db:"def_l2"`
	DefL3          uint64  `db:"def_l3"`
	Reserve        uint64  `db:"reserve"`
	CreatedAt      string  `db:"created_at"`
}

type contractRow struct {
	Victim         string  `db:"victim"`
	Master         string  `db:"master"`
	Established    string  `db:"established"`
	TaxRate        float64 `db:"tax_rate"`
	TotalCollected uint64  `db:"total_collected"`
}

type cooldownRow struct {
	Agent   string `db:"agent"`
	Action  string `db:"action"`
	ReadyAt string `db:"ready_at"`
}

// LoadWorld restores a previously saved state into the live systems.
// Missing tables or an empty database leave everything at defaults.
func (db *DB) LoadWorld(c *engine.Core) error {
	var agents []agentRow
	if err := db.conn.Select(&agents, "SELECT * FROM agents"); err != nil {
		return fmt.Errorf("load agents: %w", err)
	}
	for _, row := range agents {
		created, err := time.Parse(time.RFC3339Nano, row.CreatedAt)
		if err != nil {
			return fmt.Errorf("agent %s created_at: %w", row.ID, err)
		}
		a := registry.Agent{
			ID:             registry.AgentID(row.ID),
			Karma:          row.Karma,
			Position:       topology.Coord{X: row.PosX, Y: row.PosY},
			Entropy:        row.Entropy,
			NetworkQuality: row.NetworkQuality,
			Defense:        registry.DefenseArray{L1: row.DefL1, L2: row.DefL2, L3: row.DefL3},
			Reserve:        row.Reserve,
			CreatedAt:      created,
		}
		if err := c.Registry.Insert(a); err != nil {
			return fmt.Errorf("restore agent %s: %w", row.ID, err)
		}
	}

	var contracts []contractRow
	if err := db.conn.Select(&contracts, "SELECT * FROM contracts"); err != nil {
		return fmt.Errorf("load contracts: %w", err)
	}
	for _, row := range contracts {
		established, err := time.Parse(time.RFC3339Nano, row.Established)
		if err != nil {
			return fmt.Errorf("contract %s established: %w", row.Victim, err)
		}
		err = c.Ledger.Restore(parasite.Contract{
			Master:         registry.AgentID(row.Master),
			Victim:         registry.AgentID(row.Victim),
			Established:    established,
			TaxRate:        row.TaxRate,
			TotalCollected: row.TotalCollected,
		})
		if err != nil {
			return fmt.Errorf("restore contract %s: %w", row.Victim, err)
		}
	}

	var timers []cooldownRow
	if err := db.conn.Select(&timers, "SELECT * FROM cooldowns"); err != nil {
		return fmt.Errorf("load cooldowns: %w", err)
	}
	for _, row := range timers {
		readyAt, err := time.Parse(time.RFC3339Nano, row.ReadyAt)
		if err != nil {
			return fmt.Errorf("cooldown %s/%s ready_at: %w", row.Agent, row.Action, err)
		}
		c.Cooldowns.Restore(registry.AgentID(row.Agent), cooldown.Action(row.Action), readyAt)
	}

	if raw, err := db.GetMeta("weather"); err == nil {
		var st weather.State
		if err := json.Unmarshal([]byte(raw), &st); err != nil {
			return fmt.Errorf("load weather: %w", err)
		}
		c.Weather.Restore(st)
	}

	slog.Info("world state loaded",
		"agents", len(agents),
		"contracts", len(contracts),
		"cooldowns", len(timers),
	)
	return nil
}

// RecentEvents returns the most recent N persisted events, newest first.
func (db *DB) RecentEvents(limit int) ([]engine.Event, error) {
	var rows []struct {
		Seq         uint64 `db:"seq"`
		Time        string `db:"time"`
		Category    string `db:"category"`
		Agent       string `db:"agent"`
		Description string `db:"description"`
	}
	err := db.conn.Select(&rows,
		"SELECT seq, time, category, agent, description FROM events ORDER BY id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, err
	}

	out := make([]engine.Event, 0, len(rows))
	for _, r := range rows {
		ts, err := time.Parse(time.RFC3339Nano, r.Time)
		if err != nil {
			return nil, fmt.Errorf("event %d time: %w", r.Seq, err)
		}
		out = append(out, engine.Event{
			Seq:         r.Seq,
			Time:        ts,
			Category:    r.Category,
			Agent:       registry.AgentID(r.Agent),
			Description: r.Description,
		})
	}
	return out, nil
}
