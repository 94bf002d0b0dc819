package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/abramin/upstream/internal/model"
	"github.com/abramin/upstream/internal/tree"
)

// DirName is the per-project directory holding the session database.
const DirName = ".upstream"

// timeLayout has fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store persists the call tree session and search history to SQLite.
type Store struct {
	db      *sql.DB
	dbPath  string
	baseDir string // Project root directory
}

// Open creates or opens the session database.
// By default, stores at .upstream/session.db relative to the given project directory.
func Open(projectDir string) (*Store, error) {
	dir := filepath.Join(projectDir, DirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating %s directory: %w", DirName, err)
	}

	dbPath := filepath.Join(dir, "session.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{
		db:      db,
		dbPath:  dbPath,
		baseDir: projectDir,
	}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DBPath returns the path to the database file.
func (s *Store) DBPath() string {
	return s.dbPath
}

// Clear removes the saved forest and its state. Search history is kept.
func (s *Store) Clear() error {
	for _, table := range []string{"trees", "node_state"} {
		if _, err := s.db.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("clearing table %s: %w", table, err)
		}
	}
	return nil
}

// SaveSession replaces the saved forest and state with st in one transaction.
func (s *Store) SaveSession(st tree.State) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"trees", "node_state"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("clearing table %s: %w", table, err)
		}
	}

	for i, root := range st.Trees {
		data, err := json.Marshal(root)
		if err != nil {
			return fmt.Errorf("marshaling tree %s: %w", root.Key(), err)
		}
		if _, err := tx.Exec(`
			INSERT INTO trees (position, root_key, tree_json)
			VALUES (?, ?, ?)
		`, i, root.Key(), string(data)); err != nil {
			return fmt.Errorf("inserting tree %d: %w", i, err)
		}
	}

	for key, row := range stateRows(st) {
		if _, err := tx.Exec(`
			INSERT INTO node_state (key, checked, selected, expanded)
			VALUES (?, ?, ?, ?)
		`, key, row.checked, row.selected, row.expanded); err != nil {
			return fmt.Errorf("inserting state for %s: %w", key, err)
		}
	}

	if _, err := tx.Exec(`
		INSERT INTO metadata (key, value)
		VALUES ('saved_at', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}

	return tx.Commit()
}

type stateRow struct {
	checked  sql.NullBool
	selected bool
	expanded bool
}

func stateRows(st tree.State) map[string]*stateRow {
	rows := make(map[string]*stateRow)
	row := func(key string) *stateRow {
		r, ok := rows[key]
		if !ok {
			r = &stateRow{}
			rows[key] = r
		}
		return r
	}
	for key, checked := range st.Checked {
		row(key).checked = sql.NullBool{Bool: checked, Valid: true}
	}
	for _, key := range st.Selected {
		row(key).selected = true
	}
	for _, key := range st.Expanded {
		row(key).expanded = true
	}
	return rows
}

// LoadSession reads the saved forest and state. An empty database yields an
// empty state.
func (s *Store) LoadSession() (tree.State, error) {
	st := tree.State{Checked: make(map[string]bool)}

	rows, err := s.db.Query("SELECT root_key, tree_json FROM trees ORDER BY position")
	if err != nil {
		return st, fmt.Errorf("querying trees: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var key, data string
		if err := rows.Scan(&key, &data); err != nil {
			return st, fmt.Errorf("scanning tree: %w", err)
		}
		var root model.Node
		if err := json.Unmarshal([]byte(data), &root); err != nil {
			return st, fmt.Errorf("decoding tree %s: %w", key, err)
		}
		st.Trees = append(st.Trees, &root)
	}
	if err := rows.Err(); err != nil {
		return st, err
	}

	srows, err := s.db.Query("SELECT key, checked, selected, expanded FROM node_state")
	if err != nil {
		return st, fmt.Errorf("querying node state: %w", err)
	}
	defer srows.Close()
	for srows.Next() {
		var (
			key                string
			checked            sql.NullInt64
			selected, expanded int64
		)
		if err := srows.Scan(&key, &checked, &selected, &expanded); err != nil {
			return st, fmt.Errorf("scanning node state: %w", err)
		}
		if checked.Valid {
			st.Checked[key] = checked.Int64 != 0
		}
		if selected != 0 {
			st.Selected = append(st.Selected, key)
		}
		if expanded != 0 {
			st.Expanded = append(st.Expanded, key)
		}
	}
	sort.Strings(st.Selected)
	sort.Strings(st.Expanded)
	return st, srows.Err()
}

// RecordSearch appends a search to the history, assigning an ID if it has none.
func (s *Store) RecordSearch(rec *SearchRecord) error {
	if rec.ID == "" {
		rec.ID = SearchID(uuid.NewString())
	}
	_, err := s.db.Exec(`
		INSERT INTO searches (id, symbol, namespace, file, line, mode, strategy, started_at, duration_ms, methods, refs, cancelled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, string(rec.ID), rec.Symbol, rec.Namespace, rec.File, rec.Line, string(rec.Mode), rec.Strategy,
		rec.StartedAt.UTC().Format(timeLayout), rec.Duration.Milliseconds(), rec.Methods, rec.References, rec.Cancelled)
	if err != nil {
		return fmt.Errorf("recording search: %w", err)
	}
	return nil
}

// Searches returns the most recent searches, newest first. limit <= 0 returns all.
func (s *Store) Searches(limit int) ([]SearchRecord, error) {
	query := `
		SELECT id, symbol, namespace, file, line, mode, strategy, started_at, duration_ms, methods, refs, cancelled
		FROM searches
		ORDER BY started_at DESC, id`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying searches: %w", err)
	}
	defer rows.Close()

	var out []SearchRecord
	for rows.Next() {
		var (
			rec                       SearchRecord
			id, mode, started         string
			namespace, file, strategy sql.NullString
			line                      sql.NullInt64
			durationMS                int64
			cancelled                 int64
		)
		if err := rows.Scan(&id, &rec.Symbol, &namespace, &file, &line, &mode, &strategy,
			&started, &durationMS, &rec.Methods, &rec.References, &cancelled); err != nil {
			return nil, fmt.Errorf("scanning search: %w", err)
		}
		rec.ID = SearchID(id)
		rec.Mode = SearchMode(mode)
		rec.Namespace = namespace.String
		rec.File = file.String
		rec.Strategy = strategy.String
		rec.Line = int(line.Int64)
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		rec.Cancelled = cancelled != 0
		rec.StartedAt, _ = time.Parse(timeLayout, started)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SetMetadata stores a key-value pair in the metadata table.
func (s *Store) SetMetadata(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO metadata (key, value)
		VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// SetProject records the project root and the caller resolution strategies
// the session was opened with.
func (s *Store) SetProject(root string, strategies []string) error {
	if err := s.SetMetadata("root", root); err != nil {
		return err
	}
	return s.SetMetadata("strategies", strings.Join(strategies, ","))
}

// GetMetadata retrieves a value from the metadata table.
func (s *Store) GetMetadata(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	return value, err
}

// GetStats returns counts of the persisted session.
func (s *Store) GetStats() (*Stats, error) {
	stats := &Stats{}

	rows := []struct {
		table string
		dest  *int
	}{
		{"trees", &stats.TreeCount},
		{"node_state", &stats.StateCount},
		{"searches", &stats.SearchCount},
	}

	for _, r := range rows {
		err := s.db.QueryRow("SELECT COUNT(*) FROM " + r.table).Scan(r.dest)
		if err != nil {
			return nil, fmt.Errorf("counting %s: %w", r.table, err)
		}
	}

	if ts, err := s.GetMetadata("saved_at"); err == nil {
		stats.SavedAt, _ = time.Parse(time.RFC3339, ts)
	}
	stats.Root, _ = s.GetMetadata("root")
	if v, err := s.GetMetadata("strategies"); err == nil && v != "" {
		stats.Strategies = strings.Split(v, ",")
	}

	return stats, nil
}
