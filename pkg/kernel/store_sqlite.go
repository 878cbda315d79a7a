package kernel

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists declarations in a local SQLite database so a
// session's permanent declarations survive the process.
type SQLiteStore struct {
	db      *sql.DB
	version atomic.Uint64
}

func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	var count uint64
	if err := db.QueryRowContext(context.Background(),
		`SELECT COUNT(*) FROM declarations`).Scan(&count); err != nil {
		return nil, fmt.Errorf("failed to count declarations: %w", err)
	}
	s.version.Store(count)
	return s, nil
}

// OpenSQLiteStore opens (or creates) the database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite store: %w", err)
	}
	return NewSQLiteStore(db)
}

func (s *SQLiteStore) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS declarations (
        name TEXT PRIMARY KEY,
        kind TEXT NOT NULL,
        decl_json JSON NOT NULL,
        depends_on_admitted INTEGER NOT NULL DEFAULT 0,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteStore) Put(decl *Declaration) error {
	raw, err := json.Marshal(decl)
	if err != nil {
		return fmt.Errorf("failed to marshal declaration: %w", err)
	}
	admitted := 0
	if decl.DependsOnAdmitted {
		admitted = 1
	}
	_, err = s.db.ExecContext(context.Background(),
		`INSERT INTO declarations (name, kind, decl_json, depends_on_admitted) VALUES (?, ?, ?, ?)`,
		decl.Name, string(decl.Kind), string(raw), admitted)
	if err != nil {
		// SQLite reports primary-key violations as generic errors; map
		// them onto the store contract.
		return fmt.Errorf("%w: %s", ErrAlreadyDeclared, decl.Name)
	}
	s.version.Add(1)
	return nil
}

func (s *SQLiteStore) Get(name string) (*Declaration, error) {
	var raw string
	err := s.db.QueryRowContext(context.Background(),
		`SELECT decl_json FROM declarations WHERE name = ?`, name).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotDeclared, name)
	}
	if err != nil {
		return nil, err
	}
	var decl Declaration
	if err := json.Unmarshal([]byte(raw), &decl); err != nil {
		return nil, fmt.Errorf("failed to decode declaration %s: %w", name, err)
	}
	return &decl, nil
}

func (s *SQLiteStore) Contains(name string) bool {
	var one int
	err := s.db.QueryRowContext(context.Background(),
		`SELECT 1 FROM declarations WHERE name = ?`, name).Scan(&one)
	return err == nil
}

func (s *SQLiteStore) Names() ([]string, error) {
	rows, err := s.db.QueryContext(context.Background(),
		`SELECT name FROM declarations ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

func (s *SQLiteStore) Version() uint64 { return s.version.Load() }

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }
