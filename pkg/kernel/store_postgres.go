package kernel

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/lib/pq"
)

// PostgresStore persists declarations in Postgres for shared library
// installations (many sessions reading one permanent declaration set).
type PostgresStore struct {
	db      *sql.DB
	version atomic.Uint64
}

const pgDeclSchema = `
CREATE TABLE IF NOT EXISTS declarations (
	name TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	decl_json JSONB NOT NULL,
	depends_on_admitted BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMP NOT NULL DEFAULT NOW()
);
`

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Init creates the schema and seeds the version counter.
func (s *PostgresStore) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, pgDeclSchema); err != nil {
		return fmt.Errorf("failed to migrate declarations table: %w", err)
	}
	var count uint64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM declarations`).Scan(&count); err != nil {
		return fmt.Errorf("failed to count declarations: %w", err)
	}
	s.version.Store(count)
	return nil
}

func (s *PostgresStore) Put(decl *Declaration) error {
	raw, err := json.Marshal(decl)
	if err != nil {
		return fmt.Errorf("failed to marshal declaration: %w", err)
	}
	_, err = s.db.ExecContext(context.Background(),
		`INSERT INTO declarations (name, kind, decl_json, depends_on_admitted) VALUES ($1, $2, $3, $4)`,
		decl.Name, string(decl.Kind), string(raw), decl.DependsOnAdmitted)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return fmt.Errorf("%w: %s", ErrAlreadyDeclared, decl.Name)
		}
		return err
	}
	s.version.Add(1)
	return nil
}

func (s *PostgresStore) Get(name string) (*Declaration, error) {
	var raw string
	err := s.db.QueryRowContext(context.Background(),
		`SELECT decl_json FROM declarations WHERE name = $1`, name).Scan(&raw)
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

func (s *PostgresStore) Contains(name string) bool {
	var one int
	err := s.db.QueryRowContext(context.Background(),
		`SELECT 1 FROM declarations WHERE name = $1`, name).Scan(&one)
	return err == nil
}

func (s *PostgresStore) Names() ([]string, error) {
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

func (s *PostgresStore) Version() uint64 { return s.version.Load() }
