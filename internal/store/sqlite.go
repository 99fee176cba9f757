package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"vpc-gateway/internal/config"
)

// SQLite is the embedded single-node store.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (creating if necessary) the database file and applies
// migrations.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return s, nil
}

func (s *SQLite) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS routes (
			id TEXT PRIMARY KEY,
			position INTEGER NOT NULL,
			spec TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS services (
			id TEXT PRIMARY KEY,
			spec TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_routes_position ON routes(position)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute migration query: %w", err)
		}
	}

	return nil
}

func (s *SQLite) CreateRoute(spec config.RouteSpec) error {
	data, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("failed to marshal route spec: %w", err)
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM routes WHERE id = ?`, spec.ID).Scan(&count); err != nil {
		return fmt.Errorf("failed to check route existence: %w", err)
	}
	if count > 0 {
		return ErrRouteExists
	}

	query := `INSERT INTO routes (id, position, spec)
			  VALUES (?, (SELECT COALESCE(MAX(position), 0) + 1 FROM routes), ?)`
	if _, err := s.db.Exec(query, spec.ID, string(data)); err != nil {
		return fmt.Errorf("failed to create route: %w", err)
	}
	return nil
}

func (s *SQLite) UpdateRoute(spec config.RouteSpec) error {
	data, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("failed to marshal route spec: %w", err)
	}

	result, err := s.db.Exec(`UPDATE routes SET spec = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		string(data), spec.ID)
	if err != nil {
		return fmt.Errorf("failed to update route: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrRouteNotFound
	}
	return nil
}

func (s *SQLite) DeleteRoute(id string) error {
	result, err := s.db.Exec(`DELETE FROM routes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete route: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrRouteNotFound
	}
	return nil
}

func (s *SQLite) GetRoute(id string) (config.RouteSpec, error) {
	var data string
	err := s.db.QueryRow(`SELECT spec FROM routes WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return config.RouteSpec{}, ErrRouteNotFound
	}
	if err != nil {
		return config.RouteSpec{}, fmt.Errorf("failed to get route: %w", err)
	}

	var spec config.RouteSpec
	if err := json.Unmarshal([]byte(data), &spec); err != nil {
		return config.RouteSpec{}, fmt.Errorf("failed to unmarshal route spec: %w", err)
	}
	return spec, nil
}

func (s *SQLite) ListRoutes() ([]config.RouteSpec, error) {
	rows, err := s.db.Query(`SELECT spec FROM routes ORDER BY position ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list routes: %w", err)
	}
	defer rows.Close()

	var specs []config.RouteSpec
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan route: %w", err)
		}
		var spec config.RouteSpec
		if err := json.Unmarshal([]byte(data), &spec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal route spec: %w", err)
		}
		specs = append(specs, spec)
	}
	return specs, rows.Err()
}

func (s *SQLite) SaveService(spec config.ServiceSpec) error {
	data, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("failed to marshal service spec: %w", err)
	}

	query := `INSERT INTO services (id, spec) VALUES (?, ?)
			  ON CONFLICT(id) DO UPDATE SET spec = excluded.spec, updated_at = CURRENT_TIMESTAMP`
	if _, err := s.db.Exec(query, spec.ID, string(data)); err != nil {
		return fmt.Errorf("failed to save service: %w", err)
	}
	return nil
}

func (s *SQLite) DeleteService(id string) error {
	result, err := s.db.Exec(`DELETE FROM services WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete service: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrServiceNotFound
	}
	return nil
}

func (s *SQLite) GetService(id string) (config.ServiceSpec, error) {
	var data string
	err := s.db.QueryRow(`SELECT spec FROM services WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return config.ServiceSpec{}, ErrServiceNotFound
	}
	if err != nil {
		return config.ServiceSpec{}, fmt.Errorf("failed to get service: %w", err)
	}

	var spec config.ServiceSpec
	if err := json.Unmarshal([]byte(data), &spec); err != nil {
		return config.ServiceSpec{}, fmt.Errorf("failed to unmarshal service spec: %w", err)
	}
	return spec, nil
}

func (s *SQLite) ListServices() ([]config.ServiceSpec, error) {
	rows, err := s.db.Query(`SELECT spec FROM services ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list services: %w", err)
	}
	defer rows.Close()

	var specs []config.ServiceSpec
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan service: %w", err)
		}
		var spec config.ServiceSpec
		if err := json.Unmarshal([]byte(data), &spec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal service spec: %w", err)
		}
		specs = append(specs, spec)
	}
	return specs, rows.Err()
}

func (s *SQLite) Ping() error {
	return s.db.Ping()
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
