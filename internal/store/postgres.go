package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"

	"vpc-gateway/internal/config"
)

// Postgres is the shared store for multi-instance deployments.
type Postgres struct {
	db *sql.DB
}

// NewPostgres connects with a keyword/value DSN and applies migrations.
func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	p := &Postgres{db: db}
	if err := p.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return p, nil
}

func (p *Postgres) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS routes (
			id TEXT PRIMARY KEY,
			position INTEGER NOT NULL,
			spec JSONB NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS services (
			id TEXT PRIMARY KEY,
			spec JSONB NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_routes_position ON routes(position)`,
	}

	for _, query := range queries {
		if _, err := p.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute migration query: %w", err)
		}
	}

	return nil
}

func (p *Postgres) CreateRoute(spec config.RouteSpec) error {
	data, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("failed to marshal route spec: %w", err)
	}

	var count int
	if err := p.db.QueryRow(`SELECT COUNT(*) FROM routes WHERE id = $1`, spec.ID).Scan(&count); err != nil {
		return fmt.Errorf("failed to check route existence: %w", err)
	}
	if count > 0 {
		return ErrRouteExists
	}

	query := `INSERT INTO routes (id, position, spec)
			  VALUES ($1, (SELECT COALESCE(MAX(position), 0) + 1 FROM routes), $2)`
	if _, err := p.db.Exec(query, spec.ID, string(data)); err != nil {
		return fmt.Errorf("failed to create route: %w", err)
	}
	return nil
}

func (p *Postgres) UpdateRoute(spec config.RouteSpec) error {
	data, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("failed to marshal route spec: %w", err)
	}

	result, err := p.db.Exec(`UPDATE routes SET spec = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2`,
		string(data), spec.ID)
	if err != nil {
		return fmt.Errorf("failed to update route: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrRouteNotFound
	}
	return nil
}

func (p *Postgres) DeleteRoute(id string) error {
	result, err := p.db.Exec(`DELETE FROM routes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete route: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrRouteNotFound
	}
	return nil
}

func (p *Postgres) GetRoute(id string) (config.RouteSpec, error) {
	var data string
	err := p.db.QueryRow(`SELECT spec FROM routes WHERE id = $1`, id).Scan(&data)
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

func (p *Postgres) ListRoutes() ([]config.RouteSpec, error) {
	rows, err := p.db.Query(`SELECT spec FROM routes ORDER BY position ASC`)
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

func (p *Postgres) SaveService(spec config.ServiceSpec) error {
	data, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("failed to marshal service spec: %w", err)
	}

	query := `INSERT INTO services (id, spec) VALUES ($1, $2)
			  ON CONFLICT (id) DO UPDATE SET spec = EXCLUDED.spec, updated_at = CURRENT_TIMESTAMP`
	if _, err := p.db.Exec(query, spec.ID, string(data)); err != nil {
		return fmt.Errorf("failed to save service: %w", err)
	}
	return nil
}

func (p *Postgres) DeleteService(id string) error {
	result, err := p.db.Exec(`DELETE FROM services WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete service: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrServiceNotFound
	}
	return nil
}

func (p *Postgres) GetService(id string) (config.ServiceSpec, error) {
	var data string
	err := p.db.QueryRow(`SELECT spec FROM services WHERE id = $1`, id).Scan(&data)
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

func (p *Postgres) ListServices() ([]config.ServiceSpec, error) {
	rows, err := p.db.Query(`SELECT spec FROM services ORDER BY id ASC`)
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

func (p *Postgres) Ping() error {
	return p.db.Ping()
}

func (p *Postgres) Close() error {
	return p.db.Close()
}
