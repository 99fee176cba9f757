// Package store persists the gateway's declarative configuration. Routes
// and services are stored as their declarative spec JSON keyed by id, with
// route positions preserving declaration order: the matcher breaks
// specificity ties in favor of the earliest-created route, so listing
// order is part of the configuration's meaning.
package store

import (
	"errors"
	"fmt"

	"vpc-gateway/internal/config"
)

var (
	ErrRouteNotFound   = errors.New("route not found")
	ErrRouteExists     = errors.New("route already exists")
	ErrServiceNotFound = errors.New("service not found")
)

// Store is the persistence interface for routes and services. ListRoutes
// returns routes in creation order.
type Store interface {
	CreateRoute(spec config.RouteSpec) error
	UpdateRoute(spec config.RouteSpec) error
	DeleteRoute(id string) error
	GetRoute(id string) (config.RouteSpec, error)
	ListRoutes() ([]config.RouteSpec, error)

	SaveService(spec config.ServiceSpec) error
	DeleteService(id string) error
	GetService(id string) (config.ServiceSpec, error)
	ListServices() ([]config.ServiceSpec, error)

	Ping() error
	Close() error
}

// New opens the store selected by DATABASE_TYPE.
func New(cfg *config.Config) (Store, error) {
	if cfg.UsesPostgres() {
		return NewPostgres(cfg.PostgresDSN())
	}
	if cfg.DatabaseType == "sqlite" || cfg.DatabaseType == "" {
		return NewSQLite(cfg.DatabasePath)
	}
	return nil, fmt.Errorf("unsupported database type: %s", cfg.DatabaseType)
}
