// Package discovery feeds the endpoint registry. Static declarations come
// from the route file and the admin API; dynamic updates arrive over Redis,
// as full endpoint sets under "gateway:endpoints:<service>" and as
// incremental events on the "gateway:events" channel.
package discovery

import (
	"fmt"

	"vpc-gateway/internal/config"
	"vpc-gateway/internal/registry"
)

// ApplyStatic registers the declared services and their endpoints.
func ApplyStatic(reg *registry.Registry, services []config.ServiceSpec) error {
	for _, svc := range services {
		if err := svc.Validate(); err != nil {
			return err
		}
		health, err := svc.HealthSpec()
		if err != nil {
			return err
		}
		reg.RegisterService(svc.ID, health)
		reg.SetEndpoints(svc.ID, svc.Addresses())
	}
	return nil
}

// ApplyService registers or updates a single service declaration.
func ApplyService(reg *registry.Registry, svc config.ServiceSpec) error {
	if err := svc.Validate(); err != nil {
		return err
	}
	health, err := svc.HealthSpec()
	if err != nil {
		return fmt.Errorf("invalid health check: %w", err)
	}
	reg.RegisterService(svc.ID, health)
	reg.SetEndpoints(svc.ID, svc.Addresses())
	return nil
}
