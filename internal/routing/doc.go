// Package routing provides the route model and matching engine for the
// gateway's request-path decision making.
//
// # Overview
//
// The package owns three things:
//
//   - Route: an immutable routing rule mapping a request match spec (path,
//     methods, headers, query parameters) to weighted destination services
//     plus the resilience policy applied when forwarding (load-balancing
//     strategy, retries, timeouts, CORS).
//   - Snapshot: the full set of routes visible to the matcher at a point in
//     time, built once and never mutated.
//   - Table: the published snapshot, replaced wholesale on configuration
//     change and read lock-free by every request.
//
// # Matching
//
// A route matches when its path rule matches per its kind (exact, prefix,
// wildcard), its method set is empty or contains the request method, and all
// header and query predicates are satisfied. When several routes match, the
// most specific wins: exact beats prefix beats wildcard, longer prefixes and
// wildcard bases beat shorter ones, and routes declared earlier win ties.
//
// # Usage
//
//	table := routing.NewTable(logger)
//	_, err := table.Replace([]*routing.Route{
//		{
//			ID: "users-api",
//			Match: routing.MatchSpec{
//				PathKind: routing.PathPrefix,
//				Path:     "/api/v1/users",
//				Methods:  []string{"GET", "POST"},
//			},
//			Destinations: []routing.Destination{{Service: "default/users"}},
//			Strategy:     routing.StrategyRoundRobin,
//		},
//	})
//	if err != nil {
//		return err
//	}
//
//	route := table.Snapshot().Match(routing.RequestMeta{
//		Path:   "/api/v1/users/42",
//		Method: "GET",
//	})
package routing
