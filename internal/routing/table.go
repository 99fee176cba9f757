package routing

import (
	"fmt"
	"sync/atomic"
	"time"

	apperrors "vpc-gateway/internal/common/errors"
	"vpc-gateway/internal/common/logging"
)

// Snapshot is the set of routes visible to the matcher at a point in time.
// It is built once by Table.Replace and never mutated, so request handlers
// can read it without locking for the duration of a request.
type Snapshot struct {
	routes     []*Route
	generation uint64
	builtAt    time.Time
}

// Routes returns the snapshot's routes in declaration order. Callers must
// not modify the returned slice.
func (s *Snapshot) Routes() []*Route {
	return s.routes
}

// Generation returns the snapshot's monotonically increasing generation
// number.
func (s *Snapshot) Generation() uint64 {
	return s.generation
}

// BuiltAt returns when the snapshot was published.
func (s *Snapshot) BuiltAt() time.Time {
	return s.builtAt
}

// Len returns the number of routes in the snapshot.
func (s *Snapshot) Len() int {
	return len(s.routes)
}

// Route returns the route with the given id, or nil.
func (s *Snapshot) Route(id string) *Route {
	for _, r := range s.routes {
		if r.ID == id {
			return r
		}
	}
	return nil
}

// Table publishes the current route snapshot. Replace is the single writer;
// Snapshot is a lock-free pointer read taken once per request.
type Table struct {
	current    atomic.Pointer[Snapshot]
	generation atomic.Uint64
	logger     logging.Logger
}

// NewTable creates a table containing an empty snapshot.
func NewTable(logger logging.Logger) *Table {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	t := &Table{logger: logger}
	t.current.Store(&Snapshot{builtAt: time.Now()})
	return t
}

// Snapshot returns the currently published snapshot. The result stays
// internally consistent even if Replace runs concurrently; callers keep
// using the same snapshot for the whole request.
func (t *Table) Snapshot() *Snapshot {
	return t.current.Load()
}

// Replace validates, compiles, and atomically publishes a new snapshot
// containing exactly the given routes, in the given declaration order.
// On any validation failure the current snapshot stays published untouched.
func (t *Table) Replace(routes []*Route) (*Snapshot, error) {
	seen := make(map[string]bool, len(routes))
	for _, route := range routes {
		if err := route.Validate(); err != nil {
			return nil, err
		}
		if seen[route.ID] {
			return nil, apperrors.ValidationError(fmt.Sprintf("duplicate route id %s", route.ID))
		}
		seen[route.ID] = true
		if err := route.compile(); err != nil {
			return nil, err
		}
	}

	snapshot := &Snapshot{
		routes:     routes,
		generation: t.generation.Add(1),
		builtAt:    time.Now(),
	}
	t.current.Store(snapshot)

	t.logger.Info("Route table replaced",
		logging.Int("routes", len(routes)),
		logging.Int64("generation", int64(snapshot.generation)),
	)
	return snapshot, nil
}
