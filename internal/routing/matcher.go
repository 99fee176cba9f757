package routing

import "strings"

// Specificity ranks, highest first: exact, then prefix, then wildcard.
const (
	rankWildcard = 1
	rankPrefix   = 2
	rankExact    = 3
)

// Match returns the best-matching route for the request, or nil when no
// route matches. Among multiple matches the most specific route wins; at
// equal specificity the route declared first in the snapshot wins, which is
// why the scan below only ever replaces the current best on a strictly
// better candidate.
func (s *Snapshot) Match(meta RequestMeta) *Route {
	var (
		best     *Route
		bestRank int
		bestLen  int
	)

	for _, route := range s.routes {
		if !route.matches(meta) {
			continue
		}

		rank, length := route.specificity()
		if rank > bestRank || (rank == bestRank && length > bestLen) {
			best = route
			bestRank = rank
			bestLen = length
		}
	}

	return best
}

// matches reports whether every part of the route's match spec accepts the
// request.
func (r *Route) matches(meta RequestMeta) bool {
	if !r.matchesPath(meta.Path) {
		return false
	}
	if !r.matchesMethod(meta.Method) {
		return false
	}

	for i := range r.Match.Headers {
		p := &r.Match.Headers[i]
		if meta.Header == nil || !p.Matches(meta.Header.Get(p.Name)) {
			return false
		}
	}
	for i := range r.Match.Query {
		p := &r.Match.Query[i]
		if meta.Query == nil || !p.Matches(meta.Query.Get(p.Name)) {
			return false
		}
	}
	return true
}

func (r *Route) matchesPath(path string) bool {
	switch r.Match.PathKind {
	case PathExact:
		return path == r.Match.Path
	case PathPrefix:
		pattern := r.Match.Path
		if strings.HasSuffix(pattern, "/") {
			return strings.HasPrefix(path, pattern)
		}
		// Segment-aligned: "/api/v1" covers "/api/v1" and "/api/v1/..."
		// but not "/api/v10".
		return path == pattern || strings.HasPrefix(path, pattern+"/")
	case PathWildcard:
		return path == r.wildcardBase || strings.HasPrefix(path, r.wildcardBase+"/")
	default:
		return false
	}
}

func (r *Route) matchesMethod(method string) bool {
	if len(r.Match.Methods) == 0 {
		return true
	}
	method = strings.ToUpper(method)
	for _, m := range r.Match.Methods {
		if m == method {
			return true
		}
	}
	return false
}

// specificity returns the route's rank and the length used to break ties
// within a rank: the full path for exact and prefix rules, the base for
// wildcard rules.
func (r *Route) specificity() (rank, length int) {
	switch r.Match.PathKind {
	case PathExact:
		return rankExact, len(r.Match.Path)
	case PathPrefix:
		return rankPrefix, len(r.Match.Path)
	default:
		return rankWildcard, len(r.wildcardBase)
	}
}
