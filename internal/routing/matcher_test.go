package routing

import (
	"io"
	"net/http"
	"net/url"
	"testing"

	"vpc-gateway/internal/common/logging"
)

func testLogger() logging.Logger {
	logger, err := logging.NewZapLogger(logging.LogConfig{
		Level:  logging.ErrorLevel,
		Output: io.Discard,
	})
	if err != nil {
		panic(err)
	}
	return logger
}

func mustReplace(t *testing.T, table *Table, routes []*Route) *Snapshot {
	t.Helper()
	snapshot, err := table.Replace(routes)
	if err != nil {
		t.Fatalf("Replace failed: %v", err)
	}
	return snapshot
}

func get(path string) RequestMeta {
	return RequestMeta{Path: path, Method: "GET"}
}

func TestMatch_PathKinds(t *testing.T) {
	table := NewTable(testLogger())
	snapshot := mustReplace(t, table, []*Route{
		{
			ID:           "exact",
			Match:        MatchSpec{PathKind: PathExact, Path: "/status"},
			Destinations: []Destination{{Service: "svc/status"}},
		},
		{
			ID:           "prefix-slash",
			Match:        MatchSpec{PathKind: PathPrefix, Path: "/files/"},
			Destinations: []Destination{{Service: "svc/files"}},
		},
		{
			ID:           "prefix-bare",
			Match:        MatchSpec{PathKind: PathPrefix, Path: "/api/v1"},
			Destinations: []Destination{{Service: "svc/api"}},
		},
		{
			ID:           "wildcard",
			Match:        MatchSpec{PathKind: PathWildcard, Path: "/assets/*"},
			Destinations: []Destination{{Service: "svc/assets"}},
		},
	})

	tests := []struct {
		name   string
		path   string
		wantID string
	}{
		{"exact hit", "/status", "exact"},
		{"exact miss on subpath", "/status/extra", ""},
		{"prefix with trailing slash", "/files/a/b.txt", "prefix-slash"},
		{"prefix without trailing slash hits itself", "/api/v1", "prefix-bare"},
		{"prefix without trailing slash hits children", "/api/v1/users", "prefix-bare"},
		{"prefix is segment aligned", "/api/v10", ""},
		{"wildcard hits base", "/assets", "wildcard"},
		{"wildcard hits children", "/assets/css/site.css", "wildcard"},
		{"wildcard is segment aligned", "/assets2", ""},
		{"no match", "/other", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			route := snapshot.Match(get(tt.path))
			gotID := ""
			if route != nil {
				gotID = route.ID
			}
			if gotID != tt.wantID {
				t.Errorf("Match(%q) = %q, want %q", tt.path, gotID, tt.wantID)
			}
		})
	}
}

func TestMatch_Methods(t *testing.T) {
	table := NewTable(testLogger())
	snapshot := mustReplace(t, table, []*Route{
		{
			ID:           "writes",
			Match:        MatchSpec{PathKind: PathPrefix, Path: "/api/", Methods: []string{"post", "PUT"}},
			Destinations: []Destination{{Service: "svc/api"}},
		},
		{
			ID:           "any-method",
			Match:        MatchSpec{PathKind: PathExact, Path: "/ping"},
			Destinations: []Destination{{Service: "svc/ping"}},
		},
	})

	if r := snapshot.Match(RequestMeta{Path: "/api/users", Method: "POST"}); r == nil || r.ID != "writes" {
		t.Errorf("POST should match the method-restricted route, got %v", r)
	}
	if r := snapshot.Match(RequestMeta{Path: "/api/users", Method: "put"}); r == nil || r.ID != "writes" {
		t.Errorf("method comparison should be case-insensitive, got %v", r)
	}
	if r := snapshot.Match(RequestMeta{Path: "/api/users", Method: "GET"}); r != nil {
		t.Errorf("GET should not match a POST/PUT route, got %s", r.ID)
	}
	for _, method := range []string{"GET", "POST", "DELETE", "OPTIONS"} {
		if r := snapshot.Match(RequestMeta{Path: "/ping", Method: method}); r == nil {
			t.Errorf("empty method set should match %s", method)
		}
	}
}

func TestMatch_HeaderPredicates(t *testing.T) {
	table := NewTable(testLogger())
	snapshot := mustReplace(t, table, []*Route{
		{
			ID: "canary",
			Match: MatchSpec{
				PathKind: PathPrefix,
				Path:     "/api/",
				Headers: []Predicate{
					{Name: "X-Env", Value: "staging"},
					{Name: "X-Version", Value: "v2*"},
				},
			},
			Destinations: []Destination{{Service: "svc/canary"}},
		},
	})

	meta := RequestMeta{Path: "/api/users", Method: "GET", Header: http.Header{}}
	meta.Header.Set("X-Env", "staging")
	meta.Header.Set("X-Version", "v2.3.1")
	if r := snapshot.Match(meta); r == nil {
		t.Fatal("all predicates satisfied, expected a match")
	}

	meta.Header.Set("X-Env", "prod")
	if r := snapshot.Match(meta); r != nil {
		t.Errorf("exact predicate should reject a different value, got %s", r.ID)
	}

	meta.Header.Set("X-Env", "staging")
	meta.Header.Set("X-Version", "v1.9")
	if r := snapshot.Match(meta); r != nil {
		t.Errorf("glob predicate should reject v1.9, got %s", r.ID)
	}

	meta.Header.Del("X-Version")
	if r := snapshot.Match(meta); r != nil {
		t.Errorf("missing header should fail the predicate, got %s", r.ID)
	}

	if r := snapshot.Match(RequestMeta{Path: "/api/users", Method: "GET"}); r != nil {
		t.Errorf("nil header map should fail the predicate, got %s", r.ID)
	}
}

func TestMatch_QueryPredicates(t *testing.T) {
	table := NewTable(testLogger())
	snapshot := mustReplace(t, table, []*Route{
		{
			ID: "beta",
			Match: MatchSpec{
				PathKind: PathExact,
				Path:     "/search",
				Query:    []Predicate{{Name: "mode", Value: "beta"}},
			},
			Destinations: []Destination{{Service: "svc/search-beta"}},
		},
	})

	meta := RequestMeta{Path: "/search", Method: "GET", Query: url.Values{"mode": {"beta"}}}
	if r := snapshot.Match(meta); r == nil {
		t.Fatal("query predicate satisfied, expected a match")
	}

	meta.Query = url.Values{"mode": {"stable"}}
	if r := snapshot.Match(meta); r != nil {
		t.Errorf("wrong query value should not match, got %s", r.ID)
	}

	meta.Query = nil
	if r := snapshot.Match(meta); r != nil {
		t.Errorf("missing query should not match, got %s", r.ID)
	}
}

func TestMatch_SpecificityRanking(t *testing.T) {
	table := NewTable(testLogger())
	snapshot := mustReplace(t, table, []*Route{
		{
			ID:           "wildcard",
			Match:        MatchSpec{PathKind: PathWildcard, Path: "/api/v1/*"},
			Destinations: []Destination{{Service: "svc/all"}},
		},
		{
			ID:           "prefix",
			Match:        MatchSpec{PathKind: PathPrefix, Path: "/api/v1/"},
			Destinations: []Destination{{Service: "svc/v1"}},
		},
		{
			ID:           "exact",
			Match:        MatchSpec{PathKind: PathExact, Path: "/api/v1/users"},
			Destinations: []Destination{{Service: "svc/users"}},
		},
	})

	// The scenario from the route set above: all three rules match the
	// request; the exact rule must win regardless of declaration order.
	if r := snapshot.Match(get("/api/v1/users")); r == nil || r.ID != "exact" {
		t.Errorf("exact should beat prefix and wildcard, got %v", r)
	}
	if r := snapshot.Match(get("/api/v1/orders")); r == nil || r.ID != "prefix" {
		t.Errorf("prefix should beat wildcard, got %v", r)
	}
	if r := snapshot.Match(get("/api/v1")); r == nil || r.ID != "wildcard" {
		t.Errorf("only the wildcard covers its bare base, got %v", r)
	}
}

func TestMatch_LongerPrefixWins(t *testing.T) {
	table := NewTable(testLogger())
	snapshot := mustReplace(t, table, []*Route{
		{
			ID:           "short",
			Match:        MatchSpec{PathKind: PathPrefix, Path: "/api/"},
			Destinations: []Destination{{Service: "svc/api"}},
		},
		{
			ID:           "long",
			Match:        MatchSpec{PathKind: PathPrefix, Path: "/api/v1/users/"},
			Destinations: []Destination{{Service: "svc/users"}},
		},
	})

	if r := snapshot.Match(get("/api/v1/users/42")); r == nil || r.ID != "long" {
		t.Errorf("longer prefix should win, got %v", r)
	}
	if r := snapshot.Match(get("/api/v2/things")); r == nil || r.ID != "short" {
		t.Errorf("only the short prefix matches here, got %v", r)
	}
}

func TestMatch_LongerWildcardBaseWins(t *testing.T) {
	table := NewTable(testLogger())
	snapshot := mustReplace(t, table, []*Route{
		{
			ID:           "broad",
			Match:        MatchSpec{PathKind: PathWildcard, Path: "/static/*"},
			Destinations: []Destination{{Service: "svc/static"}},
		},
		{
			ID:           "narrow",
			Match:        MatchSpec{PathKind: PathWildcard, Path: "/static/images/*"},
			Destinations: []Destination{{Service: "svc/images"}},
		},
	})

	if r := snapshot.Match(get("/static/images/logo.png")); r == nil || r.ID != "narrow" {
		t.Errorf("longer wildcard base should win, got %v", r)
	}
	if r := snapshot.Match(get("/static/site.css")); r == nil || r.ID != "broad" {
		t.Errorf("broad wildcard should still serve the rest, got %v", r)
	}
}

func TestMatch_TieBrokenByDeclarationOrder(t *testing.T) {
	table := NewTable(testLogger())
	snapshot := mustReplace(t, table, []*Route{
		{
			ID:           "declared-first",
			Match:        MatchSpec{PathKind: PathPrefix, Path: "/api/", Methods: []string{"GET"}},
			Destinations: []Destination{{Service: "svc/a"}},
		},
		{
			ID:           "declared-second",
			Match:        MatchSpec{PathKind: PathPrefix, Path: "/api/"},
			Destinations: []Destination{{Service: "svc/b"}},
		},
	})

	if r := snapshot.Match(get("/api/users")); r == nil || r.ID != "declared-first" {
		t.Errorf("equal specificity must resolve to the first-declared route, got %v", r)
	}

	// Same two routes declared in the opposite order flips the winner.
	table2 := NewTable(testLogger())
	snapshot2 := mustReplace(t, table2, []*Route{
		{
			ID:           "declared-second",
			Match:        MatchSpec{PathKind: PathPrefix, Path: "/api/"},
			Destinations: []Destination{{Service: "svc/b"}},
		},
		{
			ID:           "declared-first",
			Match:        MatchSpec{PathKind: PathPrefix, Path: "/api/", Methods: []string{"GET"}},
			Destinations: []Destination{{Service: "svc/a"}},
		},
	})
	if r := snapshot2.Match(get("/api/users")); r == nil || r.ID != "declared-second" {
		t.Errorf("declaration order decides ties, got %v", r)
	}
}

func TestMatch_EmptySnapshot(t *testing.T) {
	table := NewTable(testLogger())
	if r := table.Snapshot().Match(get("/anything")); r != nil {
		t.Errorf("empty snapshot should match nothing, got %s", r.ID)
	}
}
