package registry

import (
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

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

func ids(eps []*Endpoint) []string {
	out := make([]string, len(eps))
	for i, ep := range eps {
		out[i] = ep.ID
	}
	return out
}

func TestUpsertEndpointKeepsInsertionOrder(t *testing.T) {
	reg := NewRegistry(testLogger())

	reg.UpsertEndpoint("billing", "10.0.0.3", 8080)
	reg.UpsertEndpoint("billing", "10.0.0.1", 8080)
	reg.UpsertEndpoint("billing", "10.0.0.2", 8080)

	got := ids(reg.Lookup("billing"))
	want := []string{"10.0.0.3:8080", "10.0.0.1:8080", "10.0.0.2:8080"}
	if len(got) != len(want) {
		t.Fatalf("Lookup returned %d endpoints, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("endpoint[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestUpsertEndpointIsIdempotent(t *testing.T) {
	reg := NewRegistry(testLogger())

	first := reg.UpsertEndpoint("billing", "10.0.0.1", 8080)
	first.SetHealthy(false)
	first.IncActive()

	again := reg.UpsertEndpoint("billing", "10.0.0.1", 8080)
	if again != first {
		t.Fatal("re-adding the same address should return the existing endpoint")
	}
	if again.Healthy() {
		t.Error("existing endpoint state was reset by upsert")
	}
	if again.ActiveConnections() != 1 {
		t.Errorf("ActiveConnections = %d, want 1", again.ActiveConnections())
	}
	if len(reg.Lookup("billing")) != 1 {
		t.Error("duplicate upsert grew the endpoint list")
	}
}

func TestRemoveEndpoint(t *testing.T) {
	reg := NewRegistry(testLogger())
	var removed []string
	reg.SetRemovalHook(func(ep *Endpoint) {
		removed = append(removed, ep.ID)
	})

	reg.UpsertEndpoint("billing", "10.0.0.1", 8080)
	reg.UpsertEndpoint("billing", "10.0.0.2", 8080)

	if !reg.RemoveEndpoint("billing", "10.0.0.1", 8080) {
		t.Fatal("RemoveEndpoint returned false for a present endpoint")
	}
	if reg.RemoveEndpoint("billing", "10.0.0.1", 8080) {
		t.Error("RemoveEndpoint returned true for an absent endpoint")
	}
	if reg.RemoveEndpoint("search", "10.0.0.1", 8080) {
		t.Error("RemoveEndpoint returned true for an unknown service")
	}

	got := ids(reg.Lookup("billing"))
	if len(got) != 1 || got[0] != "10.0.0.2:8080" {
		t.Errorf("Lookup after removal = %v, want [10.0.0.2:8080]", got)
	}
	if len(removed) != 1 || removed[0] != "10.0.0.1:8080" {
		t.Errorf("removal hook saw %v, want [10.0.0.1:8080]", removed)
	}
}

func TestRemoveServiceDropsEndpoints(t *testing.T) {
	reg := NewRegistry(testLogger())
	var removed []string
	reg.SetRemovalHook(func(ep *Endpoint) {
		removed = append(removed, ep.ID)
	})

	reg.UpsertEndpoint("billing", "10.0.0.1", 8080)
	reg.UpsertEndpoint("billing", "10.0.0.2", 8080)

	if !reg.RemoveService("billing") {
		t.Fatal("RemoveService returned false for a present service")
	}
	if reg.RemoveService("billing") {
		t.Error("RemoveService returned true for an absent service")
	}
	if reg.Lookup("billing") != nil {
		t.Error("Lookup returned endpoints for a removed service")
	}
	if len(removed) != 2 {
		t.Errorf("removal hook fired %d times, want 2", len(removed))
	}
}

func TestSetEndpointsPreservesSurvivorState(t *testing.T) {
	reg := NewRegistry(testLogger())
	var removed []string
	reg.SetRemovalHook(func(ep *Endpoint) {
		removed = append(removed, ep.ID)
	})

	survivor := reg.UpsertEndpoint("billing", "10.0.0.1", 8080)
	survivor.SetHealthy(false)
	reg.UpsertEndpoint("billing", "10.0.0.2", 8080)

	reg.SetEndpoints("billing", []Address{
		{Host: "10.0.0.1", Port: 8080},
		{Host: "10.0.0.9", Port: 8080},
	})

	got := ids(reg.Lookup("billing"))
	want := []string{"10.0.0.1:8080", "10.0.0.9:8080"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("endpoint[%d] = %s, want %s", i, got[i], want[i])
		}
	}
	if reg.Lookup("billing")[0] != survivor {
		t.Error("resync replaced a surviving endpoint instead of keeping it")
	}
	if survivor.Healthy() {
		t.Error("surviving endpoint lost its health state across resync")
	}
	if len(removed) != 1 || removed[0] != "10.0.0.2:8080" {
		t.Errorf("removal hook saw %v, want [10.0.0.2:8080]", removed)
	}
}

func TestSetEndpointsCreatesService(t *testing.T) {
	reg := NewRegistry(testLogger())

	reg.SetEndpoints("search", []Address{{Host: "10.1.0.1", Port: 9200}})

	if len(reg.Lookup("search")) != 1 {
		t.Fatal("resync of an unknown service should create it")
	}
	spec, ok := reg.HealthCheck("search")
	if !ok {
		t.Fatal("HealthCheck returned no spec for auto-created service")
	}
	if spec.Interval != 10*time.Second {
		t.Errorf("auto-created service interval = %v, want default 10s", spec.Interval)
	}
}

func TestLookupReturnsSnapshotCopy(t *testing.T) {
	reg := NewRegistry(testLogger())
	reg.UpsertEndpoint("billing", "10.0.0.1", 8080)
	reg.UpsertEndpoint("billing", "10.0.0.2", 8080)

	snapshot := reg.Lookup("billing")
	reg.RemoveEndpoint("billing", "10.0.0.2", 8080)
	reg.UpsertEndpoint("billing", "10.0.0.7", 8080)

	if len(snapshot) != 2 {
		t.Fatalf("snapshot length changed after mutation: %d", len(snapshot))
	}
	if snapshot[1].ID != "10.0.0.2:8080" {
		t.Errorf("snapshot[1] = %s, want the endpoint present at lookup time", snapshot[1].ID)
	}
}

func TestRegisterServiceAppliesSpecDefaults(t *testing.T) {
	reg := NewRegistry(testLogger())
	reg.RegisterService("billing", HealthCheckSpec{HTTPPath: "/status", Interval: 2 * time.Second})

	spec, ok := reg.HealthCheck("billing")
	if !ok {
		t.Fatal("HealthCheck returned no spec")
	}
	if spec.HTTPPath != "/status" {
		t.Errorf("HTTPPath = %s, want /status", spec.HTTPPath)
	}
	if spec.Interval != 2*time.Second {
		t.Errorf("Interval = %v, want 2s", spec.Interval)
	}
	if spec.UnhealthyThreshold != 3 || spec.HealthyThreshold != 2 {
		t.Errorf("thresholds = %d/%d, want defaults 3/2",
			spec.UnhealthyThreshold, spec.HealthyThreshold)
	}
}

func TestRegisterServiceKeepsEndpoints(t *testing.T) {
	reg := NewRegistry(testLogger())
	reg.UpsertEndpoint("billing", "10.0.0.1", 8080)
	reg.RegisterService("billing", HealthCheckSpec{Interval: time.Second})

	if len(reg.Lookup("billing")) != 1 {
		t.Error("RegisterService dropped existing endpoints")
	}
}

func TestSetHealthyReportsTransitions(t *testing.T) {
	reg := NewRegistry(testLogger())
	ep := reg.UpsertEndpoint("billing", "10.0.0.1", 8080)

	if !ep.Healthy() {
		t.Fatal("new endpoints should start healthy")
	}
	if !ep.SetHealthy(false) {
		t.Error("healthy → unhealthy should report a change")
	}
	if ep.SetHealthy(false) {
		t.Error("unhealthy → unhealthy should not report a change")
	}
	if !ep.SetHealthy(true) {
		t.Error("unhealthy → healthy should report a change")
	}
}

func TestProbeStreaksResetEachOther(t *testing.T) {
	reg := NewRegistry(testLogger())
	ep := reg.UpsertEndpoint("billing", "10.0.0.1", 8080)

	if got := ep.RecordFailure(); got != 1 {
		t.Errorf("first failure streak = %d, want 1", got)
	}
	if got := ep.RecordFailure(); got != 2 {
		t.Errorf("second failure streak = %d, want 2", got)
	}
	if got := ep.RecordSuccess(); got != 1 {
		t.Errorf("success after failures = %d, want streak reset to 1", got)
	}
	if got := ep.RecordFailure(); got != 1 {
		t.Errorf("failure after success = %d, want streak reset to 1", got)
	}
}

func TestBeginProbeExcludesOverlap(t *testing.T) {
	reg := NewRegistry(testLogger())
	ep := reg.UpsertEndpoint("billing", "10.0.0.1", 8080)

	if !ep.BeginProbe() {
		t.Fatal("first BeginProbe should succeed")
	}
	if ep.BeginProbe() {
		t.Error("overlapping BeginProbe should be rejected")
	}
	ep.EndProbe()
	if !ep.BeginProbe() {
		t.Error("BeginProbe after EndProbe should succeed")
	}
}

// Concurrent connection bookkeeping must balance back to zero, and
// structural reads must not race with it.
func TestConnectionCountersBalanceUnderConcurrency(t *testing.T) {
	reg := NewRegistry(testLogger())
	for i := 0; i < 4; i++ {
		reg.UpsertEndpoint("billing", fmt.Sprintf("10.0.0.%d", i+1), 8080)
	}

	const workers = 16
	const perWorker = 500

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				eps := reg.Lookup("billing")
				ep := eps[(w+i)%len(eps)]
				ep.IncActive()
				ep.DecActive()
			}
		}(w)
	}
	wg.Wait()

	for _, ep := range reg.Lookup("billing") {
		if n := ep.ActiveConnections(); n != 0 {
			t.Errorf("endpoint %s ActiveConnections = %d, want 0", ep.ID, n)
		}
	}
}
