package app

import (
	"context"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/louisbranch/tenantledger/internal/services/tenancy/domain/identity"
	"github.com/louisbranch/tenantledger/internal/services/tenancy/domain/tenant"
	"github.com/louisbranch/tenantledger/internal/services/tenancy/eventstore"
	"github.com/louisbranch/tenantledger/internal/services/tenancy/projection"
	"github.com/louisbranch/tenantledger/internal/services/tenancy/query"
	"github.com/louisbranch/tenantledger/internal/services/tenancy/storage/memory"
)

func testOrg(t *testing.T) identity.Entity {
	t.Helper()
	base, err := identity.NewBase(
		identity.MustIdentifierSet(identity.Identifier{Name: "org_id", Value: "o-1"}),
		time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	)
	if err != nil {
		t.Fatalf("new base: %v", err)
	}
	return base
}

func openRuntime(t *testing.T, cfg RuntimeConfig) *Runtime {
	t.Helper()
	rt, err := Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close(context.Background()) })
	return rt
}

func createTenant(t *testing.T, rt *Runtime, ref, label string) *tenant.Tenant {
	t.Helper()
	tn, err := tenant.New(rt.Events.Schema(), testOrg(t), label, identity.Identifier{Name: "tenant_ref", Value: ref})
	if err != nil {
		t.Fatalf("new tenant: %v", err)
	}
	if err := rt.Events.Append(context.Background(), tn.Root); err != nil {
		t.Fatalf("append: %v", err)
	}
	return tn
}

func findView(t *testing.T, rt *Runtime, originID string) (query.DataView, error) {
	t.Helper()
	tx, err := rt.Views.Begin(context.Background())
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	return tx.FindByOriginID(context.Background(), tenant.NodeType, originID)
}

func TestMemoryRuntimeProjectsAppends(t *testing.T) {
	rt := openRuntime(t, RuntimeConfig{SnapshotBackend: BackendMemory})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := rt.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	acme := createTenant(t, rt, "acme", "Acme")
	view, err := findView(t, rt, acme.ID())
	if err != nil {
		t.Fatalf("find view: %v", err)
	}
	if view.Label != "Acme" || view.Active {
		t.Fatalf("unexpected view %+v", view)
	}

	if err := acme.Activate(); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if err := rt.Events.Append(context.Background(), acme.Root); err != nil {
		t.Fatalf("append: %v", err)
	}
	view, err = findView(t, rt, acme.ID())
	if err != nil {
		t.Fatalf("find view: %v", err)
	}
	if !view.Active || view.CommitVersion != acme.Version() {
		t.Fatalf("expected active view at version %d, got %+v", acme.Version(), view)
	}
}

func TestAsyncBusDrainsOnClose(t *testing.T) {
	rt, err := Open(context.Background(), RuntimeConfig{Workers: 4, QueueSize: 16})
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	if err := rt.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	for _, ref := range []string{"a", "b", "c"} {
		createTenant(t, rt, ref, "Tenant "+ref)
	}
	views := rt.Views.(*memory.Views)
	if err := rt.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if n := len(views.All()); n != 3 {
		t.Fatalf("expected three views after drain, got %d", n)
	}
	if err := rt.Close(context.Background()); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestSQLiteRuntimeCatchupRebuildsViews(t *testing.T) {
	dir := t.TempDir()
	cfg := RuntimeConfig{
		EventsDBPath:    filepath.Join(dir, "data", "events.db"),
		ViewsBackend:    BackendSQLite,
		ViewsDBPath:     filepath.Join(dir, "data", "views.db"),
		SnapshotBackend: BackendBadger,
		BadgerPath:      filepath.Join(dir, "snapshots"),
	}
	first, err := Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	acme := createTenant(t, first, "acme", "Acme")
	createTenant(t, first, "beta", "Beta")
	if err := first.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	cfg.ViewsDBPath = filepath.Join(dir, "data", "rebuilt.db")
	second := openRuntime(t, cfg)
	if _, err := findView(t, second, acme.ID()); err == nil {
		t.Fatal("fresh views database should be empty")
	}
	report, err := second.Catchup(context.Background())
	if err != nil {
		t.Fatalf("catchup: %v", err)
	}
	if report.Streams != 2 || report.Outcomes[projection.OutcomeInserted] != 2 {
		t.Fatalf("unexpected report %+v", report)
	}
	view, err := findView(t, second, acme.ID())
	if err != nil {
		t.Fatalf("find view: %v", err)
	}
	if view.Label != "Acme" || view.CommitVersion != 3 {
		t.Fatalf("unexpected rebuilt view %+v", view)
	}

	loaded, err := second.Events.FindByIdentity(context.Background(), acme.OriginID())
	if err != nil || loaded == nil {
		t.Fatalf("reload: %v", err)
	}
	if loaded.Attribute(tenant.AttributeLabel) != "Acme" {
		t.Fatalf("unexpected label %q", loaded.Attribute(tenant.AttributeLabel))
	}
}

func TestSQLiteSnapshotsShareEventsDatabase(t *testing.T) {
	rt := openRuntime(t, RuntimeConfig{
		EventsDBPath:    filepath.Join(t.TempDir(), "events.db"),
		SnapshotBackend: BackendSQLite,
	})
	acme := createTenant(t, rt, "acme", "Acme")
	rt.Events.Wait()
	loaded, err := rt.Events.FindByIdentity(context.Background(), acme.OriginID())
	if err != nil || loaded == nil || loaded.Version() != acme.Version() {
		t.Fatalf("reload: root=%v err=%v", loaded, err)
	}
}

func TestNormalizedKeepsZeroSnapshotThreshold(t *testing.T) {
	if got := (RuntimeConfig{SnapshotThreshold: 0}).normalized().SnapshotThreshold; got != 0 {
		t.Fatalf("threshold 0 normalized to %d", got)
	}
	if got := (RuntimeConfig{SnapshotThreshold: 3}).normalized().SnapshotThreshold; got != 3 {
		t.Fatalf("threshold 3 normalized to %d", got)
	}
	if got := (RuntimeConfig{SnapshotThreshold: -1}).normalized().SnapshotThreshold; got != eventstore.DefaultSnapshotThreshold {
		t.Fatalf("negative threshold normalized to %d, want default", got)
	}
}

func TestOpenRejectsBadConfiguration(t *testing.T) {
	cases := map[string]RuntimeConfig{
		"unknown views":              {ViewsBackend: "cassandra"},
		"sqlite views without path":  {ViewsBackend: BackendSQLite},
		"unknown snapshots":          {SnapshotBackend: "s3"},
		"sqlite snapshots in memory": {SnapshotBackend: BackendSQLite},
		"unknown bus":                {Bus: "kafka"},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			rt, err := Open(context.Background(), cfg)
			if err == nil {
				_ = rt.Close(context.Background())
				t.Fatal("expected configuration error")
			}
		})
	}
}

func TestStartRequiresOpenRuntime(t *testing.T) {
	var rt *Runtime
	if err := rt.Start(context.Background()); err == nil {
		t.Fatal("expected error for nil runtime")
	}
	if err := rt.Close(context.Background()); err != nil {
		t.Fatalf("nil close: %v", err)
	}
}

func TestMetricsServerServesRegistry(t *testing.T) {
	m, err := ServeMetrics("127.0.0.1:0", nil)
	if err != nil {
		t.Fatalf("serve metrics: %v", err)
	}
	defer m.Shutdown(context.Background())

	resp, err := http.Get("http://" + m.Addr() + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "go_goroutines") {
		t.Fatalf("unexpected metrics response %d", resp.StatusCode)
	}
}

func TestServeMetricsDisabled(t *testing.T) {
	m, err := ServeMetrics("  ", nil)
	if err != nil || m != nil {
		t.Fatalf("expected disabled server, got %v %v", m, err)
	}
	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatalf("nil shutdown: %v", err)
	}
}
