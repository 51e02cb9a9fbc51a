package tenant

import (
	"testing"
	"time"

	"github.com/louisbranch/tenantledger/internal/services/tenancy/domain/aggregate"
	"github.com/louisbranch/tenantledger/internal/services/tenancy/domain/event"
	"github.com/louisbranch/tenantledger/internal/services/tenancy/domain/identity"
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

func fixedClock() func() time.Time {
	now := time.Date(2026, 2, 3, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		now = now.Add(time.Second)
		return now
	}
}

func TestNewTenantRecordsCreationAndLabel(t *testing.T) {
	tn, err := New(Schema(fixedClock()), testOrg(t), "Acme", identity.Identifier{Name: "tenant_ref", Value: "acme"})
	if err != nil {
		t.Fatalf("new tenant: %v", err)
	}
	pending := tn.PendingChanges()
	if len(pending) != 3 {
		t.Fatalf("expected created + label + active events, got %d", len(pending))
	}
	if pending[0].Kind != event.KindCreated || pending[1].Kind != event.KindChanged {
		t.Fatalf("unexpected kinds %s, %s", pending[0].Kind, pending[1].Kind)
	}
	if tn.Label() != "Acme" || tn.Active() {
		t.Fatalf("expected inactive Acme, got %q active=%v", tn.Label(), tn.Active())
	}
}

func TestTenantRejectsEmptyLabel(t *testing.T) {
	if _, err := New(Schema(nil), testOrg(t), "  "); err == nil {
		t.Fatal("expected empty label error")
	}
}

func TestActivateDeactivate(t *testing.T) {
	tn, _ := New(Schema(fixedClock()), testOrg(t), "Acme")
	if err := tn.Activate(); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if !tn.Active() {
		t.Fatal("expected active")
	}
	before := len(tn.PendingChanges())
	_ = tn.Activate()
	if len(tn.PendingChanges()) != before {
		t.Fatal("expected repeated activate to be a no-op")
	}
	_ = tn.Deactivate()
	if tn.Active() {
		t.Fatal("expected inactive")
	}
	_ = tn.Rename(" Acme Corp ")
	if tn.Label() != "Acme Corp" {
		t.Fatalf("expected trimmed label, got %q", tn.Label())
	}
}

func TestDataView(t *testing.T) {
	tn, _ := New(Schema(fixedClock()), testOrg(t), "Acme")
	_ = tn.Activate()
	view, err := DataView(tn.Root)
	if err != nil {
		t.Fatalf("data view: %v", err)
	}
	if view.NodeType != NodeType || view.OriginID != tn.ID() || view.Label != "Acme" || !view.Active {
		t.Fatalf("unexpected view %+v", view)
	}
	if !view.UpdatedAt.Equal(tn.UpdatedAt()) || !view.CreatedAt.Equal(tn.CreatedAt()) {
		t.Fatalf("unexpected view dates %+v", view)
	}
}

func TestFromRejectsOtherTypes(t *testing.T) {
	other := Schema(nil)
	other.Type = "account"
	root, err := aggregate.Create(other, testOrg(t))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := From(root); err == nil {
		t.Fatal("expected type mismatch error")
	}
	if _, err := DataView(nil); err == nil {
		t.Fatal("expected nil root error")
	}
}
