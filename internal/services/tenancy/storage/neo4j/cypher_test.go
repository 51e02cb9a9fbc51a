package neo4j

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/louisbranch/tenantledger/internal/services/tenancy/query"
	"github.com/louisbranch/tenantledger/internal/services/tenancy/storage"
)

func TestNodeLabel(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{in: "Tenant"},
		{in: "Tenant_2"},
		{in: "", wantErr: true},
		{in: "2Tenant", wantErr: true},
		{in: "Tenant) DETACH DELETE (n", wantErr: true},
		{in: "Ten ant", wantErr: true},
	}
	for _, tt := range tests {
		_, err := nodeLabel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("nodeLabel(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
	}
}

func TestViewPropsRoundTrip(t *testing.T) {
	view := query.DataView{
		NodeType:      "Tenant",
		OriginID:      "t-1",
		Label:         "Acme",
		Active:        true,
		CreatedAt:     time.Date(2026, 2, 3, 12, 0, 0, 0, time.UTC),
		UpdatedAt:     time.Date(2026, 2, 3, 12, 5, 0, 0, time.UTC),
		CommitVersion: 7,
	}
	got, err := viewFromProps(viewProps(view))
	if err != nil {
		t.Fatalf("viewFromProps: %v", err)
	}
	if !got.Equal(view) {
		t.Fatalf("view = %+v, want %+v", got, view)
	}
	if _, err := viewFromProps(map[string]any{"label": "x"}); err == nil {
		t.Fatal("expected error for props without keys")
	}
}

func TestPatchPropsOnlySetsGivenFields(t *testing.T) {
	label := "Acme"
	props := patchProps(query.Patch{Label: &label})
	if len(props) != 1 || props["label"] != "Acme" {
		t.Fatalf("props = %v", props)
	}
	version := uint64(3)
	props = patchProps(query.Patch{CommitVersion: &version})
	if props["commit_version"] != int64(3) {
		t.Fatalf("commit_version = %v", props["commit_version"])
	}
}

func TestCypherUsesValidatedLabel(t *testing.T) {
	if got := findByOriginCypher("Tenant"); !strings.Contains(got, "(n:DataView:Tenant {origin_id: $origin_id})") {
		t.Fatalf("cypher = %s", got)
	}
	if got := mergeUpdateCypher("Tenant"); !strings.Contains(got, "SET n += $patch") {
		t.Fatalf("cypher = %s", got)
	}
}

func TestLabelLockTakesWriteLock(t *testing.T) {
	if !strings.HasPrefix(lockLabelCypher, "MERGE (l:DataViewLabel {node_type: $node_type, label: $label})") {
		t.Fatalf("lock cypher = %s", lockLabelCypher)
	}
	if !strings.Contains(lockLabelCypher, "SET l.locked_at") {
		t.Fatalf("lock cypher must write to the label node: %s", lockLabelCypher)
	}
	found := false
	for _, stmt := range schemaStatements {
		if strings.Contains(stmt, "FOR (l:DataViewLabel) REQUIRE (l.node_type, l.label) IS UNIQUE") {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a uniqueness constraint on label locks")
	}
}

func TestClassify(t *testing.T) {
	if err := classify("op", context.DeadlineExceeded); !errors.Is(err, storage.ErrStoreUnavailable) {
		t.Fatalf("err = %v, want store unavailable", err)
	}
	if err := classify("op", &neo4j.Neo4jError{Code: constraintViolation}); errors.Is(err, storage.ErrStoreUnavailable) {
		t.Fatal("expected constraint violation not to be retryable")
	}
	if !isConstraintError(&neo4j.Neo4jError{Code: constraintViolation}) {
		t.Fatal("expected constraint violation to be recognized")
	}
}

func TestOpenRequiresURI(t *testing.T) {
	if _, err := Open(context.Background(), Config{}, nil); err == nil {
		t.Fatal("expected error for missing uri")
	}
}
