package neo4j

import (
	"fmt"
	"regexp"
	"time"

	"github.com/louisbranch/tenantledger/internal/services/tenancy/query"
)

var labelPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// nodeLabel returns nodeType as a Cypher label. Labels cannot be
// parameterized, so anything outside the identifier alphabet is rejected.
func nodeLabel(nodeType string) (string, error) {
	if !labelPattern.MatchString(nodeType) {
		return "", fmt.Errorf("node type %q is not a valid label", nodeType)
	}
	return nodeType, nil
}

func findByOriginCypher(label string) string {
	return fmt.Sprintf(`MATCH (n:DataView:%s {origin_id: $origin_id}) RETURN n LIMIT 1`, label)
}

func findByLabelCypher(label string) string {
	return fmt.Sprintf(`MATCH (n:DataView:%s {label: $label})
RETURN n ORDER BY n.updated_at DESC, n.commit_version DESC LIMIT 1`, label)
}

// lockLabelCypher write-locks one (node_type, label) pair until the
// transaction ends. Concurrent claims of the same label queue on it.
const lockLabelCypher = `MERGE (l:DataViewLabel {node_type: $node_type, label: $label})
SET l.locked_at = timestamp()`

func insertCypher(label string) string {
	return fmt.Sprintf(`CREATE (n:DataView:%s)
SET n = $view
CREATE (v:DataViewVersion)
SET v = $view
CREATE (v)-[:VERSION_OF]->(n)`, label)
}

func mergeUpdateCypher(label string) string {
	return fmt.Sprintf(`MATCH (n:DataView:%s {origin_id: $origin_id})
SET n += $patch
WITH n
MERGE (v:DataViewVersion {node_type: n.node_type, origin_id: n.origin_id, commit_version: n.commit_version})
SET v = properties(n)
MERGE (v)-[:VERSION_OF]->(n)
RETURN count(n) AS matched`, label)
}

const historyCypher = `MATCH (v:DataViewVersion {node_type: $node_type, origin_id: $origin_id})
RETURN v ORDER BY v.commit_version`

func viewProps(view query.DataView) map[string]any {
	return map[string]any{
		"node_type":      view.NodeType,
		"origin_id":      view.OriginID,
		"label":          view.Label,
		"active":         view.Active,
		"created_at":     view.CreatedAt.UTC().UnixMilli(),
		"updated_at":     view.UpdatedAt.UTC().UnixMilli(),
		"commit_version": int64(view.CommitVersion),
	}
}

func patchProps(patch query.Patch) map[string]any {
	props := map[string]any{}
	if patch.Label != nil {
		props["label"] = *patch.Label
	}
	if patch.Active != nil {
		props["active"] = *patch.Active
	}
	if patch.UpdatedAt != nil {
		props["updated_at"] = patch.UpdatedAt.UTC().UnixMilli()
	}
	if patch.CommitVersion != nil {
		props["commit_version"] = int64(*patch.CommitVersion)
	}
	return props
}

func viewFromProps(props map[string]any) (query.DataView, error) {
	var view query.DataView
	var ok bool
	if view.NodeType, ok = props["node_type"].(string); !ok {
		return query.DataView{}, fmt.Errorf("data view node_type missing")
	}
	if view.OriginID, ok = props["origin_id"].(string); !ok {
		return query.DataView{}, fmt.Errorf("data view origin_id missing")
	}
	view.Label, _ = props["label"].(string)
	view.Active, _ = props["active"].(bool)
	created, _ := props["created_at"].(int64)
	updated, _ := props["updated_at"].(int64)
	version, _ := props["commit_version"].(int64)
	view.CreatedAt = time.UnixMilli(created).UTC()
	view.UpdatedAt = time.UnixMilli(updated).UTC()
	view.CommitVersion = uint64(version)
	return view, nil
}
