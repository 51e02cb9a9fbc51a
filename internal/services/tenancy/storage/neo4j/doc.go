// Package neo4j stores tenancy data views as graph nodes. Each current view
// is a (:DataView:<NodeType>) node keyed by origin_id, and every committed
// version is kept as a (:DataViewVersion) node linked to it.
package neo4j
