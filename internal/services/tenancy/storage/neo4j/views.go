package neo4j

import (
	"context"
	"errors"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/louisbranch/tenantledger/internal/services/tenancy/query"
	"github.com/louisbranch/tenantledger/internal/services/tenancy/storage"
)

// Begin implements storage.DataViewStore. The transaction stays bound to ctx.
func (v *Views) Begin(ctx context.Context) (storage.DataViewTx, error) {
	if v == nil || v.driver == nil {
		return nil, fmt.Errorf("view store is not configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, storage.Unavailable("begin view transaction", err)
	}
	session := v.session(ctx, neo4j.AccessModeWrite)
	tx, err := session.BeginTransaction(ctx)
	if err != nil {
		_ = session.Close(ctx)
		return nil, classify("begin view transaction", err)
	}
	return &viewTx{ctx: ctx, session: session, tx: tx}, nil
}

// LoadHistory implements storage.HistoryReader.
func (v *Views) LoadHistory(ctx context.Context, nodeType, originID string) ([]query.DataView, error) {
	if v == nil || v.driver == nil {
		return nil, fmt.Errorf("view store is not configured")
	}
	session := v.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	res, err := session.Run(ctx, historyCypher, map[string]any{"node_type": nodeType, "origin_id": originID})
	if err != nil {
		return nil, classify("load view history", err)
	}
	var views []query.DataView
	for res.Next(ctx) {
		view, err := viewFromRecord(res.Record(), "v")
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	if err := res.Err(); err != nil {
		return nil, classify("load view history", err)
	}
	return views, nil
}

func viewFromRecord(record *neo4j.Record, key string) (query.DataView, error) {
	value, ok := record.Get(key)
	if !ok {
		return query.DataView{}, fmt.Errorf("record has no %s", key)
	}
	node, ok := value.(neo4j.Node)
	if !ok {
		return query.DataView{}, fmt.Errorf("record %s is %T, not a node", key, value)
	}
	return viewFromProps(node.Props)
}

type viewTx struct {
	ctx     context.Context
	session neo4j.SessionWithContext
	tx      neo4j.ExplicitTransaction
	done    bool
}

func (t *viewTx) findOne(ctx context.Context, operation, cypher string, params map[string]any) (query.DataView, error) {
	res, err := t.tx.Run(ctx, cypher, params)
	if err != nil {
		return query.DataView{}, classify(operation, err)
	}
	if !res.Next(ctx) {
		if err := res.Err(); err != nil {
			return query.DataView{}, classify(operation, err)
		}
		return query.DataView{}, storage.ErrNotFound
	}
	view, err := viewFromRecord(res.Record(), "n")
	if err != nil {
		return query.DataView{}, err
	}
	_, _ = res.Consume(ctx)
	return view, nil
}

func (t *viewTx) FindByOriginID(ctx context.Context, nodeType, originID string) (query.DataView, error) {
	label, err := nodeLabel(nodeType)
	if err != nil {
		return query.DataView{}, err
	}
	return t.findOne(ctx, "find view", findByOriginCypher(label), map[string]any{"origin_id": originID})
}

func (t *viewTx) FindByLabel(ctx context.Context, nodeType, viewLabel string) (query.DataView, error) {
	label, err := nodeLabel(nodeType)
	if err != nil {
		return query.DataView{}, err
	}
	if err := t.lockLabel(ctx, nodeType, viewLabel); err != nil {
		return query.DataView{}, err
	}
	return t.findOne(ctx, "find view by label", findByLabelCypher(label), map[string]any{"label": viewLabel})
}

// lockLabel holds the label lock for the rest of the transaction, so the
// label check that follows cannot race another writer.
func (t *viewTx) lockLabel(ctx context.Context, nodeType, viewLabel string) error {
	res, err := t.tx.Run(ctx, lockLabelCypher, map[string]any{"node_type": nodeType, "label": viewLabel})
	if err == nil {
		_, err = res.Consume(ctx)
	}
	if err != nil {
		return classify("lock view label", err)
	}
	return nil
}

func (t *viewTx) Insert(ctx context.Context, view query.DataView) error {
	if err := view.Validate(); err != nil {
		return err
	}
	label, err := nodeLabel(view.NodeType)
	if err != nil {
		return err
	}
	if _, err := t.FindByOriginID(ctx, view.NodeType, view.OriginID); err == nil {
		return storage.ErrAlreadyExists
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	res, err := t.tx.Run(ctx, insertCypher(label), map[string]any{"view": viewProps(view)})
	if err == nil {
		_, err = res.Consume(ctx)
	}
	if err != nil {
		if isConstraintError(err) {
			return storage.ErrAlreadyExists
		}
		return classify("insert view", err)
	}
	return nil
}

func (t *viewTx) MergeUpdate(ctx context.Context, selector query.Selector, patch query.Patch) error {
	label, err := nodeLabel(selector.NodeType)
	if err != nil {
		return err
	}
	res, err := t.tx.Run(ctx, mergeUpdateCypher(label), map[string]any{
		"origin_id": selector.OriginID,
		"patch":     patchProps(patch),
	})
	if err != nil {
		return classify("update view", err)
	}
	record, err := res.Single(ctx)
	if err != nil {
		return classify("update view", err)
	}
	matched, _ := record.Get("matched")
	if count, _ := matched.(int64); count == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (t *viewTx) Commit() error {
	if t.done {
		return fmt.Errorf("view transaction already finished")
	}
	t.done = true
	defer t.session.Close(t.ctx)
	return classify("commit view transaction", t.tx.Commit(t.ctx))
}

func (t *viewTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	defer t.session.Close(t.ctx)
	if err := t.tx.Rollback(t.ctx); err != nil {
		return fmt.Errorf("rollback view transaction: %w", err)
	}
	return nil
}
