package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/louisbranch/tenantledger/internal/services/tenancy/query"
	"github.com/louisbranch/tenantledger/internal/services/tenancy/storage"
)

const viewColumns = `node_type, origin_id, label, active, created_at, updated_at, commit_version`

// Begin implements storage.DataViewStore.
func (s *Store) Begin(ctx context.Context) (storage.DataViewTx, error) {
	if err := s.ready(ctx, "begin view transaction"); err != nil {
		return nil, err
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify("begin view transaction", err)
	}
	return &viewTx{tx: tx}, nil
}

// LoadHistory implements storage.HistoryReader.
func (s *Store) LoadHistory(ctx context.Context, nodeType, originID string) ([]query.DataView, error) {
	if err := s.ready(ctx, "load view history"); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT `+viewColumns+` FROM data_view_versions
WHERE node_type = ? AND origin_id = ?
ORDER BY commit_version`, nodeType, originID)
	if err != nil {
		return nil, classify("load view history", err)
	}
	defer rows.Close()

	var views []query.DataView
	for rows.Next() {
		view, err := scanView(rows)
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("load view history", err)
	}
	return views, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanView(row rowScanner) (query.DataView, error) {
	var (
		view                 query.DataView
		active               int
		createdAt, updatedAt int64
	)
	if err := row.Scan(&view.NodeType, &view.OriginID, &view.Label, &active, &createdAt, &updatedAt, &view.CommitVersion); err != nil {
		return query.DataView{}, err
	}
	view.Active = active != 0
	view.CreatedAt = fromMillis(createdAt)
	view.UpdatedAt = fromMillis(updatedAt)
	return view, nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

type viewTx struct {
	tx        *sql.Tx
	committed bool
}

func (t *viewTx) find(ctx context.Context, operation, where string, args ...any) (query.DataView, error) {
	if err := ctx.Err(); err != nil {
		return query.DataView{}, storage.Unavailable(operation, err)
	}
	view, err := scanView(t.tx.QueryRowContext(ctx, `SELECT `+viewColumns+` FROM data_views WHERE `+where, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return query.DataView{}, storage.ErrNotFound
		}
		return query.DataView{}, classify(operation, err)
	}
	return view, nil
}

func (t *viewTx) FindByOriginID(ctx context.Context, nodeType, originID string) (query.DataView, error) {
	return t.find(ctx, "find view", `node_type = ? AND origin_id = ?`, nodeType, originID)
}

func (t *viewTx) FindByLabel(ctx context.Context, nodeType, label string) (query.DataView, error) {
	return t.find(ctx, "find view by label",
		`node_type = ? AND label = ? ORDER BY updated_at DESC, commit_version DESC LIMIT 1`, nodeType, label)
}

func (t *viewTx) Insert(ctx context.Context, view query.DataView) error {
	if err := view.Validate(); err != nil {
		return err
	}
	_, err := t.tx.ExecContext(ctx, `INSERT INTO data_views (`+viewColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		view.NodeType, view.OriginID, view.Label, boolToInt(view.Active),
		toMillis(view.CreatedAt), toMillis(view.UpdatedAt), view.CommitVersion)
	if err != nil {
		if isConstraintError(err) {
			return storage.ErrAlreadyExists
		}
		return classify("insert view", err)
	}
	return t.recordVersion(ctx, view)
}

func (t *viewTx) MergeUpdate(ctx context.Context, selector query.Selector, patch query.Patch) error {
	current, err := t.FindByOriginID(ctx, selector.NodeType, selector.OriginID)
	if err != nil {
		return err
	}
	if patch.IsEmpty() {
		return nil
	}
	next := patch.Apply(current)
	_, err = t.tx.ExecContext(ctx, `
UPDATE data_views SET label = ?, active = ?, updated_at = ?, commit_version = ?
WHERE node_type = ? AND origin_id = ?`,
		next.Label, boolToInt(next.Active), toMillis(next.UpdatedAt), next.CommitVersion,
		selector.NodeType, selector.OriginID)
	if err != nil {
		return classify("update view", err)
	}
	return t.recordVersion(ctx, next)
}

func (t *viewTx) recordVersion(ctx context.Context, view query.DataView) error {
	_, err := t.tx.ExecContext(ctx, `INSERT OR REPLACE INTO data_view_versions (`+viewColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		view.NodeType, view.OriginID, view.Label, boolToInt(view.Active),
		toMillis(view.CreatedAt), toMillis(view.UpdatedAt), view.CommitVersion)
	if err != nil {
		return classify("record view version", err)
	}
	return nil
}

func (t *viewTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return classify("commit view transaction", err)
	}
	t.committed = true
	return nil
}

func (t *viewTx) Rollback() error {
	if t.committed {
		return nil
	}
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback view transaction: %w", err)
	}
	return nil
}
