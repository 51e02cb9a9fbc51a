package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/louisbranch/tenantledger/internal/services/tenancy/query"
	"github.com/louisbranch/tenantledger/internal/services/tenancy/storage"
)

// Views stores data views in memory. Transactions are serialized: a
// transaction holds the store until it commits or rolls back.
type Views struct {
	sem     chan struct{}
	mu      sync.RWMutex
	current map[query.Selector]query.DataView
	history map[query.Selector][]query.DataView
}

// NewViews creates an empty view store.
func NewViews() *Views {
	return &Views{
		sem:     make(chan struct{}, 1),
		current: make(map[query.Selector]query.DataView),
		history: make(map[query.Selector][]query.DataView),
	}
}

// Begin implements storage.DataViewStore. It blocks while another
// transaction is open, until ctx is done.
func (v *Views) Begin(ctx context.Context) (storage.DataViewTx, error) {
	if v == nil {
		return nil, errors.New("view store is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case v.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, storage.Unavailable("begin view transaction", ctx.Err())
	}
	return &viewTx{store: v, staged: make(map[query.Selector]query.DataView)}, nil
}

// LoadHistory implements storage.HistoryReader.
func (v *Views) LoadHistory(ctx context.Context, nodeType, originID string) ([]query.DataView, error) {
	if err := checkContext(ctx, "load view history"); err != nil {
		return nil, err
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]query.DataView(nil), v.history[query.Selector{NodeType: nodeType, OriginID: originID}]...), nil
}

// All returns every current view, for tests and diagnostics.
func (v *Views) All() []query.DataView {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]query.DataView, 0, len(v.current))
	for _, view := range v.current {
		out = append(out, view)
	}
	return out
}

type viewTx struct {
	store  *Views
	staged map[query.Selector]query.DataView
	order  []query.Selector
	done   bool
}

func (tx *viewTx) lookup(sel query.Selector) (query.DataView, bool) {
	if view, ok := tx.staged[sel]; ok {
		return view, true
	}
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	view, ok := tx.store.current[sel]
	return view, ok
}

func (tx *viewTx) stage(view query.DataView) {
	sel := view.Selector()
	if _, ok := tx.staged[sel]; !ok {
		tx.order = append(tx.order, sel)
	}
	tx.staged[sel] = view
}

var errTxDone = errors.New("view transaction already finished")

func (tx *viewTx) FindByOriginID(ctx context.Context, nodeType, originID string) (query.DataView, error) {
	if tx.done {
		return query.DataView{}, errTxDone
	}
	if err := checkContext(ctx, "find view"); err != nil {
		return query.DataView{}, err
	}
	view, ok := tx.lookup(query.Selector{NodeType: nodeType, OriginID: originID})
	if !ok {
		return query.DataView{}, storage.ErrNotFound
	}
	return view, nil
}

func (tx *viewTx) FindByLabel(ctx context.Context, nodeType, label string) (query.DataView, error) {
	if tx.done {
		return query.DataView{}, errTxDone
	}
	if err := checkContext(ctx, "find view"); err != nil {
		return query.DataView{}, err
	}
	var (
		best  query.DataView
		found bool
	)
	consider := func(view query.DataView) {
		if view.NodeType != nodeType || view.Label != label {
			return
		}
		if !found || view.UpdatedAt.After(best.UpdatedAt) {
			best, found = view, true
		}
	}
	tx.store.mu.RLock()
	for sel, view := range tx.store.current {
		if _, shadowed := tx.staged[sel]; !shadowed {
			consider(view)
		}
	}
	tx.store.mu.RUnlock()
	for _, view := range tx.staged {
		consider(view)
	}
	if !found {
		return query.DataView{}, storage.ErrNotFound
	}
	return best, nil
}

func (tx *viewTx) Insert(ctx context.Context, view query.DataView) error {
	if tx.done {
		return errTxDone
	}
	if err := view.Validate(); err != nil {
		return err
	}
	if err := checkContext(ctx, "insert view"); err != nil {
		return err
	}
	if _, ok := tx.lookup(view.Selector()); ok {
		return storage.ErrAlreadyExists
	}
	tx.stage(view)
	return nil
}

func (tx *viewTx) MergeUpdate(ctx context.Context, selector query.Selector, patch query.Patch) error {
	if tx.done {
		return errTxDone
	}
	if err := checkContext(ctx, "update view"); err != nil {
		return err
	}
	view, ok := tx.lookup(selector)
	if !ok {
		return storage.ErrNotFound
	}
	tx.stage(patch.Apply(view))
	return nil
}

func (tx *viewTx) Commit() error {
	if tx.done {
		return errTxDone
	}
	tx.done = true
	defer func() { <-tx.store.sem }()

	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	for _, sel := range tx.order {
		view := tx.staged[sel]
		tx.store.current[sel] = view
		tx.store.history[sel] = append(tx.store.history[sel], view)
	}
	return nil
}

func (tx *viewTx) Rollback() error {
	if tx.done {
		return nil
	}
	tx.done = true
	<-tx.store.sem
	return nil
}
