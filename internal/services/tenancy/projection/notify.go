package projection

import (
	"context"
	"sync"

	"github.com/louisbranch/tenantledger/internal/platform/logging"
	"github.com/louisbranch/tenantledger/internal/services/tenancy/query"
)

// NotificationKind names a data view change.
type NotificationKind string

const (
	DataViewAdded   NotificationKind = "DATAVIEW_ADDED"
	DataViewChanged NotificationKind = "DATAVIEW_CHANGED"
)

// Notification is emitted after a data view transaction commits.
type Notification struct {
	Kind    NotificationKind
	EventID string
	View    query.DataView
	// Fields lists the patched fields of a change.
	Fields []string
}

// Notifier receives committed data view changes.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Notification) {}

// Recorder keeps notifications in memory.
type Recorder struct {
	mu    sync.Mutex
	items []Notification
}

// Notify implements Notifier.
func (r *Recorder) Notify(_ context.Context, n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, n)
}

// Notifications returns what was recorded so far.
func (r *Recorder) Notifications() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.items...)
}

// LogNotifier writes notifications to a logger.
type LogNotifier struct {
	Logger *logging.Logger
}

// Notify implements Notifier.
func (l LogNotifier) Notify(_ context.Context, n Notification) {
	logging.OrNop(l.Logger).Info("data view notification",
		"kind", string(n.Kind),
		"event_id", n.EventID,
		"node_type", n.View.NodeType,
		"origin_id", n.View.OriginID,
		"label", n.View.Label,
		"active", n.View.Active,
		"fields", n.Fields,
	)
}
