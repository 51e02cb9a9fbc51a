package projection

import (
	"context"
	"errors"
	"fmt"

	"github.com/louisbranch/tenantledger/internal/services/tenancy/domain/identity"
)

// StreamLister enumerates the stream ids of an event store.
type StreamLister interface {
	StreamIDs(ctx context.Context) ([]string, error)
}

// CatchupReport counts outcomes of a catch-up run.
type CatchupReport struct {
	Streams  int
	Outcomes map[Outcome]int
	Deleted  int
}

// Catchup rebuilds views for every stream in source, as if a CREATED event
// were replayed for each. Deleted aggregates are skipped. Errors on one
// stream do not stop the run; they are joined and returned with the report.
func (s *Synchronizer) Catchup(ctx context.Context, source StreamLister) (CatchupReport, error) {
	report := CatchupReport{Outcomes: map[Outcome]int{}}
	ids, err := source.StreamIDs(ctx)
	if err != nil {
		return report, fmt.Errorf("projection: list streams: %w", err)
	}

	var errs []error
	for _, streamID := range ids {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		report.Streams++
		outcome, deleted, err := s.catchupOne(ctx, streamID)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("stream %s: %w", streamID, err))
		case deleted:
			report.Deleted++
		default:
			report.Outcomes[outcome]++
		}
	}
	s.log.Info("catch-up finished", "streams", report.Streams, "deleted", report.Deleted, "errors", len(errs))
	return report, errors.Join(errs...)
}

func (s *Synchronizer) catchupOne(ctx context.Context, streamID string) (Outcome, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	root, err := s.loader.FindByIdentity(ctx, identity.Identifier{Name: s.schema.IdentifierName, Value: streamID})
	if err != nil {
		return 0, false, err
	}
	if root == nil {
		return OutcomeIgnoredMissing, false, nil
	}
	if root.Deleted() {
		return 0, true, nil
	}
	view, err := s.mapView(root)
	if err != nil {
		return 0, false, err
	}
	outcome, err := s.project(ctx, "catchup:"+streamID, s.created, view)
	if err == nil {
		eventsTotal.WithLabelValues("CATCHUP", outcome.String()).Inc()
	}
	return outcome, false, err
}
