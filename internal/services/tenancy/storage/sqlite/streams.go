package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/tenantledger/internal/services/tenancy/domain/event"
	"github.com/louisbranch/tenantledger/internal/services/tenancy/domain/identity"
	"github.com/louisbranch/tenantledger/internal/services/tenancy/storage"
	"github.com/louisbranch/tenantledger/internal/services/tenancy/storage/integrity"
)

const eventColumns = `stream_id, seq, event_id, kind, aggregate_type, origin_name,
    predecessor_json, source_ids_json, changes_json, causation_id, occurred_at,
    event_hash, prev_hash, chain_hash, signature_key_id, signature`

// AppendToStream implements storage.StreamStore. The version check, sealing,
// and inserts share one immediate transaction.
func (s *Store) AppendToStream(ctx context.Context, streamID string, expectedVersion uint64, events []event.Event) ([]event.Event, error) {
	streamID = strings.TrimSpace(streamID)
	if err := storage.CheckAppend(streamID, events); err != nil {
		return nil, err
	}
	if err := s.ready(ctx, "append stream"); err != nil {
		return nil, err
	}

	pending := event.CloneAll(events)
	for i := range pending {
		pending[i].OccurredAt = event.Timestamp(pending[i].OccurredAt)
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify("begin append", err)
	}
	defer tx.Rollback()

	var version uint64
	err = tx.QueryRowContext(ctx, `SELECT version FROM streams WHERE stream_id = ?`, streamID).Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		version = 0
	case err != nil:
		return nil, classify("read stream version", err)
	}
	if version != expectedVersion {
		return nil, storage.VersionConflict(streamID, expectedVersion, version)
	}

	prevChain := ""
	if version > 0 {
		if err := tx.QueryRowContext(ctx,
			`SELECT chain_hash FROM events WHERE stream_id = ? AND seq = ?`, streamID, version,
		).Scan(&prevChain); err != nil {
			return nil, classify("load previous event", err)
		}
	}

	sealed, err := integrity.Seal(s.keyring, streamID, version, prevChain, pending)
	if err != nil {
		return nil, err
	}

	now := toMillis(time.Now())
	if version == 0 {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO streams (stream_id, version, created_at, updated_at) VALUES (?, ?, ?, ?)`,
			streamID, len(sealed), now, now)
	} else {
		_, err = tx.ExecContext(ctx,
			`UPDATE streams SET version = ?, updated_at = ? WHERE stream_id = ?`,
			version+uint64(len(sealed)), now, streamID)
	}
	if err != nil {
		if isConstraintError(err) {
			return nil, storage.VersionConflict(streamID, expectedVersion, version+1)
		}
		return nil, classify("update stream", err)
	}

	for _, evt := range sealed {
		if err := insertEvent(ctx, tx, evt); err != nil {
			if isConstraintError(err) {
				return nil, storage.VersionConflict(streamID, expectedVersion, evt.Seq)
			}
			return nil, classify("append event", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, classify("commit append", err)
	}
	return sealed, nil
}

func insertEvent(ctx context.Context, tx *sql.Tx, evt event.Event) error {
	predecessor, err := json.Marshal(evt.PredecessorID)
	if err != nil {
		return fmt.Errorf("encode predecessor: %w", err)
	}
	sources, err := json.Marshal(evt.SourceIDs)
	if err != nil {
		return fmt.Errorf("encode source ids: %w", err)
	}
	changes, err := json.Marshal(evt.Changes)
	if err != nil {
		return fmt.Errorf("encode changes: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events (`+eventColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		evt.StreamID(), evt.Seq, evt.ID, evt.Kind.String(), evt.AggregateType, evt.OriginID.Name,
		string(predecessor), string(sources), string(changes), evt.CausationID, toMillis(evt.OccurredAt),
		evt.Hash, evt.PrevHash, evt.ChainHash, evt.SignatureKeyID, evt.Signature,
	)
	return err
}

// LoadStream implements storage.StreamStore.
func (s *Store) LoadStream(ctx context.Context, streamID string) ([]event.Event, error) {
	return s.LoadStreamAfterVersion(ctx, streamID, 0)
}

// LoadStreamAfterVersion implements storage.StreamStore.
func (s *Store) LoadStreamAfterVersion(ctx context.Context, streamID string, version uint64) ([]event.Event, error) {
	if err := s.ready(ctx, "load stream"); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE stream_id = ? AND seq > ? ORDER BY seq`,
		strings.TrimSpace(streamID), version)
	if err != nil {
		return nil, classify("load stream", err)
	}
	defer rows.Close()

	events := []event.Event{}
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("load stream", err)
	}
	return events, nil
}

func scanEvent(rows *sql.Rows) (event.Event, error) {
	var (
		evt                          event.Event
		kind                         string
		predecessor, sources, change string
		occurredAt                   int64
	)
	if err := rows.Scan(
		&evt.OriginID.Value, &evt.Seq, &evt.ID, &kind, &evt.AggregateType, &evt.OriginID.Name,
		&predecessor, &sources, &change, &evt.CausationID, &occurredAt,
		&evt.Hash, &evt.PrevHash, &evt.ChainHash, &evt.SignatureKeyID, &evt.Signature,
	); err != nil {
		return event.Event{}, fmt.Errorf("scan event: %w", err)
	}
	parsed, err := event.ParseKind(kind)
	if err != nil {
		return event.Event{}, fmt.Errorf("event %s: %w", evt.ID, err)
	}
	evt.Kind = parsed
	evt.OccurredAt = fromMillis(occurredAt)

	var predecessorID identity.IdentifierSet
	if err := json.Unmarshal([]byte(predecessor), &predecessorID); err != nil {
		return event.Event{}, fmt.Errorf("decode predecessor of %s: %w", evt.ID, err)
	}
	evt.PredecessorID = predecessorID
	if err := json.Unmarshal([]byte(sources), &evt.SourceIDs); err != nil {
		return event.Event{}, fmt.Errorf("decode source ids of %s: %w", evt.ID, err)
	}
	if err := json.Unmarshal([]byte(change), &evt.Changes); err != nil {
		return event.Event{}, fmt.Errorf("decode changes of %s: %w", evt.ID, err)
	}
	return evt, nil
}

// ListStreamIDs implements storage.StreamStore.
func (s *Store) ListStreamIDs(ctx context.Context) ([]string, error) {
	if err := s.ready(ctx, "list streams"); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT stream_id FROM streams ORDER BY id`)
	if err != nil {
		return nil, classify("list streams", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan stream id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list streams", err)
	}
	return ids, nil
}

// VerifyStream reloads a stream and rechecks its hash chain and signatures.
func (s *Store) VerifyStream(ctx context.Context, streamID string) error {
	events, err := s.LoadStream(ctx, streamID)
	if err != nil {
		return err
	}
	return integrity.Verify(s.keyring, streamID, events)
}
