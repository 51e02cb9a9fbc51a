package memory

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/louisbranch/tenantledger/internal/services/tenancy/domain/event"
	"github.com/louisbranch/tenantledger/internal/services/tenancy/storage"
	"github.com/louisbranch/tenantledger/internal/services/tenancy/storage/integrity"
)

// Streams stores event streams in memory.
type Streams struct {
	mu      sync.RWMutex
	keyring *integrity.Keyring
	streams map[string][]event.Event
	order   []string
}

// NewStreams creates an empty stream store. keyring may be nil, in which
// case events are hash-chained but unsigned.
func NewStreams(keyring *integrity.Keyring) *Streams {
	return &Streams{
		keyring: keyring,
		streams: make(map[string][]event.Event),
	}
}

func checkContext(ctx context.Context, operation string) error {
	if ctx == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return storage.Unavailable(operation, err)
	}
	return nil
}

// AppendToStream implements storage.StreamStore.
func (s *Streams) AppendToStream(ctx context.Context, streamID string, expectedVersion uint64, events []event.Event) ([]event.Event, error) {
	if s == nil {
		return nil, errors.New("stream store is required")
	}
	streamID = strings.TrimSpace(streamID)
	if err := storage.CheckAppend(streamID, events); err != nil {
		return nil, err
	}
	if err := checkContext(ctx, "append stream"); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.streams[streamID]
	version := uint64(len(current))
	if version != expectedVersion {
		return nil, storage.VersionConflict(streamID, expectedVersion, version)
	}
	prevChain := ""
	if version > 0 {
		prevChain = current[version-1].ChainHash
	}
	sealed, err := integrity.Seal(s.keyring, streamID, version, prevChain, events)
	if err != nil {
		return nil, err
	}
	if version == 0 {
		s.order = append(s.order, streamID)
	}
	s.streams[streamID] = append(current, sealed...)
	return event.CloneAll(sealed), nil
}

// LoadStream implements storage.StreamStore.
func (s *Streams) LoadStream(ctx context.Context, streamID string) ([]event.Event, error) {
	return s.LoadStreamAfterVersion(ctx, streamID, 0)
}

// LoadStreamAfterVersion implements storage.StreamStore.
func (s *Streams) LoadStreamAfterVersion(ctx context.Context, streamID string, version uint64) ([]event.Event, error) {
	if s == nil {
		return nil, errors.New("stream store is required")
	}
	if err := checkContext(ctx, "load stream"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	current := s.streams[strings.TrimSpace(streamID)]
	if version >= uint64(len(current)) {
		return []event.Event{}, nil
	}
	return event.CloneAll(current[version:]), nil
}

// ListStreamIDs implements storage.StreamStore.
func (s *Streams) ListStreamIDs(ctx context.Context) ([]string, error) {
	if s == nil {
		return nil, errors.New("stream store is required")
	}
	if err := checkContext(ctx, "list streams"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...), nil
}

// VerifyStream rechecks the hash chain of one stream.
func (s *Streams) VerifyStream(ctx context.Context, streamID string) error {
	events, err := s.LoadStream(ctx, streamID)
	if err != nil {
		return err
	}
	return integrity.Verify(s.keyring, streamID, events)
}
