package integrity

import (
	"fmt"

	apperrors "github.com/louisbranch/tenantledger/internal/platform/errors"
	"github.com/louisbranch/tenantledger/internal/services/tenancy/domain/event"
)

// ErrIntegrity reports a stream whose hashes or signatures do not verify.
var ErrIntegrity = apperrors.New(apperrors.CodeIntegrityFailed, "event integrity check failed")

// Seal assigns sequence numbers from afterSeq+1 and fills the hash, chain,
// and signature fields of events, which must all belong to streamID.
// prevChainHash is the chain hash of the event at afterSeq ("" when the
// stream is new). A nil keyring leaves events unsigned.
func Seal(ring *Keyring, streamID string, afterSeq uint64, prevChainHash string, events []event.Event) ([]event.Event, error) {
	out := event.CloneAll(events)
	prev := prevChainHash
	for i := range out {
		evt := &out[i]
		evt.Seq = afterSeq + uint64(i) + 1
		evt.PrevHash = prev

		hash, err := event.EventHash(*evt)
		if err != nil {
			return nil, fmt.Errorf("hash event %s: %w", evt.ID, err)
		}
		evt.Hash = hash

		chain, err := event.ChainHash(*evt, prev)
		if err != nil {
			return nil, fmt.Errorf("chain event %s: %w", evt.ID, err)
		}
		evt.ChainHash = chain

		if ring != nil {
			sig, err := ring.Sign(streamID, chain)
			if err != nil {
				return nil, fmt.Errorf("sign event %s: %w", evt.ID, err)
			}
			evt.Signature = sig.Value
			evt.SignatureKeyID = sig.KeyID
		}
		prev = chain
	}
	return out, nil
}

// Verify rechecks a full stream from its first event. A nil keyring skips
// signature checks.
func Verify(ring *Keyring, streamID string, events []event.Event) error {
	prev := ""
	for i, evt := range events {
		meta := map[string]string{"stream_id": streamID, "event_id": evt.ID, "seq": fmt.Sprint(evt.Seq)}
		if evt.Seq != uint64(i)+1 {
			return apperrors.WithMetadata(apperrors.CodeIntegrityFailed, "sequence is not contiguous", meta)
		}
		if evt.PrevHash != prev {
			return apperrors.WithMetadata(apperrors.CodeIntegrityFailed, "previous hash does not link", meta)
		}
		hash, err := event.EventHash(evt)
		if err != nil {
			return apperrors.WrapWithMetadata(apperrors.CodeIntegrityFailed, "hash event", meta, err)
		}
		if hash != evt.Hash {
			return apperrors.WithMetadata(apperrors.CodeIntegrityFailed, "content hash mismatch", meta)
		}
		chain, err := event.ChainHash(evt, prev)
		if err != nil {
			return apperrors.WrapWithMetadata(apperrors.CodeIntegrityFailed, "chain event", meta, err)
		}
		if chain != evt.ChainHash {
			return apperrors.WithMetadata(apperrors.CodeIntegrityFailed, "chain hash mismatch", meta)
		}
		if ring != nil {
			if err := ring.Verify(streamID, chain, Signature{KeyID: evt.SignatureKeyID, Value: evt.Signature}); err != nil {
				return apperrors.WrapWithMetadata(apperrors.CodeIntegrityFailed, "signature", meta, err)
			}
		}
		prev = chain
	}
	return nil
}
