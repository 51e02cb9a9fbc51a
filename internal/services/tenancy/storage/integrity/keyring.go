package integrity

import (
	"crypto/hkdf"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
)

var (
	errNoKeyring         = errors.New("hmac keyring is not configured")
	errSignatureMismatch = errors.New("signature mismatch")
)

// Signature is an HMAC over a chain hash together with the id of the root
// key it was derived from.
type Signature struct {
	KeyID string
	Value string
}

// Keyring holds root HMAC keys by id. New signatures use the active key;
// every configured key still verifies, so rotation keeps old streams valid.
// Signing keys are derived per stream with HKDF, so a key recovered from one
// stream does not sign another.
type Keyring struct {
	roots    map[string][]byte
	activeID string
	derived  sync.Map // keyID + "\x00" + streamID -> []byte
}

// NewKeyring copies keys and selects activeKeyID for signing.
func NewKeyring(keys map[string][]byte, activeKeyID string) (*Keyring, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("hmac keys are required")
	}
	activeKeyID = strings.TrimSpace(activeKeyID)
	switch {
	case activeKeyID == "":
		return nil, fmt.Errorf("active hmac key id is required")
	case keys[activeKeyID] == nil:
		return nil, fmt.Errorf("active hmac key id %q is not configured", activeKeyID)
	}
	return &Keyring{roots: maps.Clone(keys), activeID: activeKeyID}, nil
}

// ActiveKeyID returns the id used for new signatures, or "" on a nil keyring.
func (k *Keyring) ActiveKeyID() string {
	if k == nil {
		return ""
	}
	return k.activeID
}

// KeyIDs lists the configured key ids in order.
func (k *Keyring) KeyIDs() []string {
	if k == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(k.roots))
}

// Sign signs chainHash for streamID with the active key.
func (k *Keyring) Sign(streamID, chainHash string) (Signature, error) {
	if k == nil {
		return Signature{}, errNoKeyring
	}
	mac, err := k.mac(k.activeID, streamID, chainHash)
	if err != nil {
		return Signature{}, err
	}
	return Signature{KeyID: k.activeID, Value: mac}, nil
}

// Verify checks sig against chainHash for streamID.
func (k *Keyring) Verify(streamID, chainHash string, sig Signature) error {
	if k == nil {
		return errNoKeyring
	}
	keyID := strings.TrimSpace(sig.KeyID)
	if keyID == "" {
		return fmt.Errorf("signature key id is required")
	}
	want, err := k.mac(keyID, streamID, chainHash)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(want), []byte(sig.Value)) {
		return errSignatureMismatch
	}
	return nil
}

func (k *Keyring) mac(keyID, streamID, value string) (string, error) {
	key, err := k.streamKey(keyID, streamID)
	if err != nil {
		return "", err
	}
	h := hmac.New(sha256.New, key)
	h.Write([]byte(value))
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (k *Keyring) streamKey(keyID, streamID string) ([]byte, error) {
	root, ok := k.roots[keyID]
	if !ok {
		return nil, fmt.Errorf("hmac key id %q is unknown", keyID)
	}
	streamID = strings.TrimSpace(streamID)
	if streamID == "" {
		return nil, fmt.Errorf("stream id is required")
	}
	cacheKey := keyID + "\x00" + streamID
	if cached, ok := k.derived.Load(cacheKey); ok {
		return cached.([]byte), nil
	}
	key, err := hkdf.Key(sha256.New, root, nil, "stream:"+streamID, sha256.Size)
	if err != nil {
		return nil, fmt.Errorf("derive stream key: %w", err)
	}
	k.derived.Store(cacheKey, key)
	return key, nil
}
