package integrity

import (
	"fmt"
	"strings"

	"github.com/louisbranch/tenantledger/internal/platform/config"
)

const defaultKeyID = "v1"

// KeyringConfig is the environment form of a keyring. Keys holds
// comma-separated "id=secret" pairs and wins over the single Key.
type KeyringConfig struct {
	Keys  string `env:"TENANCY_EVENT_HMAC_KEYS"`
	Key   string `env:"TENANCY_EVENT_HMAC_KEY"`
	KeyID string `env:"TENANCY_EVENT_HMAC_KEY_ID"`
}

// KeyringFromEnv builds a keyring from the TENANCY_EVENT_HMAC_* variables.
func KeyringFromEnv() (*Keyring, error) {
	var cfg KeyringConfig
	if err := config.ParseEnv(&cfg); err != nil {
		return nil, err
	}
	return cfg.Keyring()
}

// Keyring builds the keyring described by c. The active key id defaults
// to "v1".
func (c KeyringConfig) Keyring() (*Keyring, error) {
	active := strings.TrimSpace(c.KeyID)
	if active == "" {
		active = defaultKeyID
	}
	if strings.TrimSpace(c.Keys) != "" {
		keys, err := ParseKeySpec(c.Keys)
		if err != nil {
			return nil, fmt.Errorf("TENANCY_EVENT_HMAC_KEYS: %w", err)
		}
		return NewKeyring(keys, active)
	}
	secret := strings.TrimSpace(c.Key)
	if secret == "" {
		return nil, fmt.Errorf("TENANCY_EVENT_HMAC_KEY is required")
	}
	return NewKeyring(map[string][]byte{active: []byte(secret)}, active)
}

// ParseKeySpec parses comma-separated "id=secret" pairs, skipping blanks.
func ParseKeySpec(pairs string) (map[string][]byte, error) {
	keys := make(map[string][]byte)
	for i, entry := range strings.Split(pairs, ",") {
		if strings.TrimSpace(entry) == "" {
			continue
		}
		keyID, secret, ok := strings.Cut(entry, "=")
		keyID, secret = strings.TrimSpace(keyID), strings.TrimSpace(secret)
		if !ok || keyID == "" || secret == "" {
			return nil, fmt.Errorf("entry %d: want id=secret", i+1)
		}
		if _, dup := keys[keyID]; dup {
			return nil, fmt.Errorf("entry %d: duplicate key id %q", i+1, keyID)
		}
		keys[keyID] = []byte(secret)
	}
	return keys, nil
}
