package integrity

import "testing"

func TestKeyringFromEnvRequiresKey(t *testing.T) {
	t.Setenv("TENANCY_EVENT_HMAC_KEY", "")
	t.Setenv("TENANCY_EVENT_HMAC_KEYS", "")
	t.Setenv("TENANCY_EVENT_HMAC_KEY_ID", "")

	if _, err := KeyringFromEnv(); err == nil {
		t.Fatal("expected error when no key is configured")
	}
}

func TestKeyringFromEnvSingleKeyDefaultsToV1(t *testing.T) {
	t.Setenv("TENANCY_EVENT_HMAC_KEY", "secret")
	t.Setenv("TENANCY_EVENT_HMAC_KEYS", "   ")
	t.Setenv("TENANCY_EVENT_HMAC_KEY_ID", "   ")

	ring, err := KeyringFromEnv()
	if err != nil {
		t.Fatalf("keyring from env: %v", err)
	}
	if ring.ActiveKeyID() != "v1" {
		t.Fatalf("expected default key id v1, got %s", ring.ActiveKeyID())
	}
}

func TestKeyringConfigKeysWinOverSingleKey(t *testing.T) {
	ring, err := KeyringConfig{Keys: "k1=one, ,k2=two", Key: "ignored", KeyID: "k2"}.Keyring()
	if err != nil {
		t.Fatalf("keyring: %v", err)
	}
	if ring.ActiveKeyID() != "k2" || len(ring.KeyIDs()) != 2 {
		t.Fatalf("unexpected keyring active=%s ids=%v", ring.ActiveKeyID(), ring.KeyIDs())
	}
	if _, err := (KeyringConfig{Keys: "k1=one"}).Keyring(); err == nil {
		t.Fatal("expected error when default v1 is not among the keys")
	}
}

func TestParseKeySpecRejectsBadEntries(t *testing.T) {
	for _, pairs := range []string{"bad-entry", "k1=one,k2=", "=secret", "k1=one,k1=two"} {
		if _, err := ParseKeySpec(pairs); err == nil {
			t.Fatalf("expected error for %q", pairs)
		}
	}
}
