package integrity

import (
	"slices"
	"testing"
)

func testRing(t *testing.T, keys map[string]string, active string) *Keyring {
	t.Helper()
	raw := make(map[string][]byte, len(keys))
	for id, secret := range keys {
		raw[id] = []byte(secret)
	}
	ring, err := NewKeyring(raw, active)
	if err != nil {
		t.Fatalf("new keyring: %v", err)
	}
	return ring
}

func TestNewKeyringValidation(t *testing.T) {
	cases := []struct {
		name   string
		keys   map[string][]byte
		active string
	}{
		{"no keys", nil, "v1"},
		{"no active id", map[string][]byte{"v1": []byte("secret")}, " "},
		{"unknown active id", map[string][]byte{"v1": []byte("secret")}, "v2"},
	}
	for _, tc := range cases {
		if _, err := NewKeyring(tc.keys, tc.active); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestKeyringSignatureIsBoundToStream(t *testing.T) {
	ring := testRing(t, map[string]string{"v1": "secret"}, "v1")

	sig, err := ring.Sign("t-1", "chainhash")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if sig.KeyID != "v1" || len(sig.Value) != 64 {
		t.Fatalf("unexpected signature %+v", sig)
	}
	if err := ring.Verify("t-1", "chainhash", sig); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := ring.Verify("t-2", "chainhash", sig); err == nil {
		t.Fatal("expected signature from another stream to fail")
	}
	again, _ := ring.Sign("t-1", "chainhash")
	if again != sig {
		t.Fatal("expected deterministic signatures")
	}
}

func TestKeyringVerifyFailures(t *testing.T) {
	ring := testRing(t, map[string]string{"v1": "secret"}, "v1")
	sig, _ := ring.Sign("t-1", "chainhash")

	bad := map[string]struct {
		stream string
		sig    Signature
	}{
		"missing key id":  {"t-1", Signature{Value: sig.Value}},
		"unknown key id":  {"t-1", Signature{KeyID: "unknown", Value: sig.Value}},
		"tampered value":  {"t-1", Signature{KeyID: "v1", Value: "bad"}},
		"missing stream":  {"", sig},
		"different chain": {"t-1", Signature{KeyID: "v1", Value: mustSign(t, ring, "t-1", "other")}},
	}
	for name, tc := range bad {
		if err := ring.Verify(tc.stream, "chainhash", tc.sig); err == nil {
			t.Fatalf("%s: expected verify error", name)
		}
	}
}

func mustSign(t *testing.T, ring *Keyring, stream, chain string) string {
	t.Helper()
	sig, err := ring.Sign(stream, chain)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return sig.Value
}

func TestKeyringRotationVerifiesOldSignatures(t *testing.T) {
	old := testRing(t, map[string]string{"v1": "one"}, "v1")
	sig, _ := old.Sign("t-1", "hash")

	rotated := testRing(t, map[string]string{"v1": "one", "v2": "two"}, "v2")
	if err := rotated.Verify("t-1", "hash", sig); err != nil {
		t.Fatalf("verify old signature: %v", err)
	}
	if got := mustSign(t, rotated, "t-1", "hash"); got == sig.Value {
		t.Fatal("expected new signatures under a different key")
	}
	if ids := rotated.KeyIDs(); !slices.Equal(ids, []string{"v1", "v2"}) {
		t.Fatalf("key ids = %v", ids)
	}
}

func TestNilKeyring(t *testing.T) {
	var ring *Keyring
	if ring.ActiveKeyID() != "" || ring.KeyIDs() != nil {
		t.Fatal("expected empty nil keyring")
	}
	if _, err := ring.Sign("t-1", "hash"); err == nil {
		t.Fatal("expected sign error for nil keyring")
	}
	if err := ring.Verify("t-1", "hash", Signature{KeyID: "v1"}); err == nil {
		t.Fatal("expected verify error for nil keyring")
	}
}
