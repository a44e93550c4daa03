package fingerprint

import (
	"encoding/hex"
	"testing"

	"github.com/jacentio/kvlens/key"
)

func TestOf_Deterministic(t *testing.T) {
	k := key.Key{key.String("users"), key.Number(42)}

	first := Of(k)
	second := Of(key.Key{key.String("users"), key.Number(42)})
	if first != second {
		t.Errorf("fingerprint not deterministic: %q vs %q", first, second)
	}
}

func TestOf_Format(t *testing.T) {
	fp := Of(key.Key{key.Bool(true)})

	// 128-bit hash = 16 bytes = 32 hex characters
	if len(fp) != 32 {
		t.Errorf("expected 32 character fingerprint, got %d: %q", len(fp), fp)
	}
	if _, err := hex.DecodeString(fp); err != nil {
		t.Errorf("fingerprint is not valid hex: %q", fp)
	}
}

func TestOf_DistinguishesTypes(t *testing.T) {
	// Same text, different part types
	keys := []key.Key{
		{key.String("1")},
		{key.Number(1)},
		{key.BigInt(nil)},
		{key.Bytes([]byte{1})},
		{key.String("a"), key.String("b")},
		{key.String("a,b")},
		{},
	}

	seen := make(map[string]string)
	for _, k := range keys {
		fp := Of(k)
		if prev, ok := seen[fp]; ok {
			t.Errorf("collision between %s and %s", prev, k)
		}
		seen[fp] = k.String()
	}
}

func TestSet_Resolve(t *testing.T) {
	a := key.Key{key.String("a")}
	b := key.Key{key.String("b")}
	s := NewSet([]key.Key{a, b})

	keys, missing := s.Resolve([]string{Of(b), Of(a)})
	if len(missing) != 0 {
		t.Fatalf("unexpected missing fingerprints: %v", missing)
	}
	if len(keys) != 2 || !keys[0].Equal(b) || !keys[1].Equal(a) {
		t.Errorf("keys not resolved in request order: %v", keys)
	}

	_, missing = s.Resolve([]string{Of(a), "deadbeef"})
	if len(missing) != 1 || missing[0] != "deadbeef" {
		t.Errorf("expected one missing fingerprint, got %v", missing)
	}
}
