// Package fingerprint computes deterministic key fingerprints. Clients echo
// fingerprints back when selecting items so destructive bulk actions can
// verify the selection still matches cached state.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/jacentio/kvlens/key"
)

// Of returns the fingerprint of k: a 128-bit hash of its canonical literal, as hex.
func Of(k key.Key) string {
	h := sha256.Sum256([]byte(k.String()))
	return hex.EncodeToString(h[:16])
}

// Set indexes fingerprints of keys for membership checks.
type Set map[string]key.Key

// NewSet fingerprints every key.
func NewSet(keys []key.Key) Set {
	s := make(Set, len(keys))
	for _, k := range keys {
		s[Of(k)] = k
	}
	return s
}

// Resolve returns the keys for fps in order, plus the fingerprints that did
// not match any key in the set.
func (s Set) Resolve(fps []string) (keys []key.Key, missing []string) {
	for _, fp := range fps {
		k, ok := s[fp]
		if !ok {
			missing = append(missing, fp)
			continue
		}
		keys = append(keys, k)
	}
	return keys, missing
}
