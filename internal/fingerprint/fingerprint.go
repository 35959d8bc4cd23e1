// Package fingerprint hashes observed catalog state so that a later run can
// detect that the catalog changed in between.
package fingerprint

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
)

// minPrefix is the shortest hash prefix accepted by Compare.
const minPrefix = 8

// Fingerprint is the SHA256 of a JSON-encoded value.
type Fingerprint struct {
	Hash string `json:"hash"`
}

// Compute fingerprints v. v must encode deterministically; slices keep
// their order, maps are sorted by encoding/json.
func Compute(v any) (*Fingerprint, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to compute catalog fingerprint: %w", err)
	}
	return &Fingerprint{Hash: fmt.Sprintf("%x", sha256.Sum256(data))}, nil
}

// Short returns the first eight hex digits.
func (f *Fingerprint) Short() string {
	if len(f.Hash) >= minPrefix {
		return f.Hash[:minPrefix]
	}
	return f.Hash
}

func (f *Fingerprint) String() string {
	return "Catalog fingerprint: " + f.Short()
}
