package fingerprint

import (
	"fmt"
	"strings"
)

// Compare checks actual against an expected hash, which may be abbreviated
// to any prefix of at least eight digits.
func Compare(expected string, actual *Fingerprint) error {
	expected = strings.ToLower(strings.TrimSpace(expected))
	if len(expected) < minPrefix {
		return fmt.Errorf("expected fingerprint %q is too short: give at least %d hex digits", expected, minPrefix)
	}
	if strings.HasPrefix(actual.Hash, expected) {
		return nil
	}

	expectedPreview := expected
	if len(expectedPreview) > 16 {
		expectedPreview = expectedPreview[:16]
	}
	actualPreview := actual.Hash
	if len(actualPreview) > 16 {
		actualPreview = actualPreview[:16]
	}
	return fmt.Errorf("catalog fingerprint mismatch - expected: %s, actual: %s (the catalog changed since it was verified)",
		expectedPreview, actualPreview)
}
