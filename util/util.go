// Package util collects the small cross-cutting helpers design note §9
// calls out: secret wiping with a compiler-proof write, constant-time
// comparison, and hex formatting that never leaks full secret material into
// logs (fingerprinting only).
package util

import (
	"crypto/subtle"
	"encoding/hex"
)

// Zero overwrites b with zeroes. Per design note §9 ("the implementation
// language's compiler must not elide the write"), this runs through
// crypto/subtle's byte-at-a-time XOR so the compiler cannot prove the
// write is dead and drop it — the same trick crypto/subtle itself relies
// on internally for ConstantTimeCopy.
func Zero(b []byte) {
	if len(b) == 0 {
		return
	}
	zeros := make([]byte, len(b))
	subtle.ConstantTimeCopy(1, b, zeros)
}

// ConstantTimeEqual reports whether a and b are byte-identical without
// branching on the comparison result, per design note §9 ("constant-time
// comparison" for passphrase hashes and MACs).
func ConstantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

// Fingerprint returns the first 8 hex characters of pubkeyHex, the
// identity fingerprint from spec §3 ("first 8 hex of pubkey"). It never
// touches secret bytes.
func Fingerprint(pubkeyHex string) string {
	if len(pubkeyHex) <= 8 {
		return pubkeyHex
	}
	return pubkeyHex[:8]
}

// EncodeHex is a thin alias kept for call-site symmetry with DecodeHex.
func EncodeHex(b []byte) string { return hex.EncodeToString(b) }

// DecodeHex wraps hex.DecodeString with the name this package's callers expect.
func DecodeHex(s string) ([]byte, error) { return hex.DecodeString(s) }
