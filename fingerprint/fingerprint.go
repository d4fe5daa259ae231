// Package fingerprint derives the deduplication key for a logical email.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Compute returns the hex-encoded sha256 over the pipe-joined normalized
// fields. Recipients must already be sorted so that the same recipient set
// always yields the same digest regardless of header order; Sorted enforces
// that for callers holding an unordered slice.
func Compute(sender string, sortedRecipients []string, subject, normalizedBody string) string {
	fields := make([]string, 0, len(sortedRecipients)+3)
	fields = append(fields, sender)
	fields = append(fields, sortedRecipients...)
	fields = append(fields, subject, normalizedBody)

	sum := sha256.Sum256([]byte(strings.Join(fields, "|")))
	return hex.EncodeToString(sum[:])
}

// Sorted returns a sorted copy of the recipient list without mutating the
// caller's slice.
func Sorted(recipients []string) []string {
	out := make([]string, len(recipients))
	copy(out, recipients)
	sort.Strings(out)
	return out
}
