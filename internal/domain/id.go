package domain

import "strings"

// Addresses and hashes arrive in mixed case from different feeds,
// canonical form is lowercase.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

func NormalizeTxHash(hash string) string {
	return strings.ToLower(strings.TrimSpace(hash))
}
