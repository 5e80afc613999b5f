// Package hashutil provides the content hashes the watchers use for change
// detection. SHA-256 is used for its mixing, not for security; collisions
// only cost a spurious or missed update event.
package hashutil

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Hash returns the hex SHA-256 digest of s.
func Hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashParts digests an ordered sequence of parts. Each part is framed as
// "<len>:<part>\x00" before hashing so that part boundaries contribute to
// the digest: ["ab","c"] and ["a","bc"] hash differently.
func HashParts(parts []string) string {
	h := sha256.New()
	for _, p := range parts {
		fmt.Fprintf(h, "%d:", len(p))
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
