package common

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// Sha256Hex returns the SHA-256 digest of the input encoded as lowercase hex.
func Sha256Hex(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// Digest hashes an ordered list of fields. Each field is length-prefixed, so
// ("a|b", "c") and ("a", "b|c") never share a digest whatever separators they contain.
func Digest(fields ...string) string {
	h := sha256.New()
	var n [binary.MaxVarintLen64]byte
	for _, f := range fields {
		_, _ = h.Write(n[:binary.PutUvarint(n[:], uint64(len(f)))])
		_, _ = h.Write([]byte(f))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Redact returns a short digest suitable for correlating a secret value in logs.
func Redact(value string) string {
	return Sha256Hex(value)[:16]
}
