// Package checksum computes content hashes used to detect snapshot corruption.
// The digests are not authenticated and do not protect against tampering.
package checksum

import (
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// Size is the length in hex characters of every digest.
const Size = 64

// Sum returns the BLAKE3 digest of payload as lowercase hex.
func Sum(payload []byte) string {
	sum := blake3.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// String is Sum for string payloads.
func String(payload string) string {
	return Sum([]byte(payload))
}

// Verify recomputes the digest of payload and compares it with digest.
func Verify(payload []byte, digest string) bool {
	if len(digest) != Size {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(Sum(payload)), []byte(digest)) == 1
}

// File computes the BLAKE3 digest of a file.
func File(filename string) (string, error) {
	f, err := os.Open(filename)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hasher := blake3.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", filename, err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}
